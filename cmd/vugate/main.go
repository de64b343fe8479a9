package main

import (
	"os"

	"vugate/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
