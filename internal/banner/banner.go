package banner

import (
	"github.com/charmbracelet/lipgloss"

	"vugate/internal/report"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(report.ColorPrimary).
		Bold(true)

	ascii := `
                            __
 _   ____  ______ _____ _/ /____
| | / / / / / __ '/ __ '/ __/ _ \
| |/ / /_/ / /_/ / /_/ / /_/  __/
|___/\__,_/\__, /\__,_/\__/\___/
          /____/                 `

	return "\n" + style.Render(ascii) + "\n"
}
