// Command loadtester drives vugate from Go code instead of an options file:
// each iteration POSTs a search query and checks that the async API handed
// back a query_id.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"vugate/internal/report"
	"vugate/internal/runner"
	"vugate/internal/scheduler"
	"vugate/internal/threshold"
)

var sampleQueries = []string{
	"suggest best power point courses",
	"intro to statistics",
	"how to write a cover letter",
}

// Request Payload Structure
type asyncRequestPayload struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

// Response Structure for Validation
type asyncResponsePayload struct {
	QueryID string `json:"query_id"`
}

func hasQueryID(res runner.RequestResult) bool {
	var body asyncResponsePayload
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return false
	}
	return body.QueryID != ""
}

func main() {
	baseURL := flag.String("url", "", "Base URL of the search API")
	target := flag.Int("vus", 50, "VUs to ramp to")
	rampUp := flag.Duration("ramp-up", 30*time.Second, "ramp-up duration")
	steady := flag.Duration("steady", time.Minute, "time held at the target")
	out := flag.String("out", "", "write the JSON report to this file")
	flag.Parse()

	if *baseURL == "" {
		fmt.Println("❌ --url required")
		os.Exit(report.ExitError)
	}
	// Clean URL ensures no double slashes
	url := strings.TrimRight(*baseURL, "/") + "/api/v1/embedding/search-async"

	work := func(vu *runner.VU) {
		payload, _ := json.Marshal(asyncRequestPayload{
			Query:  sampleQueries[rand.Intn(len(sampleQueries))],
			UserID: fmt.Sprintf("vu-%d", vu.ID),
			ChatID: fmt.Sprintf("vu-%d-%d", vu.ID, vu.Iteration),
		})
		res := vu.Request(runner.Request{
			Method:  http.MethodPost,
			URL:     url,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    string(payload),
		})
		vu.Check("is status 200", func(r runner.RequestResult) bool { return r.Status == http.StatusOK }, res)
		vu.Check("has query_id", hasQueryID, res)
	}

	cfg := runner.Config{
		Stages: []scheduler.Stage{
			{Duration: *rampUp, Target: *target},
			{Duration: *steady, Target: *target},
		},
		Pause: time.Second,
	}
	log := logrus.NewEntry(logrus.StandardLogger())
	r, err := runner.NewRunner(cfg, work, nil, runner.WithLogger(log))
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(report.ExitError)
	}

	gates, err := threshold.ParseAll(map[string][]string{
		threshold.MetricHTTPReqFailed:   {"rate<0.01"},
		threshold.MetricHTTPReqDuration: {"p(95)<1000"},
		threshold.MetricChecks:          {"rate>0.99"},
	})
	if err != nil {
		log.WithError(err).Error("invalid thresholds")
		os.Exit(report.ExitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := r.Run(ctx)
	if err != nil {
		log.WithError(err).Error("run failed")
		os.Exit(report.ExitError)
	}

	rep := report.Build(res, gates)
	rep.Target = url
	report.Render(os.Stdout, rep)
	if *out != "" {
		if err := report.ExportJSON(rep, *out); err != nil {
			log.WithError(err).Error("could not write report")
		}
	}
	os.Exit(rep.ExitCode())
}
