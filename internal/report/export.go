package report

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"vugate/internal/threshold"
)

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ExportJSON writes r to filename.
func ExportJSON(r Report, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "create report file")
	}
	defer f.Close()
	return WriteJSON(f, r)
}

// k6's --summary-export layout: one object per metric, threshold expressions
// mapped to true when the threshold was crossed, checks under root_group.
type summaryExport struct {
	Metrics   map[string]map[string]any `json:"metrics"`
	RootGroup summaryGroup              `json:"root_group"`
}

type summaryGroup struct {
	Name   string                  `json:"name"`
	Path   string                  `json:"path"`
	ID     string                  `json:"id"`
	Groups map[string]any          `json:"groups"`
	Checks map[string]summaryCheck `json:"checks"`
}

type summaryCheck struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	ID     string `json:"id"`
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

// ExportSummary writes r in the k6 summary-export format.
func ExportSummary(r Report, filename string) error {
	data, err := json.MarshalIndent(toSummary(r), "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode summary")
	}
	return errors.Wrap(os.WriteFile(filename, data, 0644), "write summary")
}

func toSummary(r Report) summaryExport {
	m := r.Metrics
	metrics := map[string]map[string]any{
		threshold.MetricHTTPReqs: {"count": m.HTTPReqs.Count, "rate": m.HTTPReqs.Rate},
		threshold.MetricHTTPReqFailed: {
			"passes": m.HTTPReqFailed.Passes,
			"fails":  m.HTTPReqFailed.Fails,
			"value":  m.HTTPReqFailed.Rate,
		},
		threshold.MetricHTTPReqDuration: {
			"avg":   m.HTTPReqDuration.Avg,
			"min":   m.HTTPReqDuration.Min,
			"med":   m.HTTPReqDuration.Med,
			"max":   m.HTTPReqDuration.Max,
			"p(90)": m.HTTPReqDuration.P90,
			"p(95)": m.HTTPReqDuration.P95,
			"p(99)": m.HTTPReqDuration.P99,
		},
		threshold.MetricIterations:   {"count": m.Iterations.Count, "rate": m.Iterations.Rate},
		threshold.MetricDataReceived: {"count": m.DataReceived.Count, "rate": m.DataReceived.Rate},
		threshold.MetricChecks: {
			"passes": m.Checks.Passes,
			"fails":  m.Checks.Fails,
			"value":  m.Checks.Rate,
		},
		threshold.MetricVUsMax: {"value": m.VUsMax, "min": m.VUsMax, "max": m.VUsMax},
	}
	for _, o := range r.Thresholds {
		entry, ok := metrics[o.Metric]
		if !ok {
			continue
		}
		ths, _ := entry["thresholds"].(map[string]bool)
		if ths == nil {
			ths = map[string]bool{}
			entry["thresholds"] = ths
		}
		ths[o.Expr] = !o.Passed
	}

	root := summaryGroup{Groups: map[string]any{}, Checks: map[string]summaryCheck{}}
	for _, c := range r.Checks {
		root.Checks[c.Name] = summaryCheck{
			Name:   c.Name,
			Path:   "::" + c.Name,
			Passes: c.Passes,
			Fails:  c.Fails,
		}
	}
	return summaryExport{Metrics: metrics, RootGroup: root}
}
