package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Render writes the end-of-test summary. Color is used only when w is a
// terminal.
func Render(w io.Writer, r Report) error {
	st := NewStyles(lipgloss.NewRenderer(w))
	m := r.Metrics

	var b strings.Builder
	section := func(title string) {
		b.WriteString("\n" + st.Title.Render(title) + "\n")
	}
	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", st.Label.Render(fmt.Sprintf("%-20s:", label)), value)
	}

	section("📊 RESULTS")
	row("Run ID", st.Subtle.Render(r.ID))
	if r.Target != "" {
		row("Target", r.Target)
	}
	row("Duration", r.Duration.Round(time.Millisecond).String())
	row("VUs max", st.Value.Render(fmt.Sprint(m.VUsMax)))
	row("iterations", fmt.Sprintf("%d  %.2f/s", m.Iterations.Count, m.Iterations.Rate))
	row("http_reqs", fmt.Sprintf("%d  %.2f/s", m.HTTPReqs.Count, m.HTTPReqs.Rate))
	failed := fmt.Sprintf("%.2f%%  %d of %d", m.HTTPReqFailed.Rate*100, m.HTTPReqFailed.Passes, m.HTTPReqs.Count)
	if m.HTTPReqFailed.Passes > 0 {
		failed = st.Error.Render(failed)
	}
	row("http_req_failed", failed)
	row("data_received", fmt.Sprintf("%s  %s/s", bytesHuman(float64(m.DataReceived.Count)), bytesHuman(m.DataReceived.Rate)))

	section("⏱️  http_req_duration (ms)")
	d := m.HTTPReqDuration
	row("avg / min / med", fmt.Sprintf("%.2f / %.2f / %.2f", d.Avg, d.Min, d.Med))
	row("p90 / p95 / p99", fmt.Sprintf("%.2f / %.2f / %.2f", d.P90, d.P95, d.P99))
	row("max", fmt.Sprintf("%.2f", d.Max))

	if len(r.Checks) > 0 {
		section("✔ CHECKS")
		for _, c := range r.Checks {
			mark := st.Success.Render("✓")
			if c.Fails > 0 {
				mark = st.Error.Render("✗")
			}
			fmt.Fprintf(&b, "  %s %s %s\n", mark, c.Name,
				st.Subtle.Render(fmt.Sprintf("(%d passed, %d failed)", c.Passes, c.Fails)))
		}
		row("checks", fmt.Sprintf("%.2f%%  %d of %d", m.Checks.Rate*100, m.Checks.Passes, m.Checks.Passes+m.Checks.Fails))
	}

	if len(r.Thresholds) > 0 {
		section("🚦 THRESHOLDS")
		for _, o := range r.Thresholds {
			mark := st.Success.Render("✓")
			if !o.Passed {
				mark = st.Error.Render("✗")
			}
			fmt.Fprintf(&b, "  %s %s %s %s\n", mark, o.Metric, o.Expr,
				st.Subtle.Render(fmt.Sprintf("actual=%.4g", o.Actual)))
		}
	}

	b.WriteString("\n")
	if r.Interrupted {
		b.WriteString(st.Warn.Render("run was interrupted, results cover the part that ran") + "\n")
	}
	if r.Passed {
		b.WriteString(st.Success.Render("PASSED") + "\n")
	} else {
		b.WriteString(st.Error.Render(fmt.Sprintf("FAILED: %d threshold(s) crossed", len(r.FailedThresholds()))) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func bytesHuman(n float64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%.0f B", n)
	}
	div, exp := float64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", n/div, "KMGTPE"[exp])
}
