package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wesleyorama2/cadence/internal/driver"
	"github.com/wesleyorama2/cadence/internal/metrics"
)

const ruleWidth = 56

// summaryWriter remembers the first write error so rendering code can stay
// linear.
type summaryWriter struct {
	w   io.Writer
	err error
}

func (s *summaryWriter) printf(format string, args ...any) {
	if s.err != nil {
		return
	}
	_, s.err = fmt.Fprintf(s.w, format, args...)
}

// PrintSummary writes the human-readable run report.
func PrintSummary(w io.Writer, res *driver.Result, c *ColorScheme) error {
	out := &summaryWriter{w: w}
	sum := res.Summary()
	rule := c.Rule.Sprint(strings.Repeat("━", ruleWidth))

	status := "Completed"
	if res.Aborted() > 0 {
		status = "Completed with aborted agents"
	}
	out.printf("\n%s\n%s\n%s\n\n", rule, c.Title.Sprintf("%s - %s", res.Name, status), rule)

	out.printf("%s %s agents over %s steady state\n",
		c.Label.Sprint("Run:       "),
		c.Value.Sprint(res.Agents()),
		c.Value.Sprint(formatDuration(sum.Window)))
	out.printf("%s %s (%s ok, %s failed)\n",
		c.Label.Sprint("Operations:"),
		c.Value.Sprint(formatNumber(sum.Operations)),
		c.Good.Sprint(formatNumber(sum.Successes)),
		c.rate(sum.ErrorRate).Sprint(formatNumber(sum.Failures)))
	out.printf("%s %s ops/s\n",
		c.Label.Sprint("Throughput:"),
		c.Value.Sprintf("%.2f", sum.Throughput))
	out.printf("%s %s\n",
		c.Label.Sprint("Error rate:"),
		c.rate(sum.ErrorRate).Sprintf("%.2f%%", sum.ErrorRate*100))

	var lateRate float64
	if sum.Operations > 0 {
		lateRate = float64(sum.LateCycles) / float64(sum.Operations)
	}
	out.printf("%s %s (%s)\n",
		c.Label.Sprint("Late:      "),
		c.rate(lateRate).Sprint(formatNumber(sum.LateCycles)),
		c.rate(lateRate).Sprintf("%.2f%%", lateRate*100))
	out.printf("%s %s, mean offset %s\n\n",
		c.Label.Sprint("Early:     "),
		c.Value.Sprint(formatNumber(sum.EarlyCycles)),
		c.Value.Sprint(formatOffset(sum.DelayOffset)))

	printLatency(out, c, "Response Time Distribution:", sum.Response)
	printLatency(out, c, "Pacing Deviation Distribution:", sum.Delay)

	out.printf("%s\n", c.Title.Sprint("Workers:"))
	for _, wk := range res.Workers {
		printWorker(out, c, wk)
	}
	out.printf("%s\n", rule)
	return out.err
}

func printLatency(out *summaryWriter, c *ColorScheme, title string, l metrics.LatencyStats) {
	out.printf("%s\n", c.Title.Sprint(title))
	if l.Count == 0 {
		out.printf("  %s\n\n", c.Dim.Sprint("no samples"))
		return
	}
	rows := []struct {
		label string
		value time.Duration
	}{
		{"min", l.Min},
		{"avg", l.Mean},
		{"std", l.StdDev},
		{"p50", l.P50},
		{"p90", l.P90},
		{"p95", l.P95},
		{"p99", l.P99},
		{"max", l.Max},
	}
	for _, row := range rows {
		out.printf("  %s %s\n", c.Label.Sprintf("%-4s", row.label), c.Latency.Sprint(formatDurationShort(row.value)))
	}
	out.printf("\n")
}

func printWorker(out *summaryWriter, c *ColorScheme, w driver.WorkerSummary) {
	calibration := fmt.Sprintf("%d samples", w.CalibrationSamples)
	if w.CalibrationSkipped {
		calibration = "skipped"
	}
	agents := c.Good.Sprintf("%d agents", w.Agents)
	if w.Aborted > 0 {
		agents = c.Bad.Sprintf("%d/%d aborted", w.Aborted, w.Agents)
	}
	out.printf("  %s %s  compensation %s  deviation %s  calibration %s\n",
		c.Worker.Sprintf("%-12s", w.Worker),
		agents,
		c.Value.Sprint(formatDurationShort(w.Compensation)),
		c.Value.Sprint(formatDurationShort(time.Duration(w.Deviation))),
		c.Dim.Sprint(calibration))
	for _, e := range w.Errors {
		out.printf("    %s %s\n", c.Bad.Sprint("✗"), e)
	}
}

// formatDuration formats a run length.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatOffset formats a signed deviation from a deadline.
func formatOffset(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	return sign + formatDurationShort(d)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
