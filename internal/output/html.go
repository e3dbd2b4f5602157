package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/wesleyorama2/cadence/internal/driver"
)

type htmlData struct {
	Report
	Status     string
	ReportJSON template.JS
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"ms":     func(v float64) string { return fmt.Sprintf("%.2f ms", v) },
	"pct":    func(v float64) string { return fmt.Sprintf("%.2f%%", v*100) },
	"number": formatNumber,
}).Parse(htmlTemplate))

// WriteHTML renders res as a standalone HTML page.
func WriteHTML(w io.Writer, res *driver.Result) error {
	r := NewReport(res)
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	data := htmlData{Report: r, Status: "Completed", ReportJSON: template.JS(raw)}
	if r.Aborted > 0 {
		data.Status = "Completed with aborted agents"
	}
	if err := htmlReport.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Name}} - Cadence Run Report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
            --accent: #3b82f6;
            --success: #22c55e;
            --error: #ef4444;
        }
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background: var(--bg); color: var(--text); margin: 0; }
        .container { max-width: 1200px; margin: 0 auto; padding: 2rem; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 1rem; margin-bottom: 2rem; }
        .card { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 1rem; }
        .label { color: var(--muted); font-size: 0.85rem; }
        .value { font-size: 1.5rem; font-weight: 600; }
        .bad { color: var(--error); }
        table { width: 100%; border-collapse: collapse; background: var(--card); margin-bottom: 2rem; }
        th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid var(--border); }
        th { color: var(--muted); font-weight: 500; }
    </style>
</head>
<body>
<div class="container">
    <h1>{{.Name}}</h1>
    <p class="label">{{.Status}} &middot; {{.Agents}} agents &middot; {{.WindowSeconds}}s steady state</p>

    <div class="grid">
        <div class="card"><div class="label">Operations</div><div class="value">{{number .Operations}}</div></div>
        <div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.2f" .Throughput}} ops/s</div></div>
        <div class="card"><div class="label">Error rate</div><div class="value{{if .Failures}} bad{{end}}">{{pct .ErrorRate}}</div></div>
        <div class="card"><div class="label">Late cycles</div><div class="value{{if .LateCycles}} bad{{end}}">{{number .LateCycles}}</div></div>
        <div class="card"><div class="label">Early cycles</div><div class="value">{{number .EarlyCycles}}</div></div>
        <div class="card"><div class="label">Mean offset</div><div class="value">{{ms .DelayOffsetMs}}</div></div>
    </div>

    <h2>Latency</h2>
    <table>
        <tr><th></th><th>min</th><th>avg</th><th>p50</th><th>p90</th><th>p95</th><th>p99</th><th>max</th></tr>
        {{with .ResponseMs}}<tr><td>Response time</td><td>{{ms .Min}}</td><td>{{ms .Mean}}</td><td>{{ms .P50}}</td><td>{{ms .P90}}</td><td>{{ms .P95}}</td><td>{{ms .P99}}</td><td>{{ms .Max}}</td></tr>{{end}}
        {{with .DelayMs}}<tr><td>Pacing deviation</td><td>{{ms .Min}}</td><td>{{ms .Mean}}</td><td>{{ms .P50}}</td><td>{{ms .P90}}</td><td>{{ms .P95}}</td><td>{{ms .P99}}</td><td>{{ms .Max}}</td></tr>{{end}}
    </table>
    <div class="card"><canvas id="latency"></canvas></div>

    <h2>Workers</h2>
    <table>
        <tr><th>Worker</th><th>Agents</th><th>Aborted</th><th>Compensation</th><th>Deviation</th><th>Calibration</th><th>Errors</th></tr>
        {{range .Workers}}
        <tr>
            <td>{{.Worker}}</td>
            <td>{{.Agents}}</td>
            <td{{if .Aborted}} class="bad"{{end}}>{{.Aborted}}</td>
            <td>{{ms .CompensationMs}}</td>
            <td>{{ms .DeviationMs}}</td>
            <td>{{if .CalibrationSkipped}}skipped{{else}}{{.CalibrationSamples}} samples{{end}}</td>
            <td>{{range .Errors}}<div class="bad">{{.}}</div>{{end}}</td>
        </tr>
        {{end}}
    </table>
</div>
<script>
    const report = {{.ReportJSON}};
    const labels = ['p50', 'p90', 'p95', 'p99', 'max'];
    const pick = l => [l.p50, l.p90, l.p95, l.p99, l.max];
    if (window.Chart) {
        new Chart(document.getElementById('latency'), {
            type: 'bar',
            data: {
                labels: labels,
                datasets: [
                    { label: 'Response time (ms)', data: pick(report.responseMs), backgroundColor: '#3b82f6' },
                    { label: 'Pacing deviation (ms)', data: pick(report.delayMs), backgroundColor: '#f59e0b' }
                ]
            }
        });
    }
</script>
</body>
</html>
`
