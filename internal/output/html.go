package output

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
)

// GenerateHTML renders the report as a standalone HTML page and writes it to
// outputPath.
func GenerateHTML(r *Report, outputPath string) error {
	html, err := GenerateHTMLString(r)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if err := os.WriteFile(outputPath, []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// GenerateHTMLString renders the report as a standalone HTML page.
func GenerateHTMLString(r *Report) (string, error) {
	if r == nil {
		return "", fmt.Errorf("report cannot be nil")
	}

	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatMs":    formatMs,
		"formatCount": formatCount,
		"successRate": successRate,
		"failures":    failures,
	}
}

// formatMs formats a millisecond value with a precision that suits its size.
func formatMs(v float64) string {
	switch {
	case v == 0:
		return "0"
	case v < 1:
		return fmt.Sprintf("%.0fµs", v*1000)
	case v < 10:
		return fmt.Sprintf("%.2fms", v)
	case v < 1000:
		return fmt.Sprintf("%.1fms", v)
	default:
		return fmt.Sprintf("%.2fs", v/1000)
	}
}

// formatCount formats n with thousands separators.
func formatCount(n int) string {
	if n < 0 {
		return "-" + formatCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i := 0; i < len(s); i++ {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func successRate(r *Report) float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Count) * 100
}

func failures(rows []InvocationRow) []InvocationRow {
	var out []InvocationRow
	for _, row := range rows {
		if row.Error != "" {
			out = append(out, row)
		}
	}
	return out
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - fanout report</title>
<style>
  :root {
    --bg: #f8fafc; --card: #ffffff; --text: #1e293b; --muted: #64748b;
    --border: #e2e8f0; --ok: #22c55e; --bad: #ef4444; --accent: #3b82f6;
  }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
         background: var(--bg); color: var(--text); margin: 0; line-height: 1.5; }
  .container { max-width: 1100px; margin: 0 auto; padding: 2rem; }
  h1 { margin: 0 0 .25rem; }
  .meta { color: var(--muted); margin-bottom: 1.5rem; }
  .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 1rem; }
  .card { background: var(--card); border: 1px solid var(--border); border-radius: 8px; padding: 1rem; }
  .card .label { color: var(--muted); font-size: .85rem; }
  .card .value { font-size: 1.5rem; font-weight: 600; }
  .ok { color: var(--ok); } .bad { color: var(--bad); }
  table { width: 100%; border-collapse: collapse; background: var(--card); margin-top: .5rem; }
  th, td { text-align: left; padding: .4rem .75rem; border-bottom: 1px solid var(--border); font-size: .9rem; }
  th { color: var(--muted); font-weight: 500; }
  section { margin-top: 2rem; }
  code { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; }
</style>
</head>
<body>
<div class="container">
  <h1>{{.Name}}</h1>
  <div class="meta">{{.Mode}} batch of {{formatCount .Count}} against <code>{{.Target}}</code></div>

  <div class="cards">
    <div class="card"><div class="label">Result</div>
      <div class="value {{if .OK}}ok{{else}}bad{{end}}">{{if .OK}}Passed{{else}}{{.Failed}} failed{{end}}</div></div>
    <div class="card"><div class="label">Succeeded</div><div class="value ok">{{formatCount .Succeeded}}</div></div>
    <div class="card"><div class="label">Failed</div><div class="value {{if .Failed}}bad{{end}}">{{formatCount .Failed}}</div></div>
    <div class="card"><div class="label">Success rate</div><div class="value">{{printf "%.1f" (successRate .)}}%</div></div>
    <div class="card"><div class="label">Elapsed</div><div class="value">{{formatMs .ElapsedMs}}</div></div>
    <div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .Throughput}}/s</div></div>
  </div>

  <section>
    <h2>Latency</h2>
    <table>
      <tr><th>min</th><th>mean</th><th>p50</th><th>p90</th><th>p95</th><th>p99</th><th>max</th></tr>
      <tr>
        <td>{{formatMs .Latency.Min}}</td><td>{{formatMs .Latency.Mean}}</td><td>{{formatMs .Latency.P50}}</td>
        <td>{{formatMs .Latency.P90}}</td><td>{{formatMs .Latency.P95}}</td><td>{{formatMs .Latency.P99}}</td>
        <td>{{formatMs .Latency.Max}}</td>
      </tr>
    </table>
  </section>
{{if .Commands}}
  <section>
    <h2>Commands</h2>
    <table>
      <tr><th>command</th><th>count</th><th>p50</th><th>p95</th><th>p99</th><th>max</th></tr>
      {{range .Commands}}
      <tr><td><code>{{.Command}}</code></td><td>{{.Count}}</td><td>{{formatMs .Latency.P50}}</td>
        <td>{{formatMs .Latency.P95}}</td><td>{{formatMs .Latency.P99}}</td><td>{{formatMs .Latency.Max}}</td></tr>
      {{end}}
    </table>
  </section>
{{end}}
{{with failures .Invocations}}
  <section>
    <h2>Failures</h2>
    <table>
      <tr><th>#</th><th>command</th><th>duration</th><th>error</th></tr>
      {{range .}}
      <tr><td>{{.Index}}</td><td><code>{{.Command}}</code></td><td>{{formatMs .DurationMs}}</td>
        <td class="bad">{{if .Timeout}}[timeout] {{end}}{{.Error}}</td></tr>
      {{end}}
    </table>
  </section>
{{end}}
</div>
</body>
</html>
`
