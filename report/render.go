package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
)

// Format names a report rendering.
type Format string

const (
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps a name (html, json, markdown or md) to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "html", "":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Render writes r to w in format f.
func Render(w io.Writer, r *Report, f Format) error {
	if r == nil {
		return fmt.Errorf("render: nil report")
	}
	switch f {
	case FormatHTML:
		return RenderHTML(w, r)
	case FormatJSON:
		b, err := RenderJSON(r)
		if err != nil {
			return err
		}
		_, err = w.Write(append(b, '\n'))
		return err
	case FormatMarkdown:
		_, err := io.WriteString(w, RenderMarkdown(r))
		return err
	default:
		return fmt.Errorf("render: unknown format %q", f)
	}
}

// RenderJSON produces a pretty-printed JSON representation of the report.
func RenderJSON(r *Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("render: nil report")
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a Markdown summary followed by one table of records
// per entity type.
func RenderMarkdown(r *Report) string {
	if r == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("## Validation Report\n\n")
	fmt.Fprintf(&sb, "**Items:** %s  \n", strings.Join(r.Types, ", "))
	fmt.Fprintf(&sb, "**Entities:** %d | **Violation:** %d | **Warning:** %d | **Info:** %d\n\n",
		r.Entities(), r.Count(SeverityViolation), r.Count(SeverityWarning), r.Count(SeverityInfo))

	sb.WriteString("| Type | Total | Violation (entities) | Warning (entities) | Info (entities) |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, typ := range r.Types {
		agg := r.Summary[typ]
		fmt.Fprintf(&sb, "| %s | %d | %d (%d) | %d (%d) | %d (%d) |\n", mdEscape(typ), r.Totals[typ],
			agg[SeverityViolation].Count, agg[SeverityViolation].Entities,
			agg[SeverityWarning].Count, agg[SeverityWarning].Entities,
			agg[SeverityInfo].Count, agg[SeverityInfo].Entities)
	}
	sb.WriteString("\n")

	for _, typ := range r.Types {
		recs := r.Records[typ]
		if len(recs) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n\n", mdEscape(typ))
		sb.WriteString("| # | Source | Path | Value | Severity | Message |\n")
		sb.WriteString("|---|---|---|---|---|---|\n")
		for i, rec := range recs {
			fmt.Fprintf(&sb, "| %d | %s | `%s` | %s | %s | %s |\n", i+1,
				mdEscape(rec.Source), rec.Path, mdEscape(rec.Value), rec.Severity, mdEscape(rec.Message))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

var htmlReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"inc":    func(i int) int { return i + 1 },
	"bucket": func(a Aggregate, s string) Bucket { return a[Severity(s)] },
	"join":   strings.Join,
	"severities": func() []string {
		return []string{string(SeverityViolation), string(SeverityWarning), string(SeverityInfo)}
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Validation Report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.Violation { color: #b00020; }
.Warning { color: #b36b00; }
.Info { color: #00529b; }
</style>
</head>
<body>
<h1>Validation Report</h1>
<p>Items: {{join .Types ", "}}</p>
<p>Generated: {{.GeneratedAt.Format "2006-01-02T15:04:05Z07:00"}}</p>
<h2>Summary</h2>
<table>
<tr><th>Type</th><th>Total</th><th>Violation</th><th>Warning</th><th>Info</th></tr>
{{- range $typ := .Types}}
{{- $agg := index $.Summary $typ}}
<tr><td>{{$typ}}</td><td>{{index $.Totals $typ}}</td>
{{- range $s := severities}}
{{- $b := bucket $agg $s}}<td class="{{$s}}">{{$b.Count}} in {{$b.Entities}} entities</td>
{{- end}}</tr>
{{- end}}
</table>
{{- range $typ := .Types}}
{{- $recs := index $.Records $typ}}
{{- if $recs}}
<h2>{{$typ}}</h2>
<table>
<tr><th>#</th><th>Source</th><th>Path</th><th>Value</th><th>Severity</th><th>Message</th></tr>
{{- range $i, $r := $recs}}
<tr><td>{{inc $i}}</td><td>{{$r.Source}}</td><td><code>{{$r.Path}}</code></td><td>{{$r.Value}}</td><td class="{{$r.Severity}}">{{$r.Severity}}</td><td>{{$r.Message}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- end}}
</body>
</html>
`))

// RenderHTML writes a standalone HTML page with the summary table and one
// table of records per entity type. All values are escaped.
func RenderHTML(w io.Writer, r *Report) error {
	if r == nil {
		return fmt.Errorf("render: nil report")
	}
	if err := htmlReport.Execute(w, r); err != nil {
		return fmt.Errorf("render: html: %w", err)
	}
	return nil
}
