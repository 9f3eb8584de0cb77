package report

import (
	"html/template"
	"io"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/version"
)

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.App}} ingestion report</title>
    <style>
        body { background: #050505; color: #F8FAFC; font-family: -apple-system, "Segoe UI", Roboto, sans-serif; padding: 40px; font-size: 14px; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border-bottom: 1px solid rgba(255,255,255,0.1); padding: 6px 10px; text-align: left; }
        .integrated { color: #00FF99; } .reimplemented { color: #874BFD; } .rejected { color: #94A3B8; } .error { color: #FF3366; }
    </style>
</head>
<body>
    <h1>{{.App}} {{.Version}}</h1>
    <p>Generated {{.GeneratedAt}}. {{.Summary}}</p>
    <table>
        <tr><th>Repository</th><th>Path</th><th>Outcome</th><th>Stored at</th><th>Detail</th></tr>
        {{range .Items}}<tr><td>{{.Repository}}</td><td>{{.Path}}</td><td class="{{.Outcome}}">{{.Outcome}}</td><td>{{.StoragePath}}</td><td>{{.Detail}}</td></tr>
        {{end}}
    </table>
    <script>const items = {{.Items}};</script>
</body>
</html>
`))

// WriteHTML renders a standalone HTML report. Every value goes through
// html/template so repository content cannot inject markup or script.
func WriteHTML(w io.Writer, runs []artifact.IngestionProgress) error {
	return htmlTemplate.Execute(w, struct {
		App, Version, GeneratedAt string
		Summary                   Summary
		Items                     []ExportItem
	}{
		App:         version.AppName,
		Version:     version.Current,
		GeneratedAt: time.Now().UTC().Format(time.RFC822),
		Summary:     Summarize(runs),
		Items:       Items(runs),
	})
}
