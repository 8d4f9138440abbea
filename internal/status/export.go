package status

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// SessionLog is one session's history for export.
type SessionLog struct {
	SessionID string
	State     string
	Records   []Record
}

var exportTemplate = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Session status log</title>
<style>
body { background-color: #2b2b2b; color: #f1f1f1; font-family: monospace; padding: 20px; }
.session { margin-bottom: 30px; }
.session-header { font-weight: bold; margin-bottom: 10px; color: #00aaff; }
.record { margin: 2px 0; white-space: pre-wrap; }
</style>
</head>
<body>
<h1>Session status log</h1>
{{range .}}<div class="session">
<div class="session-header">--- Session {{.SessionID}} (state: {{.State}}) ---</div>
{{range .Records}}<div class="record"><span class="timestamp">{{.Timestamp}}</span> - {{.Text}}</div>
{{end}}</div>
{{end}}</body>
</html>
`))

type exportRecord struct {
	Timestamp string
	Text      template.HTML
}

type exportSession struct {
	SessionID string
	State     string
	Records   []exportRecord
}

// newExportPolicy allows the inline formatting chat messages may carry.
func newExportPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "s", "br")
	p.AllowAttrs("style").OnElements("span")
	p.AllowElements("span")
	return p
}

// ExportHTML renders session logs as a standalone HTML page. Record text is
// sanitized since it contains player-controlled chat.
func ExportHTML(w io.Writer, sessions []SessionLog) error {
	policy := newExportPolicy()

	out := make([]exportSession, 0, len(sessions))
	for _, s := range sessions {
		es := exportSession{SessionID: s.SessionID, State: s.State}
		for _, r := range s.Records {
			es.Records = append(es.Records, exportRecord{
				Timestamp: r.Timestamp.Local().Format(time.DateTime),
				Text:      template.HTML(policy.Sanitize(r.Text)), //nolint:gosec // sanitized above
			})
		}
		out = append(out, es)
	}

	if err := exportTemplate.Execute(w, out); err != nil {
		return fmt.Errorf("rendering status export: %w", err)
	}
	return nil
}
