package client

import (
	"html/template"
	"io"
	"strings"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/protocol"
)

// SentimentColor maps a sentiment score to the report's link color.
func SentimentColor(sentiment int) string {
	switch sentiment {
	case 1:
		return "darkred"
	case 2:
		return "red"
	case 3:
		return "black"
	case 4:
		return "lightgreen"
	default:
		return "darkgreen"
	}
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"color":    SentimentColor,
	"entities": func(e []string) string { return "[" + strings.Join(e, ",") + "]" },
}).Parse(`<html><head><title>Review Analysis</title></head><body>
<h1>Review Analysis</h1>
{{range .}}<div>
<p>Link: <a href="{{.Link}}" style="color:{{color .Sentiment}}">{{.Link}}</a></p>
<p>Entities: {{entities .Entities}}</p>
<p>Sarcasm: {{.Sarcasm}}</p>
</div>
{{end}}</body></html>
`))

// RenderReport writes results as an HTML page, one block per review with
// the link colored by sentiment.
func RenderReport(w io.Writer, results []protocol.Result) error {
	if err := reportTemplate.Execute(w, results); err != nil {
		return errors.Wrap(err, "render report")
	}
	return nil
}
