package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var digestTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"joinTags": func(tags []string) string {
			return strings.Join(tags, ", ")
		},
	}
	digestTemplate = template.Must(template.New("digest").Funcs(funcMap).Parse(digestTemplateHTML))
}

// RenderDigestHTML renders the digest template with provided data.
func RenderDigestHTML(data Digest) (string, error) {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const digestTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProfileName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #2e7d32; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; color: #2e7d32; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .item { margin: 1rem 0; padding: 1rem; background: #f7f7f7; border-left: 3px solid #2e7d32; page-break-inside: avoid; }
    .item .byline { color: #666; font-size: 0.85em; }
    .item .tags { color: #888; font-size: 0.8em; }
    .target { font-weight: bold; }
    .comment { margin: 0.5rem 0 0 1.5rem; padding: 0.5rem; background: #fff; border-left: 2px solid #ccc; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.ProfileName}}</h1>
  <div class="meta">{{.Kind}} profile | generated {{formatDate .GeneratedAt "Jan 2, 2006"}}</div>
  {{range .Sections}}
  <h2>{{.Heading}}</h2>
  {{if not .Items}}<p>Nothing here yet.</p>{{end}}
  {{range .Items}}
  <div class="item">
    {{if .Title}}<strong>{{.Title}}</strong><br>{{end}}
    <span class="byline">{{.Author}}{{if .CreatedAt}} | {{.CreatedAt}}{{end}}</span>
    <p>{{.Text}}</p>
    {{if .TargetAmount}}<p class="target">Goal: {{.TargetAmount}} {{.Currency}}</p>{{end}}
    {{if .Tags}}<div class="tags">{{joinTags .Tags}}</div>{{end}}
    {{range .Comments}}<div class="comment"><strong>{{.Author}}</strong>: {{.Text}}</div>{{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
