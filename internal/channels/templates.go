package channels

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Templates renders message content by template id. Each file under templates/
// defines a "body" template and, for email, a "subject" template; the template id
// is the file name without extension.
type Templates struct {
	set map[string]*template.Template
}

type templateData struct {
	Name      string
	AccountID string
}

func LoadTemplates() (*Templates, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	t := &Templates{set: make(map[string]*template.Template, len(entries))}
	for _, e := range entries {
		id := strings.TrimSuffix(e.Name(), ".tmpl")
		parsed, err := template.ParseFS(templateFS, "templates/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", id, err)
		}
		t.set[id] = parsed
	}
	return t, nil
}

// Has reports whether templateID exists.
func (t *Templates) Has(templateID string) bool {
	_, ok := t.set[templateID]
	return ok
}

// Render returns the subject (empty when undefined) and body for req.
func (t *Templates) Render(req SendRequest) (subject, body string, err error) {
	tpl, ok := t.set[req.TemplateID]
	if !ok {
		return "", "", fmt.Errorf("channels: unknown template %q", req.TemplateID)
	}
	name := req.Contact.Name
	if name == "" {
		name = "customer"
	}
	data := templateData{Name: name, AccountID: req.AccountID}

	var b bytes.Buffer
	if err := tpl.ExecuteTemplate(&b, "body", data); err != nil {
		return "", "", err
	}
	body = strings.TrimSpace(b.String())
	if tpl.Lookup("subject") != nil {
		b.Reset()
		if err := tpl.ExecuteTemplate(&b, "subject", data); err != nil {
			return "", "", err
		}
		subject = strings.TrimSpace(b.String())
	}
	return subject, body, nil
}
