package notify

import (
	"embed"
	"fmt"
	"time"

	"accountd/internal/domain"

	"github.com/flosch/pongo2/v6"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is a rendered email ready for a transport.
type Message struct {
	Template  string
	Recipient string
	Subject   string
	HTMLBody  string
	QueuedAt  time.Time
}

// Renderer turns a template name and data into subject and body.
type Renderer interface {
	Render(name string, data map[string]any) (subject, body string, err error)
}

// TemplateSource describes one email: pongo2 sources for subject and body
// plus the keys the body cannot be rendered without.
type TemplateSource struct {
	Subject  string
	Body     string
	Required []string
}

type compiled struct {
	subject  *pongo2.Template
	body     *pongo2.Template
	required []string
}

type PongoRenderer struct {
	templates map[string]compiled
	globals   pongo2.Context
}

// DefaultSources returns the built-in activation and password-reset emails.
func DefaultSources() (map[string]TemplateSource, error) {
	activation, err := templateFS.ReadFile("templates/activation.html")
	if err != nil {
		return nil, err
	}
	reset, err := templateFS.ReadFile("templates/password-reset.html")
	if err != nil {
		return nil, err
	}
	return map[string]TemplateSource{
		"activation": {
			Subject:  "{{ app_name }} - Registration successful",
			Body:     string(activation),
			Required: []string{"email", "code", "link"},
		},
		"password-reset": {
			Subject:  "{{ app_name }} - Password reset",
			Body:     string(reset),
			Required: []string{"email", "code", "link"},
		},
	}, nil
}

// NewPongoRenderer compiles every source up front so syntax errors surface
// at startup. globals are merged under the per-message data.
func NewPongoRenderer(sources map[string]TemplateSource, globals map[string]any) (*PongoRenderer, error) {
	r := &PongoRenderer{templates: make(map[string]compiled, len(sources)), globals: pongo2.Context{}}
	for k, v := range globals {
		r.globals[k] = v
	}
	for name, src := range sources {
		subject, err := pongo2.FromString(src.Subject)
		if err != nil {
			return nil, fmt.Errorf("template %s subject: %w", name, err)
		}
		body, err := pongo2.FromString(src.Body)
		if err != nil {
			return nil, fmt.Errorf("template %s body: %w", name, err)
		}
		r.templates[name] = compiled{subject: subject, body: body, required: src.Required}
	}
	return r, nil
}

func (r *PongoRenderer) Render(name string, data map[string]any) (string, string, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown template %q", domain.ErrRenderFailure, name)
	}
	for _, key := range tpl.required {
		if v, ok := data[key]; !ok || v == nil || v == "" {
			return "", "", fmt.Errorf("%w: %s requires %q", domain.ErrRenderFailure, name, key)
		}
	}

	ctx := pongo2.Context{}
	ctx.Update(r.globals)
	ctx.Update(pongo2.Context(data))

	subject, err := tpl.subject.Execute(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrRenderFailure, err)
	}
	body, err := tpl.body.Execute(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrRenderFailure, err)
	}
	return subject, body, nil
}
