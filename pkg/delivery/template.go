package delivery

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// placeholderPattern matches {{var}} tokens per §4.8's template syntax.
// Go's text/template uses {{.Field}} dot-access, which doesn't match
// the spec's bare {{var}} tokens, so resolution here is a direct
// regexp substitution rather than a text/template render.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Template is a stored SMS/Email body template, addressable by id.
type Template struct {
	ID      string
	Subject string
	HTML    string
	Text    string
	Body    string
}

// TemplateStore resolves a template id to its stored content. The
// delivery engine has no opinion on where templates live; cmd/tarsy-voice
// wires a concrete implementation (e.g. a DB-backed or config-seeded
// store).
type TemplateStore interface {
	GetTemplate(id string) (*Template, error)
}

// ErrTemplateNotFound is returned by a TemplateStore when the id is
// unknown.
var ErrTemplateNotFound = fmt.Errorf("delivery: template not found")

// ErrMissingVariables is returned when a template references variables
// the request didn't supply.
type ErrMissingVariables struct {
	Names []string
}

func (e *ErrMissingVariables) Error() string {
	return fmt.Sprintf("delivery: missing template variables: %v", e.Names)
}

// MemoryTemplateStore is a process-local TemplateStore, useful for
// tests and for deployments that seed a small, fixed template set from
// configuration rather than a database table.
type MemoryTemplateStore struct {
	templates map[string]*Template
}

// NewMemoryTemplateStore builds a store from the given templates,
// keyed by their ID field.
func NewMemoryTemplateStore(templates ...*Template) *MemoryTemplateStore {
	m := &MemoryTemplateStore{templates: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		m.templates[t.ID] = t
	}
	return m
}

func (m *MemoryTemplateStore) GetTemplate(id string) (*Template, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t, nil
}

// resolveTemplate fills in a message's Subject/HTML/Text/Body from its
// template, if one is named, validating that every {{var}} placeholder
// the template references is present in req.Variables (§4.8 "extract
// {{var}} names; reject if variables missing").
func resolveTemplate(store TemplateStore, req *models.EnqueueMessageRequest) (subject, html, text, body string, err error) {
	subject, html, text, body = req.Subject, req.HTML, req.Text, req.Body
	if req.TemplateID == "" {
		return subject, html, text, body, nil
	}
	if store == nil {
		return "", "", "", "", fmt.Errorf("delivery: template_id %q given but no TemplateStore configured", req.TemplateID)
	}

	tmpl, err := store.GetTemplate(req.TemplateID)
	if err != nil {
		return "", "", "", "", err
	}

	names := placeholderNames(tmpl.Subject, tmpl.HTML, tmpl.Text, tmpl.Body)
	var missing []string
	for _, n := range names {
		if _, ok := req.Variables[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", "", "", "", &ErrMissingVariables{Names: missing}
	}

	return substitute(tmpl.Subject, req.Variables), substitute(tmpl.HTML, req.Variables),
		substitute(tmpl.Text, req.Variables), substitute(tmpl.Body, req.Variables), nil
}

// placeholderNames returns the de-duplicated set of {{var}} names
// referenced across the given template fields.
func placeholderNames(fields ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		for _, match := range placeholderPattern.FindAllStringSubmatch(f, -1) {
			name := match[1]
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func substitute(field string, vars map[string]any) string {
	if field == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(field, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		if v, ok := vars[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return token
	})
}
