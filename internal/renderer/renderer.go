// Package renderer renders a form's template against its submitted fields,
// producing either a rendered mail or a typed failure. The result is
// modeled as a sum type rather than a sentinel error value, so a caller
// can't accidentally treat a zero-value Mail as sendable.
package renderer

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"safe-notify/internal/formstore"
	"safe-notify/internal/stream"
)

// Mail is a rendered, ready-to-send message.
type Mail struct {
	FromName  string
	FromEmail string
	To        string
	ReplyTo   string
	Subject   string
	Body      string
}

// Result is the renderer's sum type: exactly one of Mail or Err is set.
type Result struct {
	Mail *Mail
	Err  error
}

// Renderer renders a form's template against submitted fields.
type Renderer interface {
	Render(form formstore.Form, fields []stream.Field, origin string, attachmentURL *string) Result
}

// TemplateRenderer renders with text/template augmented by Sprig's helper
// functions.
type TemplateRenderer struct {
	funcs template.FuncMap
}

// New builds a TemplateRenderer with the Sprig function map available to
// every template.
func New() *TemplateRenderer {
	return &TemplateRenderer{funcs: sprig.TxtFuncMap()}
}

// templateContext is what a form's template body is rendered against.
type templateContext struct {
	Form          formstore.Form
	Fields        map[string]any
	Origin        string
	AttachmentURL string
}

// Render executes the form's template. A missing template, a handler
// missing from/to, or a template that produces no body is a permanent
// failure — none of those conditions ever resolve themselves on retry.
// The subject is the submitted "subject" field when it is a non-empty
// string, and "New submission: <form id>" otherwise.
func (r *TemplateRenderer) Render(form formstore.Form, fields []stream.Field, origin string, attachmentURL *string) Result {
	if form.Handler.Template == "" {
		return Result{Err: fmt.Errorf("form %q has no template", form.ID)}
	}
	if form.Handler.FromEmail == "" || form.Handler.To == "" {
		return Result{Err: fmt.Errorf("form %q handler missing from/to", form.ID)}
	}

	tmpl, err := template.New(form.ID).Funcs(r.funcs).Parse(form.Handler.Template)
	if err != nil {
		return Result{Err: fmt.Errorf("parse template for form %q: %w", form.ID, err)}
	}

	ctx := templateContext{
		Form:   form,
		Fields: fieldsToMap(fields),
		Origin: origin,
	}
	if attachmentURL != nil {
		ctx.AttachmentURL = *attachmentURL
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return Result{Err: fmt.Errorf("render template for form %q: %w", form.ID, err)}
	}
	body := buf.String()
	if body == "" {
		return Result{Err: fmt.Errorf("form %q template produced no content", form.ID)}
	}

	subject := fmt.Sprintf("New submission: %s", form.ID)
	if s, ok := ctx.Fields["subject"]; ok {
		if str, ok := s.(string); ok && str != "" {
			subject = str
		}
	}
	if subject == "" {
		return Result{Err: fmt.Errorf("form %q produced no subject", form.ID)}
	}

	return Result{Mail: &Mail{
		FromName:  form.Handler.FromName,
		FromEmail: form.Handler.FromEmail,
		To:        form.Handler.To,
		ReplyTo:   form.Handler.ReplyTo,
		Subject:   subject,
		Body:      body,
	}}
}

// fieldsToMap folds the fields slice into a map keyed by name, collapsing
// "name[]" multi-valued groups into a []string.
func fieldsToMap(fields []stream.Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		name := f.Name
		multi := len(name) > 2 && name[len(name)-2:] == "[]"
		if multi {
			name = name[:len(name)-2]
			if existing, ok := out[name].([]string); ok {
				out[name] = append(existing, f.Value)
			} else {
				out[name] = []string{f.Value}
			}
			continue
		}
		out[name] = f.Value
	}
	return out
}
