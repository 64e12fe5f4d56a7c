package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safe-notify/internal/formstore"
	"safe-notify/internal/stream"
)

func baseForm() formstore.Form {
	return formstore.Form{
		ID: "F",
		Handler: formstore.Handler{
			FromName:  "Acme Forms",
			FromEmail: "forms@acme.test",
			To:        "inbox@acme.test",
			Template:  "Hello from {{.Fields.name}} ({{.Origin}})",
		},
	}
}

func TestRender_Success(t *testing.T) {
	r := New()
	fields := []stream.Field{{Name: "name", Value: "Ada"}}
	res := r.Render(baseForm(), fields, "web", nil)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Mail)
	assert.Equal(t, "Hello from Ada (web)", res.Mail.Body)
	assert.Equal(t, "forms@acme.test", res.Mail.FromEmail)
}

func TestRender_MissingTemplate(t *testing.T) {
	r := New()
	form := baseForm()
	form.Handler.Template = ""
	res := r.Render(form, nil, "web", nil)
	require.Error(t, res.Err)
	assert.Nil(t, res.Mail)
}

func TestRender_MissingHandlerAddresses(t *testing.T) {
	r := New()
	form := baseForm()
	form.Handler.To = ""
	res := r.Render(form, nil, "web", nil)
	require.Error(t, res.Err)
}

func TestRender_EmptyBodyIsPermanentFailure(t *testing.T) {
	r := New()
	form := baseForm()
	form.Handler.Template = "{{/* nothing rendered */}}"
	res := r.Render(form, nil, "web", nil)
	require.Error(t, res.Err)
	assert.Nil(t, res.Mail)
}

func TestRender_MultiValuedFieldGroup(t *testing.T) {
	r := New()
	form := baseForm()
	form.Handler.Template = "{{range .Fields.tags}}{{.}},{{end}}"
	fields := []stream.Field{
		{Name: "tags[]", Value: "a"},
		{Name: "tags[]", Value: "b"},
	}
	res := r.Render(form, fields, "web", nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "a,b,", res.Mail.Body)
}

func TestRender_AttachmentURLAvailableToTemplate(t *testing.T) {
	r := New()
	form := baseForm()
	form.Handler.Template = "download: {{.AttachmentURL}}"
	url := "https://example.test/download/abc"
	res := r.Render(form, nil, "web", &url)
	require.NoError(t, res.Err)
	assert.Equal(t, "download: https://example.test/download/abc", res.Mail.Body)
}

func TestRender_SprigFunctionsAvailable(t *testing.T) {
	r := New()
	form := baseForm()
	form.Handler.Template = "{{upper .Fields.name}}"
	fields := []stream.Field{{Name: "name", Value: "ada"}}
	res := r.Render(form, fields, "web", nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "ADA", res.Mail.Body)
}
