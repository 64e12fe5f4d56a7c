package formstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_CachesBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/collections/_superusers/auth-with-password", r.URL.Path)
		w.Write([]byte(`{"token":"tok-123"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "admin@example.test", "secret")
	require.NoError(t, c.Auth(context.Background()))
	assert.Equal(t, "tok-123", c.token)
}

func TestAuth_MissingTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "admin@example.test", "secret")
	assert.Error(t, c.Auth(context.Background()))
}

func TestGetForm_DecodesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"f1","allow_duplicates":true,"handler":{"from_email":"a@b.test","to":"c@d.test","template":"hi {{.name}}"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "a", "b")
	form, err := c.GetForm(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", form.ID)
	assert.True(t, form.AllowDuplicates)
	assert.Equal(t, "a@b.test", form.Handler.FromEmail)
}

func TestGetForm_404ReturnsErrNotFoundWithoutTrippingBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "a", "b")
	for i := 0; i < 10; i++ {
		_, err := c.GetForm(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	// A run of 404s is a normal outcome, not a dependency failure: the
	// breaker must still be closed, so the next (successful) call goes
	// through rather than failing fast with gobreaker.ErrOpenState.
	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"f1"}`))
	})
	form, err := c.GetForm(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", form.ID)
}

func TestGetForm_ServerErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "a", "b")
	_, err := c.GetForm(context.Background(), "f1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestClearAuth_DropsCachedToken(t *testing.T) {
	c := New("http://example.test", "a", "b")
	c.token = "tok"
	c.http.SetAuthToken("tok")
	c.ClearAuth()
	assert.Empty(t, c.token)
}
