// Package formstore is a read-only client for the form metadata store
// (PocketBase). It only implements the lookup-by-form_id contract the
// Attempt Executor needs.
package formstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"

	"safe-notify/internal/resilience"
)

// ErrNotFound is returned by GetForm when form_id has no matching record.
// The Attempt Executor treats this as the lookup-absent branch of its
// dispatch algorithm.
var ErrNotFound = fmt.Errorf("form not found")

// Client authenticates against PocketBase as a superuser and fetches form
// records by id.
type Client struct {
	http    *resty.Client
	email   string
	pass    string
	token   string
	breaker *gobreaker.CircuitBreaker[*Form]
}

// New builds a Client pointed at baseURL. Auth() must be called before
// GetForm. Lookups are guarded by a circuit breaker so a struggling form
// store degrades to fast permanent failures instead of hanging every
// consumer-loop dispatch behind its own timeout.
func New(baseURL, email, pass string) *Client {
	return &Client{
		http:    resty.New().SetBaseURL(baseURL),
		email:   email,
		pass:    pass,
		breaker: resilience.NewBreaker[*Form]("form-store"),
	}
}

type authRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Auth performs the PocketBase superuser password auth and caches the
// bearer token for subsequent requests. Process bootstrap treats an Auth
// failure as fatal.
func (c *Client) Auth(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(authRequest{Identity: c.email, Password: c.pass}).
		Post("/api/collections/_superusers/auth-with-password")
	if err != nil {
		return fmt.Errorf("pocketbase auth request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("pocketbase auth failed: %s: %s", resp.Status(), resp.String())
	}

	var out authResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("pocketbase auth response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("pocketbase auth response missing token")
	}
	c.token = out.Token
	c.http.SetAuthToken(c.token)
	return nil
}

// ClearAuth drops the cached bearer token, part of the process's
// graceful-shutdown sequence.
func (c *Client) ClearAuth() {
	c.token = ""
	c.http.SetAuthToken("")
}

// GetForm fetches the form record for formID. Returns ErrNotFound when
// PocketBase answers 404. A 404 is a normal outcome of this lookup, not a
// dependency failure, so it is resolved before the call reaches the
// breaker's success/failure accounting.
func (c *Client) GetForm(ctx context.Context, formID string) (*Form, error) {
	notFound := false
	form, err := c.breaker.Execute(func() (*Form, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			Get("/api/collections/forms/records/" + formID)
		if err != nil {
			return nil, fmt.Errorf("fetch form %q: %w", formID, err)
		}
		if resp.StatusCode() == 404 {
			notFound = true
			return nil, nil
		}
		if resp.IsError() {
			return nil, fmt.Errorf("fetch form %q: %s: %s", formID, resp.Status(), resp.String())
		}

		var out Form
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("decode form %q: %w", formID, err)
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, ErrNotFound
	}
	return form, nil
}
