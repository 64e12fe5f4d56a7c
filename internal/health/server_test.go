package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeChecker struct{ err error }

func (f fakeChecker) Healthy(r *http.Request) error { return f.err }

func TestHealthHandler_HealthyReturns200(t *testing.T) {
	handler, _ := NewServer(fakeChecker{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthHandler_UnhealthyReturns503(t *testing.T) {
	handler, _ := NewServer(fakeChecker{err: errors.New("redis down")})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	handler, m := NewServer(fakeChecker{})
	m.IncSent()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "mailer_sent_total")
}
