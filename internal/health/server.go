package health

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker reports whether the process's backing connections are healthy
// (internal/lifecycle.Lifecycle satisfies this).
type Checker interface {
	Healthy(r *http.Request) error
}

// App carries the dependencies the health/metrics routes need.
type App struct {
	Checker  Checker
	Registry *prometheus.Registry
}

// RegisterRoutes binds /healthz and /metrics onto r.
func RegisterRoutes(r chi.Router, app *App) {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
	r.Get("/healthz", app.healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Checker.Healthy(r); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewServer builds the chi router and registers the health/metrics routes
// against a fresh Prometheus registry, returning the router and the
// Metrics the rest of the process updates.
func NewServer(checker Checker) (http.Handler, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := chi.NewRouter()
	RegisterRoutes(r, &App{Checker: checker, Registry: reg})
	return r, m
}
