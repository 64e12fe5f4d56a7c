package lifecycle

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safe-notify/internal/formstore"
	"safe-notify/internal/smtp"
	"safe-notify/internal/stream"
)

// newUnreachable builds a Lifecycle whose Redis connections point at a
// closed local port, exercising Healthy/Shutdown's sequencing without a
// live backend (redis.NewClient never dials eagerly).
func newUnreachable(t *testing.T) *Lifecycle {
	t.Helper()
	blocking := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	command := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return &Lifecycle{
		BlockingRedis:       blocking,
		CommandRedis:        command,
		StreamClient:        stream.NewClient(blocking),
		CommandStreamClient: stream.NewClient(command),
		Forms:               formstore.New("http://127.0.0.1:1", "a", "b"),
		Sender:              smtp.New(smtp.Config{Hostname: "smtp.example.test", Port: 587}),
	}
}

func TestHealthy_RedisUnreachableReportsError(t *testing.T) {
	lc := newUnreachable(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	assert.Error(t, lc.Healthy(req))
}

func TestShutdown_RunsSenderFormsRedisInOrderWithoutLiveConnections(t *testing.T) {
	lc := newUnreachable(t)
	require.NoError(t, lc.Shutdown())
}
