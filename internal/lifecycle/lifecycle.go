// Package lifecycle owns bootstrap order for the side-state, form-store,
// object-store, and SMTP collaborators, a liveness check the
// Health/Metrics Surface polls, and the graceful-shutdown sequence.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"safe-notify/internal/config"
	"safe-notify/internal/formstore"
	"safe-notify/internal/smtp"
	"safe-notify/internal/stream"
)

// Lifecycle owns the process-global connections and their bootstrap and
// shutdown order.
type Lifecycle struct {
	// BlockingRedis is dedicated to the Consumer Loop's blocking
	// XREADGROUP calls; CommandRedis serves every other command issued
	// while that blocking read is outstanding.
	BlockingRedis *redis.Client
	CommandRedis  *redis.Client

	// StreamClient is bound to BlockingRedis and is the Consumer Loop's
	// handle for group setup, reclamation, and the long-polling read.
	// CommandStreamClient is bound to CommandRedis and is the side-state
	// Store's handle for ack_and_remove/enqueue_retry, so those commands
	// never share a connection with an outstanding XREADGROUP.
	StreamClient        *stream.Client
	CommandStreamClient *stream.Client
	Forms               *formstore.Client
	Object              *minio.Client
	Sender              *smtp.GatewaySender
}

// Bootstrap connects to every backing service in dependency order, failing
// fast on the first error (a PocketBase auth failure and a side-state
// disconnect are both bootstrap-fatal).
func Bootstrap(ctx context.Context, cfg *config.Config) (*Lifecycle, error) {
	blocking := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := blocking.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect blocking redis: %w", err)
	}
	command := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := command.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect command redis: %w", err)
	}

	forms := formstore.New(cfg.PocketBase.URL, cfg.PocketBase.Email, cfg.PocketBase.Password)
	if err := forms.Auth(ctx); err != nil {
		return nil, fmt.Errorf("pocketbase auth: %w", err)
	}

	object, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.RootUser, cfg.MinIO.RootPassword, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio: %w", err)
	}

	sender := smtp.New(smtp.Config{
		Hostname:   cfg.SMTP.Hostname,
		Port:       cfg.SMTP.Port,
		Security:   smtp.Security(cfg.SMTP.Security),
		AuthMode:   smtp.Auth(cfg.SMTP.Auth),
		Username:   cfg.SMTP.Username,
		Password:   cfg.SMTP.Password,
		PrivateKey: cfg.SMTP.PrivateKey,
		AccessURL:  cfg.SMTP.AccessURL,
		Pool:       cfg.SMTP.Pool,
	})

	return &Lifecycle{
		BlockingRedis:       blocking,
		CommandRedis:        command,
		StreamClient:        stream.NewClient(blocking),
		CommandStreamClient: stream.NewClient(command),
		Forms:               forms,
		Object:              object,
		Sender:              sender,
	}, nil
}

// EnsureReady verifies the given stream exists and its consumer group is
// present, aborting bootstrap otherwise.
func (l *Lifecycle) EnsureReady(ctx context.Context, streamName, group string) error {
	if err := l.StreamClient.EnsureStream(ctx, streamName); err != nil {
		return err
	}
	return l.StreamClient.EnsureGroup(ctx, streamName, group)
}

// Healthy reports whether both side-state connections are reachable. A
// side-state disconnect is fatal, so this also backs the Health/Metrics
// Surface's /healthz.
func (l *Lifecycle) Healthy(r *http.Request) error {
	ctx := r.Context()
	if err := l.BlockingRedis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("blocking redis unreachable: %w", err)
	}
	if err := l.CommandRedis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("command redis unreachable: %w", err)
	}
	return nil
}

// Shutdown runs the graceful-shutdown sequence: close SMTP transport,
// clear form-store authentication, disconnect both side-state
// connections.
func (l *Lifecycle) Shutdown() error {
	if err := l.Sender.Close(); err != nil {
		return fmt.Errorf("close smtp transport: %w", err)
	}
	l.Forms.ClearAuth()
	if err := l.BlockingRedis.Close(); err != nil {
		return fmt.Errorf("close blocking redis: %w", err)
	}
	if err := l.CommandRedis.Close(); err != nil {
		return fmt.Errorf("close command redis: %w", err)
	}
	return nil
}
