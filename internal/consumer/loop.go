// Package consumer runs the read-process-commit loop: per process, it
// creates its consumer group, reclaims stalled entries once at startup,
// then long-polls the bound stream and dispatches decoded entries to the
// Attempt Executor according to the active mode's bindings — sequentially
// in primary mode, bounded-concurrently (via golang.org/x/sync/semaphore)
// in retry mode.
package consumer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"safe-notify/internal/mode"
	"safe-notify/internal/retry"
	"safe-notify/internal/stream"
)

// Executor is the subset of executor.Executor the loop dispatches to.
type Executor interface {
	Run(ctx context.Context, b mode.Bindings, entryID string, msg stream.Message)
}

// SideState is the subset of sidestate.Store the loop needs for
// decode-failure teardown.
type SideState interface {
	DeleteDedup(ctx context.Context, hex string) error
	AckAndRemove(ctx context.Context, streamName, group, entryID string) error
}

// Reaper is the subset of attachment.Reaper the loop needs.
type Reaper interface {
	ReapCount(ctx context.Context, hex string, attachmentCount int)
}

// DeadLetter is the subset of deadletter.Sink the loop needs.
type DeadLetter interface {
	AppendRaw(ctx context.Context, raw map[string]string, attachmentCount int, reason string) error
}

// Logger is the structured-logging subset the loop needs.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
}

// Metrics is the subset of the health surface's counters the loop updates.
type Metrics interface {
	IncReclaimed()
	ObserveRetryDelay(seconds float64)
}

// Config carries the handful of knobs the loop's algorithm depends on.
type Config struct {
	BatchSize     int64
	BlockInterval time.Duration
	RetryInterval time.Duration
	MaxInFlight   int64
}

// Loop runs the reclaim-then-poll-then-dispatch cycle for one mode.
type Loop struct {
	streamClient *stream.Client
	exec         Executor
	state        SideState
	reaper       Reaper
	deadLtr      DeadLetter
	log          Logger
	metrics      Metrics
	cfg          Config
}

// New builds a Loop from its collaborators.
func New(streamClient *stream.Client, exec Executor, state SideState, reaper Reaper, deadLtr DeadLetter, log Logger, metrics Metrics, cfg Config) *Loop {
	return &Loop{streamClient: streamClient, exec: exec, state: state, reaper: reaper, deadLtr: deadLtr, log: log, metrics: metrics, cfg: cfg}
}

// Run creates the bound consumer group if needed, reclaims any stalled
// entries once, then blocks reading and dispatching until ctx is
// cancelled by the process's graceful-shutdown signal handling. A failed
// read from the stream ends the loop with an error, which aborts the
// process.
func (l *Loop) Run(ctx context.Context, b mode.Bindings) error {
	if err := l.streamClient.EnsureGroup(ctx, b.Stream, b.Group); err != nil {
		return err
	}

	sem := semaphore.NewWeighted(l.cfg.MaxInFlight)
	l.reclaimStalled(ctx, b, sem)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entries, err := l.streamClient.ReadNew(ctx, b.Stream, b.Group, b.ConsumerName, l.cfg.BatchSize, l.cfg.BlockInterval)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("consumer loop: read from %q: %w", b.Stream, err)
		}

		for _, entry := range entries {
			l.dispatch(ctx, b, entry, sem)
		}
	}
}

// reclaimStalled performs the startup-only auto-claim step: only attempted
// when the group has pending entries, using the mode-dependent idle
// threshold. Reclaimed entries share sem with the main read loop.
func (l *Loop) reclaimStalled(ctx context.Context, b mode.Bindings, sem *semaphore.Weighted) {
	pending, err := l.streamClient.PendingCount(ctx, b.Stream, b.Group)
	if err != nil {
		l.log.Warnw("consumer loop: pending count failed", "stream", b.Stream, "error", err)
		return
	}
	if pending == 0 {
		return
	}

	claimed, err := l.streamClient.AutoClaim(ctx, b.Stream, b.Group, b.ConsumerName, b.IdleThreshold, pending)
	if err != nil {
		l.log.Warnw("consumer loop: auto-claim failed", "stream", b.Stream, "error", err)
		return
	}
	l.log.Infow("consumer loop: reclaimed stalled entries", "stream", b.Stream, "count", len(claimed))
	for range claimed {
		l.metrics.IncReclaimed()
	}

	for _, entry := range claimed {
		l.dispatch(ctx, b, entry, sem)
	}
}

// dispatch decodes one entry and routes it to the Executor, synchronously
// in primary mode and on a delay-then-run goroutine (bounded by sem) in
// retry mode.
func (l *Loop) dispatch(ctx context.Context, b mode.Bindings, entry stream.Entry, sem *semaphore.Weighted) {
	msg, err := stream.Decode(entry.Values)
	if err != nil {
		l.handleDecodeFailure(ctx, b, entry, err)
		return
	}

	if !b.Concurrent {
		l.exec.Run(ctx, b, entry.ID, msg)
		return
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	delay := retry.Delay(msg.FailCount, l.cfg.RetryInterval)
	l.metrics.ObserveRetryDelay(delay.Seconds())
	go func() {
		defer sem.Release(1)
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		l.exec.Run(ctx, b, entry.ID, msg)
	}()
}

// handleDecodeFailure ensures a malformed entry never reaches the
// Executor. Its attachments (inferred from the defensively-recovered
// count on ErrMalformed) are reaped, the raw payload is dead-lettered, its
// dedup key deleted, and it is acknowledged.
func (l *Loop) handleDecodeFailure(ctx context.Context, b mode.Bindings, entry stream.Entry, decodeErr error) {
	attachmentCount := 0
	if malformed, ok := decodeErr.(*stream.ErrMalformed); ok {
		attachmentCount = malformed.AttachmentCount
	}

	l.log.Warnw("consumer loop: decode failure", "stream", b.Stream, "entry_id", entry.ID, "error", decodeErr)

	if err := l.deadLtr.AppendRaw(ctx, entry.Values, attachmentCount, decodeErr.Error()); err != nil {
		l.log.Warnw("consumer loop: dead-letter append failed", "entry_id", entry.ID, "error", err)
	}

	if hex, ok := entry.Values["hex"]; ok && hex != "" {
		if err := l.state.DeleteDedup(ctx, hex); err != nil {
			l.log.Warnw("consumer loop: dedup delete failed", "hex", hex, "error", err)
		}
		if attachmentCount > 0 {
			l.reaper.ReapCount(ctx, hex, attachmentCount)
		}
	}

	if err := l.state.AckAndRemove(ctx, b.Stream, b.Group, entry.ID); err != nil {
		l.log.Warnw("consumer loop: ack failed", "entry_id", entry.ID, "error", err)
	}
}
