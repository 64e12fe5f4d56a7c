// Package mode implements the mode selector: the --retrier flag binds the
// stream name, consumer group, consumer name, idle threshold, and
// dispatch style used by the Consumer Loop and Attempt Executor.
package mode

import (
	"fmt"
	"os"
	"time"
)

// Kind distinguishes the two operating modes.
type Kind int

const (
	// Primary consumes the main "messages" stream.
	Primary Kind = iota
	// Retry consumes the "retry_queue" stream.
	Retry
)

func (k Kind) String() string {
	if k == Retry {
		return "retry"
	}
	return "primary"
}

// Bindings are the values that vary between the primary and retry modes.
type Bindings struct {
	Kind         Kind
	Stream       string
	Group        string
	ConsumerName string
	// IdleThreshold is the XAUTOCLAIM minimum-idle-time: 5 minutes in
	// primary mode, 90 minutes in retry mode.
	IdleThreshold time.Duration
	// Delayed is true when dispatch must wait fail_count * RETRY_INTERVAL
	// (a Go duration, 15m by default) before invoking the Executor (retry
	// mode only).
	Delayed bool
	// Concurrent is true when entries in a batch are dispatched onto
	// independent goroutines rather than processed strictly in sequence.
	Concurrent bool
}

const (
	primaryStream = "messages"
	retryStream   = "retry_queue"

	primaryGroup = "mailer-group"
	retryGroup   = "retrier-group"

	primaryIdleThreshold = 5 * time.Minute
	retryIdleThreshold   = 90 * time.Minute
)

// RetryStream is the enqueue target for retry envelopes in both modes:
// a primary-mode transient failure enqueues here, and a retry-mode
// transient failure that hasn't hit MAILER_RETRIES re-enqueues here too.
const RetryStream = retryStream

// Select builds the Bindings for retrier, using the process pid to form a
// unique consumer name ("mailer-<pid>" / "retrier-<pid>").
func Select(retrier bool) Bindings {
	pid := os.Getpid()
	if retrier {
		return Bindings{
			Kind:          Retry,
			Stream:        retryStream,
			Group:         retryGroup,
			ConsumerName:  fmt.Sprintf("retrier-%d", pid),
			IdleThreshold: retryIdleThreshold,
			Delayed:       true,
			Concurrent:    true,
		}
	}
	return Bindings{
		Kind:          Primary,
		Stream:        primaryStream,
		Group:         primaryGroup,
		ConsumerName:  fmt.Sprintf("mailer-%d", pid),
		IdleThreshold: primaryIdleThreshold,
		Delayed:       false,
		Concurrent:    false,
	}
}
