// Package executor implements the Attempt Executor: for a decoded
// Message, it runs the reserved-sentinel/form-lookup/render/send algorithm
// and performs the teardown cleanup (dedup delete, stream acknowledge,
// attachment reap, dead-letter append, or retry enqueue) exactly once per
// invocation.
package executor

import (
	"context"
	"errors"
	"fmt"

	"safe-notify/internal/formstore"
	"safe-notify/internal/mode"
	"safe-notify/internal/renderer"
	"safe-notify/internal/smtp"
	"safe-notify/internal/stream"
)

// FormStore is the subset of formstore.Client the Executor needs.
type FormStore interface {
	GetForm(ctx context.Context, formID string) (*formstore.Form, error)
}

// SideState is the subset of sidestate.Store the Executor needs.
type SideState interface {
	DeleteDedup(ctx context.Context, hex string) error
	AckAndRemove(ctx context.Context, streamName, group, entryID string) error
	EnqueueRetry(ctx context.Context, retryStream, originalID string, msg stream.Message) (string, error)
}

// DeadLetter is the subset of deadletter.Sink the Executor needs.
type DeadLetter interface {
	Append(ctx context.Context, msg stream.Message, reason string) error
}

// Reaper is the subset of attachment.Reaper the Executor needs.
type Reaper interface {
	Reap(ctx context.Context, hex string)
}

// Logger is the structured-logging subset the Executor needs.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
}

// Metrics is the subset of the health surface's counters the Executor
// updates.
type Metrics interface {
	IncSent()
	IncTransient()
	IncPermanent()
	IncDeadLettered()
}

// Config carries the handful of knobs the Executor's algorithm depends on.
type Config struct {
	MaxRetries  int
	AttachmentBaseURL string
}

// Executor runs one Message to completion.
type Executor struct {
	forms    FormStore
	render   renderer.Renderer
	sender   smtp.Sender
	state    SideState
	deadLtr  DeadLetter
	reaper   Reaper
	log      Logger
	metrics  Metrics
	cfg      Config
}

// New builds an Executor from its collaborators.
func New(forms FormStore, render renderer.Renderer, sender smtp.Sender, state SideState, deadLtr DeadLetter, reaper Reaper, log Logger, metrics Metrics, cfg Config) *Executor {
	return &Executor{
		forms: forms, render: render, sender: sender, state: state,
		deadLtr: deadLtr, reaper: reaper, log: log, metrics: metrics, cfg: cfg,
	}
}

// Run executes the full algorithm for one entry from streamName/group,
// identified by entryID, in the given mode.
func (e *Executor) Run(ctx context.Context, b mode.Bindings, entryID string, msg stream.Message) {
	form, err := e.forms.GetForm(ctx, msg.FormID)
	if err != nil {
		if errors.Is(err, formstore.ErrNotFound) {
			e.terminalNotFound(ctx, b, entryID, msg)
			return
		}
		// A transport error talking to the form store is not one of the
		// taxonomy's named branches; treat conservatively as a permanent
		// failure for this attempt rather than looping forever on a
		// dependency that may never recover in-band.
		e.log.Warnw("form store lookup failed", "hex", msg.Hex, "form_id", msg.FormID, "error", err)
		e.terminalFailure(ctx, b, entryID, msg, form, fmt.Sprintf("form store error: %v", err), true)
		return
	}

	if msg.Hex == stream.ReservedOTP {
		e.runOTP(ctx, b, entryID, msg, form)
		return
	}

	res := e.render.Render(*form, msg.Fields, msg.Origin, e.attachmentURL(msg))
	if res.Err != nil {
		e.metrics.IncPermanent()
		e.terminalFailure(ctx, b, entryID, msg, form, fmt.Sprintf("render failed: %v", res.Err), true)
		return
	}

	outcome, err := e.sender.Send(ctx, res.Mail, msg.Hex)
	switch outcome {
	case smtp.Success:
		e.metrics.IncSent()
		e.terminalSuccess(ctx, b, entryID, msg, form)
	case smtp.Permanent:
		e.metrics.IncPermanent()
		e.terminalFailure(ctx, b, entryID, msg, form, fmt.Sprintf("send failed: %v", err), true)
	case smtp.Transient:
		e.metrics.IncTransient()
		e.retryBranch(ctx, b, entryID, msg, form, err)
	}
}

func (e *Executor) attachmentURL(msg stream.Message) *string {
	if msg.AttachmentCount <= 0 {
		return nil
	}
	url := fmt.Sprintf("%s/download/%s", e.cfg.AttachmentBaseURL, msg.Hex)
	return &url
}

// runOTP synthesizes a fixed OTP mail using the form's handler from/to,
// skipping the renderer and all attachment handling even when
// attachment_count > 0. The form lookup itself is not skipped — only
// rendering is — and the handler addresses it uses come from the same
// form record the normal path fetches.
func (e *Executor) runOTP(ctx context.Context, b mode.Bindings, entryID string, msg stream.Message, form *formstore.Form) {
	code := ""
	if len(msg.Fields) > 0 {
		code = msg.Fields[0].Value
	}

	mail := &renderer.Mail{
		FromName:  form.Handler.FromName,
		FromEmail: form.Handler.FromEmail,
		To:        form.Handler.To,
		ReplyTo:   form.Handler.ReplyTo,
		Subject:   fmt.Sprintf("OTP Code: %s", code),
		Body:      fmt.Sprintf("Your one-time code is %s", code),
	}

	outcome, err := e.sender.Send(ctx, mail, msg.Hex)
	switch outcome {
	case smtp.Success:
		e.metrics.IncSent()
		e.terminalSuccess(ctx, b, entryID, msg, form)
	case smtp.Permanent:
		e.metrics.IncPermanent()
		e.terminalFailure(ctx, b, entryID, msg, form, fmt.Sprintf("otp send failed: %v", err), false)
	case smtp.Transient:
		e.metrics.IncTransient()
		e.retryBranch(ctx, b, entryID, msg, form, err)
	}
}

// terminalSuccess handles a successful send: delete dedup if the form
// disallows duplicates, acknowledge, and leave attachments intact.
func (e *Executor) terminalSuccess(ctx context.Context, b mode.Bindings, entryID string, msg stream.Message, form *formstore.Form) {
	e.maybeDeleteDedup(ctx, form, msg.Hex)
	e.ack(ctx, b, entryID)
}

// terminalFailure handles render-permanent and send-permanent failures:
// dead-letter, delete dedup if applicable, acknowledge, and reap
// attachments (they were present and the message is now terminal).
func (e *Executor) terminalFailure(ctx context.Context, b mode.Bindings, entryID string, msg stream.Message, form *formstore.Form, reason string, reap bool) {
	if err := e.deadLtr.Append(ctx, msg, reason); err != nil {
		e.log.Warnw("dead-letter append failed", "hex", msg.Hex, "error", err)
	} else {
		e.metrics.IncDeadLettered()
	}
	e.maybeDeleteDedup(ctx, form, msg.Hex)
	e.ack(ctx, b, entryID)
	if reap && msg.AttachmentCount > 0 {
		e.reaper.Reap(ctx, msg.Hex)
	}
}

// terminalNotFound handles the lookup-absent branch: unconditional dedup
// delete (no form record to consult allow_duplicates on), dead-letter,
// acknowledge, reap.
func (e *Executor) terminalNotFound(ctx context.Context, b mode.Bindings, entryID string, msg stream.Message) {
	if err := e.deadLtr.Append(ctx, msg, "form not found"); err != nil {
		e.log.Warnw("dead-letter append failed", "hex", msg.Hex, "error", err)
	} else {
		e.metrics.IncDeadLettered()
	}
	if err := e.state.DeleteDedup(ctx, msg.Hex); err != nil {
		e.log.Warnw("dedup delete failed", "hex", msg.Hex, "error", err)
	}
	e.ack(ctx, b, entryID)
	if msg.AttachmentCount > 0 {
		e.reaper.Reap(ctx, msg.Hex)
	}
}

// retryBranch enqueues a retry envelope in primary mode, or in retry mode
// enqueues again unless fail_count would exceed MAILER_RETRIES, in which
// case dead-letters instead.
func (e *Executor) retryBranch(ctx context.Context, b mode.Bindings, entryID string, msg stream.Message, form *formstore.Form, sendErr error) {
	if b.Kind == mode.Retry && msg.FailCount+1 > e.cfg.MaxRetries {
		if err := e.deadLtr.Append(ctx, msg, "max retries reached"); err != nil {
			e.log.Warnw("dead-letter append failed", "hex", msg.Hex, "error", err)
		} else {
			e.metrics.IncDeadLettered()
		}
		e.maybeDeleteDedup(ctx, form, msg.Hex)
		e.ack(ctx, b, entryID)
		if msg.AttachmentCount > 0 {
			e.reaper.Reap(ctx, msg.Hex)
		}
		return
	}

	e.enqueueRetry(ctx, entryID, msg)

	// The dedup key is deleted on every exit path when the form disallows
	// duplicates, including a retry-stream enqueue from primary mode. This
	// permits a duplicate ingestion to race the in-flight retry; a safer
	// design would preserve the dedup key until the retry reaches a
	// terminal state, but this is the behavior kept here rather than
	// silently tightened.
	e.maybeDeleteDedup(ctx, form, msg.Hex)
	e.ack(ctx, b, entryID)
	_ = sendErr
}

// enqueueRetry builds and enqueues a retry envelope with
// fail_count = prior + 1. The caller retains sole responsibility for the
// ack/dedup-delete that follows.
func (e *Executor) enqueueRetry(ctx context.Context, entryID string, msg stream.Message) {
	next := msg
	next.FailCount = msg.FailCount + 1
	if _, err := e.state.EnqueueRetry(ctx, mode.RetryStream, entryID, next); err != nil {
		// If the retry enqueue itself fails, this attempt's outcome is
		// absorbed here and the entry is still acknowledged — there is no
		// in-band way to force redelivery once the consumer group has
		// already delivered it, so silently losing a retry here is
		// preferable to acknowledging neither stream's copy.
		e.log.Warnw("retry enqueue failed", "hex", msg.Hex, "error", err)
	}
}

func (e *Executor) maybeDeleteDedup(ctx context.Context, form *formstore.Form, hex string) {
	if form != nil && form.AllowDuplicates {
		return
	}
	if err := e.state.DeleteDedup(ctx, hex); err != nil {
		e.log.Warnw("dedup delete failed", "hex", hex, "error", err)
	}
}

func (e *Executor) ack(ctx context.Context, b mode.Bindings, entryID string) {
	if err := e.state.AckAndRemove(ctx, b.Stream, b.Group, entryID); err != nil {
		e.log.Warnw("ack failed", "entry_id", entryID, "error", err)
	}
}
