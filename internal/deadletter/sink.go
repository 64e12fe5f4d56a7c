// Package deadletter builds and appends terminal-failure records to the
// append-only `failed` list.
package deadletter

import (
	"context"
	"encoding/json"

	"safe-notify/internal/sidestate"
	"safe-notify/internal/stream"
)

// Appender is the subset of sidestate.Store the sink needs.
type Appender interface {
	AppendFailed(ctx context.Context, rec sidestate.FailedRecord) error
}

// Sink appends dead-letter records built from a decoded Message or a raw
// (decode-failed) entry.
type Sink struct {
	store Appender
}

// New wraps the side-state store's AppendFailed.
func New(store Appender) *Sink {
	return &Sink{store: store}
}

// Append records a terminal failure for a successfully decoded Message.
func (s *Sink) Append(ctx context.Context, msg stream.Message, reason string) error {
	fields, _ := json.Marshal(msg.Fields)
	return s.store.AppendFailed(ctx, sidestate.FailedRecord{
		Hex:             msg.Hex,
		FormID:          msg.FormID,
		Fields:          string(fields),
		Origin:          msg.Origin,
		AttachmentCount: msg.AttachmentCount,
		Error:           reason,
	})
}

// AppendRaw records a terminal failure for an entry that never made it
// through the codec — the raw key/value payload is preserved verbatim so
// it remains inspectable offline.
func (s *Sink) AppendRaw(ctx context.Context, raw map[string]string, attachmentCount int, reason string) error {
	rawJSON, _ := json.Marshal(raw)
	return s.store.AppendFailed(ctx, sidestate.FailedRecord{
		Hex:             raw["hex"],
		FormID:          raw["form_id"],
		Fields:          string(rawJSON),
		Origin:          raw["origin"],
		AttachmentCount: attachmentCount,
		Error:           reason,
	})
}
