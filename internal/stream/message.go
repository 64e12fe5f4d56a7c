// Package stream decodes and encodes the flat key/value entries carried by
// the message and retry Redis streams, and wraps the consumer-group
// operations (group creation, XAUTOCLAIM reclamation, XREADGROUP long-poll,
// XACK/XDEL teardown) used by the consumer loop.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ReservedOTP is the hex sentinel that routes a Message to the OTP
// synthesis branch instead of the template renderer.
const ReservedOTP = "otp"

// Field is one {name, value} pair from a Message's fields array. A name
// ending in "[]" indicates the field is part of a multi-valued group.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a decoded stream entry.
type Message struct {
	// ID is the opaque entry identifier assigned by the stream. Decode does
	// not set it; the consumer loop passes the entry id (Entry.ID) to the
	// Executor alongside the Message.
	ID string

	Hex             string
	FormID          string
	Origin          string
	Fields          []Field
	AttachmentCount int

	// FailCount is 0 for a primary-stream entry and the prior attempt
	// count for a retry-stream entry.
	FailCount int

	// OrigID correlates a retry-stream entry back to the primary-stream
	// entry id it was enqueued from. Redis rejects an XADD id that is not
	// strictly greater than the stream's last id, so retry envelopes
	// always let Redis auto-assign their id and carry the original id
	// here instead of reusing it.
	OrigID string
}

// ErrMalformed is returned by Decode when a required field is missing or a
// numeric/JSON field cannot be parsed. It carries the best-effort-recovered
// attachment count so the caller can still attempt attachment cleanup.
type ErrMalformed struct {
	Reason          string
	AttachmentCount int
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed stream entry: %s", e.Reason)
}

// Decode turns an entry's key/value map (redis.XMessage.Values as
// converted by FlattenXMessage) into a Message. Unknown keys are
// ignored. A missing hex, form_id, fields, or origin, or an unparseable
// attachment_count or fields payload, is a decode failure.
func Decode(kv map[string]string) (Message, error) {
	attachmentCount, countErr := parseAttachmentCount(kv)

	hex, hasHex := kv["hex"]
	formID, hasFormID := kv["form_id"]
	origin, hasOrigin := kv["origin"]
	rawFields, hasFields := kv["fields"]

	if !hasHex || hex == "" {
		return Message{}, &ErrMalformed{Reason: "missing hex", AttachmentCount: attachmentCount}
	}
	if !hasFormID || formID == "" {
		return Message{}, &ErrMalformed{Reason: "missing form_id", AttachmentCount: attachmentCount}
	}
	if !hasOrigin {
		return Message{}, &ErrMalformed{Reason: "missing origin", AttachmentCount: attachmentCount}
	}
	if !hasFields {
		return Message{}, &ErrMalformed{Reason: "missing fields", AttachmentCount: attachmentCount}
	}
	if countErr != nil {
		return Message{}, &ErrMalformed{Reason: countErr.Error(), AttachmentCount: attachmentCount}
	}

	var fields []Field
	if err := json.Unmarshal([]byte(rawFields), &fields); err != nil {
		return Message{}, &ErrMalformed{Reason: "invalid fields JSON: " + err.Error(), AttachmentCount: attachmentCount}
	}

	failCount := 0
	if raw, ok := kv["fail_count"]; ok && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Message{}, &ErrMalformed{Reason: "invalid fail_count: " + err.Error(), AttachmentCount: attachmentCount}
		}
		failCount = n
	}

	return Message{
		Hex:             hex,
		FormID:          formID,
		Origin:          origin,
		Fields:          fields,
		AttachmentCount: attachmentCount,
		FailCount:       failCount,
		OrigID:          kv["orig_id"],
	}, nil
}

// parseAttachmentCount recovers attachment_count defensively: rather than
// assuming the key lives at a fixed positional offset, it is looked up by
// key name directly and falls back to 0 when absent or unparseable so
// decode-failure attachment cleanup never operates on a garbage count.
func parseAttachmentCount(kv map[string]string) (int, error) {
	raw, ok := kv["attachment_count"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid attachment_count: " + err.Error())
	}
	if n < 0 {
		return 0, errors.New("negative attachment_count")
	}
	return n, nil
}

// Encode is the inverse of Decode, producing the flat key/value map used
// for XADD payloads. fail_count is omitted when zero: it is only ever
// present on retry-stream entries.
func (m Message) Encode() (map[string]any, error) {
	raw, err := json.Marshal(m.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	values := map[string]any{
		"hex":              m.Hex,
		"form_id":          m.FormID,
		"origin":           m.Origin,
		"fields":           string(raw),
		"attachment_count": strconv.Itoa(m.AttachmentCount),
	}
	if m.FailCount > 0 {
		values["fail_count"] = strconv.Itoa(m.FailCount)
	}
	if m.OrigID != "" {
		values["orig_id"] = m.OrigID
	}
	return values, nil
}

// FlattenXMessage converts the values map redis.XMessage.Values already
// returns into the map[string]string this package's Decode expects.
func FlattenXMessage(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
