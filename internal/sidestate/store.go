// Package sidestate manages the Redis-backed dedup keys and attachment
// manifests that sit alongside the message streams, plus the dead-letter
// append and ack/enqueue operations the Attempt Executor and Consumer
// Loop delegate to it.
//
// The side-state layer is split across two Redis connections: one
// dedicated to the Consumer Loop's blocking XREADGROUP calls, one for
// every other (non-blocking) command issued while that blocking read is
// outstanding. Store's rdb field and the stream.Client it delegates
// ack_and_remove/enqueue_retry to are both bound to the command
// connection; the blocking connection's stream.Client is owned directly
// by the Consumer Loop.
package sidestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"safe-notify/internal/stream"
)

// AttachmentFile is one entry in an attachment manifest.
type AttachmentFile struct {
	Name     string `json:"name"`
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

// AttachmentManifest is the full `attachments:<hex>` record.
type AttachmentManifest struct {
	Files []AttachmentFile `json:"files"`
}

// FailedRecord is one entry appended to the `failed` dead-letter list.
type FailedRecord struct {
	Hex             string `json:"hex"`
	FormID          string `json:"form_id"`
	Fields          string `json:"fields"`
	Origin          string `json:"origin"`
	AttachmentCount int    `json:"attachment_count"`
	Error           string `json:"error"`
}

const (
	dedupKeyPrefix       = "streams:"
	attachmentsKeyPrefix = "attachments:"
	attachmentsField     = "files"
	failedListKey        = "failed"
)

// Store is the command-connection side-state client. It also exposes the
// stream ack/enqueue operations under the same side-state interface,
// delegating to the shared stream.Client.
type Store struct {
	rdb    *redis.Client
	stream *stream.Client
}

// New wraps the command Redis connection and the stream client used for
// ack_and_remove / enqueue_retry.
func New(rdb *redis.Client, sc *stream.Client) *Store {
	return &Store{rdb: rdb, stream: sc}
}

func dedupKey(hex string) string       { return dedupKeyPrefix + hex }
func attachmentsKey(hex string) string { return attachmentsKeyPrefix + hex }

// DeleteDedup removes the `streams:<hex>` presence marker. Safe to call
// when the key is already absent.
func (s *Store) DeleteDedup(ctx context.Context, hex string) error {
	if err := s.rdb.Del(ctx, dedupKey(hex)).Err(); err != nil {
		return fmt.Errorf("delete dedup key for %q: %w", hex, err)
	}
	return nil
}

// LoadAttachments returns the manifest for hex, or nil if none exists.
func (s *Store) LoadAttachments(ctx context.Context, hex string) (*AttachmentManifest, error) {
	raw, err := s.rdb.HGet(ctx, attachmentsKey(hex), attachmentsField).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attachment manifest for %q: %w", hex, err)
	}

	var files []AttachmentFile
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil, fmt.Errorf("decode attachment manifest for %q: %w", hex, err)
	}
	return &AttachmentManifest{Files: files}, nil
}

// DeleteAttachmentsEntry removes the manifest key. It does not touch the
// object store; that is the Attachment Reaper's job.
func (s *Store) DeleteAttachmentsEntry(ctx context.Context, hex string) error {
	if err := s.rdb.Del(ctx, attachmentsKey(hex)).Err(); err != nil {
		return fmt.Errorf("delete attachment manifest for %q: %w", hex, err)
	}
	return nil
}

// AppendFailed appends a record to the append-only dead-letter list.
func (s *Store) AppendFailed(ctx context.Context, rec FailedRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode failed record for %q: %w", rec.Hex, err)
	}
	if err := s.rdb.RPush(ctx, failedListKey, raw).Err(); err != nil {
		return fmt.Errorf("append dead-letter record for %q: %w", rec.Hex, err)
	}
	return nil
}

// AckAndRemove acknowledges and removes entryID from streamName/group.
func (s *Store) AckAndRemove(ctx context.Context, streamName, group, entryID string) error {
	return s.stream.Ack(ctx, streamName, group, entryID)
}

// EnqueueRetry appends msg to the retry stream with an auto-assigned id,
// carrying the original entry id for correlation.
func (s *Store) EnqueueRetry(ctx context.Context, retryStream string, originalID string, msg stream.Message) (string, error) {
	msg.OrigID = originalID
	return s.stream.Enqueue(ctx, retryStream, msg)
}
