// Package attachment implements the Attachment Reaper: given a hex, it
// loads the manifest from the side-state store, bulk deletes every
// referenced blob from the object store, then removes the manifest entry.
package attachment

import (
	"context"

	"github.com/minio/minio-go/v7"

	"safe-notify/internal/sidestate"
)

// Store is the subset of sidestate.Store the reaper needs.
type Store interface {
	LoadAttachments(ctx context.Context, hex string) (*sidestate.AttachmentManifest, error)
	DeleteAttachmentsEntry(ctx context.Context, hex string) error
}

// Logger is the subset of a structured logger the reaper needs; kept as an
// interface so callers can pass a *zap.SugaredLogger directly.
type Logger interface {
	Warnw(msg string, keysAndValues ...interface{})
}

// Reaper deletes attachment manifests and their backing blobs.
type Reaper struct {
	store  Store
	object *minio.Client
	bucket string
	log    Logger
}

// New builds a Reaper against the given side-state store and object-store
// bucket.
func New(store Store, object *minio.Client, bucket string, log Logger) *Reaper {
	return &Reaper{store: store, object: object, bucket: bucket, log: log}
}

// Reap loads the manifest for hex and, if present, deletes every blob it
// references plus the manifest entry itself. Object-store failures are
// logged and swallowed: reaping is best-effort and is never retried
// in-band — a missed blob is left for upstream garbage collection.
func (r *Reaper) Reap(ctx context.Context, hex string) {
	manifest, err := r.store.LoadAttachments(ctx, hex)
	if err != nil {
		r.log.Warnw("attachment reaper: failed to load manifest", "hex", hex, "error", err)
		return
	}
	if manifest == nil || len(manifest.Files) == 0 {
		return
	}

	objectsCh := make(chan minio.ObjectInfo, len(manifest.Files))
	go func() {
		defer close(objectsCh)
		for _, f := range manifest.Files {
			objectsCh <- minio.ObjectInfo{Key: f.Key}
		}
	}()

	for result := range r.object.RemoveObjects(ctx, r.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			r.log.Warnw("attachment reaper: failed to delete blob", "hex", hex, "key", result.ObjectName, "error", result.Err)
		}
	}

	if err := r.store.DeleteAttachmentsEntry(ctx, hex); err != nil {
		r.log.Warnw("attachment reaper: failed to delete manifest entry", "hex", hex, "error", err)
	}
}

// ReapCount is like Reap but takes the attachment count inferred from a
// decode failure instead of a manifest lookup key match; it still routes
// through the manifest (the count is only used by the Consumer Loop to
// decide whether reaping is worth attempting at all).
func (r *Reaper) ReapCount(ctx context.Context, hex string, attachmentCount int) {
	if attachmentCount <= 0 {
		return
	}
	r.Reap(ctx, hex)
}
