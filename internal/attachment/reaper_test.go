package attachment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"

	"safe-notify/internal/sidestate"
)

type fakeStore struct{ mock.Mock }

func (f *fakeStore) LoadAttachments(ctx context.Context, hex string) (*sidestate.AttachmentManifest, error) {
	args := f.Called(ctx, hex)
	m, _ := args.Get(0).(*sidestate.AttachmentManifest)
	return m, args.Error(1)
}

func (f *fakeStore) DeleteAttachmentsEntry(ctx context.Context, hex string) error {
	return f.Called(ctx, hex).Error(0)
}

type fakeLogger struct{ mock.Mock }

func (f *fakeLogger) Warnw(msg string, keysAndValues ...interface{}) {
	f.Called(msg, keysAndValues)
}

func newLogger() *fakeLogger {
	l := &fakeLogger{}
	l.On("Warnw", mock.Anything, mock.Anything).Maybe()
	return l
}

// Reap never touches the object store when there is nothing to delete, so
// these paths are exercisable without a live MinIO connection.

func TestReap_NoManifestIsANoop(t *testing.T) {
	store := &fakeStore{}
	store.On("LoadAttachments", mock.Anything, "hex1").Return(nil, nil)

	r := New(store, nil, "bucket", newLogger())
	r.Reap(context.Background(), "hex1")

	store.AssertNotCalled(t, "DeleteAttachmentsEntry", mock.Anything, mock.Anything)
}

func TestReap_EmptyManifestIsANoop(t *testing.T) {
	store := &fakeStore{}
	store.On("LoadAttachments", mock.Anything, "hex2").
		Return(&sidestate.AttachmentManifest{Files: nil}, nil)

	r := New(store, nil, "bucket", newLogger())
	r.Reap(context.Background(), "hex2")

	store.AssertNotCalled(t, "DeleteAttachmentsEntry", mock.Anything, mock.Anything)
}

func TestReap_ManifestLoadFailureLogsAndReturns(t *testing.T) {
	store := &fakeStore{}
	store.On("LoadAttachments", mock.Anything, "hex3").Return(nil, errors.New("redis down"))
	log := newLogger()

	r := New(store, nil, "bucket", log)
	r.Reap(context.Background(), "hex3")

	log.AssertCalled(t, "Warnw", "attachment reaper: failed to load manifest", mock.Anything)
	store.AssertNotCalled(t, "DeleteAttachmentsEntry", mock.Anything, mock.Anything)
}

func TestReapCount_ZeroAttachmentsSkipsLookupEntirely(t *testing.T) {
	store := &fakeStore{}
	r := New(store, nil, "bucket", newLogger())

	r.ReapCount(context.Background(), "hex4", 0)

	store.AssertNotCalled(t, "LoadAttachments", mock.Anything, mock.Anything)
}
