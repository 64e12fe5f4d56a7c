package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/sync/semaphore"

	"safe-notify/internal/mode"
	"safe-notify/internal/stream"
)

type fakeExecutor struct{ mock.Mock }

func (f *fakeExecutor) Run(ctx context.Context, b mode.Bindings, entryID string, msg stream.Message) {
	f.Called(ctx, b, entryID, msg)
}

type fakeState struct{ mock.Mock }

func (f *fakeState) DeleteDedup(ctx context.Context, hex string) error {
	return f.Called(ctx, hex).Error(0)
}

func (f *fakeState) AckAndRemove(ctx context.Context, streamName, group, entryID string) error {
	return f.Called(ctx, streamName, group, entryID).Error(0)
}

type fakeReaper struct{ mock.Mock }

func (f *fakeReaper) ReapCount(ctx context.Context, hex string, attachmentCount int) {
	f.Called(ctx, hex, attachmentCount)
}

type fakeDeadLetter struct{ mock.Mock }

func (f *fakeDeadLetter) AppendRaw(ctx context.Context, raw map[string]string, attachmentCount int, reason string) error {
	return f.Called(ctx, raw, attachmentCount, reason).Error(0)
}

type fakeLogger struct{ mock.Mock }

func (f *fakeLogger) Infow(msg string, kv ...interface{}) { f.Called(msg, kv) }
func (f *fakeLogger) Warnw(msg string, kv ...interface{}) { f.Called(msg, kv) }

func newFakeLogger() *fakeLogger {
	l := &fakeLogger{}
	l.On("Infow", mock.Anything, mock.Anything).Maybe()
	l.On("Warnw", mock.Anything, mock.Anything).Maybe()
	return l
}

type fakeMetrics struct{ mock.Mock }

func (f *fakeMetrics) IncReclaimed()                     { f.Called() }
func (f *fakeMetrics) ObserveRetryDelay(seconds float64) { f.Called(seconds) }

func newFakeMetrics() *fakeMetrics {
	m := &fakeMetrics{}
	m.On("IncReclaimed").Maybe()
	m.On("ObserveRetryDelay", mock.Anything).Maybe()
	return m
}

func validEntry(id string) stream.Entry {
	return stream.Entry{
		ID: id,
		Values: map[string]string{
			"hex":              "abc123",
			"form_id":          "F1",
			"origin":           "web",
			"fields":           `[{"name":"name","value":"Ada"}]`,
			"attachment_count": "0",
		},
	}
}

func TestDispatch_PrimaryModeRunsSynchronously(t *testing.T) {
	exec, state, reaper, dl := &fakeExecutor{}, &fakeState{}, &fakeReaper{}, &fakeDeadLetter{}
	log := newFakeLogger()
	exec.On("Run", mock.Anything, mock.Anything, "1-0", mock.Anything).Return()

	l := New(nil, exec, state, reaper, dl, log, newFakeMetrics(), Config{MaxInFlight: 4})
	l.dispatch(context.Background(), mode.Select(false), validEntry("1-0"), nil)

	exec.AssertCalled(t, "Run", mock.Anything, mock.Anything, "1-0", mock.Anything)
}

func TestDispatch_DecodeFailureReapsDeadLettersAndAcks(t *testing.T) {
	exec, state, reaper, dl := &fakeExecutor{}, &fakeState{}, &fakeReaper{}, &fakeDeadLetter{}
	log := newFakeLogger()

	dl.On("AppendRaw", mock.Anything, mock.Anything, 2, mock.Anything).Return(nil)
	state.On("DeleteDedup", mock.Anything, "abc123").Return(nil)
	reaper.On("ReapCount", mock.Anything, "abc123", 2).Return()
	state.On("AckAndRemove", mock.Anything, mock.Anything, mock.Anything, "1-0").Return(nil)

	l := New(nil, exec, state, reaper, dl, log, newFakeMetrics(), Config{MaxInFlight: 4})
	entry := stream.Entry{ID: "1-0", Values: map[string]string{
		"hex":              "abc123",
		"attachment_count": "2",
	}}
	l.dispatch(context.Background(), mode.Select(false), entry, nil)

	exec.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	dl.AssertCalled(t, "AppendRaw", mock.Anything, mock.Anything, 2, mock.Anything)
	reaper.AssertCalled(t, "ReapCount", mock.Anything, "abc123", 2)
	state.AssertCalled(t, "AckAndRemove", mock.Anything, mock.Anything, mock.Anything, "1-0")
}

func TestDispatch_RetryModeDelaysThenRunsConcurrently(t *testing.T) {
	exec, state, reaper, dl := &fakeExecutor{}, &fakeState{}, &fakeReaper{}, &fakeDeadLetter{}
	log := newFakeLogger()

	done := make(chan struct{})
	exec.On("Run", mock.Anything, mock.Anything, "9-0", mock.Anything).Run(func(mock.Arguments) {
		close(done)
	}).Return()

	l := New(nil, exec, state, reaper, dl, log, newFakeMetrics(), Config{MaxInFlight: 4, RetryInterval: time.Millisecond})
	entry := validEntry("9-0")
	entry.Values["fail_count"] = "1"

	sem := semaphore.NewWeighted(4)
	l.dispatch(context.Background(), mode.Select(true), entry, sem)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("executor was never invoked")
	}
}

func TestRetrierBindingsAreConcurrent(t *testing.T) {
	assert.True(t, mode.Select(true).Concurrent)
	assert.False(t, mode.Select(false).Concurrent)
}
