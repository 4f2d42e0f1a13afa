package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

type fakeTranscriber struct {
	result *Result
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (*Result, error) {
	return f.result, f.err
}

func (f *fakeTranscriber) Name() string { return "fake" }

// stalledTranscriber never finishes; it only returns once the job context
// expires.
type stalledTranscriber struct{}

func (stalledTranscriber) Transcribe(ctx context.Context, path string) (*Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledTranscriber) Name() string { return "stalled" }

type recordingPatcher struct {
	mu      sync.Mutex
	patches []model.MessagePatch
}

func (p *recordingPatcher) UpdateMessage(ctx context.Context, messageID, actingUserID string, patch model.MessagePatch) (*model.Message, error) {
	p.mu.Lock()
	p.patches = append(p.patches, patch)
	p.mu.Unlock()
	return &model.Message{ID: messageID}, nil
}

func (p *recordingPatcher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.patches)
}

func (p *recordingPatcher) at(i int) model.MessagePatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.patches[i]
}

func (p *recordingPatcher) last() model.MessagePatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.patches[len(p.patches)-1]
}

func TestEnqueueMarksProcessingThenCompletes(t *testing.T) {
	patcher := &recordingPatcher{}
	worker := NewWorker(&fakeTranscriber{result: &Result{Text: "hello world"}}, patcher, t.TempDir(), logger.NewNop())

	require.NoError(t, worker.Enqueue(context.Background(), "msg-1", "user-1", "audio.ogg"))

	require.Eventually(t, func() bool { return patcher.count() == 2 }, time.Second, 10*time.Millisecond)

	first := patcher.at(0)
	require.NotNil(t, first.TranscriptionStatus)
	assert.Equal(t, StatusProcessing, *first.TranscriptionStatus)

	last := patcher.last()
	require.NotNil(t, last.Transcription)
	assert.Equal(t, "hello world", *last.Transcription)
	assert.Equal(t, StatusCompleted, *last.TranscriptionStatus)
}

func TestEnqueueFailureMarksFailed(t *testing.T) {
	patcher := &recordingPatcher{}
	worker := NewWorker(&fakeTranscriber{err: errors.New("api down")}, patcher, t.TempDir(), logger.NewNop())

	require.NoError(t, worker.Enqueue(context.Background(), "msg-1", "user-1", "audio.ogg"))

	require.Eventually(t, func() bool { return patcher.count() == 2 }, time.Second, 10*time.Millisecond)

	last := patcher.last()
	assert.Nil(t, last.Transcription, "no partial text on failure")
	assert.Equal(t, StatusFailed, *last.TranscriptionStatus)
}

// deadlinePatcher refuses patches arriving on an already-done context, the
// way a real store's ExecContext would.
type deadlinePatcher struct {
	recordingPatcher
}

func (p *deadlinePatcher) UpdateMessage(ctx context.Context, messageID, actingUserID string, patch model.MessagePatch) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.recordingPatcher.UpdateMessage(ctx, messageID, actingUserID, patch)
}

func TestJobDeadlineStillMarksFailed(t *testing.T) {
	patcher := &deadlinePatcher{}
	worker := NewWorker(stalledTranscriber{}, patcher, t.TempDir(), logger.NewNop())
	worker.timeout = 20 * time.Millisecond

	require.NoError(t, worker.Enqueue(context.Background(), "msg-1", "user-1", "audio.ogg"))

	require.Eventually(t, func() bool { return patcher.count() == 2 }, time.Second, 10*time.Millisecond)

	last := patcher.last()
	require.NotNil(t, last.TranscriptionStatus)
	assert.Equal(t, StatusFailed, *last.TranscriptionStatus,
		"the failure patch lands even when the job died on its own deadline")
}

func TestTranscriptionOutcomeCountedOnce(t *testing.T) {
	before := testutil.ToFloat64(metrics.TranscriptionsTotal.WithLabelValues("ok"))

	patcher := &recordingPatcher{}
	worker := NewWorker(&fakeTranscriber{result: &Result{Text: "hi"}}, patcher, t.TempDir(), logger.NewNop())
	require.NoError(t, worker.Enqueue(context.Background(), "msg-1", "user-1", "audio.ogg"))
	require.Eventually(t, func() bool { return patcher.count() == 2 }, time.Second, 10*time.Millisecond)

	after := testutil.ToFloat64(metrics.TranscriptionsTotal.WithLabelValues("ok"))
	assert.Equal(t, before+1, after, "one finished job increments the counter exactly once")
}

func TestEnabled(t *testing.T) {
	assert.False(t, NewWorker(nil, &recordingPatcher{}, "", logger.NewNop()).Enabled())
	assert.True(t, NewWorker(&fakeTranscriber{}, &recordingPatcher{}, "", logger.NewNop()).Enabled())
}
