package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/stream"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

type typingRecorder struct {
	mu   sync.Mutex
	sets [][]model.TypingParticipant
}

func (r *typingRecorder) callback(typing []model.TypingParticipant) {
	r.mu.Lock()
	copied := make([]model.TypingParticipant, len(typing))
	copy(copied, typing)
	r.sets = append(r.sets, copied)
	r.mu.Unlock()
}

func (r *typingRecorder) latest() []model.TypingParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sets) == 0 {
		return nil
	}
	return r.sets[len(r.sets)-1]
}

func (r *typingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

func newTestTracker(cfg Config) *Tracker {
	return NewTracker(stream.NewBus(), cfg, logger.NewNop())
}

func TestTypingDeliveredToRemoteObserver(t *testing.T) {
	tracker := newTestTracker(DefaultConfig())
	defer tracker.Close()
	ctx := context.Background()

	var rec typingRecorder
	cancel, err := tracker.OnTypingChange("conv-1", "user-2", rec.callback)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tracker.SetTyping(ctx, "conv-1", "user-1", "alice", true))

	latest := rec.latest()
	require.Len(t, latest, 1)
	assert.Equal(t, "user-1", latest[0].UserID)
	assert.Equal(t, "alice", latest[0].Username)
}

func TestTypingExcludesLocalUser(t *testing.T) {
	tracker := newTestTracker(DefaultConfig())
	defer tracker.Close()
	ctx := context.Background()

	var rec typingRecorder
	cancel, err := tracker.OnTypingChange("conv-1", "user-1", rec.callback)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tracker.SetTyping(ctx, "conv-1", "user-1", "alice", true))
	require.NoError(t, tracker.SetTyping(ctx, "conv-1", "user-2", "bob", true))

	latest := rec.latest()
	require.Len(t, latest, 1, "the local user's own record is filtered out")
	assert.Equal(t, "user-2", latest[0].UserID)
}

func TestTypingStopRemovesRecord(t *testing.T) {
	tracker := newTestTracker(DefaultConfig())
	defer tracker.Close()
	ctx := context.Background()

	var rec typingRecorder
	cancel, err := tracker.OnTypingChange("conv-1", "observer", rec.callback)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tracker.SetTyping(ctx, "conv-1", "user-1", "alice", true))
	require.Len(t, rec.latest(), 1)

	require.NoError(t, tracker.SetTyping(ctx, "conv-1", "user-1", "alice", false))
	assert.Empty(t, rec.latest(), "explicit stop clears the record immediately")
}

func TestTypingSetIsFullNotDelta(t *testing.T) {
	tracker := newTestTracker(DefaultConfig())
	defer tracker.Close()
	ctx := context.Background()

	var rec typingRecorder
	cancel, err := tracker.OnTypingChange("conv-1", "observer", rec.callback)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tracker.SetTyping(ctx, "conv-1", "user-1", "alice", true))
	require.NoError(t, tracker.SetTyping(ctx, "conv-1", "user-2", "bob", true))

	latest := rec.latest()
	require.Len(t, latest, 2, "every update carries the whole current set")
	assert.Equal(t, "user-1", latest[0].UserID)
	assert.Equal(t, "user-2", latest[1].UserID)
}

func TestTypingChannelsAreScopedByConversation(t *testing.T) {
	tracker := newTestTracker(DefaultConfig())
	defer tracker.Close()
	ctx := context.Background()

	var rec typingRecorder
	cancel, err := tracker.OnTypingChange("conv-1", "observer", rec.callback)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tracker.SetTyping(ctx, "conv-2", "user-1", "alice", true))

	assert.Equal(t, 0, rec.count(), "records on another conversation's channel are invisible")
}

func TestStaleRecordExpiresWithoutHeartbeat(t *testing.T) {
	// Tight liveness window so the sweep fires within the test.
	cfg := Config{HeartbeatInterval: 20 * time.Millisecond, LivenessMisses: 2}

	// Publisher and observer ride separate trackers over one bus, so the
	// observer never sees the publisher's heartbeat loop once it is stopped.
	bus := stream.NewBus()
	observer := NewTracker(bus, cfg, logger.NewNop())
	defer observer.Close()

	var rec typingRecorder
	cancel, err := observer.OnTypingChange("conv-1", "observer", rec.callback)
	require.NoError(t, err)
	defer cancel()

	publisher := NewTracker(bus, cfg, logger.NewNop())
	require.NoError(t, publisher.SetTyping(context.Background(), "conv-1", "user-1", "alice", true))
	require.Len(t, rec.latest(), 1)

	// The publisher vanishes without an explicit stop: heartbeats cease.
	publisher.Close()

	assert.Eventually(t, func() bool {
		return len(rec.latest()) == 0
	}, time.Second, 10*time.Millisecond, "record expires after the liveness window")
}

func TestHeartbeatKeepsRecordAlive(t *testing.T) {
	cfg := Config{HeartbeatInterval: 20 * time.Millisecond, LivenessMisses: 2}
	tracker := newTestTracker(cfg)
	defer tracker.Close()

	var rec typingRecorder
	cancel, err := tracker.OnTypingChange("conv-1", "observer", rec.callback)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tracker.SetTyping(context.Background(), "conv-1", "user-1", "alice", true))

	// Well past the liveness window; heartbeats keep refreshing lastSeen.
	time.Sleep(5 * cfg.livenessWindow())
	assert.Len(t, rec.latest(), 1, "heartbeating record never expires")
}

func TestOnlinePresence(t *testing.T) {
	tracker := newTestTracker(DefaultConfig())
	defer tracker.Close()
	ctx := context.Background()

	var rec typingRecorder
	cancel, err := tracker.OnOnlineChange("user-2", rec.callback)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, tracker.SetOnline(ctx, "user-1", "alice", true))
	require.Len(t, rec.latest(), 1)
	assert.Equal(t, "user-1", rec.latest()[0].UserID)

	require.NoError(t, tracker.SetOnline(ctx, "user-1", "alice", false))
	assert.Empty(t, rec.latest())
}

func TestCallbackCancelStopsDelivery(t *testing.T) {
	tracker := newTestTracker(DefaultConfig())
	defer tracker.Close()
	ctx := context.Background()

	var rec typingRecorder
	cancel, err := tracker.OnTypingChange("conv-1", "observer", rec.callback)
	require.NoError(t, err)

	cancel()

	require.NoError(t, tracker.SetTyping(ctx, "conv-1", "user-1", "alice", true))
	assert.Equal(t, 0, rec.count())
}
