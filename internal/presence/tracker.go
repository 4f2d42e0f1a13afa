// Package presence maintains ephemeral typing and online state over
// per-conversation presence channels. Nothing here touches durable storage:
// records live in channel memory and disappear when their sender stops
// heartbeating, bounded by the channel's liveness window rather than an
// application timer.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/stream"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

// Config holds the channel liveness parameters. Both are configuration, not
// constants baked into application logic.
type Config struct {
	// HeartbeatInterval is how often a typing participant republishes its
	// presence record.
	HeartbeatInterval time.Duration

	// LivenessMisses is how many missed heartbeats remove a record.
	LivenessMisses int
}

// DefaultConfig returns the default liveness parameters.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		LivenessMisses:    3,
	}
}

func (c Config) livenessWindow() time.Duration {
	misses := c.LivenessMisses
	if misses <= 0 {
		misses = 3
	}
	return time.Duration(misses) * c.HeartbeatInterval
}

// TypingCallback receives the full current set of remote typing
// participants, recomputed on every membership change.
type TypingCallback func(typing []model.TypingParticipant)

// Tracker is the PresenceTracker.
type Tracker struct {
	transport stream.Transport
	cfg       Config
	logger    *logger.Logger

	mu       sync.Mutex
	channels map[string]*channel          // conversationID -> typing channel
	beats    map[string]chan struct{}     // heartbeat loops keyed by conversationID+user
	online   *channel                     // global online-status channel
	closed   bool
}

// NewTracker creates a tracker over a transport.
func NewTracker(t stream.Transport, cfg Config, log *logger.Logger) *Tracker {
	if cfg.HeartbeatInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Tracker{
		transport: t,
		cfg:       cfg,
		logger:    log,
		channels:  make(map[string]*channel),
		beats:     make(map[string]chan struct{}),
	}
}

// SetTyping publishes the caller's own typing record on the conversation's
// presence channel. While typing, the record is republished every heartbeat
// interval; when typing stops (or the heartbeat stops arriving), remote
// rosters drop the record within the liveness window.
func (t *Tracker) SetTyping(ctx context.Context, conversationID, userID, username string, isTyping bool) error {
	rec := model.PresenceRecord{
		UserID:   userID,
		Username: username,
		IsTyping: isTyping,
		SentAt:   time.Now().UTC(),
	}

	subject := stream.TypingSubject(conversationID)
	if err := t.publish(ctx, subject, rec); err != nil {
		return err
	}

	key := conversationID + ":" + userID
	t.mu.Lock()
	defer t.mu.Unlock()

	if stop, ok := t.beats[key]; ok {
		close(stop)
		delete(t.beats, key)
	}
	if isTyping && !t.closed {
		stop := make(chan struct{})
		t.beats[key] = stop
		go t.heartbeat(subject, rec, stop)
	}
	return nil
}

// SetOnline publishes the caller's online-status record on the global
// presence channel, with the same heartbeat mechanics as typing.
func (t *Tracker) SetOnline(ctx context.Context, userID, username string, online bool) error {
	rec := model.PresenceRecord{
		UserID:   userID,
		Username: username,
		Online:   online,
		SentAt:   time.Now().UTC(),
	}

	subject := stream.OnlineSubject()
	if err := t.publish(ctx, subject, rec); err != nil {
		return err
	}

	key := "online:" + userID
	t.mu.Lock()
	defer t.mu.Unlock()

	if stop, ok := t.beats[key]; ok {
		close(stop)
		delete(t.beats, key)
	}
	if online && !t.closed {
		stop := make(chan struct{})
		t.beats[key] = stop
		go t.heartbeat(subject, rec, stop)
	}
	return nil
}

// OnTypingChange registers a callback for a conversation's typing set. The
// callback receives every current remote typing participant (never the
// local user) on each membership change: a record arriving, updating, or
// expiring. The returned cancel releases the registration.
func (t *Tracker) OnTypingChange(conversationID, localUserID string, cb TypingCallback) (func(), error) {
	t.mu.Lock()
	ch, ok := t.channels[conversationID]
	if !ok {
		ch = newChannel(t, stream.TypingSubject(conversationID), conversationID)
		t.channels[conversationID] = ch
	}
	t.mu.Unlock()

	if err := ch.start(t.transport); err != nil {
		return nil, err
	}
	return ch.addCallback(localUserID, cb), nil
}

// OnOnlineChange registers a callback for the global online set, excluding
// the local user.
func (t *Tracker) OnOnlineChange(localUserID string, cb TypingCallback) (func(), error) {
	t.mu.Lock()
	if t.online == nil {
		t.online = newChannel(t, stream.OnlineSubject(), "")
	}
	ch := t.online
	t.mu.Unlock()

	if err := ch.start(t.transport); err != nil {
		return nil, err
	}
	return ch.addCallback(localUserID, cb), nil
}

// Close stops all heartbeats and channel rosters.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	for key, stop := range t.beats {
		close(stop)
		delete(t.beats, key)
	}
	channels := make([]*channel, 0, len(t.channels)+1)
	for _, ch := range t.channels {
		channels = append(channels, ch)
	}
	if t.online != nil {
		channels = append(channels, t.online)
	}
	t.mu.Unlock()

	for _, ch := range channels {
		ch.stop()
	}
}

func (t *Tracker) publish(ctx context.Context, subject string, rec model.PresenceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.transport.Publish(ctx, subject, data)
}

// heartbeat republishes a presence record until stopped. A client that dies
// without unpublishing simply stops heartbeating and its record expires on
// every remote roster.
func (t *Tracker) heartbeat(subject string, rec model.PresenceRecord, stop <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rec.SentAt = time.Now().UTC()
			if err := t.publish(context.Background(), subject, rec); err != nil {
				t.logger.Warn("presence heartbeat failed",
					zap.String("subject", subject),
					zap.Error(err),
				)
			}
		}
	}
}

type rosterEntry struct {
	record   model.PresenceRecord
	lastSeen time.Time
}

// channel is one presence subject's local roster plus its callbacks.
type channel struct {
	tracker        *Tracker
	subject        string
	conversationID string

	mu        sync.Mutex
	started   bool
	sub       stream.Subscription
	sweepStop chan struct{}
	roster    map[string]rosterEntry
	nextCB    int
	callbacks map[int]registeredCallback
}

type registeredCallback struct {
	localUserID string
	fn          TypingCallback
}

func newChannel(t *Tracker, subject, conversationID string) *channel {
	return &channel{
		tracker:        t,
		subject:        subject,
		conversationID: conversationID,
		roster:         make(map[string]rosterEntry),
		callbacks:      make(map[int]registeredCallback),
	}
}

func (c *channel) start(transport stream.Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	sub, err := transport.Subscribe(c.subject, c.onRecord)
	if err != nil {
		return err
	}
	c.sub = sub
	c.started = true
	c.sweepStop = make(chan struct{})
	go c.sweep(c.sweepStop)
	return nil
}

func (c *channel) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.sub.Unsubscribe()
	close(c.sweepStop)
	c.started = false
	c.roster = make(map[string]rosterEntry)
}

func (c *channel) addCallback(localUserID string, cb TypingCallback) func() {
	c.mu.Lock()
	id := c.nextCB
	c.nextCB++
	c.callbacks[id] = registeredCallback{localUserID: localUserID, fn: cb}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.callbacks, id)
		c.mu.Unlock()
	}
}

// onRecord handles an incoming presence record: a membership-sync event of
// the channel.
func (c *channel) onRecord(data []byte) {
	var rec model.PresenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.tracker.logger.Warn("dropping malformed presence record",
			zap.String("subject", c.subject),
			zap.Error(err),
		)
		return
	}

	c.mu.Lock()
	changed := false
	if rec.IsTyping || rec.Online {
		prev, had := c.roster[rec.UserID]
		c.roster[rec.UserID] = rosterEntry{record: rec, lastSeen: time.Now()}
		changed = !had || prev.record.Username != rec.Username
	} else {
		if _, had := c.roster[rec.UserID]; had {
			delete(c.roster, rec.UserID)
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
}

// sweep removes records whose heartbeats stopped arriving. This bounds
// staleness to the liveness window for clients that vanish without an
// explicit unpublish.
func (c *channel) sweep(stop <-chan struct{}) {
	ticker := time.NewTicker(c.tracker.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.tracker.cfg.livenessWindow())

			c.mu.Lock()
			changed := false
			for userID, entry := range c.roster {
				if entry.lastSeen.Before(cutoff) {
					delete(c.roster, userID)
					changed = true
				}
			}
			c.mu.Unlock()

			if changed {
				c.notify()
			}
		}
	}
}

// notify recomputes the full current set for every callback, excluding each
// callback's local user.
func (c *channel) notify() {
	c.mu.Lock()
	records := lo.Values(c.roster)
	cbs := lo.Values(c.callbacks)
	c.mu.Unlock()

	if c.conversationID != "" {
		metrics.TypingParticipants.WithLabelValues(c.conversationID).Set(float64(len(records)))
	}

	for _, cb := range cbs {
		var typing []model.TypingParticipant
		for _, entry := range records {
			if entry.record.UserID == cb.localUserID {
				continue
			}
			typing = append(typing, model.TypingParticipant{
				UserID:   entry.record.UserID,
				Username: entry.record.Username,
			})
		}
		sort.Slice(typing, func(i, j int) bool { return typing[i].UserID < typing[j].UserID })
		cb.fn(typing)
	}
}
