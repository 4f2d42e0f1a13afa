package subscription

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

// reconnectBus wraps the in-process bus with a manually fired reconnect
// signal, standing in for a NATS connection drop.
type reconnectBus struct {
	*stream.Bus

	mu     sync.Mutex
	nextID int
	fns    map[int]func()
}

func newReconnectBus() *reconnectBus {
	return &reconnectBus{Bus: stream.NewBus(), fns: make(map[int]func())}
}

func (b *reconnectBus) OnReconnect(fn func()) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.fns[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.fns, id)
		b.mu.Unlock()
	}
}

func (b *reconnectBus) fireReconnect() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.fns))
	for _, fn := range b.fns {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *reconnectBus) registrations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fns)
}

// hookedBus runs a callback just before completing each Subscribe, letting
// tests interleave manager calls with an in-flight re-subscribe.
type hookedBus struct {
	*reconnectBus

	hookMu      sync.Mutex
	onSubscribe func(subject string)
}

func (b *hookedBus) Subscribe(subject string, fn func(data []byte)) (stream.Subscription, error) {
	b.hookMu.Lock()
	hook := b.onSubscribe
	b.hookMu.Unlock()
	if hook != nil {
		hook(subject)
	}
	return b.reconnectBus.Subscribe(subject, fn)
}

func (b *hookedBus) setSubscribeHook(fn func(subject string)) {
	b.hookMu.Lock()
	b.onSubscribe = fn
	b.hookMu.Unlock()
}

type eventCollector struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (c *eventCollector) handler(ev model.ChangeEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *eventCollector) all() []model.ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ChangeEvent, len(c.events))
	copy(out, c.events)
	return out
}

func publishEvent(t *testing.T, bus *reconnectBus, relation model.Relation, scope string) {
	t.Helper()
	pub := stream.NewChangePublisher(bus)
	err := pub.PublishChange(context.Background(), model.ChangeEvent{
		ID:          "ev-1",
		Relation:    relation,
		Kind:        model.ChangeInsert,
		Scope:       scope,
		CommittedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestSubscribeDeliversEvents(t *testing.T) {
	bus := newReconnectBus()
	m := NewManager(stream.NewRouter(bus, logger.NewNop()), logger.NewNop())
	topic := Topic{Relation: model.RelationMessages, Scope: "conv-1"}

	var c eventCollector
	require.NoError(t, m.Subscribe(context.Background(), topic, c.handler))
	assert.Equal(t, Active, m.State(topic))

	publishEvent(t, bus, model.RelationMessages, "conv-1")

	events := c.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ChangeInsert, events[0].Kind)
}

func TestSubscribeScopeFilters(t *testing.T) {
	bus := newReconnectBus()
	m := NewManager(stream.NewRouter(bus, logger.NewNop()), logger.NewNop())

	var c eventCollector
	topic := Topic{Relation: model.RelationMessages, Scope: "conv-1"}
	require.NoError(t, m.Subscribe(context.Background(), topic, c.handler))

	publishEvent(t, bus, model.RelationMessages, "conv-2")
	publishEvent(t, bus, model.RelationReactions, "conv-1")

	assert.Empty(t, c.all(), "events outside the topic's relation+scope are not delivered")
}

func TestSubscribeLastCallWins(t *testing.T) {
	bus := newReconnectBus()
	m := NewManager(stream.NewRouter(bus, logger.NewNop()), logger.NewNop())
	topic := Topic{Relation: model.RelationMessages, Scope: "conv-1"}

	var first, second eventCollector
	require.NoError(t, m.Subscribe(context.Background(), topic, first.handler))
	require.NoError(t, m.Subscribe(context.Background(), topic, second.handler))

	publishEvent(t, bus, model.RelationMessages, "conv-1")

	assert.Empty(t, first.all(), "replaced handler receives nothing")
	assert.Len(t, second.all(), 1)
	assert.Len(t, m.ActiveTopics(), 1, "one live subscription per topic key")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newReconnectBus()
	m := NewManager(stream.NewRouter(bus, logger.NewNop()), logger.NewNop())
	topic := Topic{Relation: model.RelationMessages, Scope: "conv-1"}

	var c eventCollector
	require.NoError(t, m.Subscribe(context.Background(), topic, c.handler))
	m.Unsubscribe(topic)

	publishEvent(t, bus, model.RelationMessages, "conv-1")

	assert.Empty(t, c.all())
	assert.Equal(t, Unsubscribed, m.State(topic))
	assert.Empty(t, m.ActiveTopics())
}

func TestUnsubscribeAll(t *testing.T) {
	bus := newReconnectBus()
	m := NewManager(stream.NewRouter(bus, logger.NewNop()), logger.NewNop())

	var c eventCollector
	topics := []Topic{
		{Relation: model.RelationMessages, Scope: "conv-1"},
		{Relation: model.RelationReactions, Scope: "conv-1"},
		{Relation: model.RelationNotifications, Scope: "user-1"},
	}
	for _, topic := range topics {
		require.NoError(t, m.Subscribe(context.Background(), topic, c.handler))
	}
	require.Len(t, m.ActiveTopics(), 3)

	m.UnsubscribeAll()

	assert.Empty(t, m.ActiveTopics())
	publishEvent(t, bus, model.RelationMessages, "conv-1")
	assert.Empty(t, c.all())
}

func TestReconnectResubscribesAndDeliversResync(t *testing.T) {
	bus := newReconnectBus()
	m := NewManager(stream.NewRouter(bus, logger.NewNop()), logger.NewNop())
	topic := Topic{Relation: model.RelationMessages, Scope: "conv-1"}

	var c eventCollector
	require.NoError(t, m.Subscribe(context.Background(), topic, c.handler))

	bus.fireReconnect()

	events := c.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ChangeResync, events[0].Kind, "gap is signaled, not replayed")
	assert.Equal(t, topic.Relation, events[0].Relation)
	assert.Equal(t, topic.Scope, events[0].Scope)

	// The re-issued subscription is live again.
	assert.Equal(t, Active, m.State(topic))
	publishEvent(t, bus, model.RelationMessages, "conv-1")
	assert.Len(t, c.all(), 2)
}

func TestUnsubscribeAllReleasesReconnectRegistration(t *testing.T) {
	bus := newReconnectBus()
	m := NewManager(stream.NewRouter(bus, logger.NewNop()), logger.NewNop())
	topic := Topic{Relation: model.RelationMessages, Scope: "conv-1"}

	var c eventCollector
	require.NoError(t, m.Subscribe(context.Background(), topic, c.handler))
	require.Equal(t, 1, bus.registrations())

	m.UnsubscribeAll()

	assert.Zero(t, bus.registrations(), "teardown drops the transport hook so retired managers are not retained")
	bus.fireReconnect()
	assert.Empty(t, c.all(), "a retired manager does not resubscribe")
	assert.Empty(t, m.ActiveTopics())
}

func TestReconnectSkipsTopicUnsubscribedMidFlight(t *testing.T) {
	bus := &hookedBus{reconnectBus: newReconnectBus()}
	m := NewManager(stream.NewRouter(bus, logger.NewNop()), logger.NewNop())
	topic := Topic{Relation: model.RelationMessages, Scope: "conv-1"}

	var c eventCollector
	require.NoError(t, m.Subscribe(context.Background(), topic, c.handler))

	// The unsubscribe lands after the reconnect snapshot but before the
	// re-issued subscribe completes.
	bus.setSubscribeHook(func(subject string) {
		bus.setSubscribeHook(nil)
		m.Unsubscribe(topic)
	})
	bus.fireReconnect()

	assert.Equal(t, Unsubscribed, m.State(topic))
	assert.Empty(t, m.ActiveTopics())
	publishEvent(t, bus.reconnectBus, model.RelationMessages, "conv-1")
	assert.Empty(t, c.all(), "no subscription survives outside the topic table")
}

func TestStateUnknownTopic(t *testing.T) {
	m := NewManager(stream.NewRouter(newReconnectBus(), logger.NewNop()), logger.NewNop())
	assert.Equal(t, Unsubscribed, m.State(Topic{Relation: model.RelationMessages, Scope: "conv-x"}))
}

func TestTopicKey(t *testing.T) {
	a := Topic{Relation: model.RelationMessages, Scope: "conv-1"}
	b := Topic{Relation: model.RelationReactions, Scope: "conv-1"}
	assert.NotEqual(t, a.Key(), b.Key())
}
