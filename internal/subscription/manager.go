// Package subscription owns the set of active change-stream subscriptions,
// their lifecycles, and de-duplication per topic key.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/stream"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

// State is the lifecycle state of one topic subscription.
type State int

const (
	Unsubscribed State = iota
	Subscribing
	Active
	Errored
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Errored:
		return "error"
	default:
		return "unsubscribed"
	}
}

// Topic identifies one (relation, scope) subscription key.
type Topic struct {
	Relation model.Relation
	Scope    string
}

// Key returns the topic's table key.
func (t Topic) Key() string {
	return string(t.Relation) + ":" + t.Scope
}

type entry struct {
	topic   Topic
	handler stream.Handler
	state   State
	sub     stream.Subscription
	gen     uint64
}

// Manager holds at most one live subscription per topic key. The topic
// table is mutex-guarded: subscriptions are mutated from the session's
// control flow and from the transport's reconnect callback.
type Manager struct {
	router *stream.Router
	logger *logger.Logger

	mu               sync.Mutex
	nextGen          uint64
	topics           map[string]*entry
	releaseReconnect func()
}

// NewManager creates a manager and hooks transport reconnects: after a drop
// the subscription list is re-issued, and each handler receives a
// ChangeResync marker because events from the gap are not replayed. Callers
// reconcile by re-fetching current state.
func NewManager(router *stream.Router, log *logger.Logger) *Manager {
	m := &Manager{
		router: router,
		logger: log,
		topics: make(map[string]*entry),
	}
	m.releaseReconnect = router.OnReconnect(m.resubscribeAll)
	return m
}

// Subscribe registers a handler for a topic. A prior subscription under the
// same key is torn down first: last call wins. A topic unsubscribed while
// the subscribe is still in flight is cleaned up without leaking.
func (m *Manager) Subscribe(ctx context.Context, topic Topic, handler stream.Handler) error {
	key := topic.Key()

	m.mu.Lock()
	if prev, ok := m.topics[key]; ok {
		m.teardownLocked(prev)
	}
	m.nextGen++
	e := &entry{topic: topic, handler: handler, state: Subscribing, gen: m.nextGen}
	m.topics[key] = e
	gen := e.gen
	m.mu.Unlock()

	// Suspension point: the caller may abandon or replace the topic while
	// the subscribe acknowledgement is outstanding.
	sub, err := m.router.Subscribe(topic.Relation, topic.Scope, handler)

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.topics[key]
	if !ok || current.gen != gen {
		// Replaced or unsubscribed mid-flight; release the late result.
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil
	}

	if err != nil {
		current.state = Errored
		m.logger.Error("subscribe failed",
			zap.String("topic", key),
			zap.Error(err),
		)
		return err
	}

	current.sub = sub
	current.state = Active
	metrics.SubscriptionsActive.Inc()
	return nil
}

// Unsubscribe tears down the subscription for a topic, if any.
func (m *Manager) Unsubscribe(topic Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.topics[topic.Key()]; ok {
		m.teardownLocked(e)
		delete(m.topics, topic.Key())
	}
}

// UnsubscribeAll tears down every topic and releases the manager's
// reconnect registration on the transport. Used on logout and connection
// teardown; the manager is retired after this call.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.topics {
		m.teardownLocked(e)
		delete(m.topics, key)
	}
	if m.releaseReconnect != nil {
		m.releaseReconnect()
		m.releaseReconnect = nil
	}
}

// State reports the lifecycle state for a topic.
func (m *Manager) State(topic Topic) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.topics[topic.Key()]; ok {
		return e.state
	}
	return Unsubscribed
}

// ActiveTopics returns the topics currently held, in no particular order.
func (m *Manager) ActiveTopics() []Topic {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Topic, 0, len(m.topics))
	for _, e := range m.topics {
		out = append(out, e.topic)
	}
	return out
}

func (m *Manager) teardownLocked(e *entry) {
	if e.sub != nil {
		if err := e.sub.Unsubscribe(); err != nil {
			m.logger.Warn("unsubscribe failed",
				zap.String("topic", e.topic.Key()),
				zap.Error(err),
			)
		}
		e.sub = nil
		metrics.SubscriptionsActive.Dec()
	}
	e.state = Unsubscribed
}

// resubscribeAll re-issues every held subscription after a transport
// reconnect and delivers a ChangeResync marker per topic. Missed events are
// not replayed here; the marker tells subscribers to reconcile.
func (m *Manager) resubscribeAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.topics))
	for _, e := range m.topics {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		key := e.topic.Key()

		m.mu.Lock()
		if m.topics[key] != e {
			// Unsubscribed or replaced since the snapshot.
			m.mu.Unlock()
			continue
		}
		m.teardownLocked(e)
		e.state = Subscribing
		m.mu.Unlock()

		sub, err := m.router.Subscribe(e.topic.Relation, e.topic.Scope, e.handler)

		m.mu.Lock()
		if m.topics[key] != e {
			// Unsubscribed while the re-subscribe was in flight; release the
			// late result instead of holding it outside the table.
			if sub != nil {
				sub.Unsubscribe()
			}
			m.mu.Unlock()
			continue
		}
		if err != nil {
			e.state = Errored
			m.logger.Error("resubscribe failed",
				zap.String("topic", e.topic.Key()),
				zap.Error(err),
			)
			m.mu.Unlock()
			continue
		}
		e.sub = sub
		e.state = Active
		metrics.SubscriptionsActive.Inc()
		handler := e.handler
		topic := e.topic
		m.mu.Unlock()

		handler(model.ChangeEvent{
			ID:          uuid.Must(uuid.NewV7()).String(),
			Relation:    topic.Relation,
			Kind:        model.ChangeResync,
			Scope:       topic.Scope,
			CommittedAt: time.Now().UTC(),
		})
	}
}
