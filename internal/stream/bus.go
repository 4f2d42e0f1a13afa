package stream

import (
	"context"
	"strings"
	"sync"
)

const busHistoryLimit = 512

// Bus is an in-process Transport used by tests and single-node development.
// Delivery is synchronous, so per-subject ordering matches publish order.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    map[string]map[int]func(data []byte)
	history map[string][][]byte
}

// NewBus creates an empty in-process transport.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string]map[int]func(data []byte)),
		history: make(map[string][][]byte),
	}
}

// Publish delivers data to current subscribers and retains durable subjects
// for replay.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	if isDurableSubject(subject) {
		h := append(b.history[subject], data)
		if len(h) > busHistoryLimit {
			h = h[len(h)-busHistoryLimit:]
		}
		b.history[subject] = h
	}
	fns := make([]func([]byte), 0, len(b.subs[subject]))
	for _, fn := range b.subs[subject] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
	return nil
}

// Subscribe registers fn for live deliveries on a subject.
func (b *Bus) Subscribe(subject string, fn func(data []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]func(data []byte))
	}
	id := b.nextID
	b.nextID++
	b.subs[subject][id] = fn

	return &busSubscription{bus: b, subject: subject, id: id}, nil
}

// Replay returns retained payloads for a durable subject, oldest first.
func (b *Bus) Replay(ctx context.Context, subject string, limit int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.history[subject]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([][]byte, len(h))
	copy(out, h)
	return out, nil
}

// OnReconnect is a no-op: the in-process bus never drops.
func (b *Bus) OnReconnect(fn func()) func() {
	return func() {}
}

type busSubscription struct {
	bus     *Bus
	subject string
	id      int
}

func (s *busSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs[s.subject], s.id)
	return nil
}

func isDurableSubject(subject string) bool {
	return strings.HasPrefix(subject, ChangeSubjectPrefix+".")
}
