package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

const (
	// ChangeSubjectPrefix is the prefix for all change-event subjects.
	ChangeSubjectPrefix = "chg"

	// PresenceSubjectPrefix is the prefix for ephemeral presence subjects.
	PresenceSubjectPrefix = "presence"
)

// ChangeSubject returns the subject for a relation scoped by a filter value
// (conversation id for conversation-scoped relations, user id for
// notifications).
func ChangeSubject(relation model.Relation, scope string) string {
	return fmt.Sprintf("%s.%s.%s", ChangeSubjectPrefix, relation, scope)
}

// TypingSubject returns the presence subject for a conversation's typing
// channel.
func TypingSubject(conversationID string) string {
	return fmt.Sprintf("%s.typing.%s", PresenceSubjectPrefix, conversationID)
}

// OnlineSubject returns the global online-status presence subject.
func OnlineSubject() string {
	return fmt.Sprintf("%s.online", PresenceSubjectPrefix)
}

// Handler receives classified change events for one (relation, scope) pair.
type Handler func(ev model.ChangeEvent)

// Router is the ChangeEventRouter: it subscribes to raw change-notification
// subjects, classifies payloads into typed events, and invokes the handler
// registered for that (relation, scope) pair. Ordering holds per
// relation+scope only; delivery is at-least-once.
type Router struct {
	transport Transport
	logger    *logger.Logger
}

// NewRouter creates a router over a transport.
func NewRouter(t Transport, log *logger.Logger) *Router {
	return &Router{transport: t, logger: log}
}

// Subscribe registers a handler for one relation under one scope filter.
// Malformed payloads are logged and dropped rather than delivered.
func (r *Router) Subscribe(relation model.Relation, scope string, h Handler) (Subscription, error) {
	subject := ChangeSubject(relation, scope)
	return r.transport.Subscribe(subject, func(data []byte) {
		ev, err := classify(data)
		if err != nil {
			r.logger.Warn("dropping unclassifiable change event",
				zap.String("subject", subject),
				zap.Error(err),
			)
			return
		}
		metrics.ChangeEventsDispatched.WithLabelValues(string(ev.Relation), string(ev.Kind)).Inc()
		h(ev)
	})
}

// Replay returns retained events for a relation+scope, oldest first. Used
// for reconciliation after a delivery gap.
func (r *Router) Replay(ctx context.Context, relation model.Relation, scope string, limit int) ([]model.ChangeEvent, error) {
	raw, err := r.transport.Replay(ctx, ChangeSubject(relation, scope), limit)
	if err != nil {
		return nil, err
	}

	events := make([]model.ChangeEvent, 0, len(raw))
	for _, data := range raw {
		ev, err := classify(data)
		if err != nil {
			r.logger.Warn("skipping unclassifiable replayed event", zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// OnReconnect registers fn to run when the transport reconnects. The
// returned func releases the registration.
func (r *Router) OnReconnect(fn func()) func() {
	return r.transport.OnReconnect(fn)
}

// classify normalizes a raw notification into a typed event.
func classify(data []byte) (model.ChangeEvent, error) {
	var ev model.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}

	switch ev.Kind {
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		return model.ChangeEvent{}, fmt.Errorf("unknown change kind %q", ev.Kind)
	}
	if ev.Relation == "" {
		return model.ChangeEvent{}, fmt.Errorf("missing relation")
	}
	return ev, nil
}
