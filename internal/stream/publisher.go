package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/realtime-sync/internal/model"
)

// ChangePublisher publishes committed row changes onto the change-event
// subjects. The store calls this after every committed write.
type ChangePublisher struct {
	transport Transport
}

// NewChangePublisher creates a publisher over a transport.
func NewChangePublisher(t Transport) *ChangePublisher {
	return &ChangePublisher{transport: t}
}

// PublishChange sends a change event on its relation+scope subject.
func (p *ChangePublisher) PublishChange(ctx context.Context, ev model.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	return p.transport.Publish(ctx, ChangeSubject(ev.Relation, ev.Scope), data)
}
