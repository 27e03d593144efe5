package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

const (
	// EventsChannel carries every market event for live subscribers.
	EventsChannel = "market:events"
	// EventsStream is the durable copy of EventsChannel.
	EventsStream = "market:events:stream"
)

// EventBus is a domain.EventSink that fans market events out over a
// SignalBus: once on the live channel and once on the durable stream.
type EventBus struct {
	bus domain.SignalBus
}

// NewEventBus wraps bus.
func NewEventBus(bus domain.SignalBus) *EventBus {
	return &EventBus{bus: bus}
}

// Name implements domain.EventSink.
func (b *EventBus) Name() string { return "redis" }

// Emit implements domain.EventSink.
func (b *EventBus) Emit(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: encode event %s: %w", evt.ID, err)
	}
	if err := b.bus.StreamAppend(ctx, EventsStream, payload); err != nil {
		return err
	}
	return b.bus.Publish(ctx, EventsChannel, payload)
}

// Replay returns up to count events from the durable stream after lastID.
func (b *EventBus) Replay(ctx context.Context, lastID string, count int) ([]domain.Event, string, error) {
	msgs, err := b.bus.StreamRead(ctx, EventsStream, lastID, count)
	if err != nil {
		return nil, lastID, err
	}
	events := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		var evt domain.Event
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			return nil, lastID, fmt.Errorf("redis: decode event %s: %w", m.ID, err)
		}
		events = append(events, evt)
		lastID = m.ID
	}
	return events, lastID, nil
}

var _ domain.EventSink = (*EventBus)(nil)
