package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// emitter fans events out to every configured sink. A failing sink is
// logged and skipped; the event is already durable in the store. Operations
// emit after releasing the market lock, so a slow sink delays only its own
// caller and sinks may see concurrent operations in either order. The
// store's event log holds the authoritative order.
type emitter struct {
	sinks  []domain.EventSink
	logger *slog.Logger
}

func (e *emitter) emit(ctx context.Context, events ...domain.Event) {
	for _, evt := range events {
		for _, s := range e.sinks {
			if err := s.Emit(ctx, evt); err != nil {
				e.logger.Warn("event sink failed",
					slog.String("sink", s.Name()),
					slog.String("kind", string(evt.Kind)),
					slog.String("event_id", evt.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (m *Market) newEvent(kind domain.EventKind, at time.Time) domain.Event {
	return domain.Event{
		ID:       uuid.NewString(),
		MarketID: m.params.ID,
		Kind:     kind,
		At:       at,
	}
}

func (m *Market) participantEvent(kind domain.EventKind, addr common.Address, at time.Time) domain.Event {
	evt := m.newEvent(kind, at)
	a := addr
	evt.Address = &a
	return evt
}

func (m *Market) amountEvent(kind domain.EventKind, addr common.Address, amount *uint256.Int, at time.Time) domain.Event {
	evt := m.participantEvent(kind, addr, at)
	evt.Amount = new(uint256.Int).Set(amount)
	return evt
}
