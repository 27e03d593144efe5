package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// ResolveEvent latches occurred = price > benchmark on its first successful
// call. Later calls return the latched outcome without consulting the feed,
// including one latched by another process sharing the store.
func (m *Market) ResolveEvent(ctx context.Context) (domain.Outcome, error) {
	outcome, events, err := m.resolve(ctx)
	m.emitter.emit(ctx, events...)
	return outcome, err
}

func (m *Market) resolve(ctx context.Context) (domain.Outcome, []domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(ctx); err != nil {
		return domain.Outcome{}, nil, err
	}
	if m.outcome != nil {
		return *m.outcome, nil, nil
	}
	now := m.now()
	if err := m.deadlines.PhaseAt(now).Check(OpResolve); err != nil {
		return domain.Outcome{}, nil, fmt.Errorf("market: resolve: %w", err)
	}

	price, err := m.feed.CurrentPrice(ctx)
	if err != nil {
		return domain.Outcome{}, nil, fmt.Errorf("market: resolve: query price feed: %w", err)
	}
	outcome := domain.Outcome{
		Occurred:   price > m.params.Benchmark,
		Price:      price,
		ResolvedAt: now,
	}
	evt := m.newEvent(domain.EventHasOccurred, now)
	o := outcome
	evt.Outcome = &o
	err = m.store.Apply(ctx, domain.Mutation{Outcome: &outcome, Events: []domain.Event{evt}})
	if errors.Is(err, domain.ErrOutcomeLatched) {
		// Lost the race to another process; its outcome stands.
		if err := m.load(ctx); err != nil {
			return domain.Outcome{}, nil, err
		}
		if m.outcome != nil {
			return *m.outcome, nil, nil
		}
	}
	if err != nil {
		return domain.Outcome{}, nil, fmt.Errorf("market: persist outcome: %w", err)
	}

	m.outcome = &outcome
	m.logger.InfoContext(ctx, "event resolved",
		slog.Int64("price", price),
		slog.Int64("benchmark", m.params.Benchmark),
		slog.Bool("occurred", outcome.Occurred),
	)
	return outcome, []domain.Event{evt}, nil
}
