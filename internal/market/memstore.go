package market

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.LedgerStore = (*MemoryStore)(nil)
	_ domain.EventStore  = (*MemoryStore)(nil)
)

// MemoryStore is a process-local LedgerStore used when no database is
// configured and in tests. Several Markets may share one.
type MemoryStore struct {
	mu          sync.Mutex
	predictions map[common.Address]domain.PredictionCommit
	outcome     *domain.Outcome
	custody     *uint256.Int
	movements   []domain.FundMovement
	events      []domain.Event
	failNext    error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		predictions: make(map[common.Address]domain.PredictionCommit),
		custody:     new(uint256.Int),
	}
}

// FailNextApply makes the next Apply return err without writing anything.
func (s *MemoryStore) FailNextApply(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Load returns a copy of the stored state.
func (s *MemoryStore) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{Custody: new(uint256.Int).Set(s.custody)}
	for _, p := range s.predictions {
		snap.Predictions = append(snap.Predictions, p.Clone())
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap, nil
}

// Apply writes the whole mutation or nothing.
func (s *MemoryStore) Apply(_ context.Context, m domain.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	if m.Prediction != nil {
		cur, exists := s.predictions[m.Prediction.Address]
		switch {
		case m.Created && exists:
			return domain.ErrDuplicateCommit
		case !m.Created && !exists:
			return domain.ErrNotFound
		case m.Guard == domain.GuardUnrevealed && cur.Choice != domain.ChoiceUnset:
			return domain.ErrAlreadyRevealed
		case m.Guard == domain.GuardUnclaimed && cur.Claimed:
			return domain.ErrAlreadyClaimed
		}
	}
	if m.Outcome != nil && s.outcome != nil {
		return domain.ErrOutcomeLatched
	}
	if m.Movement != nil && m.Movement.Kind == domain.MovementPayout && m.Movement.Amount.Gt(s.custody) {
		return domain.ErrCustodyShortfall
	}

	if m.Prediction != nil {
		s.predictions[m.Prediction.Address] = m.Prediction.Clone()
	}
	if m.Outcome != nil {
		o := *m.Outcome
		s.outcome = &o
	}
	if m.Movement != nil {
		switch m.Movement.Kind {
		case domain.MovementEscrow:
			s.custody.Add(s.custody, m.Movement.Amount)
		case domain.MovementPayout:
			s.custody.Sub(s.custody, m.Movement.Amount)
		}
		s.movements = append(s.movements, *m.Movement)
	}
	s.events = append(s.events, m.Events...)
	return nil
}

// ListEvents pages the event log in insertion order.
func (s *MemoryStore) ListEvents(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, e := range s.events {
		if opts.Since != nil && e.At.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.At.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Movements returns every recorded fund movement.
func (s *MemoryStore) Movements() []domain.FundMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FundMovement, len(s.movements))
	copy(out, s.movements)
	return out
}
