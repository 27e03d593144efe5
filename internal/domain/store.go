package domain

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Guard names the state a stored prediction must still be in for an update
// to apply. Several processes may share one store, so the engine's view can
// be stale by the time its mutation reaches the store.
type Guard uint8

const (
	GuardNone Guard = iota
	// GuardUnrevealed fails with ErrAlreadyRevealed once a choice is stored.
	GuardUnrevealed
	// GuardUnclaimed fails with ErrAlreadyClaimed once the row is claimed.
	GuardUnclaimed
)

// Mutation is the complete effect of one successful market operation. A
// LedgerStore must apply all of it or none of it.
//
// Apply must also reject a second Outcome with ErrOutcomeLatched and a
// payout Movement larger than the stored custody with ErrCustodyShortfall.
type Mutation struct {
	// Prediction is inserted when Created is true, otherwise it replaces the
	// existing row for Prediction.Address provided Guard still holds.
	Prediction *PredictionCommit
	Created    bool
	Guard      Guard
	Outcome    *Outcome
	Movement   *FundMovement
	Events     []Event
}

// Snapshot is the durable market state used to rebuild the engine.
type Snapshot struct {
	Predictions []PredictionCommit
	Outcome     *Outcome
	Custody     *uint256.Int
}

// LedgerStore persists the market ledger.
type LedgerStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Apply(ctx context.Context, m Mutation) error
}

// EventStore exposes the persisted event log.
type EventStore interface {
	ListEvents(ctx context.Context, opts ListOpts) ([]Event, error)
}

// PriceFeed is the external oracle consulted once at resolution time.
type PriceFeed interface {
	CurrentPrice(ctx context.Context) (int64, error)
}
