package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names a market notification.
type EventKind string

const (
	EventCommit          EventKind = "commit"
	EventReveal          EventKind = "reveal"
	EventHasOccurred     EventKind = "event_has_occurred"
	EventPayout          EventKind = "payout"
	EventWinningsClaimed EventKind = "winnings_claimed"
)

// Event is a notification emitted once per successful state transition.
// Only the fields relevant to Kind are populated.
type Event struct {
	ID       string          `json:"id"`
	MarketID string          `json:"market_id"`
	Kind     EventKind       `json:"kind"`
	Address  *common.Address `json:"address,omitempty"`
	Choice   Choice          `json:"choice,omitempty"`
	Amount   *uint256.Int    `json:"amount,omitempty"`
	Outcome  *Outcome        `json:"outcome,omitempty"`
	At       time.Time       `json:"at"`
}

// EventSink receives market events after the originating mutation is durable.
// Delivery is at-least-once; sinks must tolerate duplicates.
type EventSink interface {
	Emit(ctx context.Context, evt Event) error
	Name() string
}

// MovementKind distinguishes the two directions funds can move.
type MovementKind string

const (
	MovementEscrow MovementKind = "escrow"
	MovementPayout MovementKind = "payout"
)

// FundMovement records funds entering or leaving market custody.
type FundMovement struct {
	Kind    MovementKind   `json:"kind"`
	Address common.Address `json:"address"`
	Amount  *uint256.Int   `json:"amount"`
	At      time.Time      `json:"at"`
}
