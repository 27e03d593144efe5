package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// Tally aggregates revealed wagers by side. Non-revealers are counted in
// Unrevealed and contribute to neither pot.
type Tally struct {
	WinningSide       Choice       `json:"winning_side"`
	NumWinningReveals int          `json:"num_winning_reveals"`
	NumLosingReveals  int          `json:"num_losing_reveals"`
	NumUnrevealed     int          `json:"num_unrevealed"`
	WinningPot        *uint256.Int `json:"winning_pot"`
	LosingPot         *uint256.Int `json:"losing_pot"`
	Unrevealed        *uint256.Int `json:"unrevealed"`
}

// SettlementReport is the archived final state of a closed market.
type SettlementReport struct {
	MarketID      string             `json:"market_id"`
	Benchmark     int64              `json:"benchmark"`
	FixedWager    *uint256.Int       `json:"fixed_wager"`
	Outcome       *Outcome           `json:"outcome,omitempty"`
	Tally         *Tally             `json:"tally,omitempty"`
	Predictions   []PredictionCommit `json:"predictions"`
	TotalEscrowed *uint256.Int       `json:"total_escrowed"`
	TotalPaid     *uint256.Int       `json:"total_paid"`
	Custody       *uint256.Int       `json:"custody"`
	GeneratedAt   time.Time          `json:"generated_at"`
}
