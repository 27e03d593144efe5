package market

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// ledger holds one prediction per participant. Existence is explicit: an
// address either has an entry or it does not, independent of any field value.
type ledger struct {
	entries map[common.Address]*domain.PredictionCommit
}

func newLedger() *ledger {
	return &ledger{entries: make(map[common.Address]*domain.PredictionCommit)}
}

func (l *ledger) get(addr common.Address) (*domain.PredictionCommit, bool) {
	p, ok := l.entries[addr]
	return p, ok
}

// put stores a copy of p.
func (l *ledger) put(p domain.PredictionCommit) {
	c := p.Clone()
	l.entries[p.Address] = &c
}

func (l *ledger) len() int {
	return len(l.entries)
}

// snapshot returns deep copies ordered by address.
func (l *ledger) snapshot() []domain.PredictionCommit {
	out := make([]domain.PredictionCommit, 0, len(l.entries))
	for _, p := range l.entries {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// tally aggregates wagers by side for the given winning side. Unrevealed
// entries are counted apart and belong to neither pot.
func (l *ledger) tally(winning domain.Choice) domain.Tally {
	t := domain.Tally{
		WinningSide: winning,
		WinningPot:  new(uint256.Int),
		LosingPot:   new(uint256.Int),
		Unrevealed:  new(uint256.Int),
	}
	for _, p := range l.entries {
		switch {
		case !p.Choice.Valid():
			t.NumUnrevealed++
			t.Unrevealed.Add(t.Unrevealed, p.Wager)
		case p.Choice == winning:
			t.NumWinningReveals++
			t.WinningPot.Add(t.WinningPot, p.Wager)
		default:
			t.NumLosingReveals++
			t.LosingPot.Add(t.LosingPot, p.Wager)
		}
	}
	return t
}

// totals returns the sum of all escrowed wagers and of all payouts made.
func (l *ledger) totals() (escrowed, paid *uint256.Int) {
	escrowed, paid = new(uint256.Int), new(uint256.Int)
	for _, p := range l.entries {
		escrowed.Add(escrowed, p.Wager)
		if p.Claimed && p.Payout != nil {
			paid.Add(paid, p.Payout)
		}
	}
	return escrowed, paid
}
