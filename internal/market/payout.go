package market

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// computePayout returns wager + floor(losingPot / numWinning). The remainder
// of the division stays in custody.
func computePayout(wager, losingPot *uint256.Int, numWinning int) (*uint256.Int, error) {
	if numWinning <= 0 {
		return nil, fmt.Errorf("%w: no winning reveals", domain.ErrInvalidClaim)
	}
	share := new(uint256.Int).Div(losingPot, uint256.NewInt(uint64(numWinning)))
	return new(uint256.Int).Add(wager, share), nil
}

// Payout is the amount a winner would receive given the current reveals.
// It reports false when the outcome is not latched or there are no winners.
func (m *Market) Payout() (*uint256.Int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcome == nil {
		return nil, false
	}
	t := m.ledger.tally(domain.WinningSide(m.outcome.Occurred))
	amt, err := computePayout(m.params.FixedWager, t.LosingPot, t.NumWinningReveals)
	if err != nil {
		return nil, false
	}
	return amt, true
}
