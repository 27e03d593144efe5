package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Choice is a participant's hidden prediction. The numeric values are part of
// the commitment encoding and must never change.
type Choice uint8

const (
	ChoiceUnset Choice = 0
	ChoiceYes   Choice = 1
	ChoiceNo    Choice = 2
)

// Valid reports whether c is a revealable side.
func (c Choice) Valid() bool {
	return c == ChoiceYes || c == ChoiceNo
}

// Opposite returns the other revealable side. Unset maps to Unset.
func (c Choice) Opposite() Choice {
	switch c {
	case ChoiceYes:
		return ChoiceNo
	case ChoiceNo:
		return ChoiceYes
	default:
		return ChoiceUnset
	}
}

func (c Choice) String() string {
	switch c {
	case ChoiceUnset:
		return "unset"
	case ChoiceYes:
		return "yes"
	case ChoiceNo:
		return "no"
	default:
		return fmt.Sprintf("choice(%d)", uint8(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Choice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts "yes", "no", "unset" or any integer. Integers other
// than 0..2 decode without error to a Choice that is not Valid, so the
// market, not the transport, rejects them with ErrInvalidChoice.
func (c *Choice) UnmarshalText(text []byte) error {
	parsed, err := ParseChoice(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalJSON accepts a JSON string in any form UnmarshalText takes, or a
// bare JSON number.
func (c *Choice) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	text := string(data)
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	}
	return c.UnmarshalText([]byte(text))
}

// ParseChoice converts user input into a Choice. Integers that do not fit
// in a uint8 map to 255. Only non-numeric text is an error.
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "1":
		return ChoiceYes, nil
	case "no", "n", "2":
		return ChoiceNo, nil
	case "unset", "0", "":
		return ChoiceUnset, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return ChoiceUnset, fmt.Errorf("%w: %q", ErrInvalidChoice, s)
	}
	if n < 0 || n > math.MaxUint8 {
		return choiceOutOfRange, nil
	}
	return Choice(n), nil
}

// choiceOutOfRange stands in for integers that do not fit a Choice.
const choiceOutOfRange Choice = math.MaxUint8

// WinningSide maps a latched outcome to the side that gets paid.
func WinningSide(occurred bool) Choice {
	if occurred {
		return ChoiceYes
	}
	return ChoiceNo
}

// MarketParams are fixed when the market instance is created.
type MarketParams struct {
	ID             string
	Benchmark      int64
	FixedWager     *uint256.Int
	CommitDeadline time.Time
	EventDeadline  time.Time
	RevealDeadline time.Time
	PayoutDeadline time.Time
	// Oracle describes the price feed handle (e.g. "redis:ETH-USD").
	Oracle string
}

// PredictionCommit is one participant's ledger entry, keyed by Address.
type PredictionCommit struct {
	Address     common.Address `json:"address"`
	Commitment  common.Hash    `json:"commitment"`
	Wager       *uint256.Int   `json:"wager"`
	Choice      Choice         `json:"choice"`
	Claimed     bool           `json:"claimed"`
	Payout      *uint256.Int   `json:"payout,omitempty"`
	CommittedAt time.Time      `json:"committed_at"`
	RevealedAt  *time.Time     `json:"revealed_at,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
}

// Clone returns a deep copy so callers never alias ledger internals.
func (p PredictionCommit) Clone() PredictionCommit {
	out := p
	if p.Wager != nil {
		out.Wager = new(uint256.Int).Set(p.Wager)
	}
	if p.Payout != nil {
		out.Payout = new(uint256.Int).Set(p.Payout)
	}
	if p.RevealedAt != nil {
		t := *p.RevealedAt
		out.RevealedAt = &t
	}
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		out.ClaimedAt = &t
	}
	return out
}

// Outcome is the write-once resolution of the market's event.
type Outcome struct {
	Occurred   bool      `json:"occurred"`
	Price      int64     `json:"price"`
	ResolvedAt time.Time `json:"resolved_at"`
}
