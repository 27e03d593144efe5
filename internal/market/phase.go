package market

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// Phase is the deadline-derived stage of the market.
type Phase int

const (
	// PhaseCommit: now <= commit deadline.
	PhaseCommit Phase = iota
	// PhaseAwaitingResolution: commit deadline < now <= event deadline.
	PhaseAwaitingResolution
	// PhaseReveal: event deadline < now <= reveal deadline.
	PhaseReveal
	// PhaseAwaitingPayout: reveal deadline < now <= payout deadline.
	PhaseAwaitingPayout
	// PhaseClosed: now > payout deadline.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseCommit:
		return "commit"
	case PhaseAwaitingResolution:
		return "awaiting_resolution"
	case PhaseReveal:
		return "reveal"
	case PhaseAwaitingPayout:
		return "awaiting_payout"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Operation is a state-mutating market call.
type Operation string

const (
	OpCommit  Operation = "commit"
	OpResolve Operation = "resolve"
	OpReveal  Operation = "reveal"
	OpClaim   Operation = "claim"
)

// window is the inclusive range of phases in which an operation is valid.
type window struct {
	first, last Phase
}

var operationWindows = map[Operation]window{
	OpCommit:  {PhaseCommit, PhaseCommit},
	OpResolve: {PhaseAwaitingResolution, PhaseAwaitingPayout},
	OpReveal:  {PhaseReveal, PhaseReveal},
	OpClaim:   {PhaseAwaitingPayout, PhaseAwaitingPayout},
}

// allOperations fixes the order reported by Permitted.
var allOperations = []Operation{OpCommit, OpResolve, OpReveal, OpClaim}

// Deadlines are the four configured instants that drive the phase gate.
// Every deadline is inclusive: an operation is still valid at the exact
// instant of its deadline.
type Deadlines struct {
	Commit time.Time
	Event  time.Time
	Reveal time.Time
	Payout time.Time
}

// DeadlinesOf extracts the deadlines from market parameters.
func DeadlinesOf(p domain.MarketParams) Deadlines {
	return Deadlines{
		Commit: p.CommitDeadline,
		Event:  p.EventDeadline,
		Reveal: p.RevealDeadline,
		Payout: p.PayoutDeadline,
	}
}

// Validate enforces commit < event < reveal < payout. The outcome must be
// resolvable before reveals close so that it is latched before any claim,
// and the reveal phase (event, reveal] must not be empty.
func (d Deadlines) Validate() error {
	switch {
	case d.Commit.IsZero() || d.Event.IsZero() || d.Reveal.IsZero() || d.Payout.IsZero():
		return fmt.Errorf("%w: all four deadlines must be set", domain.ErrInvalidMarket)
	case !d.Commit.Before(d.Event):
		return fmt.Errorf("%w: commit deadline must be before event deadline", domain.ErrInvalidMarket)
	case !d.Event.Before(d.Reveal):
		return fmt.Errorf("%w: event deadline must be before reveal deadline", domain.ErrInvalidMarket)
	case !d.Reveal.Before(d.Payout):
		return fmt.Errorf("%w: reveal deadline must be before payout deadline", domain.ErrInvalidMarket)
	}
	return nil
}

// PhaseAt is a pure function of now and the deadlines.
func (d Deadlines) PhaseAt(now time.Time) Phase {
	switch {
	case !now.After(d.Commit):
		return PhaseCommit
	case !now.After(d.Event):
		return PhaseAwaitingResolution
	case !now.After(d.Reveal):
		return PhaseReveal
	case !now.After(d.Payout):
		return PhaseAwaitingPayout
	default:
		return PhaseClosed
	}
}

// Permitted lists the operations valid at now.
func (d Deadlines) Permitted(now time.Time) []Operation {
	phase := d.PhaseAt(now)
	var ops []Operation
	for _, op := range allOperations {
		if phase.Check(op) == nil {
			ops = append(ops, op)
		}
	}
	return ops
}

// Check returns ErrTooEarly if op's window has not opened in phase p and
// ErrDeadlinePassed if it has closed.
func (p Phase) Check(op Operation) error {
	w, ok := operationWindows[op]
	if !ok {
		return fmt.Errorf("market: unknown operation %q", op)
	}
	if p < w.first {
		return fmt.Errorf("%s during %s phase: %w", op, p, domain.ErrTooEarly)
	}
	if p > w.last {
		return fmt.Errorf("%s during %s phase: %w", op, p, domain.ErrDeadlinePassed)
	}
	return nil
}
