package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

func TestPhaseAtBoundaries(t *testing.T) {
	d := testDeadlines
	tests := []struct {
		name string
		now  time.Time
		want Phase
	}{
		{"start", testBase, PhaseCommit},
		{"at commit deadline", d.Commit, PhaseCommit},
		{"just after commit deadline", d.Commit.Add(time.Nanosecond), PhaseAwaitingResolution},
		{"at event deadline", d.Event, PhaseAwaitingResolution},
		{"just after event deadline", d.Event.Add(time.Nanosecond), PhaseReveal},
		{"at reveal deadline", d.Reveal, PhaseReveal},
		{"just after reveal deadline", d.Reveal.Add(time.Nanosecond), PhaseAwaitingPayout},
		{"at payout deadline", d.Payout, PhaseAwaitingPayout},
		{"just after payout deadline", d.Payout.Add(time.Nanosecond), PhaseClosed},
		{"long after", d.Payout.Add(365 * 24 * time.Hour), PhaseClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.PhaseAt(tt.now))
		})
	}
}

func TestDeadlinesValidate(t *testing.T) {
	require.NoError(t, testDeadlines.Validate())

	bad := map[string]func(d *Deadlines){
		"missing payout":       func(d *Deadlines) { d.Payout = time.Time{} },
		"commit equals event":  func(d *Deadlines) { d.Commit = d.Event },
		"commit after event":   func(d *Deadlines) { d.Commit = d.Event.Add(time.Second) },
		"reveal equals event":  func(d *Deadlines) { d.Reveal = d.Event },
		"reveal before event":  func(d *Deadlines) { d.Reveal = d.Event.Add(-time.Second) },
		"payout equals reveal": func(d *Deadlines) { d.Payout = d.Reveal },
		"payout before reveal": func(d *Deadlines) { d.Payout = d.Reveal.Add(-time.Second) },
		"reveal before commit": func(d *Deadlines) { d.Reveal = d.Commit.Add(-time.Second) },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			d := testDeadlines
			mutate(&d)
			require.ErrorIs(t, d.Validate(), domain.ErrInvalidMarket)
		})
	}
}

func TestPhaseCheck(t *testing.T) {
	tests := []struct {
		phase Phase
		op    Operation
		want  error
	}{
		{PhaseCommit, OpCommit, nil},
		{PhaseAwaitingResolution, OpCommit, domain.ErrDeadlinePassed},
		{PhaseClosed, OpCommit, domain.ErrDeadlinePassed},

		{PhaseCommit, OpResolve, domain.ErrTooEarly},
		{PhaseAwaitingResolution, OpResolve, nil},
		{PhaseReveal, OpResolve, nil},
		{PhaseAwaitingPayout, OpResolve, nil},
		{PhaseClosed, OpResolve, domain.ErrDeadlinePassed},

		{PhaseCommit, OpReveal, domain.ErrTooEarly},
		{PhaseAwaitingResolution, OpReveal, domain.ErrTooEarly},
		{PhaseReveal, OpReveal, nil},
		{PhaseAwaitingPayout, OpReveal, domain.ErrDeadlinePassed},

		{PhaseReveal, OpClaim, domain.ErrTooEarly},
		{PhaseAwaitingPayout, OpClaim, nil},
		{PhaseClosed, OpClaim, domain.ErrDeadlinePassed},
	}
	for _, tt := range tests {
		t.Run(tt.phase.String()+"/"+string(tt.op), func(t *testing.T) {
			err := tt.phase.Check(tt.op)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}

	require.Error(t, PhaseCommit.Check(Operation("withdraw")))
}

func TestPermitted(t *testing.T) {
	d := testDeadlines
	assert.Equal(t, []Operation{OpCommit}, d.Permitted(d.Commit))
	assert.Equal(t, []Operation{OpResolve}, d.Permitted(d.Event))
	assert.Equal(t, []Operation{OpResolve, OpReveal}, d.Permitted(d.Reveal))
	assert.Equal(t, []Operation{OpResolve, OpClaim}, d.Permitted(d.Payout))
	assert.Empty(t, d.Permitted(d.Payout.Add(time.Nanosecond)))
}
