package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// Config holds the collaborators of a Market.
type Config struct {
	Params domain.MarketParams
	Feed   domain.PriceFeed
	// Store defaults to a fresh MemoryStore.
	Store domain.LedgerStore
	Sinks []domain.EventSink
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Market is one prediction market instance. All operations are serialised
// by mu; each either applies completely or leaves no trace. Every operation
// reloads the ledger from the store first, so several Markets in different
// processes may share one store.
type Market struct {
	mu sync.Mutex

	params    domain.MarketParams
	deadlines Deadlines
	feed      domain.PriceFeed
	store     domain.LedgerStore
	emitter   *emitter
	now       func() time.Time
	logger    *slog.Logger

	ledger  *ledger
	outcome *domain.Outcome
	custody *uint256.Int
}

// ValidateParams checks the immutable market parameters.
func ValidateParams(p domain.MarketParams) error {
	if p.ID == "" {
		return fmt.Errorf("%w: market id is required", domain.ErrInvalidMarket)
	}
	if p.FixedWager == nil || p.FixedWager.IsZero() {
		return fmt.Errorf("%w: fixed wager must be positive", domain.ErrInvalidMarket)
	}
	return DeadlinesOf(p).Validate()
}

// New validates the parameters and restores any persisted state from the
// store.
func New(ctx context.Context, cfg Config) (*Market, error) {
	if err := ValidateParams(cfg.Params); err != nil {
		return nil, err
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("%w: price feed is required", domain.ErrInvalidMarket)
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("component", "market"), slog.String("market_id", cfg.Params.ID))

	params := cfg.Params
	params.FixedWager = new(uint256.Int).Set(cfg.Params.FixedWager)

	m := &Market{
		params:    params,
		deadlines: DeadlinesOf(params),
		feed:      cfg.Feed,
		store:     cfg.Store,
		emitter:   &emitter{sinks: cfg.Sinks, logger: logger},
		now:       cfg.Now,
		logger:    logger,
		ledger:    newLedger(),
		custody:   new(uint256.Int),
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "market ready",
		slog.Int("predictions", m.ledger.len()),
		slog.Bool("resolved", m.outcome != nil),
		slog.String("custody", m.custody.Dec()),
		slog.String("phase", m.deadlines.PhaseAt(m.now()).String()),
	)
	return m, nil
}

// Refresh reloads the ledger, outcome and custody from the store. Queries
// serve the state seen by the last operation or Refresh.
func (m *Market) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

// load replaces the in-memory state with the store's. Callers hold mu. On
// error the previous state is kept.
func (m *Market) load(ctx context.Context) error {
	snap, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("market: load ledger: %w", err)
	}
	l := newLedger()
	for _, p := range snap.Predictions {
		l.put(p)
	}
	var outcome *domain.Outcome
	if snap.Outcome != nil {
		o := *snap.Outcome
		outcome = &o
	}
	custody := new(uint256.Int)
	if snap.Custody != nil {
		custody.Set(snap.Custody)
	} else {
		escrowed, paid := l.totals()
		custody.Sub(escrowed, paid)
	}
	m.ledger, m.outcome, m.custody = l, outcome, custody
	return nil
}

// persist applies mut. A guard conflict means another process moved the
// prediction after load; it is reported like the matching precondition.
func (m *Market) persist(ctx context.Context, op Operation, caller Caller, mut domain.Mutation) error {
	err := m.store.Apply(ctx, mut)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrDuplicateCommit),
		errors.Is(err, domain.ErrAlreadyRevealed),
		errors.Is(err, domain.ErrAlreadyClaimed):
		return m.reject(ctx, op, caller, err)
	default:
		return fmt.Errorf("market: persist %s: %w", op, err)
	}
}

// CommitChoice records a hidden prediction for the caller and escrows wager.
func (m *Market) CommitChoice(ctx context.Context, caller Caller, commitment common.Hash, wager *uint256.Int) error {
	events, err := m.commit(ctx, caller, commitment, wager)
	m.emitter.emit(ctx, events...)
	return err
}

func (m *Market) commit(ctx context.Context, caller Caller, commitment common.Hash, wager *uint256.Int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := m.deadlines.PhaseAt(now).Check(OpCommit); err != nil {
		return nil, m.reject(ctx, OpCommit, caller, err)
	}
	if wager == nil || !wager.Eq(m.params.FixedWager) {
		return nil, m.reject(ctx, OpCommit, caller, fmt.Errorf("%w: want %s", domain.ErrWagerMismatch, m.params.FixedWager.Dec()))
	}
	if commitment == (common.Hash{}) {
		return nil, m.reject(ctx, OpCommit, caller, domain.ErrEmptyCommitment)
	}
	addr, err := caller.authorize(commitment)
	if err != nil {
		return nil, m.reject(ctx, OpCommit, caller, err)
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	if _, exists := m.ledger.get(addr); exists {
		return nil, m.reject(ctx, OpCommit, caller, domain.ErrDuplicateCommit)
	}

	pred := domain.PredictionCommit{
		Address:     addr,
		Commitment:  commitment,
		Wager:       new(uint256.Int).Set(wager),
		Choice:      domain.ChoiceUnset,
		CommittedAt: now,
	}
	evt := m.amountEvent(domain.EventCommit, addr, wager, now)
	mut := domain.Mutation{
		Prediction: &pred,
		Created:    true,
		Movement: &domain.FundMovement{
			Kind: domain.MovementEscrow, Address: addr, Amount: new(uint256.Int).Set(wager), At: now,
		},
		Events: []domain.Event{evt},
	}
	if err := m.persist(ctx, OpCommit, caller, mut); err != nil {
		return nil, err
	}

	m.ledger.put(pred)
	m.custody.Add(m.custody, wager)
	m.logger.InfoContext(ctx, "prediction committed",
		slog.String("address", addr.Hex()),
		slog.Bool("relayed", caller.IsRelayed()),
	)
	return mut.Events, nil
}

// RevealChoice opens the caller's commitment. The preimage must hash to the
// stored commitment for the participant's own address.
func (m *Market) RevealChoice(ctx context.Context, caller Caller, choice domain.Choice, bf BlindingFactor) error {
	events, err := m.reveal(ctx, caller, choice, bf)
	m.emitter.emit(ctx, events...)
	return err
}

func (m *Market) reveal(ctx context.Context, caller Caller, choice domain.Choice, bf BlindingFactor) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := m.deadlines.PhaseAt(now).Check(OpReveal); err != nil {
		return nil, m.reject(ctx, OpReveal, caller, err)
	}
	if !choice.Valid() {
		return nil, m.reject(ctx, OpReveal, caller, fmt.Errorf("%w: %s", domain.ErrInvalidChoice, choice))
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	stored, exists := m.ledger.get(caller.Target())
	if !exists {
		return nil, m.reject(ctx, OpReveal, caller, domain.ErrNotCommitted)
	}
	// A relayer proves consent over the commitment the participant made.
	addr, err := caller.authorize(stored.Commitment)
	if err != nil {
		return nil, m.reject(ctx, OpReveal, caller, err)
	}
	if stored.Choice != domain.ChoiceUnset {
		return nil, m.reject(ctx, OpReveal, caller, domain.ErrAlreadyRevealed)
	}
	if ComputeCommitment(choice, bf, addr) != stored.Commitment {
		return nil, m.reject(ctx, OpReveal, caller, domain.ErrCommitmentMismatch)
	}

	pred := stored.Clone()
	pred.Choice = choice
	pred.RevealedAt = &now
	evt := m.participantEvent(domain.EventReveal, addr, now)
	evt.Choice = choice
	mut := domain.Mutation{Prediction: &pred, Guard: domain.GuardUnrevealed, Events: []domain.Event{evt}}
	if err := m.persist(ctx, OpReveal, caller, mut); err != nil {
		return nil, err
	}

	m.ledger.put(pred)
	m.logger.InfoContext(ctx, "prediction revealed",
		slog.String("address", addr.Hex()),
		slog.String("choice", choice.String()),
		slog.Bool("relayed", caller.IsRelayed()),
	)
	return mut.Events, nil
}

// ClaimWinnings pays a revealed winner wager plus an equal share of the
// losing pot. Payout always goes to addr, whoever triggers it.
func (m *Market) ClaimWinnings(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	payout, events, err := m.claim(ctx, addr)
	m.emitter.emit(ctx, events...)
	return payout, err
}

func (m *Market) claim(ctx context.Context, addr common.Address) (*uint256.Int, []domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(ctx); err != nil {
		return nil, nil, err
	}
	caller := Direct(addr)
	stored, exists := m.ledger.get(addr)
	switch {
	case !exists:
		return nil, nil, m.reject(ctx, OpClaim, caller, fmt.Errorf("%w: no commitment", domain.ErrInvalidClaim))
	case !stored.Choice.Valid():
		return nil, nil, m.reject(ctx, OpClaim, caller, fmt.Errorf("%w: not revealed", domain.ErrInvalidClaim))
	case m.outcome == nil:
		return nil, nil, m.reject(ctx, OpClaim, caller, fmt.Errorf("%w: outcome not resolved", domain.ErrInvalidClaim))
	}
	winning := domain.WinningSide(m.outcome.Occurred)
	if stored.Choice != winning {
		return nil, nil, m.reject(ctx, OpClaim, caller, fmt.Errorf("%w: revealed losing side", domain.ErrInvalidClaim))
	}
	if stored.Claimed {
		return nil, nil, m.reject(ctx, OpClaim, caller, domain.ErrAlreadyClaimed)
	}
	now := m.now()
	if err := m.deadlines.PhaseAt(now).Check(OpClaim); err != nil {
		return nil, nil, m.reject(ctx, OpClaim, caller, err)
	}

	// The claimant is a revealed winner, so NumWinningReveals >= 1.
	t := m.ledger.tally(winning)
	payout, err := computePayout(stored.Wager, t.LosingPot, t.NumWinningReveals)
	if err != nil {
		return nil, nil, m.reject(ctx, OpClaim, caller, err)
	}
	if payout.Gt(m.custody) {
		m.logger.ErrorContext(ctx, "custody below payout",
			slog.String("address", addr.Hex()),
			slog.String("payout", payout.Dec()),
			slog.String("custody", m.custody.Dec()),
		)
		return nil, nil, fmt.Errorf("market: claim %s: %w", addr.Hex(), domain.ErrCustodyShortfall)
	}

	pred := stored.Clone()
	pred.Claimed = true
	pred.Payout = new(uint256.Int).Set(payout)
	pred.ClaimedAt = &now
	paid := m.amountEvent(domain.EventPayout, addr, payout, now)
	claimed := m.amountEvent(domain.EventWinningsClaimed, addr, payout, now)
	claimed.Choice = winning
	mut := domain.Mutation{
		Prediction: &pred,
		Guard:      domain.GuardUnclaimed,
		Movement: &domain.FundMovement{
			Kind: domain.MovementPayout, Address: addr, Amount: new(uint256.Int).Set(payout), At: now,
		},
		Events: []domain.Event{paid, claimed},
	}
	if err := m.persist(ctx, OpClaim, caller, mut); err != nil {
		return nil, nil, err
	}

	m.ledger.put(pred)
	m.custody.Sub(m.custody, payout)
	m.logger.InfoContext(ctx, "winnings claimed",
		slog.String("address", addr.Hex()),
		slog.String("payout", payout.Dec()),
	)
	return new(uint256.Int).Set(payout), mut.Events, nil
}

// reject logs and wraps a failed precondition.
func (m *Market) reject(ctx context.Context, op Operation, caller Caller, err error) error {
	level := slog.LevelDebug
	if errors.Is(err, domain.ErrAuthorization) {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "operation rejected",
		slog.String("op", string(op)),
		slog.String("caller", caller.String()),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("market: %s %s: %w", op, caller.Target().Hex(), err)
}

// Params returns the immutable market parameters.
func (m *Market) Params() domain.MarketParams {
	p := m.params
	p.FixedWager = new(uint256.Int).Set(m.params.FixedWager)
	return p
}

// Deadlines returns the phase gate configuration.
func (m *Market) Deadlines() Deadlines {
	return m.deadlines
}

// Phase evaluates the gate against the market clock.
func (m *Market) Phase() Phase {
	return m.deadlines.PhaseAt(m.now())
}

// Permitted lists the operations the gate currently allows.
func (m *Market) Permitted() []Operation {
	return m.deadlines.Permitted(m.now())
}

// Now returns the market clock reading.
func (m *Market) Now() time.Time {
	return m.now()
}

// Outcome returns the latched outcome, if any.
func (m *Market) Outcome() (domain.Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcome == nil {
		return domain.Outcome{}, false
	}
	return *m.outcome, true
}

// Prediction returns a copy of addr's ledger entry.
func (m *Market) Prediction(addr common.Address) (domain.PredictionCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ledger.get(addr)
	if !ok {
		return domain.PredictionCommit{}, fmt.Errorf("market: prediction %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// Predictions returns copies of every ledger entry ordered by address.
func (m *Market) Predictions() []domain.PredictionCommit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.snapshot()
}

// Tally aggregates reveals against the latched outcome.
func (m *Market) Tally() (domain.Tally, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcome == nil {
		return domain.Tally{}, false
	}
	return m.ledger.tally(domain.WinningSide(m.outcome.Occurred)), true
}

// Custody returns the funds currently held by the market.
func (m *Market) Custody() *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(uint256.Int).Set(m.custody)
}

// ClaimableWinners lists revealed winners that have not claimed yet.
func (m *Market) ClaimableWinners() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcome == nil {
		return nil
	}
	winning := domain.WinningSide(m.outcome.Occurred)
	var out []common.Address
	for _, p := range m.ledger.snapshot() {
		if p.Choice == winning && !p.Claimed {
			out = append(out, p.Address)
		}
	}
	return out
}

// Report builds the settlement report for the current state.
func (m *Market) Report() domain.SettlementReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	escrowed, paid := m.ledger.totals()
	r := domain.SettlementReport{
		MarketID:      m.params.ID,
		Benchmark:     m.params.Benchmark,
		FixedWager:    new(uint256.Int).Set(m.params.FixedWager),
		Predictions:   m.ledger.snapshot(),
		TotalEscrowed: escrowed,
		TotalPaid:     paid,
		Custody:       new(uint256.Int).Set(m.custody),
		GeneratedAt:   m.now(),
	}
	if m.outcome != nil {
		o := *m.outcome
		r.Outcome = &o
		t := m.ledger.tally(domain.WinningSide(o.Occurred))
		r.Tally = &t
	}
	return r
}
