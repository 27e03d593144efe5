package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// defaultEventPage bounds ListEvents when the caller gives no limit.
const defaultEventPage = 100

// LedgerStore implements domain.LedgerStore and domain.EventStore for one
// market. Each Apply runs in a single transaction holding the market's
// advisory lock, so guards and the custody check see committed state.
type LedgerStore struct {
	pool     *pgxpool.Pool
	marketID string
}

// NewLedgerStore creates a LedgerStore for marketID.
func NewLedgerStore(pool *pgxpool.Pool, marketID string) *LedgerStore {
	return &LedgerStore{pool: pool, marketID: marketID}
}

const predictionSelectCols = `address, commitment, wager::text, choice, claimed,
	payout::text, committed_at, revealed_at, claimed_at`

// Load reads every prediction, the outcome and the custody balance.
func (s *LedgerStore) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionSelectCols+` FROM predictions WHERE market_id = $1 ORDER BY address`,
		s.marketID)
	if err != nil {
		return snap, fmt.Errorf("postgres: load predictions: %w", err)
	}
	snap.Predictions, err = scanPredictionRows(rows)
	if err != nil {
		return snap, fmt.Errorf("postgres: scan predictions: %w", err)
	}

	var o domain.Outcome
	err = s.pool.QueryRow(ctx,
		`SELECT occurred, price, resolved_at FROM market_outcome WHERE market_id = $1`,
		s.marketID,
	).Scan(&o.Occurred, &o.Price, &o.ResolvedAt)
	switch {
	case err == nil:
		snap.Outcome = &o
	case !errors.Is(err, pgx.ErrNoRows):
		return snap, fmt.Errorf("postgres: load outcome: %w", err)
	}

	if snap.Custody, err = s.custody(ctx, s.pool); err != nil {
		return snap, err
	}
	return snap, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// custody sums escrows minus payouts for the market.
func (s *LedgerStore) custody(ctx context.Context, q querier) (*uint256.Int, error) {
	var dec string
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'escrow' THEN amount ELSE -amount END), 0)::text
		FROM fund_movements WHERE market_id = $1`,
		s.marketID,
	).Scan(&dec)
	if err != nil {
		return nil, fmt.Errorf("postgres: load custody: %w", err)
	}
	v, err := parseAmount(dec)
	if err != nil {
		return nil, fmt.Errorf("postgres: custody: %w", err)
	}
	return v, nil
}

func scanPredictionRows(rows pgx.Rows) ([]domain.PredictionCommit, error) {
	defer rows.Close()
	var out []domain.PredictionCommit
	for rows.Next() {
		var (
			p                   domain.PredictionCommit
			addr, commitment    string
			wager               string
			payout              *string
			choice              int16
			revealedAt, claimed *time.Time
		)
		if err := rows.Scan(&addr, &commitment, &wager, &choice, &p.Claimed,
			&payout, &p.CommittedAt, &revealedAt, &claimed); err != nil {
			return nil, err
		}
		p.Address = common.HexToAddress(addr)
		p.Commitment = common.HexToHash(commitment)
		p.Choice = domain.Choice(choice)
		p.RevealedAt = revealedAt
		p.ClaimedAt = claimed
		var err error
		if p.Wager, err = parseAmount(wager); err != nil {
			return nil, fmt.Errorf("wager of %s: %w", addr, err)
		}
		if payout != nil {
			if p.Payout, err = parseAmount(*payout); err != nil {
				return nil, fmt.Errorf("payout of %s: %w", addr, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Apply writes m atomically.
func (s *LedgerStore) Apply(ctx context.Context, m domain.Mutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialise writers of this market across processes until commit.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.marketID); err != nil {
		return fmt.Errorf("postgres: lock market: %w", err)
	}

	if m.Prediction != nil {
		if err := s.writePrediction(ctx, tx, m.Prediction, m.Created, m.Guard); err != nil {
			return err
		}
	}
	if m.Outcome != nil {
		tag, err := tx.Exec(ctx, `
			INSERT INTO market_outcome (market_id, occurred, price, resolved_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (market_id) DO NOTHING`,
			s.marketID, m.Outcome.Occurred, m.Outcome.Price, m.Outcome.ResolvedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert outcome: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: outcome already recorded: %w", domain.ErrOutcomeLatched)
		}
	}
	if mv := m.Movement; mv != nil {
		if mv.Kind == domain.MovementPayout {
			custody, err := s.custody(ctx, tx)
			if err != nil {
				return err
			}
			if mv.Amount.Gt(custody) {
				return fmt.Errorf("postgres: payout %s over custody %s: %w",
					mv.Amount.Dec(), custody.Dec(), domain.ErrCustodyShortfall)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO fund_movements (market_id, kind, address, amount, at)
			VALUES ($1, $2, $3, $4::numeric, $5)`,
			s.marketID, string(mv.Kind), mv.Address.Hex(), mv.Amount.Dec(), mv.At)
		if err != nil {
			return fmt.Errorf("postgres: insert fund movement: %w", err)
		}
	}
	if len(m.Events) > 0 {
		batch := &pgx.Batch{}
		for _, evt := range m.Events {
			payload, err := json.Marshal(evt)
			if err != nil {
				return fmt.Errorf("postgres: encode event %s: %w", evt.ID, err)
			}
			batch.Queue(`
				INSERT INTO market_events (id, market_id, kind, payload, at)
				VALUES ($1, $2, $3, $4, $5)`,
				evt.ID, s.marketID, string(evt.Kind), payload, evt.At)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit apply: %w", err)
	}
	return nil
}

func (s *LedgerStore) writePrediction(ctx context.Context, tx pgx.Tx, p *domain.PredictionCommit, created bool, guard domain.Guard) error {
	var payout *string
	if p.Payout != nil {
		v := p.Payout.Dec()
		payout = &v
	}
	if created {
		tag, err := tx.Exec(ctx, `
			INSERT INTO predictions (market_id, address, commitment, wager, choice, claimed,
				payout, committed_at, revealed_at, claimed_at)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::numeric, $8, $9, $10)
			ON CONFLICT (market_id, address) DO NOTHING`,
			s.marketID, p.Address.Hex(), p.Commitment.Hex(), p.Wager.Dec(), int16(p.Choice),
			p.Claimed, payout, p.CommittedAt, p.RevealedAt, p.ClaimedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert prediction %s: %w", p.Address.Hex(), err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: prediction %s: %w", p.Address.Hex(), domain.ErrDuplicateCommit)
		}
		return nil
	}

	// $8 selects the guard: 1 needs an unrevealed row, 2 an unclaimed one.
	tag, err := tx.Exec(ctx, `
		UPDATE predictions
		SET choice = $3, claimed = $4, payout = $5::numeric, revealed_at = $6, claimed_at = $7
		WHERE market_id = $1 AND address = $2
		  AND ($8 <> 1 OR choice = 0)
		  AND ($8 <> 2 OR claimed = false)`,
		s.marketID, p.Address.Hex(), int16(p.Choice), p.Claimed, payout, p.RevealedAt, p.ClaimedAt, int16(guard))
	if err != nil {
		return fmt.Errorf("postgres: update prediction %s: %w", p.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: prediction %s: %w", p.Address.Hex(), guardError(guard))
	}
	return nil
}

// guardError is the failure reported when an update matched no row. Rows are
// never deleted, so for a guarded update the guard is what failed.
func guardError(g domain.Guard) error {
	switch g {
	case domain.GuardUnrevealed:
		return domain.ErrAlreadyRevealed
	case domain.GuardUnclaimed:
		return domain.ErrAlreadyClaimed
	default:
		return domain.ErrNotFound
	}
}

// ListEvents pages the event log in emission order.
func (s *LedgerStore) ListEvents(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultEventPage
	}
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM market_events
		WHERE market_id = $1
		  AND ($2::timestamptz IS NULL OR at >= $2)
		  AND ($3::timestamptz IS NULL OR at <= $3)
		ORDER BY seq
		LIMIT $4 OFFSET $5`,
		s.marketID, opts.Since, opts.Until, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var evt domain.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func parseAmount(dec string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", dec, err)
	}
	return v, nil
}

var (
	_ domain.LedgerStore = (*LedgerStore)(nil)
	_ domain.EventStore  = (*LedgerStore)(nil)
)
