package postgres

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/sm?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "sm", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/sm?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "sm", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://override", DSN(ClientConfig{DSN: "postgres://override", Host: "ignored"}))
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).SetAllOne(), v)

	_, err = parseAmount("-1")
	require.Error(t, err)
	_, err = parseAmount("1.5")
	require.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_ledger.sql")
	require.NoError(t, err)
	for _, table := range []string{"predictions", "market_outcome", "fund_movements", "market_events"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

// TestLedgerStoreLive runs against SECRETMARKET_TEST_POSTGRES when set.
func TestLedgerStoreLive(t *testing.T) {
	dsn := os.Getenv("SECRETMARKET_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("SECRETMARKET_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx))

	s := NewLedgerStore(c.Pool(), "test-"+strconv.FormatInt(time.Now().UnixNano(), 36))
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Predictions)
	assert.Nil(t, snap.Outcome)
	assert.True(t, snap.Custody.IsZero())

	now := time.Now().UTC().Truncate(time.Microsecond)
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	wager := uint256.NewInt(1001)
	pred := domain.PredictionCommit{
		Address:     addr,
		Commitment:  common.HexToHash("0x01"),
		Wager:       wager,
		CommittedAt: now,
	}
	commit := domain.Mutation{
		Prediction: &pred,
		Created:    true,
		Movement:   &domain.FundMovement{Kind: domain.MovementEscrow, Address: addr, Amount: wager, At: now},
		Events: []domain.Event{{
			ID: "7f0c2d2e-3b7a-4c0e-9f4f-0b7e3e0b2a01", MarketID: "m", Kind: domain.EventCommit,
			Address: &addr, Amount: wager, At: now,
		}},
	}
	require.NoError(t, s.Apply(ctx, commit))
	commit.Events = nil
	require.ErrorIs(t, s.Apply(ctx, commit), domain.ErrDuplicateCommit)

	revealed := pred.Clone()
	revealed.Choice = domain.ChoiceYes
	revealed.RevealedAt = &now
	reveal := domain.Mutation{Prediction: &revealed, Guard: domain.GuardUnrevealed}
	require.NoError(t, s.Apply(ctx, reveal))
	require.ErrorIs(t, s.Apply(ctx, reveal), domain.ErrAlreadyRevealed)

	outcome := domain.Outcome{Occurred: true, Price: 6000, ResolvedAt: now}
	require.NoError(t, s.Apply(ctx, domain.Mutation{Outcome: &outcome}))
	require.ErrorIs(t, s.Apply(ctx, domain.Mutation{Outcome: &outcome}), domain.ErrOutcomeLatched)

	snap, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Predictions, 1)
	got := snap.Predictions[0]
	assert.Equal(t, addr, got.Address)
	assert.Equal(t, domain.ChoiceYes, got.Choice)
	assert.Equal(t, wager, got.Wager)
	require.NotNil(t, got.RevealedAt)
	assert.True(t, now.Equal(*got.RevealedAt))
	require.NotNil(t, snap.Outcome)
	assert.Equal(t, int64(6000), snap.Outcome.Price)
	assert.Equal(t, wager, snap.Custody)

	events, err := s.ListEvents(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCommit, events[0].Kind)
}

// TestLedgerStoreClaimGuardsLive checks that a second claim of the same row
// and a payout beyond custody are refused inside the transaction.
func TestLedgerStoreClaimGuardsLive(t *testing.T) {
	dsn := os.Getenv("SECRETMARKET_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("SECRETMARKET_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.RunMigrations(ctx))

	s := NewLedgerStore(c.Pool(), "claims-"+strconv.FormatInt(time.Now().UnixNano(), 36))
	now := time.Now().UTC().Truncate(time.Microsecond)
	wager := uint256.NewInt(1000)

	committed := make([]domain.PredictionCommit, 2)
	for i := range committed {
		addr := common.BigToAddress(uint256.NewInt(uint64(0xb0 + i)).ToBig())
		committed[i] = domain.PredictionCommit{
			Address:     addr,
			Commitment:  common.BigToHash(uint256.NewInt(uint64(i + 1)).ToBig()),
			Wager:       wager,
			Choice:      domain.ChoiceYes,
			CommittedAt: now,
			RevealedAt:  &now,
		}
		require.NoError(t, s.Apply(ctx, domain.Mutation{
			Prediction: &committed[i],
			Created:    true,
			Movement:   &domain.FundMovement{Kind: domain.MovementEscrow, Address: addr, Amount: wager, At: now},
		}))
	}

	claim := func(p domain.PredictionCommit, amount *uint256.Int) domain.Mutation {
		c := p.Clone()
		c.Claimed = true
		c.Payout = amount
		c.ClaimedAt = &now
		return domain.Mutation{
			Prediction: &c,
			Guard:      domain.GuardUnclaimed,
			Movement:   &domain.FundMovement{Kind: domain.MovementPayout, Address: p.Address, Amount: amount, At: now},
		}
	}

	first := claim(committed[0], uint256.NewInt(1500))
	require.NoError(t, s.Apply(ctx, first))
	require.ErrorIs(t, s.Apply(ctx, first), domain.ErrAlreadyClaimed)
	require.ErrorIs(t, s.Apply(ctx, claim(committed[1], uint256.NewInt(501))), domain.ErrCustodyShortfall)
	require.NoError(t, s.Apply(ctx, claim(committed[1], uint256.NewInt(500))))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Custody.IsZero())
	for _, p := range snap.Predictions {
		assert.True(t, p.Claimed, p.Address.Hex())
	}
}
