package market

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

var (
	testBase      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testDeadlines = Deadlines{
		Commit: testBase.Add(1 * time.Hour),
		Event:  testBase.Add(2 * time.Hour),
		Reveal: testBase.Add(3 * time.Hour),
		Payout: testBase.Add(4 * time.Hour),
	}
	testBenchmark int64 = 5000
	testWager           = uint256.NewInt(1001)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeFeed struct {
	mu    sync.Mutex
	price int64
	err   error
	calls int
}

func (f *fakeFeed) CurrentPrice(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.price, f.err
}

func (f *fakeFeed) set(price int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price, f.err = price, err
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordSink) Name() string { return "record" }

func (s *recordSink) Emit(_ context.Context, evt domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	m     *Market
	clock *fakeClock
	feed  *fakeFeed
	store *MemoryStore
	sink  *recordSink
}

func testParams() domain.MarketParams {
	return domain.MarketParams{
		ID:             "eth-above-5000",
		Benchmark:      testBenchmark,
		FixedWager:     testWager,
		CommitDeadline: testDeadlines.Commit,
		EventDeadline:  testDeadlines.Event,
		RevealDeadline: testDeadlines.Reveal,
		PayoutDeadline: testDeadlines.Payout,
		Oracle:         "static",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t tb) *fixture {
	t.Helper()
	f := &fixture{
		clock: &fakeClock{t: testBase},
		feed:  &fakeFeed{price: 6000},
		store: NewMemoryStore(),
		sink:  &recordSink{},
	}
	m, err := New(context.Background(), Config{
		Params: testParams(),
		Feed:   f.feed,
		Store:  f.store,
		Sinks:  []domain.EventSink{f.sink},
		Now:    f.clock.Now,
		Logger: discardLogger(),
	})
	require.NoError(t, err)
	f.m = m
	return f
}

// peer builds a second Market over the fixture's store, feed and clock, the
// way an api and a keeper process share one database.
func (f *fixture) peer(t tb, sinks ...domain.EventSink) *Market {
	t.Helper()
	m, err := New(context.Background(), Config{
		Params: testParams(),
		Feed:   f.feed,
		Store:  f.store,
		Sinks:  sinks,
		Now:    f.clock.Now,
		Logger: discardLogger(),
	})
	require.NoError(t, err)
	return m
}

// blockingSink parks the first Emit until release is closed.
type blockingSink struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Emit(ctx context.Context, _ domain.Event) error {
	s.once.Do(func() {
		close(s.entered)
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	})
	return nil
}

// latchHidingStore drops the outcome from the next Load after hideOnce is
// set, standing in for a peer that latched between this process's load and
// its write.
type latchHidingStore struct {
	*MemoryStore
	hideOnce bool
}

func (s *latchHidingStore) Load(ctx context.Context) (domain.Snapshot, error) {
	snap, err := s.MemoryStore.Load(ctx)
	if s.hideOnce {
		s.hideOnce = false
		snap.Outcome = nil
	}
	return snap, err
}

func (f *fixture) toCommitDeadline() { f.clock.Set(testDeadlines.Commit) }
func (f *fixture) toAwaiting()       { f.clock.Set(testDeadlines.Commit.Add(time.Nanosecond)) }
func (f *fixture) toReveal()         { f.clock.Set(testDeadlines.Event.Add(time.Nanosecond)) }
func (f *fixture) toPayout()         { f.clock.Set(testDeadlines.Reveal.Add(time.Nanosecond)) }
func (f *fixture) toClosed()         { f.clock.Set(testDeadlines.Payout.Add(time.Nanosecond)) }

// participant is a committed player with the secret needed to reveal.
type participant struct {
	addr   common.Address
	choice domain.Choice
	bf     BlindingFactor
}

func (p participant) commitment() common.Hash {
	return ComputeCommitment(p.choice, p.bf, p.addr)
}

func addrN(n int) common.Address {
	return common.BigToAddress(uint256.NewInt(uint64(n) + 0x1000).ToBig())
}

func bfN(n int) BlindingFactor {
	var bf BlindingFactor
	copy(bf[:], ethcrypto.Keccak256([]byte{byte(n), byte(n >> 8), 0x5a}))
	return bf
}

func newParticipant(n int, choice domain.Choice) participant {
	return participant{addr: addrN(n), choice: choice, bf: bfN(n)}
}

func (f *fixture) commit(t tb, p participant) {
	t.Helper()
	require.NoError(t, f.m.CommitChoice(context.Background(), Direct(p.addr), p.commitment(), testWager))
}

func (f *fixture) reveal(t tb, p participant) {
	t.Helper()
	require.NoError(t, f.m.RevealChoice(context.Background(), Direct(p.addr), p.choice, p.bf))
}

// signRelay signs the relay payload for commitment the way a participant's
// wallet would (EIP-191, v in {27,28}).
func signRelay(t testing.TB, key *ecdsa.PrivateKey, commitment common.Hash) []byte {
	t.Helper()
	sig, err := ethcrypto.Sign(RelayDigest(RelayPayloadHash(commitment)), key)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func newKey(t testing.TB) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key, ethcrypto.PubkeyToAddress(key.PublicKey)
}

var errBoom = errors.New("boom")

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}
