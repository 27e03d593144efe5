package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func TestArchiverRoundtrip(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs)
	ctx := context.Background()

	ok, err := a.Archived(ctx, "eth-5000")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = a.Settlement(ctx, "eth-5000")
	require.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	report := domain.SettlementReport{
		MarketID:   "eth-5000",
		Benchmark:  5000,
		FixedWager: uint256.NewInt(1001),
		Outcome:    &domain.Outcome{Occurred: true, Price: 6000, ResolvedAt: at},
		Tally: &domain.Tally{
			WinningSide: domain.ChoiceYes, NumWinningReveals: 1,
			WinningPot: uint256.NewInt(1001), LosingPot: uint256.NewInt(0), Unrevealed: uint256.NewInt(0),
		},
		Predictions: []domain.PredictionCommit{{
			Address: common.HexToAddress("0x01"), Commitment: common.HexToHash("0x02"),
			Wager: uint256.NewInt(1001), Choice: domain.ChoiceYes, CommittedAt: at,
		}},
		TotalEscrowed: uint256.NewInt(1001),
		TotalPaid:     uint256.NewInt(0),
		Custody:       uint256.NewInt(1001),
		GeneratedAt:   at,
	}
	path, err := a.ArchiveSettlement(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, "settlement/eth-5000.json", path)
	assert.Equal(t, "application/json", blobs.types[path])

	ok, err = a.Archived(ctx, "eth-5000")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := a.Settlement(ctx, "eth-5000")
	require.NoError(t, err)
	assert.Equal(t, report.MarketID, got.MarketID)
	assert.Equal(t, report.Custody, got.Custody)
	require.NotNil(t, got.Tally)
	assert.Equal(t, domain.ChoiceYes, got.Tally.WinningSide)
	require.Len(t, got.Predictions, 1)
	assert.Equal(t, report.Predictions[0].Address, got.Predictions[0].Address)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}
