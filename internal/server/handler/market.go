package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/market"
)

// MarketService is the part of the market engine the HTTP API drives. It is
// declared here so the handler can be tested without a real engine.
type MarketService interface {
	Params() domain.MarketParams
	Deadlines() market.Deadlines
	Phase() market.Phase
	Permitted() []market.Operation
	Outcome() (domain.Outcome, bool)
	Tally() (domain.Tally, bool)
	Custody() *uint256.Int
	Prediction(addr common.Address) (domain.PredictionCommit, error)
	Refresh(ctx context.Context) error

	CommitChoice(ctx context.Context, caller market.Caller, commitment common.Hash, wager *uint256.Int) error
	RevealChoice(ctx context.Context, caller market.Caller, choice domain.Choice, bf market.BlindingFactor) error
	ResolveEvent(ctx context.Context) (domain.Outcome, error)
	ClaimWinnings(ctx context.Context, addr common.Address) (*uint256.Int, error)
}

// MarketHandler serves market state and the four market operations.
type MarketHandler struct {
	market MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(m MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: m, logger: logger}
}

type deadlinesView struct {
	Commit time.Time `json:"commit"`
	Event  time.Time `json:"event"`
	Reveal time.Time `json:"reveal"`
	Payout time.Time `json:"payout"`
}

type marketView struct {
	ID         string             `json:"id"`
	Benchmark  int64              `json:"benchmark"`
	FixedWager *uint256.Int       `json:"fixed_wager"`
	Oracle     string             `json:"oracle,omitempty"`
	Deadlines  deadlinesView      `json:"deadlines"`
	Phase      market.Phase       `json:"phase"`
	Permitted  []market.Operation `json:"permitted"`
	Outcome    *domain.Outcome    `json:"outcome,omitempty"`
	Tally      *domain.Tally      `json:"tally,omitempty"`
	Custody    *uint256.Int       `json:"custody"`
}

// GetMarket returns parameters, phase, outcome, tally and custody.
// GET /api/market
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	h.refresh(r.Context())
	p := h.market.Params()
	d := h.market.Deadlines()
	v := marketView{
		ID:         p.ID,
		Benchmark:  p.Benchmark,
		FixedWager: p.FixedWager,
		Oracle:     p.Oracle,
		Deadlines:  deadlinesView{Commit: d.Commit, Event: d.Event, Reveal: d.Reveal, Payout: d.Payout},
		Phase:      h.market.Phase(),
		Permitted:  h.market.Permitted(),
		Custody:    h.market.Custody(),
	}
	if v.Permitted == nil {
		v.Permitted = []market.Operation{}
	}
	if o, ok := h.market.Outcome(); ok {
		v.Outcome = &o
	}
	if t, ok := h.market.Tally(); ok {
		v.Tally = &t
	}
	writeJSON(w, http.StatusOK, v)
}

// GetPrediction returns one participant's ledger entry.
// GET /api/predictions/{address}
func (h *MarketHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	h.refresh(r.Context())
	p, err := h.market.Prediction(addr)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// refresh picks up writes made by other processes sharing the store. If the
// reload fails the last known state is served.
func (h *MarketHandler) refresh(ctx context.Context) {
	if err := h.market.Refresh(ctx); err != nil {
		h.logger.WarnContext(ctx, "handler: refresh market failed",
			slog.String("error", err.Error()),
		)
	}
}

type commitRequest struct {
	Commitment string `json:"commitment"`
	Wager      string `json:"wager"`
	OnBehalfOf string `json:"on_behalf_of"`
	Signature  string `json:"signature"`
}

// Commit records a relayed commitment.
// POST /api/commit
func (h *MarketHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := h.relayedCaller(w, req.OnBehalfOf, req.Signature)
	if !ok {
		return
	}
	raw, err := hexutil.Decode(req.Commitment)
	if err != nil || len(raw) != common.HashLength {
		writeError(w, http.StatusBadRequest, "commitment must be 32 bytes of 0x-hex")
		return
	}
	wager, err := parseWager(req.Wager)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wager")
		return
	}

	if err := h.market.CommitChoice(r.Context(), caller, common.BytesToHash(raw), wager); err != nil {
		h.logFailure(r, "commit", err)
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":  "committed",
		"address": caller.Target().Hex(),
	})
}

type revealRequest struct {
	Choice         domain.Choice `json:"choice"`
	BlindingFactor string        `json:"blinding_factor"`
	OnBehalfOf     string        `json:"on_behalf_of"`
	Signature      string        `json:"signature"`
}

// Reveal opens a relayed commitment.
// POST /api/reveal
func (h *MarketHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, ok := h.relayedCaller(w, req.OnBehalfOf, req.Signature)
	if !ok {
		return
	}
	bf, err := market.ParseBlindingFactor(req.BlindingFactor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "blinding_factor must be 32 bytes of 0x-hex")
		return
	}

	if err := h.market.RevealChoice(r.Context(), caller, req.Choice, bf); err != nil {
		h.logFailure(r, "reveal", err)
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "revealed",
		"address": caller.Target().Hex(),
		"choice":  req.Choice.String(),
	})
}

// Resolve latches the outcome, or returns the latched one.
// POST /api/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	o, err := h.market.ResolveEvent(r.Context())
	if err != nil {
		h.logFailure(r, "resolve", err)
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type claimRequest struct {
	Address string `json:"address"`
}

// Claim pays a revealed winner. The payout always goes to the address in the
// ledger, so anyone may trigger it.
// POST /api/claim
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	amount, err := h.market.ClaimWinnings(r.Context(), addr)
	if err != nil {
		h.logFailure(r, "claim", err)
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"amount":  amount,
	})
}

// relayedCaller builds the Caller for a commit or reveal. HTTP submissions
// are always relayed, so a signature is mandatory.
func (h *MarketHandler) relayedCaller(w http.ResponseWriter, onBehalfOf, signature string) (market.Caller, bool) {
	addr, ok := parseAddress(onBehalfOf)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid on_behalf_of address")
		return market.Caller{}, false
	}
	if strings.TrimSpace(signature) == "" {
		writeError(w, http.StatusUnauthorized, "signature is required")
		return market.Caller{}, false
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature must be 0x-hex")
		return market.Caller{}, false
	}
	return market.Relayed(addr, sig), true
}

func (h *MarketHandler) logFailure(r *http.Request, op string, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: market operation failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

// parseWager accepts a decimal or 0x-hex wei amount.
func parseWager(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty wager")
	}
	if strings.HasPrefix(s, "0x") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}
