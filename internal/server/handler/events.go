package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// SettlementSource loads an archived settlement report.
type SettlementSource interface {
	Settlement(ctx context.Context, marketID string) (domain.SettlementReport, error)
}

// EventHandler serves the persisted event log and the archived settlement.
type EventHandler struct {
	events      domain.EventStore
	settlements SettlementSource
	marketID    string
	logger      *slog.Logger
}

// NewEventHandler creates an EventHandler. settlements may be nil.
func NewEventHandler(events domain.EventStore, settlements SettlementSource, marketID string, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, settlements: settlements, marketID: marketID, logger: logger}
}

type listEventsResponse struct {
	Events []domain.Event `json:"events"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListEvents pages the event log in emission order.
// GET /api/events?limit=50&offset=0&since=RFC3339&until=RFC3339
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	events, err := h.events.ListEvents(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events, Limit: opts.Limit, Offset: opts.Offset})
}

// GetSettlement returns the archived settlement report.
// GET /api/settlement
func (h *EventHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	if h.settlements == nil {
		writeError(w, http.StatusNotFound, "settlement archive not configured")
		return
	}
	report, err := h.settlements.Settlement(r.Context(), h.marketID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "market has not been settled")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: load settlement failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load settlement")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
