package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maltedev/price-scraper/internal/database"
	"github.com/maltedev/price-scraper/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// PriceSearcher answers a query with ranked listings. It never fails; an
// empty result is a valid answer.
type PriceSearcher interface {
	Search(ctx context.Context, q models.Query) []models.PriceListing
}

type SearchRecorder interface {
	Record(ctx context.Context, q models.Query, provider string, listings []models.PriceListing)
}

type HistoryReader interface {
	Recent(ctx context.Context, query string, limit int) ([]database.Observation, error)
}

type OutboxStatter interface {
	Stats(ctx context.Context) (database.OutboxStats, error)
}

type Deps struct {
	Searcher PriceSearcher
	// Provider names Searcher in recorded history and health output.
	Provider string
	Fallback PriceSearcher
	Stores   []string
	// Recorder, History and Outbox are nil when history is disabled.
	Recorder SearchRecorder
	History  HistoryReader
	Outbox   OutboxStatter
	Logger   *slog.Logger
}

type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandlers(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handlers{
		deps:   deps,
		logger: deps.Logger.With("component", "api"),
	}
}

// SearchPrices runs the configured provider for ?query=.
func (h *Handlers) SearchPrices(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, h.deps.Searcher, h.deps.Provider, true)
}

// MockPrices always answers from the fallback provider.
func (h *Handlers) MockPrices(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, h.deps.Fallback, "fallback", false)
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request, searcher PriceSearcher, provider string, record bool) {
	q, err := models.NewQuery(r.URL.Query().Get("query"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	listings, ok := h.safeSearch(r.Context(), searcher, q)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if listings == nil {
		listings = []models.PriceListing{}
	}

	if record && h.deps.Recorder != nil {
		h.deps.Recorder.Record(r.Context(), q, provider, listings)
	}

	h.respondJSON(w, http.StatusOK, listings)
}

// safeSearch converts a provider panic into a failed call.
func (h *Handlers) safeSearch(ctx context.Context, searcher PriceSearcher, q models.Query) (listings []models.PriceListing, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("search provider panicked", "query", q.String(), "panic", rec)
			listings, ok = nil, false
		}
	}()
	return searcher.Search(ctx, q), true
}

// History returns recorded observations for ?query=, newest first.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		h.respondError(w, http.StatusNotFound, "price history is disabled")
		return
	}

	q, err := models.NewQuery(r.URL.Query().Get("query"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	observations, err := h.deps.History.Recent(r.Context(), q.String(), limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("failed to load history", "query", q.String(), "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if observations == nil {
		observations = []database.Observation{}
	}

	h.respondJSON(w, http.StatusOK, observations)
}

type historyHealth struct {
	Enabled    bool   `json:"enabled"`
	Pending    *int64 `json:"pending,omitempty"`
	DeadLetter *int64 `json:"deadLetter,omitempty"`
}

type healthResponse struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Provider string        `json:"provider"`
	Stores   []string      `json:"stores"`
	History  historyHealth `json:"history"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stores := h.deps.Stores
	if stores == nil {
		stores = []string{}
	}

	resp := healthResponse{
		Status:   "ok",
		Provider: h.deps.Provider,
		Stores:   stores,
		History:  historyHealth{Enabled: h.deps.Recorder != nil},
	}
	status := http.StatusOK

	if h.deps.Outbox != nil {
		stats, err := h.deps.Outbox.Stats(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox stats", "error", err)
			resp.Status = "warning"
			resp.Message = "Outbox status unavailable"
		} else {
			resp.History.Pending = &stats.Pending
			resp.History.DeadLetter = &stats.DeadLetter
			if stats.Pending > pendingWarnThreshold {
				resp.Status = "warning"
				resp.Message = "High number of pending outbox events"
			}
			if stats.DeadLetter > deadLetterFailThreshold {
				resp.Status = "error"
				resp.Message = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, resp)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
