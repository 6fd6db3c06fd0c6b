package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/julienbonastre/ebay-listing-publisher/internal/auth"
	"github.com/julienbonastre/ebay-listing-publisher/internal/database"
	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
	"github.com/julienbonastre/ebay-listing-publisher/internal/publisher"
	"github.com/rs/zerolog"
)

// BatchPublisher publishes listing drafts
type BatchPublisher interface {
	PublishBatch(ctx context.Context, drafts []publisher.ListingDraft) publisher.BatchResult
}

// HistoryReader reads recorded publish outcomes
type HistoryReader interface {
	GetHistory(ctx context.Context, sku string, limit int) ([]database.PublishRecord, error)
}

// ItemSearcher runs anonymous marketplace searches
type ItemSearcher interface {
	SearchItems(ctx context.Context, req ebay.SearchRequest) (*ebay.SearchResponse, error)
}

// Dependencies are the collaborators of Handler. History, Searcher and
// Metrics are optional.
type Dependencies struct {
	Orchestrator  *auth.Orchestrator
	Cipher        *auth.Cipher
	EbayClient    *ebay.Client
	Publisher     BatchPublisher
	History       HistoryReader
	Searcher      ItemSearcher
	Sessions      sessions.Store
	Metrics       http.Handler
	SecureCookies bool
	Logger        zerolog.Logger
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	orchestrator  *auth.Orchestrator
	cipher        *auth.Cipher
	ebayClient    *ebay.Client
	publisher     BatchPublisher
	history       HistoryReader
	searcher      ItemSearcher
	sessions      sessions.Store
	metrics       http.Handler
	secureCookies bool
	logger        zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		orchestrator:  deps.Orchestrator,
		cipher:        deps.Cipher,
		ebayClient:    deps.EbayClient,
		publisher:     deps.Publisher,
		history:       deps.History,
		searcher:      deps.Searcher,
		sessions:      deps.Sessions,
		metrics:       deps.Metrics,
		secureCookies: deps.SecureCookies,
		logger:        deps.Logger.With().Str("component", "http").Logger(),
	}
}

// JSON response helper
func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Error encoding JSON")
	}
}

// Error response helper
func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

// HealthCheck returns API health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st, err := h.orchestrator.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Status lookup failed")
		h.jsonResponse(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  "token store unavailable",
		})
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"authenticated": st.Connected,
		"state":         st.State,
	})
}
