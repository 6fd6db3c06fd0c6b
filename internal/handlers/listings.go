package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/julienbonastre/ebay-listing-publisher/internal/auth"
	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
	"github.com/julienbonastre/ebay-listing-publisher/internal/publisher"
)

const (
	defaultPriceCheckLimit = 20
	maxPriceCheckLimit     = 200
)

type publishRequest struct {
	Drafts []publisher.ListingDraft `json:"drafts"`
}

// PublishListings publishes a batch of drafts and returns one outcome per
// draft. Item failures are reported in the outcomes, not as HTTP errors.
func (h *Handler) PublishListings(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Drafts) == 0 {
		h.errorResponse(w, http.StatusBadRequest, "drafts are required")
		return
	}

	// Fail fast instead of reporting the same auth error for every draft
	if _, err := h.orchestrator.GetValidAccessToken(r.Context()); err != nil {
		if errors.Is(err, auth.ErrRefreshFailed) {
			h.clearTokenCookie(w)
		}
		h.errorResponse(w, http.StatusUnauthorized, err.Error())
		return
	}

	result := h.publisher.PublishBatch(r.Context(), req.Drafts)

	h.syncCookie(w, r)
	h.jsonResponse(w, http.StatusOK, result)
}

// GetHistory returns recorded publish outcomes, newest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.errorResponse(w, http.StatusNotImplemented, "publish history requires the sqlite store")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.history.GetHistory(r.Context(), r.URL.Query().Get("sku"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("GetHistory error")
		h.errorResponse(w, http.StatusInternalServerError, "failed to read publish history")
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   len(records),
	})
}

type priceCheckItem struct {
	ItemID   string  `json:"itemId"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

type priceCheckResponse struct {
	Total    int              `json:"total"`
	Items    []priceCheckItem `json:"items"`
	MinPrice *float64         `json:"minPrice,omitempty"`
	MaxPrice *float64         `json:"maxPrice,omitempty"`
}

// PriceCheck searches current listings with the application token and
// reports the price range
func (h *Handler) PriceCheck(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.errorResponse(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := defaultPriceCheckLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPriceCheckLimit)
	}

	resp, err := h.searcher.SearchItems(r.Context(), ebay.SearchRequest{Query: query, Limit: limit})
	if err != nil {
		if errors.Is(err, auth.ErrMissingConfiguration) {
			h.errorResponse(w, http.StatusServiceUnavailable, "price check requires client credentials")
			return
		}
		h.logger.Error().Err(err).Str("query", query).Msg("Price check failed")
		h.errorResponse(w, http.StatusBadGateway, "marketplace search failed")
		return
	}

	h.jsonResponse(w, http.StatusOK, summarizePrices(resp))
}

func summarizePrices(resp *ebay.SearchResponse) priceCheckResponse {
	out := priceCheckResponse{Total: resp.Total, Items: []priceCheckItem{}}
	for _, s := range resp.ItemSummaries {
		item := priceCheckItem{ItemID: s.ItemID, Title: s.Title}
		if s.Price != nil {
			v, err := strconv.ParseFloat(s.Price.Value, 64)
			if err == nil {
				item.Price = v
				item.Currency = s.Price.Currency
				if out.MinPrice == nil || v < *out.MinPrice {
					out.MinPrice = &v
				}
				if out.MaxPrice == nil || v > *out.MaxPrice {
					out.MaxPrice = &v
				}
			}
		}
		out.Items = append(out.Items, item)
	}
	return out
}
