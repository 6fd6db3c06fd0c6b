package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/julienbonastre/ebay-listing-publisher/internal/auth"
	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
)

const inventoryAPI = "/sell/inventory/v1"

// maxPassThroughBody caps request bodies forwarded to the marketplace
const maxPassThroughBody = 1 << 20

// requestToken resolves the access token for one request: the managed
// (cookie-restored) token first, then a bearer header from clients that
// cannot hold cookies
type requestToken struct {
	orchestrator *auth.Orchestrator
	bearer       string
}

func (t requestToken) AccessToken(ctx context.Context) (string, error) {
	token, err := t.orchestrator.GetValidAccessToken(ctx)
	if err == nil {
		return token, nil
	}
	if t.bearer != "" && !errors.Is(err, auth.ErrRefreshFailed) {
		return t.bearer, nil
	}
	return "", err
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// forward relays the request to the marketplace API and copies the response
// back unchanged
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, method, path string, query url.Values) {
	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxPassThroughBody))
		if err != nil {
			h.errorResponse(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		body = bytes.NewReader(data)
	}

	client := h.ebayClient.WithUserToken(requestToken{orchestrator: h.orchestrator, bearer: bearerToken(r)})
	resp, err := client.Forward(r.Context(), method, path, query, body)
	if err != nil {
		h.forwardError(w, err)
		return
	}
	defer resp.Body.Close()

	h.syncCookie(w, r)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warn().Err(err).Str("path", path).Msg("Failed to copy marketplace response")
	}
}

func (h *Handler) forwardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrRefreshFailed):
		h.clearTokenCookie(w)
		h.errorResponse(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrNotAuthenticated),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrMissingConfiguration),
		errors.Is(err, ebay.ErrNoToken):
		h.errorResponse(w, http.StatusUnauthorized, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Marketplace request failed")
		h.errorResponse(w, http.StatusBadGateway, "marketplace request failed")
	}
}

// PutInventoryItem creates or replaces an inventory item
func (h *Handler) PutInventoryItem(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	h.forward(w, r, http.MethodPut, inventoryAPI+"/inventory_item/"+url.PathEscape(sku), nil)
}

// ListOffers lists offers, filtered by the caller's query (e.g. sku)
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, http.MethodGet, inventoryAPI+"/offer", r.URL.Query())
}

// CreateOffer creates an offer
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, http.MethodPost, inventoryAPI+"/offer", nil)
}

// GetOffersForSKU lists the offers of one SKU
func (h *Handler) GetOffersForSKU(w http.ResponseWriter, r *http.Request) {
	q := url.Values{}
	q.Set("sku", chi.URLParam(r, "sku"))
	h.forward(w, r, http.MethodGet, inventoryAPI+"/offer", q)
}

// UpdateOffer replaces an offer
func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, http.MethodPut, offerPath(r), nil)
}

// DeleteOffer deletes an offer
func (h *Handler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, http.MethodDelete, offerPath(r), nil)
}

// PublishOffer publishes an offer
func (h *Handler) PublishOffer(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, http.MethodPost, offerPath(r)+"/publish", nil)
}

func offerPath(r *http.Request) string {
	return inventoryAPI + "/offer/" + url.PathEscape(chi.URLParam(r, "offerID"))
}
