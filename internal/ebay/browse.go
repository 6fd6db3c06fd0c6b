package ebay

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// SearchRequest defines the parameters for a Browse search
type SearchRequest struct {
	Query      string
	CategoryID string
	Limit      int
	Offset     int
}

// ItemSummary is one Browse search hit
type ItemSummary struct {
	ItemID     string  `json:"itemId"`
	Title      string  `json:"title"`
	Price      *Amount `json:"price,omitempty"`
	Condition  string  `json:"condition,omitempty"`
	ItemWebURL string  `json:"itemWebUrl,omitempty"`
}

// SearchResponse is the Browse item_summary/search response
type SearchResponse struct {
	Total         int           `json:"total"`
	Limit         int           `json:"limit"`
	Offset        int           `json:"offset"`
	ItemSummaries []ItemSummary `json:"itemSummaries,omitempty"`
}

// SearchItems runs an anonymous Browse search with the application token
func (c *Client) SearchItems(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	if req.CategoryID != "" {
		q.Set("category_ids", req.CategoryID)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}

	var result SearchResponse
	if err := c.call(ctx, c.appTokens, http.MethodGet, "/buy/browse/v1/item_summary/search?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
