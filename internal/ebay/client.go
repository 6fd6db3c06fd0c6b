package ebay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// Sandbox URLs
	SandboxAuthURL    = "https://auth.sandbox.ebay.com/oauth2/authorize"
	SandboxTokenURL   = "https://api.sandbox.ebay.com/identity/v1/oauth2/token"
	SandboxAPIBaseURL = "https://api.sandbox.ebay.com"

	// Production URLs
	ProductionAuthURL    = "https://auth.ebay.com/oauth2/authorize"
	ProductionTokenURL   = "https://api.ebay.com/identity/v1/oauth2/token"
	ProductionAPIBaseURL = "https://api.ebay.com"
)

// Endpoints are the URLs for one marketplace environment
type Endpoints struct {
	AuthURL    string
	TokenURL   string
	APIBaseURL string
}

// EndpointsFor returns the sandbox or production endpoints
func EndpointsFor(sandbox bool) Endpoints {
	if sandbox {
		return Endpoints{AuthURL: SandboxAuthURL, TokenURL: SandboxTokenURL, APIBaseURL: SandboxAPIBaseURL}
	}
	return Endpoints{AuthURL: ProductionAuthURL, TokenURL: ProductionTokenURL, APIBaseURL: ProductionAPIBaseURL}
}

// ErrNoToken is returned when a request needs a token that is not available
var ErrNoToken = errors.New("no access token available")

// TokenSource supplies bearer tokens for API calls
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that cache, so a token the API
// rejected is not reused
type invalidator interface {
	Invalidate()
}

// StaticToken is a fixed bearer token, e.g. one taken from a request header
type StaticToken string

func (s StaticToken) AccessToken(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Config holds eBay API configuration
type Config struct {
	BaseURL       string
	MarketplaceID string
}

// Client is the eBay REST API client. Sell API calls use the user token
// source, taxonomy and browse calls use the application token source.
type Client struct {
	baseURL       string
	marketplaceID string
	httpClient    *http.Client
	userTokens    TokenSource
	appTokens     TokenSource
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserTokens sets the token source for seller (Sell API) calls
func WithUserTokens(ts TokenSource) Option {
	return func(c *Client) { c.userTokens = ts }
}

// WithApplicationTokens sets the token source for anonymous reads
func WithApplicationTokens(ts TokenSource) Option {
	return func(c *Client) { c.appTokens = ts }
}

// NewClient creates a new eBay API client
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		marketplaceID: cfg.MarketplaceID,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		userTokens:    StaticToken(""),
		appTokens:     StaticToken(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithUserToken returns a copy of the client that authenticates seller calls
// with ts
func (c *Client) WithUserToken(ts TokenSource) *Client {
	cp := *c
	cp.userTokens = ts
	return &cp
}

// ContentLanguage returns the Content-Language required by the inventory API
// for a marketplace
func ContentLanguage(marketplaceID string) string {
	switch marketplaceID {
	case "EBAY_DE":
		return "de-DE"
	case "EBAY_AT":
		return "de-AT"
	case "EBAY_CH":
		return "de-CH"
	case "EBAY_GB":
		return "en-GB"
	case "EBAY_AU":
		return "en-AU"
	case "EBAY_FR":
		return "fr-FR"
	case "EBAY_IT":
		return "it-IT"
	case "EBAY_ES":
		return "es-ES"
	}
	return "en-US"
}

// doRequest makes an authenticated API request
func (c *Client) doRequest(ctx context.Context, tokens TokenSource, method, path string, body io.Reader) (*http.Response, error) {
	token, err := tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get valid token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Language", ContentLanguage(c.marketplaceID))
	}
	if c.marketplaceID != "" {
		req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.marketplaceID)
	}

	return c.httpClient.Do(req)
}

// call sends payload as JSON and decodes a 2xx response into out (if non-nil)
func (c *Client) call(ctx context.Context, tokens TokenSource, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.doRequest(ctx, tokens, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := newAPIError(resp.StatusCode, respBody)
		if inv, ok := tokens.(invalidator); ok && Classify(apiErr) == KindAuth {
			inv.Invalidate()
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Forward sends a raw request with the user token and returns the response
// unread. Used by the pass-through endpoints.
func (c *Client) Forward(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.doRequest(ctx, c.userTokens, method, path, body)
}

// InventoryItem represents an eBay inventory item
type InventoryItem struct {
	SKU                  string        `json:"sku,omitempty"`
	Locale               string        `json:"locale,omitempty"`
	Product              *Product      `json:"product,omitempty"`
	Condition            string        `json:"condition,omitempty"`
	ConditionDescription string        `json:"conditionDescription,omitempty"`
	Availability         *Availability `json:"availability,omitempty"`
}

// Product holds product details
type Product struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	ImageURLs   []string            `json:"imageUrls,omitempty"`
	Brand       string              `json:"brand,omitempty"`
	MPN         string              `json:"mpn,omitempty"`
	EAN         []string            `json:"ean,omitempty"`
	Aspects     map[string][]string `json:"aspects,omitempty"`
}

// Availability holds inventory availability
type Availability struct {
	ShipToLocationAvailability *ShipToLocation `json:"shipToLocationAvailability,omitempty"`
}

// ShipToLocation holds quantity info
type ShipToLocation struct {
	Quantity int `json:"quantity"`
}

// Offer represents an eBay listing offer
type Offer struct {
	OfferID             string           `json:"offerId,omitempty"`
	SKU                 string           `json:"sku,omitempty"`
	MarketplaceID       string           `json:"marketplaceId,omitempty"`
	Format              string           `json:"format,omitempty"`
	AvailableQuantity   int              `json:"availableQuantity,omitempty"`
	CategoryID          string           `json:"categoryId,omitempty"`
	ListingDescription  string           `json:"listingDescription,omitempty"`
	MerchantLocationKey string           `json:"merchantLocationKey,omitempty"`
	PricingSummary      *PricingSummary  `json:"pricingSummary,omitempty"`
	ListingPolicies     *ListingPolicies `json:"listingPolicies,omitempty"`
	Status              string           `json:"status,omitempty"`
	Listing             *ListingDetails  `json:"listing,omitempty"`
}

// Offer statuses
const (
	OfferStatusPublished   = "PUBLISHED"
	OfferStatusUnpublished = "UNPUBLISHED"
)

// PricingSummary holds pricing info
type PricingSummary struct {
	Price *Amount `json:"price,omitempty"`
}

// Amount holds monetary values
type Amount struct {
	Value    string `json:"value,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// NewAmount formats a decimal price the way the API expects
func NewAmount(value float64, currency string) *Amount {
	return &Amount{Value: strconv.FormatFloat(value, 'f', 2, 64), Currency: currency}
}

// ListingPolicies holds policy references
type ListingPolicies struct {
	FulfillmentPolicyID string `json:"fulfillmentPolicyId,omitempty"`
	PaymentPolicyID     string `json:"paymentPolicyId,omitempty"`
	ReturnPolicyID      string `json:"returnPolicyId,omitempty"`
}

// ListingDetails holds listing info
type ListingDetails struct {
	ListingID     string `json:"listingId,omitempty"`
	ListingStatus string `json:"listingStatus,omitempty"`
}

// OffersResponse is the response from getOffers
type OffersResponse struct {
	Offers []Offer `json:"offers,omitempty"`
	Total  int     `json:"total,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	Offset int     `json:"offset,omitempty"`
	Href   string  `json:"href,omitempty"`
	Next   string  `json:"next,omitempty"`
}

type createOfferResponse struct {
	OfferID  string        `json:"offerId"`
	Warnings []ErrorDetail `json:"warnings,omitempty"`
}

type publishOfferResponse struct {
	ListingID string        `json:"listingId"`
	Warnings  []ErrorDetail `json:"warnings,omitempty"`
}

func inventoryItemPath(sku string) string {
	return "/sell/inventory/v1/inventory_item/" + url.PathEscape(sku)
}

func offerPath(offerID string) string {
	return "/sell/inventory/v1/offer/" + url.PathEscape(offerID)
}

// PutInventoryItem creates or replaces the inventory item for sku
func (c *Client) PutInventoryItem(ctx context.Context, sku string, item InventoryItem) error {
	item.SKU = ""
	return c.call(ctx, c.userTokens, http.MethodPut, inventoryItemPath(sku), item, nil)
}

// GetOffers retrieves offers for a SKU. A SKU without offers yields an empty
// response rather than an error.
func (c *Client) GetOffers(ctx context.Context, sku string, limit, offset int) (*OffersResponse, error) {
	q := url.Values{}
	q.Set("sku", sku)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var result OffersResponse
	err := c.call(ctx, c.userTokens, http.MethodGet, "/sell/inventory/v1/offer?"+q.Encode(), nil, &result)
	if err != nil {
		if IsNotFound(err) {
			return &OffersResponse{}, nil
		}
		return nil, err
	}
	return &result, nil
}

// CreateOffer creates an unpublished offer and returns its id
func (c *Client) CreateOffer(ctx context.Context, offer Offer) (string, error) {
	var result createOfferResponse
	if err := c.call(ctx, c.userTokens, http.MethodPost, "/sell/inventory/v1/offer", offer, &result); err != nil {
		return "", err
	}
	return result.OfferID, nil
}

// DeleteOffer deletes an offer. Deleting a published offer ends its listing.
func (c *Client) DeleteOffer(ctx context.Context, offerID string) error {
	return c.call(ctx, c.userTokens, http.MethodDelete, offerPath(offerID), nil, nil)
}

// PublishOffer publishes an offer and returns the listing id
func (c *Client) PublishOffer(ctx context.Context, offerID string) (string, error) {
	var result publishOfferResponse
	if err := c.call(ctx, c.userTokens, http.MethodPost, offerPath(offerID)+"/publish", nil, &result); err != nil {
		return "", err
	}
	return result.ListingID, nil
}
