package publisher

import (
	"context"

	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
)

// Step names the pipeline step an outcome refers to
type Step string

// Pipeline steps
const (
	StepInventory Step = "inventory"
	StepOffer     Step = "offer"
	StepPublish   Step = "publish"
)

// ListingDraft is the part of a product needed to publish it
type ListingDraft struct {
	SKU             string              `json:"sku"`
	Title           string              `json:"title"`
	DescriptionHTML string              `json:"descriptionHtml"`
	EAN             string              `json:"ean,omitempty"`
	Images          []string            `json:"images,omitempty"`
	Condition       string              `json:"condition,omitempty"`
	Quantity        int                 `json:"quantity"`
	CategoryID      string              `json:"categoryId"`
	PriceGross      float64             `json:"priceGross"`
	Aspects         map[string][]string `json:"aspects,omitempty"`
}

// PublishOutcome is the result of publishing one draft. On failure Step
// names the step that failed; earlier steps stay applied.
type PublishOutcome struct {
	SKU                string    `json:"sku"`
	Success            bool      `json:"success"`
	Step               Step      `json:"step,omitempty"`
	ListingID          string    `json:"listingId,omitempty"`
	OfferID            string    `json:"offerId,omitempty"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
	MarketplaceErrorID int       `json:"marketplaceErrorId,omitempty"`
	ErrorKind          ebay.Kind `json:"errorKind,omitempty"`
	InventorySent      bool      `json:"inventorySent"`
	ReplacedOfferIDs   []string  `json:"replacedOfferIds,omitempty"`
}

// BatchResult holds the outcomes of one batch in input order
type BatchResult struct {
	BatchID   string           `json:"batchId"`
	Outcomes  []PublishOutcome `json:"outcomes"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// Marketplace is the subset of the marketplace API the pipeline calls
type Marketplace interface {
	PutInventoryItem(ctx context.Context, sku string, item ebay.InventoryItem) error
	GetOffers(ctx context.Context, sku string, limit, offset int) (*ebay.OffersResponse, error)
	DeleteOffer(ctx context.Context, offerID string) error
	CreateOffer(ctx context.Context, offer ebay.Offer) (string, error)
	PublishOffer(ctx context.Context, offerID string) (string, error)
}

// AspectSource resolves the aspects a category requires
type AspectSource interface {
	ResolveRequiredAspects(ctx context.Context, categoryID, title string) (map[string][]string, error)
}

// Recorder persists batch progress
type Recorder interface {
	StartBatch(ctx context.Context, batchID string, size int) error
	RecordOutcome(ctx context.Context, batchID string, outcome PublishOutcome) error
	FinishBatch(ctx context.Context, batchID string, succeeded, failed int) error
}

// Observer receives one call per outcome (metrics)
type Observer interface {
	PublishOutcome(step string, success bool)
}

// Settings are the listing defaults applied to every offer
type Settings struct {
	MarketplaceID       string
	Currency            string
	FulfillmentPolicyID string
	PaymentPolicyID     string
	ReturnPolicyID      string
	MerchantLocationKey string
}
