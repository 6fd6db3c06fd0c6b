// Package publisher runs listing drafts through the marketplace pipeline:
// inventory upsert, offer reconciliation, aspect enrichment, offer creation
// and publish. Each external call is made once; a failed step ends that
// draft's run without undoing earlier steps.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/julienbonastre/ebay-listing-publisher/internal/aspects"
	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
	"github.com/rs/zerolog"
)

const (
	defaultCondition = "NEW"
	offerFormat      = "FIXED_PRICE"
	offerLookupLimit = 25
)

// Publisher publishes listing drafts
type Publisher struct {
	market   Marketplace
	aspects  AspectSource
	settings Settings
	recorder Recorder
	observer Observer
	logger   zerolog.Logger
}

// Option configures a Publisher
type Option func(*Publisher)

// WithRecorder persists batch progress
func WithRecorder(r Recorder) Option {
	return func(p *Publisher) { p.recorder = r }
}

// WithObserver reports outcomes (metrics)
func WithObserver(o Observer) Option {
	return func(p *Publisher) { p.observer = o }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// New creates a publisher. aspectSource may be nil to skip enrichment.
func New(market Marketplace, aspectSource AspectSource, settings Settings, opts ...Option) *Publisher {
	p := &Publisher{
		market:   market,
		aspects:  aspectSource,
		settings: settings,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "publisher").Logger()
	return p
}

// PublishBatch publishes drafts one after another. A failed draft never
// stops the remaining ones.
func (p *Publisher) PublishBatch(ctx context.Context, drafts []ListingDraft) BatchResult {
	result := BatchResult{
		BatchID:  uuid.NewString(),
		Outcomes: make([]PublishOutcome, 0, len(drafts)),
	}
	log := p.logger.With().Str("batch_id", result.BatchID).Logger()

	if p.recorder != nil {
		if err := p.recorder.StartBatch(ctx, result.BatchID, len(drafts)); err != nil {
			log.Warn().Err(err).Msg("Failed to record batch start")
		}
	}

	log.Info().Int("drafts", len(drafts)).Msg("Publishing batch")

	for _, draft := range drafts {
		outcome := p.Publish(ctx, draft)
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}

		if p.recorder != nil {
			if err := p.recorder.RecordOutcome(ctx, result.BatchID, outcome); err != nil {
				log.Warn().Err(err).Str("sku", outcome.SKU).Msg("Failed to record publish outcome")
			}
		}
	}

	if p.recorder != nil {
		if err := p.recorder.FinishBatch(ctx, result.BatchID, result.Succeeded, result.Failed); err != nil {
			log.Warn().Err(err).Msg("Failed to record batch completion")
		}
	}

	log.Info().Int("succeeded", result.Succeeded).Int("failed", result.Failed).Msg("Batch complete")
	return result
}

// Publish runs the pipeline for one draft
func (p *Publisher) Publish(ctx context.Context, draft ListingDraft) PublishOutcome {
	outcome := p.publish(ctx, draft)
	if p.observer != nil {
		p.observer.PublishOutcome(string(outcome.Step), outcome.Success)
	}
	return outcome
}

func (p *Publisher) publish(ctx context.Context, draft ListingDraft) PublishOutcome {
	outcome := PublishOutcome{SKU: draft.SKU}
	log := p.logger.With().Str("sku", draft.SKU).Logger()

	if err := validateDraft(draft); err != nil {
		return p.fail(log, outcome, StepInventory, err)
	}

	// 1. Inventory upsert with the aspects the draft already carries
	item := inventoryItem(draft, draft.Aspects)
	if err := p.market.PutInventoryItem(ctx, draft.SKU, item); err != nil {
		return p.fail(log, outcome, StepInventory, err)
	}
	outcome.InventorySent = true

	// 2. Offer reconciliation
	outcome.ReplacedOfferIDs = p.reconcileOffers(ctx, log, draft.SKU)

	// 3. Aspect enrichment; the inventory record is replaced only when
	// something was added
	if p.aspects != nil {
		resolved, err := p.aspects.ResolveRequiredAspects(ctx, draft.CategoryID, draft.Title)
		if err != nil {
			log.Warn().Err(err).Str("category_id", draft.CategoryID).
				Msg("Aspect lookup failed, continuing with draft aspects")
		} else if merged, added := aspects.Merge(draft.Aspects, resolved); len(added) > 0 {
			log.Debug().Strs("aspects", added).Msg("Adding default aspects")
			if err := p.market.PutInventoryItem(ctx, draft.SKU, inventoryItem(draft, merged)); err != nil {
				return p.fail(log, outcome, StepInventory, err)
			}
		}
	}

	// 4. Offer creation
	offerID, err := p.market.CreateOffer(ctx, p.offer(draft))
	if err != nil {
		return p.fail(log, outcome, StepOffer, err)
	}
	outcome.OfferID = offerID

	// 5. Publish
	listingID, err := p.market.PublishOffer(ctx, offerID)
	if err != nil {
		return p.fail(log, outcome, StepPublish, err)
	}

	outcome.Success = true
	outcome.ListingID = listingID
	log.Info().Str("offer_id", offerID).Str("listing_id", listingID).Msg("Listing published")
	return outcome
}

// reconcileOffers deletes every existing offer for sku so the new offer
// starts clean. Lookup and delete failures are logged and ignored; offer
// creation reports the real problem if one was load-bearing.
func (p *Publisher) reconcileOffers(ctx context.Context, log zerolog.Logger, sku string) []string {
	existing, err := p.market.GetOffers(ctx, sku, offerLookupLimit, 0)
	if err != nil {
		log.Warn().Err(err).Str("event", "offer_lookup_failed").Msg("Could not look up existing offers")
		return nil
	}

	var deleted []string
	for _, offer := range existing.Offers {
		if offer.OfferID == "" {
			continue
		}
		if err := p.market.DeleteOffer(ctx, offer.OfferID); err != nil {
			log.Warn().Err(err).
				Str("event", "offer_delete_swallowed").
				Str("offer_id", offer.OfferID).
				Str("error_kind", string(ebay.Classify(err))).
				Msg("Failed to delete existing offer, continuing")
			continue
		}
		log.Info().Str("offer_id", offer.OfferID).Str("status", offer.Status).Msg("Deleted existing offer")
		deleted = append(deleted, offer.OfferID)
	}
	return deleted
}

func (p *Publisher) fail(log zerolog.Logger, outcome PublishOutcome, step Step, err error) PublishOutcome {
	outcome.Success = false
	outcome.Step = step
	outcome.ErrorKind = ebay.Classify(err)
	outcome.ErrorMessage = err.Error()

	var apiErr *ebay.APIError
	if errors.As(err, &apiErr) {
		outcome.MarketplaceErrorID = apiErr.ErrorID()
		outcome.ErrorMessage = apiErr.Message()
	}

	log.Error().Err(err).
		Str("event", "publish_step_failed").
		Str("step", string(step)).
		Int("error_id", outcome.MarketplaceErrorID).
		Str("error_kind", string(outcome.ErrorKind)).
		Bool("inventory_sent", outcome.InventorySent).
		Msg("Publish step failed")
	return outcome
}

func validateDraft(d ListingDraft) error {
	var missing []string
	if strings.TrimSpace(d.SKU) == "" {
		missing = append(missing, "sku")
	}
	if strings.TrimSpace(d.Title) == "" {
		missing = append(missing, "title")
	}
	if d.CategoryID == "" {
		missing = append(missing, "categoryId")
	}
	if d.PriceGross <= 0 {
		missing = append(missing, "priceGross")
	}
	if len(missing) > 0 {
		return fmt.Errorf("draft is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func quantity(d ListingDraft) int {
	if d.Quantity <= 0 {
		return 1
	}
	return d.Quantity
}

func inventoryItem(d ListingDraft, aspectValues map[string][]string) ebay.InventoryItem {
	condition := strings.ToUpper(strings.TrimSpace(d.Condition))
	if condition == "" {
		condition = defaultCondition
	}

	product := &ebay.Product{
		Title:       d.Title,
		Description: d.DescriptionHTML,
		ImageURLs:   d.Images,
		Aspects:     aspectValues,
	}
	if d.EAN != "" {
		product.EAN = []string{d.EAN}
	}

	return ebay.InventoryItem{
		SKU:       d.SKU,
		Condition: condition,
		Product:   product,
		Availability: &ebay.Availability{
			ShipToLocationAvailability: &ebay.ShipToLocation{Quantity: quantity(d)},
		},
	}
}

func (p *Publisher) offer(d ListingDraft) ebay.Offer {
	return ebay.Offer{
		SKU:                 d.SKU,
		MarketplaceID:       p.settings.MarketplaceID,
		Format:              offerFormat,
		AvailableQuantity:   quantity(d),
		CategoryID:          d.CategoryID,
		ListingDescription:  d.DescriptionHTML,
		MerchantLocationKey: p.settings.MerchantLocationKey,
		PricingSummary: &ebay.PricingSummary{
			Price: ebay.NewAmount(d.PriceGross, p.settings.Currency),
		},
		ListingPolicies: &ebay.ListingPolicies{
			FulfillmentPolicyID: p.settings.FulfillmentPolicyID,
			PaymentPolicyID:     p.settings.PaymentPolicyID,
			ReturnPolicyID:      p.settings.ReturnPolicyID,
		},
	}
}
