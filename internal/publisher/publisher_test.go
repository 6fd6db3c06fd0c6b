package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeMarket keeps inventory and offers in memory
type fakeMarket struct {
	mu        sync.Mutex
	inventory map[string]ebay.InventoryItem
	offers    map[string]ebay.Offer
	nextID    int
	calls     []string

	inventoryErr map[string]error
	createErr    map[string]error
	publishErr   map[string]error
	deleteErr    error
	lookupErr    error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		inventory:    make(map[string]ebay.InventoryItem),
		offers:       make(map[string]ebay.Offer),
		inventoryErr: make(map[string]error),
		createErr:    make(map[string]error),
		publishErr:   make(map[string]error),
	}
}

func (f *fakeMarket) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeMarket) PutInventoryItem(_ context.Context, sku string, item ebay.InventoryItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("inventory:" + sku)
	if err := f.inventoryErr[sku]; err != nil {
		return err
	}
	f.inventory[sku] = item
	return nil
}

func (f *fakeMarket) GetOffers(_ context.Context, sku string, _, _ int) (*ebay.OffersResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get_offers:" + sku)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	resp := &ebay.OffersResponse{}
	for _, o := range f.offers {
		if o.SKU == sku {
			resp.Offers = append(resp.Offers, o)
		}
	}
	resp.Total = len(resp.Offers)
	return resp, nil
}

func (f *fakeMarket) DeleteOffer(_ context.Context, offerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete_offer:" + offerID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.offers, offerID)
	return nil
}

func (f *fakeMarket) CreateOffer(_ context.Context, offer ebay.Offer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_offer:" + offer.SKU)
	if err := f.createErr[offer.SKU]; err != nil {
		return "", err
	}
	f.nextID++
	offer.OfferID = fmt.Sprintf("offer-%d", f.nextID)
	offer.Status = ebay.OfferStatusUnpublished
	f.offers[offer.OfferID] = offer
	return offer.OfferID, nil
}

func (f *fakeMarket) PublishOffer(_ context.Context, offerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("publish:" + offerID)
	offer, ok := f.offers[offerID]
	if !ok {
		return "", &ebay.APIError{Status: http.StatusNotFound, Errors: []ebay.ErrorDetail{{ErrorID: 25713}}}
	}
	if err := f.publishErr[offer.SKU]; err != nil {
		return "", err
	}
	offer.Status = ebay.OfferStatusPublished
	f.offers[offerID] = offer
	return "listing-" + offerID, nil
}

func (f *fakeMarket) offersFor(sku string) []ebay.Offer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ebay.Offer
	for _, o := range f.offers {
		if o.SKU == sku {
			out = append(out, o)
		}
	}
	return out
}

type stubAspects struct {
	values map[string][]string
	err    error
}

func (s stubAspects) ResolveRequiredAspects(context.Context, string, string) (map[string][]string, error) {
	return s.values, s.err
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) StartBatch(ctx context.Context, batchID string, size int) error {
	return m.Called(ctx, batchID, size).Error(0)
}

func (m *mockRecorder) RecordOutcome(ctx context.Context, batchID string, outcome PublishOutcome) error {
	return m.Called(ctx, batchID, outcome).Error(0)
}

func (m *mockRecorder) FinishBatch(ctx context.Context, batchID string, succeeded, failed int) error {
	return m.Called(ctx, batchID, succeeded, failed).Error(0)
}

type countingObserver struct {
	counts map[string]int
}

func (o *countingObserver) PublishOutcome(step string, success bool) {
	o.counts[fmt.Sprintf("%s/%t", step, success)]++
}

func testSettings() Settings {
	return Settings{
		MarketplaceID:       "EBAY_DE",
		Currency:            "EUR",
		FulfillmentPolicyID: "fp",
		PaymentPolicyID:     "pp",
		ReturnPolicyID:      "rp",
		MerchantLocationKey: "warehouse-1",
	}
}

func draft(sku string) ListingDraft {
	return ListingDraft{
		SKU:             sku,
		Title:           "Bosch GSR 12V-15 Akkuschrauber",
		DescriptionHTML: "<p>Kaum benutzt</p>",
		EAN:             "3165140441429",
		Images:          []string{"https://example.com/1.jpg"},
		Condition:       "used_excellent",
		Quantity:        2,
		CategoryID:      "9355",
		PriceGross:      49.9,
	}
}

func TestPublish_Success(t *testing.T) {
	market := newFakeMarket()
	p := New(market, nil, testSettings())

	outcome := p.Publish(context.Background(), draft("SKU-1"))
	require.True(t, outcome.Success, outcome.ErrorMessage)
	assert.Equal(t, "offer-1", outcome.OfferID)
	assert.Equal(t, "listing-offer-1", outcome.ListingID)
	assert.Empty(t, outcome.Step)
	assert.True(t, outcome.InventorySent)

	item := market.inventory["SKU-1"]
	assert.Equal(t, "USED_EXCELLENT", item.Condition)
	assert.Equal(t, []string{"3165140441429"}, item.Product.EAN)
	assert.Equal(t, 2, item.Availability.ShipToLocationAvailability.Quantity)

	offer := market.offers["offer-1"]
	assert.Equal(t, "49.90", offer.PricingSummary.Price.Value)
	assert.Equal(t, "EUR", offer.PricingSummary.Price.Currency)
	assert.Equal(t, "warehouse-1", offer.MerchantLocationKey)
	assert.Equal(t, "fp", offer.ListingPolicies.FulfillmentPolicyID)
	assert.Equal(t, ebay.OfferStatusPublished, offer.Status)

	assert.Equal(t, []string{
		"inventory:SKU-1",
		"get_offers:SKU-1",
		"create_offer:SKU-1",
		"publish:offer-1",
	}, market.calls)
}

func TestPublish_ReplacesExistingOffer(t *testing.T) {
	market := newFakeMarket()
	market.offers["stale-1"] = ebay.Offer{OfferID: "stale-1", SKU: "SKU-1", Status: ebay.OfferStatusUnpublished}
	market.offers["other"] = ebay.Offer{OfferID: "other", SKU: "SKU-2"}

	p := New(market, nil, testSettings())
	outcome := p.Publish(context.Background(), draft("SKU-1"))
	require.True(t, outcome.Success, outcome.ErrorMessage)

	live := market.offersFor("SKU-1")
	require.Len(t, live, 1)
	assert.Equal(t, outcome.OfferID, live[0].OfferID)
	assert.NotEqual(t, "stale-1", outcome.OfferID)
	assert.Equal(t, []string{"stale-1"}, outcome.ReplacedOfferIDs)

	_, err := market.PublishOffer(context.Background(), "stale-1")
	assert.True(t, ebay.IsNotFound(err))

	// Offers of other SKUs are untouched
	assert.Len(t, market.offersFor("SKU-2"), 1)
}

func TestPublish_DeleteFailureIsSwallowed(t *testing.T) {
	market := newFakeMarket()
	market.offers["stale-1"] = ebay.Offer{OfferID: "stale-1", SKU: "SKU-1"}
	market.deleteErr = &ebay.APIError{Status: http.StatusInternalServerError}

	p := New(market, nil, testSettings())
	outcome := p.Publish(context.Background(), draft("SKU-1"))

	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.ReplacedOfferIDs)
	assert.Contains(t, market.calls, "delete_offer:stale-1")
}

func TestPublish_OfferLookupFailureContinues(t *testing.T) {
	market := newFakeMarket()
	market.lookupErr = errors.New("timeout")

	p := New(market, nil, testSettings())
	outcome := p.Publish(context.Background(), draft("SKU-1"))
	assert.True(t, outcome.Success)
}

func TestPublish_StepFailures(t *testing.T) {
	badRequest := &ebay.APIError{
		Status: http.StatusBadRequest,
		Errors: []ebay.ErrorDetail{{ErrorID: 25002, Message: "A user error has occurred.", LongMessage: "Invalid category"}},
	}

	tests := []struct {
		name          string
		setup         func(*fakeMarket)
		wantStep      Step
		inventorySent bool
		wantOffer     bool
	}{
		{
			name:     "inventory",
			setup:    func(m *fakeMarket) { m.inventoryErr["SKU-1"] = badRequest },
			wantStep: StepInventory,
		},
		{
			name:          "offer",
			setup:         func(m *fakeMarket) { m.createErr["SKU-1"] = badRequest },
			wantStep:      StepOffer,
			inventorySent: true,
		},
		{
			name:          "publish",
			setup:         func(m *fakeMarket) { m.publishErr["SKU-1"] = badRequest },
			wantStep:      StepPublish,
			inventorySent: true,
			wantOffer:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			market := newFakeMarket()
			tt.setup(market)

			p := New(market, nil, testSettings())
			outcome := p.Publish(context.Background(), draft("SKU-1"))

			assert.False(t, outcome.Success)
			assert.Equal(t, tt.wantStep, outcome.Step)
			assert.Equal(t, 25002, outcome.MarketplaceErrorID)
			assert.Equal(t, "Invalid category", outcome.ErrorMessage)
			assert.Equal(t, ebay.KindValidation, outcome.ErrorKind)
			assert.Equal(t, tt.inventorySent, outcome.InventorySent)
			assert.Equal(t, tt.wantOffer, outcome.OfferID != "")
			assert.Empty(t, outcome.ListingID)

			// No rollback: inventory written before the failure stays
			_, kept := market.inventory["SKU-1"]
			assert.Equal(t, tt.inventorySent, kept)
		})
	}
}

func TestPublish_OfferFailureStopsBeforePublish(t *testing.T) {
	market := newFakeMarket()
	market.createErr["SKU-1"] = &ebay.APIError{Status: http.StatusBadRequest}

	p := New(market, nil, testSettings())
	outcome := p.Publish(context.Background(), draft("SKU-1"))

	assert.Equal(t, StepOffer, outcome.Step)
	for _, call := range market.calls {
		assert.NotContains(t, call, "publish:")
	}
}

func TestPublish_InvalidDraftMakesNoCalls(t *testing.T) {
	market := newFakeMarket()
	p := New(market, nil, testSettings())

	d := draft("")
	d.PriceGross = 0
	outcome := p.Publish(context.Background(), d)

	assert.False(t, outcome.Success)
	assert.Equal(t, StepInventory, outcome.Step)
	assert.Contains(t, outcome.ErrorMessage, "sku")
	assert.Contains(t, outcome.ErrorMessage, "priceGross")
	assert.Equal(t, ebay.KindUnclassified, outcome.ErrorKind)
	assert.Empty(t, market.calls)
}

func TestPublish_AspectEnrichment(t *testing.T) {
	t.Run("adds missing aspects and re-sends inventory", func(t *testing.T) {
		market := newFakeMarket()
		resolver := stubAspects{values: map[string][]string{
			"Marke": {"Bosch"},
			"Farbe": {"Mehrfarbig"},
		}}

		d := draft("SKU-1")
		d.Aspects = map[string][]string{"Farbe": {"Blau"}}

		p := New(market, resolver, testSettings())
		outcome := p.Publish(context.Background(), d)
		require.True(t, outcome.Success)

		assert.Equal(t, []string{
			"inventory:SKU-1",
			"get_offers:SKU-1",
			"inventory:SKU-1",
			"create_offer:SKU-1",
			"publish:offer-1",
		}, market.calls)

		got := market.inventory["SKU-1"].Product.Aspects
		assert.Equal(t, []string{"Bosch"}, got["Marke"])
		assert.Equal(t, []string{"Blau"}, got["Farbe"])
	})

	t.Run("nothing to add skips the second upsert", func(t *testing.T) {
		market := newFakeMarket()
		d := draft("SKU-1")
		d.Aspects = map[string][]string{"Marke": {"Bosch"}}

		p := New(market, stubAspects{values: map[string][]string{"marke": {"Other"}}}, testSettings())
		require.True(t, p.Publish(context.Background(), d).Success)

		count := 0
		for _, c := range market.calls {
			if c == "inventory:SKU-1" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("lookup failure continues", func(t *testing.T) {
		market := newFakeMarket()
		p := New(market, stubAspects{err: errors.New("taxonomy down")}, testSettings())
		assert.True(t, p.Publish(context.Background(), draft("SKU-1")).Success)
	})

	t.Run("enriched upsert failure is an inventory failure", func(t *testing.T) {
		market := newFakeMarket()
		calls := 0
		p := New(&failSecondUpsert{fakeMarket: market, calls: &calls},
			stubAspects{values: map[string][]string{"Marke": {"Bosch"}}}, testSettings())

		outcome := p.Publish(context.Background(), draft("SKU-1"))
		assert.Equal(t, StepInventory, outcome.Step)
		assert.True(t, outcome.InventorySent)
	})
}

type failSecondUpsert struct {
	*fakeMarket
	calls *int
}

func (f *failSecondUpsert) PutInventoryItem(ctx context.Context, sku string, item ebay.InventoryItem) error {
	*f.calls++
	if *f.calls == 2 {
		return &ebay.APIError{Status: http.StatusBadRequest, Errors: []ebay.ErrorDetail{{ErrorID: 25709}}}
	}
	return f.fakeMarket.PutInventoryItem(ctx, sku, item)
}

func TestPublishBatch_FailuresAreIndependent(t *testing.T) {
	market := newFakeMarket()
	market.createErr["SKU-2"] = &ebay.APIError{Status: http.StatusBadRequest, Errors: []ebay.ErrorDetail{{ErrorID: 25005}}}

	rec := &mockRecorder{}
	rec.On("StartBatch", mock.Anything, mock.AnythingOfType("string"), 3).Return(nil)
	rec.On("RecordOutcome", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("publisher.PublishOutcome")).Return(nil)
	rec.On("FinishBatch", mock.Anything, mock.AnythingOfType("string"), 2, 1).Return(nil)

	obs := &countingObserver{counts: make(map[string]int)}

	p := New(market, nil, testSettings(),
		WithRecorder(rec),
		WithObserver(obs),
		WithLogger(zerolog.Nop()),
	)

	result := p.PublishBatch(context.Background(), []ListingDraft{draft("SKU-1"), draft("SKU-2"), draft("SKU-3")})

	require.Len(t, result.Outcomes, 3)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	assert.True(t, result.Outcomes[0].Success)
	assert.False(t, result.Outcomes[1].Success)
	assert.Equal(t, StepOffer, result.Outcomes[1].Step)
	assert.True(t, result.Outcomes[2].Success)

	rec.AssertNumberOfCalls(t, "RecordOutcome", 3)
	rec.AssertExpectations(t)
	assert.Equal(t, 2, obs.counts["/true"])
	assert.Equal(t, 1, obs.counts["offer/false"])
}

func TestPublishBatch_RecorderErrorsDoNotAbort(t *testing.T) {
	market := newFakeMarket()

	rec := &mockRecorder{}
	rec.On("StartBatch", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db locked"))
	rec.On("RecordOutcome", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db locked"))
	rec.On("FinishBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db locked"))

	p := New(market, nil, testSettings(), WithRecorder(rec))
	result := p.PublishBatch(context.Background(), []ListingDraft{draft("SKU-1"), draft("SKU-2")})

	assert.Equal(t, 2, result.Succeeded)
}
