package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"propsift/identity"
	"propsift/models"
)

// fakeStore implements ResolutionStore in memory with the same conflict
// semantics as Postgres: one active property per fingerprint, one listing
// per (source, source listing id).
type fakeStore struct {
	mu         sync.Mutex
	properties map[string]*models.Property // by fingerprint
	listings   map[string]*models.Listing  // by sourceID+"/"+sourceListingID
	prices     []models.PriceHistory
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		properties: make(map[string]*models.Property),
		listings:   make(map[string]*models.Listing),
	}
}

func (f *fakeStore) GetActivePropertyByFingerprint(ctx context.Context, fingerprint string) (*models.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.properties[fingerprint]; ok && p.IsActive {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateProperty(ctx context.Context, p *models.Property) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.properties[p.AddressFingerprint]; ok && existing.IsActive {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		return nil
	}
	cp := *p
	f.properties[p.AddressFingerprint] = &cp
	return nil
}

func (f *fakeStore) GetListingBySource(ctx context.Context, sourceID, sourceListingID string) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.listings[sourceID+"/"+sourceListingID]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *l
	f.listings[l.SourceID+"/"+l.SourceListingID] = &cp
	return nil
}

func (f *fakeStore) CreatePriceHistory(ctx context.Context, ph *models.PriceHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices = append(f.prices, *ph)
	return nil
}

func listing(id, address string, price int) *models.NormalizedListing {
	return &models.NormalizedListing{
		SourceListingID: id,
		URL:             "https://example.com/" + id,
		Title:           "Test listing",
		Address:         address,
		Price:           price,
		Beds:            3,
		Baths:           2,
		PropertyType:    "house",
	}
}

func TestResolve_CreatesPropertyAndListing(t *testing.T) {
	store := newFakeStore()
	svc := NewResolutionService(store)

	result, err := svc.Resolve(context.Background(), "homely", listing("L1", "10 Park Rd, Bondi NSW 2026", 1200000))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !result.IsNewProperty || !result.IsNewListing {
		t.Fatalf("expected new property and listing, got %+v", result)
	}
	if result.Property.CanonicalAddress != "10 Park Rd, Bondi NSW 2026" {
		t.Fatalf("unexpected canonical address %q", result.Property.CanonicalAddress)
	}
	if result.Property.ConvenienceScore != models.NeutralConvenienceScore {
		t.Fatalf("new property should start at neutral score, got %d", result.Property.ConvenienceScore)
	}
	if result.Property.State != "NSW" || result.Property.Postcode != "2026" {
		t.Fatalf("unexpected property locality: %+v", result.Property)
	}
	if len(store.prices) != 1 {
		t.Fatalf("expected 1 price history row, got %d", len(store.prices))
	}
}

func TestResolve_TwoSourcesSameProperty(t *testing.T) {
	store := newFakeStore()
	svc := NewResolutionService(store)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, "homely", listing("H-1", "10 Park Rd, Bondi NSW 2026", 1200000))
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	second, err := svc.Resolve(ctx, "estately", listing("E-99", "10 Park Road, Bondi NSW 2026", 1250000))
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}

	if first.Property.ID != second.Property.ID {
		t.Fatalf("equivalent addresses resolved to different properties: %s vs %s",
			first.Property.ID, second.Property.ID)
	}
	if second.IsNewProperty {
		t.Fatalf("second source should attach to the existing property")
	}
	if !second.IsNewListing {
		t.Fatalf("second source should still create its own listing")
	}
	if len(store.listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(store.listings))
	}
}

func TestResolve_Idempotent(t *testing.T) {
	store := newFakeStore()
	svc := NewResolutionService(store)
	ctx := context.Background()

	nl := listing("L1", "10 Park Rd, Bondi NSW 2026", 1200000)
	first, err := svc.Resolve(ctx, "homely", nl)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	second, err := svc.Resolve(ctx, "homely", nl)
	if err != nil {
		t.Fatalf("repeat resolve failed: %v", err)
	}

	if first.Property.ID != second.Property.ID || first.Listing.ID != second.Listing.ID {
		t.Fatalf("repeat resolve diverged: %+v vs %+v", first, second)
	}
	if second.IsNewProperty || second.IsNewListing || second.PriceChanged {
		t.Fatalf("repeat resolve should be a no-op, got %+v", second)
	}
	if len(store.properties) != 1 || len(store.listings) != 1 {
		t.Fatalf("expected 1 property and 1 listing, got %d/%d",
			len(store.properties), len(store.listings))
	}
}

func TestResolve_ConcurrentSameAddress(t *testing.T) {
	store := newFakeStore()
	svc := NewResolutionService(store)
	ctx := context.Background()

	const n = 20
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nl := listing("L1", "10 Park Rd, Bondi NSW 2026", 1200000)
			result, err := svc.Resolve(ctx, "homely", nl)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = result.Property.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("resolver %d failed: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent resolvers created distinct properties: %s vs %s", ids[0], ids[i])
		}
	}
	if len(store.properties) != 1 {
		t.Fatalf("expected exactly 1 property, got %d", len(store.properties))
	}
}

func TestResolve_PriceChange(t *testing.T) {
	store := newFakeStore()
	svc := NewResolutionService(store)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, "homely", listing("L1", "10 Park Rd, Bondi NSW 2026", 1200000)); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	result, err := svc.Resolve(ctx, "homely", listing("L1", "10 Park Rd, Bondi NSW 2026", 1150000))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if !result.PriceChanged {
		t.Fatalf("expected price change to be detected")
	}
	if result.PreviousPrice != 1200000 {
		t.Fatalf("expected previous price 1200000, got %d", result.PreviousPrice)
	}
	if len(store.prices) != 2 {
		t.Fatalf("expected 2 price history rows, got %d", len(store.prices))
	}
}

func TestResolve_Relist(t *testing.T) {
	store := newFakeStore()
	svc := NewResolutionService(store)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, "homely", listing("L1", "10 Park Rd, Bondi NSW 2026", 1200000))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	store.mu.Lock()
	store.listings["homely/L1"].Status = models.ListingStatusDelisted
	store.mu.Unlock()

	second, err := svc.Resolve(ctx, "homely", listing("L1", "10 Park Rd, Bondi NSW 2026", 1200000))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !second.IsRelisted {
		t.Fatalf("expected relist to be detected")
	}
	if second.Listing.Status != models.ListingStatusActive {
		t.Fatalf("relisted listing should be active again")
	}
	if second.Listing.ID != first.Listing.ID {
		t.Fatalf("relist should reuse the listing row")
	}
}

func TestResolve_MalformedAddress(t *testing.T) {
	store := newFakeStore()
	svc := NewResolutionService(store)

	_, err := svc.Resolve(context.Background(), "homely", listing("L1", "not an address", 0))
	if err == nil {
		t.Fatalf("expected error for malformed address")
	}
	var malformed *identity.MalformedAddressError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedAddressError, got %T: %v", err, err)
	}
	if len(store.properties) != 0 || len(store.listings) != 0 {
		t.Fatalf("malformed address must not create rows")
	}
}
