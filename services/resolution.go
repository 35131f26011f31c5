package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"propsift/identity"
	"propsift/models"
)

// ResolutionStore is the slice of storage the resolver needs.
type ResolutionStore interface {
	GetActivePropertyByFingerprint(ctx context.Context, fingerprint string) (*models.Property, error)
	CreateProperty(ctx context.Context, p *models.Property) error
	GetListingBySource(ctx context.Context, sourceID, sourceListingID string) (*models.Listing, error)
	UpsertListing(ctx context.Context, l *models.Listing) error
	CreatePriceHistory(ctx context.Context, ph *models.PriceHistory) error
}

// ResolutionService maps normalized listings onto canonical properties.
// Exact fingerprint matches attach to the existing property; everything
// else creates a new one. Fuzzy merging is never done here - the sweep
// raises merge reviews for a human instead.
type ResolutionService struct {
	store ResolutionStore
}

func NewResolutionService(store ResolutionStore) *ResolutionService {
	return &ResolutionService{store: store}
}

// ResolveResult contains the outcome of resolving one listing.
type ResolveResult struct {
	Property      *models.Property
	Listing       *models.Listing
	IsNewProperty bool
	IsNewListing  bool
	IsRelisted    bool
	PriceChanged  bool
	PreviousPrice int
}

// Resolve finds or creates the property behind a normalized listing and
// upserts the listing itself. Idempotent - repeat calls for the same
// listing converge on the same rows.
func (s *ResolutionService) Resolve(ctx context.Context, sourceID string, nl *models.NormalizedListing) (*ResolveResult, error) {
	addr, err := identity.ParseAddress(nl.Address)
	if err != nil {
		return nil, err
	}
	fingerprint := identity.Fingerprint(addr)

	result := &ResolveResult{}
	now := time.Now()

	property, err := s.store.GetActivePropertyByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("get property by fingerprint: %w", err)
	}
	if property == nil {
		lat, lng := stateCoords(addr.State)
		candidateID := uuid.New()
		property = &models.Property{
			ID:                 candidateID,
			CanonicalAddress:   addr.Canonical(),
			Suburb:             addr.Suburb,
			State:              addr.State,
			Postcode:           addr.Postcode,
			Latitude:           lat,
			Longitude:          lng,
			AddressFingerprint: fingerprint,
			ConvenienceScore:   models.NeutralConvenienceScore,
			IsActive:           true,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.store.CreateProperty(ctx, property); err != nil {
			return nil, fmt.Errorf("create property: %w", err)
		}
		// A concurrent resolver may have won the insert; the store hands
		// back the surviving row's id either way.
		result.IsNewProperty = property.ID == candidateID
	}
	result.Property = property

	existing, err := s.store.GetListingBySource(ctx, sourceID, nl.SourceListingID)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}

	listing := &models.Listing{
		PropertyID:      property.ID,
		SourceID:        sourceID,
		SourceListingID: nl.SourceListingID,
		Price:           nl.Price,
		Beds:            nl.Beds,
		Baths:           nl.Baths,
		Cars:            nl.Cars,
		PropertyType:    nl.PropertyType,
		URL:             nl.URL,
		Status:          models.ListingStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if existing == nil {
		listing.ID = uuid.New()
		result.IsNewListing = true
	} else {
		listing.ID = existing.ID
		listing.CreatedAt = existing.CreatedAt
		if existing.Status == models.ListingStatusDelisted {
			result.IsRelisted = true
		}
		if existing.Price != nl.Price && nl.Price > 0 && existing.Price > 0 {
			result.PriceChanged = true
			result.PreviousPrice = existing.Price
		}
	}

	if err := s.store.UpsertListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("upsert listing: %w", err)
	}
	result.Listing = listing

	if nl.Price > 0 && (result.IsNewListing || result.PriceChanged || result.IsRelisted) {
		ph := &models.PriceHistory{
			PropertyID: property.ID,
			Price:      nl.Price,
			Source:     sourceID,
			CapturedAt: now,
		}
		if err := s.store.CreatePriceHistory(ctx, ph); err != nil {
			return nil, fmt.Errorf("create price history: %w", err)
		}
	}

	return result, nil
}

// stateCoords returns a rough capital-city centroid so new properties have
// usable coordinates before geocoding catches up.
func stateCoords(state string) (float64, float64) {
	switch state {
	case "NSW":
		return -33.8688, 151.2093
	case "VIC":
		return -37.8136, 144.9631
	case "QLD":
		return -27.4698, 153.0251
	case "SA":
		return -34.9285, 138.6007
	case "WA":
		return -31.9523, 115.8613
	case "TAS":
		return -42.8821, 147.3272
	case "ACT":
		return -35.2809, 149.1300
	case "NT":
		return -12.4634, 130.8456
	}
	return 0, 0
}
