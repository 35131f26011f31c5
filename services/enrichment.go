package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"propsift/geo"
	"propsift/models"
)

// EnrichmentStore is the slice of storage the scorer needs.
type EnrichmentStore interface {
	GetPropertyByID(ctx context.Context, id uuid.UUID) (*models.Property, error)
	ListPOIs(ctx context.Context) ([]models.POI, error)
	UpsertPropertyPOI(ctx context.Context, pp *models.PropertyPOI) error
	UpdatePropertyScore(ctx context.Context, id uuid.UUID, score int) error
}

// EnrichmentService computes convenience scores and maintains the nearest-POI
// associations for properties.
type EnrichmentService struct {
	store  EnrichmentStore
	preset string
}

func NewEnrichmentService(store EnrichmentStore, preset string) *EnrichmentService {
	return &EnrichmentService{store: store, preset: preset}
}

// ScoreProperty recomputes a property's convenience score and refreshes its
// nearest-POI rows. Missing properties are skipped rather than retried - the
// row may have been merged away since the job was queued.
func (s *EnrichmentService) ScoreProperty(ctx context.Context, propertyID uuid.UUID) (int, error) {
	property, err := s.store.GetPropertyByID(ctx, propertyID)
	if err != nil {
		return 0, fmt.Errorf("get property: %w", err)
	}
	if property == nil || !property.IsActive {
		return models.NeutralConvenienceScore, nil
	}

	pois, err := s.store.ListPOIs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pois: %w", err)
	}

	for _, sp := range geo.Nearest(property.Latitude, property.Longitude, pois, geo.NearestLimit) {
		pp := &models.PropertyPOI{
			PropertyID:     property.ID,
			POIID:          sp.POI.ID,
			DistanceMeters: sp.DistanceMeters,
		}
		if err := s.store.UpsertPropertyPOI(ctx, pp); err != nil {
			return 0, fmt.Errorf("upsert property poi: %w", err)
		}
	}

	score := geo.Score(property.Latitude, property.Longitude, pois, s.preset)
	if err := s.store.UpdatePropertyScore(ctx, property.ID, score); err != nil {
		return 0, fmt.Errorf("update property score: %w", err)
	}
	return score, nil
}
