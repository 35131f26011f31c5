package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"propsift/geo"
	"propsift/models"
)

type fakeEnrichmentStore struct {
	property *models.Property
	pois     []models.POI

	upserted []models.PropertyPOI
	scored   map[uuid.UUID]int
}

func (f *fakeEnrichmentStore) GetPropertyByID(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	if f.property != nil && f.property.ID == id {
		cp := *f.property
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeEnrichmentStore) ListPOIs(ctx context.Context) ([]models.POI, error) {
	return f.pois, nil
}

func (f *fakeEnrichmentStore) UpsertPropertyPOI(ctx context.Context, pp *models.PropertyPOI) error {
	f.upserted = append(f.upserted, *pp)
	return nil
}

func (f *fakeEnrichmentStore) UpdatePropertyScore(ctx context.Context, id uuid.UUID, score int) error {
	if f.scored == nil {
		f.scored = make(map[uuid.UUID]int)
	}
	f.scored[id] = score
	return nil
}

func TestScoreProperty(t *testing.T) {
	property := &models.Property{
		ID:        uuid.New(),
		Latitude:  -33.8915,
		Longitude: 151.2767,
		IsActive:  true,
	}

	var pois []models.POI
	for i := 0; i < 15; i++ {
		pois = append(pois, models.POI{
			ID:        int64(i + 1),
			Category:  models.POISchool,
			Latitude:  property.Latitude + float64(i)*0.002,
			Longitude: property.Longitude,
		})
	}

	store := &fakeEnrichmentStore{property: property, pois: pois}
	svc := NewEnrichmentService(store, "family")

	score, err := svc.ScoreProperty(context.Background(), property.ID)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if score < 0 || score > 100 {
		t.Fatalf("score %d out of [0,100]", score)
	}
	if store.scored[property.ID] != score {
		t.Fatalf("score not persisted")
	}
	if len(store.upserted) != geo.NearestLimit {
		t.Fatalf("expected %d property-poi rows, got %d", geo.NearestLimit, len(store.upserted))
	}
	for _, pp := range store.upserted {
		if pp.PropertyID != property.ID {
			t.Fatalf("property-poi row for wrong property")
		}
	}
}

func TestScoreProperty_Missing(t *testing.T) {
	store := &fakeEnrichmentStore{}
	svc := NewEnrichmentService(store, "family")

	score, err := svc.ScoreProperty(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected missing property to be skipped, got %v", err)
	}
	if score != models.NeutralConvenienceScore {
		t.Fatalf("expected neutral score for missing property, got %d", score)
	}
	if len(store.upserted) != 0 {
		t.Fatalf("no rows should be written for a missing property")
	}
}
