package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"propsift/models"
)

type fakeMatchStore struct {
	properties []models.Property
	reviews    map[string]*models.MergeReview // keyed by source/target pair
}

func newFakeMatchStore(properties ...models.Property) *fakeMatchStore {
	return &fakeMatchStore{
		properties: properties,
		reviews:    make(map[string]*models.MergeReview),
	}
}

func (f *fakeMatchStore) ListPropertiesCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.Property, error) {
	var out []models.Property
	for _, p := range f.properties {
		if !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMatchStore) ListResolutionCandidates(ctx context.Context, p *models.Property) ([]models.Property, error) {
	var out []models.Property
	for _, c := range f.properties {
		if c.ID == p.ID {
			continue
		}
		if c.Postcode == p.Postcode || c.Suburb == p.Suburb {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeMatchStore) InsertMergeReview(ctx context.Context, mr *models.MergeReview) (bool, error) {
	key := mr.SourcePropertyID.String() + "/" + mr.TargetPropertyID.String()
	if _, ok := f.reviews[key]; ok {
		return false, nil
	}
	f.reviews[key] = mr
	return true, nil
}

func prop(address, suburb, postcode, fingerprint string) models.Property {
	return models.Property{
		ID:                 uuid.New(),
		CanonicalAddress:   address,
		Suburb:             suburb,
		State:              "NSW",
		Postcode:           postcode,
		AddressFingerprint: fingerprint,
		IsActive:           true,
		CreatedAt:          time.Now(),
	}
}

func TestSweep_RaisesReviewForNearDuplicates(t *testing.T) {
	// Misspelled suburb produces a distinct fingerprint but a very similar
	// canonical address.
	a := prop("10 Park Rd, Bondi NSW 2026", "Bondi", "2026", "10|parkrd|bondi|2026|nsw")
	b := prop("10 Park Rd, Bondie NSW 2026", "Bondie", "2026", "10|parkrd|bondie|2026|nsw")
	store := newFakeMatchStore(a, b)
	svc := NewMatchService(store)

	stats, err := svc.Sweep(context.Background(), time.Hour, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.ReviewsCreated == 0 {
		t.Fatalf("expected a merge review, got %+v", stats)
	}

	for _, r := range store.reviews {
		if r.Status != models.MergeReviewPending {
			t.Fatalf("review must be pending, got %s", r.Status)
		}
		if r.MatchScore < matchThreshold {
			t.Fatalf("review score %v below threshold", r.MatchScore)
		}
	}
}

func TestSweep_IgnoresDistinctAddresses(t *testing.T) {
	a := prop("10 Park Rd, Bondi NSW 2026", "Bondi", "2026", "10|parkrd|bondi|2026|nsw")
	b := prop("99 Ocean Ave, Bondi NSW 2026", "Bondi", "2026", "99|oceanave|bondi|2026|nsw")
	store := newFakeMatchStore(a, b)
	svc := NewMatchService(store)

	stats, err := svc.Sweep(context.Background(), time.Hour, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.ReviewsCreated != 0 {
		t.Fatalf("distinct addresses should not raise reviews, got %d", stats.ReviewsCreated)
	}
}

func TestSweep_SkipsIdenticalFingerprints(t *testing.T) {
	// Same fingerprint means exact resolution already handles the pair.
	a := prop("10 Park Rd, Bondi NSW 2026", "Bondi", "2026", "10|parkrd|bondi|2026|nsw")
	b := prop("10 Park Rd, Bondi NSW 2026", "Bondi", "2026", "10|parkrd|bondi|2026|nsw")
	store := newFakeMatchStore(a, b)
	svc := NewMatchService(store)

	stats, err := svc.Sweep(context.Background(), time.Hour, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.ReviewsCreated != 0 {
		t.Fatalf("identical fingerprints should be skipped, got %d reviews", stats.ReviewsCreated)
	}
}

func TestSweep_Rerunnable(t *testing.T) {
	a := prop("10 Park Rd, Bondi NSW 2026", "Bondi", "2026", "10|parkrd|bondi|2026|nsw")
	b := prop("10 Park Rd, Bondie NSW 2026", "Bondie", "2026", "10|parkrd|bondie|2026|nsw")
	store := newFakeMatchStore(a, b)
	svc := NewMatchService(store)
	ctx := context.Background()

	first, err := svc.Sweep(ctx, time.Hour, 100)
	if err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	second, err := svc.Sweep(ctx, time.Hour, 100)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}

	if first.ReviewsCreated == 0 {
		t.Fatalf("expected reviews from first sweep")
	}
	if second.ReviewsCreated != 0 {
		t.Fatalf("second sweep must not duplicate reviews, got %d", second.ReviewsCreated)
	}
}

func TestAddressSimilarity_Bounds(t *testing.T) {
	if got := addressSimilarity("10 Park Rd, Bondi NSW 2026", "10 Park Rd, Bondi NSW 2026"); got != 1 {
		t.Fatalf("identical addresses should score 1, got %v", got)
	}
	if got := addressSimilarity("", "10 Park Rd"); got != 0 {
		t.Fatalf("empty address should score 0, got %v", got)
	}
	mid := addressSimilarity("10 Park Rd, Bondi NSW 2026", "10 Park Rd, Bondie NSW 2026")
	if mid <= 0 || mid > 1 {
		t.Fatalf("similarity out of range: %v", mid)
	}
}
