package services

import (
	"context"
	"log"
	"strings"
	"time"

	"propsift/identity"
	"propsift/models"
)

// Pairs at or above this similarity get a merge review raised.
const matchThreshold = 0.82

// MatchStore is the slice of storage the fuzzy sweep needs.
type MatchStore interface {
	ListPropertiesCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.Property, error)
	ListResolutionCandidates(ctx context.Context, p *models.Property) ([]models.Property, error)
	InsertMergeReview(ctx context.Context, mr *models.MergeReview) (bool, error)
}

// MatchService finds likely-duplicate properties that slipped past exact
// fingerprint matching and queues them for human review. It never merges
// anything itself.
type MatchService struct {
	store MatchStore
}

func NewMatchService(store MatchStore) *MatchService {
	return &MatchService{store: store}
}

// SweepStats summarizes one fuzzy-match sweep.
type SweepStats struct {
	Scanned        int
	PairsCompared  int
	ReviewsCreated int
}

// Sweep compares properties created inside the window against candidates
// sharing their suburb or postcode, inserting a pending merge review for
// each pair scoring at or above the threshold. Re-running the sweep is
// safe - the pair constraint swallows duplicates.
func (s *MatchService) Sweep(ctx context.Context, window time.Duration, limit int) (*SweepStats, error) {
	stats := &SweepStats{}

	recent, err := s.store.ListPropertiesCreatedSince(ctx, time.Now().Add(-window), limit)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(recent)

	for i := range recent {
		p := &recent[i]
		candidates, err := s.store.ListResolutionCandidates(ctx, p)
		if err != nil {
			return stats, err
		}

		for j := range candidates {
			candidate := &candidates[j]
			if candidate.AddressFingerprint == p.AddressFingerprint {
				continue
			}
			stats.PairsCompared++

			score := addressSimilarity(p.CanonicalAddress, candidate.CanonicalAddress)
			if score < matchThreshold {
				continue
			}

			review := &models.MergeReview{
				SourcePropertyID: p.ID,
				TargetPropertyID: candidate.ID,
				MatchScore:       score,
				Status:           models.MergeReviewPending,
				CreatedAt:        time.Now(),
			}
			inserted, err := s.store.InsertMergeReview(ctx, review)
			if err != nil {
				log.Printf("Warning: failed to insert merge review %s/%s: %v", p.ID, candidate.ID, err)
				continue
			}
			if inserted {
				stats.ReviewsCreated++
			}
		}
	}

	return stats, nil
}

// addressSimilarity blends token overlap with edit distance so that both
// reordered and lightly misspelled addresses score high.
func addressSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	return 0.5*identity.Jaccard(a, b) + 0.5*identity.LevenshteinRatio(a, b)
}
