package geo

import (
	"math"
	"sort"

	"propsift/models"
)

const (
	// Distance sub-score decays linearly from 100 at fullScoreMeters
	// to 0 at zeroScoreMeters.
	fullScoreMeters = 1000.0
	zeroScoreMeters = 10000.0

	// Density sub-score saturates at this many POIs in a category.
	densitySaturation = 3

	distanceWeight = 0.6
	densityWeight  = 0.4

	// NearestLimit caps how many PropertyPOI rows are kept per property.
	NearestLimit = 10
)

// ScoredPOI pairs a POI with its distance from a property.
type ScoredPOI struct {
	POI            models.POI
	DistanceMeters float64
}

// Nearest returns the n POIs closest to (lat, lng), ordered by distance.
func Nearest(lat, lng float64, pois []models.POI, n int) []ScoredPOI {
	scored := make([]ScoredPOI, 0, len(pois))
	for _, p := range pois {
		scored = append(scored, ScoredPOI{
			POI:            p,
			DistanceMeters: Haversine(lat, lng, p.Latitude, p.Longitude),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].DistanceMeters < scored[j].DistanceMeters
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// Score computes the 0-100 convenience score for a property at (lat, lng)
// against the full POI set, weighted by the named preset. An empty POI set
// yields the neutral default.
func Score(lat, lng float64, pois []models.POI, presetName string) int {
	if len(pois) == 0 {
		return models.NeutralConvenienceScore
	}

	byCategory := make(map[string][]float64)
	for _, p := range pois {
		d := Haversine(lat, lng, p.Latitude, p.Longitude)
		byCategory[p.Category] = append(byCategory[p.Category], d)
	}

	preset := PresetFor(presetName)
	var weighted, totalWeight float64
	for category, distances := range byCategory {
		weight := preset[category]
		if weight <= 0 {
			continue
		}
		weighted += weight * categoryScore(distances)
		totalWeight += weight
	}
	if totalWeight == 0 {
		return models.NeutralConvenienceScore
	}

	return clampScore(int(math.Round(weighted / totalWeight)))
}

// categoryScore blends proximity of the nearest POI with category density.
func categoryScore(distances []float64) float64 {
	nearest := distances[0]
	for _, d := range distances[1:] {
		if d < nearest {
			nearest = d
		}
	}

	var distScore float64
	switch {
	case nearest <= fullScoreMeters:
		distScore = 100
	case nearest >= zeroScoreMeters:
		distScore = 0
	default:
		distScore = 100 * (zeroScoreMeters - nearest) / (zeroScoreMeters - fullScoreMeters)
	}

	count := len(distances)
	if count > densitySaturation {
		count = densitySaturation
	}
	densScore := 100 * float64(count) / float64(densitySaturation)

	return distanceWeight*distScore + densityWeight*densScore
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
