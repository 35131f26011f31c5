package models

import "github.com/google/uuid"

// POI categories used by the convenience scorer presets.
const (
	POISchool    = "school"
	POIPark      = "park"
	POITransport = "transport"
	POIShopping  = "shopping"
	POIMedical   = "medical"
	POICafe      = "cafe"
)

// POI is a static point of interest. Reference data, not mutated by the
// pipeline.
type POI struct {
	ID        int64   `json:"id" db:"id"`
	Name      string  `json:"name" db:"name"`
	Category  string  `json:"category" db:"category"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}

// PropertyPOI links a property to one of its nearest POIs.
// Recomputed (upserted) on every geo-enrichment pass.
type PropertyPOI struct {
	PropertyID     uuid.UUID `json:"property_id" db:"property_id"`
	POIID          int64     `json:"poi_id" db:"poi_id"`
	DistanceMeters float64   `json:"distance_meters" db:"distance_meters"`
}
