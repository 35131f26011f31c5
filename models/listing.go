package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DiscoveredListing is the lightweight reference a connector returns from
// discovery. It lives only on the queue between crawl and normalize.
type DiscoveredListing struct {
	SourceID        string    `json:"source_id"`
	SourceListingID string    `json:"source_listing_id"`
	URL             string    `json:"url"`
	FoundAt         time.Time `json:"found_at"`
}

// EnrichedListingData is the full per-listing detail a connector fetches.
// Field values are still source-shaped; Normalize maps them to the
// canonical NormalizedListing.
type EnrichedListingData struct {
	SourceListingID string          `json:"source_listing_id"`
	URL             string          `json:"url"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Address         string          `json:"address"`
	PriceText       string          `json:"price_text"`
	Beds            int             `json:"beds"`
	Baths           int             `json:"baths"`
	Cars            int             `json:"cars"`
	PropertyType    string          `json:"property_type"`
	PublishedAt     time.Time       `json:"published_at"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// NormalizedListing is the canonical listing shape, independent of source.
// Produced by normalize, consumed by dedupe.
type NormalizedListing struct {
	SourceListingID string    `json:"source_listing_id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Address         string    `json:"address"`
	Price           int       `json:"price"`
	Beds            int       `json:"beds"`
	Baths           int       `json:"baths"`
	Cars            int       `json:"cars"`
	PropertyType    string    `json:"property_type"`
	PublishedAt     time.Time `json:"published_at"`
}

const (
	ListingStatusActive   = "active"
	ListingStatusDelisted = "delisted"
)

// Listing is one source's advertisement of a Property.
// Many listings may reference the same property.
type Listing struct {
	ID              uuid.UUID `json:"id" db:"id"`
	PropertyID      uuid.UUID `json:"property_id" db:"property_id"`
	SourceID        string    `json:"source_id" db:"source_id"`
	SourceListingID string    `json:"source_listing_id" db:"source_listing_id"`
	Price           int       `json:"price" db:"price"`
	Beds            int       `json:"beds" db:"beds"`
	Baths           int       `json:"baths" db:"baths"`
	Cars            int       `json:"cars" db:"cars"`
	PropertyType    string    `json:"property_type" db:"property_type"`
	URL             string    `json:"url" db:"url"`
	Status          string    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}
