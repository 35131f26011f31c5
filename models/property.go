package models

import (
	"time"

	"github.com/google/uuid"
)

// NeutralConvenienceScore is the prior assigned to a property before
// geo-enrichment has run (and whenever no POI data exists).
const NeutralConvenienceScore = 50

// Property is the resolved real-world entity one or more listings point to.
// At most one active property exists per address fingerprint.
type Property struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	CanonicalAddress   string    `json:"canonical_address" db:"canonical_address"`
	Suburb             string    `json:"suburb" db:"suburb"`
	State              string    `json:"state" db:"state"`
	Postcode           string    `json:"postcode" db:"postcode"`
	Latitude           float64   `json:"latitude" db:"latitude"`
	Longitude          float64   `json:"longitude" db:"longitude"`
	AddressFingerprint string    `json:"address_fingerprint" db:"address_fingerprint"`
	ConvenienceScore   int       `json:"convenience_score" db:"convenience_score"`
	IsActive           bool      `json:"is_active" db:"is_active"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// PriceHistory is an append-only price observation for a property.
type PriceHistory struct {
	ID         int64     `json:"id" db:"id"`
	PropertyID uuid.UUID `json:"property_id" db:"property_id"`
	Price      int       `json:"price" db:"price"`
	Source     string    `json:"source" db:"source"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

const (
	MergeReviewPending  = "pending"
	MergeReviewApproved = "approved"
	MergeReviewRejected = "rejected"
	MergeReviewManual   = "manual"
)

// MergeReview is a pending human decision about whether two properties are
// the same real-world entity. Never auto-applied.
type MergeReview struct {
	ID               int64      `json:"id" db:"id"`
	SourcePropertyID uuid.UUID  `json:"source_property_id" db:"source_property_id"`
	TargetPropertyID uuid.UUID  `json:"target_property_id" db:"target_property_id"`
	MatchScore       float64    `json:"match_score" db:"match_score"`
	Status           string     `json:"status" db:"status"`
	ReviewedAt       *time.Time `json:"reviewed_at" db:"reviewed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// Alert is a saved-search subscription matched during geo-enrichment.
// Delivery happens outside this pipeline; only the hand-off is here.
type Alert struct {
	ID       uuid.UUID `json:"id" db:"id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Suburb   string    `json:"suburb" db:"suburb"`
	MinBeds  int       `json:"min_beds" db:"min_beds"`
	MaxPrice int       `json:"max_price" db:"max_price"`
	IsActive bool      `json:"is_active" db:"is_active"`
}
