package connector

import (
	"errors"
	"testing"

	"propsift/models"
)

func validDetail() *models.EnrichedListingData {
	return &models.EnrichedListingData{
		SourceListingID: "L1",
		URL:             "https://example.com/listing/L1",
		Title:           "Charming cottage",
		Description:     "<p>Sunny and <b>renovated</b><script>alert(1)</script></p>",
		Address:         "10 Park Rd, Bondi NSW 2026",
		PriceText:       "$1,149,900",
		Beds:            3,
		Baths:           2,
		Cars:            1,
		PropertyType:    "House",
	}
}

func TestNormalize(t *testing.T) {
	nl, err := normalize(validDetail())
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if nl.Price != 1149900 {
		t.Fatalf("expected price 1149900, got %d", nl.Price)
	}
	if nl.PropertyType != "house" {
		t.Fatalf("expected lowercased property type, got %q", nl.PropertyType)
	}
	if nl.Description != "Sunny and renovated" {
		t.Fatalf("expected sanitized description, got %q", nl.Description)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.EnrichedListingData)
	}{
		{"missing id", func(d *models.EnrichedListingData) { d.SourceListingID = "" }},
		{"missing url", func(d *models.EnrichedListingData) { d.URL = "" }},
		{"missing address", func(d *models.EnrichedListingData) { d.Address = "  " }},
		{"negative beds", func(d *models.EnrichedListingData) { d.Beds = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := validDetail()
			tc.mutate(d)
			_, err := normalize(d)
			if !errors.Is(err, ErrInvalidListing) {
				t.Fatalf("expected ErrInvalidListing, got %v", err)
			}
		})
	}

	if _, err := normalize(nil); !errors.Is(err, ErrInvalidListing) {
		t.Fatalf("nil detail should be invalid, got %v", err)
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"$1,149,900", 1149900},
		{"Offers over $900k", 900000},
		{"$1.5m", 1500000},
		{"750000", 750000},
		{"Contact agent", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parsePrice(tc.in); got != tc.want {
			t.Fatalf("parsePrice(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
