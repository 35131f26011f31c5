package connector

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"propsift/models"
)

// ErrInvalidListing marks raw data that fails canonical-shape validation.
// The pipeline treats it as non-retryable.
var ErrInvalidListing = errors.New("invalid listing")

var descriptionPolicy = bluemonday.StrictPolicy()

// normalize maps fetched detail into the canonical listing shape and
// validates it. Shared by all connector implementations.
func normalize(raw *models.EnrichedListingData) (*models.NormalizedListing, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil detail", ErrInvalidListing)
	}

	nl := &models.NormalizedListing{
		SourceListingID: strings.TrimSpace(raw.SourceListingID),
		URL:             strings.TrimSpace(raw.URL),
		Title:           strings.TrimSpace(raw.Title),
		Description:     strings.TrimSpace(descriptionPolicy.Sanitize(raw.Description)),
		Address:         strings.TrimSpace(raw.Address),
		Price:           parsePrice(raw.PriceText),
		Beds:            raw.Beds,
		Baths:           raw.Baths,
		Cars:            raw.Cars,
		PropertyType:    strings.ToLower(strings.TrimSpace(raw.PropertyType)),
		PublishedAt:     raw.PublishedAt,
	}

	if err := validate(nl); err != nil {
		return nil, err
	}
	return nl, nil
}

func validate(nl *models.NormalizedListing) error {
	switch {
	case nl.SourceListingID == "":
		return fmt.Errorf("%w: missing source listing id", ErrInvalidListing)
	case nl.URL == "":
		return fmt.Errorf("%w: missing url", ErrInvalidListing)
	case nl.Address == "":
		return fmt.Errorf("%w: missing address", ErrInvalidListing)
	case nl.Price < 0 || nl.Beds < 0 || nl.Baths < 0 || nl.Cars < 0:
		return fmt.Errorf("%w: negative numeric field", ErrInvalidListing)
	}
	return nil
}

var priceRegex = regexp.MustCompile(`([\d][\d,]*(?:\.\d+)?)\s*(k|m)?`)

// parsePrice extracts a whole-dollar amount from source price text like
// "$1,149,900", "Offers over $900k" or "$1.5m". Unparseable text yields 0,
// not an error; price is not a required field.
func parsePrice(text string) int {
	m := priceRegex.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "k":
		amount *= 1000
	case "m":
		amount *= 1000000
	}
	return int(amount)
}
