package services

import (
	"context"
	"fmt"
	"log"

	"propsift/models"
)

// AlertStore is the slice of storage alert matching needs.
type AlertStore interface {
	FindMatchingAlerts(ctx context.Context, suburb string, beds, price int) ([]models.Alert, error)
}

// AlertService matches new and price-changed listings against saved
// searches. Matched alerts are returned to the caller, which hands them
// off for delivery; sending itself happens outside this process.
type AlertService struct {
	store AlertStore
}

func NewAlertService(store AlertStore) *AlertService {
	return &AlertService{store: store}
}

// Match returns the alerts whose criteria the listing satisfies.
func (s *AlertService) Match(ctx context.Context, property *models.Property, listing *models.Listing) ([]models.Alert, error) {
	if property == nil || listing == nil {
		return nil, nil
	}

	alerts, err := s.store.FindMatchingAlerts(ctx, property.Suburb, listing.Beds, listing.Price)
	if err != nil {
		return nil, fmt.Errorf("find matching alerts: %w", err)
	}

	for _, a := range alerts {
		log.Printf("Alert %s matched: user=%s property=%s price=%d beds=%d",
			a.ID, a.UserID, property.ID, listing.Price, listing.Beds)
	}
	return alerts, nil
}
