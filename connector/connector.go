package connector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"propsift/config"
	"propsift/httputil"
	"propsift/models"
)

// DiscoverOptions narrows a discovery pass.
type DiscoverOptions struct {
	MaxPages int // 0 means the source's configured default
}

// Discovery is the outcome of one discovery pass. Complete reports whether
// the pass saw the source's full current inventory; a pass cut short by a
// page failure, a page cap, or a fallback path must not drive delisting.
type Discovery struct {
	Listings []models.DiscoveredListing
	Complete bool
}

// RateLimit is per-source rate metadata, surfaced for observability only;
// enforcing the budget is the connector's own responsibility.
type RateLimit struct {
	RequestsPerHour   int
	RequestsRemaining int
	ResetAt           time.Time
}

// Stats is a connector's request bookkeeping.
type Stats struct {
	Requests            int64
	ConsecutiveFailures int
}

// Connector is the contract every source adapter satisfies. Discovery must
// be idempotent and safe to repeat; a degraded source falls back to a
// lower-fidelity path or returns an empty set rather than failing outright.
type Connector interface {
	ID() string
	DiscoverListings(ctx context.Context, opts DiscoverOptions) (Discovery, error)
	FetchListingDetails(ctx context.Context, sourceListingID string) (*models.EnrichedListingData, error)
	Normalize(raw *models.EnrichedListingData) (*models.NormalizedListing, error)
	HealthCheck(ctx context.Context) bool
	RateLimit() RateLimit
	Stats() Stats
}

// New builds the connector for a source config. Manual sources are never
// crawled and get no connector.
func New(cfg *config.SourceConfig, clients *httputil.Clients) (Connector, error) {
	switch models.SourceMethod(cfg.Method) {
	case models.MethodAPI, models.MethodFeed:
		return NewAPIConnector(cfg, clients.Connector), nil
	case models.MethodScrape:
		return NewBrowserConnector(cfg), nil
	case models.MethodManual:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown source method %q for %s", cfg.Method, cfg.ID)
	}
}

// tracker maintains request counts, consecutive failures and rate-limit
// metadata shared across connector implementations.
type tracker struct {
	mu        sync.Mutex
	stats     Stats
	rateLimit RateLimit
}

func (t *tracker) success() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Requests++
	t.stats.ConsecutiveFailures = 0
}

func (t *tracker) failure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Requests++
	t.stats.ConsecutiveFailures++
}

func (t *tracker) observeHeaders(h http.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v := h.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.rateLimit.RequestsPerHour = n
		}
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.rateLimit.RequestsRemaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.rateLimit.ResetAt = time.Unix(secs, 0)
		}
	}
}

func (t *tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *tracker) RateLimit() RateLimit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rateLimit
}
