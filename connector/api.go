package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"propsift/config"
	"propsift/models"
)

// APIConnector is the reference connector for sources with a JSON search
// API. When the API is unavailable it degrades to parsing the source's
// HTML listing index, a lower-fidelity discovery path.
type APIConnector struct {
	cfg    *config.SourceConfig
	client *http.Client
	tracker
}

func NewAPIConnector(cfg *config.SourceConfig, client *http.Client) *APIConnector {
	return &APIConnector{cfg: cfg, client: client}
}

func (c *APIConnector) ID() string { return c.cfg.ID }

type searchResponse struct {
	Results []searchResult `json:"results"`
	HasMore bool           `json:"has_more"`
}

type searchResult struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type detailResponse struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Address      string `json:"address"`
	Price        string `json:"price"`
	Beds         int    `json:"beds"`
	Baths        int    `json:"baths"`
	Cars         int    `json:"cars"`
	PropertyType string `json:"property_type"`
	PublishedAt  string `json:"published_at"`
}

// DiscoverListings pages through the search endpoint. Feed-method sources
// fetch a single unpaginated feed. A dead API falls back to scraping the
// HTML index; if that fails too, an empty set is returned so one broken
// source never stalls the rest of the pipeline.
func (c *APIConnector) DiscoverListings(ctx context.Context, opts DiscoverOptions) (Discovery, error) {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = c.cfg.MaxPages
	}
	if c.cfg.Method == string(models.MethodFeed) {
		maxPages = 1
	}

	var discovered []models.DiscoveredListing
	now := time.Now()

	complete := false
	for page := 1; page <= maxPages; page++ {
		resp, err := c.searchPage(ctx, page)
		if err != nil {
			if page > 1 {
				// Partial discovery is still useful, but it is not the
				// source's full inventory.
				log.Printf("[%s] discovery stopped at page %d: %v", c.cfg.ID, page, err)
				return Discovery{Listings: discovered}, nil
			}
			log.Printf("[%s] API discovery failed, falling back to HTML index: %v", c.cfg.ID, err)
			return c.discoverFromHTML(ctx)
		}

		for _, r := range resp.Results {
			if r.ID == "" {
				continue
			}
			discovered = append(discovered, models.DiscoveredListing{
				SourceID:        c.cfg.ID,
				SourceListingID: r.ID,
				URL:             r.URL,
				FoundAt:         now,
			})
		}
		if !resp.HasMore {
			complete = true
			break
		}
	}
	if !complete {
		log.Printf("[%s] discovery truncated at %d pages with more available", c.cfg.ID, maxPages)
	}

	return Discovery{Listings: discovered, Complete: complete}, nil
}

func (c *APIConnector) searchPage(ctx context.Context, page int) (*searchResponse, error) {
	endpoint := c.cfg.Endpoints["search"]
	if c.cfg.Method == string(models.MethodFeed) {
		endpoint = c.cfg.Endpoints["feed"]
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no search endpoint configured")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String(), "application/json")
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.failure()
		return nil, fmt.Errorf("decode search page %d: %w", page, err)
	}
	return &resp, nil
}

// discoverFromHTML is the degraded path: pull listing links off the public
// index page. References only, and never a complete inventory; detail fetch
// fills in the rest.
func (c *APIConnector) discoverFromHTML(ctx context.Context) (Discovery, error) {
	indexURL := c.cfg.Endpoints["index"]
	if indexURL == "" {
		return Discovery{}, nil
	}

	body, err := c.get(ctx, indexURL, "text/html")
	if err != nil {
		log.Printf("[%s] HTML fallback failed: %v", c.cfg.ID, err)
		return Discovery{}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return Discovery{}, nil
	}

	now := time.Now()
	var discovered []models.DiscoveredListing
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		id := listingIDFromURL(href, c.cfg.ListingURLPrefix)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		discovered = append(discovered, models.DiscoveredListing{
			SourceID:        c.cfg.ID,
			SourceListingID: id,
			URL:             absoluteURL(c.cfg.Domain, href),
			FoundAt:         now,
		})
	})
	return Discovery{Listings: discovered}, nil
}

func (c *APIConnector) FetchListingDetails(ctx context.Context, sourceListingID string) (*models.EnrichedListingData, error) {
	endpoint := c.cfg.Endpoints["detail"]
	if endpoint == "" {
		return nil, fmt.Errorf("[%s] no detail endpoint configured", c.cfg.ID)
	}
	detailURL := strings.ReplaceAll(endpoint, "{id}", url.PathEscape(sourceListingID))

	body, err := c.get(ctx, detailURL, "application/json")
	if err != nil {
		return nil, err
	}

	var d detailResponse
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("decode detail %s: %w", sourceListingID, err)
	}

	enriched := &models.EnrichedListingData{
		SourceListingID: d.ID,
		URL:             d.URL,
		Title:           d.Title,
		Description:     d.Description,
		Address:         d.Address,
		PriceText:       d.Price,
		Beds:            d.Beds,
		Baths:           d.Baths,
		Cars:            d.Cars,
		PropertyType:    d.PropertyType,
		Raw:             body,
	}
	if d.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, d.PublishedAt); err == nil {
			enriched.PublishedAt = t
		}
	}
	if enriched.SourceListingID == "" {
		enriched.SourceListingID = sourceListingID
	}
	return enriched, nil
}

func (c *APIConnector) Normalize(raw *models.EnrichedListingData) (*models.NormalizedListing, error) {
	return normalize(raw)
}

func (c *APIConnector) HealthCheck(ctx context.Context) bool {
	target := c.cfg.Endpoints["health"]
	if target == "" {
		target = "https://" + c.cfg.Domain
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.failure()
		return false
	}
	resp.Body.Close()
	c.success()
	return resp.StatusCode < 400
}

func (c *APIConnector) get(ctx context.Context, target, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "propsift/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		c.failure()
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	c.observeHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		c.failure()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.failure()
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	c.success()
	return body, nil
}

// listingIDFromURL pulls the trailing id out of a listing URL when the path
// matches the configured prefix.
func listingIDFromURL(href, prefix string) string {
	if prefix == "" || !strings.Contains(href, prefix) {
		return ""
	}
	rest := href[strings.Index(href, prefix)+len(prefix):]
	rest = strings.Trim(rest, "/")
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func absoluteURL(domain, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return "https://" + domain + "/" + strings.TrimPrefix(href, "/")
}
