package connector

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"
	"propsift/config"
	"propsift/models"
)

// BrowserConnector drives a headless browser for sources that render
// listings client-side and offer no usable API or feed.
type BrowserConnector struct {
	cfg *config.SourceConfig
	tracker

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewBrowserConnector(cfg *config.SourceConfig) *BrowserConnector {
	return &BrowserConnector{cfg: cfg}
}

func (c *BrowserConnector) ID() string { return c.cfg.ID }

func (c *BrowserConnector) ensureStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	var err error
	c.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	c.browser, err = c.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	c.initialized = true
	return nil
}

func (c *BrowserConnector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		c.browser.Close()
	}
	if c.pw != nil {
		c.pw.Stop()
	}
	c.initialized = false
}

func (c *BrowserConnector) DiscoverListings(ctx context.Context, opts DiscoverOptions) (Discovery, error) {
	if err := c.ensureStarted(); err != nil {
		// Browser unavailable counts as degradation, not pipeline failure.
		log.Printf("[%s] browser unavailable, empty discovery: %v", c.cfg.ID, err)
		c.failure()
		return Discovery{}, nil
	}

	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = c.cfg.MaxPages
	}

	var discovered []models.DiscoveredListing
	seen := make(map[string]bool)
	complete := false
	for page := 1; page <= maxPages; page++ {
		html, err := c.renderPage(ctx, fmt.Sprintf("%s?page=%d", c.cfg.Endpoints["search"], page))
		if err != nil {
			log.Printf("[%s] render page %d: %v", c.cfg.ID, page, err)
			return Discovery{Listings: discovered}, nil
		}

		found := c.parseListingLinks(html, seen)
		if len(found) == 0 {
			// An exhausted result set, not a failure.
			complete = true
			break
		}
		discovered = append(discovered, found...)
	}
	return Discovery{Listings: discovered, Complete: complete}, nil
}

func (c *BrowserConnector) FetchListingDetails(ctx context.Context, sourceListingID string) (*models.EnrichedListingData, error) {
	if err := c.ensureStarted(); err != nil {
		return nil, err
	}

	detailURL := c.cfg.ListingURLPrefix + sourceListingID
	if !strings.HasPrefix(detailURL, "http") {
		detailURL = "https://" + c.cfg.Domain + detailURL
	}

	html, err := c.renderPage(ctx, detailURL)
	if err != nil {
		return nil, err
	}
	return c.parseDetail(html, sourceListingID, detailURL)
}

func (c *BrowserConnector) Normalize(raw *models.EnrichedListingData) (*models.NormalizedListing, error) {
	return normalize(raw)
}

func (c *BrowserConnector) HealthCheck(ctx context.Context) bool {
	if err := c.ensureStarted(); err != nil {
		return false
	}
	_, err := c.renderPage(ctx, "https://"+c.cfg.Domain)
	return err == nil
}

func (c *BrowserConnector) renderPage(ctx context.Context, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	page, err := c.browser.NewPage()
	if err != nil {
		c.failure()
		return "", fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	_, err = page.Goto(target, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	if err != nil {
		c.failure()
		return "", fmt.Errorf("goto %s: %w", target, err)
	}

	html, err := page.Content()
	if err != nil {
		c.failure()
		return "", fmt.Errorf("page content: %w", err)
	}
	c.success()
	return html, nil
}

func (c *BrowserConnector) parseListingLinks(html string, seen map[string]bool) []models.DiscoveredListing {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	now := time.Now()
	var out []models.DiscoveredListing
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		id := listingIDFromURL(href, c.cfg.ListingURLPrefix)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, models.DiscoveredListing{
			SourceID:        c.cfg.ID,
			SourceListingID: id,
			URL:             absoluteURL(c.cfg.Domain, href),
			FoundAt:         now,
		})
	})
	return out
}

// parseDetail extracts listing fields from a rendered detail page. Sources
// handled by this connector mark fields with data-field attributes or the
// common listing microdata classes.
func (c *BrowserConnector) parseDetail(html, sourceListingID, detailURL string) (*models.EnrichedListingData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail html: %w", err)
	}

	field := func(name string) string {
		sel := doc.Find(fmt.Sprintf("[data-field=%q]", name)).First()
		return strings.TrimSpace(sel.Text())
	}
	fieldInt := func(name string) int {
		var n int
		fmt.Sscanf(field(name), "%d", &n)
		return n
	}

	enriched := &models.EnrichedListingData{
		SourceListingID: sourceListingID,
		URL:             detailURL,
		Title:           firstNonEmpty(field("title"), strings.TrimSpace(doc.Find("h1").First().Text())),
		Description:     field("description"),
		Address:         firstNonEmpty(field("address"), strings.TrimSpace(doc.Find(".listing-address").First().Text())),
		PriceText:       firstNonEmpty(field("price"), strings.TrimSpace(doc.Find(".listing-price").First().Text())),
		Beds:            fieldInt("beds"),
		Baths:           fieldInt("baths"),
		Cars:            fieldInt("cars"),
		PropertyType:    field("property_type"),
	}
	return enriched, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
