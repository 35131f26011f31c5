package models

import "time"

// SourceMethod describes how a source is crawled
type SourceMethod string

const (
	MethodAPI    SourceMethod = "api"
	MethodScrape SourceMethod = "scrape"
	MethodFeed   SourceMethod = "feed"
	MethodManual SourceMethod = "manual"
)

// Source is an external listing provider. Created on the first successful
// crawl of a new source id; deactivated rather than deleted.
type Source struct {
	ID            string       `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Domain        string       `json:"domain" db:"domain"`
	Method        SourceMethod `json:"method" db:"method"`
	IsActive      bool         `json:"is_active" db:"is_active"`
	LastCrawledAt *time.Time   `json:"last_crawled_at" db:"last_crawled_at"`
}

type CrawlRunStatus string

const (
	CrawlRunRunning   CrawlRunStatus = "running"
	CrawlRunCompleted CrawlRunStatus = "completed"
	CrawlRunFailed    CrawlRunStatus = "failed"
)

// CrawlRun is one crawl execution record for a source.
type CrawlRun struct {
	ID               int64          `json:"id" db:"id"`
	SourceID         string         `json:"source_id" db:"source_id"`
	StartedAt        time.Time      `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time     `json:"finished_at" db:"finished_at"`
	Status           CrawlRunStatus `json:"status" db:"status"`
	ListingsFound    int            `json:"listings_found" db:"listings_found"`
	ListingsDelisted int            `json:"listings_delisted" db:"listings_delisted"`
	ErrorsCount      int            `json:"errors_count" db:"errors_count"`
}
