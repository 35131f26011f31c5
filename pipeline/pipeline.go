package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"propsift/config"
	"propsift/connector"
	"propsift/identity"
	"propsift/models"
	"propsift/queue"
	"propsift/services"
	"propsift/storage"
)

// Store is the slice of storage the stage handlers need.
// storage.PostgresStore implements it.
type Store interface {
	CreateCrawlRun(ctx context.Context, run *models.CrawlRun) error
	UpdateCrawlRun(ctx context.Context, run *models.CrawlRun) error
	ListActiveListingsBySource(ctx context.Context, sourceID string) ([]models.Listing, error)
	MarkListingDelisted(ctx context.Context, id uuid.UUID) error
	TouchSourceCrawled(ctx context.Context, id string, at time.Time) error
	GetPropertyByID(ctx context.Context, id uuid.UUID) (*models.Property, error)
	GetListingBySource(ctx context.Context, sourceID, sourceListingID string) (*models.Listing, error)
	RefreshSourceStats(ctx context.Context) error
	ListPendingMergeReviews(ctx context.Context, limit int) ([]models.MergeReview, error)
}

// Sweeper nudges the merge-review sweep. workers.SweepWorker implements it.
type Sweeper interface {
	Trigger()
}

// Pipeline wires the queue stages together: crawl discovers listings,
// normalize enriches them, dedupe resolves them onto properties, geo
// scores properties, alert matches saved searches, and index, report
// and cleanup run housekeeping.
type Pipeline struct {
	store      Store
	jobs       *storage.JobStore
	queues     *queue.Manager
	connectors map[string]connector.Connector
	resolution *services.ResolutionService
	enrichment *services.EnrichmentService
	alerts     *services.AlertService
	archiver   *storage.ArchiveUploader
	sweeper    Sweeper
	retention  config.RetentionConfig
}

type Params struct {
	Store      Store
	Jobs       *storage.JobStore
	Queues     *queue.Manager
	Connectors map[string]connector.Connector
	Resolution *services.ResolutionService
	Enrichment *services.EnrichmentService
	Alerts     *services.AlertService
	Archiver   *storage.ArchiveUploader // nil disables dead-letter archiving
	Sweeper    Sweeper                  // nil disables sweep nudges
	Retention  config.RetentionConfig
}

func New(p Params) *Pipeline {
	return &Pipeline{
		store:      p.Store,
		jobs:       p.Jobs,
		queues:     p.Queues,
		connectors: p.Connectors,
		resolution: p.Resolution,
		enrichment: p.Enrichment,
		alerts:     p.Alerts,
		archiver:   p.Archiver,
		sweeper:    p.Sweeper,
		retention:  p.Retention,
	}
}

// Register installs a handler for every queue stage. Call before the
// queue manager starts.
func (p *Pipeline) Register() {
	p.queues.Handle(queue.Crawl, p.handleCrawl)
	p.queues.Handle(queue.Normalize, p.handleNormalize)
	p.queues.Handle(queue.Dedupe, p.handleDedupe)
	p.queues.Handle(queue.Geo, p.handleGeo)
	p.queues.Handle(queue.Alert, p.handleAlert)
	p.queues.Handle(queue.Index, p.handleIndex)
	p.queues.Handle(queue.Report, p.handleReport)
	p.queues.Handle(queue.Cleanup, p.handleCleanup)
}

// Job payloads.

type CrawlPayload struct {
	SourceID string `json:"source_id"`
}

type NormalizePayload struct {
	SourceID        string `json:"source_id"`
	SourceListingID string `json:"source_listing_id"`
	URL             string `json:"url"`
}

type DedupePayload struct {
	SourceID string                   `json:"source_id"`
	Listing  models.NormalizedListing `json:"listing"`
}

type GeoPayload struct {
	PropertyID uuid.UUID `json:"property_id"`
}

type AlertPayload struct {
	PropertyID      uuid.UUID `json:"property_id"`
	SourceID        string    `json:"source_id"`
	SourceListingID string    `json:"source_listing_id"`
	PreviousPrice   int       `json:"previous_price,omitempty"`
}

// DeliveryPayload is the hand-off an external sender consumes from the
// deliver outbox, one per matched alert.
type DeliveryPayload struct {
	AlertID    uuid.UUID `json:"alertId"`
	UserID     uuid.UUID `json:"userId"`
	PropertyID uuid.UUID `json:"propertyId"`
}

// EnqueueCrawlAll queues one crawl job per known source.
func (p *Pipeline) EnqueueCrawlAll() error {
	for id := range p.connectors {
		if err := p.queues.Enqueue(queue.Crawl, CrawlPayload{SourceID: id}); err != nil {
			return err
		}
	}
	return nil
}

// handleCrawl runs one full discovery pass for a source: upsert the source
// row, discover listing ids, fan out normalize jobs, and delist active
// listings the source no longer reports.
func (p *Pipeline) handleCrawl(ctx context.Context, payload []byte) error {
	var req CrawlPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return queue.NonRetryable(fmt.Errorf("decode crawl payload: %w", err))
	}

	conn, ok := p.connectors[req.SourceID]
	if !ok {
		return queue.NonRetryable(fmt.Errorf("unknown source %q", req.SourceID))
	}

	now := time.Now()
	run := &models.CrawlRun{SourceID: req.SourceID, StartedAt: now, Status: models.CrawlRunRunning}
	if err := p.store.CreateCrawlRun(ctx, run); err != nil {
		return fmt.Errorf("create crawl run: %w", err)
	}

	if !conn.HealthCheck(ctx) {
		log.Printf("[crawl] source %s unhealthy, skipping run %d", req.SourceID, run.ID)
		p.finishRun(ctx, run, models.CrawlRunFailed)
		return nil
	}

	disc, err := conn.DiscoverListings(ctx, connector.DiscoverOptions{})
	if err != nil {
		p.finishRun(ctx, run, models.CrawlRunFailed)
		return fmt.Errorf("discover %s: %w", req.SourceID, err)
	}
	run.ListingsFound = len(disc.Listings)

	seen := make(map[string]bool, len(disc.Listings))
	for _, d := range disc.Listings {
		seen[d.SourceListingID] = true
		err := p.queues.Enqueue(queue.Normalize, NormalizePayload{
			SourceID:        req.SourceID,
			SourceListingID: d.SourceListingID,
			URL:             d.URL,
		})
		if err != nil {
			run.ErrorsCount++
			log.Printf("[crawl] enqueue normalize %s/%s: %v", req.SourceID, d.SourceListingID, err)
		}
	}

	// Active listings the source stopped reporting are delisted, but only
	// after a complete pass. A partial or empty discovery is source
	// degradation, not a mass delisting.
	if !disc.Complete {
		log.Printf("[crawl] partial discovery for %s, delisting skipped", req.SourceID)
	} else if len(disc.Listings) > 0 {
		active, err := p.store.ListActiveListingsBySource(ctx, req.SourceID)
		if err != nil {
			run.ErrorsCount++
			log.Printf("[crawl] list active listings %s: %v", req.SourceID, err)
		} else {
			for _, l := range active {
				if seen[l.SourceListingID] {
					continue
				}
				if err := p.store.MarkListingDelisted(ctx, l.ID); err != nil {
					run.ErrorsCount++
					log.Printf("[crawl] delist %s/%s: %v", req.SourceID, l.SourceListingID, err)
					continue
				}
				run.ListingsDelisted++
			}
		}
	}

	if err := p.store.TouchSourceCrawled(ctx, req.SourceID, now); err != nil {
		log.Printf("[crawl] touch source %s: %v", req.SourceID, err)
	}
	p.finishRun(ctx, run, models.CrawlRunCompleted)
	return nil
}

func (p *Pipeline) finishRun(ctx context.Context, run *models.CrawlRun, status models.CrawlRunStatus) {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	if err := p.store.UpdateCrawlRun(ctx, run); err != nil {
		log.Printf("[crawl] update run %d: %v", run.ID, err)
	}
}

// handleNormalize fetches full details for one discovered listing and
// normalizes them. Listings the connector rejects as invalid are
// dead-lettered rather than retried.
func (p *Pipeline) handleNormalize(ctx context.Context, payload []byte) error {
	var req NormalizePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return queue.NonRetryable(fmt.Errorf("decode normalize payload: %w", err))
	}

	conn, ok := p.connectors[req.SourceID]
	if !ok {
		return queue.NonRetryable(fmt.Errorf("unknown source %q", req.SourceID))
	}

	raw, err := conn.FetchListingDetails(ctx, req.SourceListingID)
	if err != nil {
		return fmt.Errorf("fetch %s/%s: %w", req.SourceID, req.SourceListingID, err)
	}

	nl, err := conn.Normalize(raw)
	if err != nil {
		if errors.Is(err, connector.ErrInvalidListing) {
			return queue.NonRetryable(err)
		}
		return err
	}

	return p.queues.Enqueue(queue.Dedupe, DedupePayload{SourceID: req.SourceID, Listing: *nl})
}

// handleDedupe resolves a normalized listing onto its canonical property,
// then re-queues scoring for that property and fans out alert jobs.
// Unparseable addresses are terminal.
func (p *Pipeline) handleDedupe(ctx context.Context, payload []byte) error {
	var req DedupePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return queue.NonRetryable(fmt.Errorf("decode dedupe payload: %w", err))
	}

	result, err := p.resolution.Resolve(ctx, req.SourceID, &req.Listing)
	if err != nil {
		var malformed *identity.MalformedAddressError
		if errors.As(err, &malformed) {
			return queue.NonRetryable(err)
		}
		return err
	}

	// Every resolved listing re-enqueues scoring; POI rows and the score
	// are recomputed per pass and the upserts make reruns safe.
	if err := p.queues.Enqueue(queue.Geo, GeoPayload{PropertyID: result.Property.ID}); err != nil {
		return err
	}

	if result.IsNewProperty && p.sweeper != nil {
		p.sweeper.Trigger()
	}

	if result.IsNewListing || result.PriceChanged || result.IsRelisted {
		return p.queues.Enqueue(queue.Alert, AlertPayload{
			PropertyID:      result.Property.ID,
			SourceID:        req.SourceID,
			SourceListingID: req.Listing.SourceListingID,
			PreviousPrice:   result.PreviousPrice,
		})
	}
	return nil
}

func (p *Pipeline) handleGeo(ctx context.Context, payload []byte) error {
	var req GeoPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return queue.NonRetryable(fmt.Errorf("decode geo payload: %w", err))
	}

	score, err := p.enrichment.ScoreProperty(ctx, req.PropertyID)
	if err != nil {
		return err
	}
	log.Printf("[geo] property %s scored %d", req.PropertyID, score)
	return nil
}

func (p *Pipeline) handleAlert(ctx context.Context, payload []byte) error {
	var req AlertPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return queue.NonRetryable(fmt.Errorf("decode alert payload: %w", err))
	}

	property, err := p.store.GetPropertyByID(ctx, req.PropertyID)
	if err != nil {
		return fmt.Errorf("get property: %w", err)
	}
	listing, err := p.store.GetListingBySource(ctx, req.SourceID, req.SourceListingID)
	if err != nil {
		return fmt.Errorf("get listing: %w", err)
	}
	if property == nil || listing == nil {
		// Rows merged or removed since the job was queued.
		return nil
	}

	matched, err := p.alerts.Match(ctx, property, listing)
	if err != nil {
		return err
	}
	for _, a := range matched {
		err := p.queues.Enqueue(queue.Deliver, DeliveryPayload{
			AlertID:    a.ID,
			UserID:     a.UserID,
			PropertyID: property.ID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// handleIndex refreshes the per-source rollup stats table.
func (p *Pipeline) handleIndex(ctx context.Context, payload []byte) error {
	return p.store.RefreshSourceStats(ctx)
}

// handleReport logs a weekly operational summary.
func (p *Pipeline) handleReport(ctx context.Context, payload []byte) error {
	stats, err := p.jobs.QueueStats()
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}

	var pendingTotal, deadTotal int
	for _, st := range stats {
		pendingTotal += st.Pending
		deadTotal += st.Dead
	}

	reviews, err := p.store.ListPendingMergeReviews(ctx, 1000)
	if err != nil {
		return fmt.Errorf("list merge reviews: %w", err)
	}

	log.Printf("[report] weekly summary: pending_jobs=%d dead_jobs=%d pending_merge_reviews=%d",
		pendingTotal, deadTotal, len(reviews))
	return nil
}

// handleCleanup prunes completed jobs and expires dead letters, archiving
// each one to object storage first when an archiver is configured.
func (p *Pipeline) handleCleanup(ctx context.Context, payload []byte) error {
	pruned, err := p.jobs.PruneCompleted(time.Now().Add(-p.retention.Completed))
	if err != nil {
		return fmt.Errorf("prune completed: %w", err)
	}
	if pruned > 0 {
		log.Printf("[cleanup] pruned %d completed jobs", pruned)
	}

	expired, err := p.jobs.ListDeadLettersBefore(time.Now().Add(-p.retention.DeadLetter))
	if err != nil {
		return fmt.Errorf("list expired dead letters: %w", err)
	}

	removed := 0
	for i := range expired {
		job := &expired[i]
		if p.archiver != nil {
			if err := p.archiver.ArchiveJob(ctx, job); err != nil {
				log.Printf("[cleanup] archive job %d: %v", job.ID, err)
				continue
			}
		}
		if err := p.jobs.DeleteJob(job.ID); err != nil {
			log.Printf("[cleanup] delete job %d: %v", job.ID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[cleanup] expired %d dead letters", removed)
	}
	return nil
}
