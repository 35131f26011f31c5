package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"propsift/models"
)

// PostgresStore is the domain store. It is the only shared mutable resource
// between pipeline stages; nothing caches property identity across calls.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Sources
// =============================================================================

func (s *PostgresStore) UpsertSource(ctx context.Context, src *models.Source) error {
	query := `
		INSERT INTO sources (id, name, domain, method, is_active, last_crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			domain = EXCLUDED.domain,
			method = EXCLUDED.method,
			last_crawled_at = COALESCE(EXCLUDED.last_crawled_at, sources.last_crawled_at)`

	_, err := s.pool.Exec(ctx, query,
		src.ID, src.Name, src.Domain, src.Method, src.IsActive, src.LastCrawledAt)
	return err
}

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*models.Source, error) {
	query := `
		SELECT id, name, domain, method, is_active, last_crawled_at
		FROM sources WHERE id = $1`

	var src models.Source
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&src.ID, &src.Name, &src.Domain, &src.Method, &src.IsActive, &src.LastCrawledAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func (s *PostgresStore) TouchSourceCrawled(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_crawled_at = $2 WHERE id = $1`, id, at)
	return err
}

// =============================================================================
// Crawl runs
// =============================================================================

func (s *PostgresStore) CreateCrawlRun(ctx context.Context, run *models.CrawlRun) error {
	query := `
		INSERT INTO crawl_runs (source_id, started_at, status, listings_found, listings_delisted, errors_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.SourceID, run.StartedAt, run.Status,
		run.ListingsFound, run.ListingsDelisted, run.ErrorsCount,
	).Scan(&run.ID)
}

func (s *PostgresStore) UpdateCrawlRun(ctx context.Context, run *models.CrawlRun) error {
	query := `
		UPDATE crawl_runs SET
			finished_at = $2, status = $3, listings_found = $4,
			listings_delisted = $5, errors_count = $6
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, run.Status,
		run.ListingsFound, run.ListingsDelisted, run.ErrorsCount)
	return err
}

// =============================================================================
// Properties
// =============================================================================

// CreateProperty inserts a property, relying on the partial unique index on
// address_fingerprint for active rows to stay single-writer-safe: concurrent
// creations of the same fingerprint converge on one row, whose id is
// returned in p.ID either way.
func (s *PostgresStore) CreateProperty(ctx context.Context, p *models.Property) error {
	query := `
		INSERT INTO properties (
			id, canonical_address, suburb, state, postcode, latitude, longitude,
			address_fingerprint, convenience_score, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (address_fingerprint) WHERE is_active DO UPDATE SET
			updated_at = NOW()
		RETURNING id, created_at`

	return s.pool.QueryRow(ctx, query,
		p.ID, p.CanonicalAddress, p.Suburb, p.State, p.Postcode, p.Latitude, p.Longitude,
		p.AddressFingerprint, p.ConvenienceScore, p.IsActive, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt)
}

func (s *PostgresStore) GetActivePropertyByFingerprint(ctx context.Context, fingerprint string) (*models.Property, error) {
	query := `
		SELECT id, canonical_address, suburb, state, postcode, latitude, longitude,
			address_fingerprint, convenience_score, is_active, created_at, updated_at
		FROM properties WHERE address_fingerprint = $1 AND is_active`

	return s.scanProperty(s.pool.QueryRow(ctx, query, fingerprint))
}

func (s *PostgresStore) GetPropertyByID(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	query := `
		SELECT id, canonical_address, suburb, state, postcode, latitude, longitude,
			address_fingerprint, convenience_score, is_active, created_at, updated_at
		FROM properties WHERE id = $1`

	return s.scanProperty(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) scanProperty(row pgx.Row) (*models.Property, error) {
	var p models.Property
	err := row.Scan(
		&p.ID, &p.CanonicalAddress, &p.Suburb, &p.State, &p.Postcode,
		&p.Latitude, &p.Longitude, &p.AddressFingerprint, &p.ConvenienceScore,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) UpdatePropertyScore(ctx context.Context, id uuid.UUID, score int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE properties SET convenience_score = $2, updated_at = NOW() WHERE id = $1`,
		id, score)
	return err
}

func (s *PostgresStore) DeactivateProperty(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE properties SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// ListPropertiesCreatedSince feeds the merge-review sweep.
func (s *PostgresStore) ListPropertiesCreatedSince(ctx context.Context, since time.Time, limit int) ([]models.Property, error) {
	query := `
		SELECT id, canonical_address, suburb, state, postcode, latitude, longitude,
			address_fingerprint, convenience_score, is_active, created_at, updated_at
		FROM properties
		WHERE is_active AND created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectProperties(rows)
}

// ListResolutionCandidates returns active properties sharing a suburb or
// postcode with the given one, excluding it.
func (s *PostgresStore) ListResolutionCandidates(ctx context.Context, p *models.Property) ([]models.Property, error) {
	query := `
		SELECT id, canonical_address, suburb, state, postcode, latitude, longitude,
			address_fingerprint, convenience_score, is_active, created_at, updated_at
		FROM properties
		WHERE is_active AND id != $1 AND (postcode = $2 OR LOWER(suburb) = LOWER($3))`

	rows, err := s.pool.Query(ctx, query, p.ID, p.Postcode, p.Suburb)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectProperties(rows)
}

func (s *PostgresStore) collectProperties(rows pgx.Rows) ([]models.Property, error) {
	var out []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(
			&p.ID, &p.CanonicalAddress, &p.Suburb, &p.State, &p.Postcode,
			&p.Latitude, &p.Longitude, &p.AddressFingerprint, &p.ConvenienceScore,
			&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (
			id, property_id, source_id, source_listing_id, price, beds, baths, cars,
			property_type, url, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_id, source_listing_id) DO UPDATE SET
			price = EXCLUDED.price,
			beds = EXCLUDED.beds,
			baths = EXCLUDED.baths,
			cars = EXCLUDED.cars,
			property_type = COALESCE(NULLIF(EXCLUDED.property_type, ''), listings.property_type),
			url = COALESCE(NULLIF(EXCLUDED.url, ''), listings.url),
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		l.ID, l.PropertyID, l.SourceID, l.SourceListingID, l.Price, l.Beds, l.Baths, l.Cars,
		l.PropertyType, l.URL, l.Status, l.CreatedAt, l.UpdatedAt,
	).Scan(&l.ID)
}

func (s *PostgresStore) GetListingBySource(ctx context.Context, sourceID, sourceListingID string) (*models.Listing, error) {
	query := `
		SELECT id, property_id, source_id, source_listing_id, price, beds, baths, cars,
			property_type, url, status, created_at, updated_at
		FROM listings WHERE source_id = $1 AND source_listing_id = $2`

	var l models.Listing
	err := s.pool.QueryRow(ctx, query, sourceID, sourceListingID).Scan(
		&l.ID, &l.PropertyID, &l.SourceID, &l.SourceListingID, &l.Price, &l.Beds, &l.Baths, &l.Cars,
		&l.PropertyType, &l.URL, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) ListActiveListingsBySource(ctx context.Context, sourceID string) ([]models.Listing, error) {
	query := `
		SELECT id, property_id, source_id, source_listing_id, price, beds, baths, cars,
			property_type, url, status, created_at, updated_at
		FROM listings WHERE source_id = $1 AND status = 'active'`

	rows, err := s.pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(
			&l.ID, &l.PropertyID, &l.SourceID, &l.SourceListingID, &l.Price, &l.Beds, &l.Baths, &l.Cars,
			&l.PropertyType, &l.URL, &l.Status, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkListingDelisted(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, models.ListingStatusDelisted)
	return err
}

// =============================================================================
// Price history
// =============================================================================

func (s *PostgresStore) CreatePriceHistory(ctx context.Context, ph *models.PriceHistory) error {
	query := `
		INSERT INTO price_history (property_id, price, source, captured_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		ph.PropertyID, ph.Price, ph.Source, ph.CapturedAt).Scan(&ph.ID)
}

// =============================================================================
// POIs
// =============================================================================

func (s *PostgresStore) ListPOIs(ctx context.Context) ([]models.POI, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, category, latitude, longitude FROM pois`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.POI
	for rows.Next() {
		var p models.POI
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Latitude, &p.Longitude); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertPropertyPOI(ctx context.Context, pp *models.PropertyPOI) error {
	query := `
		INSERT INTO property_pois (property_id, poi_id, distance_meters)
		VALUES ($1, $2, $3)
		ON CONFLICT (property_id, poi_id) DO UPDATE SET
			distance_meters = EXCLUDED.distance_meters`

	_, err := s.pool.Exec(ctx, query, pp.PropertyID, pp.POIID, pp.DistanceMeters)
	return err
}

// =============================================================================
// Merge reviews
// =============================================================================

func (s *PostgresStore) InsertMergeReview(ctx context.Context, mr *models.MergeReview) (bool, error) {
	query := `
		INSERT INTO merge_reviews (source_property_id, target_property_id, match_score, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_property_id, target_property_id) DO NOTHING
		RETURNING id`

	err := s.pool.QueryRow(ctx, query,
		mr.SourcePropertyID, mr.TargetPropertyID, mr.MatchScore, mr.Status, mr.CreatedAt,
	).Scan(&mr.ID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) ListPendingMergeReviews(ctx context.Context, limit int) ([]models.MergeReview, error) {
	query := `
		SELECT id, source_property_id, target_property_id, match_score, status, reviewed_at, created_at
		FROM merge_reviews WHERE status = 'pending'
		ORDER BY match_score DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MergeReview
	for rows.Next() {
		var mr models.MergeReview
		if err := rows.Scan(
			&mr.ID, &mr.SourcePropertyID, &mr.TargetPropertyID,
			&mr.MatchScore, &mr.Status, &mr.ReviewedAt, &mr.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, mr)
	}
	return out, rows.Err()
}

// =============================================================================
// Alerts
// =============================================================================

// FindMatchingAlerts returns active alerts whose saved-search criteria match
// a freshly enriched property/listing pair.
func (s *PostgresStore) FindMatchingAlerts(ctx context.Context, suburb string, beds, price int) ([]models.Alert, error) {
	query := `
		SELECT id, user_id, suburb, min_beds, max_price, is_active
		FROM alerts
		WHERE is_active
			AND (suburb = '' OR LOWER(suburb) = LOWER($1))
			AND min_beds <= $2
			AND (max_price = 0 OR max_price >= $3)`

	rows, err := s.pool.Query(ctx, query, suburb, beds, price)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.UserID, &a.Suburb, &a.MinBeds, &a.MaxPrice, &a.IsActive); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// Source stats (index stage)
// =============================================================================

// RefreshSourceStats recomputes per-source aggregates for dashboards.
func (s *PostgresStore) RefreshSourceStats(ctx context.Context) error {
	query := `
		INSERT INTO source_stats (source_id, active_listings, total_listings, properties, refreshed_at)
		SELECT
			l.source_id,
			COUNT(*) FILTER (WHERE l.status = 'active'),
			COUNT(*),
			COUNT(DISTINCT l.property_id),
			NOW()
		FROM listings l
		GROUP BY l.source_id
		ON CONFLICT (source_id) DO UPDATE SET
			active_listings = EXCLUDED.active_listings,
			total_listings = EXCLUDED.total_listings,
			properties = EXCLUDED.properties,
			refreshed_at = EXCLUDED.refreshed_at`

	_, err := s.pool.Exec(ctx, query)
	return err
}
