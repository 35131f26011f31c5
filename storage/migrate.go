package storage

import "context"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT 'api',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_crawled_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS crawl_runs (
		id BIGSERIAL PRIMARY KEY,
		source_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		listings_found INT NOT NULL DEFAULT 0,
		listings_delisted INT NOT NULL DEFAULT 0,
		errors_count INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS properties (
		id UUID PRIMARY KEY,
		canonical_address TEXT NOT NULL,
		suburb TEXT NOT NULL,
		state TEXT NOT NULL,
		postcode TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		address_fingerprint TEXT NOT NULL,
		convenience_score INT NOT NULL DEFAULT 50,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// One active property per fingerprint; deactivated rows keep history.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_properties_fingerprint_active
		ON properties (address_fingerprint) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		property_id UUID NOT NULL REFERENCES properties(id),
		source_id TEXT NOT NULL,
		source_listing_id TEXT NOT NULL,
		price BIGINT NOT NULL DEFAULT 0,
		beds INT NOT NULL DEFAULT 0,
		baths INT NOT NULL DEFAULT 0,
		cars INT NOT NULL DEFAULT 0,
		property_type TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source_id, source_listing_id)
	)`,

	`CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		property_id UUID NOT NULL REFERENCES properties(id),
		price BIGINT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_price_history_property
		ON price_history (property_id, captured_at)`,

	`CREATE TABLE IF NOT EXISTS pois (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS property_pois (
		property_id UUID NOT NULL REFERENCES properties(id),
		poi_id BIGINT NOT NULL REFERENCES pois(id),
		distance_meters DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (property_id, poi_id)
	)`,

	`CREATE TABLE IF NOT EXISTS merge_reviews (
		id BIGSERIAL PRIMARY KEY,
		source_property_id UUID NOT NULL REFERENCES properties(id),
		target_property_id UUID NOT NULL REFERENCES properties(id),
		match_score REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reviewed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source_property_id, target_property_id)
	)`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		suburb TEXT NOT NULL DEFAULT '',
		min_beds INT NOT NULL DEFAULT 0,
		max_price BIGINT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS source_stats (
		source_id TEXT PRIMARY KEY,
		active_listings INT NOT NULL DEFAULT 0,
		total_listings INT NOT NULL DEFAULT 0,
		properties INT NOT NULL DEFAULT 0,
		refreshed_at TIMESTAMPTZ
	)`,
}

// Migrate applies the schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
