package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS price_observations (
	id          BIGSERIAL     PRIMARY KEY,
	search_id   UUID          NOT NULL,
	query       TEXT          NOT NULL,
	store       TEXT          NOT NULL,
	price       NUMERIC(10,2) NOT NULL,
	unit        TEXT          NOT NULL DEFAULT '',
	distance    TEXT          NOT NULL DEFAULT '',
	icon        TEXT          NOT NULL DEFAULT '',
	product_url TEXT          NOT NULL DEFAULT '',
	rank        INT           NOT NULL,
	observed_at TIMESTAMPTZ   NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_price_observations_query
	ON price_observations (lower(query), observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_price_observations_search
	ON price_observations (search_id);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID        PRIMARY KEY,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	target_stream  TEXT        NOT NULL,
	status         TEXT        NOT NULL DEFAULT 'pending',
	retry_count    INT         NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
	ON outbox_event (status, next_retry_at, created_at);
`

// Migrate creates the tables used for price history. It is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
