package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Observation is one listing as it was returned for one search.
type Observation struct {
	SearchID   uuid.UUID `json:"searchId"`
	Query      string    `json:"query"`
	Store      string    `json:"store"`
	Price      float64   `json:"price"`
	Unit       string    `json:"unit"`
	Distance   string    `json:"distance"`
	Icon       string    `json:"icon"`
	ProductURL string    `json:"productUrl"`
	Rank       int       `json:"rank"`
	ObservedAt time.Time `json:"observedAt"`
}

var observationColumns = []string{
	"search_id", "query", "store", "price", "unit",
	"distance", "icon", "product_url", "rank", "observed_at",
}

type ObservationRepository struct {
	db *DB
}

func NewObservationRepository(db *DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// InsertWithTx bulk-loads observations inside tx.
func (r *ObservationRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, observations []Observation) (int64, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(observations))
	for _, o := range observations {
		if o.SearchID == uuid.Nil {
			return 0, fmt.Errorf("observation for %q has no search id", o.Store)
		}
		if o.ObservedAt.IsZero() {
			o.ObservedAt = time.Now()
		}
		rows = append(rows, []any{
			o.SearchID, o.Query, o.Store, o.Price, o.Unit,
			o.Distance, o.Icon, o.ProductURL, o.Rank, o.ObservedAt,
		})
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"price_observations"}, observationColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy observations: %w", err)
	}

	return n, nil
}

// Recent returns the latest observations for query, newest first. The
// query is matched case-insensitively.
func (r *ObservationRepository) Recent(ctx context.Context, query string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 50
	}

	sql := `
		SELECT
			search_id, query, store, price::float8, unit,
			distance, icon, product_url, rank, observed_at
		FROM price_observations
		WHERE lower(query) = lower($1)
		ORDER BY observed_at DESC, rank ASC
		LIMIT $2`

	rows, err := r.db.pool.Query(ctx, sql, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		var o Observation
		if err := rows.Scan(
			&o.SearchID, &o.Query, &o.Store, &o.Price, &o.Unit,
			&o.Distance, &o.Icon, &o.ProductURL, &o.Rank, &o.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return observations, nil
}
