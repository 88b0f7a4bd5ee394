package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/price-scraper/internal/database"
	"github.com/maltedev/price-scraper/internal/models"
)

type EventType string

const (
	// EventTypePriceSearchCompleted is published once per answered search.
	EventTypePriceSearchCompleted EventType = "PRICE_SEARCH_COMPLETED"

	aggregatePriceSearch = "price_search"
)

type SearchCompletedPayload struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	SearchID      string    `json:"search_id"`
	Query         string    `json:"query"`
	Provider      string    `json:"provider"`
	ListingCount  int       `json:"listing_count"`
	Stores        []string  `json:"stores"`
	CheapestStore string    `json:"cheapest_store,omitempty"`
	CheapestPrice *float64  `json:"cheapest_price,omitempty"`
	Source        string    `json:"source"`
}

// Search is one answered query as it is recorded.
type Search struct {
	ID       uuid.UUID
	Query    models.Query
	Provider string
	Listings []models.PriceListing
	At       time.Time
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

type observationWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, observations []database.Observation) (int64, error)
}

// Publisher writes a search's observations and its outbox event in one
// transaction.
type Publisher struct {
	db           transactor
	outbox       outboxWriter
	observations observationWriter
	logger       *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:           db,
		outbox:       database.NewOutboxRepository(db),
		observations: database.NewObservationRepository(db),
		logger:       logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) PublishSearchCompleted(ctx context.Context, search Search) error {
	if search.ID == uuid.Nil {
		search.ID = uuid.New()
	}
	if search.At.IsZero() {
		search.At = time.Now()
	}

	payload := buildPayload(search)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregatePriceSearch,
		AggregateID:   search.ID.String(),
		EventType:     string(EventTypePriceSearchCompleted),
		Payload:       data,
		TargetStream:  database.StreamPriceSearches,
	}

	observations := toObservations(search)

	var copied int64
	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		n, err := p.observations.InsertWithTx(ctx, tx, observations)
		if err != nil {
			return err
		}
		copied = n
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish search: %w", err)
	}

	p.logger.Info("search recorded",
		"search_id", search.ID,
		"query", search.Query.String(),
		"observations", copied,
		"outbox_id", outboxEvent.ID)

	return nil
}

func buildPayload(search Search) *SearchCompletedPayload {
	payload := &SearchCompletedPayload{
		EventID:      uuid.New().String(),
		EventType:    string(EventTypePriceSearchCompleted),
		Timestamp:    search.At,
		SearchID:     search.ID.String(),
		Query:        search.Query.String(),
		Provider:     search.Provider,
		ListingCount: len(search.Listings),
		Stores:       distinctStores(search.Listings),
		Source:       "price-scraper",
	}

	// Listings arrive ranked, so the first one is the cheapest.
	if len(search.Listings) > 0 {
		cheapest := search.Listings[0]
		payload.CheapestStore = cheapest.Store
		payload.CheapestPrice = &cheapest.Price
	}

	return payload
}

func distinctStores(listings []models.PriceListing) []string {
	seen := make(map[string]bool, len(listings))
	stores := make([]string, 0, len(listings))
	for _, l := range listings {
		if !seen[l.Store] {
			seen[l.Store] = true
			stores = append(stores, l.Store)
		}
	}
	return stores
}

func toObservations(search Search) []database.Observation {
	out := make([]database.Observation, len(search.Listings))
	for i, l := range search.Listings {
		out[i] = database.Observation{
			SearchID:   search.ID,
			Query:      search.Query.String(),
			Store:      l.Store,
			Price:      l.Price,
			Unit:       l.Unit,
			Distance:   l.Distance,
			Icon:       l.Icon,
			ProductURL: l.ProductURL,
			Rank:       i,
			ObservedAt: search.At,
		}
	}
	return out
}
