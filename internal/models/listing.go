package models

import (
	"errors"
	"math"
	"strings"
)

var ErrEmptyQuery = errors.New("query is required")

// Query is a trimmed, non-empty free-text search string.
type Query string

func NewQuery(raw string) (Query, error) {
	q := strings.TrimSpace(raw)
	if q == "" {
		return "", ErrEmptyQuery
	}
	return Query(q), nil
}

func (q Query) String() string {
	return string(q)
}

// RawListing is what the extractor reads off a results page before the
// price text has been normalized.
type RawListing struct {
	Title     string
	PriceText string
	UnitText  string
	Link      string
}

// PriceListing is one offer returned to callers. Price is always present
// and non-negative; listings whose price cannot be parsed never become a
// PriceListing.
type PriceListing struct {
	Store      string  `json:"store"`
	Price      float64 `json:"price"`
	Unit       string  `json:"unit"`
	Distance   string  `json:"distance"`
	Icon       string  `json:"icon"`
	ProductURL string  `json:"productUrl"`
}

func (l *PriceListing) IsValid() bool {
	return l.Store != "" && l.Price >= 0 && !math.IsNaN(l.Price) && !math.IsInf(l.Price, 0)
}
