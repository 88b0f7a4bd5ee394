package collector

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/maltedev/price-scraper/internal/parser"
)

var ErrUnknownStore = errors.New("unknown store")

// Engine selects how a retailer's search page is fetched.
type Engine string

const (
	EngineBrowser Engine = "browser"
	EngineHTTP    Engine = "http"
)

// Retailer is the declarative description of one store. Everything that
// differs between stores lives here; the collection routine is shared.
type Retailer struct {
	Key      string
	Name     string
	Icon     string
	Unit     string
	Distance string
	BaseURL  string
	// SearchURL contains a single %s for the escaped query.
	SearchURL string
	Engine    Engine
	Selectors parser.Selectors
}

func (r Retailer) BuildURL(query string) string {
	return fmt.Sprintf(r.SearchURL, url.QueryEscape(query))
}

var retailers = []Retailer{
	{
		Key:       "walmart",
		Name:      "Walmart",
		Icon:      "🏪",
		Unit:      "each",
		Distance:  "Local",
		BaseURL:   "https://www.walmart.ca",
		SearchURL: "https://www.walmart.ca/search?q=%s",
		Engine:    EngineBrowser,
		Selectors: parser.Selectors{
			Ready: "div[data-testid='item-stack']",
			Item:  "div[data-testid='product-stack-tile']",
			Title: "span[data-automation='product-title']",
			Price: "span[data-automation='item-price']",
			Link:  "a",
		},
	},
	{
		Key:       "loblaws",
		Name:      "Loblaws",
		Icon:      "🛒",
		Unit:      "each",
		Distance:  "Local",
		BaseURL:   "https://www.loblaws.ca",
		SearchURL: "https://www.loblaws.ca/search?search-bar=%s",
		Engine:    EngineBrowser,
		Selectors: parser.Selectors{
			Ready: "div[data-testid='product-grid']",
			Item:  "div[data-testid='product-grid'] div[data-testid='product-tile']",
			Title: "h3[data-testid='product-title']",
			Price: "span[data-testid='sale-price'], span[data-testid='regular-price']",
			Unit:  "p[data-testid='product-package-size']",
			Link:  "a[href]",
		},
	},
	{
		Key:       "metro",
		Name:      "Metro",
		Icon:      "🏬",
		Unit:      "each",
		Distance:  "Local",
		BaseURL:   "https://www.metro.ca",
		SearchURL: "https://www.metro.ca/en/online-grocery/search?filter=%s",
		Engine:    EngineHTTP,
		Selectors: parser.Selectors{
			Ready: "div.products-search--grid",
			Item:  "div.products-search--grid div.default-product-tile",
			Title: ".head__title",
			Price: "span.price-update",
			Unit:  ".head__unit-details",
			Link:  "a.product-details-link",
		},
	},
}

// Retailers returns the built-in retailer table.
func Retailers() []Retailer {
	out := make([]Retailer, len(retailers))
	copy(out, retailers)
	return out
}

func LookupRetailer(key string) (Retailer, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, r := range retailers {
		if r.Key == key {
			return r, nil
		}
	}
	return Retailer{}, fmt.Errorf("%w: %q", ErrUnknownStore, key)
}
