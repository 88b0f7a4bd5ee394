package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-scraper/internal/models"
)

var ErrElementMissing = errors.New("listing element missing")

// Selectors describes where one retailer puts its search results.
type Selectors struct {
	// Ready marks the rendered results region; the session waits for it.
	Ready string
	Item  string
	Title string
	Price string
	// Unit is optional. When empty or absent the retailer default is used.
	Unit string
	// Link defaults to the first anchor inside the item.
	Link string
}

type ListingExtractor struct {
	selectors   Selectors
	baseURL     *url.URL
	maxListings int
}

func NewListingExtractor(sel Selectors, baseURL string, maxListings int) (*ListingExtractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if sel.Link == "" {
		sel.Link = "a"
	}
	return &ListingExtractor{
		selectors:   sel,
		baseURL:     base,
		maxListings: maxListings,
	}, nil
}

// Extract reads at most maxListings candidates, in document order, from a
// rendered results page. A candidate missing its title, price or link is
// skipped; it never aborts the rest of the page.
func (e *ListingExtractor) Extract(html string) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	listings := make([]models.RawListing, 0, e.maxListings)
	doc.Find(e.selectors.Item).EachWithBreak(func(i int, item *goquery.Selection) bool {
		if e.maxListings > 0 && i >= e.maxListings {
			return false
		}
		raw, err := e.extractItem(item)
		if err != nil {
			return true
		}
		listings = append(listings, raw)
		return true
	})

	return listings, nil
}

func (e *ListingExtractor) extractItem(item *goquery.Selection) (models.RawListing, error) {
	title := item.Find(e.selectors.Title).First()
	if title.Length() == 0 {
		return models.RawListing{}, fmt.Errorf("%w: title", ErrElementMissing)
	}

	price := item.Find(e.selectors.Price).First()
	if price.Length() == 0 {
		return models.RawListing{}, fmt.Errorf("%w: price", ErrElementMissing)
	}

	href, ok := item.Find(e.selectors.Link).First().Attr("href")
	if !ok {
		return models.RawListing{}, fmt.Errorf("%w: link", ErrElementMissing)
	}
	link, err := e.resolve(href)
	if err != nil {
		return models.RawListing{}, fmt.Errorf("%w: link: %v", ErrElementMissing, err)
	}

	raw := models.RawListing{
		Title:     strings.TrimSpace(title.Text()),
		PriceText: strings.TrimSpace(price.Text()),
		Link:      link,
	}

	if e.selectors.Unit != "" {
		raw.UnitText = strings.TrimSpace(item.Find(e.selectors.Unit).First().Text())
	}

	return raw, nil
}

func (e *ListingExtractor) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return e.baseURL.ResolveReference(ref).String(), nil
}
