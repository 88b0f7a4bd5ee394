// Package fallback serves fixed listings for a handful of common grocery
// keywords. It backs the mock endpoint and can stand in for live
// collection when no retailer is reachable.
package fallback

import (
	"context"
	"strings"

	"github.com/maltedev/price-scraper/internal/dispatcher"
	"github.com/maltedev/price-scraper/internal/models"
)

type entry struct {
	keyword  string
	listings []models.PriceListing
}

func offer(store string, price float64, unit, distance, icon string) models.PriceListing {
	return models.PriceListing{
		Store:      store,
		Price:      price,
		Unit:       unit,
		Distance:   distance,
		Icon:       icon,
		ProductURL: "#",
	}
}

// First matching keyword wins.
var catalog = []entry{
	{keyword: "milk", listings: []models.PriceListing{
		offer("Walmart", 4.99, "4L", "2.5 km", "🏪"),
		offer("Loblaws", 5.49, "4L", "1.8 km", "🛒"),
		offer("Metro", 5.29, "4L", "3.2 km", "🏬"),
	}},
	{keyword: "bread", listings: []models.PriceListing{
		offer("Walmart", 2.49, "loaf", "2.5 km", "🏪"),
		offer("Loblaws", 2.99, "loaf", "1.8 km", "🛒"),
	}},
	{keyword: "eggs", listings: []models.PriceListing{
		offer("Walmart", 3.99, "dozen", "2.5 km", "🏪"),
		offer("Costco", 6.99, "18 pack", "5.0 km", "📦"),
	}},
}

var generic = []models.PriceListing{
	offer("Walmart", 3.99, "each", "2.5 km", "🏪"),
	offer("Loblaws", 4.49, "each", "1.8 km", "🛒"),
}

type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Stores() []string {
	return []string{"Walmart", "Loblaws", "Metro", "Costco"}
}

// Search matches the query case-insensitively against the catalog and
// returns a fresh, ranked copy of the listings.
func (p *Provider) Search(_ context.Context, q models.Query) []models.PriceListing {
	query := strings.ToLower(q.String())

	source := generic
	for _, e := range catalog {
		if strings.Contains(query, e.keyword) {
			source = e.listings
			break
		}
	}

	out := make([]models.PriceListing, len(source))
	copy(out, source)
	return dispatcher.Rank(out)
}
