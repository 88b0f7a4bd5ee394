package dispatcher

import (
	"sort"

	"github.com/maltedev/price-scraper/internal/models"
)

// Rank orders listings by ascending price. Equal prices keep their
// incoming order. The input slice is sorted in place and returned.
func Rank(listings []models.PriceListing) []models.PriceListing {
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].Price < listings[j].Price
	})
	return listings
}
