package parser

import (
	"errors"
	"strconv"
	"strings"
)

var ErrUnparsablePrice = errors.New("unparsable price")

// NormalizePrice turns retailer price text such as "$1,234.50" or
// "5.99 /ea" into a number. Every character other than a digit or a dot is
// dropped; whatever remains must be a plain base-10 decimal.
func NormalizePrice(text string) (float64, error) {
	var b strings.Builder
	dots := 0
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.':
			dots++
			b.WriteRune(r)
		}
	}

	cleaned := b.String()
	if cleaned == "" || cleaned == "." || dots > 1 {
		return 0, ErrUnparsablePrice
	}

	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, ErrUnparsablePrice
	}

	return price, nil
}
