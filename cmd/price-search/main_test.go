package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/price-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleListings() []models.PriceListing {
	return []models.PriceListing{
		{Store: "Walmart", Price: 4.99, Unit: "4L", Distance: "2.5 km", Icon: "🏪", ProductURL: "#"},
		{Store: "Metro", Price: 5.2, Unit: "4L", Distance: "3.2 km", Icon: "🏬", ProductURL: "#"},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, sampleListings()))

	expected := "Rank,Store,Price,Unit,Distance,URL\n" +
		"1,Walmart,4.99,4L,2.5 km,#\n" +
		"2,Metro,5.20,4L,3.2 km,#\n"
	assert.Equal(t, expected, buf.String())
}

func TestSaveToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, saveToCSV(sampleListings(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1,Walmart,4.99")
}

func TestPrintJSON(t *testing.T) {
	t.Run("listings", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printJSON(&buf, sampleListings()))

		var got []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "Walmart", got[0]["store"])
		assert.Equal(t, "#", got[0]["productUrl"])
	})

	t.Run("empty result prints an array", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printJSON(&buf, []models.PriceListing{}))
		assert.Equal(t, "[]\n", buf.String())
	})
}
