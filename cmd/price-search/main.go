package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/maltedev/price-scraper/internal/browser"
	"github.com/maltedev/price-scraper/internal/collector"
	"github.com/maltedev/price-scraper/internal/config"
	"github.com/maltedev/price-scraper/internal/dispatcher"
	"github.com/maltedev/price-scraper/internal/fallback"
	"github.com/maltedev/price-scraper/internal/models"
	"github.com/maltedev/price-scraper/internal/ratelimit"
	"github.com/maltedev/price-scraper/pkg/logger"
)

type searcher interface {
	Search(ctx context.Context, q models.Query) []models.PriceListing
}

func main() {
	var (
		query        = flag.String("query", "", "Product to search for, e.g. \"milk\"")
		stores       = flag.String("stores", "", "Comma-separated store keys (default from STORES)")
		useFallback  = flag.Bool("fallback", false, "Answer from the built-in fallback listings")
		outputFile   = flag.String("output", "", "Output CSV file (optional)")
		headless     = flag.Bool("headless", true, "Run browser in headless mode")
		listRetailer = flag.Bool("list-stores", false, "List known store keys and exit")
	)
	flag.Parse()

	if *listRetailer {
		for _, r := range collector.Retailers() {
			fmt.Printf("%-10s %s %s (%s)\n", r.Key, r.Icon, r.Name, r.Engine)
		}
		return
	}

	q, err := models.NewQuery(*query)
	if err != nil {
		fmt.Println("Please provide a product with -query")
		flag.Usage()
		os.Exit(1)
	}

	if *stores != "" {
		os.Setenv("STORES", *stores)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Browser.Headless = *headless && cfg.Browser.Headless

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	var provider searcher
	if *useFallback || cfg.Provider == config.ProviderFallback {
		provider = fallback.NewProvider()
	} else {
		browserOpts := cfg.BrowserOptions()
		collectors, err := collector.Build(cfg.Collection.Stores, collector.Deps{
			Browser: browser.NewPlaywrightLauncher(browserOpts, logger),
			HTTP:    browser.NewStaticLauncher(browserOpts),
			Limiter: ratelimit.NewStoreLimiter(cfg.Collection.StoreRateLimit, cfg.Collection.StoreRateBurst),
			Options: cfg.CollectorOptions(),
			Logger:  logger,
		})
		if err != nil {
			logger.Error("Failed to build collectors", "error", err)
			os.Exit(1)
		}
		provider = dispatcher.New(collectors, cfg.DispatcherConfig(), logger)
	}

	listings := provider.Search(ctx, q)
	logger.Info("Search finished", "query", q.String(), "count", len(listings))

	if *outputFile != "" {
		if err := saveToCSV(listings, *outputFile); err != nil {
			logger.Error("Failed to save CSV", "error", err)
			os.Exit(1)
		}
		logger.Info("Results saved to CSV", "file", *outputFile)
		return
	}

	if err := printJSON(os.Stdout, listings); err != nil {
		logger.Error("Failed to print results", "error", err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, listings []models.PriceListing) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(listings)
}

func saveToCSV(listings []models.PriceListing, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := writeCSV(file, listings); err != nil {
		return err
	}
	return file.Close()
}

func writeCSV(w io.Writer, listings []models.PriceListing) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"Rank", "Store", "Price", "Unit", "Distance", "URL"}); err != nil {
		return err
	}

	for i, l := range listings {
		record := []string{
			strconv.Itoa(i + 1),
			l.Store,
			strconv.FormatFloat(l.Price, 'f', 2, 64),
			l.Unit,
			l.Distance,
			strings.TrimSpace(l.ProductURL),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
