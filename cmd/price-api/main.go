package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/price-scraper/internal/api"
	"github.com/maltedev/price-scraper/internal/browser"
	"github.com/maltedev/price-scraper/internal/collector"
	"github.com/maltedev/price-scraper/internal/config"
	"github.com/maltedev/price-scraper/internal/database"
	"github.com/maltedev/price-scraper/internal/dispatcher"
	"github.com/maltedev/price-scraper/internal/events"
	"github.com/maltedev/price-scraper/internal/fallback"
	"github.com/maltedev/price-scraper/internal/ratelimit"
	"github.com/maltedev/price-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fallbackProvider := fallback.NewProvider()
	deps := api.Deps{
		Provider: cfg.Provider,
		Fallback: fallbackProvider,
		Logger:   log,
	}

	switch cfg.Provider {
	case config.ProviderFallback:
		deps.Searcher = fallbackProvider
		deps.Stores = fallbackProvider.Stores()
	default:
		d, err := newDispatcher(cfg, log)
		if err != nil {
			log.Error("failed to build collectors", "error", err)
			os.Exit(1)
		}
		deps.Searcher = d
		deps.Stores = d.Stores()
	}

	var recorder *events.Recorder
	if cfg.History.Enabled {
		db, err := database.New(ctx, cfg.Database.DSN(), database.DefaultPoolOptions())
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		outbox := database.NewOutboxRepository(db)
		relay := database.NewRelay(outbox, redisClient, log, database.RelayConfig{
			PollInterval: cfg.History.RelayInterval,
			BatchSize:    cfg.History.RelayBatch,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()

		recorder = events.NewRecorder(events.NewPublisher(db, log), 10*time.Second, log)
		deps.Recorder = recorder
		deps.History = database.NewObservationRepository(db)
		deps.Outbox = outbox
	}

	router := api.NewRouter(api.NewHandlers(deps), api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Collection.CollectorTimeout + 10*time.Second,
		AccessLog:      true,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", server.Addr,
		"provider", cfg.Provider,
		"stores", deps.Stores,
		"history", cfg.History.Enabled)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	if recorder != nil {
		recorder.Wait()
	}
	cancel()

	log.Info("server stopped")
}

func newDispatcher(cfg *config.Config, log *slog.Logger) (*dispatcher.Dispatcher, error) {
	browserOpts := cfg.BrowserOptions()

	collectors, err := collector.Build(cfg.Collection.Stores, collector.Deps{
		Browser: browser.NewPlaywrightLauncher(browserOpts, log),
		HTTP:    browser.NewStaticLauncher(browserOpts),
		Limiter: ratelimit.NewStoreLimiter(cfg.Collection.StoreRateLimit, cfg.Collection.StoreRateBurst),
		Options: cfg.CollectorOptions(),
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	return dispatcher.New(collectors, cfg.DispatcherConfig(), log), nil
}
