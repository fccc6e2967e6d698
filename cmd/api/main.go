package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/benjamincozon/shoplens/internal/analyze"
	"github.com/benjamincozon/shoplens/internal/api"
	"github.com/benjamincozon/shoplens/internal/checklist"
	"github.com/benjamincozon/shoplens/internal/config"
	"github.com/benjamincozon/shoplens/internal/db"
	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/pipeline"
	"github.com/benjamincozon/shoplens/internal/scrape"
	"github.com/benjamincozon/shoplens/internal/validate"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()

	// DATABASE_URL selects the Postgres-backed store; empty keeps learning
	// state in process memory.
	var (
		store   learn.Store
		sink    pipeline.StageSink
		history pipeline.HistorySink
	)
	if cfg.Database.URL != "" {
		pool, err := db.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to database")
		}
		defer pool.Close()

		queries := db.New(pool)
		if err := queries.SeedChoices(ctx, cfg.Fetch.UserAgents, cfg.Fetch.ProxyList); err != nil {
			log.Fatal().Err(err).Msg("seed fetch choices")
		}
		store = queries
		sink = queries
		history = queries
	} else {
		store = learn.NewMemoryStore(cfg.Fetch.UserAgents, cfg.Fetch.ProxyList)
		log.Info().Msg("no DATABASE_URL set, using in-memory store")
	}

	fetcher := scrape.NewFetcher(store, scrape.FetcherConfig{
		RequestTimeout: cfg.Fetch.RequestTimeout,
		TotalTimeout:   cfg.Fetch.TotalTimeout,
		MaxRetries:     cfg.Fetch.MaxRetries,
		BackoffBase:    cfg.Fetch.BackoffBase,
		ChoiceTTL:      cfg.Fetch.ChoiceTTL,
	}, log)

	var renderer pipeline.Fetcher
	if cfg.Fetch.JSRender {
		renderer = scrape.NewRenderer(log)
	}

	p := pipeline.New(pipeline.Config{
		Workers:          int64(cfg.Pipeline.Workers),
		CrawlTimeout:     cfg.Pipeline.CrawlTimeout,
		ChecklistTimeout: cfg.Pipeline.ChecklistTimeout,
	}, pipeline.Deps{
		Jobs:     pipeline.NewJobStore(),
		Monitor:  pipeline.NewMonitor(sink, log),
		Store:    store,
		Fetcher:  fetcher,
		Renderer: renderer,
		Parser:   scrape.NewParser(store, log),
		Analyzer: analyze.NewAnalyzer(log),
		Checker:  checklist.NewEvaluator(log),
		Verifier: validate.NewValidator(store, log),
		History:  history,
	}, log)

	server := api.NewServer(cfg, p, store, log)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("starting server")
	if err := server.Start(ctx); err != nil {
		log.Info().Err(err).Msg("server stopped")
	}
}
