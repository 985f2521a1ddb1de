package main

import (
	"context"
	"os"

	"github.com/rohankatakam/osspulse/internal/cache"
	"github.com/rohankatakam/osspulse/internal/config"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/forecast"
	"github.com/rohankatakam/osspulse/internal/github"
	"github.com/rohankatakam/osspulse/internal/ingestion"
	"github.com/rohankatakam/osspulse/internal/ledger"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/rohankatakam/osspulse/internal/pipeline"
	"github.com/rohankatakam/osspulse/internal/query"
	"github.com/rohankatakam/osspulse/internal/react"
	"github.com/rohankatakam/osspulse/internal/storage"
	"golang.org/x/term"
)

func openStore(ctx context.Context) (storage.Store, *storage.Upserter, error) {
	mode, err := storage.ParseUpsertMode(cfg.Storage.UpsertMode)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, storage.NewUpserter(store, mode, logger), nil
}

func parseFoundation(s string) (models.Foundation, error) {
	f, err := models.ParseFoundation(s)
	if err != nil {
		return "", errors.MalformedInputf("%v", err)
	}
	return f, nil
}

// tokenRotator resolves GitHub tokens from env, keychain, credentials file
// or an interactive prompt.
func tokenRotator() (*github.TokenRotator, error) {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if err := config.NewCredentialManager(logger).ResolveGitHubTokens(cfg, interactive); err != nil {
		return nil, err
	}
	return github.NewTokenRotator(cfg.GitHub.Tokens)
}

func newGitHubClients() (*github.Client, *github.GraphQLClient, error) {
	rotator, err := tokenRotator()
	if err != nil {
		return nil, nil, err
	}
	rest, err := github.NewClient(cfg.GitHub.APIURL, rotator, cfg.GitHub.RateLimit, logger)
	if err != nil {
		return nil, nil, err
	}
	gql := github.NewGraphQLClient(cfg.GitHub.GraphQLURL, rotator, cfg.GitHub.RateLimit, logger)
	return rest, gql, nil
}

func newReactRunner() *react.Runner {
	p := cfg.Pipeline
	extractor := react.NewExecExtractor(p.ReactCommand, p.ReactAPIDir, logger)
	return react.NewRunner(extractor, p.ReactSetPath(), p.PexGeneratorDir, logger)
}

// openLedger returns nil when no ledger DSN is configured.
func openLedger(ctx context.Context) (*ledger.Ledger, error) {
	if cfg.Ledger.PostgresDSN == "" {
		return nil, nil
	}
	return ledger.Open(ctx, cfg.Ledger.PostgresDSN, logger)
}

// newOrchestrator wires the pipeline. A missing GitHub token only disables
// the metadata stage.
func newOrchestrator(upserter *storage.Upserter, led *ledger.Ledger) *pipeline.Orchestrator {
	p := cfg.Pipeline
	opts := pipeline.Options{
		Miner:      pipeline.NewExecMiner(p, logger),
		Ingester:   ingestion.NewIngester(upserter, models.FoundationApache, p.ArchiveDir, logger),
		Forecaster: forecast.NewExecForecaster(p.ForecastCommand, p.PexGeneratorDir, logger),
		React:      newReactRunner(),
		PexDir:     p.PexGeneratorDir,
		Tasks:      p.Tasks,
		MonthRange: p.MonthRange,
	}
	if led != nil {
		opts.Ledger = led
	}
	if rest, _, err := newGitHubClients(); err != nil {
		logger.WithError(err).Warn("GitHub metadata disabled")
	} else {
		opts.Metadata = rest
	}
	return pipeline.New(opts, logger)
}

func newQueryService(ctx context.Context, store storage.Store) (*query.Service, cache.Cache, error) {
	c, err := cache.Open(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, nil, err
	}
	svc := query.NewService(store, query.Options{
		Cache:       c,
		ActivityDir: cfg.Data.OutDir,
		React:       newReactRunner(),
	}, logger)
	return svc, c, nil
}
