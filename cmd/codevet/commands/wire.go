package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/config"
	"github.com/DrSkyle/codevet/pkg/engine"
	"github.com/DrSkyle/codevet/pkg/engine/history"
	"github.com/DrSkyle/codevet/pkg/engine/oracle"
	"github.com/DrSkyle/codevet/pkg/engine/pacing"
	"github.com/DrSkyle/codevet/pkg/engine/policy"
	"github.com/DrSkyle/codevet/pkg/engine/source"
	"github.com/DrSkyle/codevet/pkg/engine/transform"
	"github.com/DrSkyle/codevet/pkg/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// oracles is what the pipeline needs from an oracle backend.
type oracles interface {
	transform.Abstractor
	transform.Generator
	transform.Verifier
	policy.ComplianceChecker
}

// pipeline is a fully wired engine plus what must be closed after it.
type pipeline struct {
	Engine  *engine.Engine
	Limiter *pacing.Limiter
	History history.Backend
}

func (p *pipeline) Close() {
	if p.History != nil {
		if err := p.History.Close(); err != nil {
			slog.Warn("Failed to close history", "error", err)
		}
	}
}

func newOracles(cfg config.Config, mock bool, limiter *pacing.Limiter, logger *slog.Logger) (oracles, error) {
	if mock {
		return oracle.NewMock(cfg.Compliance.StaticScore), nil
	}
	opts := []oracle.Option{
		oracle.WithLogger(logger),
		oracle.WithHTTPClient(&http.Client{
			Timeout:   cfg.Oracle.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	}
	if limiter != nil {
		opts = append(opts, oracle.WithThrottleObserver(limiter.Feedback))
	}
	return oracle.NewClient(cfg.Oracle.BaseURL, os.Getenv(cfg.Oracle.TokenEnv), cfg.Oracle.Timeout, opts...)
}

// newVetter picks the compliance checker: the oracle when a compliance
// endpoint is configured or the mock is in use, the static score otherwise.
func newVetter(cfg config.Config, orc oracles, mock bool, logger *slog.Logger) (*policy.Vetter, error) {
	var compliance policy.ComplianceChecker = policy.StaticCompliance(cfg.Compliance.StaticScore)
	switch {
	case mock:
		compliance = orc
	case cfg.Compliance.BaseURL != "":
		c, err := oracle.NewClient(cfg.Compliance.BaseURL, os.Getenv(cfg.Oracle.TokenEnv), cfg.Oracle.Timeout, oracle.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		compliance = c
	}
	return policy.NewVetter(cfg.Policy, compliance, policy.WithLogger(logger))
}

func newFetcher(cfg config.Config, logger *slog.Logger) (source.Fetcher, error) {
	filter, err := source.NewFilter(cfg.Source, logger)
	if err != nil {
		return nil, err
	}
	if cfg.GitHub.LocalRoot != "" {
		return source.NewDirFetcher(cfg.GitHub.LocalRoot, filter), nil
	}
	return source.NewGitHubFetcher(cfg.GitHub.APIURL, os.Getenv(cfg.GitHub.TokenEnv), filter, logger), nil
}

// targets merges the configured targets with the targets file, if any.
func targets(cfg config.Config) ([]artifact.RepositoryTarget, error) {
	out := append([]artifact.RepositoryTarget(nil), cfg.Targets...)
	if cfg.TargetsFile == "" {
		return out, nil
	}
	more, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, err
	}
	return append(out, more...), nil
}

func buildPipeline(ctx context.Context, cfg config.Config, mock bool, logger *slog.Logger) (*pipeline, error) {
	clock := pacing.Real()
	limiter := pacing.NewLimiter(clock, cfg.Pacing.FileDelay, cfg.Pacing.MaxFileDelay)

	orc, err := newOracles(cfg, mock, limiter, logger)
	if err != nil {
		return nil, err
	}
	vetter, err := newVetter(cfg, orc, mock, logger)
	if err != nil {
		return nil, err
	}
	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	transformer, err := transform.New(cfg.ManagedRoot,
		transform.Oracles{Abstractor: orc, Generator: orc, Verifier: orc},
		storage.NewArtifactSink(store),
		transform.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	ledger, err := history.Open(ctx, cfg.HistoryURL)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	ts, err := targets(cfg)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		Fetcher:     fetcher,
		Vetter:      vetter,
		Transformer: transformer,
		Pacing:      cfg.Pacing,
		Targets:     ts,
		History:     ledger,
		Logger:      logger,
	}, engine.WithClock(clock), engine.WithLimiter(limiter))
	if err != nil {
		ledger.Close()
		return nil, err
	}
	return &pipeline{Engine: eng, Limiter: limiter, History: ledger}, nil
}
