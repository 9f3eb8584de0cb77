// Package engine runs the ingestion pipeline: it drains a priority queue of
// repository targets, vets every fetched file and routes it to the matching
// transform path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/config"
	"github.com/DrSkyle/codevet/pkg/engine/events"
	"github.com/DrSkyle/codevet/pkg/engine/history"
	"github.com/DrSkyle/codevet/pkg/engine/pacing"
	"github.com/DrSkyle/codevet/pkg/engine/source"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrAlreadyRunning is returned by Start when continuous mode is active.
var ErrAlreadyRunning = errors.New("engine is already running")

// errStopped marks a repository cut short by Stop.
var errStopped = errors.New("ingestion stopped before all files were processed")

// Vetter classifies one artifact.
type Vetter interface {
	Vet(ctx context.Context, a artifact.CodeArtifact) (artifact.VettingResult, error)
}

// Transformer executes the two downstream paths.
type Transformer interface {
	Integrate(ctx context.Context, v artifact.VettingResult) (artifact.IntegratedArtifact, error)
	Reimplement(ctx context.Context, v artifact.VettingResult) (artifact.TransformedArtifact, error)
}

// Config holds the collaborators and pacing of an Engine.
type Config struct {
	Fetcher     source.Fetcher
	Vetter      Vetter
	Transformer Transformer
	Pacing      config.PacingConfig

	// Targets seeds the queue.
	Targets []artifact.RepositoryTarget

	// History persists finished runs. Optional.
	History history.Backend

	Logger *slog.Logger
}

// Engine is the orchestrator. One goroutine drives cycles; AddRepository,
// Status and History are safe from any goroutine.
type Engine struct {
	fetcher     source.Fetcher
	vetter      Vetter
	transformer Transformer
	pacing      config.PacingConfig
	ledger      history.Backend

	Logger *slog.Logger
	Tracer trace.Tracer

	clock   pacing.Clock
	limiter *pacing.Limiter
	bus     *events.Bus
	metrics *metrics
	newID   func() string

	// cycleMu serialises cycles.
	cycleMu sync.Mutex

	mu      sync.Mutex
	queue   []artifact.RepositoryTarget
	active  map[string]*artifact.IngestionProgress
	runs    []artifact.IngestionProgress
	cycles  int
	loop    *loopState
	stopped atomic.Bool
}

type loopState struct {
	cancelPauses context.CancelFunc
	done         chan struct{}
}

// Option defines a functional configuration override.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(c pacing.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLimiter shares a limiter, typically one the oracle client also feeds.
func WithLimiter(l *pacing.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithBus publishes events on an existing bus.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithRunIDs replaces the UUID generator for run IDs.
func WithRunIDs(next func() string) Option {
	return func(e *Engine) { e.newID = next }
}

// New validates cfg and builds an engine. Misconfiguration is a
// *artifact.ConfigError; a bad seed target is a *artifact.QueueError.
func New(cfg Config, opts ...Option) (*Engine, error) {
	switch {
	case cfg.Fetcher == nil:
		return nil, &artifact.ConfigError{Field: "fetcher", Reason: "is required"}
	case cfg.Vetter == nil:
		return nil, &artifact.ConfigError{Field: "vetter", Reason: "is required"}
	case cfg.Transformer == nil:
		return nil, &artifact.ConfigError{Field: "transformer", Reason: "is required"}
	}
	if err := cfg.Pacing.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		fetcher:     cfg.Fetcher,
		vetter:      cfg.Vetter,
		transformer: cfg.Transformer,
		pacing:      cfg.Pacing,
		ledger:      cfg.History,
		Logger:      cfg.Logger,
		Tracer:      otel.Tracer("codevet/engine"),
		clock:       pacing.Real(),
		newID:       func() string { return uuid.NewString() },
		active:      make(map[string]*artifact.IngestionProgress),
	}
	if e.Logger == nil {
		e.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.limiter == nil {
		e.limiter = pacing.NewLimiter(e.clock, cfg.Pacing.FileDelay, cfg.Pacing.MaxFileDelay)
	}
	if e.bus == nil {
		e.bus = events.NewBus(e.clock.Now, e.Logger)
	}
	m, err := newMetrics(otel.Meter("codevet/engine"))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	e.metrics = m

	for _, t := range cfg.Targets {
		if err := e.AddRepository(t); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Subscribe returns a feed of pipeline events.
func (e *Engine) Subscribe(buffer int) *events.Subscription {
	return e.bus.Subscribe(buffer)
}

// Limiter exposes the file pacing limiter so collaborators can report
// throttling.
func (e *Engine) Limiter() *pacing.Limiter { return e.limiter }

// recoverPanic turns a panic while processing one file into that file's
// error. The stack goes to the span and the log.
func (e *Engine) recoverPanic(ctx context.Context, path string, fo *artifact.FileOutcome) {
	if r := recover(); r != nil {
		_, span := e.Tracer.Start(ctx, "CriticalPanic")
		stack := debug.Stack()
		err := fmt.Errorf("panic: %v", r)

		span.RecordError(err, trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "panic while processing file")
		span.SetAttributes(
			attribute.String("path", path),
			attribute.String("crash.stack", string(stack)),
		)
		span.End()

		e.Logger.Error("Recovered panic", "path", path, "error", r, "stack", string(stack))
		*fo = artifact.FileOutcome{Path: path, Outcome: artifact.OutcomeError, Error: err.Error()}
	}
}
