// Package transform turns vetted artifacts into managed code: verbatim with
// a provenance header for permissive licenses, or regenerated from an
// abstraction for copyleft ones.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	modeIntegrated    = "integrated"
	modeReimplemented = "reimplemented"
)

// Abstractor describes what code does without carrying its text.
type Abstractor interface {
	Abstract(ctx context.Context, a artifact.CodeArtifact) (artifact.ConceptAbstraction, error)
}

// Generator writes a new implementation from a concept.
type Generator interface {
	Generate(ctx context.Context, c artifact.ConceptAbstraction, language string) (string, error)
}

// Verifier compares original and generated code.
type Verifier interface {
	Verify(ctx context.Context, original artifact.CodeArtifact, generated string) (artifact.VerificationResult, error)
}

// Sink persists outputs and returns the key they were stored under.
type Sink interface {
	StoreIntegrated(ctx context.Context, ia artifact.IntegratedArtifact) (string, error)
	StoreTransformed(ctx context.Context, ta artifact.TransformedArtifact) (string, error)
}

// Oracles groups the three reimplementation collaborators.
type Oracles struct {
	Abstractor Abstractor
	Generator  Generator
	Verifier   Verifier
}

// Engine runs the two transform paths.
type Engine struct {
	managedRoot string
	oracles     Oracles
	sink        Sink
	now         func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock sets the time source used in headers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New validates the collaborators and builds an engine. managedRoot is a
// relative key prefix inside the sink; an absolute path is rejected.
func New(managedRoot string, oracles Oracles, sink Sink, opts ...Option) (*Engine, error) {
	managedRoot = strings.TrimSpace(managedRoot)
	if path.IsAbs(managedRoot) {
		return nil, &artifact.ConfigError{Field: "managed_root", Reason: fmt.Sprintf("%q must be relative to the storage root", managedRoot)}
	}
	managedRoot = strings.Trim(path.Clean("/"+managedRoot), "/")
	switch {
	case managedRoot == "":
		return nil, &artifact.ConfigError{Field: "managed_root", Reason: "must not be empty"}
	case oracles.Abstractor == nil || oracles.Generator == nil || oracles.Verifier == nil:
		return nil, &artifact.ConfigError{Field: "oracle", Reason: "abstractor, generator and verifier are required"}
	case sink == nil:
		return nil, &artifact.ConfigError{Field: "storage", Reason: "sink is required"}
	}
	e := &Engine{
		managedRoot: managedRoot,
		oracles:     oracles,
		sink:        sink,
		now:         time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("codevet/transform"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StoragePath is <managed-root>/<owner/repo>/<path>.
func (e *Engine) StoragePath(a artifact.CodeArtifact) string {
	return path.Join(e.managedRoot, a.Repository, a.Path)
}

func (e *Engine) span(ctx context.Context, name string, a artifact.CodeArtifact) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("repository", a.Repository),
		attribute.String("path", a.Path),
		attribute.String("license", a.License),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Integrate stores the original text under the managed root with a
// provenance header. No oracle is consulted.
func (e *Engine) Integrate(ctx context.Context, v artifact.VettingResult) (artifact.IntegratedArtifact, error) {
	a := v.Artifact
	ctx, span := e.span(ctx, "transform.integrate", a)
	defer span.End()

	if v.Recommendation != artifact.RecommendIntegrate {
		return artifact.IntegratedArtifact{}, fail(span, fmt.Errorf("integrate %s: verdict is %s", a.Path, v.Recommendation))
	}

	storagePath := e.StoragePath(a)
	ia := artifact.IntegratedArtifact{
		Artifact:    a,
		Verdict:     v,
		Content:     withHeader(a.Language, provenanceFor(a, modeIntegrated, e.now()), a.Content),
		StoragePath: storagePath,
		Modifications: []string{
			"storage path rewritten to " + storagePath,
			"provenance header added",
		},
	}
	key, err := e.sink.StoreIntegrated(ctx, ia)
	if err != nil {
		return artifact.IntegratedArtifact{}, fail(span, err)
	}
	ia.StoragePath = key
	e.logger.Debug("Artifact integrated", "repo", a.Repository, "path", a.Path, "stored", key)
	return ia, nil
}

// Reimplement abstracts, regenerates and verifies the artifact, calling each
// oracle exactly once. An unapproved result is returned with ErrNotApproved
// and is not stored.
func (e *Engine) Reimplement(ctx context.Context, v artifact.VettingResult) (artifact.TransformedArtifact, error) {
	a := v.Artifact
	ctx, span := e.span(ctx, "transform.reimplement", a)
	defer span.End()

	if v.Recommendation != artifact.RecommendReimplement {
		return artifact.TransformedArtifact{}, fail(span, fmt.Errorf("reimplement %s: verdict is %s", a.Path, v.Recommendation))
	}
	ta := artifact.TransformedArtifact{Artifact: a, Verdict: v}

	concept, err := e.oracles.Abstractor.Abstract(ctx, a)
	if err == nil {
		err = concept.Validate()
	}
	if err != nil {
		return ta, fail(span, &artifact.OracleError{Stage: "abstract", Path: a.Path, Err: err})
	}
	ta.Concept = concept

	generated, err := e.oracles.Generator.Generate(ctx, concept, a.Language)
	if err != nil {
		return ta, fail(span, &artifact.OracleError{Stage: "generate", Path: a.Path, Err: err})
	}

	verification, err := e.oracles.Verifier.Verify(ctx, a, generated)
	if err != nil {
		return ta, fail(span, &artifact.OracleError{Stage: "verify", Path: a.Path, Err: err})
	}
	ta.Verification = verification
	span.SetAttributes(attribute.Bool("approved", verification.Approved))

	if !verification.Approved {
		return ta, fail(span, fmt.Errorf("%s: %w", a.Path, artifact.ErrNotApproved))
	}

	ta.Implementation = withHeader(a.Language, provenanceFor(a, modeReimplemented, e.now()), generated)
	ta.StoragePath = e.StoragePath(a)
	key, err := e.sink.StoreTransformed(ctx, ta)
	if err != nil {
		ta.StoragePath = ""
		return ta, fail(span, err)
	}
	ta.StoragePath = key
	e.logger.Debug("Artifact reimplemented", "repo", a.Repository, "path", a.Path, "stored", key)
	return ta, nil
}
