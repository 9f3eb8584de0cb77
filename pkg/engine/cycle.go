package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/engine/events"
	"github.com/DrSkyle/codevet/pkg/engine/oracle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunCycle drains the current queue once and returns when every dequeued
// target has reached a terminal state. Per-file and per-repository failures
// are recorded in the returned runs, never returned as errors.
func (e *Engine) RunCycle(ctx context.Context) ([]artifact.IngestionProgress, error) {
	return e.runCycle(ctx, ctx)
}

// runCycle uses ctx for collaborator calls and pauses for the pacing
// sleeps, so Stop can cut a pause short without aborting an in-flight call.
func (e *Engine) runCycle(ctx, pauses context.Context) ([]artifact.IngestionProgress, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx, span := e.Tracer.Start(ctx, "Engine.RunCycle")
	defer span.End()

	batch := e.dequeueAll()
	span.SetAttributes(attribute.Int("queue.depth", len(batch)))
	e.Logger.Info("Cycle started", "targets", len(batch))

	var runs []artifact.IngestionProgress
	seen := make(map[string]bool, len(batch))
	for i, t := range batch {
		if e.stopped.Load() || ctx.Err() != nil {
			e.requeue(batch[i:])
			break
		}
		key := t.Key()
		if seen[key] || e.isActive(key) {
			e.Logger.Debug("Skipping duplicate target", "repo", key)
			continue
		}
		seen[key] = true

		runs = append(runs, e.ingestRepository(ctx, pauses, t))

		if err := e.clock.Sleep(pauses, e.pacing.RepoDelay); err != nil {
			e.requeue(batch[i+1:])
			break
		}
	}

	e.mu.Lock()
	e.cycles++
	e.mu.Unlock()
	e.bus.Emit(events.Event{Type: events.CycleCompleted, Runs: runs})
	e.Logger.Info("Cycle completed", "repositories", len(runs))

	if err := ctx.Err(); err != nil {
		return runs, err
	}
	return runs, nil
}

// ingestRepository runs one target through Pending, Ingesting and a
// terminal state, and returns the final record.
func (e *Engine) ingestRepository(ctx, pauses context.Context, t artifact.RepositoryTarget) artifact.IngestionProgress {
	key := t.Key()
	ctx, span := e.Tracer.Start(ctx, "Engine.ingestRepository", trace.WithAttributes(
		attribute.String("repository", key),
		attribute.String("priority", string(t.Priority)),
	))
	defer span.End()

	p := &artifact.IngestionProgress{
		RunID:      e.newID(),
		Repository: key,
		Priority:   t.Priority,
		Status:     artifact.StatusPending,
		Errors:     []string{},
		StartTime:  e.clock.Now(),
	}
	e.mu.Lock()
	e.active[key] = p
	p.Status = artifact.StatusIngesting
	e.mu.Unlock()

	log := e.Logger.With("repo", key, "run_id", p.RunID)
	log.Info("Ingestion started", "priority", string(t.Priority))
	e.limiter.Reset()
	e.bus.Emit(events.Event{Type: events.IngestionStarted, RunID: p.RunID, Repository: key, Priority: t.Priority})

	snap, err := e.fetcher.Fetch(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return e.finish(ctx, p, err)
	}
	if t.License == "" {
		t.License = snap.License
	}
	if t.Stars == 0 {
		t.Stars = snap.Stars
	}

	e.mu.Lock()
	p.FilesTotal = len(snap.Files)
	e.mu.Unlock()
	log.Info("Files fetched", "files", len(snap.Files), "license", t.License)

	for _, f := range snap.Files {
		if e.stopped.Load() {
			return e.finish(ctx, p, errStopped)
		}
		fo := e.processFile(ctx, t, f)

		e.mu.Lock()
		p.Record(fo)
		e.mu.Unlock()
		e.metrics.fileProcessed(ctx, fo.Outcome)

		if fo.Outcome == artifact.OutcomeError {
			log.Warn("File failed", "path", fo.Path, "error", fo.Error, "transient", fo.Transient)
		} else {
			log.Debug("File processed", "path", fo.Path, "outcome", string(fo.Outcome))
		}
		e.bus.Emit(events.Event{
			Type: events.FileProcessed, RunID: p.RunID, Repository: key,
			Path: fo.Path, Outcome: fo.Outcome, Error: fo.Error, Transient: fo.Transient,
		})

		// A cancelled pause means Stop; the loop head notices.
		_ = e.limiter.Wait(pauses)
	}
	return e.finish(ctx, p, nil)
}

// finish moves p from the active set to history and announces it.
func (e *Engine) finish(ctx context.Context, p *artifact.IngestionProgress, cause error) artifact.IngestionProgress {
	e.mu.Lock()
	if p.Status.Terminal() {
		final := p.Clone()
		e.mu.Unlock()
		return final
	}
	p.EndTime = e.clock.Now()
	if cause != nil {
		p.Status = artifact.StatusFailed
		p.Errors = append(p.Errors, cause.Error())
	} else {
		p.Status = artifact.StatusCompleted
	}
	delete(e.active, p.Repository)
	final := p.Clone()
	e.runs = append(e.runs, final)
	e.mu.Unlock()

	e.metrics.repositoryFinished(ctx, final.Status)
	ev := events.Event{RunID: final.RunID, Repository: final.Repository, Priority: final.Priority, Progress: &final}
	if cause != nil {
		ev.Type = events.IngestionFailed
		ev.Error = cause.Error()
		e.Logger.Error("Ingestion failed", "repo", final.Repository, "run_id", final.RunID,
			"error", cause, "error_class", errorClass(cause))
	} else {
		ev.Type = events.IngestionCompleted
		e.Logger.Info("Ingestion completed",
			"repo", final.Repository, "run_id", final.RunID,
			"files", final.FilesProcessed, "integrated", final.Integrated,
			"reimplemented", final.Reimplemented, "rejected", final.Rejected,
			"errors", len(final.Errors), "duration", final.Duration().String())
	}
	e.bus.Emit(ev)

	// The record is kept even when the cycle was cancelled mid-repository.
	if e.ledger != nil {
		if err := e.ledger.Append(context.WithoutCancel(ctx), final); err != nil {
			e.Logger.Warn("History append failed", "repo", final.Repository, "error", err)
		}
	}
	return final
}

// processFile takes one file to a terminal outcome. Nothing escapes: errors
// and panics become an error outcome.
func (e *Engine) processFile(ctx context.Context, t artifact.RepositoryTarget, f artifact.SourceFile) (fo artifact.FileOutcome) {
	ctx, span := e.Tracer.Start(ctx, "Engine.processFile", trace.WithAttributes(
		attribute.String("repository", t.Key()),
		attribute.String("path", f.Path),
	))
	defer span.End()
	defer e.recoverPanic(ctx, f.Path, &fo)

	a := artifact.FromSource(e.fetcher.Platform(), t, f)
	fo = artifact.FileOutcome{Path: a.Path}

	verdict, err := e.vetter.Vet(ctx, a)
	if err != nil {
		return failed(span, fo, err)
	}
	fo.Reasoning = verdict.Reasoning
	span.SetAttributes(attribute.String("recommendation", string(verdict.Recommendation)))

	switch verdict.Recommendation {
	case artifact.RecommendReject:
		fo.Outcome = artifact.OutcomeRejected
	case artifact.RecommendIntegrate:
		ia, err := e.transformer.Integrate(ctx, verdict)
		if err != nil {
			return failed(span, fo, err)
		}
		fo.Outcome = artifact.OutcomeIntegrated
		fo.StoragePath = ia.StoragePath
	case artifact.RecommendReimplement:
		ta, err := e.transformer.Reimplement(ctx, verdict)
		if err != nil {
			return failed(span, fo, err)
		}
		fo.Outcome = artifact.OutcomeReimplemented
		fo.StoragePath = ta.StoragePath
	default:
		return failed(span, fo, fmt.Errorf("unknown recommendation %q", verdict.Recommendation))
	}
	return fo
}

func failed(span trace.Span, fo artifact.FileOutcome, err error) artifact.FileOutcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	fo.Outcome = artifact.OutcomeError
	fo.Error = err.Error()
	class := errorClass(err)
	fo.Transient = class == "throttled" || class == "transient"
	span.SetAttributes(attribute.String("error.class", class))
	var oe *artifact.OracleError
	if errors.As(err, &oe) {
		span.SetAttributes(attribute.String("oracle.stage", oe.Stage))
	}
	return fo
}

// errorClass buckets a failure for logs and spans.
func errorClass(err error) string {
	var fe *artifact.FetchError
	switch {
	case oracle.IsThrottled(err):
		return "throttled"
	case oracle.IsTransient(err):
		return "transient"
	case errors.As(err, &fe) && fe.Transient:
		return "transient"
	case oracle.IsFatal(err):
		return "fatal"
	case artifact.IsFileLevel(err):
		return "file"
	case errors.As(err, &fe):
		return "fetch"
	default:
		return "internal"
	}
}
