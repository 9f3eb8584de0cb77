package engine

import (
	"context"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	files metric.Int64Counter
	repos metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	files, err := m.Int64Counter("codevet.files.processed",
		metric.WithDescription("Files that reached a terminal outcome"))
	if err != nil {
		return nil, err
	}
	repos, err := m.Int64Counter("codevet.repositories.finished",
		metric.WithDescription("Repository runs that reached a terminal status"))
	if err != nil {
		return nil, err
	}
	return &metrics{files: files, repos: repos}, nil
}

func (m *metrics) fileProcessed(ctx context.Context, o artifact.Outcome) {
	m.files.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(o))))
}

func (m *metrics) repositoryFinished(ctx context.Context, s artifact.Status) {
	m.repos.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(s))))
}
