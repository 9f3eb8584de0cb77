package engine

import (
	"context"
	"sort"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Running bool `json:"running"`
	Cycles  int  `json:"cycles"`
	// FileDelay is the current per-file pause after throttling feedback.
	FileDelay time.Duration                `json:"file_delay"`
	Queue     []artifact.RepositoryTarget  `json:"queue"`
	Active    []artifact.IngestionProgress `json:"active"`
	History   []artifact.IngestionProgress `json:"history"`
}

// Status snapshots the queue in visiting order, the active runs and this
// process's finished runs.
func (e *Engine) Status() Status {
	running := e.Running()
	delay := e.limiter.Delay()

	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Running:   running,
		FileDelay: delay,
		Cycles:    e.cycles,
		Queue:     append([]artifact.RepositoryTarget{}, e.queue...),
		Active:    make([]artifact.IngestionProgress, 0, len(e.active)),
		History:   make([]artifact.IngestionProgress, 0, len(e.runs)),
	}
	sortByPriority(s.Queue)
	for _, p := range e.active {
		s.Active = append(s.Active, p.Clone())
	}
	sort.Slice(s.Active, func(i, j int) bool { return s.Active[i].Repository < s.Active[j].Repository })
	for i := range e.runs {
		s.History = append(s.History, e.runs[i].Clone())
	}
	return s
}

// History returns the last n finished runs, oldest first. It reads the
// persistent ledger when one is configured, otherwise this process's runs.
func (e *Engine) History(ctx context.Context, n int) ([]artifact.IngestionProgress, error) {
	if e.ledger != nil {
		return e.ledger.Load(ctx, n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	runs := e.runs
	if n > 0 && len(runs) > n {
		runs = runs[len(runs)-n:]
	}
	out := make([]artifact.IngestionProgress, len(runs))
	for i := range runs {
		out[i] = runs[i].Clone()
	}
	return out, nil
}
