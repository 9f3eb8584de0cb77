package engine

import (
	"sort"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/engine/events"
)

// AddRepository appends t to the queue. It never interrupts a running
// cycle: the target is picked up by the next one. Re-adding a finished
// target forces a re-run; duplicates inside one cycle are skipped.
func (e *Engine) AddRepository(t artifact.RepositoryTarget) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Priority == "" {
		t.Priority = artifact.PriorityMedium
	}
	t.Files = append([]string(nil), t.Files...)
	t.Focus = append([]string(nil), t.Focus...)

	e.mu.Lock()
	e.queue = append(e.queue, t)
	depth := len(e.queue)
	e.mu.Unlock()

	e.Logger.Info("Repository queued", "repo", t.Key(), "priority", string(t.Priority), "queue_depth", depth)
	e.bus.Emit(events.Event{Type: events.TargetAdded, Repository: t.Key(), Priority: t.Priority})
	return nil
}

// dequeueAll takes the whole queue in visiting order: priority first,
// insertion order within a priority.
func (e *Engine) dequeueAll() []artifact.RepositoryTarget {
	e.mu.Lock()
	batch := e.queue
	e.queue = nil
	e.mu.Unlock()

	sortByPriority(batch)
	return batch
}

// requeue puts unvisited targets back in front of anything added since.
func (e *Engine) requeue(rest []artifact.RepositoryTarget) {
	if len(rest) == 0 {
		return
	}
	e.mu.Lock()
	e.queue = append(append([]artifact.RepositoryTarget(nil), rest...), e.queue...)
	e.mu.Unlock()
}

func sortByPriority(ts []artifact.RepositoryTarget) {
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].Priority.Rank() < ts[j].Priority.Rank()
	})
}

// isActive reports whether key is being ingested right now.
func (e *Engine) isActive(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[key]
	return ok
}
