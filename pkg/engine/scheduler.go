package engine

import (
	"context"
)

// Start launches continuous mode: a cycle now, then one per CycleInterval
// until Stop or ctx is done. Targets added meanwhile wait for the next tick.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.loop != nil {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	pauses, cancel := context.WithCancel(ctx)
	st := &loopState{cancelPauses: cancel, done: make(chan struct{})}
	e.loop = st
	e.stopped.Store(false)
	e.mu.Unlock()

	ticker := e.clock.NewTicker(e.pacing.CycleInterval)
	e.Logger.Info("Continuous mode started", "interval", e.pacing.CycleInterval.String())

	go func() {
		defer close(st.done)
		defer ticker.Stop()
		for {
			if _, err := e.runCycle(ctx, pauses); err != nil && ctx.Err() == nil {
				e.Logger.Error("Cycle aborted", "error", err)
			}
			select {
			case <-pauses.Done():
				return
			case <-ticker.C():
			}
		}
	}()
	return nil
}

// Stop ends continuous mode. The in-flight collaborator call, if any, is
// allowed to finish; pauses are cut short. Stop blocks until the loop has
// exited and is a no-op when not running.
func (e *Engine) Stop() {
	e.mu.Lock()
	st := e.loop
	e.mu.Unlock()
	if st == nil {
		return
	}

	e.stopped.Store(true)
	st.cancelPauses()
	<-st.done

	e.mu.Lock()
	if e.loop == st {
		e.loop = nil
	}
	e.mu.Unlock()
	e.Logger.Info("Continuous mode stopped")
}

// Run is Start plus waiting for ctx, for use under an errgroup.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return nil
}

// Running reports whether continuous mode is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop != nil
}
