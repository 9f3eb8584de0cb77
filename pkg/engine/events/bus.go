// Package events carries pipeline events to in-process subscribers and, via
// forwarders, to NATS and Slack.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// Type names an event.
type Type string

const (
	TargetAdded        Type = "target-added"
	IngestionStarted   Type = "ingestion-started"
	FileProcessed      Type = "file-processed"
	IngestionCompleted Type = "ingestion-completed"
	IngestionFailed    Type = "ingestion-failed"
	CycleCompleted     Type = "cycle-completed"
)

// Event is one entry on the stream. Which fields are set depends on Type.
type Event struct {
	Seq        uint64                      `json:"seq"`
	Type       Type                        `json:"type"`
	Time       time.Time                   `json:"time"`
	RunID      string                      `json:"run_id,omitempty"`
	Repository string                      `json:"repository,omitempty"`
	Priority   artifact.Priority           `json:"priority,omitempty"`
	Path       string                      `json:"path,omitempty"`
	Outcome    artifact.Outcome            `json:"outcome,omitempty"`
	Error      string                      `json:"error,omitempty"`
	Transient  bool                        `json:"transient,omitempty"`
	Progress   *artifact.IngestionProgress `json:"progress,omitempty"`
	// Runs is set on CycleCompleted.
	Runs []artifact.IngestionProgress `json:"runs,omitempty"`
}

// Subscription is a buffered feed from a Bus.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the receive channel. It is closed on Unsubscribe or Bus.Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped counts events lost because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() { s.bus.remove(s) }

// Bus fans events out to subscribers without ever blocking the emitter.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	seq    atomic.Uint64
	now    func() time.Time
	closed bool
	logger *slog.Logger
}

// NewBus creates a bus. now stamps events and may be nil.
func NewBus(now func() time.Time, logger *slog.Logger) *Bus {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[*Subscription]struct{}), now: now, logger: logger}
}

// Subscribe registers a feed holding up to buffer undelivered events.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}

// Emit stamps ev and delivers it. Slow subscribers lose events rather than
// stall ingestion.
func (b *Bus) Emit(ev Event) Event {
	ev.Seq = b.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			if s.dropped.Add(1) == 1 {
				b.logger.Warn("Event subscriber is falling behind", "type", string(ev.Type))
			}
		}
	}
	return ev
}

// Close closes every subscription. Later Emits are no-ops for delivery.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.once.Do(func() { close(s.ch) })
		delete(b.subs, s)
	}
}

// Handler consumes one event.
type Handler func(ctx context.Context, ev Event) error

// Pump feeds sub into h until ctx is done or the subscription closes.
// Handler errors are logged and do not stop the pump.
func Pump(ctx context.Context, sub *Subscription, name string, logger *slog.Logger, h Handler) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := h(ctx, ev); err != nil {
				logger.Warn("Event handler failed", "handler", name, "type", string(ev.Type), "error", err)
			}
		}
	}
}
