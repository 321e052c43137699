// Package event defines the records the daemon emits for every health
// classification, version comparison and service action.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies what produced an event.
type Kind string

const (
	KindHealth           Kind = "health"
	KindVersion          Kind = "version"
	KindRestart          Kind = "restart"
	KindUpdate           Kind = "update"
	KindScheduledRestart Kind = "scheduled_restart"
)

// IsAction reports whether the kind represents a change to running services.
func (k Kind) IsAction() bool {
	switch k {
	case KindRestart, KindUpdate, KindScheduledRestart:
		return true
	}
	return false
}

// Status values for action events. Health events carry the health status.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Event is a single journal entry.
type Event struct {
	Kind       Kind
	Status     string
	Detail     string
	Error      string
	OccurredAt time.Time
}

// Store persists events.
type Store interface {
	InsertEvent(ctx context.Context, e Event) error
}

// Recorder forwards events to an optional Store and an optional callback.
// A nil *Recorder discards everything.
type Recorder struct {
	store   Store
	logger  *zap.Logger
	mu      sync.RWMutex
	onEvent func(Event)
}

// NewRecorder creates a Recorder. store may be nil. Pass nil logger to discard logs.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// SetOnEvent sets the callback invoked after each recorded event.
func (r *Recorder) SetOnEvent(fn func(Event)) {
	r.mu.Lock()
	r.onEvent = fn
	r.mu.Unlock()
}

// Record stores e and passes it to the callback. Storage failures are logged.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if r.store != nil {
		if err := r.store.InsertEvent(ctx, e); err != nil {
			r.logger.Error("storing event", zap.String("kind", string(e.Kind)), zap.Error(err))
		}
	}
	r.mu.RLock()
	fn := r.onEvent
	r.mu.RUnlock()
	if fn != nil {
		fn(e)
	}
}
