package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazz-dev/servwatch/internal/clock"
	"github.com/hazz-dev/servwatch/internal/config"
	"github.com/hazz-dev/servwatch/internal/event"
)

// Next returns the first occurrence of at, in now's location, strictly after now.
func Next(at config.TimeOfDay, now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, at.Hour, at.Minute, 0, 0, now.Location())
	}
	return next
}

// Controller restarts services.
type Controller interface {
	Restart(ctx context.Context, services []string) error
}

// Restarter restarts the managed services once a day at a fixed local time,
// regardless of health.
type Restarter struct {
	at       config.TimeOfDay
	services []string
	ctrl     Controller
	clock    clock.Clock
	task     *Task
	recorder *event.Recorder
	logger   *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	nextAt  time.Time
	stopped bool
	running sync.WaitGroup
}

// NewRestarter creates a Restarter. recorder may be nil. Pass nil logger to discard logs.
func NewRestarter(at config.TimeOfDay, services []string, ctrl Controller, clk clock.Clock, recorder *event.Recorder, logger *zap.Logger) *Restarter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Restarter{
		at:       at,
		services: services,
		ctrl:     ctrl,
		clock:    clk,
		task:     NewTask(clk),
		recorder: recorder,
		logger:   logger,
	}
}

// Start arms the timer for the next occurrence. It is non-blocking.
// Cancelling ctx does not interrupt a restart already in progress.
func (r *Restarter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = context.WithoutCancel(ctx)
	r.stopped = false
	r.arm()
}

// Stop cancels the pending restart and waits for one in flight to finish.
func (r *Restarter) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.nextAt = time.Time{}
	r.mu.Unlock()

	if r.task.Cancel() {
		r.logger.Info("scheduled restart cancelled")
	}
	r.running.Wait()
}

// NextAt returns the armed restart instant, or the zero time when stopped.
func (r *Restarter) NextAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextAt
}

// arm must be called with mu held.
func (r *Restarter) arm() {
	now := r.clock.Now()
	r.nextAt = Next(r.at, now)
	delay := r.nextAt.Sub(now)
	r.logger.Info("scheduled restart armed",
		zap.Time("at", r.nextAt),
		zap.Int64("wait_ms", delay.Milliseconds()),
	)
	r.task.Arm(delay, r.fire)
}

func (r *Restarter) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.running.Add(1)
	ctx := r.ctx
	r.mu.Unlock()
	defer r.running.Done()

	r.logger.Info("running scheduled restart", zap.Strings("services", r.services))
	ev := event.Event{Kind: event.KindScheduledRestart, Status: event.StatusOK, Detail: r.at.String()}
	if err := r.ctrl.Restart(ctx, r.services); err != nil {
		r.logger.Error("scheduled restart failed", zap.Error(err))
		ev.Status = event.StatusFailed
		ev.Error = err.Error()
	}
	r.recorder.Record(ctx, ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.arm()
	}
}
