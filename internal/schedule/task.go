package schedule

import (
	"sync"
	"time"

	"github.com/hazz-dev/servwatch/internal/clock"
)

// Task is a one-shot timer that can be re-armed and cancelled.
type Task struct {
	clock clock.Clock
	mu    sync.Mutex
	timer *clock.Timer
}

// NewTask creates an idle Task.
func NewTask(c clock.Clock) *Task {
	return &Task{clock: c}
}

// Arm schedules fn to run after d, replacing any pending call.
func (t *Task) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.AfterFunc(d, fn)
}

// Cancel stops the pending call. It reports whether a call was pending.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return false
	}
	stopped := t.timer.Stop()
	t.timer = nil
	return stopped
}
