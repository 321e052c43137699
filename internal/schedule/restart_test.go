package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazz-dev/servwatch/internal/clock"
	"github.com/hazz-dev/servwatch/internal/config"
	"github.com/hazz-dev/servwatch/internal/event"
	"github.com/hazz-dev/servwatch/internal/schedule"
)

type mockController struct {
	mu       sync.Mutex
	restarts [][]string
	at       []time.Time
	clock    clock.Clock
	err      error
}

func (m *mockController) Restart(_ context.Context, services []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, services)
	if m.clock != nil {
		m.at = append(m.at, m.clock.Now())
	}
	return m.err
}

func (m *mockController) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.restarts)
}

type mockStore struct {
	mu     sync.Mutex
	events []event.Event
}

func (m *mockStore) InsertEvent(_ context.Context, e event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func local(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.Local)
}

func TestNext(t *testing.T) {
	at := config.TimeOfDay{Hour: 3, Minute: 0}
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", local(2, 0), local(3, 0)},
		{"already passed", local(4, 0), local(3, 0).AddDate(0, 0, 1)},
		{"exactly now", local(3, 0), local(3, 0).AddDate(0, 0, 1)},
		{"one second before", local(3, 0).Add(-time.Second), local(3, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := schedule.Next(at, tt.now); !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestNext_MonthRollover(t *testing.T) {
	now := time.Date(2026, 1, 31, 23, 30, 0, 0, time.UTC)
	got := schedule.Next(config.TimeOfDay{Hour: 0, Minute: 15}, now)
	want := time.Date(2026, 2, 1, 0, 15, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestRestarter_FiresAtScheduleAndRearms(t *testing.T) {
	clk := clock.Fake(local(2, 0))
	ctrl := &mockController{clock: clk}
	store := &mockStore{}
	r := schedule.NewRestarter(config.TimeOfDay{Hour: 3}, []string{"server"}, ctrl, clk, event.NewRecorder(store, nil), nil)

	r.Start(context.Background())
	defer r.Stop()

	if got := r.NextAt(); !got.Equal(local(3, 0)) {
		t.Fatalf("expected first restart at 03:00, got %v", got)
	}

	clk.Advance(3600000*time.Millisecond - time.Millisecond)
	if ctrl.count() != 0 {
		t.Fatalf("restart fired early")
	}

	clk.Advance(time.Millisecond)
	if ctrl.count() != 1 {
		t.Fatalf("expected exactly one restart after 3600000ms, got %d", ctrl.count())
	}
	if !ctrl.at[0].Equal(local(3, 0)) {
		t.Errorf("expected restart at 03:00, got %v", ctrl.at[0])
	}
	if len(ctrl.restarts[0]) != 1 || ctrl.restarts[0][0] != "server" {
		t.Errorf("unexpected services: %v", ctrl.restarts[0])
	}

	next := r.NextAt()
	if want := local(3, 0).AddDate(0, 0, 1); !next.Equal(want) {
		t.Errorf("expected re-arm for %v, got %v", want, next)
	}
	if clk.Pending() != 1 {
		t.Errorf("expected one pending timer, got %d", clk.Pending())
	}

	clk.Advance(24 * time.Hour)
	if ctrl.count() != 2 {
		t.Errorf("expected second restart a day later, got %d", ctrl.count())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 2 || store.events[0].Kind != event.KindScheduledRestart {
		t.Errorf("unexpected events: %+v", store.events)
	}
}

func TestRestarter_FailureStillRearms(t *testing.T) {
	clk := clock.Fake(local(2, 59))
	ctrl := &mockController{err: errors.New("compose down")}
	store := &mockStore{}
	r := schedule.NewRestarter(config.TimeOfDay{Hour: 3}, nil, ctrl, clk, event.NewRecorder(store, nil), nil)

	r.Start(context.Background())
	defer r.Stop()

	clk.Advance(time.Minute)
	if ctrl.count() != 1 {
		t.Fatalf("expected one restart attempt, got %d", ctrl.count())
	}
	if clk.Pending() != 1 {
		t.Errorf("expected re-armed timer after failure, got %d pending", clk.Pending())
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 1 || store.events[0].Status != event.StatusFailed {
		t.Errorf("expected a failed event, got %+v", store.events)
	}
}

func TestRestarter_StopCancelsPending(t *testing.T) {
	clk := clock.Fake(local(2, 0))
	ctrl := &mockController{}
	r := schedule.NewRestarter(config.TimeOfDay{Hour: 3}, nil, ctrl, clk, nil, nil)

	r.Start(context.Background())
	r.Stop()

	if clk.Pending() != 0 {
		t.Errorf("expected no pending timers after Stop, got %d", clk.Pending())
	}
	if !r.NextAt().IsZero() {
		t.Errorf("expected zero NextAt after Stop, got %v", r.NextAt())
	}

	clk.Advance(48 * time.Hour)
	if ctrl.count() != 0 {
		t.Errorf("expected no restarts after Stop, got %d", ctrl.count())
	}
}

func TestTask_ArmReplacesPending(t *testing.T) {
	clk := clock.Fake(local(0, 0))
	task := schedule.NewTask(clk)

	var fired []string
	task.Arm(time.Minute, func() { fired = append(fired, "first") })
	task.Arm(2*time.Minute, func() { fired = append(fired, "second") })

	clk.Advance(5 * time.Minute)
	if len(fired) != 1 || fired[0] != "second" {
		t.Errorf("expected only the replacement to fire, got %v", fired)
	}
	if task.Cancel() {
		t.Error("expected Cancel after fire to report false")
	}
}
