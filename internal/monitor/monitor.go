package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazz-dev/servwatch/internal/clock"
	"github.com/hazz-dev/servwatch/internal/event"
	"github.com/hazz-dev/servwatch/internal/probe"
)

// HealthChecker performs a single health check.
type HealthChecker interface {
	Check(ctx context.Context) probe.HealthResult
}

// VersionChecker compares installed and published builds.
type VersionChecker interface {
	Compare(ctx context.Context) (probe.Comparison, error)
}

// Controller changes the state of the managed services.
type Controller interface {
	Update(ctx context.Context, services []string) error
	Restart(ctx context.Context, services []string) error
}

// State is the monitor loop's position in its cycle.
type State string

const (
	StateStarting                State = "starting"
	StateChecking                State = "checking"
	StateAwaitingRestartRecovery State = "awaiting_restart_recovery"
	StateAwaitingNextCheck       State = "awaiting_next_check"
	StateStopped                 State = "stopped"
)

// Intervals holds the loop timing.
type Intervals struct {
	StartupDelay    time.Duration
	CheckInterval   time.Duration
	RestartInterval time.Duration
}

// Snapshot is a point-in-time view of the monitor for status reporting.
type Snapshot struct {
	State         State              `json:"state"`
	LastStatus    probe.HealthStatus `json:"last_status"`
	LastReported  string             `json:"last_reported"`
	LastError     string             `json:"last_error"`
	LastCheckedAt *time.Time         `json:"last_checked_at"`
	LastCheckSlow bool               `json:"last_check_slow"`
	LatestBuild   *probe.BuildID     `json:"latest_build"`
	CurrentBuild  *probe.BuildID     `json:"current_build"`
	LastAction    string             `json:"last_action"`
	LastActionAt  *time.Time         `json:"last_action_at"`
	NextCheckAt   *time.Time         `json:"next_check_at"`
	Services      []string           `json:"services"`
}

// Monitor runs the health and update loop for one game server.
type Monitor struct {
	health    HealthChecker
	versions  VersionChecker
	ctrl      Controller
	services  []string
	intervals Intervals
	clock     clock.Clock
	recorder  *event.Recorder
	logger    *zap.Logger

	// hysteresis is only touched by the goroutine running Run.
	hysteresis Hysteresis

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a Monitor. recorder may be nil. Pass nil logger to discard logs.
func New(health HealthChecker, versions VersionChecker, ctrl Controller, services []string, intervals Intervals, clk clock.Clock, recorder *event.Recorder, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Monitor{
		health:    health,
		versions:  versions,
		ctrl:      ctrl,
		services:  services,
		intervals: intervals,
		clock:     clk,
		recorder:  recorder,
		logger:    logger,
		snap: Snapshot{
			State:    StateStarting,
			Services: services,
		},
	}
}

// Run blocks until ctx is cancelled. It waits the startup delay, then checks
// health, restarts or updates as needed, and waits before the next check.
// Cancellation interrupts a pending wait immediately; a check or service
// action already in progress runs to completion.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.setState(StateStopped)

	m.logger.Info("monitor started", zap.Duration("startup_delay", m.intervals.StartupDelay))
	if !m.wait(ctx, m.intervals.StartupDelay) {
		m.logger.Info("monitor stopped before first check")
		return nil
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		next, state := m.Tick(context.WithoutCancel(ctx))
		m.setState(state)
		if !m.wait(ctx, next) {
			m.logger.Info("monitor stopped")
			return nil
		}
	}
}

// Tick runs one check cycle and returns the wait before the next one along
// with the state the loop waits in. It never fails; errors are logged.
func (m *Monitor) Tick(ctx context.Context) (next time.Duration, state State) {
	m.setState(StateChecking)
	next, state = m.intervals.CheckInterval, StateAwaitingNextCheck

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick panicked", zap.Any("panic", r))
		}
	}()

	if !m.checkHealth(ctx) {
		next, state = m.intervals.RestartInterval, StateAwaitingRestartRecovery
		m.restart(ctx)
		m.logger.Info("restarted services, waiting before next check",
			zap.Duration("wait", m.intervals.RestartInterval))
		return next, state
	}

	m.checkVersion(ctx)
	return next, state
}

// Snapshot returns the current status view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snap
	s.Services = append([]string(nil), m.snap.Services...)
	return s
}

func (m *Monitor) checkHealth(ctx context.Context) bool {
	result := m.health.Check(ctx)
	verdict := m.hysteresis.Observe(result.Status)

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.String("verdict", string(verdict)),
		zap.Duration("response_time", result.ResponseTime),
	}
	switch result.Status {
	case probe.StatusHealthy:
		m.logger.Info("health check passed", fields...)
	case probe.StatusSlow:
		if verdict == probe.StatusUnhealthy {
			m.logger.Warn("too many slow health checks, restarting", fields...)
		} else {
			m.logger.Warn("health check slow", fields...)
		}
	default:
		if result.Err != nil {
			fields = append(fields, zap.Error(result.Err))
		}
		if result.Body != "" {
			fields = append(fields, zap.String("body", result.Body))
		}
		m.logger.Warn("health check failed", fields...)
	}

	ev := event.Event{
		Kind:       event.KindHealth,
		Status:     string(result.Status),
		Detail:     string(verdict),
		OccurredAt: result.CheckedAt,
	}
	if result.Err != nil {
		ev.Error = result.Err.Error()
	}
	m.recorder.Record(ctx, ev)

	now := m.clock.Now()
	m.mu.Lock()
	m.snap.LastStatus = result.Status
	m.snap.LastReported = result.Reported
	m.snap.LastError = ev.Error
	m.snap.LastCheckedAt = &now
	m.snap.LastCheckSlow = m.hysteresis.Slow()
	m.mu.Unlock()

	return verdict == probe.StatusHealthy
}

func (m *Monitor) checkVersion(ctx context.Context) {
	cmp, err := m.versions.Compare(ctx)

	m.mu.Lock()
	if cmp.Latest != 0 {
		latest := cmp.Latest
		m.snap.LatestBuild = &latest
	}
	if err == nil {
		current := cmp.Current
		m.snap.CurrentBuild = &current
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("update check failed, skipping update this cycle", zap.Error(err))
		m.recorder.Record(ctx, event.Event{Kind: event.KindVersion, Status: event.StatusFailed, Error: err.Error()})
		return
	}

	detail := fmt.Sprintf("latest=%s current=%s", cmp.Latest, cmp.Current)
	m.logger.Info("build ids",
		zap.Stringer("latest", cmp.Latest),
		zap.Stringer("current", cmp.Current),
		zap.Bool("update_needed", cmp.UpdateAvailable()),
	)
	m.recorder.Record(ctx, event.Event{Kind: event.KindVersion, Status: event.StatusOK, Detail: detail})

	if !cmp.UpdateAvailable() {
		return
	}

	ev := event.Event{Kind: event.KindUpdate, Status: event.StatusOK, Detail: detail}
	if err := m.ctrl.Update(ctx, m.services); err != nil {
		m.logger.Error("update failed", zap.Error(err))
		ev.Status = event.StatusFailed
		ev.Error = err.Error()
	}
	m.recorder.Record(ctx, ev)
	m.setAction(ev)
}

func (m *Monitor) restart(ctx context.Context) {
	ev := event.Event{Kind: event.KindRestart, Status: event.StatusOK}
	if err := m.ctrl.Restart(ctx, m.services); err != nil {
		m.logger.Error("restart failed", zap.Error(err))
		ev.Status = event.StatusFailed
		ev.Error = err.Error()
	}
	m.recorder.Record(ctx, ev)
	m.setAction(ev)
}

// wait blocks for d or until ctx is cancelled. It reports whether the full
// duration elapsed.
func (m *Monitor) wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	at := m.clock.Now().Add(d)
	m.mu.Lock()
	m.snap.NextCheckAt = &at
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return false
	case <-m.clock.After(d):
		return true
	}
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.snap.State = s
	if s == StateStopped || s == StateChecking {
		m.snap.NextCheckAt = nil
	}
	m.mu.Unlock()
}

func (m *Monitor) setAction(ev event.Event) {
	now := m.clock.Now()
	m.mu.Lock()
	m.snap.LastAction = string(ev.Kind) + ":" + ev.Status
	m.snap.LastActionAt = &now
	m.mu.Unlock()
}
