package monitor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazz-dev/servwatch/internal/clock"
	"github.com/hazz-dev/servwatch/internal/event"
	"github.com/hazz-dev/servwatch/internal/monitor"
	"github.com/hazz-dev/servwatch/internal/probe"
)

// scriptedHealth returns statuses from a script, repeating the last one.
type scriptedHealth struct {
	mu       sync.Mutex
	script   []probe.HealthStatus
	calls    int
	inFlight int
	overlap  bool
	panicAt  int
}

func (s *scriptedHealth) Check(context.Context) probe.HealthResult {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > 1 {
		s.overlap = true
	}
	i := s.calls
	s.calls++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.panicAt > 0 && i+1 == s.panicAt {
		panic("probe exploded")
	}
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	st := s.script[i]
	r := probe.HealthResult{Status: st, Reported: string(st)}
	if st == probe.StatusError {
		r.Err = probe.ErrTransport
	}
	return r
}

func (s *scriptedHealth) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mockVersions struct {
	mu    sync.Mutex
	cmp   probe.Comparison
	err   error
	calls int
}

func (m *mockVersions) Compare(context.Context) (probe.Comparison, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.cmp, m.err
}

func (m *mockVersions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockController struct {
	mu         sync.Mutex
	updates    int
	restarts   int
	services   [][]string
	restartErr error
	updateErr  error
}

func (m *mockController) Update(_ context.Context, services []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.services = append(m.services, services)
	return m.updateErr
}

func (m *mockController) Restart(_ context.Context, services []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
	m.services = append(m.services, services)
	return m.restartErr
}

func (m *mockController) counts() (updates, restarts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates, m.restarts
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

func (m *mockStore) kinds() []event.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Kind
	for _, e := range m.events {
		out = append(out, e.Kind)
	}
	return out
}

var intervals = monitor.Intervals{
	StartupDelay:    5 * time.Minute,
	CheckInterval:   1000 * time.Millisecond,
	RestartInterval: 5 * time.Minute,
}

func upToDate() *mockVersions {
	return &mockVersions{cmp: probe.Comparison{Latest: 12344, Current: 12344}}
}

func TestTick_HealthyNoUpdate(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{H}}
	versions := upToDate()
	ctrl := &mockController{}
	m := monitor.New(health, versions, ctrl, nil, intervals, clock.Fake(time.Now()), nil, nil)

	next, state := m.Tick(context.Background())
	if next != intervals.CheckInterval || state != monitor.StateAwaitingNextCheck {
		t.Errorf("expected check interval wait, got %v %s", next, state)
	}
	if versions.count() != 1 {
		t.Errorf("expected version check, got %d", versions.count())
	}
	if u, r := ctrl.counts(); u != 0 || r != 0 {
		t.Errorf("expected no actions, got %d updates %d restarts", u, r)
	}
}

func TestTick_UpdateAvailable(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{H}}
	versions := &mockVersions{cmp: probe.Comparison{Latest: 12345, Current: 12344}}
	ctrl := &mockController{}
	store := &mockStore{}
	m := monitor.New(health, versions, ctrl, []string{"server"}, intervals, clock.Fake(time.Now()), event.NewRecorder(store, nil), nil)

	next, _ := m.Tick(context.Background())
	if next != intervals.CheckInterval {
		t.Errorf("expected check interval after update, got %v", next)
	}
	if u, r := ctrl.counts(); u != 1 || r != 0 {
		t.Errorf("expected one update, got %d updates %d restarts", u, r)
	}
	if got := ctrl.services[0]; len(got) != 1 || got[0] != "server" {
		t.Errorf("expected update of [server], got %v", got)
	}
	kinds := store.kinds()
	if len(kinds) != 3 || kinds[2] != event.KindUpdate {
		t.Errorf("expected health, version, update events, got %v", kinds)
	}
	snap := m.Snapshot()
	if snap.LatestBuild == nil || *snap.LatestBuild != 12345 {
		t.Errorf("expected latest build in snapshot, got %v", snap.LatestBuild)
	}
	if snap.LastAction != "update:ok" {
		t.Errorf("unexpected last action: %q", snap.LastAction)
	}
}

func TestTick_UnhealthyRestartsAndSkipsVersion(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{U}}
	versions := upToDate()
	ctrl := &mockController{}
	m := monitor.New(health, versions, ctrl, nil, intervals, clock.Fake(time.Now()), nil, nil)

	next, state := m.Tick(context.Background())
	if next != intervals.RestartInterval || state != monitor.StateAwaitingRestartRecovery {
		t.Errorf("expected restart interval wait, got %v %s", next, state)
	}
	if _, r := ctrl.counts(); r != 1 {
		t.Errorf("expected one restart, got %d", r)
	}
	if versions.count() != 0 {
		t.Errorf("expected version check to be skipped, got %d", versions.count())
	}
}

func TestTick_ErrorRestarts(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{E}}
	ctrl := &mockController{}
	m := monitor.New(health, upToDate(), ctrl, nil, intervals, clock.Fake(time.Now()), nil, nil)

	m.Tick(context.Background())
	if _, r := ctrl.counts(); r != 1 {
		t.Errorf("expected transport failure to restart, got %d restarts", r)
	}
	if snap := m.Snapshot(); snap.LastError == "" {
		t.Error("expected last error in snapshot")
	}
}

func TestTick_TwoSlowResultsRestart(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{H, S, S}}
	ctrl := &mockController{}
	m := monitor.New(health, upToDate(), ctrl, nil, intervals, clock.Fake(time.Now()), nil, nil)

	m.Tick(context.Background())
	m.Tick(context.Background())
	if _, r := ctrl.counts(); r != 0 {
		t.Fatalf("single slow result should be tolerated, got %d restarts", r)
	}
	if !m.Snapshot().LastCheckSlow {
		t.Error("expected slow flag after one slow result")
	}
	m.Tick(context.Background())
	if _, r := ctrl.counts(); r != 1 {
		t.Errorf("expected restart on second slow result, got %d", r)
	}
}

func TestTick_VersionErrorIsNotFatal(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{H}}
	versions := &mockVersions{err: errors.New("steam down")}
	ctrl := &mockController{}
	m := monitor.New(health, versions, ctrl, nil, intervals, clock.Fake(time.Now()), nil, nil)

	next, _ := m.Tick(context.Background())
	if next != intervals.CheckInterval {
		t.Errorf("expected normal wait after version error, got %v", next)
	}
	if u, r := ctrl.counts(); u != 0 || r != 0 {
		t.Errorf("expected no action, got %d updates %d restarts", u, r)
	}
}

func TestTick_ControllerErrorIsNotFatal(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{U}}
	ctrl := &mockController{restartErr: errors.New("compose failed")}
	store := &mockStore{}
	m := monitor.New(health, upToDate(), ctrl, nil, intervals, clock.Fake(time.Now()), event.NewRecorder(store, nil), nil)

	next, _ := m.Tick(context.Background())
	if next != intervals.RestartInterval {
		t.Errorf("expected restart interval after failed restart, got %v", next)
	}
	if m.Snapshot().LastAction != "restart:failed" {
		t.Errorf("unexpected last action: %q", m.Snapshot().LastAction)
	}
}

func TestTick_RecoversPanic(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{H}, panicAt: 1}
	m := monitor.New(health, upToDate(), &mockController{}, nil, intervals, clock.Fake(time.Now()), nil, nil)

	next, _ := m.Tick(context.Background())
	if next != intervals.CheckInterval {
		t.Errorf("expected check interval after panic, got %v", next)
	}
}

type panickingController struct{}

func (panickingController) Update(context.Context, []string) error {
	panic("update exploded")
}

func (panickingController) Restart(context.Context, []string) error {
	panic("restart exploded")
}

func TestTick_RestartPanicKeepsRecoveryWait(t *testing.T) {
	health := &scriptedHealth{script: []probe.HealthStatus{U}}
	m := monitor.New(health, upToDate(), panickingController{}, nil, intervals, clock.Fake(time.Now()), nil, nil)

	next, state := m.Tick(context.Background())
	if next != intervals.RestartInterval || state != monitor.StateAwaitingRestartRecovery {
		t.Errorf("expected restart recovery wait after panicking restart, got %v %s", next, state)
	}
}

func runMonitor(t *testing.T, m *monitor.Monitor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRun_WaitsBetweenTicks(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	health := &scriptedHealth{script: []probe.HealthStatus{H}}
	m := monitor.New(health, upToDate(), &mockController{}, nil, intervals, clk, nil, nil)
	cancel, done := runMonitor(t, m)

	clk.WaitForTimers(1)
	if health.count() != 0 {
		t.Fatalf("expected no check during startup delay, got %d", health.count())
	}
	if m.Snapshot().State != monitor.StateStarting {
		t.Errorf("expected starting state, got %s", m.Snapshot().State)
	}

	clk.Advance(intervals.StartupDelay)
	clk.WaitForTimers(1)
	if health.count() != 1 {
		t.Fatalf("expected first check after startup delay, got %d", health.count())
	}
	if m.Snapshot().State != monitor.StateAwaitingNextCheck {
		t.Errorf("expected awaiting next check, got %s", m.Snapshot().State)
	}

	clk.Advance(999 * time.Millisecond)
	if health.count() != 1 {
		t.Fatalf("expected no check before 1000ms elapsed, got %d", health.count())
	}

	clk.Advance(time.Millisecond)
	clk.WaitForTimers(1)
	if health.count() != 2 {
		t.Fatalf("expected second check at 1000ms, got %d", health.count())
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	if health.overlap {
		t.Error("health checks overlapped")
	}
}

func TestRun_RestartUsesRestartInterval(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	health := &scriptedHealth{script: []probe.HealthStatus{U, H}}
	ctrl := &mockController{}
	m := monitor.New(health, upToDate(), ctrl, nil, intervals, clk, nil, nil)
	runMonitor(t, m)

	clk.WaitForTimers(1)
	clk.Advance(intervals.StartupDelay)
	clk.WaitForTimers(1)
	if m.Snapshot().State != monitor.StateAwaitingRestartRecovery {
		t.Errorf("expected awaiting restart recovery, got %s", m.Snapshot().State)
	}

	// The normal check interval must not trigger a recheck after a restart.
	clk.Advance(intervals.CheckInterval)
	if health.count() != 1 {
		t.Fatalf("expected recheck to wait for restart interval, got %d checks", health.count())
	}

	clk.Advance(intervals.RestartInterval - intervals.CheckInterval)
	clk.WaitForTimers(1)
	if health.count() != 2 {
		t.Errorf("expected recheck after restart interval, got %d", health.count())
	}
	if _, r := ctrl.counts(); r != 1 {
		t.Errorf("expected exactly one restart, got %d", r)
	}
}

func TestRun_ShutdownDuringWait(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	health := &scriptedHealth{script: []probe.HealthStatus{H}}
	m := monitor.New(health, upToDate(), &mockController{}, nil, intervals, clk, nil, nil)
	cancel, done := runMonitor(t, m)

	clk.WaitForTimers(1)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
	if health.count() != 0 {
		t.Errorf("expected no health check after shutdown, got %d", health.count())
	}
	if m.Snapshot().State != monitor.StateStopped {
		t.Errorf("expected stopped state, got %s", m.Snapshot().State)
	}
}

func TestRun_ShutdownBetweenTicks(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	health := &scriptedHealth{script: []probe.HealthStatus{H}}
	m := monitor.New(health, upToDate(), &mockController{}, nil, intervals, clk, nil, nil)
	cancel, done := runMonitor(t, m)

	clk.WaitForTimers(1)
	clk.Advance(intervals.StartupDelay)
	clk.WaitForTimers(1)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
	if health.count() != 1 {
		t.Errorf("expected exactly one check, got %d", health.count())
	}
}
