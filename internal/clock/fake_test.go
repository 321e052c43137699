package clock_test

import (
	"testing"
	"time"

	"github.com/hazz-dev/servwatch/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	c := clock.Fake(epoch)
	ch := c.After(time.Second)

	c.Advance(999 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Millisecond)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(time.Second)) {
			t.Errorf("expected fire time %v, got %v", epoch.Add(time.Second), got)
		}
	default:
		t.Fatal("expected channel to fire at deadline")
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFake_AfterNonPositiveFiresImmediately(t *testing.T) {
	c := clock.Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("expected immediate fire for zero duration")
	}
}

func TestFake_AfterFuncCanReschedule(t *testing.T) {
	c := clock.Fake(epoch)
	var fired []time.Time
	var schedule func()
	schedule = func() {
		c.AfterFunc(time.Hour, func() {
			fired = append(fired, c.Now())
			schedule()
		})
	}
	schedule()

	c.Advance(3 * time.Hour)
	if len(fired) != 3 {
		t.Fatalf("expected 3 fires, got %d", len(fired))
	}
	for i, f := range fired {
		want := epoch.Add(time.Duration(i+1) * time.Hour)
		if !f.Equal(want) {
			t.Errorf("fire %d: expected %v, got %v", i, want, f)
		}
	}
	if c.Pending() != 1 {
		t.Errorf("expected the rescheduled timer to be pending, got %d", c.Pending())
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := clock.Fake(epoch)
	called := false
	timer := c.AfterFunc(time.Minute, func() { called = true })

	if !timer.Stop() {
		t.Error("expected Stop to report an active timer")
	}
	if timer.Stop() {
		t.Error("expected second Stop to report false")
	}
	c.Advance(time.Hour)
	if called {
		t.Error("stopped timer fired")
	}
}

func TestFake_WaitForTimers(t *testing.T) {
	c := clock.Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not observe the fake timer")
	}
}
