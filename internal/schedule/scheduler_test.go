package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/foxseedlab/circles/internal/clock"
)

func TestSchedule_FiresWithArmedEpoch(t *testing.T) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(c)
	key := Key{CircleID: "c1", Subject: "host"}

	var got []int64
	s.Schedule(key, 3, time.Minute, func(_ context.Context, epoch int64) { got = append(got, epoch) })

	if epoch, ok := s.Pending(key); !ok || epoch != 3 {
		t.Fatalf("expected pending epoch 3, got %d (%v)", epoch, ok)
	}
	c.Advance(time.Minute)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("unexpected fires: %v", got)
	}
	if _, ok := s.Pending(key); ok {
		t.Fatal("fired task should no longer be pending")
	}
}

func TestSchedule_RearmReplacesPreviousTask(t *testing.T) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(c)
	key := Key{CircleID: "c1", Subject: "host"}

	var got []int64
	record := func(_ context.Context, epoch int64) { got = append(got, epoch) }
	s.Schedule(key, 1, 5*time.Minute, record)
	c.Advance(2 * time.Minute)
	s.Schedule(key, 2, 5*time.Minute, record)

	c.Advance(4 * time.Minute)
	if len(got) != 0 {
		t.Fatalf("replaced task fired: %v", got)
	}
	c.Advance(time.Minute)
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected only epoch 2 to fire, got %v", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no leftover timers, got %d", c.Pending())
	}
}

func TestCancel_PreventsFire(t *testing.T) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(c)
	key := Key{CircleID: "c1", Subject: "host"}
	fired := false
	s.Schedule(key, 1, time.Minute, func(context.Context, int64) { fired = true })

	if !s.Cancel(key) {
		t.Fatal("expected Cancel to find the task")
	}
	if s.Cancel(key) {
		t.Fatal("second Cancel should find nothing")
	}
	c.Advance(time.Hour)
	if fired {
		t.Fatal("cancelled task fired")
	}
}

func TestCancelCircle_StopsOnlyThatCircle(t *testing.T) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(c)
	fired := map[string]bool{}
	mark := func(name string) Func {
		return func(context.Context, int64) { fired[name] = true }
	}
	s.Schedule(Key{CircleID: "c1", Subject: "host"}, 1, time.Minute, mark("c1-host"))
	s.Schedule(Key{CircleID: "c1", Subject: "timeout"}, 0, time.Minute, mark("c1-timeout"))
	s.Schedule(Key{CircleID: "c2", Subject: "host"}, 1, time.Minute, mark("c2-host"))

	if n := s.CancelCircle("c1"); n != 2 {
		t.Fatalf("expected 2 cancelled tasks, got %d", n)
	}
	c.Advance(time.Minute)
	if fired["c1-host"] || fired["c1-timeout"] || !fired["c2-host"] {
		t.Fatalf("unexpected fires: %v", fired)
	}
}

func TestShutdown_DropsPendingAndRejectsNew(t *testing.T) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(c)
	fired := 0
	s.Schedule(Key{CircleID: "c1", Subject: "host"}, 1, time.Minute, func(context.Context, int64) { fired++ })

	s.Shutdown()
	s.Schedule(Key{CircleID: "c2", Subject: "host"}, 1, time.Minute, func(context.Context, int64) { fired++ })
	c.Advance(time.Hour)

	if fired != 0 {
		t.Fatalf("expected no fires after shutdown, got %d", fired)
	}
}

func TestFire_RecoversFromPanic(t *testing.T) {
	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(c)
	s.Schedule(Key{CircleID: "c1", Subject: "host"}, 1, time.Second, func(context.Context, int64) { panic("boom") })

	c.Advance(time.Second)

	s.Shutdown()
}
