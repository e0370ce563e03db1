// Package schedule owns the deferred tasks of the circle core. A task is
// identified by a Key and stamped with an epoch; arming a key again stops
// the previous timer, so at most one task per key is ever pending.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/circles/internal/clock"
)

type Key struct {
	CircleID string
	Subject  string
}

// Func runs when a task fires. It receives the epoch the task was armed
// with.
type Func func(ctx context.Context, epoch int64)

type task struct {
	epoch int64
	timer clock.Timer
}

type Scheduler struct {
	clock  clock.Clock
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[Key]*task
	closed bool
	wg     sync.WaitGroup
}

func New(c clock.Clock) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:  c,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[Key]*task),
	}
}

// Schedule arms fn to run after d, replacing any task pending for key.
func (s *Scheduler) Schedule(key Key, epoch int64, d time.Duration, fn Func) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Warn("scheduler closed; dropping task", "circle_id", key.CircleID, "subject", key.Subject)
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
		delete(s.tasks, key)
	}
	t := &task{epoch: epoch}
	s.tasks[key] = t
	s.mu.Unlock()

	timer := s.clock.AfterFunc(d, func() { s.fire(key, t, fn) })

	s.mu.Lock()
	if s.tasks[key] == t {
		t.timer = timer
	} else {
		timer.Stop()
	}
	s.mu.Unlock()
}

// Cancel stops the task pending for key and reports whether one existed.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(s.tasks, key)
	return true
}

// CancelCircle stops every task belonging to circleID.
func (s *Scheduler) CancelCircle(circleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, t := range s.tasks {
		if key.CircleID != circleID {
			continue
		}
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(s.tasks, key)
		n++
	}
	return n
}

// Pending returns the epoch armed for key.
func (s *Scheduler) Pending(key Key) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return 0, false
	}
	return t.epoch, true
}

// Shutdown stops all pending tasks and waits for running ones.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for key, t := range s.tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) fire(key Key, t *task, fn Func) {
	s.mu.Lock()
	if s.tasks[key] != t {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, key)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled task panicked", "circle_id", key.CircleID, "subject", key.Subject, "panic", r)
		}
	}()
	fn(s.ctx, t.epoch)
}
