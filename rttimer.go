package workbench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
)

// An rtTimer fires from its own goroutine until cancelled. done is closed once
// the goroutine has exited.
type rtTimer struct {
	name     string
	typ      TimerType
	interval time.Duration
	handler  TimerHandler
	owner    *instanceRegistration

	cancel context.CancelFunc
	done   chan struct{}
}

// timerSet holds the active timers of a workbench by name, and counts every
// timer goroutine still running, including those already removed from the
// set. It is safe for concurrent use.
type timerSet struct {
	mu      sync.Mutex
	m       map[string]*rtTimer
	closed  bool
	running sync.WaitGroup
}

func (s *timerSet) add(t *rtTimer) (TimerActionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return FailedInternalError, fmt.Errorf("start timer %s: %w", t.name, ErrClosed)
	}
	if _, ok := s.m[t.name]; ok {
		return FailedTimerAlreadyExists, nil
	}
	if s.m == nil {
		s.m = make(map[string]*rtTimer)
	}
	s.m[t.name] = t
	// Counted under the lock, so no goroutine is added once drain has closed
	// the set.
	s.running.Add(1)
	return Success, nil
}

func (s *timerSet) remove(name string) (*rtTimer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[name]
	if ok {
		delete(s.m, name)
	}
	return t, ok
}

// removeIf forgets t, unless its name has been reused since.
func (s *timerSet) removeIf(t *rtTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[t.name] == t {
		delete(s.m, t.name)
	}
}

// cancelOwned cancels and forgets the timers of owner without waiting for
// them.
func (s *timerSet) cancelOwned(owner *instanceRegistration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.m {
		if t.owner == owner {
			t.cancel()
			delete(s.m, name)
		}
	}
}

// wait blocks until every timer goroutine has exited.
func (s *timerSet) wait() { s.running.Wait() }

// drain closes the set and returns every timer it held.
func (s *timerSet) drain() []*rtTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	timers := make([]*rtTimer, 0, len(s.m))
	for _, t := range s.m {
		timers = append(timers, t)
	}
	s.m = nil
	return timers
}

func (w *RealTimeWorkbench) startTimer(owner *instanceRegistration, name string, interval time.Duration, typ TimerType, h TimerHandler) (TimerActionResult, error) {
	if err := validateTimer(name, interval, typ, h); err != nil {
		return FailedInternalError, err
	}
	ctx, cancel := context.WithCancel(w.base)
	t := &rtTimer{
		name:     name,
		typ:      typ,
		interval: interval,
		handler:  h,
		owner:    owner,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if res, err := w.timers.add(t); res != Success {
		cancel()
		return res, err
	}
	go w.run(ctx, t)
	return Success, nil
}

// stopTimer cancels the timer and waits for its goroutine to exit, unless the
// timer is the one whose callback is running on this call chain.
func (w *RealTimeWorkbench) stopTimer(name string, chain *rtTimer) TimerActionResult {
	t, ok := w.timers.remove(name)
	if !ok {
		return FailedNoSuchTimer
	}
	t.cancel()
	if t != chain {
		<-t.done
	}
	return Success
}

func (w *RealTimeWorkbench) run(ctx context.Context, t *rtTimer) {
	defer w.timers.running.Done()
	defer close(t.done)
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// Cancellation may race with the timer firing.
		if ctx.Err() != nil {
			return
		}
		if t.typ == OneTime {
			// Forgotten before the callback runs, so the callback may start
			// a timer under the same name. Close still waits for it through
			// the running count.
			w.timers.removeIf(t)
			w.fire(ctx, t)
			return
		}
		w.fire(ctx, t)
		timer.Reset(t.interval)
	}
}

// fire invokes the timer callback, logging rather than returning its failures.
func (w *RealTimeWorkbench) fire(ctx context.Context, t *rtTimer) {
	logger := component.Logger(ctx).With(
		slog.String("timer", t.name),
		slog.String("model", t.owner.model.name),
		slog.String("twin", t.owner.id()),
	)
	defer func() {
		if r := recover(); r != nil {
			recordTimerFiring(ctx, t.owner.model.name, false)
			logger.Error("Timer callback panicked", slog.Any("panic", r))
		}
	}()

	pc := w.newContext(ctx, t.owner, 0, t)
	_, err := t.handler(pc, t.name, t.owner.twin)
	recordTimerFiring(ctx, t.owner.model.name, err == nil)
	if err != nil {
		logger.Error("Timer callback failed", slog.Any("error", err))
	}
}
