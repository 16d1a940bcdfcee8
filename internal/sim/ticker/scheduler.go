// Package ticker is the cooperative tick source engines register with.
//
// Callbacks run one after another on the goroutine calling Step (or Run).
// A callback may register or unregister listeners, including itself.
package ticker

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Handle uint64

type listener struct {
	fn    func(dt float64)
	every time.Duration
	// since accumulates wall time between invocations.
	since time.Duration
}

type Scheduler struct {
	mu        sync.Mutex
	next      Handle
	listeners map[Handle]*listener

	ticks uint64
}

func New() *Scheduler {
	return &Scheduler{listeners: map[Handle]*listener{}}
}

// Register adds fn, called at most once per step and no more often than
// every. A zero interval runs it on every step.
func (s *Scheduler) Register(fn func(dt float64), every time.Duration) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.listeners[s.next] = &listener{fn: fn, every: every}
	return s.next
}

func (s *Scheduler) Unregister(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, h)
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Step advances every listener by elapsed and runs those that are due, in
// registration order. Listeners removed during the step are not called.
func (s *Scheduler) Step(elapsed time.Duration) {
	s.mu.Lock()
	s.ticks++
	handles := make([]Handle, 0, len(s.listeners))
	for h := range s.listeners {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	for _, h := range handles {
		s.mu.Lock()
		l, ok := s.listeners[h]
		var due bool
		var dt time.Duration
		if ok {
			l.since += elapsed
			if l.since >= l.every {
				due = true
				dt = l.since
				l.since = 0
			}
		}
		s.mu.Unlock()
		if due {
			l.fn(dt.Seconds())
		}
	}
}

// Run steps the scheduler at the given rate until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Step(now.Sub(last))
			last = now
		}
	}
}
