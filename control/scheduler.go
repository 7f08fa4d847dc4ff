// Scheduler is a priority timer queue driving recurring background work
// (report flush, quota refresh, idle-shutdown checks) without assuming a
// dedicated goroutine is available to run it.
//
// A general-purpose container/heap priority queue of due times, so the
// Client facade can schedule arbitrary recurring actions rather than a
// single fixed job.
package control

import (
	"container/heap"
	"sync"
	"time"

	"encore.app/pkg/clock"
)

// Action is a unit of scheduled work.
type Action func()

type scheduledEvent struct {
	due      time.Time
	priority int
	seq      int64 // breaks ties between equal (due, priority) in insertion order
	action   Action
	index    int
}

type eventHeap []*scheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *eventHeap) Push(x any) {
	e := x.(*scheduledEvent)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler is safe for concurrent use. A single instance is normally
// driven by one dedicated goroutine calling Run(true) in a loop, but Run is
// re-entrant enough to also be called inline, non-blocking, from request
// paths when no goroutine could be spawned (the sandboxed-runtime fallback).
type Scheduler struct {
	mu      sync.Mutex
	heap    eventHeap
	ticker  clock.Ticker
	wake    chan struct{}
	seq     int64
	stopped bool
}

func NewScheduler(ticker clock.Ticker) *Scheduler {
	return &Scheduler{ticker: ticker, wake: make(chan struct{}, 1)}
}

// Enter schedules action to run no earlier than deltaMillis from now, with
// the given priority (lower values run first among events due at the same
// time).
func (s *Scheduler) Enter(action Action, deltaMillis int64, priority int) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.seq++
	due := s.ticker.Now().Add(time.Duration(deltaMillis) * time.Millisecond)
	heap.Push(&s.heap, &scheduledEvent{due: due, priority: priority, seq: s.seq, action: action})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drains due events. If block is true and the queue is non-empty but
// nothing is due yet, Run sleeps until the earliest event is due (or until
// a new, earlier event is entered) before running it. If block is false,
// Run runs every currently-due event and returns as soon as none remain.
func (s *Scheduler) Run(block bool) {
	for {
		s.mu.Lock()
		if s.stopped || s.heap.Len() == 0 {
			s.mu.Unlock()
			return
		}
		head := s.heap[0]
		now := s.ticker.Now()
		if head.due.After(now) {
			if !block {
				s.mu.Unlock()
				return
			}
			wait := head.due.Sub(now)
			s.mu.Unlock()
			select {
			case <-time.After(wait):
			case <-s.wake:
			}
			continue
		}
		heap.Pop(&s.heap)
		s.mu.Unlock()

		head.action()
	}
}

// Stop prevents further Enter calls from queuing work and wakes any blocked
// Run loop so it can return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
