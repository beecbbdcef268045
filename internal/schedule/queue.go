// Package schedule implements the discrete-event queue that drives simulated
// time: a min-heap of entries keyed by due time, guarded by a mutex so entries
// can be enqueued while the current instant is being drained.
package schedule

import (
	"container/heap"
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"
	"time"
)

// Never is the due time reported by an empty queue. It mirrors the maximum
// timestamp most platforms can represent, which keeps it comparable with
// ordinary end times.
var Never = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)

var (
	// ErrInvalidRange is returned by New when the simulation window or
	// interval is unusable.
	ErrInvalidRange = errors.New("invalid simulation range")
	// ErrPastDue is returned by Enqueue when the due time precedes the clock.
	ErrPastDue = errors.New("due time precedes simulation clock")
	// ErrClockNotStarted is returned by Now before the first PopDue call has
	// fixed the clock.
	ErrClockNotStarted = errors.New("simulation clock has not started")
)

// A Queue orders entries of type E by due time. Entries due at the same
// instant are yielded in the order they were enqueued.
//
// A Queue is safe for concurrent use.
type Queue[E any] struct {
	start, end time.Time
	interval   time.Duration

	mu      sync.Mutex
	entries entryHeap[E]
	seq     uint64
	now     time.Time
	started bool
}

// New returns an empty queue for a simulation running from start (inclusive)
// to end (exclusive) with the given step interval. The interval is truncated to
// whole milliseconds.
func New[E any](start, end time.Time, interval time.Duration) (*Queue[E], error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start %v is not before end %v", ErrInvalidRange, start, end)
	}
	interval = interval.Truncate(time.Millisecond)
	if interval < time.Millisecond {
		return nil, fmt.Errorf("%w: interval must be at least 1ms", ErrInvalidRange)
	}
	return &Queue[E]{start: start, end: end, interval: interval}, nil
}

// Start returns the first simulated instant.
func (q *Queue[E]) Start() time.Time { return q.start }

// End returns the exclusive end of the simulation window.
func (q *Queue[E]) End() time.Time { return q.end }

// Interval returns the simulated time between steps.
func (q *Queue[E]) Interval() time.Duration { return q.interval }

// Enqueue schedules e at the given due time. Once the clock has started, due
// must not precede it.
func (q *Queue[E]) Enqueue(e E, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started && due.Before(q.now) {
		return fmt.Errorf("%w: due %v, clock %v", ErrPastDue, due, q.now)
	}
	heap.Push(&q.entries, item[E]{entry: e, due: due, seq: q.seq})
	q.seq++
	return nil
}

// PopDue fixes the clock to the earliest pending due time and returns a
// sequence of every entry due at that instant, removing each entry as it is
// yielded. The head is re-examined on every iteration, so entries enqueued for
// the same instant while the sequence is being consumed are yielded as well.
//
// If the queue is empty, the clock is left untouched and the sequence is empty.
func (q *Queue[E]) PopDue() iter.Seq[E] {
	q.mu.Lock()
	if q.entries.Len() == 0 {
		q.mu.Unlock()
		return func(func(E) bool) {}
	}
	now := q.entries[0].due
	q.now, q.started = now, true
	q.mu.Unlock()

	return func(yield func(E) bool) {
		for {
			e, ok := q.popAt(now)
			if !ok {
				return
			}
			if !yield(e) {
				return
			}
		}
	}
}

func (q *Queue[E]) popAt(now time.Time) (e E, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entries.Len() == 0 || q.entries[0].due.After(now) {
		return e, false
	}
	return heap.Pop(&q.entries).(item[E]).entry, true
}

// DropWhile removes entries from the head of the queue for as long as stale
// reports true, and returns how many were removed. Entries behind the first
// live one are left in place.
func (q *Queue[E]) DropWhile(stale func(E) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for q.entries.Len() > 0 && stale(q.entries[0].entry) {
		heap.Pop(&q.entries)
		n++
	}
	return n
}

// PeekNext returns the earliest pending due time, or Never if the queue is
// empty.
func (q *Queue[E]) PeekNext() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entries.Len() == 0 {
		return Never
	}
	return q.entries[0].due
}

// Len returns the number of pending entries.
func (q *Queue[E]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Now returns the clock value fixed by the latest PopDue call.
func (q *Queue[E]) Now() (time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return time.Time{}, ErrClockNotStarted
	}
	return q.now, nil
}

// Align rounds d up to a whole multiple of the interval, using millisecond
// arithmetic. Any positive d yields at least one interval, so a re-scheduled
// entry never lands on the instant being processed.
func (q *Queue[E]) Align(d time.Duration) time.Duration {
	requested := d.Milliseconds()
	step := q.interval.Milliseconds()
	count := requested / step
	if requested%step > 0 {
		count++
	}
	if count < 1 {
		count = 1
	}
	if count > math.MaxInt64/int64(q.interval) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(count) * q.interval
}

type item[E any] struct {
	entry E
	due   time.Time
	seq   uint64
}

type entryHeap[E any] []item[E]

func (h entryHeap[E]) Len() int { return len(h) }

func (h entryHeap[E]) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h entryHeap[E]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap[E]) Push(x any) { *h = append(*h, x.(item[E])) }

func (h *entryHeap[E]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	var zero item[E]
	old[n-1] = zero
	*h = old[:n-1]
	return it
}
