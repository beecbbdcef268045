package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var epoch = time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

func mustNew(t *testing.T) *Queue[string] {
	t.Helper()
	q, err := New[string](epoch, epoch.Add(time.Hour), time.Second)
	if err != nil {
		t.Fatal("New:", err)
	}
	return q
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		interval time.Duration
		wantErr  error
		want     time.Duration
	}{
		{name: "valid", start: epoch, end: epoch.Add(time.Minute), interval: time.Second, want: time.Second},
		{name: "truncated", start: epoch, end: epoch.Add(time.Minute), interval: 1500 * time.Microsecond, want: time.Millisecond},
		{name: "start-equals-end", start: epoch, end: epoch, interval: time.Second, wantErr: ErrInvalidRange},
		{name: "start-after-end", start: epoch.Add(time.Second), end: epoch, interval: time.Second, wantErr: ErrInvalidRange},
		{name: "sub-millisecond", start: epoch, end: epoch.Add(time.Minute), interval: 999 * time.Microsecond, wantErr: ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New[int](tt.start, tt.end, tt.interval)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := q.Interval(); got != tt.want {
				t.Errorf("Interval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueue_PopDueOrdering(t *testing.T) {
	q := mustNew(t)
	for _, e := range []struct {
		name string
		due  time.Duration
	}{
		{"c", 2 * time.Second},
		{"a", 0},
		{"b", 0},
		{"d", 2 * time.Second},
	} {
		if err := q.Enqueue(e.name, epoch.Add(e.due)); err != nil {
			t.Fatal("Enqueue:", err)
		}
	}

	var got []string
	for e := range q.PopDue() {
		got = append(got, e)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("first step mismatch (-want +got):\n%s", diff)
	}
	if now, _ := q.Now(); !now.Equal(epoch) {
		t.Errorf("Now() = %v, want %v", now, epoch)
	}
	if next := q.PeekNext(); !next.Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("PeekNext() = %v, want %v", next, epoch.Add(2*time.Second))
	}

	got = nil
	for e := range q.PopDue() {
		got = append(got, e)
	}
	if diff := cmp.Diff([]string{"c", "d"}, got); diff != "" {
		t.Errorf("second step mismatch (-want +got):\n%s", diff)
	}
	if next := q.PeekNext(); !next.Equal(Never) {
		t.Errorf("PeekNext() on empty queue = %v, want Never", next)
	}
}

func TestQueue_EnqueueWhileDraining(t *testing.T) {
	q := mustNew(t)
	if err := q.Enqueue("first", epoch); err != nil {
		t.Fatal("Enqueue:", err)
	}

	var got []string
	for e := range q.PopDue() {
		got = append(got, e)
		if e == "first" {
			// Same instant: joins the current walk.
			if err := q.Enqueue("same-instant", epoch); err != nil {
				t.Fatal("Enqueue same instant:", err)
			}
			// Later instant: waits for the next walk.
			if err := q.Enqueue("later", epoch.Add(time.Second)); err != nil {
				t.Fatal("Enqueue later:", err)
			}
		}
	}
	if diff := cmp.Diff([]string{"first", "same-instant"}, got); diff != "" {
		t.Errorf("drained entries mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_EnqueuePastDue(t *testing.T) {
	q := mustNew(t)
	// Before the clock starts, anything goes.
	if err := q.Enqueue("x", epoch.Add(5*time.Second)); err != nil {
		t.Fatal("Enqueue:", err)
	}
	for range q.PopDue() {
	}
	err := q.Enqueue("y", epoch.Add(4*time.Second))
	if !errors.Is(err, ErrPastDue) {
		t.Errorf("Enqueue() in the past error = %v, want %v", err, ErrPastDue)
	}
	if err := q.Enqueue("z", epoch.Add(5*time.Second)); err != nil {
		t.Errorf("Enqueue() at the current instant: %v", err)
	}
}

func TestQueue_EmptyPopDoesNotAdvance(t *testing.T) {
	q := mustNew(t)
	for range q.PopDue() {
		t.Fatal("empty queue yielded an entry")
	}
	if _, err := q.Now(); !errors.Is(err, ErrClockNotStarted) {
		t.Errorf("Now() error = %v, want %v", err, ErrClockNotStarted)
	}
}

func TestQueue_BreakLeavesRemainder(t *testing.T) {
	q := mustNew(t)
	for _, name := range []string{"a", "b", "c"} {
		if err := q.Enqueue(name, epoch); err != nil {
			t.Fatal("Enqueue:", err)
		}
	}
	for range q.PopDue() {
		break
	}
	var got []string
	for e := range q.PopDue() {
		got = append(got, e)
	}
	if diff := cmp.Diff([]string{"b", "c"}, got); diff != "" {
		t.Errorf("remaining entries mismatch (-want +got):\n%s", diff)
	}
}

func TestQueue_Align(t *testing.T) {
	q, err := New[int](epoch, epoch.Add(time.Hour), 2*time.Second)
	if err != nil {
		t.Fatal("New:", err)
	}
	tests := []struct {
		in, want time.Duration
	}{
		{time.Millisecond, 2 * time.Second},
		{2 * time.Second, 2 * time.Second},
		{2*time.Second + time.Millisecond, 4 * time.Second},
		{5 * time.Second, 6 * time.Second},
		{10 * time.Second, 10 * time.Second},
		{500 * time.Microsecond, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := q.Align(tt.in); got != tt.want {
			t.Errorf("Align(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestQueue_DropWhile(t *testing.T) {
	q := mustNew(t)
	_ = q.Enqueue("stale-1", epoch)
	_ = q.Enqueue("live", epoch.Add(time.Second))
	_ = q.Enqueue("stale-2", epoch.Add(2*time.Second))

	stale := func(e string) bool { return e != "live" }
	if n := q.DropWhile(stale); n != 1 {
		t.Errorf("DropWhile() = %d, want 1", n)
	}
	if got, want := q.PeekNext(), epoch.Add(time.Second); !got.Equal(want) {
		t.Errorf("PeekNext() = %v, want %v", got, want)
	}
	// Entries behind a live head survive.
	if got := q.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}
