// Package timer is a cooperative timer service advanced by its owner's loop.
//
// Callbacks run synchronously inside Advance on the caller's goroutine, so an
// event loop that owns a Wheel never races its own timers.
package timer

import (
	"sort"
	"time"
)

// Handle identifies one scheduled entry. The zero Handle never matches.
type Handle uint64

// Func is invoked with the deadline that fired.
type Func func(now time.Time)

type entry struct {
	id       Handle
	deadline time.Time
	interval time.Duration
	fn       Func
	seq      uint64
}

// Wheel holds one-shot and interval timers.
type Wheel struct {
	clock   func() time.Time
	entries map[Handle]*entry
	nextID  Handle
	seq     uint64
}

// New returns a wheel reading time from clock; nil means time.Now.
func New(clock func() time.Time) *Wheel {
	if clock == nil {
		clock = time.Now
	}
	return &Wheel{
		clock:   clock,
		entries: make(map[Handle]*entry),
	}
}

// Schedule registers fn to run once delay has elapsed. A positive interval
// re-arms the entry at deadline+interval after every firing.
func (w *Wheel) Schedule(delay, interval time.Duration, fn Func) Handle {
	if delay < 0 {
		delay = 0
	}
	w.nextID++
	w.seq++
	e := &entry{
		id:       w.nextID,
		deadline: w.clock().Add(delay),
		interval: interval,
		fn:       fn,
		seq:      w.seq,
	}
	w.entries[e.id] = e
	return e.id
}

// After is Schedule with no interval.
func (w *Wheel) After(delay time.Duration, fn Func) Handle {
	return w.Schedule(delay, 0, fn)
}

// Every is Schedule with the first firing one interval from now.
func (w *Wheel) Every(interval time.Duration, fn Func) Handle {
	return w.Schedule(interval, interval, fn)
}

// Cancel removes h. Cancelling an unknown or already-fired handle is a no-op.
func (w *Wheel) Cancel(h Handle) bool {
	if _, ok := w.entries[h]; !ok {
		return false
	}
	delete(w.entries, h)
	return true
}

func (w *Wheel) Pending(h Handle) bool {
	_, ok := w.entries[h]
	return ok
}

func (w *Wheel) Len() int {
	return len(w.entries)
}

// Next returns the earliest deadline.
func (w *Wheel) Next() (time.Time, bool) {
	var out time.Time
	found := false
	for _, e := range w.entries {
		if !found || e.deadline.Before(out) {
			out = e.deadline
			found = true
		}
	}
	return out, found
}

// Advance fires every entry whose deadline is at or before now, in deadline
// order, and returns how many callbacks ran. An interval entry that fell more
// than one interval behind fires once and is re-armed from now. Entries scheduled or cancelled
// by a callback take effect within the same call.
func (w *Wheel) Advance(now time.Time) int {
	fired := 0
	for {
		e := w.earliestDue(now)
		if e == nil {
			return fired
		}
		deadline := e.deadline
		if e.interval > 0 {
			// a whole interval missed: fire once and re-arm from now
			next := deadline.Add(e.interval)
			if !next.After(now) {
				next = now.Add(e.interval)
			}
			e.deadline = next
			w.seq++
			e.seq = w.seq
		} else {
			delete(w.entries, e.id)
		}
		fired++
		e.fn(deadline)
	}
}

func (w *Wheel) earliestDue(now time.Time) *entry {
	due := make([]*entry, 0, 4)
	for _, e := range w.entries {
		if !e.deadline.After(now) {
			due = append(due, e)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].deadline.Equal(due[j].deadline) {
			return due[i].deadline.Before(due[j].deadline)
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

// Clear drops every entry.
func (w *Wheel) Clear() {
	clear(w.entries)
}
