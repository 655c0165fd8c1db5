// Package faults turns trigger diagnostics counters into set/clear fault
// transitions and stores them in Redis.
package faults

import (
	"log"

	"github.com/sweeney/ecu-timing/internal/trigger"
)

// Transition is a fault becoming present or absent.
type Transition struct {
	Fault   trigger.ErrorType
	Code    int
	Present bool
	// Delta is how many new occurrences were counted in the window that set
	// the fault. Zero on clear.
	Delta uint32
}

// Store persists fault transitions.
type Store interface {
	Report(t Transition) error
	Close() error
}

// Code returns the numeric fault code of e, 1-based in reporting order.
// Unknown types return 0.
func Code(e trigger.ErrorType) int {
	for i, t := range trigger.ErrorTypes {
		if t == e {
			return i + 1
		}
	}
	return 0
}

// Delta returns the per-fault increase from prev to cur. A counter lower than
// before means the counters were cleared; its full value counts as new.
func Delta(prev, cur trigger.DiagStats) map[trigger.ErrorType]uint32 {
	out := make(map[trigger.ErrorType]uint32)
	for _, e := range trigger.ErrorTypes {
		p, c := prev.Count(e), cur.Count(e)
		d := c - p
		if c < p {
			d = c
		}
		if d > 0 {
			out[e] = d
		}
	}
	return out
}

// Monitor tracks which faults are present. A fault is present while its
// counter keeps rising between updates and clears after an update with no
// new occurrences. Not safe for concurrent use.
type Monitor struct {
	store   Store
	last    trigger.DiagStats
	present map[trigger.ErrorType]bool
}

// NewMonitor creates a monitor reporting to store. A nil store only tracks.
func NewMonitor(store Store) *Monitor {
	return &Monitor{store: store, present: make(map[trigger.ErrorType]bool)}
}

// Update compares cur with the previous counters and returns the
// transitions, in reporting order. Each is also sent to the store.
func (m *Monitor) Update(cur trigger.DiagStats) []Transition {
	delta := Delta(m.last, cur)
	m.last = cur

	var out []Transition
	for _, e := range trigger.ErrorTypes {
		d := delta[e]
		now := d > 0
		if now == m.present[e] {
			continue
		}
		m.present[e] = now
		out = append(out, Transition{Fault: e, Code: Code(e), Present: now, Delta: d})
	}

	if m.store != nil {
		for _, t := range out {
			if err := m.store.Report(t); err != nil {
				log.Printf("fault report error: %v", err)
			}
		}
	}
	return out
}

// Present returns the faults currently set, in reporting order.
func (m *Monitor) Present() []trigger.ErrorType {
	var out []trigger.ErrorType
	for _, e := range trigger.ErrorTypes {
		if m.present[e] {
			out = append(out, e)
		}
	}
	return out
}
