// Package irq provides the critical-section primitive shared by edge
// handlers, timer callbacks and foreground code.
//
// On a microcontroller a critical section masks interrupts. Hosted builds
// run handlers on goroutines, so a mutex stands in for the mask.
package irq

import "sync"

// State is the interrupt state saved by Disable.
type State uintptr

// Mask enters and leaves a critical section.
type Mask interface {
	Disable() State
	Restore(State)
}

// Enter disables m and returns the function that restores it:
//
//	defer irq.Enter(m)()
func Enter(m Mask) func() {
	s := m.Disable()
	return func() { m.Restore(s) }
}

// Lock is the hosted Mask. The zero value is ready to use.
// Sections do not nest.
type Lock struct {
	mu sync.Mutex
}

// Disable acquires the lock.
func (l *Lock) Disable() State {
	l.mu.Lock()
	return 0
}

// Restore releases the lock.
func (l *Lock) Restore(State) {
	l.mu.Unlock()
}
