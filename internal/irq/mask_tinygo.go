//go:build tinygo

package irq

import "runtime/interrupt"

// CPU masks interrupts on the running core.
type CPU struct{}

// Disable masks interrupts and returns the previous state.
func (CPU) Disable() State {
	return State(interrupt.Disable())
}

// Restore puts back the state returned by Disable.
func (CPU) Restore(s State) {
	interrupt.Restore(interrupt.State(s))
}
