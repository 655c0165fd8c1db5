package plan

import (
	"log"
	"sync/atomic"

	"github.com/sweeney/ecu-timing/internal/gpio"
	"github.com/sweeney/ecu-timing/internal/sched"
)

// Actuator maps scheduler actions onto an output bank. Injector n drives
// output n-1 and coil n drives output cylinders+n-1.
type Actuator struct {
	out       gpio.Outputs
	cylinders int
	failures  atomic.Uint32
}

// NewActuator creates an actuator for the given number of cylinders.
func NewActuator(out gpio.Outputs, cylinders int) *Actuator {
	return &Actuator{out: out, cylinders: cylinders}
}

// Output returns the output index and level for an action on cylinder ch.
func (a *Actuator) Output(kind sched.Kind, ch uint8) (int, bool, bool) {
	if ch == 0 || int(ch) > a.cylinders {
		return 0, false, false
	}
	n := int(ch) - 1
	switch kind {
	case sched.KindInjectorOpen:
		return n, true, true
	case sched.KindInjectorClose:
		return n, false, true
	case sched.KindCoilCharge:
		return a.cylinders + n, true, true
	case sched.KindCoilFire:
		return a.cylinders + n, false, true
	default:
		return 0, false, false
	}
}

// Actuate implements sched.Actuator.
func (a *Actuator) Actuate(kind sched.Kind, ch uint8) {
	idx, on, ok := a.Output(kind, ch)
	if !ok {
		return
	}
	if err := a.out.Set(idx, on); err != nil {
		a.failures.Add(1)
		log.Printf("output %d %s error: %v", idx, kind, err)
	}
}

// Failures returns how many output writes failed.
func (a *Actuator) Failures() uint32 {
	return a.failures.Load()
}

// Outputs returns how many output lines the actuator drives.
func (a *Actuator) Outputs() int {
	return 2 * a.cylinders
}
