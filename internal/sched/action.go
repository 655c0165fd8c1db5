// Package sched fires actions at crank angles by converting them to
// absolute times on a compare timer.
package sched

// Kind tags what an action does to its output channel.
type Kind uint8

const (
	KindCustom Kind = iota
	KindInjectorOpen
	KindInjectorClose
	KindCoilCharge
	KindCoilFire
)

func (k Kind) String() string {
	switch k {
	case KindInjectorOpen:
		return "INJECTOR_OPEN"
	case KindInjectorClose:
		return "INJECTOR_CLOSE"
	case KindCoilCharge:
		return "COIL_CHARGE"
	case KindCoilFire:
		return "COIL_FIRE"
	default:
		return "CUSTOM"
	}
}

// Action is what runs when an event fires. When Fn is nil the scheduler's
// Actuator handles Kind.
type Action struct {
	Kind Kind
	Fn   func(channel uint8)
}

// Do returns an action handled by the Actuator.
func Do(kind Kind) Action {
	return Action{Kind: kind}
}

// Actuator drives physical outputs. Implementations run in timer context and
// must not block.
type Actuator interface {
	Actuate(kind Kind, channel uint8)
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(kind Kind, channel uint8)

// Actuate calls f.
func (f ActuatorFunc) Actuate(kind Kind, channel uint8) {
	f(kind, channel)
}

// ids pack a table slot in the low byte and a 24-bit generation above it,
// so an id stays invalid after its slot is reused. Zero is never issued.
func makeID(slot int, gen uint32) uint32 {
	return gen<<8 | uint32(slot)
}

func splitID(id uint32) (int, uint32) {
	return int(id & 0xFF), id >> 8
}

func nextGen(gen uint32) uint32 {
	gen = (gen + 1) & 0xFFFFFF
	if gen == 0 {
		gen = 1
	}
	return gen
}
