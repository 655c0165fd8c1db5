// Package gpio captures trigger edges and drives actuator outputs with
// hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Line identifies a trigger input.
type Line int

const (
	LineCrank Line = iota
	LineCam
	LineVVT
)

func (l Line) String() string {
	switch l {
	case LineCrank:
		return "crank"
	case LineCam:
		return "cam"
	case LineVVT:
		return "vvt"
	default:
		return "unknown"
	}
}

// Edge is one captured transition.
type Edge struct {
	Line   Line
	Rising bool
	// Micros is the capture time on the timer clock.
	Micros uint32
}

// Clock returns the current time in µs on the timer clock.
type Clock func() uint32

// EdgeSource delivers captured edges in capture order.
type EdgeSource interface {
	// Edges returns the channel edges are delivered on. It is closed when
	// the source stops.
	Edges() <-chan Edge

	// Close releases capture resources.
	Close() error
}

// Outputs drives a bank of actuator lines.
type Outputs interface {
	// Set drives output channel ch on or off.
	Set(ch int, on bool) error

	// Close releases the lines, leaving them off.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinCrank = 17
	PinCam   = 27
	PinVVT   = 22
)

// EdgeBuffer is the capacity of capture channels.
const EdgeBuffer = 1024
