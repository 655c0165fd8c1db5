// Package timer provides one-shot compare timers on a wrapping microsecond
// clock.
//
// A Service hands out a fixed pool of compare channels. Callbacks run in the
// timer's own context and must not block.
package timer

import "errors"

// Handle identifies an armed compare channel.
type Handle int

// NoHandle is returned alongside an error.
const NoHandle Handle = -1

// DefaultChannels is the compare channel count of the reference target.
const DefaultChannels = 8

// LateThresholdUs is how late a callback may run before it counts as late.
const LateThresholdUs = 100

var (
	// ErrNoChannel is returned when every compare channel is armed.
	ErrNoChannel = errors.New("timer: no free compare channel")
	// ErrNilCallback is returned when Schedule is given no callback.
	ErrNilCallback = errors.New("timer: nil callback")
)

// Service schedules callbacks at absolute times.
type Service interface {
	// Schedule arms a channel to run fn at the absolute time at (µs).
	// Times already in the past fire as soon as possible.
	Schedule(at uint32, fn func()) (Handle, error)
	// Cancel disarms h. It returns false if h already fired or was never armed.
	Cancel(h Handle) bool
	// Now returns the current time in µs.
	Now() uint32
}

// Stats are the counters of a Service implementation.
type Stats struct {
	Scheduled uint32
	Fired     uint32
	Late      uint32
	Cancelled uint32
	Armed     int
}

// Until returns the signed distance from now to at, valid across counter
// wrap for distances under 2^31 µs.
func Until(now, at uint32) int32 {
	return int32(at - now)
}

// Due reports whether at has been reached at now.
func Due(now, at uint32) bool {
	return Until(now, at) <= 0
}
