//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(pinCrank, pinCam, pinVVT int, clock Clock) (*RealSource, error) {
	return nil, errUnsupported
}

// Edges returns nil on non-Linux platforms.
func (s *RealSource) Edges() <-chan Edge {
	return nil
}

// Dropped always returns 0.
func (s *RealSource) Dropped() uint32 {
	return 0
}

// Close is not implemented on non-Linux platforms.
func (s *RealSource) Close() error {
	return nil
}

// RealOutputs is not available on non-Linux platforms.
type RealOutputs struct{}

// NewRealOutputs returns an error on non-Linux platforms.
func NewRealOutputs(pins []int) (*RealOutputs, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *RealOutputs) Set(ch int, on bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutputs) Close() error {
	return nil
}
