package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// FakeSource is a test double that delivers scripted edges.
type FakeSource struct {
	ch chan Edge

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeSource creates a FakeSource that has already queued edges. The
// channel is closed after the last edge.
func NewFakeSource(edges []Edge) *FakeSource {
	ch := make(chan Edge, len(edges))
	for _, e := range edges {
		ch <- e
	}
	close(ch)
	return &FakeSource{ch: ch}
}

// Edges returns the scripted edges.
func (f *FakeSource) Edges() <-chan Edge {
	return f.ch
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// OutputChange is one recorded Set call.
type OutputChange struct {
	Channel int
	On      bool
}

// FakeOutputs records output changes.
type FakeOutputs struct {
	mu sync.Mutex

	// Channels is the number of valid outputs.
	Channels int

	// Changes contains every successful Set call in order.
	Changes []OutputChange

	// SetError, if set, will be returned by Set()
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeOutputs creates a FakeOutputs with n channels.
func NewFakeOutputs(n int) *FakeOutputs {
	return &FakeOutputs{Channels: n}
}

// Set records the change.
func (f *FakeOutputs) Set(ch int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	if ch < 0 || ch >= f.Channels {
		return fmt.Errorf("output %d out of range", ch)
	}
	if f.Closed {
		return errors.New("outputs closed")
	}
	f.Changes = append(f.Changes, OutputChange{Channel: ch, On: on})
	return nil
}

// Recorded returns a copy of the recorded changes.
func (f *FakeOutputs) Recorded() []OutputChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OutputChange(nil), f.Changes...)
}

// Close marks the outputs as closed.
func (f *FakeOutputs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
