package mqtt

import (
	"github.com/sweeney/ecu-timing/internal/engine"
)

// FakePublisher stands in for the broker connection. It formats every
// message the way RealPublisher would, so tests can inspect the exact
// payloads and retain flags that would reach ecu/timing/*.
type FakePublisher struct {
	// Events holds SYNC_LOCK, SYNC_LOSS, CAM_LOCK, CAM_LOSS and STALL
	// transitions in publish order.
	Events   []Event
	Payloads [][]byte

	// SystemEvents holds STARTUP, HEARTBEAT and SHUTDOWN messages.
	SystemEvents   []SystemEvent
	SystemPayloads [][]byte

	// PublishError and PublishSystemError simulate a broker failure. A failed
	// publish records nothing.
	PublishError       error
	PublishSystemError error

	Closed    bool
	Connected bool
}

// NewFakePublisher returns a disconnected fake.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish formats a position event and records it.
func (f *FakePublisher) Publish(event Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem formats a lifecycle event and records it.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// EventTypes lists the position transitions seen so far.
func (f *FakePublisher) EventTypes() []engine.EventType {
	types := make([]engine.EventType, len(f.Events))
	for i, e := range f.Events {
		types[i] = e.Type
	}
	return types
}

// LastPhase returns the cycle phase carried by the most recent position
// event, or "" when none was published.
func (f *FakePublisher) LastPhase() string {
	if len(f.Events) == 0 {
		return ""
	}
	return f.Events[len(f.Events)-1].Phase.String()
}

// SystemEventNames lists the lifecycle events seen so far.
func (f *FakePublisher) SystemEventNames() []string {
	names := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		names[i] = e.Event
	}
	return names
}
