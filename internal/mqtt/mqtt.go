// Package mqtt publishes position events and daemon lifecycle events, with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/ecu-timing/internal/engine"
)

// TopicEvents is the MQTT topic for position state transitions.
const TopicEvents = "ecu/timing/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "ecu/timing/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a position event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is a position transition stamped with wall-clock time.
type Event struct {
	Timestamp time.Time
	engine.Event
}

// SystemEvent represents a system lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Engine EnginePayload `json:"engine"`
}

// EnginePayload contains the position event details.
type EnginePayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Micros    uint32 `json:"micros"`
	Tooth     uint8  `json:"tooth"`
	RPM       uint16 `json:"rpm"`
	Phase     string `json:"phase"`
}

// FormatPayload creates the JSON payload for a position event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Engine: EnginePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Micros:    event.Micros,
			Tooth:     event.Tooth,
			RPM:       event.RPM,
			Phase:     event.Phase.String(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the payload for system events that carry no status
// snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the retained last-will message the broker publishes if the
// daemon disappears.
func WillPayload() []byte {
	data, _ := json.Marshal(SystemPayload{
		System: SystemPayloadInner{Event: "OFFLINE", Reason: "CONNECTION_LOST"},
	})
	return data
}
