package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/ecu-timing/internal/engine"
	"github.com/sweeney/ecu-timing/internal/phase"
)

var ts = time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)

func syncLock() Event {
	return Event{
		Timestamp: ts,
		Event: engine.Event{
			Type:   engine.EventSyncLock,
			Micros: 123456,
			Tooth:  0,
			RPM:    812,
			Phase:  phase.PhaseUnknown,
		},
	}
}

func TestFormatPayload(t *testing.T) {
	data, err := FormatPayload(syncLock())
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	want := `{"engine":{"timestamp":"2026-01-01T12:30:00Z","event":"SYNC_LOCK","micros":123456,"tooth":0,"rpm":812,"phase":"UNKNOWN"}}`
	if string(data) != want {
		t.Errorf("payload:\n got %s\nwant %s", data, want)
	}
}

func TestFormatPayloadAllEventTypes(t *testing.T) {
	for _, typ := range []engine.EventType{
		engine.EventSyncLock,
		engine.EventSyncLoss,
		engine.EventCamLock,
		engine.EventCamLoss,
		engine.EventStall,
	} {
		ev := syncLock()
		ev.Type = typ
		data, err := FormatPayload(ev)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}

		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("%s: unmarshal: %v", typ, err)
		}
		if p.Engine.Event != string(typ) {
			t.Errorf("event: got %q, want %q", p.Engine.Event, typ)
		}
	}
}

func TestFormatPayloadPhase(t *testing.T) {
	ev := syncLock()
	ev.Type = engine.EventCamLock
	ev.Phase = phase.PhaseSecond360

	data, _ := FormatPayload(ev)
	var p Payload
	json.Unmarshal(data, &p)
	if p.Engine.Phase != "SECOND_360" {
		t.Errorf("phase: got %q, want SECOND_360", p.Engine.Phase)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ev := syncLock()
	ev.Timestamp = time.Date(2026, 1, 1, 14, 30, 0, 0, loc)

	data, _ := FormatPayload(ev)
	var p Payload
	json.Unmarshal(data, &p)
	if p.Engine.Timestamp != "2026-01-01T12:30:00Z" {
		t.Errorf("timestamp: got %q, want UTC", p.Engine.Timestamp)
	}
}

func TestFormatSystemPayload(t *testing.T) {
	data, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "SHUTDOWN", Reason: "SIGTERM"})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := `{"system":{"timestamp":"2026-01-01T12:30:00Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(data) != want {
		t.Errorf("payload:\n got %s\nwant %s", data, want)
	}
}

func TestFormatSystemPayloadOmitsReason(t *testing.T) {
	data, _ := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "STARTUP"})
	want := `{"system":{"timestamp":"2026-01-01T12:30:00Z","event":"STARTUP"}}`
	if string(data) != want {
		t.Errorf("payload:\n got %s\nwant %s", data, want)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	data, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if string(data) != string(raw) {
		t.Errorf("got %s, want raw payload", data)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	want := `{"system":{"event":"OFFLINE","reason":"CONNECTION_LOST"}}`
	if got := string(WillPayload()); got != want {
		t.Errorf("will:\n got %s\nwant %s", got, want)
	}
}

func TestTopics(t *testing.T) {
	if TopicEvents != "ecu/timing/events" {
		t.Errorf("events topic: got %q", TopicEvents)
	}
	if TopicSystem != "ecu/timing/system" {
		t.Errorf("system topic: got %q", TopicSystem)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(syncLock()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Timestamp: ts, Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("publish system: %v", err)
	}

	if len(f.Events) != 1 || f.Events[0].Type != engine.EventSyncLock {
		t.Errorf("events: got %+v", f.Events)
	}
	if len(f.Payloads) != 1 {
		t.Errorf("payloads: got %d, want 1", len(f.Payloads))
	}
	if names := f.SystemEventNames(); len(names) != 1 || names[0] != "STARTUP" {
		t.Errorf("system events: got %v", names)
	}
	if !f.SystemEvents[0].Retained {
		t.Error("retained flag not recorded")
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	f.PublishSystemError = errors.New("broker down")

	if err := f.Publish(syncLock()); err == nil {
		t.Error("expected publish error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected publish system error")
	}
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherClose(t *testing.T) {
	f := NewFakePublisher()
	f.Close()
	if !f.Closed {
		t.Error("expected Closed")
	}
}

func TestFakePublisherEventTypes(t *testing.T) {
	f := NewFakePublisher()
	if got := f.LastPhase(); got != "" {
		t.Errorf("last phase with no events: got %q, want empty", got)
	}

	f.Publish(syncLock())
	cam := syncLock()
	cam.Type = engine.EventCamLock
	cam.Phase = phase.PhaseFirst360
	f.Publish(cam)

	types := f.EventTypes()
	if len(types) != 2 || types[0] != engine.EventSyncLock || types[1] != engine.EventCamLock {
		t.Errorf("event types: got %v, want [SYNC_LOCK CAM_LOCK]", types)
	}
	if got := f.LastPhase(); got != "FIRST_360" {
		t.Errorf("last phase: got %q, want FIRST_360", got)
	}
}
