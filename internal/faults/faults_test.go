package faults

import (
	"errors"
	"testing"

	"github.com/sweeney/ecu-timing/internal/trigger"
)

type fakeStore struct {
	reported []Transition
	err      error
	closed   bool
}

func (f *fakeStore) Report(t Transition) error {
	f.reported = append(f.reported, t)
	return f.err
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func TestCode(t *testing.T) {
	if got := Code(trigger.ErrorJitter); got != 1 {
		t.Errorf("jitter: got %d, want 1", got)
	}
	if got := Code(trigger.ErrorRPMJump); got != 6 {
		t.Errorf("rpm jump: got %d, want 6", got)
	}
	if got := Code(trigger.ErrorNone); got != 0 {
		t.Errorf("none: got %d, want 0", got)
	}
}

func TestDelta(t *testing.T) {
	prev := trigger.DiagStats{Noise: 2, SyncLoss: 1}
	cur := trigger.DiagStats{Noise: 5, SyncLoss: 1, Jitter: 1}

	d := Delta(prev, cur)
	if len(d) != 2 {
		t.Fatalf("delta: got %v, want 2 entries", d)
	}
	if d[trigger.ErrorNoise] != 3 {
		t.Errorf("noise: got %d, want 3", d[trigger.ErrorNoise])
	}
	if d[trigger.ErrorJitter] != 1 {
		t.Errorf("jitter: got %d, want 1", d[trigger.ErrorJitter])
	}
}

func TestDeltaAfterClear(t *testing.T) {
	d := Delta(trigger.DiagStats{Noise: 9}, trigger.DiagStats{Noise: 2})
	if d[trigger.ErrorNoise] != 2 {
		t.Errorf("noise: got %d, want 2", d[trigger.ErrorNoise])
	}

	if d := Delta(trigger.DiagStats{Noise: 9}, trigger.DiagStats{}); len(d) != 0 {
		t.Errorf("cleared to zero: got %v, want none", d)
	}
}

func TestMonitorSetAndClear(t *testing.T) {
	store := &fakeStore{}
	m := NewMonitor(store)

	got := m.Update(trigger.DiagStats{Noise: 2, MissingTooth: 1})
	if len(got) != 2 {
		t.Fatalf("transitions: got %+v, want 2", got)
	}
	if got[0].Fault != trigger.ErrorNoise || !got[0].Present || got[0].Delta != 2 || got[0].Code != 2 {
		t.Errorf("first: got %+v", got[0])
	}
	if got[1].Fault != trigger.ErrorMissingTooth || !got[1].Present {
		t.Errorf("second: got %+v", got[1])
	}

	// Noise still rising, missing tooth quiet.
	got = m.Update(trigger.DiagStats{Noise: 4, MissingTooth: 1})
	if len(got) != 1 || got[0].Fault != trigger.ErrorMissingTooth || got[0].Present {
		t.Errorf("transitions: got %+v, want missing tooth cleared", got)
	}
	if p := m.Present(); len(p) != 1 || p[0] != trigger.ErrorNoise {
		t.Errorf("present: got %v, want [NOISE]", p)
	}

	got = m.Update(trigger.DiagStats{Noise: 4, MissingTooth: 1})
	if len(got) != 1 || got[0].Fault != trigger.ErrorNoise || got[0].Present || got[0].Delta != 0 {
		t.Errorf("transitions: got %+v, want noise cleared", got)
	}

	if len(store.reported) != 4 {
		t.Errorf("reported: got %d, want 4", len(store.reported))
	}
}

func TestMonitorNoChange(t *testing.T) {
	store := &fakeStore{}
	m := NewMonitor(store)

	if got := m.Update(trigger.DiagStats{}); len(got) != 0 {
		t.Errorf("transitions: got %+v, want none", got)
	}
	if len(store.reported) != 0 {
		t.Errorf("reported: got %d, want 0", len(store.reported))
	}
}

func TestMonitorStoreErrorKeepsState(t *testing.T) {
	store := &fakeStore{err: errors.New("redis down")}
	m := NewMonitor(store)

	m.Update(trigger.DiagStats{SyncLoss: 1})
	if p := m.Present(); len(p) != 1 {
		t.Errorf("present: got %v, want [SYNC_LOSS]", p)
	}
	if len(store.reported) != 1 {
		t.Errorf("reported: got %d, want 1", len(store.reported))
	}
}

func TestMonitorNilStore(t *testing.T) {
	m := NewMonitor(nil)
	if got := m.Update(trigger.DiagStats{Jitter: 1}); len(got) != 1 {
		t.Errorf("transitions: got %+v, want 1", got)
	}
}
