package engine

import (
	"testing"

	"github.com/sweeney/ecu-timing/internal/phase"
)

// rig feeds a 36-1 wheel turning at 1000 us per tooth (1666 rpm).
type rig struct {
	p  *Position
	ts uint32
}

const toothUs = 1000

func newRig(cfg Config) *rig {
	r := &rig{p: New(cfg, nil), ts: 10000}
	r.p.ProcessCrank(r.ts)
	return r
}

func (r *rig) crank(period uint32) []Event {
	r.ts += period
	return r.p.ProcessCrank(r.ts)
}

func (r *rig) teeth(n int) {
	for i := 0; i < n; i++ {
		r.crank(toothUs)
	}
}

func (r *rig) gap() []Event {
	return r.crank(2 * toothUs)
}

func (r *rig) lock(t *testing.T) {
	t.Helper()
	r.teeth(3)
	events := r.gap()
	if len(events) != 1 || events[0].Type != EventSyncLock {
		t.Fatalf("lock events: got %+v, want [SYNC_LOCK]", events)
	}
}

// camEdge pulses the cam line high then low.
func (r *rig) camEdge() []Event {
	events := r.p.ProcessCam(true, r.ts+10)
	r.p.ProcessCam(false, r.ts+20)
	return events
}

func TestPositionSyncLock(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)

	s := r.p.Snapshot()
	if !s.Synced {
		t.Error("expected synced")
	}
	if s.Tooth != 0 || s.CrankAngle != 0 {
		t.Errorf("position: got tooth %d angle %d, want 0, 0", s.Tooth, s.CrankAngle)
	}
	if s.Decoder.SyncCount != 1 {
		t.Errorf("sync count: got %d, want 1", s.Decoder.SyncCount)
	}

	// Lock is reported once.
	r.teeth(34)
	if events := r.gap(); len(events) != 0 {
		t.Errorf("second gap events: got %+v, want none", events)
	}
}

func TestPositionCrankAngle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerOffset = 30
	r := newRig(cfg)
	r.lock(t)
	r.teeth(9)

	s := r.p.Snapshot()
	if s.Tooth != 9 {
		t.Errorf("tooth: got %d, want 9", s.Tooth)
	}
	if s.CrankAngle != 120 {
		t.Errorf("crank angle: got %d, want 120", s.CrankAngle)
	}
	if s.ToothPeriodUs != toothUs {
		t.Errorf("tooth period: got %d, want %d", s.ToothPeriodUs, toothUs)
	}
}

func TestPositionRPM(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.teeth(34)
	r.gap()
	r.teeth(34)
	r.gap()

	s := r.p.Snapshot()
	if s.RPM.RPM != 1666 {
		t.Errorf("rpm: got %d, want 1666", s.RPM.RPM)
	}
	if s.RPM.Revolutions != 2 {
		t.Errorf("revolutions: got %d, want 2", s.RPM.Revolutions)
	}
	if s.Diag.Jitter != 0 {
		t.Errorf("jitter on a clean wheel: got %d, want 0", s.Diag.Jitter)
	}
}

func TestPositionCamLock(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.teeth(5)

	if events := r.camEdge(); len(events) != 0 {
		t.Errorf("baseline edge events: got %+v, want none", events)
	}

	r.teeth(29)
	r.gap()
	r.teeth(5)
	events := r.camEdge()
	if len(events) != 1 || events[0].Type != EventCamLock {
		t.Fatalf("second edge events: got %+v, want [CAM_LOCK]", events)
	}
	if events[0].Phase != phase.PhaseSecond360 {
		t.Errorf("event phase: got %v, want SECOND_360", events[0].Phase)
	}

	s := r.p.Snapshot()
	if !s.CamSynced {
		t.Error("expected cam synced")
	}
	if s.CycleAngle != 410 {
		t.Errorf("cycle angle: got %d, want 410", s.CycleAngle)
	}
}

func TestPositionCamOncePerCycle(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.teeth(5)
	r.camEdge()
	if got := r.p.Snapshot().Phase; got != phase.PhaseUnknown {
		t.Errorf("phase after baseline edge: got %v, want UNKNOWN", got)
	}

	r.teeth(29)
	r.gap()
	r.teeth(34)
	r.gap()
	r.teeth(5)
	events := r.camEdge()
	if len(events) != 1 || events[0].Type != EventCamLock {
		t.Fatalf("edge two revolutions later: got %+v, want [CAM_LOCK]", events)
	}
	if events[0].Phase != phase.PhaseFirst360 {
		t.Errorf("event phase: got %v, want FIRST_360", events[0].Phase)
	}

	// Tooth 5 alternates between the two halves of the cycle.
	want := []uint16{410, 50, 410, 50}
	for i, w := range want {
		r.teeth(29)
		r.gap()
		r.teeth(5)
		if i%2 == 1 {
			if events := r.camEdge(); len(events) != 0 {
				t.Errorf("revolution %d cam events: got %+v, want none", i, events)
			}
		}
		s := r.p.Snapshot()
		if !s.CamSynced {
			t.Fatalf("revolution %d: lost cam sync", i)
		}
		if s.CycleAngle != w {
			t.Errorf("revolution %d cycle angle: got %d, want %d", i, s.CycleAngle, w)
		}
	}
}

func TestPositionCamIgnoredWithoutCrank(t *testing.T) {
	r := newRig(DefaultConfig())

	if events := r.camEdge(); events != nil {
		t.Errorf("events: got %+v, want none", events)
	}
	if got := r.p.Snapshot().Cam.Events; got != 0 {
		t.Errorf("cam events: got %d, want 0", got)
	}
}

func TestPositionCamLossOnWrongTooth(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.teeth(5)
	r.camEdge()
	r.teeth(29)
	r.gap()
	r.teeth(5)
	r.camEdge()

	r.teeth(29)
	r.gap()
	r.teeth(20)
	events := r.camEdge()
	if len(events) != 1 || events[0].Type != EventCamLoss {
		t.Fatalf("events: got %+v, want [CAM_LOSS]", events)
	}
	if r.p.Snapshot().CamSynced {
		t.Error("cam should be unsynced")
	}
}

func TestPositionVVT(t *testing.T) {
	r := newRig(DefaultConfig())
	r.p.SetVVTTarget(20)
	r.lock(t)
	r.teeth(3)
	r.p.ProcessVVT(r.ts + 10)

	r.teeth(31)
	r.gap()
	r.teeth(4)
	r.p.ProcessVVT(r.ts + 10)

	v := r.p.Snapshot().VVT
	if !v.Synced {
		t.Fatal("expected vvt synced")
	}
	if v.Position != 10 {
		t.Errorf("vvt position: got %d, want 10", v.Position)
	}
	if v.Error != 10 {
		t.Errorf("vvt error: got %d, want 10", v.Error)
	}
	if v.CrankAngle != 40 {
		t.Errorf("vvt crank angle: got %d, want 40", v.CrankAngle)
	}
}

func TestPositionSyncLossResetsPhase(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.teeth(5)
	r.camEdge()
	r.p.ProcessVVT(r.ts)
	r.teeth(29)
	r.gap()
	r.teeth(5)
	r.camEdge()

	// 30 more teeth reach index 35, the next one overruns the wheel.
	r.teeth(30)
	events := r.crank(toothUs)
	if len(events) != 1 || events[0].Type != EventSyncLoss {
		t.Fatalf("events: got %+v, want [SYNC_LOSS]", events)
	}

	s := r.p.Snapshot()
	if s.Synced || s.CamSynced || s.VVT.Synced {
		t.Errorf("sync flags: crank %v cam %v vvt %v, want all false", s.Synced, s.CamSynced, s.VVT.Synced)
	}
	if s.Diag.SyncLoss != 1 {
		t.Errorf("diag sync loss: got %d, want 1", s.Diag.SyncLoss)
	}
	if s.Cam.SyncLossCount != 1 {
		t.Errorf("cam sync loss: got %d, want 1", s.Cam.SyncLossCount)
	}
}

func TestPositionMissingToothDiagnosed(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.teeth(20)

	// A lost tooth doubles the period and is taken for the gap.
	r.crank(2 * toothUs)

	s := r.p.Snapshot()
	if s.Diag.MissingTooth != 1 {
		t.Errorf("missing tooth: got %d, want 1", s.Diag.MissingTooth)
	}
	if !s.Synced || s.Tooth != 0 {
		t.Errorf("resynced: got synced %v tooth %d", s.Synced, s.Tooth)
	}
}

func TestPositionNoiseDiagnosed(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.crank(40)

	if got := r.p.Snapshot().Diag.Noise; got != 1 {
		t.Errorf("noise: got %d, want 1", got)
	}
	log := r.p.DiagnosticsLog()
	if len(log) == 0 || log[len(log)-1].Period != 40 {
		t.Errorf("last log entry: got %+v", log)
	}

	r.p.ClearDiagnostics()
	if got := r.p.Snapshot().Diag.Noise; got != 0 {
		t.Errorf("noise after clear: got %d, want 0", got)
	}
}

func TestPositionStall(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.teeth(5)

	if events := r.p.Poll(r.ts); len(events) != 0 {
		t.Errorf("running poll events: got %+v", events)
	}
	if !r.p.Snapshot().Running {
		t.Fatal("expected running")
	}

	events := r.p.Poll(r.ts + 1000001)
	if len(events) != 1 || events[0].Type != EventStall {
		t.Fatalf("events: got %+v, want [STALL]", events)
	}
	s := r.p.Snapshot()
	if s.Running || s.Synced || s.RPM.RPM != 0 {
		t.Errorf("after stall: running %v synced %v rpm %d", s.Running, s.Synced, s.RPM.RPM)
	}

	// Stall is reported once.
	if events := r.p.Poll(r.ts + 2000000); len(events) != 0 {
		t.Errorf("second poll events: got %+v", events)
	}
}

func TestPositionReset(t *testing.T) {
	r := newRig(DefaultConfig())
	r.lock(t)
	r.p.Poll(r.ts)

	r.p.Reset()

	s := r.p.Snapshot()
	if s.Synced || s.Running || s.RPM.RPM != 0 {
		t.Errorf("after reset: %+v", s)
	}
	if s.Decoder.SyncCount != 1 {
		t.Errorf("decoder stats kept: got sync count %d, want 1", s.Decoder.SyncCount)
	}
}
