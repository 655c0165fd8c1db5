package sched

import (
	"errors"
	"math"
	"testing"

	"github.com/sweeney/ecu-timing/internal/timer"
)

type call struct {
	kind Kind
	ch   uint8
}

// recorder is an Actuator that remembers what it was asked to do.
type recorder struct {
	calls []call
}

func (r *recorder) Actuate(kind Kind, ch uint8) {
	r.calls = append(r.calls, call{kind, ch})
}

func setupScheduler(channels int) (*Scheduler, *timer.Fake, *recorder) {
	f := timer.NewFake(channels, 0)
	r := &recorder{}
	s := New(Config{Timer: f, Actuator: r})
	s.UpdateAngle(0, 6000, 0)
	return s, f, r
}

func TestSchedulerAddEventTiming(t *testing.T) {
	s, f, _ := setupScheduler(8)

	if got := s.UsPerDegree(); got != 27 {
		t.Errorf("us per degree at 6000 rpm: got %d, want 27", got)
	}

	id, err := s.AddEvent(90, 1, Do(KindCoilFire))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == 0 {
		t.Error("id should not be zero")
	}
	if len(f.Requested) != 1 || f.Requested[0] != 2500 {
		t.Errorf("requested: got %v, want [2500]", f.Requested)
	}

	ev, ok := s.Event(id)
	if !ok {
		t.Fatal("event not found")
	}
	if ev.Angle != 90 || ev.Channel != 1 || ev.Kind != KindCoilFire || ev.FireAt != 2500 {
		t.Errorf("event: got %+v", ev)
	}
}

func TestSchedulerFires(t *testing.T) {
	s, f, r := setupScheduler(8)
	s.AddEvent(90, 1, Do(KindCoilFire))

	f.Advance(2499)
	if len(r.calls) != 0 {
		t.Fatalf("fired early: %v", r.calls)
	}
	f.Advance(1)
	if len(r.calls) != 1 || r.calls[0] != (call{KindCoilFire, 1}) {
		t.Errorf("calls: got %v", r.calls)
	}

	st := s.Stats()
	if st.Scheduled != 1 || st.Fired != 1 || st.Missed != 0 || st.Active != 0 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestSchedulerClosureAction(t *testing.T) {
	f := timer.NewFake(8, 0)
	s := New(Config{Timer: f})
	s.UpdateAngle(0, 6000, 0)

	var got []uint8
	if _, err := s.AddEvent(10, 7, Action{Fn: func(ch uint8) { got = append(got, ch) }}); err != nil {
		t.Fatalf("add: %v", err)
	}
	f.Advance(1000)

	if len(got) != 1 || got[0] != 7 {
		t.Errorf("closure channel: got %v, want [7]", got)
	}
}

func TestSchedulerAngleWraps(t *testing.T) {
	f := timer.NewFake(8, 0)
	s := New(Config{Timer: f, Actuator: &recorder{}})
	s.UpdateAngle(700, 6000, 0)

	s.AddEvent(10, 0, Do(KindCustom))
	// 30 degrees forward across the cycle boundary
	if f.Requested[0] != 833 {
		t.Errorf("requested: got %d, want 833", f.Requested[0])
	}

	s.AddEvent(730, 0, Do(KindCustom))
	ev := s.Events()
	if len(ev) != 2 || ev[1].Angle != 10 {
		t.Errorf("normalized angle: got %+v", ev)
	}
}

func TestSchedulerTableFull(t *testing.T) {
	s := New(Config{Actuator: &recorder{}})
	s.UpdateAngle(0, 3000, 0)

	for i := 0; i < MaxEvents; i++ {
		if _, err := s.AddEvent(uint16(i*10), 0, Do(KindCustom)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if _, err := s.AddEvent(500, 0, Do(KindCustom)); !errors.Is(err, ErrTableFull) {
		t.Errorf("add past capacity: got %v, want ErrTableFull", err)
	}
	if got := s.Stats().Active; got != MaxEvents {
		t.Errorf("active: got %d, want %d", got, MaxEvents)
	}
}

func TestSchedulerTimerExhaustionRollsBack(t *testing.T) {
	s, f, _ := setupScheduler(2)

	s.AddEvent(10, 0, Do(KindCustom))
	s.AddEvent(20, 0, Do(KindCustom))

	_, err := s.AddEvent(30, 0, Do(KindCustom))
	if !errors.Is(err, ErrTimerExhausted) {
		t.Fatalf("got %v, want ErrTimerExhausted", err)
	}
	if !errors.Is(err, timer.ErrNoChannel) {
		t.Errorf("got %v, want wrapped ErrNoChannel", err)
	}
	st := s.Stats()
	if st.Active != 2 || st.Scheduled != 2 {
		t.Errorf("stats after failure: got %+v", st)
	}

	f.Advance(400)
	if _, err := s.AddEvent(30, 0, Do(KindCustom)); err != nil {
		t.Errorf("add after a channel freed: %v", err)
	}
}

func TestSchedulerRPMTooLow(t *testing.T) {
	f := timer.NewFake(8, 0)
	s := New(Config{Timer: f, Actuator: &recorder{}})
	s.UpdateAngle(0, 50, 0)

	if _, err := s.AddEvent(90, 0, Do(KindCustom)); !errors.Is(err, ErrRPMTooLow) {
		t.Errorf("got %v, want ErrRPMTooLow", err)
	}
	if got := s.UsPerDegree(); got != math.MaxUint32 {
		t.Errorf("us per degree: got %d, want MaxUint32", got)
	}
	if f.Pending() != 0 {
		t.Error("nothing should be armed")
	}
}

func TestSchedulerNoAction(t *testing.T) {
	f := timer.NewFake(8, 0)
	s := New(Config{Timer: f})
	s.UpdateAngle(0, 6000, 0)

	if _, err := s.AddEvent(90, 0, Do(KindCoilFire)); !errors.Is(err, ErrNoAction) {
		t.Errorf("got %v, want ErrNoAction", err)
	}
}

func TestSchedulerCancel(t *testing.T) {
	s, f, r := setupScheduler(8)
	id, _ := s.AddEvent(90, 1, Do(KindCoilFire))

	if !s.Cancel(id) {
		t.Fatal("cancel: got false")
	}
	if f.Pending() != 0 {
		t.Error("hardware timer still armed")
	}
	if s.Cancel(id) {
		t.Error("second cancel: got true")
	}
	if s.Cancel(0) {
		t.Error("cancel zero id: got true")
	}

	f.Advance(5000)
	if len(r.calls) != 0 {
		t.Errorf("cancelled event ran: %v", r.calls)
	}
	if got := s.Stats().Cancelled; got != 1 {
		t.Errorf("cancelled: got %d, want 1", got)
	}
}

func TestSchedulerStaleIDAfterReuse(t *testing.T) {
	s, f, _ := setupScheduler(8)

	first, _ := s.AddEvent(10, 0, Do(KindCustom))
	f.Advance(1000)

	second, _ := s.AddEvent(100, 0, Do(KindCustom))
	if first == second {
		t.Fatal("reused slot issued the same id")
	}
	if s.Cancel(first) {
		t.Error("stale id cancelled the new event")
	}
	if _, ok := s.Event(second); !ok {
		t.Error("new event should still be armed")
	}
	if _, ok := s.Event(first); ok {
		t.Error("stale id should not resolve")
	}
}

func TestSchedulerClearEvents(t *testing.T) {
	s, f, _ := setupScheduler(8)
	s.AddEvent(10, 0, Do(KindCustom))
	s.AddEvent(20, 1, Do(KindCustom))
	s.AddEvent(30, 2, Do(KindCustom))

	if got := s.ClearEvents(); got != 3 {
		t.Errorf("cleared: got %d, want 3", got)
	}
	if f.Pending() != 0 {
		t.Error("hardware timers still armed")
	}
	if got := s.ClearEvents(); got != 0 {
		t.Errorf("second clear: got %d, want 0", got)
	}
}

func TestSchedulerRemoveChannelEvents(t *testing.T) {
	s, f, _ := setupScheduler(8)
	s.AddEvent(10, 1, Do(KindCustom))
	s.AddEvent(20, 2, Do(KindCustom))
	s.AddEvent(30, 1, Do(KindCustom))

	if got := s.RemoveChannelEvents(1); got != 2 {
		t.Errorf("removed: got %d, want 2", got)
	}
	ev := s.Events()
	if len(ev) != 1 || ev[0].Channel != 2 {
		t.Errorf("remaining: got %+v", ev)
	}
	if f.Pending() != 1 {
		t.Errorf("pending: got %d, want 1", f.Pending())
	}
}

func TestSchedulerUpdateAngleRearms(t *testing.T) {
	s, f, r := setupScheduler(8)
	id, _ := s.AddEvent(180, 4, Do(KindCoilFire))

	f.Advance(1000)
	// 36 degrees later the engine has slowed to 3000 rpm.
	s.UpdateAngle(36, 3000, 1000)

	ev, _ := s.Event(id)
	if ev.Remaining != 144 {
		t.Errorf("remaining: got %d, want 144", ev.Remaining)
	}
	if ev.FireAt != 9000 {
		t.Errorf("fire at: got %d, want 9000", ev.FireAt)
	}
	if f.Pending() != 1 {
		t.Errorf("pending: got %d, want 1", f.Pending())
	}

	f.Advance(7999)
	if len(r.calls) != 0 {
		t.Fatal("fired at the old time")
	}
	f.Advance(1)
	if len(r.calls) != 1 {
		t.Errorf("calls: got %d, want 1", len(r.calls))
	}
}

func TestSchedulerUpdateAnglePastEvent(t *testing.T) {
	s, f, r := setupScheduler(8)
	s.AddEvent(10, 0, Do(KindCustom))

	// The recorded angle has passed the event before it fired.
	s.UpdateAngle(20, 6000, 100)
	if len(f.Requested) != 1 {
		t.Errorf("overdue event was re-armed: %v", f.Requested)
	}

	f.Advance(300)
	if len(r.calls) != 1 {
		t.Errorf("calls: got %d, want 1", len(r.calls))
	}
}

func TestSchedulerLateDispatchCountsMissed(t *testing.T) {
	s, f, _ := setupScheduler(8)
	s.AddEvent(90, 0, Do(KindCustom))

	f.Set(10000)
	f.Advance(0)

	st := s.Stats()
	if st.Fired != 1 || st.Missed != 1 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestSchedulerPolling(t *testing.T) {
	r := &recorder{}
	s := New(Config{Actuator: r})
	s.UpdateAngle(0, 6000, 0)

	s.AddEvent(270, 2, Do(KindInjectorClose))
	s.AddEvent(90, 1, Do(KindInjectorOpen))

	if got := s.ProcessEvents(2000); got != 0 {
		t.Errorf("early poll: got %d, want 0", got)
	}
	if got := s.ProcessEvents(8000); got != 2 {
		t.Fatalf("poll: got %d, want 2", got)
	}

	want := []call{{KindInjectorOpen, 1}, {KindInjectorClose, 2}}
	if len(r.calls) != 2 || r.calls[0] != want[0] || r.calls[1] != want[1] {
		t.Errorf("order: got %v, want %v", r.calls, want)
	}

	// 90 degrees was due at 2500, 5500 us before the poll.
	st := s.Stats()
	if st.Missed != 1 || st.Fired != 2 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestSchedulerProcessEventsNoopWithTimer(t *testing.T) {
	s, _, r := setupScheduler(8)
	s.AddEvent(90, 1, Do(KindCoilFire))

	if got := s.ProcessEvents(100000); got != 0 {
		t.Errorf("processed: got %d, want 0", got)
	}
	if len(r.calls) != 0 {
		t.Error("polling ran in timer mode")
	}
}

func TestSchedulerWithSoftTimer(t *testing.T) {
	soft := timer.NewSoft(4, nil)
	done := make(chan uint8, 1)
	s := New(Config{Timer: soft})
	s.UpdateAngle(0, 6000, soft.Now())

	if _, err := s.AddEvent(36, 9, Action{Fn: func(ch uint8) { done <- ch }}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if ch := <-done; ch != 9 {
		t.Errorf("channel: got %d, want 9", ch)
	}
}

func TestKindString(t *testing.T) {
	if KindCoilFire.String() != "COIL_FIRE" {
		t.Errorf("got %q", KindCoilFire.String())
	}
	if Kind(99).String() != "CUSTOM" {
		t.Errorf("got %q", Kind(99).String())
	}
}

func TestSchedulerAddEventStaleAnchor(t *testing.T) {
	s, f, r := setupScheduler(8)

	// 5 ms pass without an angle update; 90° at 6000 rpm was due at 2500.
	f.Set(5000)
	if _, err := s.AddEvent(90, 2, Do(KindInjectorOpen)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(f.Requested) != 1 || f.Requested[0] != 2500 {
		t.Errorf("requested: got %v, want [2500]", f.Requested)
	}

	if n := f.Advance(1); n != 1 {
		t.Fatalf("fired: got %d, want 1", n)
	}
	if len(r.calls) != 1 || r.calls[0] != (call{KindInjectorOpen, 2}) {
		t.Errorf("calls: got %+v", r.calls)
	}
	if got := s.Stats().Missed; got != 1 {
		t.Errorf("missed: got %d, want 1", got)
	}
}
