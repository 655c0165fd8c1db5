package sched

import (
	"github.com/sweeney/ecu-timing/internal/irq"
)

// MaxMultiStage is the size of the two-stage event table.
const MaxMultiStage = 8

// StageKind identifies what a two-stage event controls.
type StageKind string

const (
	StageInjection StageKind = "INJECTION"
	StageIgnition  StageKind = "IGNITION"
	StageCustom    StageKind = "CUSTOM"
)

// MultiID identifies a two-stage event. The zero value is never issued.
type MultiID uint32

// MultiEvent is a snapshot of an active two-stage event.
type MultiEvent struct {
	ID         MultiID
	Kind       StageKind
	Cylinder   uint8
	StartAngle uint16
	EndAngle   uint16
	DurationUs uint32
	StartFired bool
	EndFired   bool
}

// MultiStats are the two-stage counters.
type MultiStats struct {
	Started   uint32
	Completed uint32
	Cancelled uint32
	Active    int
}

type multiEntry struct {
	active     bool
	gen        uint32
	kind       StageKind
	cylinder   uint8
	startAngle uint16
	endAngle   uint16
	durationUs uint32
	startID    EventID
	endID      EventID
	startFired bool
	endFired   bool
	end        Action
}

// MultiStage composes start/end event pairs on top of a Scheduler. A pair
// is armed completely or not at all, and an output that was switched on is
// always switched off again.
type MultiStage struct {
	sched   *Scheduler
	mask    irq.Mask
	entries [MaxMultiStage]multiEntry
	stats   MultiStats
}

// NewMultiStage creates a two-stage scheduler on s. The mask must not be the
// scheduler's own.
func NewMultiStage(s *Scheduler, mask irq.Mask) *MultiStage {
	if mask == nil {
		mask = &irq.Lock{}
	}
	return &MultiStage{sched: s, mask: mask}
}

// ScheduleInjection opens at startAngle and closes durationUs later at the
// given speed.
func (m *MultiStage) ScheduleInjection(cylinder uint8, startAngle uint16, durationUs uint32, start, end Action, rpm uint16) (MultiID, error) {
	return m.scheduleTimed(StageInjection, cylinder, startAngle, durationUs, start, end, rpm)
}

// ScheduleCustom is ScheduleInjection for arbitrary outputs.
func (m *MultiStage) ScheduleCustom(channel uint8, startAngle uint16, durationUs uint32, start, end Action, rpm uint16) (MultiID, error) {
	return m.scheduleTimed(StageCustom, channel, startAngle, durationUs, start, end, rpm)
}

func (m *MultiStage) scheduleTimed(kind StageKind, cylinder uint8, startAngle uint16, durationUs uint32, start, end Action, rpm uint16) (MultiID, error) {
	if rpm < MinRPM {
		return 0, ErrRPMTooLow
	}
	startAngle %= CycleDegrees
	durDeg := uint64(durationUs) * uint64(rpm) * 360 / usPerMinute
	endAngle := uint16((uint64(startAngle) + durDeg) % CycleDegrees)
	return m.schedule(kind, cylinder, startAngle, endAngle, durationUs, start, end)
}

// ScheduleIgnition starts charging at dwellAngle and fires at fireAngle.
func (m *MultiStage) ScheduleIgnition(cylinder uint8, dwellAngle, fireAngle uint16, start, end Action, rpm uint16) (MultiID, error) {
	if rpm < MinRPM {
		return 0, ErrRPMTooLow
	}
	dwellAngle %= CycleDegrees
	fireAngle %= CycleDegrees
	deg := (int(fireAngle) - int(dwellAngle) + CycleDegrees) % CycleDegrees
	dur := uint32(uint64(deg) * usPerMinute / (uint64(rpm) * 360))
	return m.schedule(StageIgnition, cylinder, dwellAngle, fireAngle, dur, start, end)
}

func (m *MultiStage) schedule(kind StageKind, cylinder uint8, startAngle, endAngle uint16, durationUs uint32, start, end Action) (MultiID, error) {
	restore := irq.Enter(m.mask)
	defer restore()

	slot := -1
	for i := range m.entries {
		if !m.entries[i].active {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, ErrTableFull
	}

	e := &m.entries[slot]
	gen := nextGen(e.gen)
	*e = multiEntry{
		active:     true,
		gen:        gen,
		kind:       kind,
		cylinder:   cylinder,
		startAngle: startAngle,
		endAngle:   endAngle,
		durationUs: durationUs,
		end:        end,
	}

	// Stage callbacks block on m.mask until both stages are recorded.
	startID, startDelta, err := m.sched.add(startAngle, cylinder, m.stage(slot, gen, false, start), 0)
	if err != nil {
		e.active = false
		return 0, err
	}
	endID, _, err := m.sched.add(endAngle, cylinder, m.stage(slot, gen, true, end), startDelta)
	if err != nil {
		m.sched.Cancel(startID)
		e.active = false
		return 0, err
	}

	e.startID = startID
	e.endID = endID
	m.stats.Started++
	m.stats.Active++
	return MultiID(makeID(slot, gen)), nil
}

// stage wraps a user action with completion tracking. A stage whose entry
// was cancelled or rolled back does not run.
func (m *MultiStage) stage(slot int, gen uint32, isEnd bool, a Action) Action {
	return Action{Kind: a.Kind, Fn: func(ch uint8) {
		restore := irq.Enter(m.mask)
		e := &m.entries[slot]
		if !e.active || e.gen != gen {
			restore()
			return
		}
		if isEnd {
			e.endFired = true
			if !e.startFired {
				// The output was never switched on; drop the pending start.
				m.sched.Cancel(e.startID)
				m.free(e)
				m.stats.Cancelled++
				restore()
				m.sched.run(a, ch)
				return
			}
		} else {
			e.startFired = true
		}
		if e.startFired && e.endFired {
			m.free(e)
			m.stats.Completed++
		}
		restore()
		m.sched.run(a, ch)
	}}
}

func (m *MultiStage) free(e *multiEntry) {
	e.active = false
	m.stats.Active--
}

// Cancel disarms both stages of id. If the start stage already ran, the end
// action runs immediately. Cancelling an inactive or stale id returns false.
func (m *MultiStage) Cancel(id MultiID) bool {
	restore := irq.Enter(m.mask)
	slot, gen := splitID(uint32(id))
	if slot >= MaxMultiStage {
		restore()
		return false
	}
	e := &m.entries[slot]
	if !e.active || e.gen != gen {
		restore()
		return false
	}
	needEnd := m.cancel(e)
	end, ch := e.end, e.cylinder
	restore()

	if needEnd {
		m.sched.run(end, ch)
	}
	return true
}

// cancel disarms both stages and reports whether the end action still has to
// run.
func (m *MultiStage) cancel(e *multiEntry) bool {
	m.sched.Cancel(e.startID)
	m.sched.Cancel(e.endID)
	m.free(e)
	m.stats.Cancelled++
	return e.startFired && !e.endFired
}

// CancelCylinder cancels every event on cylinder and returns how many were
// active.
func (m *MultiStage) CancelCylinder(cylinder uint8) int {
	var ends [MaxMultiStage]Action
	pending := 0
	n := 0

	restore := irq.Enter(m.mask)
	for i := range m.entries {
		e := &m.entries[i]
		if !e.active || e.cylinder != cylinder {
			continue
		}
		if m.cancel(e) {
			ends[pending] = e.end
			pending++
		}
		n++
	}
	restore()

	for i := 0; i < pending; i++ {
		m.sched.run(ends[i], cylinder)
	}
	return n
}

// Event returns the active two-stage event with id.
func (m *MultiStage) Event(id MultiID) (MultiEvent, bool) {
	defer irq.Enter(m.mask)()

	slot, gen := splitID(uint32(id))
	if slot >= MaxMultiStage {
		return MultiEvent{}, false
	}
	e := &m.entries[slot]
	if !e.active || e.gen != gen {
		return MultiEvent{}, false
	}
	return MultiEvent{
		ID:         id,
		Kind:       e.kind,
		Cylinder:   e.cylinder,
		StartAngle: e.startAngle,
		EndAngle:   e.endAngle,
		DurationUs: e.durationUs,
		StartFired: e.startFired,
		EndFired:   e.endFired,
	}, true
}

// Stats returns a copy of the counters.
func (m *MultiStage) Stats() MultiStats {
	defer irq.Enter(m.mask)()
	return m.stats
}
