package sched

import (
	"errors"
	"fmt"
	"math"

	"github.com/sweeney/ecu-timing/internal/irq"
	"github.com/sweeney/ecu-timing/internal/timer"
)

const (
	// MaxEvents is the size of the event table.
	MaxEvents = 16
	// CycleDegrees is one four-stroke cycle.
	CycleDegrees = 720
	// MinRPM is the slowest speed angles are converted to time at.
	MinRPM = 100
	// DefaultLateToleranceUs is how late a dispatched event may be before it
	// counts as missed.
	DefaultLateToleranceUs = 1000

	usPerMinute = 60000000
)

var (
	ErrTableFull      = errors.New("sched: event table full")
	ErrTimerExhausted = errors.New("sched: no hardware timer available")
	ErrRPMTooLow      = errors.New("sched: engine speed below scheduling minimum")
	ErrNoAction       = errors.New("sched: action has no handler")
)

// EventID identifies a scheduled event. The zero value is never issued.
type EventID uint32

// Event is a snapshot of an armed table entry.
type Event struct {
	ID      EventID
	Angle   uint16
	Channel uint8
	Kind    Kind
	FireAt  uint32
	// Remaining is the angle still to travel as of the last angle update.
	Remaining int32
}

// Stats are the scheduler counters.
type Stats struct {
	Scheduled uint32
	Fired     uint32
	Missed    uint32
	Cancelled uint32
	Active    int
}

// Config wires a Scheduler.
type Config struct {
	// Timer dispatches events. Nil selects polling through ProcessEvents.
	Timer timer.Service
	// Mask guards the event table. It must not be shared with the timer.
	Mask irq.Mask
	// Actuator handles actions without their own Fn.
	Actuator Actuator
	// LateToleranceUs defaults to DefaultLateToleranceUs.
	LateToleranceUs uint32
}

type entry struct {
	active    bool
	gen       uint32
	angle     uint16
	channel   uint8
	action    Action
	remaining int32
	fireAt    uint32
	handle    timer.Handle
}

// Scheduler holds a fixed table of angle-triggered events.
type Scheduler struct {
	timer   timer.Service
	mask    irq.Mask
	act     Actuator
	lateTol uint32

	events [MaxEvents]entry
	angle  uint16
	rpm    uint16
	anchor uint32
	stats  Stats
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Mask == nil {
		cfg.Mask = &irq.Lock{}
	}
	if cfg.LateToleranceUs == 0 {
		cfg.LateToleranceUs = DefaultLateToleranceUs
	}
	return &Scheduler{
		timer:   cfg.Timer,
		mask:    cfg.Mask,
		act:     cfg.Actuator,
		lateTol: cfg.LateToleranceUs,
	}
}

// UpdateAngle records the cycle angle and speed measured at now and moves
// every armed event to its new absolute time.
func (s *Scheduler) UpdateAngle(angle, rpm uint16, now uint32) {
	defer irq.Enter(s.mask)()

	angle %= CycleDegrees
	advance := int32((int(angle) - int(s.angle) + CycleDegrees) % CycleDegrees)
	s.angle = angle
	s.rpm = rpm
	s.anchor = now

	for i := range s.events {
		e := &s.events[i]
		if !e.active {
			continue
		}
		e.remaining -= advance
		if e.remaining <= 0 || rpm < MinRPM {
			continue
		}
		at := now + s.degreesToUs(e.remaining)
		if at == e.fireAt {
			continue
		}
		if s.timer == nil {
			e.fireAt = at
			continue
		}
		if !s.timer.Cancel(e.handle) {
			// Already dispatched; the fire path owns it now.
			continue
		}
		h, err := s.timer.Schedule(at, s.dispatcher(i, e.gen))
		if err != nil {
			e.active = false
			s.stats.Active--
			s.stats.Missed++
			continue
		}
		e.handle = h
		e.fireAt = at
	}
}

func (s *Scheduler) degreesToUs(deg int32) uint32 {
	if deg <= 0 || s.rpm == 0 {
		return 0
	}
	return uint32(uint64(deg) * usPerMinute / (uint64(s.rpm) * 360))
}

// AddEvent arms action to run on channel when the cycle reaches angle. The
// fire time is measured from the last UpdateAngle, not from the current
// time: a stale anchor can put it in the past, and the event then fires on
// the next timer tick and counts as missed if it is beyond the late
// tolerance.
func (s *Scheduler) AddEvent(angle uint16, channel uint8, action Action) (EventID, error) {
	id, _, err := s.add(angle, channel, action, 0)
	return id, err
}

// add arms an event at least minDelta degrees ahead and returns the delta used.
func (s *Scheduler) add(angle uint16, channel uint8, action Action, minDelta int32) (EventID, int32, error) {
	if action.Fn == nil && s.act == nil {
		return 0, 0, ErrNoAction
	}
	defer irq.Enter(s.mask)()

	if s.rpm < MinRPM {
		return 0, 0, ErrRPMTooLow
	}

	slot := -1
	for i := range s.events {
		if !s.events[i].active {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, 0, ErrTableFull
	}

	angle %= CycleDegrees
	delta := int32((int(angle) - int(s.angle) + CycleDegrees) % CycleDegrees)
	for delta < minDelta {
		delta += CycleDegrees
	}

	e := &s.events[slot]
	gen := nextGen(e.gen)
	*e = entry{
		active:    true,
		gen:       gen,
		angle:     angle,
		channel:   channel,
		action:    action,
		remaining: delta,
		fireAt:    s.anchor + s.degreesToUs(delta),
		handle:    timer.NoHandle,
	}

	if s.timer != nil {
		h, err := s.timer.Schedule(e.fireAt, s.dispatcher(slot, gen))
		if err != nil {
			e.active = false
			return 0, 0, fmt.Errorf("%w: %w", ErrTimerExhausted, err)
		}
		e.handle = h
	}

	s.stats.Scheduled++
	s.stats.Active++
	return EventID(makeID(slot, gen)), delta, nil
}

func (s *Scheduler) dispatcher(slot int, gen uint32) func() {
	return func() { s.dispatch(slot, gen) }
}

// dispatch is the timer callback. The table entry is released before the
// action runs.
func (s *Scheduler) dispatch(slot int, gen uint32) {
	restore := irq.Enter(s.mask)
	e := &s.events[slot]
	if !e.active || e.gen != gen {
		restore()
		return
	}
	action, ch := e.action, e.channel
	if timer.Until(e.fireAt, s.timer.Now()) > int32(s.lateTol) {
		s.stats.Missed++
	}
	e.active = false
	s.stats.Active--
	s.stats.Fired++
	restore()

	s.run(action, ch)
}

func (s *Scheduler) run(a Action, ch uint8) {
	if a.Fn != nil {
		a.Fn(ch)
		return
	}
	if s.act != nil {
		s.act.Actuate(a.Kind, ch)
	}
}

// ProcessEvents dispatches every due event in polling mode and returns how
// many ran. It does nothing when a timer drives dispatch.
func (s *Scheduler) ProcessEvents(now uint32) int {
	if s.timer != nil {
		return 0
	}

	type due struct {
		at     uint32
		action Action
		ch     uint8
	}
	var pending [MaxEvents]due
	n := 0

	restore := irq.Enter(s.mask)
	for i := range s.events {
		e := &s.events[i]
		if !e.active || !timer.Due(now, e.fireAt) {
			continue
		}
		if timer.Until(e.fireAt, now) > int32(s.lateTol) {
			s.stats.Missed++
		}
		e.active = false
		s.stats.Active--
		s.stats.Fired++

		// insertion by fire time
		j := n
		for j > 0 && timer.Until(pending[j-1].at, e.fireAt) < 0 {
			pending[j] = pending[j-1]
			j--
		}
		pending[j] = due{at: e.fireAt, action: e.action, ch: e.channel}
		n++
	}
	restore()

	for i := 0; i < n; i++ {
		s.run(pending[i].action, pending[i].ch)
	}
	return n
}

// Cancel disarms id. Cancelling a fired, cancelled or stale id does nothing
// and returns false.
func (s *Scheduler) Cancel(id EventID) bool {
	defer irq.Enter(s.mask)()

	slot, gen := splitID(uint32(id))
	if slot >= MaxEvents {
		return false
	}
	e := &s.events[slot]
	if !e.active || e.gen != gen {
		return false
	}
	s.cancel(e)
	return true
}

// cancel disarms the hardware before the slot is freed.
func (s *Scheduler) cancel(e *entry) {
	if s.timer != nil {
		s.timer.Cancel(e.handle)
	}
	e.active = false
	s.stats.Active--
	s.stats.Cancelled++
}

// ClearEvents cancels everything and returns how many events were armed.
func (s *Scheduler) ClearEvents() int {
	defer irq.Enter(s.mask)()

	n := 0
	for i := range s.events {
		if s.events[i].active {
			s.cancel(&s.events[i])
			n++
		}
	}
	return n
}

// RemoveChannelEvents cancels every event on channel.
func (s *Scheduler) RemoveChannelEvents(channel uint8) int {
	defer irq.Enter(s.mask)()

	n := 0
	for i := range s.events {
		e := &s.events[i]
		if e.active && e.channel == channel {
			s.cancel(e)
			n++
		}
	}
	return n
}

// Event returns the armed event with id.
func (s *Scheduler) Event(id EventID) (Event, bool) {
	defer irq.Enter(s.mask)()

	slot, gen := splitID(uint32(id))
	if slot >= MaxEvents {
		return Event{}, false
	}
	e := &s.events[slot]
	if !e.active || e.gen != gen {
		return Event{}, false
	}
	return snapshot(slot, e), true
}

// Events returns every armed event.
func (s *Scheduler) Events() []Event {
	defer irq.Enter(s.mask)()

	var out []Event
	for i := range s.events {
		if s.events[i].active {
			out = append(out, snapshot(i, &s.events[i]))
		}
	}
	return out
}

func snapshot(slot int, e *entry) Event {
	return Event{
		ID:        EventID(makeID(slot, e.gen)),
		Angle:     e.angle,
		Channel:   e.channel,
		Kind:      e.action.Kind,
		FireAt:    e.fireAt,
		Remaining: e.remaining,
	}
}

// CurrentAngle returns the last recorded cycle angle.
func (s *Scheduler) CurrentAngle() uint16 {
	defer irq.Enter(s.mask)()
	return s.angle
}

// UsPerDegree returns the crank period per degree at the last recorded
// speed, or math.MaxUint32 below MinRPM.
func (s *Scheduler) UsPerDegree() uint32 {
	defer irq.Enter(s.mask)()
	if s.rpm < MinRPM {
		return math.MaxUint32
	}
	return usPerMinute / (uint32(s.rpm) * 360)
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Stats {
	defer irq.Enter(s.mask)()
	return s.stats
}
