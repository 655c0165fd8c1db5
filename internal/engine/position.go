package engine

import (
	"github.com/sweeney/ecu-timing/internal/irq"
	"github.com/sweeney/ecu-timing/internal/phase"
	"github.com/sweeney/ecu-timing/internal/rpm"
	"github.com/sweeney/ecu-timing/internal/trigger"
)

// Position owns the tracking stages. All methods are safe to call from edge
// handlers and foreground code concurrently.
type Position struct {
	mask irq.Mask
	cfg  Config

	decoder *trigger.Decoder
	rpm     *rpm.Calculator
	diag    *trigger.Diagnostics
	cam     *phase.CamSync
	vvt     *phase.VVT

	lastGap  uint32
	haveGap  bool
	running  bool
	lastEdge uint32
}

// New creates a position tracker. A nil mask uses a private lock.
func New(cfg Config, mask irq.Mask) *Position {
	if mask == nil {
		mask = &irq.Lock{}
	}
	return &Position{
		mask:    mask,
		cfg:     cfg,
		decoder: trigger.NewDecoder(cfg.Wheel),
		rpm:     rpm.New(cfg.RPM),
		diag:    trigger.NewDiagnostics(cfg.Diag),
		cam:     phase.NewCamSync(cfg.Cam),
		vvt:     phase.NewVVT(cfg.VVT),
	}
}

// ProcessCrank handles a crank tooth edge captured at ts.
func (p *Position) ProcessCrank(ts uint32) []Event {
	defer irq.Enter(p.mask)()

	wheel := p.cfg.Wheel
	wasLocked := p.decoder.IsSynced()
	prevTooth := p.decoder.ToothIndex()

	outcome, period := p.decoder.ProcessTooth(ts)
	p.lastEdge = ts

	var events []Event
	switch outcome {
	case trigger.OutcomeNoise:
		p.diag.Process(trigger.Sample{Time: ts, Period: period, Tooth: prevTooth, RPM: p.rpm.RPM()})

	case trigger.OutcomeScanning, trigger.OutcomeTooth:
		p.rpm.OnTooth(period, uint16(wheel.TotalTeeth), ts)
		p.diag.Process(trigger.Sample{Time: ts, Period: period, Tooth: p.decoder.ToothIndex(), RPM: p.rpm.RPM()})

	case trigger.OutcomeGap:
		p.rpm.OnTooth(period/uint32(wheel.MissingTeeth+1), uint16(wheel.TotalTeeth), ts)
		if wasLocked && p.haveGap {
			p.rpm.OnRevolution(ts-p.lastGap, ts)
		}
		p.lastGap = ts
		p.haveGap = true
		p.cam.OnCrankRevolution()
		p.diag.Process(trigger.Sample{Time: ts, Period: period, Tooth: p.decoder.ToothIndex(), RPM: p.rpm.RPM(), Gap: true})

		if !wasLocked {
			events = append(events, p.event(EventSyncLock, ts))
		} else if fault := p.classifyGap(prevTooth); fault != trigger.ErrorNone {
			p.diag.Record(fault, ts, prevTooth, p.rpm.RPM())
		}

	case trigger.OutcomeSyncLost:
		p.rpm.OnTooth(period, uint16(wheel.TotalTeeth), ts)
		p.diag.Record(trigger.ErrorSyncLoss, ts, prevTooth, p.rpm.RPM())
		p.resetPhase()
		events = append(events, p.event(EventSyncLoss, ts))
	}
	return events
}

// classifyGap checks where in the wheel a gap arrived while locked. Early
// means teeth were lost, late means noise got counted as teeth.
func (p *Position) classifyGap(prevTooth uint8) trigger.ErrorType {
	wheel := p.cfg.Wheel
	n := int(wheel.TotalTeeth)
	since := (int(prevTooth) - int(wheel.SyncPointTooth) + n) % n
	expected := int(wheel.PresentTeeth()) - 1
	switch {
	case since < expected:
		return trigger.ErrorMissingTooth
	case since > expected:
		return trigger.ErrorExtraTooth
	default:
		return trigger.ErrorNone
	}
}

// ProcessCam handles a cam level change captured at ts. It is ignored while
// the crank is unsynced.
func (p *Position) ProcessCam(level bool, ts uint32) []Event {
	defer irq.Enter(p.mask)()

	if !p.decoder.IsSynced() {
		return nil
	}
	switch p.cam.ProcessEvent(level, p.decoder.ToothIndex(), ts) {
	case phase.CamLocked:
		return []Event{p.event(EventCamLock, ts)}
	case phase.CamLost:
		return []Event{p.event(EventCamLoss, ts)}
	}
	return nil
}

// ProcessVVT handles a VVT tooth edge captured at ts. It is ignored while the
// crank is unsynced.
func (p *Position) ProcessVVT(ts uint32) {
	defer irq.Enter(p.mask)()

	if !p.decoder.IsSynced() {
		return
	}
	p.vvt.ProcessEvent(p.decoder.ToothIndex(), p.crankAngle(), ts)
}

// Poll applies the stall timeout at now. A stall resets the decoder and the
// phase trackers.
func (p *Position) Poll(now uint32) []Event {
	defer irq.Enter(p.mask)()

	running := p.rpm.IsRunning(now)
	var events []Event
	if p.running && !running {
		events = append(events, p.event(EventStall, now))
		p.decoder.Reset()
		p.resetPhase()
	}
	p.running = running
	return events
}

func (p *Position) resetPhase() {
	p.cam.Reset()
	p.vvt.Reset()
	p.haveGap = false
}

func (p *Position) event(t EventType, ts uint32) Event {
	return Event{
		Type:   t,
		Micros: ts,
		Tooth:  p.decoder.ToothIndex(),
		RPM:    p.rpm.RPM(),
		Phase:  p.cam.Phase(),
	}
}

func (p *Position) crankAngle() uint16 {
	if !p.decoder.IsSynced() {
		return 0
	}
	deg := int(p.decoder.ToothIndex())*360/int(p.cfg.Wheel.TotalTeeth) + int(p.cfg.TriggerOffset)
	return uint16(deg % 360)
}

// SetVVTTarget sets the desired VVT position in degrees.
func (p *Position) SetVVTTarget(deg int16) {
	defer irq.Enter(p.mask)()
	p.vvt.SetTarget(deg)
}

// Snapshot returns the current state.
func (p *Position) Snapshot() Snapshot {
	defer irq.Enter(p.mask)()

	crank := p.crankAngle()
	return Snapshot{
		Synced:        p.decoder.IsSynced(),
		Tooth:         p.decoder.ToothIndex(),
		ToothPeriodUs: p.decoder.ToothPeriod(),
		CrankAngle:    crank,
		CycleAngle:    p.cam.FullCycleAngle(crank),
		CamSynced:     p.cam.IsSynced(),
		Phase:         p.cam.Phase(),
		Running:       p.running,
		LastEdge:      p.lastEdge,
		RPM:           p.rpm.State(),
		Decoder:       p.decoder.Stats(),
		Cam:           p.cam.Stats(),
		VVT:           p.vvt.State(),
		Diag:          p.diag.Stats(),
	}
}

// DiagnosticsLog returns the diagnostics ring, oldest first.
func (p *Position) DiagnosticsLog() []trigger.LogEntry {
	defer irq.Enter(p.mask)()
	return p.diag.Log()
}

// ClearDiagnostics zeroes the fault counters and log.
func (p *Position) ClearDiagnostics() {
	defer irq.Enter(p.mask)()
	p.diag.ClearErrors()
}

// Reset returns every stage to its power-on state. Statistics kept by the
// decoder survive.
func (p *Position) Reset() {
	defer irq.Enter(p.mask)()
	p.decoder.Reset()
	p.rpm.Reset()
	p.resetPhase()
	p.running = false
}
