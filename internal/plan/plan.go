// Package plan drives the schedulers with a fixed injection and ignition
// plan. It carries no fuel or spark model; every value comes from config.
package plan

import (
	"errors"
	"fmt"

	"github.com/sweeney/ecu-timing/internal/engine"
	"github.com/sweeney/ecu-timing/internal/sched"
)

// Config is the fixed actuation plan.
type Config struct {
	// TDC is the cycle angle of each cylinder's compression TDC. Cylinder
	// numbers are 1-based in slice order.
	TDC []uint16 `yaml:"tdc"`
	// InjectionBTDC is how far before TDC the injector opens.
	InjectionBTDC uint16 `yaml:"injection_btdc"`
	PulseWidthUs  uint32 `yaml:"pulse_width_us"`
	// AdvanceBTDC is how far before TDC the coil fires.
	AdvanceBTDC uint16 `yaml:"advance_btdc"`
	DwellUs     uint32 `yaml:"dwell_us"`
}

// DefaultConfig returns an inline four with evenly spaced TDCs.
func DefaultConfig() Config {
	return Config{
		TDC:           []uint16{0, 180, 360, 540},
		InjectionBTDC: 300,
		PulseWidthUs:  2500,
		AdvanceBTDC:   10,
		DwellUs:       3000,
	}
}

// Validate rejects plans the schedulers cannot express.
func (c Config) Validate() error {
	if len(c.TDC) == 0 {
		return errors.New("plan: no cylinders")
	}
	for i, a := range c.TDC {
		if a >= sched.CycleDegrees {
			return fmt.Errorf("plan: cylinder %d tdc %d out of range", i+1, a)
		}
	}
	if c.InjectionBTDC >= sched.CycleDegrees || c.AdvanceBTDC >= sched.CycleDegrees {
		return errors.New("plan: angle before tdc out of range")
	}
	return nil
}

// Stats are the planner counters.
type Stats struct {
	Revolutions uint32
	Planned     uint32
	Failed      uint32
}

// Planner schedules one revolution ahead each time the decoder passes the
// gap. Not safe for concurrent use.
type Planner struct {
	cfg      Config
	ms       *sched.MultiStage
	lastSync uint32
	stats    Stats
}

// New creates a planner on ms.
func New(cfg Config, ms *sched.MultiStage) *Planner {
	return &Planner{cfg: cfg, ms: ms}
}

// Plan schedules every injection and ignition pair whose first stage falls
// in the revolution starting at the snapshot's cycle angle. It does nothing
// until the cycle phase is known, and at most once per revolution. The
// scheduler angle must already be updated to the same snapshot.
func (p *Planner) Plan(s engine.Snapshot) (int, error) {
	if !s.Synced || !s.CamSynced || s.RPM.RPM < sched.MinRPM {
		return 0, nil
	}
	if s.Decoder.SyncCount == p.lastSync {
		return 0, nil
	}
	p.lastSync = s.Decoder.SyncCount
	p.stats.Revolutions++

	rpm := s.RPM.RPM
	from := s.CycleAngle
	n := 0
	var errs []error

	for i, tdc := range p.cfg.TDC {
		cyl := uint8(i + 1)

		start := sub(tdc, p.cfg.InjectionBTDC)
		if within(from, start) {
			_, err := p.ms.ScheduleInjection(cyl, start, p.cfg.PulseWidthUs,
				sched.Do(sched.KindInjectorOpen), sched.Do(sched.KindInjectorClose), rpm)
			if err != nil {
				errs = append(errs, fmt.Errorf("cylinder %d injection: %w", cyl, err))
			} else {
				n++
			}
		}

		fire := sub(tdc, p.cfg.AdvanceBTDC)
		dwell := sub(fire, dwellDegrees(p.cfg.DwellUs, rpm))
		if within(from, dwell) {
			_, err := p.ms.ScheduleIgnition(cyl, dwell, fire,
				sched.Do(sched.KindCoilCharge), sched.Do(sched.KindCoilFire), rpm)
			if err != nil {
				errs = append(errs, fmt.Errorf("cylinder %d ignition: %w", cyl, err))
			} else {
				n++
			}
		}
	}

	p.stats.Planned += uint32(n)
	p.stats.Failed += uint32(len(errs))
	return n, errors.Join(errs...)
}

// Abort cancels every planned event. Outputs already energised are switched
// off. Returns the number of events cancelled.
func (p *Planner) Abort() int {
	n := 0
	for i := range p.cfg.TDC {
		n += p.ms.CancelCylinder(uint8(i + 1))
	}
	return n
}

// Stats returns a copy of the counters.
func (p *Planner) Stats() Stats {
	return p.stats
}

func sub(a, b uint16) uint16 {
	return uint16((int(a) - int(b) + sched.CycleDegrees) % sched.CycleDegrees)
}

// within reports whether angle lies in the 360° window starting at from.
func within(from, angle uint16) bool {
	return (int(angle)-int(from)+sched.CycleDegrees)%sched.CycleDegrees < 360
}

func dwellDegrees(us uint32, rpm uint16) uint16 {
	deg := uint64(us) * uint64(rpm) * 360 / 60000000
	if deg >= 360 {
		deg = 359
	}
	return uint16(deg)
}
