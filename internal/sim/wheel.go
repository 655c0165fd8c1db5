// Package sim generates trigger wheel edges for bench runs and tests.
// Edge times are on the same wrapping microsecond clock the decoder uses.
package sim

import (
	"sort"

	"github.com/sweeney/ecu-timing/internal/gpio"
	"github.com/sweeney/ecu-timing/internal/trigger"
)

// Config describes the simulated engine.
type Config struct {
	Wheel trigger.Config
	RPM   uint16
	// CamTooth is the crank tooth the cam pulse follows, once every two
	// revolutions. Negative disables the cam.
	CamTooth int
	// VVTTooth is the crank tooth the VVT edge follows, once per
	// revolution. Negative disables VVT.
	VVTTooth int
}

// DefaultConfig returns a 36-1 wheel idling at 1200 rpm.
func DefaultConfig() Config {
	return Config{
		Wheel:    trigger.DefaultConfig(),
		RPM:      1200,
		CamTooth: 5,
		VVTTooth: 3,
	}
}

// Wheel produces edges one revolution at a time. Tooth 0 is the first tooth
// after the gap. Not safe for concurrent use.
type Wheel struct {
	cfg   Config
	start uint32
	revs  uint32
}

// NewWheel creates a wheel whose first tooth passes at start.
func NewWheel(cfg Config, start uint32) *Wheel {
	if cfg.RPM == 0 {
		cfg.RPM = 1
	}
	return &Wheel{cfg: cfg, start: start}
}

// SetRPM changes the speed from the next revolution on.
func (w *Wheel) SetRPM(rpm uint16) {
	if rpm == 0 {
		rpm = 1
	}
	w.cfg.RPM = rpm
}

// SetVVTTooth moves the VVT edge from the next revolution on.
func (w *Wheel) SetVVTTooth(tooth int) {
	w.cfg.VVTTooth = tooth
}

// ToothPeriod returns the time between adjacent tooth positions in µs.
func (w *Wheel) ToothPeriod() uint32 {
	return uint32(60000000 / (uint64(w.cfg.RPM) * uint64(w.cfg.Wheel.TotalTeeth)))
}

// Revolutions returns how many revolutions have been generated.
func (w *Wheel) Revolutions() uint32 {
	return w.revs
}

// Next returns the time the next revolution starts at.
func (w *Wheel) Next() uint32 {
	return w.start
}

// Revolution returns the edges of the next revolution in time order.
func (w *Wheel) Revolution() []gpio.Edge {
	p := w.ToothPeriod()
	base := w.start
	present := int(w.cfg.Wheel.PresentTeeth())

	edges := make([]gpio.Edge, 0, present+3)
	for k := 0; k < present; k++ {
		edges = append(edges, gpio.Edge{Line: gpio.LineCrank, Rising: true, Micros: base + uint32(k)*p})
	}

	if t := w.cfg.CamTooth; t >= 0 && w.revs%2 == 0 {
		rise := base + uint32(t)*p + p/2
		edges = append(edges,
			gpio.Edge{Line: gpio.LineCam, Rising: true, Micros: rise},
			gpio.Edge{Line: gpio.LineCam, Rising: false, Micros: rise + p/4},
		)
	}
	if t := w.cfg.VVTTooth; t >= 0 {
		edges = append(edges, gpio.Edge{Line: gpio.LineVVT, Rising: true, Micros: base + uint32(t)*p + p/3})
	}

	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Micros-base < edges[j].Micros-base
	})

	w.start = base + uint32(w.cfg.Wheel.TotalTeeth)*p
	w.revs++
	return edges
}
