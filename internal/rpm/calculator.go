// Package rpm derives filtered engine speed from crank tooth periods.
// Time is injected as a wrapping microsecond counter.
package rpm

import "math"

// Defaults for the filter and stall detection.
const (
	DefaultFilterCoeff       = 0.05
	DefaultCrankingCoeff     = 0.2
	DefaultCrankingThreshold = 400
	DefaultTimeoutUs         = 1000000
	DefaultAccelThreshold    = 50

	// MinRevolutionUs rejects revolution periods faster than 60000 rpm.
	MinRevolutionUs = 1000
	// accelWindowUs is the shortest interval acceleration is evaluated over.
	accelWindowUs = 100000

	usPerMinute = 60000000
)

// Config holds the filter and stall settings.
type Config struct {
	FilterCoeff       float32
	CrankingCoeff     float32
	CrankingThreshold uint16
	TimeoutUs         uint32
	// AccelThreshold is the rpm/s beyond which the accelerating or
	// decelerating flags are set.
	AccelThreshold int32
}

// DefaultConfig returns the standard filter settings.
func DefaultConfig() Config {
	return Config{
		FilterCoeff:       DefaultFilterCoeff,
		CrankingCoeff:     DefaultCrankingCoeff,
		CrankingThreshold: DefaultCrankingThreshold,
		TimeoutUs:         DefaultTimeoutUs,
		AccelThreshold:    DefaultAccelThreshold,
	}
}

// State is a point-in-time view of the calculator.
type State struct {
	RPM          uint16
	InstantRPM   uint16
	Acceleration int32
	Cranking     bool
	Stopped      bool
	Accelerating bool
	Decelerating bool
	Revolutions  uint32
	LastUpdate   uint32
}

// Calculator filters instantaneous rpm samples. Not safe for concurrent use.
type Calculator struct {
	cfg Config

	filtered   float32
	instant    uint16
	lastUpdate uint32
	updated    bool
	stopped    bool
	cranking   bool

	accel       int32
	accelRPM    float32
	accelTime   uint32
	accelPrimed bool

	revolutions uint32
}

// New creates a calculator. The engine is considered stopped until the
// first sample arrives.
func New(cfg Config) *Calculator {
	return &Calculator{cfg: cfg, stopped: true}
}

// Config returns the current settings.
func (c *Calculator) Config() Config {
	return c.cfg
}

// SetFilterCoeff changes the running filter coefficient.
func (c *Calculator) SetFilterCoeff(alpha float32) {
	c.cfg.FilterCoeff = alpha
}

// SetCranking changes the cranking threshold and coefficient.
func (c *Calculator) SetCranking(threshold uint16, alpha float32) {
	c.cfg.CrankingThreshold = threshold
	c.cfg.CrankingCoeff = alpha
}

// SetTimeout changes the stall timeout.
func (c *Calculator) SetTimeout(us uint32) {
	c.cfg.TimeoutUs = us
}

// OnTooth feeds the period of one tooth on a wheel with teethPerRev teeth.
// Periods implying more than 60000 rpm are ignored.
func (c *Calculator) OnTooth(periodUs uint32, teethPerRev uint16, now uint32) {
	if teethPerRev == 0 {
		return
	}
	rev := uint64(periodUs) * uint64(teethPerRev)
	if rev < MinRevolutionUs {
		return
	}
	c.update(instantFrom(rev), now)
}

// OnRevolution feeds the period of a full crank revolution.
func (c *Calculator) OnRevolution(periodUs uint32, now uint32) {
	if periodUs < MinRevolutionUs {
		return
	}
	c.revolutions++
	c.update(instantFrom(uint64(periodUs)), now)
}

func instantFrom(revUs uint64) uint16 {
	v := usPerMinute / revUs
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func (c *Calculator) update(instant uint16, now uint32) {
	c.instant = instant

	if !c.updated || c.stopped {
		c.filtered = float32(instant)
	} else {
		alpha := c.cfg.FilterCoeff
		if c.cranking {
			alpha = c.cfg.CrankingCoeff
		}
		c.filtered = float32(instant)*alpha + c.filtered*(1-alpha)
	}

	c.updated = true
	c.stopped = false
	c.lastUpdate = now
	c.cranking = c.RPM() < c.cfg.CrankingThreshold
	c.updateAcceleration(now)
}

func (c *Calculator) updateAcceleration(now uint32) {
	if !c.accelPrimed {
		c.accelRPM = c.filtered
		c.accelTime = now
		c.accelPrimed = true
		return
	}
	dt := now - c.accelTime
	if dt < accelWindowUs {
		return
	}
	c.accel = int32(float64(c.filtered-c.accelRPM) * 1e6 / float64(dt))
	c.accelRPM = c.filtered
	c.accelTime = now
}

// RPM returns the filtered speed, or 0 once stopped.
func (c *Calculator) RPM() uint16 {
	if c.stopped {
		return 0
	}
	v := c.filtered + 0.5
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// InstantRPM returns the unfiltered speed of the last sample.
func (c *Calculator) InstantRPM() uint16 {
	return c.instant
}

// Acceleration returns the rate of change in rpm/s.
func (c *Calculator) Acceleration() int32 {
	return c.accel
}

// IsAccelerating reports acceleration above the threshold.
func (c *Calculator) IsAccelerating() bool {
	return !c.stopped && c.accel > c.cfg.AccelThreshold
}

// IsDecelerating reports deceleration beyond the threshold.
func (c *Calculator) IsDecelerating() bool {
	return !c.stopped && c.accel < -c.cfg.AccelThreshold
}

// IsCranking reports whether the engine turns below the cranking threshold.
func (c *Calculator) IsCranking() bool {
	return !c.stopped && c.cranking
}

// Revolutions returns the number of full revolutions seen.
func (c *Calculator) Revolutions() uint32 {
	return c.revolutions
}

// IsRunning applies the stall timeout at now and reports whether the engine
// is turning.
func (c *Calculator) IsRunning(now uint32) bool {
	c.CheckTimeout(now)
	return c.updated && !c.stopped && c.RPM() > 0
}

// CheckTimeout marks the engine stopped when no sample arrived within the
// timeout.
func (c *Calculator) CheckTimeout(now uint32) {
	if !c.updated || c.stopped {
		return
	}
	if now-c.lastUpdate > c.cfg.TimeoutUs {
		c.filtered = 0
		c.instant = 0
		c.accel = 0
		c.accelPrimed = false
		c.cranking = false
		c.stopped = true
	}
}

// State returns a snapshot of the calculator.
func (c *Calculator) State() State {
	return State{
		RPM:          c.RPM(),
		InstantRPM:   c.instant,
		Acceleration: c.accel,
		Cranking:     c.IsCranking(),
		Stopped:      c.stopped,
		Accelerating: c.IsAccelerating(),
		Decelerating: c.IsDecelerating(),
		Revolutions:  c.revolutions,
		LastUpdate:   c.lastUpdate,
	}
}

// Reset clears all state. Configuration is kept.
func (c *Calculator) Reset() {
	*c = Calculator{cfg: c.cfg, stopped: true}
}
