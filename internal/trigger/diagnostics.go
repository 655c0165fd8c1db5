package trigger

import (
	movingaverage "github.com/RobinUS2/golang-moving-average"
)

// ErrorType classifies a trigger fault.
type ErrorType string

const (
	ErrorNone         ErrorType = "NONE"
	ErrorJitter       ErrorType = "JITTER"
	ErrorNoise        ErrorType = "NOISE"
	ErrorMissingTooth ErrorType = "MISSING_TOOTH"
	ErrorExtraTooth   ErrorType = "EXTRA_TOOTH"
	ErrorSyncLoss     ErrorType = "SYNC_LOSS"
	ErrorRPMJump      ErrorType = "RPM_JUMP"
)

// ErrorTypes lists every fault class in reporting order.
var ErrorTypes = []ErrorType{
	ErrorJitter,
	ErrorNoise,
	ErrorMissingTooth,
	ErrorExtraTooth,
	ErrorSyncLoss,
	ErrorRPMJump,
}

// LogSize is the capacity of the diagnostics ring.
const LogSize = 64

// Default diagnostics thresholds.
const (
	DefaultJitterThresholdUs = 500
	DefaultNoiseMinPeriodUs  = 100
	DefaultRPMJumpThreshold  = 1000
	DefaultRPMWindow         = 8
)

// DiagConfig holds the classification thresholds.
type DiagConfig struct {
	JitterThresholdUs uint32
	NoiseMinPeriodUs  uint32
	RPMJumpThreshold  uint16
	// RPMWindow is the number of recent rpm samples the jump check averages.
	RPMWindow  int
	LogEnabled bool
}

// DefaultDiagConfig returns the standard thresholds with logging enabled.
func DefaultDiagConfig() DiagConfig {
	return DiagConfig{
		JitterThresholdUs: DefaultJitterThresholdUs,
		NoiseMinPeriodUs:  DefaultNoiseMinPeriodUs,
		RPMJumpThreshold:  DefaultRPMJumpThreshold,
		RPMWindow:         DefaultRPMWindow,
		LogEnabled:        true,
	}
}

// Sample is one tooth as seen by the diagnostics.
type Sample struct {
	Time   uint32
	Period uint32
	Tooth  uint8
	RPM    uint16
	// Gap marks the tooth ending the missing-tooth gap; its long period is expected.
	Gap bool
}

// LogEntry is one record in the diagnostics ring.
type LogEntry struct {
	Time   uint32
	Period uint32
	Tooth  uint8
	Error  ErrorType
	RPM    uint16
}

// DiagStats are the fault counters.
type DiagStats struct {
	Jitter       uint32
	Noise        uint32
	MissingTooth uint32
	ExtraTooth   uint32
	SyncLoss     uint32
	RPMJump      uint32
	Total        uint32
	MinPeriodUs  uint32
	MaxPeriodUs  uint32
}

// Count returns the counter for one fault class.
func (s DiagStats) Count(e ErrorType) uint32 {
	switch e {
	case ErrorJitter:
		return s.Jitter
	case ErrorNoise:
		return s.Noise
	case ErrorMissingTooth:
		return s.MissingTooth
	case ErrorExtraTooth:
		return s.ExtraTooth
	case ErrorSyncLoss:
		return s.SyncLoss
	case ErrorRPMJump:
		return s.RPMJump
	default:
		return 0
	}
}

// Diagnostics classifies tooth timing faults and keeps a bounded event log.
// Not safe for concurrent use.
type Diagnostics struct {
	cfg DiagConfig

	lastPeriod uint32
	stats      DiagStats

	rpmAvg     *movingaverage.MovingAverage
	rpmSamples int

	log     [LogSize]LogEntry
	logHead int
	logLen  int
}

// NewDiagnostics creates diagnostics with the given thresholds.
func NewDiagnostics(cfg DiagConfig) *Diagnostics {
	if cfg.RPMWindow <= 0 {
		cfg.RPMWindow = DefaultRPMWindow
	}
	return &Diagnostics{
		cfg:    cfg,
		rpmAvg: movingaverage.New(cfg.RPMWindow),
	}
}

// SetThresholds replaces the jitter, noise and rpm jump thresholds.
func (d *Diagnostics) SetThresholds(jitterUs, noiseMinUs uint32, rpmJump uint16) {
	d.cfg.JitterThresholdUs = jitterUs
	d.cfg.NoiseMinPeriodUs = noiseMinUs
	d.cfg.RPMJumpThreshold = rpmJump
}

// SetLogging enables or disables the event ring.
func (d *Diagnostics) SetLogging(enabled bool) {
	d.cfg.LogEnabled = enabled
}

// Process classifies one tooth and returns the fault found, if any.
func (d *Diagnostics) Process(s Sample) ErrorType {
	d.stats.Total++

	if s.Period < d.cfg.NoiseMinPeriodUs {
		d.stats.Noise++
		d.append(s, ErrorNoise)
		return ErrorNoise
	}

	if d.stats.MinPeriodUs == 0 || s.Period < d.stats.MinPeriodUs {
		d.stats.MinPeriodUs = s.Period
	}
	if s.Period > d.stats.MaxPeriodUs {
		d.stats.MaxPeriodUs = s.Period
	}

	result := ErrorNone
	if !s.Gap && d.lastPeriod != 0 && absDiff(s.Period, d.lastPeriod) > d.cfg.JitterThresholdUs {
		result = ErrorJitter
		d.stats.Jitter++
	}

	if s.RPM != 0 {
		if result == ErrorNone && d.rpmSamples >= d.cfg.RPMWindow {
			avg := d.rpmAvg.Avg()
			if diff := float64(s.RPM) - avg; diff > float64(d.cfg.RPMJumpThreshold) || -diff > float64(d.cfg.RPMJumpThreshold) {
				result = ErrorRPMJump
				d.stats.RPMJump++
			}
		}
		d.rpmAvg.Add(float64(s.RPM))
		d.rpmSamples++
	}

	if !s.Gap {
		d.lastPeriod = s.Period
	}

	d.append(s, result)
	return result
}

// Record counts a fault detected outside the per-tooth path, such as sync loss.
func (d *Diagnostics) Record(e ErrorType, ts uint32, tooth uint8, rpm uint16) {
	switch e {
	case ErrorSyncLoss:
		d.stats.SyncLoss++
		d.lastPeriod = 0
	case ErrorMissingTooth:
		d.stats.MissingTooth++
	case ErrorExtraTooth:
		d.stats.ExtraTooth++
	case ErrorJitter:
		d.stats.Jitter++
	case ErrorNoise:
		d.stats.Noise++
	case ErrorRPMJump:
		d.stats.RPMJump++
	default:
		return
	}
	d.stats.Total++
	d.append(Sample{Time: ts, Tooth: tooth, RPM: rpm}, e)
}

func (d *Diagnostics) append(s Sample, e ErrorType) {
	if !d.cfg.LogEnabled {
		return
	}
	d.log[d.logHead] = LogEntry{
		Time:   s.Time,
		Period: s.Period,
		Tooth:  s.Tooth,
		Error:  e,
		RPM:    s.RPM,
	}
	d.logHead = (d.logHead + 1) % LogSize
	if d.logLen < LogSize {
		d.logLen++
	}
}

// Log returns the ring contents, oldest first.
func (d *Diagnostics) Log() []LogEntry {
	out := make([]LogEntry, 0, d.logLen)
	start := (d.logHead - d.logLen + LogSize) % LogSize
	for i := 0; i < d.logLen; i++ {
		out = append(out, d.log[(start+i)%LogSize])
	}
	return out
}

// Stats returns a copy of the fault counters.
func (d *Diagnostics) Stats() DiagStats {
	return d.stats
}

// HasErrors reports whether any fault has been counted.
func (d *Diagnostics) HasErrors() bool {
	for _, e := range ErrorTypes {
		if d.stats.Count(e) > 0 {
			return true
		}
	}
	return false
}

// ClearErrors zeroes the counters, the period range and the log.
func (d *Diagnostics) ClearErrors() {
	d.stats = DiagStats{}
	d.lastPeriod = 0
	d.rpmAvg = movingaverage.New(d.cfg.RPMWindow)
	d.rpmSamples = 0
	d.logHead = 0
	d.logLen = 0
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
