// Package trigger decodes the crank tooth wheel and classifies trigger faults.
// This package has NO external hardware dependencies.
// Time is always injected as a free-running microsecond counter that wraps at 2^32.
package trigger

// Default wheel geometry and noise floor.
const (
	DefaultTotalTeeth    = 36
	DefaultMissingTeeth  = 1
	DefaultSyncRatioFrom = 1.5
	DefaultSyncRatioTo   = 3.0
	DefaultMinPeriodUs   = 100
)

// Config describes the crank wheel.
type Config struct {
	// TotalTeeth is the tooth count including the missing positions (36 for 36-1).
	TotalTeeth uint8
	// MissingTeeth is the number of consecutive missing positions forming the gap.
	MissingTeeth uint8
	// Gap detection window, as current period / previous period.
	SyncRatioFrom float32
	SyncRatioTo   float32
	// SyncPointTooth is the index assigned to the tooth that ends the gap.
	SyncPointTooth uint8
	// Periods shorter than this are rejected as noise.
	MinPeriodUs uint32
}

// DefaultConfig returns a 36-1 wheel.
func DefaultConfig() Config {
	return Config{
		TotalTeeth:     DefaultTotalTeeth,
		MissingTeeth:   DefaultMissingTeeth,
		SyncRatioFrom:  DefaultSyncRatioFrom,
		SyncRatioTo:    DefaultSyncRatioTo,
		SyncPointTooth: 0,
		MinPeriodUs:    DefaultMinPeriodUs,
	}
}

// PresentTeeth returns the number of physical teeth per revolution.
func (c Config) PresentTeeth() uint8 {
	return c.TotalTeeth - c.MissingTeeth
}

// LastToothIndex is the index expected immediately before the gap.
func (c Config) LastToothIndex() uint8 {
	return uint8((int(c.SyncPointTooth) + int(c.PresentTeeth()) - 1) % int(c.TotalTeeth))
}

// Outcome describes what a single tooth edge did to the decoder.
type Outcome int

const (
	// OutcomeFirst is the first edge after a reset; only its timestamp is kept.
	OutcomeFirst Outcome = iota
	// OutcomeNoise is an edge rejected by the noise floor.
	OutcomeNoise
	// OutcomeScanning is a valid edge seen while searching for the gap.
	OutcomeScanning
	// OutcomeGap is the tooth ending the missing-tooth gap.
	OutcomeGap
	// OutcomeTooth is a normal tooth while locked.
	OutcomeTooth
	// OutcomeSyncLost means the wheel overran without a gap and lock was dropped.
	OutcomeSyncLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFirst:
		return "first"
	case OutcomeNoise:
		return "noise"
	case OutcomeScanning:
		return "scanning"
	case OutcomeGap:
		return "gap"
	case OutcomeTooth:
		return "tooth"
	case OutcomeSyncLost:
		return "sync-lost"
	default:
		return "unknown"
	}
}

// Stats are the decoder counters. They survive Reset.
type Stats struct {
	SyncCount     uint32
	SyncLossCount uint32
	ToothEvents   uint32
	LastSyncTime  uint32
}
