package phase

// VVT position limits in crank degrees.
const (
	VVTMinDegrees = -50
	VVTMaxDegrees = 50
)

// VVTConfig describes the VVT sensor wheel.
type VVTConfig struct {
	// CrankTeeth is the crank wheel size, including missing positions.
	CrankTeeth uint8
	// VVTTeeth is the number of evenly spaced teeth on the VVT wheel.
	VVTTeeth uint8
	// ExpectedTooth is the crank tooth of a VVT edge at zero phase. A
	// negative value learns it from the first edge.
	ExpectedTooth int
	// OffsetDegrees is added to every measurement.
	OffsetDegrees int16
}

// DefaultVVTConfig returns a single-tooth VVT wheel on a 36 tooth crank that
// learns its zero position.
func DefaultVVTConfig() VVTConfig {
	return VVTConfig{
		CrankTeeth:    36,
		VVTTeeth:      1,
		ExpectedTooth: -1,
	}
}

// VVTState is a point-in-time view of the tracker.
type VVTState struct {
	Synced        bool
	Position      int16
	Target        int16
	Error         int16
	Min           int16
	Max           int16
	PeriodUs      uint32
	ToothCount    uint8
	CrankAngle    uint16
	SyncCount     uint32
	SyncLossCount uint32
	Events        uint32
}

// VVT measures cam phase relative to the crank. Not safe for concurrent use.
type VVT struct {
	cfg VVTConfig

	synced   bool
	expected uint8
	position int16
	target   int16

	min, max  int16
	haveRange bool

	lastTime   uint32
	haveLast   bool
	period     uint32
	toothCount uint8
	crankAngle uint16

	syncCount, syncLossCount, events uint32
}

// NewVVT creates a VVT tracker.
func NewVVT(cfg VVTConfig) *VVT {
	if cfg.VVTTeeth == 0 {
		cfg.VVTTeeth = 1
	}
	return &VVT{cfg: cfg}
}

// ProcessEvent feeds a VVT edge seen at the given crank tooth and angle.
func (v *VVT) ProcessEvent(crankTooth uint8, crankAngle uint16, ts uint32) {
	v.events++
	if v.haveLast {
		v.period = ts - v.lastTime
	}
	v.lastTime = ts
	v.haveLast = true
	v.crankAngle = crankAngle
	v.toothCount = (v.toothCount + 1) % v.cfg.VVTTeeth

	if !v.synced {
		v.synced = true
		v.syncCount++
		if v.cfg.ExpectedTooth < 0 {
			v.expected = crankTooth
			v.position = clampDegrees(v.cfg.OffsetDegrees)
			v.track()
			return
		}
		v.expected = uint8(v.cfg.ExpectedTooth)
	}

	v.position = clampDegrees(v.measure(crankTooth))
	v.track()
}

// measure converts the tooth distance to the nearest expected VVT tooth into
// crank degrees.
func (v *VVT) measure(crankTooth uint8) int16 {
	if v.cfg.CrankTeeth == 0 {
		return v.cfg.OffsetDegrees
	}
	spacing := int(v.cfg.CrankTeeth) / int(v.cfg.VVTTeeth)
	if spacing == 0 {
		spacing = 1
	}
	diff := (int(crankTooth) - int(v.expected)) % spacing
	if diff < 0 {
		diff += spacing
	}
	if diff >= (spacing+1)/2 {
		diff -= spacing
	}
	deg := diff * 360 / int(v.cfg.CrankTeeth)
	return int16(deg) + v.cfg.OffsetDegrees
}

func (v *VVT) track() {
	if !v.haveRange {
		v.min, v.max = v.position, v.position
		v.haveRange = true
		return
	}
	if v.position < v.min {
		v.min = v.position
	}
	if v.position > v.max {
		v.max = v.position
	}
}

func clampDegrees(d int16) int16 {
	if d < VVTMinDegrees {
		return VVTMinDegrees
	}
	if d > VVTMaxDegrees {
		return VVTMaxDegrees
	}
	return d
}

// SetTarget sets the desired position, clamped to the VVT range.
func (v *VVT) SetTarget(deg int16) {
	v.target = clampDegrees(deg)
}

// Target returns the desired position.
func (v *VVT) Target() int16 {
	return v.target
}

// Position returns the measured position, or 0 when unsynced.
func (v *VVT) Position() int16 {
	if !v.synced {
		return 0
	}
	return v.position
}

// Error returns target minus position.
func (v *VVT) Error() int16 {
	return v.target - v.Position()
}

// IsSynced reports whether a baseline is established.
func (v *VVT) IsSynced() bool {
	return v.synced
}

// State returns a snapshot of the tracker.
func (v *VVT) State() VVTState {
	return VVTState{
		Synced:        v.synced,
		Position:      v.Position(),
		Target:        v.target,
		Error:         v.Error(),
		Min:           v.min,
		Max:           v.max,
		PeriodUs:      v.period,
		ToothCount:    v.toothCount,
		CrankAngle:    v.crankAngle,
		SyncCount:     v.syncCount,
		SyncLossCount: v.syncLossCount,
		Events:        v.events,
	}
}

// Reset drops the baseline, counting a loss if it was held. The target and
// measured range are kept.
func (v *VVT) Reset() {
	if v.synced {
		v.syncLossCount++
	}
	v.synced = false
	v.position = 0
	v.expected = 0
	v.toothCount = 0
	v.haveLast = false
	v.period = 0
}
