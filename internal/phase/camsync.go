// Package phase resolves the 720° engine cycle from the cam signal and
// measures variable valve timing.
package phase

// Phase identifies which crank revolution of the cycle is in progress.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseFirst360
	PhaseSecond360
)

func (p Phase) String() string {
	switch p {
	case PhaseFirst360:
		return "FIRST_360"
	case PhaseSecond360:
		return "SECOND_360"
	default:
		return "UNKNOWN"
	}
}

func (p Phase) toggle() Phase {
	if p == PhaseFirst360 {
		return PhaseSecond360
	}
	return PhaseFirst360
}

// CamOutcome describes what a cam edge did.
type CamOutcome int

const (
	// CamIgnored is a falling edge or a repeated level.
	CamIgnored CamOutcome = iota
	// CamBaseline recorded the reference crank tooth and is waiting for the next edge.
	CamBaseline
	// CamLocked completed acquisition; the cycle phase is known.
	CamLocked
	// CamToggled confirmed the phase while synced. Without revolution
	// reports the edge also toggled it.
	CamToggled
	// CamLost failed validation; acquisition restarts from this edge.
	CamLost
)

// DefaultToothTolerance is how far, in crank teeth, a cam edge may drift
// from its baseline before phase is considered lost.
const DefaultToothTolerance = 2

// CamConfig configures edge validation.
type CamConfig struct {
	// CrankTeeth is the crank wheel size used for tooth distance. Zero
	// disables the tooth check.
	CrankTeeth uint8
	// ToothTolerance is the allowed distance from the baseline tooth.
	ToothTolerance uint8
}

// CamStats are the cam counters.
type CamStats struct {
	SyncCount     uint32
	SyncLossCount uint32
	Events        uint32
	BaselineTooth uint8
	LastEdge      uint32
}

// CamSync tracks the cycle phase from rising cam edges. Not safe for
// concurrent use.
type CamSync struct {
	cfg CamConfig

	phase        Phase
	synced       bool
	haveBaseline bool
	lastSignal   bool

	revs        uint32
	revsTracked bool
	// edgeRevs is the revolutions between edges learned at lock: 1 for an
	// edge every revolution, 2 for one per cycle.
	edgeRevs  uint32
	edgePhase Phase

	stats  CamStats
	onSync func(Phase)
}

// NewCamSync creates a cam tracker.
func NewCamSync(cfg CamConfig) *CamSync {
	return &CamSync{cfg: cfg}
}

// SetSyncCallback registers fn to run when the phase is first resolved.
func (c *CamSync) SetSyncCallback(fn func(Phase)) {
	c.onSync = fn
}

// OnCrankRevolution records a completed crank revolution and flips the
// phase. Once revolutions are reported, cam edges validate the phase
// instead of toggling it.
func (c *CamSync) OnCrankRevolution() {
	c.revsTracked = true
	if !c.haveBaseline {
		return
	}
	if c.revs < ^uint32(0) {
		c.revs++
	}
	c.phase = c.phase.toggle()
}

// ProcessEvent feeds the cam signal level sampled at ts together with the
// crank tooth index at that moment.
func (c *CamSync) ProcessEvent(signal bool, crankTooth uint8, ts uint32) CamOutcome {
	rising := signal && !c.lastSignal
	c.lastSignal = signal
	if !rising {
		return CamIgnored
	}

	c.stats.Events++
	c.stats.LastEdge = ts

	if !c.haveBaseline {
		c.startBaseline(crankTooth)
		return CamBaseline
	}

	if !c.synced {
		if !c.toothMatches(crankTooth) {
			c.startBaseline(crankTooth)
			return CamBaseline
		}
		revs, ok := c.takeRevolutions()
		if !ok || revs > 2 {
			c.startBaseline(crankTooth)
			return CamBaseline
		}
		if !c.revsTracked {
			c.phase = c.phase.toggle()
		}
		c.edgeRevs = revs
		c.edgePhase = c.phase
		c.synced = true
		c.stats.SyncCount++
		if c.onSync != nil {
			c.onSync(c.phase)
		}
		return CamLocked
	}

	if !c.toothMatches(crankTooth) {
		c.lose(crankTooth)
		return CamLost
	}
	revs, ok := c.takeRevolutions()
	if !ok {
		c.lose(crankTooth)
		return CamLost
	}
	if !c.revsTracked {
		c.phase = c.phase.toggle()
		return CamToggled
	}
	// A once-per-cycle edge must land in the revolution it locked in.
	if c.edgeRevs == 2 && (revs%2 != 0 || c.phase != c.edgePhase) {
		c.lose(crankTooth)
		return CamLost
	}
	return CamToggled
}

func (c *CamSync) startBaseline(crankTooth uint8) {
	c.haveBaseline = true
	c.stats.BaselineTooth = crankTooth
	c.phase = PhaseFirst360
	c.revs = 0
}

func (c *CamSync) lose(crankTooth uint8) {
	c.synced = false
	c.stats.SyncLossCount++
	c.startBaseline(crankTooth)
}

// takeRevolutions returns the revolutions since the previous edge. Without
// revolution reports every edge counts as one. Zero revolutions means an
// extra edge.
func (c *CamSync) takeRevolutions() (uint32, bool) {
	if !c.revsTracked {
		return 1, true
	}
	n := c.revs
	c.revs = 0
	return n, n > 0
}

func (c *CamSync) toothMatches(crankTooth uint8) bool {
	if c.cfg.CrankTeeth == 0 {
		return true
	}
	n := int(c.cfg.CrankTeeth)
	d := (int(crankTooth) - int(c.stats.BaselineTooth) + n) % n
	if d > n/2 {
		d = n - d
	}
	return d <= int(c.cfg.ToothTolerance)
}

// Phase returns the current phase, or PhaseUnknown until IsSynced.
func (c *CamSync) Phase() Phase {
	if !c.synced {
		return PhaseUnknown
	}
	return c.phase
}

// IsSynced reports whether the cycle phase is known.
func (c *CamSync) IsSynced() bool {
	return c.synced
}

// FullCycleAngle maps a crank angle to 0–720°. Without phase sync the angle
// is returned modulo 360.
func (c *CamSync) FullCycleAngle(crankAngle uint16) uint16 {
	a := crankAngle % 360
	if c.synced && c.phase == PhaseSecond360 {
		a += 360
	}
	return a
}

// Stats returns a copy of the counters.
func (c *CamSync) Stats() CamStats {
	return c.stats
}

// Reset drops phase sync, counting a loss if it was held.
func (c *CamSync) Reset() {
	if c.synced {
		c.stats.SyncLossCount++
	}
	c.phase = PhaseUnknown
	c.synced = false
	c.haveBaseline = false
	c.lastSignal = false
	c.revs = 0
	c.revsTracked = false
	c.edgeRevs = 0
	c.edgePhase = PhaseUnknown
}
