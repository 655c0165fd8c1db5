package trigger

// Decoder recovers crank position from a missing-tooth wheel.
//
// The decoder is not safe for concurrent use. Callers sharing it between an
// edge handler and foreground code must wrap access in a critical section.
type Decoder struct {
	cfg Config

	toothCount    uint8
	sinceGap      uint8
	prevToothTime uint32
	havePrev      bool
	prevPeriod    uint32
	period        uint32
	locked        bool

	stats Stats

	onSync  func()
	onTooth func(tooth uint8)
}

// NewDecoder creates a decoder for the given wheel.
func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg}
}

// Config returns the wheel geometry.
func (d *Decoder) Config() Config {
	return d.cfg
}

// SetSyncRatio changes the gap detection window.
func (d *Decoder) SetSyncRatio(from, to float32) {
	d.cfg.SyncRatioFrom = from
	d.cfg.SyncRatioTo = to
}

// SetSyncPoint changes the index assigned to the tooth after the gap.
func (d *Decoder) SetSyncPoint(tooth uint8) {
	d.cfg.SyncPointTooth = tooth
}

// SetSyncCallback registers fn to run when lock is first acquired.
func (d *Decoder) SetSyncCallback(fn func()) {
	d.onSync = fn
}

// SetToothCallback registers fn to run for every tooth while locked.
func (d *Decoder) SetToothCallback(fn func(tooth uint8)) {
	d.onTooth = fn
}

// ProcessTooth feeds one tooth edge captured at ts (µs).
// It returns what the edge did and the measured period, which is zero for the
// first edge after a reset.
func (d *Decoder) ProcessTooth(ts uint32) (Outcome, uint32) {
	d.stats.ToothEvents++

	if !d.havePrev {
		d.prevToothTime = ts
		d.havePrev = true
		return OutcomeFirst, 0
	}

	period := ts - d.prevToothTime
	if period < d.cfg.MinPeriodUs {
		return OutcomeNoise, period
	}
	d.period = period

	outcome := OutcomeScanning
	if d.isGap(period) {
		d.toothCount = d.cfg.SyncPointTooth
		d.sinceGap = 0
		d.stats.LastSyncTime = ts
		d.stats.SyncCount++
		if !d.locked {
			d.locked = true
			if d.onSync != nil {
				d.onSync()
			}
		}
		outcome = OutcomeGap
		if d.onTooth != nil {
			d.onTooth(d.toothCount)
		}
	} else if d.locked {
		if d.sinceGap+1 >= d.cfg.TotalTeeth {
			d.locked = false
			d.toothCount = 0
			d.sinceGap = 0
			d.stats.SyncLossCount++
			outcome = OutcomeSyncLost
		} else {
			d.sinceGap++
			d.toothCount = (d.toothCount + 1) % d.cfg.TotalTeeth
			outcome = OutcomeTooth
			if d.onTooth != nil {
				d.onTooth(d.toothCount)
			}
		}
	}

	d.prevPeriod = period
	d.prevToothTime = ts
	return outcome, period
}

func (d *Decoder) isGap(period uint32) bool {
	if d.prevPeriod == 0 {
		return false
	}
	ratio := float32(period) / float32(d.prevPeriod)
	return ratio >= d.cfg.SyncRatioFrom && ratio <= d.cfg.SyncRatioTo
}

// IsSynced reports whether the decoder holds lock.
func (d *Decoder) IsSynced() bool {
	return d.locked
}

// ToothIndex returns the index of the most recent tooth, or 0 when unsynced.
func (d *Decoder) ToothIndex() uint8 {
	if !d.locked {
		return 0
	}
	return d.toothCount
}

// ToothPeriod returns the last accepted tooth period in µs.
func (d *Decoder) ToothPeriod() uint32 {
	return d.period
}

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Reset drops lock and timing history. Statistics are preserved.
func (d *Decoder) Reset() {
	d.locked = false
	d.toothCount = 0
	d.sinceGap = 0
	d.prevToothTime = 0
	d.havePrev = false
	d.prevPeriod = 0
	d.period = 0
}
