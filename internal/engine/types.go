// Package engine tracks crank and cycle position by routing captured edges
// through the trigger decoder, rpm calculator, diagnostics, cam sync and VVT
// tracker.
// Time is injected as a wrapping microsecond counter.
package engine

import (
	"github.com/sweeney/ecu-timing/internal/phase"
	"github.com/sweeney/ecu-timing/internal/rpm"
	"github.com/sweeney/ecu-timing/internal/trigger"
)

// EventType is a position state transition.
type EventType string

const (
	EventSyncLock EventType = "SYNC_LOCK"
	EventSyncLoss EventType = "SYNC_LOSS"
	EventCamLock  EventType = "CAM_LOCK"
	EventCamLoss  EventType = "CAM_LOSS"
	EventStall    EventType = "STALL"
)

// Event is a transition to be published.
type Event struct {
	Type   EventType
	Micros uint32
	Tooth  uint8
	RPM    uint16
	Phase  phase.Phase
}

// Config gathers the settings of every tracking stage.
type Config struct {
	Wheel trigger.Config
	RPM   rpm.Config
	Cam   phase.CamConfig
	VVT   phase.VVTConfig
	Diag  trigger.DiagConfig
	// TriggerOffset is the crank angle of the sync point tooth, in degrees
	// after cylinder 1 TDC.
	TriggerOffset uint16
}

// DefaultConfig returns a 36-1 crank with a single-tooth cam and VVT wheel.
func DefaultConfig() Config {
	wheel := trigger.DefaultConfig()
	vvt := phase.DefaultVVTConfig()
	vvt.CrankTeeth = wheel.TotalTeeth
	return Config{
		Wheel: wheel,
		RPM:   rpm.DefaultConfig(),
		Cam: phase.CamConfig{
			CrankTeeth:     wheel.TotalTeeth,
			ToothTolerance: phase.DefaultToothTolerance,
		},
		VVT:  vvt,
		Diag: trigger.DefaultDiagConfig(),
	}
}

// Snapshot is a point-in-time view of the position tracker.
type Snapshot struct {
	Synced        bool
	Tooth         uint8
	ToothPeriodUs uint32
	CrankAngle    uint16
	CycleAngle    uint16
	CamSynced     bool
	Phase         phase.Phase
	Running       bool
	LastEdge      uint32

	RPM     rpm.State
	Decoder trigger.Stats
	Cam     phase.CamStats
	VVT     phase.VVTState
	Diag    trigger.DiagStats
}
