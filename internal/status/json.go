package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/ecu-timing/internal/trigger"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	BootID        string         `json:"boot_id"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	Position      PositionJSON   `json:"position"`
	VVT           VVTJSON        `json:"vvt"`
	Diagnostics   map[string]int `json:"diagnostics"`
	Scheduler     SchedulerJSON  `json:"scheduler"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// PositionJSON reports crank and cycle tracking.
type PositionJSON struct {
	Synced        bool   `json:"synced"`
	CamSynced     bool   `json:"cam_synced"`
	Running       bool   `json:"running"`
	Phase         string `json:"phase"`
	Tooth         uint8  `json:"tooth"`
	CrankAngle    uint16 `json:"crank_angle"`
	CycleAngle    uint16 `json:"cycle_angle"`
	ToothPeriodUs uint32 `json:"tooth_period_us"`
	RPM           uint16 `json:"rpm"`
	InstantRPM    uint16 `json:"instant_rpm"`
	Cranking      bool   `json:"cranking"`
	Revolutions   uint32 `json:"revolutions"`
	SyncCount     uint32 `json:"sync_count"`
	SyncLossCount uint32 `json:"sync_loss_count"`
}

// VVTJSON reports cam phasing.
type VVTJSON struct {
	Synced   bool  `json:"synced"`
	Position int16 `json:"position"`
	Target   int16 `json:"target"`
	Error    int16 `json:"error"`
}

// SchedulerJSON reports event scheduling counters.
type SchedulerJSON struct {
	Scheduled   uint32 `json:"scheduled"`
	Fired       uint32 `json:"fired"`
	Missed      uint32 `json:"missed"`
	Active      int    `json:"active"`
	StagesDone  uint32 `json:"stages_completed"`
	TimersArmed int    `json:"timers_armed"`
	TimersLate  uint32 `json:"timers_late"`
	PlanFailed  uint32 `json:"plan_failed"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Source      string `json:"source"`
	Wheel       string `json:"wheel"`
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Redis       string `json:"redis,omitempty"`
	CAN         string `json:"can,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	pos := snap.Position
	diag := make(map[string]int, len(trigger.ErrorTypes))
	for _, e := range trigger.ErrorTypes {
		diag[string(e)] = int(pos.Diag.Count(e))
	}

	return StatusInner{
		BootID:        snap.BootID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Position: PositionJSON{
			Synced:        pos.Synced,
			CamSynced:     pos.CamSynced,
			Running:       pos.Running,
			Phase:         pos.Phase.String(),
			Tooth:         pos.Tooth,
			CrankAngle:    pos.CrankAngle,
			CycleAngle:    pos.CycleAngle,
			ToothPeriodUs: pos.ToothPeriodUs,
			RPM:           pos.RPM.RPM,
			InstantRPM:    pos.RPM.InstantRPM,
			Cranking:      pos.RPM.Cranking,
			Revolutions:   pos.RPM.Revolutions,
			SyncCount:     pos.Decoder.SyncCount,
			SyncLossCount: pos.Decoder.SyncLossCount,
		},
		VVT: VVTJSON{
			Synced:   pos.VVT.Synced,
			Position: pos.VVT.Position,
			Target:   pos.VVT.Target,
			Error:    pos.VVT.Error,
		},
		Diagnostics: diag,
		Scheduler: SchedulerJSON{
			Scheduled:   snap.Scheduler.Scheduled,
			Fired:       snap.Scheduler.Fired,
			Missed:      snap.Scheduler.Missed,
			Active:      snap.Scheduler.Active,
			StagesDone:  snap.MultiStage.Completed,
			TimersArmed: snap.Timer.Armed,
			TimersLate:  snap.Timer.Late,
			PlanFailed:  snap.Plan.Failed,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Source:      snap.Config.Source,
			Wheel:       snap.Config.Wheel,
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Redis:       snap.Config.Redis,
			CAN:         snap.Config.CAN,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatCompact is FormatJSON without indentation, for streaming.
func FormatCompact(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
