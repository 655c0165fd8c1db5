// Package status provides a thread-safe status tracker for the ecu-timing daemon.
// It is read by HTTP handlers, the websocket stream and heartbeat events.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/ecu-timing/internal/engine"
	"github.com/sweeney/ecu-timing/internal/plan"
	"github.com/sweeney/ecu-timing/internal/sched"
	"github.com/sweeney/ecu-timing/internal/timer"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Source      string // capture source: gpio, serial or sim
	Wheel       string // e.g. "36-1"
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Redis       string // empty = disabled
	CAN         string // empty = disabled
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	BootID        string
	Position      engine.Snapshot
	Scheduler     sched.Stats
	MultiStage    sched.MultiStats
	Timer         timer.Stats
	Plan          plan.Stats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config. Each
// tracker gets a fresh boot id.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			BootID:    uuid.NewString(),
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the latest position snapshot. Called from runLoop on every tick.
func (t *Tracker) Update(pos engine.Snapshot) {
	t.mu.Lock()
	t.snap.Position = pos
	t.mu.Unlock()
}

// UpdateScheduling stores scheduler, timer and plan counters.
func (t *Tracker) UpdateScheduling(s sched.Stats, m sched.MultiStats, ts timer.Stats, p plan.Stats) {
	t.mu.Lock()
	t.snap.Scheduler = s
	t.snap.MultiStage = m
	t.snap.Timer = ts
	t.snap.Plan = p
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
