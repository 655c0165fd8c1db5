// Package config loads daemon settings from a YAML file with environment
// variable overrides. Command-line flags are applied on top by main.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/ecu-timing/internal/engine"
	"github.com/sweeney/ecu-timing/internal/gpio"
	"github.com/sweeney/ecu-timing/internal/phase"
	"github.com/sweeney/ecu-timing/internal/plan"
	"github.com/sweeney/ecu-timing/internal/rpm"
	"github.com/sweeney/ecu-timing/internal/sched"
	"github.com/sweeney/ecu-timing/internal/serialcap"
	"github.com/sweeney/ecu-timing/internal/timer"
	"github.com/sweeney/ecu-timing/internal/trigger"
)

// Capture sources.
const (
	SourceGPIO   = "gpio"
	SourceSerial = "serial"
	SourceSim    = "sim"
)

// DefaultPath is where the daemon looks for its config file.
const DefaultPath = "/etc/ecu-timing/config.yaml"

// Config holds all daemon settings.
type Config struct {
	Wheel       WheelConfig     `yaml:"wheel"`
	RPM         RPMConfig       `yaml:"rpm"`
	Cam         CamConfig       `yaml:"cam"`
	VVT         VVTConfig       `yaml:"vvt"`
	Diagnostics DiagConfig      `yaml:"diagnostics"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Plan        PlanConfig      `yaml:"plan"`
	Capture     CaptureConfig   `yaml:"capture"`
	Outputs     OutputsConfig   `yaml:"outputs"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	HTTP        HTTPConfig      `yaml:"http"`
	Redis       RedisConfig     `yaml:"redis"`
	CAN         CANConfig       `yaml:"can"`
	Runtime     RuntimeConfig   `yaml:"runtime"`
}

type WheelConfig struct {
	TotalTeeth     uint8   `yaml:"total_teeth"`
	MissingTeeth   uint8   `yaml:"missing_teeth"`
	SyncRatioFrom  float32 `yaml:"sync_ratio_from"`
	SyncRatioTo    float32 `yaml:"sync_ratio_to"`
	SyncPointTooth uint8   `yaml:"sync_point_tooth"`
	MinPeriodUs    uint32  `yaml:"min_period_us"`
	// TriggerOffset is the crank angle of the sync point tooth after TDC.
	TriggerOffset uint16 `yaml:"trigger_offset"`
}

type RPMConfig struct {
	FilterCoeff       float32       `yaml:"filter_coeff"`
	CrankingCoeff     float32       `yaml:"cranking_coeff"`
	CrankingThreshold uint16        `yaml:"cranking_threshold"`
	StallTimeout      time.Duration `yaml:"stall_timeout"`
	AccelThreshold    int32         `yaml:"accel_threshold"`
}

type CamConfig struct {
	// ToothTolerance is how far a cam edge may drift from its baseline
	// crank tooth. Zero disables the check.
	ToothTolerance uint8 `yaml:"tooth_tolerance"`
}

type VVTConfig struct {
	Teeth         uint8 `yaml:"teeth"`
	ExpectedTooth int   `yaml:"expected_tooth"`
	OffsetDegrees int16 `yaml:"offset_degrees"`
	Target        int16 `yaml:"target"`
}

type DiagConfig struct {
	JitterThresholdUs uint32 `yaml:"jitter_threshold_us"`
	NoiseMinPeriodUs  uint32 `yaml:"noise_min_period_us"`
	RPMJumpThreshold  uint16 `yaml:"rpm_jump_threshold"`
	RPMWindow         int    `yaml:"rpm_window"`
	Log               bool   `yaml:"log"`
}

type SchedulerConfig struct {
	TimerChannels   int    `yaml:"timer_channels"`
	LateToleranceUs uint32 `yaml:"late_tolerance_us"`
}

type PlanConfig struct {
	Enabled     bool `yaml:"enabled"`
	plan.Config `yaml:",inline"`
}

type CaptureConfig struct {
	Source   string           `yaml:"source"`
	PinCrank int              `yaml:"pin_crank"`
	PinCam   int              `yaml:"pin_cam"`
	PinVVT   int              `yaml:"pin_vvt"`
	Serial   serialcap.Config `yaml:"serial"`
	SimRPM   uint16           `yaml:"sim_rpm"`
}

type OutputsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Pins lists the injector lines in cylinder order, then the coil lines.
	Pins []int `yaml:"pins"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type RedisConfig struct {
	// Addr is host:port; empty disables fault reporting.
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type CANConfig struct {
	// Interface is the SocketCAN device; empty disables broadcasting.
	Interface string `yaml:"interface"`
	FrameID   uint32 `yaml:"frame_id"`
}

type RuntimeConfig struct {
	Poll      time.Duration `yaml:"poll"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	// Broadcast is the period of CAN frames and fault reports.
	Broadcast time.Duration `yaml:"broadcast"`
}

// DefaultConfig returns a 36-1 wheel captured over GPIO with the plan and
// outputs disabled.
func DefaultConfig() *Config {
	wheel := trigger.DefaultConfig()
	r := rpm.DefaultConfig()
	d := trigger.DefaultDiagConfig()
	return &Config{
		Wheel: WheelConfig{
			TotalTeeth:     wheel.TotalTeeth,
			MissingTeeth:   wheel.MissingTeeth,
			SyncRatioFrom:  wheel.SyncRatioFrom,
			SyncRatioTo:    wheel.SyncRatioTo,
			SyncPointTooth: wheel.SyncPointTooth,
			MinPeriodUs:    wheel.MinPeriodUs,
		},
		RPM: RPMConfig{
			FilterCoeff:       r.FilterCoeff,
			CrankingCoeff:     r.CrankingCoeff,
			CrankingThreshold: r.CrankingThreshold,
			StallTimeout:      time.Duration(r.TimeoutUs) * time.Microsecond,
			AccelThreshold:    r.AccelThreshold,
		},
		Cam: CamConfig{ToothTolerance: phase.DefaultToothTolerance},
		VVT: VVTConfig{Teeth: 1, ExpectedTooth: -1},
		Diagnostics: DiagConfig{
			JitterThresholdUs: d.JitterThresholdUs,
			NoiseMinPeriodUs:  d.NoiseMinPeriodUs,
			RPMJumpThreshold:  d.RPMJumpThreshold,
			RPMWindow:         d.RPMWindow,
			Log:               d.LogEnabled,
		},
		Scheduler: SchedulerConfig{
			TimerChannels:   timer.DefaultChannels,
			LateToleranceUs: sched.DefaultLateToleranceUs,
		},
		Plan: PlanConfig{Config: plan.DefaultConfig()},
		Capture: CaptureConfig{
			Source:   SourceGPIO,
			PinCrank: gpio.PinCrank,
			PinCam:   gpio.PinCam,
			PinVVT:   gpio.PinVVT,
			Serial:   serialcap.Config{Port: "/dev/ttyACM0", BaudRate: serialcap.DefaultBaudRate},
			SimRPM:   1200,
		},
		Outputs: OutputsConfig{Pins: []int{5, 6, 13, 19, 12, 16, 20, 21}},
		MQTT:    MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "ecu-timing"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		CAN:     CANConfig{FrameID: 0x360},
		Runtime: RuntimeConfig{
			Poll:      time.Millisecond,
			Heartbeat: 15 * time.Minute,
			Broadcast: 100 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("config: no file at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		log.Printf("config: loaded %s", path)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides deployment settings from ECU_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("ECU_CAPTURE"); v != "" {
		c.Capture.Source = v
	}
	if v := os.Getenv("ECU_SERIAL_PORT"); v != "" {
		c.Capture.Serial.Port = v
	}
	if v := os.Getenv("ECU_SIM_RPM"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.Capture.SimRPM = uint16(n)
		}
	}
	if v := os.Getenv("ECU_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("ECU_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("ECU_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("ECU_CAN_INTERFACE"); v != "" {
		c.CAN.Interface = v
	}
}

// Validate rejects settings the tracking stages cannot run with.
func (c *Config) Validate() error {
	w := c.Wheel
	switch {
	case w.TotalTeeth < 2:
		return fmt.Errorf("config: wheel needs at least 2 teeth, got %d", w.TotalTeeth)
	case w.MissingTeeth == 0 || w.MissingTeeth >= w.TotalTeeth:
		return fmt.Errorf("config: missing teeth %d invalid for %d tooth wheel", w.MissingTeeth, w.TotalTeeth)
	case w.SyncRatioFrom <= 1 || w.SyncRatioTo <= w.SyncRatioFrom:
		return fmt.Errorf("config: sync ratio %.2f-%.2f invalid", w.SyncRatioFrom, w.SyncRatioTo)
	case w.SyncPointTooth >= w.TotalTeeth:
		return fmt.Errorf("config: sync point tooth %d beyond wheel", w.SyncPointTooth)
	case w.TriggerOffset >= 360:
		return fmt.Errorf("config: trigger offset %d out of range", w.TriggerOffset)
	}

	if c.RPM.FilterCoeff <= 0 || c.RPM.FilterCoeff > 1 || c.RPM.CrankingCoeff <= 0 || c.RPM.CrankingCoeff > 1 {
		return errors.New("config: rpm filter coefficients must be in (0, 1]")
	}
	if c.RPM.StallTimeout <= 0 {
		return errors.New("config: rpm stall timeout must be positive")
	}
	if c.VVT.Teeth == 0 || c.VVT.Teeth > w.TotalTeeth {
		return fmt.Errorf("config: vvt teeth %d invalid", c.VVT.Teeth)
	}
	if c.VVT.ExpectedTooth >= int(w.TotalTeeth) {
		return fmt.Errorf("config: vvt expected tooth %d beyond wheel", c.VVT.ExpectedTooth)
	}
	if c.Scheduler.TimerChannels < 1 {
		return errors.New("config: scheduler needs at least one timer channel")
	}

	if c.Plan.Enabled {
		if err := c.Plan.Validate(); err != nil {
			return err
		}
	}
	if c.Outputs.Enabled && len(c.Outputs.Pins) != 2*len(c.Plan.TDC) {
		return fmt.Errorf("config: %d output pins for %d cylinders, want %d", len(c.Outputs.Pins), len(c.Plan.TDC), 2*len(c.Plan.TDC))
	}

	switch c.Capture.Source {
	case SourceGPIO, SourceSim:
	case SourceSerial:
		if c.Capture.Serial.Port == "" {
			return errors.New("config: serial capture needs a port")
		}
	default:
		return fmt.Errorf("config: unknown capture source %q", c.Capture.Source)
	}

	if c.Runtime.Poll <= 0 {
		return errors.New("config: poll interval must be positive")
	}
	return nil
}

// Engine returns the position tracker settings.
func (c *Config) Engine() engine.Config {
	wheel := trigger.Config{
		TotalTeeth:     c.Wheel.TotalTeeth,
		MissingTeeth:   c.Wheel.MissingTeeth,
		SyncRatioFrom:  c.Wheel.SyncRatioFrom,
		SyncRatioTo:    c.Wheel.SyncRatioTo,
		SyncPointTooth: c.Wheel.SyncPointTooth,
		MinPeriodUs:    c.Wheel.MinPeriodUs,
	}
	return engine.Config{
		Wheel: wheel,
		RPM: rpm.Config{
			FilterCoeff:       c.RPM.FilterCoeff,
			CrankingCoeff:     c.RPM.CrankingCoeff,
			CrankingThreshold: c.RPM.CrankingThreshold,
			TimeoutUs:         uint32(c.RPM.StallTimeout / time.Microsecond),
			AccelThreshold:    c.RPM.AccelThreshold,
		},
		Cam: phase.CamConfig{
			CrankTeeth:     wheel.TotalTeeth,
			ToothTolerance: c.Cam.ToothTolerance,
		},
		VVT: phase.VVTConfig{
			CrankTeeth:    wheel.TotalTeeth,
			VVTTeeth:      c.VVT.Teeth,
			ExpectedTooth: c.VVT.ExpectedTooth,
			OffsetDegrees: c.VVT.OffsetDegrees,
		},
		Diag: trigger.DiagConfig{
			JitterThresholdUs: c.Diagnostics.JitterThresholdUs,
			NoiseMinPeriodUs:  c.Diagnostics.NoiseMinPeriodUs,
			RPMJumpThreshold:  c.Diagnostics.RPMJumpThreshold,
			RPMWindow:         c.Diagnostics.RPMWindow,
			LogEnabled:        c.Diagnostics.Log,
		},
		TriggerOffset: c.Wheel.TriggerOffset,
	}
}

// WheelLabel returns the wheel in N-M notation.
func (c *Config) WheelLabel() string {
	return fmt.Sprintf("%d-%d", c.Wheel.TotalTeeth, c.Wheel.MissingTeeth)
}
