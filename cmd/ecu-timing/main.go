// Command ecu-timing tracks crank and cam position from trigger wheel edges,
// schedules angle-based output events and publishes state changes to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/ecu-timing/internal/canbus"
	"github.com/sweeney/ecu-timing/internal/config"
	"github.com/sweeney/ecu-timing/internal/engine"
	"github.com/sweeney/ecu-timing/internal/faults"
	"github.com/sweeney/ecu-timing/internal/gpio"
	"github.com/sweeney/ecu-timing/internal/mqtt"
	"github.com/sweeney/ecu-timing/internal/plan"
	"github.com/sweeney/ecu-timing/internal/report"
	"github.com/sweeney/ecu-timing/internal/sched"
	"github.com/sweeney/ecu-timing/internal/serialcap"
	"github.com/sweeney/ecu-timing/internal/sim"
	"github.com/sweeney/ecu-timing/internal/status"
	"github.com/sweeney/ecu-timing/internal/timer"
	"github.com/sweeney/ecu-timing/internal/web"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "YAML config file")
	demo := flag.Bool("demo", false, "Play a simulated trigger wheel instead of capturing")
	capture := flag.String("capture", "", "Capture source: gpio, serial or sim (overrides config)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	poll := flag.Duration("poll", 0, "Poll interval (overrides config)")
	heartbeat := flag.Duration("heartbeat", -1, "Heartbeat interval, 0 to disable (overrides config)")
	printState := flag.Bool("print-state", false, "Capture for -sample, print status JSON and exit")
	printReport := flag.Bool("report", false, "Capture for -sample, print the diagnostics report and exit")
	sampleFor := flag.Duration("sample", 2*time.Second, "Capture window for -print-state and -report")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *demo {
		cfg.Capture.Source = config.SourceSim
	}
	if *capture != "" {
		cfg.Capture.Source = *capture
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	switch *httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = *httpAddr
	}
	if *poll > 0 {
		cfg.Runtime.Poll = *poll
	}
	if *heartbeat >= 0 {
		cfg.Runtime.Heartbeat = *heartbeat
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	var once func(*daemon) error
	switch {
	case *printState:
		once = func(d *daemon) error {
			_, err := os.Stdout.Write(append(status.FormatJSON(d.tracker.Snapshot()), '\n'))
			return err
		}
	case *printReport:
		once = func(d *daemon) error {
			return report.Render(os.Stdout, d.tracker.Snapshot(), d.position.DiagnosticsLog())
		}
	}

	if err := run(cfg, once, *sampleFor); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// openSource starts the configured capture front-end on clock.
func openSource(cfg *config.Config, clock gpio.Clock) (gpio.EdgeSource, error) {
	switch cfg.Capture.Source {
	case config.SourceSerial:
		return serialcap.Open(cfg.Capture.Serial, clock)
	case config.SourceSim:
		sc := sim.DefaultConfig()
		sc.Wheel = cfg.Engine().Wheel
		sc.RPM = cfg.Capture.SimRPM
		return sim.NewSource(sc, clock), nil
	default:
		return gpio.NewRealSource(cfg.Capture.PinCrank, cfg.Capture.PinCam, cfg.Capture.PinVVT, clock)
	}
}

func run(cfg *config.Config, once func(*daemon) error, sampleFor time.Duration) error {
	soft := timer.NewSoft(cfg.Scheduler.TimerChannels, nil)

	source, err := openSource(cfg, soft.Now)
	if err != nil {
		return fmt.Errorf("init capture: %w", err)
	}
	defer source.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		Source:      cfg.Capture.Source,
		Wheel:       cfg.WheelLabel(),
		PollMs:      cfg.Runtime.Poll.Milliseconds(),
		HeartbeatMs: cfg.Runtime.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Redis:       cfg.Redis.Addr,
		CAN:         cfg.CAN.Interface,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Outputs are driven only when the plan runs; without pins the plan
	// runs dry.
	var actuator sched.Actuator = sched.ActuatorFunc(func(sched.Kind, uint8) {})
	if cfg.Plan.Enabled && cfg.Outputs.Enabled {
		outputs, err := gpio.NewRealOutputs(cfg.Outputs.Pins)
		if err != nil {
			return fmt.Errorf("init outputs: %w", err)
		}
		defer outputs.Close()
		actuator = plan.NewActuator(outputs, len(cfg.Plan.TDC))
	}

	d := newDaemon(cfg, soft, actuator, tracker)

	if once != nil {
		d.publisher = mqtt.NewFakePublisher()
		d.sample(source, sampleFor)
		return once(d)
	}

	publisher := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	defer publisher.Close()
	d.publisher = publisher
	d.mqttStatus = publisher

	if cfg.Redis.Addr != "" {
		store := faults.NewRedisStore(cfg.Redis.Addr, cfg.Redis.DB)
		if err := store.Ping(); err != nil {
			log.Printf("redis %s unreachable, will retry: %v", cfg.Redis.Addr, err)
		}
		defer store.Close()
		d.faults = faults.NewMonitor(store)
	}

	if cfg.CAN.Interface != "" {
		bus, err := canbus.Open(cfg.CAN.Interface, cfg.CAN.FrameID)
		if err != nil {
			log.Printf("can broadcast disabled: %v", err)
		} else {
			defer bus.Close()
			d.can = bus
		}
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		d.web = srv
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: source=%s wheel=%s poll=%v broker=%s heartbeat=%v plan=%v",
		cfg.Capture.Source, cfg.WheelLabel(), cfg.Runtime.Poll, cfg.MQTT.Broker, cfg.Runtime.Heartbeat, cfg.Plan.Enabled)

	ticker := time.NewTicker(cfg.Runtime.Poll)
	defer ticker.Stop()

	var heartbeatC <-chan time.Time
	if cfg.Runtime.Heartbeat > 0 {
		hb := time.NewTicker(cfg.Runtime.Heartbeat)
		defer hb.Stop()
		heartbeatC = hb.C
	}

	var broadcastC <-chan time.Time
	if cfg.Runtime.Broadcast > 0 {
		bc := time.NewTicker(cfg.Runtime.Broadcast)
		defer bc.Stop()
		broadcastC = bc.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return d.runLoop(source, ticker.C, heartbeatC, broadcastC, sigCh)
}

// statsTimer is a timer.Service that reports counters.
type statsTimer interface {
	timer.Service
	Stats() timer.Stats
}

// daemon wires the position tracker to the scheduler and the outputs.
type daemon struct {
	position  *engine.Position
	scheduler *sched.Scheduler
	multi     *sched.MultiStage
	timer     statsTimer
	planner   *plan.Planner // nil when the plan is disabled
	tracker   *status.Tracker

	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	faults     *faults.Monitor
	can        *canbus.Broadcaster
	web        *web.Server

	now    func() time.Time
	anchor uint32
}

func newDaemon(cfg *config.Config, t statsTimer, act sched.Actuator, tracker *status.Tracker) *daemon {
	s := sched.New(sched.Config{
		Timer:           t,
		Actuator:        act,
		LateToleranceUs: cfg.Scheduler.LateToleranceUs,
	})
	d := &daemon{
		position:  engine.New(cfg.Engine(), nil),
		scheduler: s,
		multi:     sched.NewMultiStage(s, nil),
		timer:     t,
		tracker:   tracker,
		now:       time.Now,
	}
	d.position.SetVVTTarget(cfg.VVT.Target)
	if cfg.Plan.Enabled {
		d.planner = plan.New(cfg.Plan.Config, d.multi)
	}
	return d
}

// handleEdge routes one captured edge and publishes the resulting events.
func (d *daemon) handleEdge(e gpio.Edge) {
	var events []engine.Event
	switch e.Line {
	case gpio.LineCrank:
		if !e.Rising {
			return
		}
		events = d.position.ProcessCrank(e.Micros)
		d.advance()
	case gpio.LineCam:
		events = d.position.ProcessCam(e.Rising, e.Micros)
	case gpio.LineVVT:
		if e.Rising {
			d.position.ProcessVVT(e.Micros)
		}
	}
	d.publish(events)
}

// advance moves the scheduler to the latest tooth and plans the coming
// revolution once the cycle phase is known.
func (d *daemon) advance() {
	snap := d.position.Snapshot()
	if !snap.Synced || !snap.CamSynced || snap.LastEdge == d.anchor {
		return
	}
	d.anchor = snap.LastEdge
	d.scheduler.UpdateAngle(snap.CycleAngle, snap.RPM.RPM, snap.LastEdge)

	if d.planner == nil {
		return
	}
	if _, err := d.planner.Plan(snap); err != nil {
		log.Printf("plan error: %v", err)
	}
}

func (d *daemon) publish(events []engine.Event) {
	for _, event := range events {
		log.Printf("event: %s tooth=%d rpm=%d phase=%s", event.Type, event.Tooth, event.RPM, event.Phase)

		switch event.Type {
		case engine.EventSyncLoss, engine.EventCamLoss, engine.EventStall:
			if d.planner != nil {
				if n := d.planner.Abort(); n > 0 {
					log.Printf("aborted %d planned events", n)
				}
			}
		}

		if err := d.publisher.Publish(mqtt.Event{Timestamp: d.now(), Event: event}); err != nil {
			log.Printf("publish error: %v", err)
			// Don't crash on publish failure
		}
	}
}

// poll runs the stall check and refreshes the status tracker.
func (d *daemon) poll() {
	d.publish(d.position.Poll(d.timer.Now()))
	d.scheduler.ProcessEvents(d.timer.Now())
	d.refresh()
}

func (d *daemon) refresh() {
	d.tracker.Update(d.position.Snapshot())
	var ps plan.Stats
	if d.planner != nil {
		ps = d.planner.Stats()
	}
	d.tracker.UpdateScheduling(d.scheduler.Stats(), d.multi.Stats(), d.timer.Stats(), ps)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

// broadcast pushes the current state to the live sinks.
func (d *daemon) broadcast() {
	snap := d.tracker.Snapshot()
	if d.web != nil {
		d.web.Broadcast()
	}
	if d.can != nil {
		if err := d.can.Send(snap.Position, snap.Scheduler); err != nil {
			log.Printf("can send error: %v", err)
		}
	}
	if d.faults != nil {
		for _, t := range d.faults.Update(snap.Position.Diag) {
			if t.Present {
				log.Printf("fault set: %s count=%d", t.Fault, t.Delta)
			} else {
				log.Printf("fault cleared: %s", t.Fault)
			}
		}
	}
}

func (d *daemon) systemEvent(event, reason string) mqtt.SystemEvent {
	d.refresh()
	snap := d.tracker.Snapshot()
	return mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
}

func (d *daemon) shutdown(reason string) {
	if d.planner != nil {
		d.planner.Abort()
	}
	event := d.systemEvent("SHUTDOWN", reason)
	event.Retained = true
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

func (d *daemon) runLoop(source gpio.EdgeSource, tick, heartbeat, broadcast <-chan time.Time, sig <-chan os.Signal) error {
	edges := source.Edges()
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.shutdown(signalName)
			return nil

		case e, ok := <-edges:
			if !ok {
				log.Printf("capture source closed, shutting down")
				d.shutdown("SOURCE_CLOSED")
				return nil
			}
			d.handleEdge(e)

		case <-tick:
			d.poll()

		case <-broadcast:
			d.broadcast()

		case <-heartbeat:
			snap := d.tracker.Snapshot()
			log.Printf("heartbeat: uptime=%v synced=%v rpm=%d faults=%d",
				snap.Uptime().Truncate(time.Second), snap.Position.Synced, snap.Position.RPM.RPM, snap.Position.Diag.Total)

			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			if err := d.publisher.PublishSystem(d.systemEvent("HEARTBEAT", "")); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

// sample feeds edges from source for dur, then refreshes the tracker.
func (d *daemon) sample(source gpio.EdgeSource, dur time.Duration) {
	deadline := time.After(dur)
	edges := source.Edges()
	for edges != nil {
		select {
		case e, ok := <-edges:
			if !ok {
				edges = nil
				break
			}
			d.handleEdge(e)
		case <-deadline:
			edges = nil
		}
	}
	d.position.Poll(d.timer.Now())
	d.refresh()
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
