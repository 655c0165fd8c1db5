package trigger

import "testing"

func TestDiagnosticsNoise(t *testing.T) {
	d := NewDiagnostics(DefaultDiagConfig())

	if got := d.Process(Sample{Time: 10, Period: 50}); got != ErrorNoise {
		t.Errorf("50us period: got %v, want NOISE", got)
	}
	if got := d.Stats().Noise; got != 1 {
		t.Errorf("noise count: got %d, want 1", got)
	}
	// Noise does not enter the period range.
	if got := d.Stats().MinPeriodUs; got != 0 {
		t.Errorf("min period: got %d, want 0", got)
	}
}

func TestDiagnosticsJitter(t *testing.T) {
	d := NewDiagnostics(DefaultDiagConfig())

	if got := d.Process(Sample{Period: 10000}); got != ErrorNone {
		t.Fatalf("first tooth: got %v, want NONE", got)
	}
	if got := d.Process(Sample{Period: 10400}); got != ErrorNone {
		t.Errorf("400us change: got %v, want NONE", got)
	}
	if got := d.Process(Sample{Period: 11000}); got != ErrorJitter {
		t.Errorf("600us change: got %v, want JITTER", got)
	}
	if got := d.Stats().Jitter; got != 1 {
		t.Errorf("jitter count: got %d, want 1", got)
	}
	// The reference follows the new period, so a steady step is flagged once.
	if got := d.Process(Sample{Period: 11000}); got != ErrorNone {
		t.Errorf("steady after step: got %v, want NONE", got)
	}
}

func TestDiagnosticsGapIsNotJitter(t *testing.T) {
	d := NewDiagnostics(DefaultDiagConfig())

	d.Process(Sample{Period: 10000})
	if got := d.Process(Sample{Period: 20000, Gap: true}); got != ErrorNone {
		t.Errorf("gap tooth: got %v, want NONE", got)
	}
	// The tooth after the gap compares against the pre-gap period.
	if got := d.Process(Sample{Period: 10100}); got != ErrorNone {
		t.Errorf("tooth after gap: got %v, want NONE", got)
	}
	if got := d.Stats().MaxPeriodUs; got != 20000 {
		t.Errorf("max period: got %d, want 20000", got)
	}
	if got := d.Stats().MinPeriodUs; got != 10000 {
		t.Errorf("min period: got %d, want 10000", got)
	}
}

func TestDiagnosticsRPMJump(t *testing.T) {
	cfg := DefaultDiagConfig()
	cfg.RPMWindow = 4
	d := NewDiagnostics(cfg)

	// No jump detection until the window is filled.
	if got := d.Process(Sample{Period: 10000, RPM: 3000}); got != ErrorNone {
		t.Fatalf("first sample: got %v, want NONE", got)
	}
	for i := 0; i < 3; i++ {
		d.Process(Sample{Period: 10000, RPM: 1000})
	}

	if got := d.Process(Sample{Period: 10000, RPM: 1400}); got != ErrorNone {
		t.Errorf("small change: got %v, want NONE", got)
	}
	if got := d.Process(Sample{Period: 10000, RPM: 4000}); got != ErrorRPMJump {
		t.Errorf("large change: got %v, want RPM_JUMP", got)
	}
	if got := d.Stats().RPMJump; got != 1 {
		t.Errorf("rpm jump count: got %d, want 1", got)
	}
}

func TestDiagnosticsRecord(t *testing.T) {
	d := NewDiagnostics(DefaultDiagConfig())

	d.Record(ErrorSyncLoss, 100, 35, 800)
	d.Record(ErrorMissingTooth, 200, 20, 800)
	d.Record(ErrorExtraTooth, 300, 0, 800)
	d.Record(ErrorNone, 400, 0, 0)

	s := d.Stats()
	if s.SyncLoss != 1 || s.MissingTooth != 1 || s.ExtraTooth != 1 {
		t.Errorf("counts: got %+v", s)
	}
	if s.Total != 3 {
		t.Errorf("total: got %d, want 3", s.Total)
	}
	if !d.HasErrors() {
		t.Error("expected HasErrors")
	}
}

func TestDiagnosticsLogOrder(t *testing.T) {
	d := NewDiagnostics(DefaultDiagConfig())

	for i := 0; i < LogSize+10; i++ {
		d.Process(Sample{Time: uint32(i), Period: 10000})
	}

	log := d.Log()
	if len(log) != LogSize {
		t.Fatalf("log length: got %d, want %d", len(log), LogSize)
	}
	if log[0].Time != 10 {
		t.Errorf("oldest entry: got time %d, want 10", log[0].Time)
	}
	if log[LogSize-1].Time != LogSize+9 {
		t.Errorf("newest entry: got time %d, want %d", log[LogSize-1].Time, LogSize+9)
	}
}

func TestDiagnosticsLoggingDisabled(t *testing.T) {
	cfg := DefaultDiagConfig()
	cfg.LogEnabled = false
	d := NewDiagnostics(cfg)

	d.Process(Sample{Period: 50})
	if got := len(d.Log()); got != 0 {
		t.Errorf("log length: got %d, want 0", got)
	}
	if got := d.Stats().Noise; got != 1 {
		t.Errorf("noise still counted: got %d, want 1", got)
	}
}

func TestDiagnosticsClearErrors(t *testing.T) {
	d := NewDiagnostics(DefaultDiagConfig())
	d.Process(Sample{Period: 50})
	d.Process(Sample{Period: 10000})
	d.Process(Sample{Period: 12000})

	d.ClearErrors()

	if d.HasErrors() {
		t.Error("expected no errors after clear")
	}
	if got := d.Stats(); got != (DiagStats{}) {
		t.Errorf("stats: got %+v, want zero", got)
	}
	if got := len(d.Log()); got != 0 {
		t.Errorf("log length: got %d, want 0", got)
	}
	// The jitter reference is gone too.
	if got := d.Process(Sample{Period: 20000}); got != ErrorNone {
		t.Errorf("first tooth after clear: got %v, want NONE", got)
	}
}

func TestDiagnosticsSetThresholds(t *testing.T) {
	d := NewDiagnostics(DefaultDiagConfig())
	d.SetThresholds(100, 500, 1000)

	if got := d.Process(Sample{Period: 400}); got != ErrorNoise {
		t.Errorf("400us with 500us floor: got %v, want NOISE", got)
	}
	d.Process(Sample{Period: 10000})
	if got := d.Process(Sample{Period: 10200}); got != ErrorJitter {
		t.Errorf("200us change with 100us threshold: got %v, want JITTER", got)
	}
}

func TestDiagStatsCount(t *testing.T) {
	s := DiagStats{Jitter: 1, Noise: 2, MissingTooth: 3, ExtraTooth: 4, SyncLoss: 5, RPMJump: 6}
	for i, e := range ErrorTypes {
		if got := s.Count(e); got != uint32(i+1) {
			t.Errorf("%s: got %d, want %d", e, got, i+1)
		}
	}
	if got := s.Count(ErrorNone); got != 0 {
		t.Errorf("NONE: got %d, want 0", got)
	}
}
