package sim

import (
	"testing"

	"github.com/sweeney/ecu-timing/internal/gpio"
	"github.com/sweeney/ecu-timing/internal/trigger"
)

func count(edges []gpio.Edge, line gpio.Line) int {
	n := 0
	for _, e := range edges {
		if e.Line == line && e.Rising {
			n++
		}
	}
	return n
}

func TestWheelToothPeriod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPM = 1000
	w := NewWheel(cfg, 0)

	// 60e6 / (1000 * 36)
	if got := w.ToothPeriod(); got != 1666 {
		t.Errorf("tooth period: got %d, want 1666", got)
	}
}

func TestWheelRevolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPM = 1000
	w := NewWheel(cfg, 5000)

	first := w.Revolution()
	if got := count(first, gpio.LineCrank); got != 35 {
		t.Errorf("crank edges: got %d, want 35", got)
	}
	if got := count(first, gpio.LineCam); got != 1 {
		t.Errorf("cam edges: got %d, want 1", got)
	}
	if got := count(first, gpio.LineVVT); got != 1 {
		t.Errorf("vvt edges: got %d, want 1", got)
	}
	if first[0].Micros != 5000 {
		t.Errorf("first edge: got %d, want 5000", first[0].Micros)
	}

	second := w.Revolution()
	if got := count(second, gpio.LineCam); got != 0 {
		t.Errorf("cam edges on second revolution: got %d, want 0", got)
	}
	if second[0].Micros != 5000+36*1666 {
		t.Errorf("second revolution start: got %d, want %d", second[0].Micros, 5000+36*1666)
	}
	if w.Revolutions() != 2 {
		t.Errorf("revolutions: got %d, want 2", w.Revolutions())
	}
}

func TestWheelEdgesOrdered(t *testing.T) {
	// Start just before the clock wraps.
	w := NewWheel(DefaultConfig(), 0xFFFF0000)

	var prev uint32
	for r := 0; r < 4; r++ {
		for i, e := range w.Revolution() {
			if (r > 0 || i > 0) && int32(e.Micros-prev) < 0 {
				t.Fatalf("revolution %d edge %d at %d before %d", r, i, e.Micros, prev)
			}
			prev = e.Micros
		}
	}
}

func TestWheelCamFollowsTooth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CamTooth = 7
	w := NewWheel(cfg, 0)

	crank := -1
	for _, e := range w.Revolution() {
		switch e.Line {
		case gpio.LineCrank:
			crank++
		case gpio.LineCam:
			if e.Rising && crank != 7 {
				t.Errorf("cam edge after tooth %d, want 7", crank)
			}
		}
	}
}

func TestWheelDisabledLines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CamTooth = -1
	cfg.VVTTooth = -1
	w := NewWheel(cfg, 0)

	edges := w.Revolution()
	if len(edges) != 35 {
		t.Errorf("edges: got %d, want 35", len(edges))
	}
}

func TestWheelLocksDecoder(t *testing.T) {
	cfg := DefaultConfig()
	w := NewWheel(cfg, 0)
	d := trigger.NewDecoder(cfg.Wheel)

	for r := 0; r < 3; r++ {
		for _, e := range w.Revolution() {
			if e.Line == gpio.LineCrank {
				d.ProcessTooth(e.Micros)
			}
		}
	}

	if !d.IsSynced() {
		t.Fatal("expected decoder lock")
	}
	st := d.Stats()
	if st.SyncCount != 2 || st.SyncLossCount != 0 {
		t.Errorf("stats: got %+v, want 2 syncs, 0 losses", st)
	}
	if got := d.ToothIndex(); got != 34 {
		t.Errorf("tooth: got %d, want 34", got)
	}
}
