//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// ChipName is the GPIO character device used for capture and outputs.
const ChipName = "gpiochip0"

// RealSource captures trigger edges from the Linux GPIO character device.
// Kernel edge timestamps are mapped onto the timer clock so period
// measurements keep kernel precision.
type RealSource struct {
	lines []*gpiocdev.Line
	ch    chan Edge

	clock     Clock
	offsetSet sync.Once
	offset    uint32

	dropped atomic.Uint32
	closed  atomic.Bool
	mu      sync.Mutex
}

// NewRealSource requests the crank, cam and VVT lines. A negative pin
// disables that input.
func NewRealSource(pinCrank, pinCam, pinVVT int, clock Clock) (*RealSource, error) {
	s := &RealSource{
		ch:    make(chan Edge, EdgeBuffer),
		clock: clock,
	}

	// The cam needs both edges for level tracking; crank and VVT only rise.
	inputs := []struct {
		line Line
		pin  int
		both bool
	}{
		{LineCrank, pinCrank, false},
		{LineCam, pinCam, true},
		{LineVVT, pinVVT, false},
	}

	for _, in := range inputs {
		if in.pin < 0 {
			continue
		}
		line := in.line
		handler := gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			s.handle(line, evt)
		})

		var l *gpiocdev.Line
		var err error
		if in.both {
			l, err = gpiocdev.RequestLine(ChipName, in.pin, gpiocdev.WithPullUp, gpiocdev.WithBothEdges, handler)
		} else {
			l, err = gpiocdev.RequestLine(ChipName, in.pin, gpiocdev.WithPullUp, gpiocdev.WithRisingEdge, handler)
		}
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", line, in.pin, err)
		}
		s.lines = append(s.lines, l)
	}

	return s, nil
}

func (s *RealSource) handle(line Line, evt gpiocdev.LineEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	kernel := uint32(evt.Timestamp / time.Microsecond)
	s.offsetSet.Do(func() {
		s.offset = s.clock() - kernel
	})

	e := Edge{
		Line:   line,
		Rising: evt.Type == gpiocdev.LineEventRisingEdge,
		Micros: kernel + s.offset,
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Edges returns the capture channel.
func (s *RealSource) Edges() <-chan Edge {
	return s.ch
}

// Dropped returns the number of edges lost to a full channel.
func (s *RealSource) Dropped() uint32 {
	return s.dropped.Load()
}

// Close releases the lines and closes the edge channel.
func (s *RealSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, l := range s.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.lines = nil

	// handle sends under mu
	s.mu.Lock()
	close(s.ch)
	s.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealOutputs drives actuator lines, active high.
type RealOutputs struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealOutputs requests pins as outputs, initially off.
func NewRealOutputs(pins []int) (*RealOutputs, error) {
	chip, err := gpiocdev.NewChip(ChipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	o := &RealOutputs{chip: chip}
	for _, pin := range pins {
		l, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request output pin %d: %w", pin, err)
		}
		o.lines = append(o.lines, l)
	}
	return o, nil
}

// Set drives output ch.
func (o *RealOutputs) Set(ch int, on bool) error {
	if ch < 0 || ch >= len(o.lines) {
		return fmt.Errorf("output %d out of range", ch)
	}
	v := 0
	if on {
		v = 1
	}
	return o.lines[ch].SetValue(v)
}

// Close drives every output off, then reconfigures the pins as inputs with
// pull-down to match Pi boot defaults before releasing them.
func (o *RealOutputs) Close() error {
	var errs []error

	for i, l := range o.lines {
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear output %d: %w", i, err))
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure output %d: %w", i, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output %d: %w", i, err))
		}
	}
	o.lines = nil
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
