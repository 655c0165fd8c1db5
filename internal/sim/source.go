package sim

import (
	"sync"
	"time"

	"github.com/sweeney/ecu-timing/internal/gpio"
	"github.com/sweeney/ecu-timing/internal/timer"
)

// Source plays a Wheel in real time as a gpio.EdgeSource.
type Source struct {
	mu    sync.Mutex
	wheel *Wheel
	clock gpio.Clock

	ch     chan gpio.Edge
	done   chan struct{}
	closed sync.Once
}

// NewSource starts playing a wheel against clock.
func NewSource(cfg Config, clock gpio.Clock) *Source {
	s := &Source{
		wheel: NewWheel(cfg, clock()),
		clock: clock,
		ch:    make(chan gpio.Edge, gpio.EdgeBuffer),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Source) run() {
	defer close(s.ch)

	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C

	for {
		s.mu.Lock()
		edges := s.wheel.Revolution()
		s.mu.Unlock()

		for _, e := range edges {
			if d := timer.Until(s.clock(), e.Micros); d > 0 {
				t.Reset(time.Duration(d) * time.Microsecond)
				select {
				case <-t.C:
				case <-s.done:
					return
				}
			}
			select {
			case s.ch <- e:
			case <-s.done:
				return
			}
		}
	}
}

// SetRPM changes the simulated speed.
func (s *Source) SetRPM(rpm uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wheel.SetRPM(rpm)
}

// Edges returns the edge channel. It is closed after Close.
func (s *Source) Edges() <-chan gpio.Edge {
	return s.ch
}

// Close stops playback.
func (s *Source) Close() error {
	s.closed.Do(func() { close(s.done) })
	return nil
}
