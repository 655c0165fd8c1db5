// Package serialcap reads edges timestamped by an external capture
// microcontroller over a UART.
//
// Each edge is one text line: "<line> <edge> <micros>", where line is C
// (crank), M (cam) or V (VVT), edge is R or F, and micros is the capture
// counter of the front-end. Lines starting with '#' are ignored.
package serialcap

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/sweeney/ecu-timing/internal/gpio"
)

// DefaultBaudRate is the front-end's line rate.
const DefaultBaudRate = 921600

// Config selects the serial port.
type Config struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// ParseLine decodes one edge line. Times are on the front-end clock.
func ParseLine(s string) (gpio.Edge, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return gpio.Edge{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}

	var e gpio.Edge
	switch fields[0] {
	case "C":
		e.Line = gpio.LineCrank
	case "M":
		e.Line = gpio.LineCam
	case "V":
		e.Line = gpio.LineVVT
	default:
		return gpio.Edge{}, fmt.Errorf("unknown line %q", fields[0])
	}

	switch fields[1] {
	case "R":
		e.Rising = true
	case "F":
	default:
		return gpio.Edge{}, fmt.Errorf("unknown edge %q", fields[1])
	}

	us, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return gpio.Edge{}, fmt.Errorf("bad timestamp: %w", err)
	}
	e.Micros = uint32(us)
	return e, nil
}

// Source is a gpio.EdgeSource fed by the capture front-end. Front-end
// timestamps are shifted onto the local timer clock at the first edge.
type Source struct {
	r  io.ReadCloser
	ch chan gpio.Edge

	clock     gpio.Clock
	offsetSet sync.Once
	offset    uint32

	dropped   atomic.Uint32
	malformed atomic.Uint32
	closeOnce sync.Once
	done      chan struct{}
}

// Open connects to the front-end.
func Open(cfg Config, clock gpio.Clock) (*Source, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset %s: %w", cfg.Port, err)
	}
	log.Printf("capture: %s at %d baud", cfg.Port, cfg.BaudRate)
	return NewSource(port, clock), nil
}

// NewSource starts reading edge lines from r.
func NewSource(r io.ReadCloser, clock gpio.Clock) *Source {
	s := &Source{
		r:     r,
		ch:    make(chan gpio.Edge, gpio.EdgeBuffer),
		clock: clock,
		done:  make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *Source) read() {
	defer close(s.ch)

	sc := bufio.NewScanner(s.r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			s.malformed.Add(1)
			continue
		}
		s.offsetSet.Do(func() {
			s.offset = s.clock() - e.Micros
		})
		e.Micros += s.offset

		select {
		case s.ch <- e:
		case <-s.done:
			return
		default:
			s.dropped.Add(1)
		}
	}
	if err := sc.Err(); err != nil {
		select {
		case <-s.done:
		default:
			log.Printf("capture read error: %v", err)
		}
	}
}

// Edges returns the capture channel. It is closed when the port closes.
func (s *Source) Edges() <-chan gpio.Edge {
	return s.ch
}

// Dropped returns the number of edges lost to a full channel.
func (s *Source) Dropped() uint32 {
	return s.dropped.Load()
}

// Malformed returns the number of lines that failed to parse.
func (s *Source) Malformed() uint32 {
	return s.malformed.Load()
}

// Close closes the port, which ends the reader.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.r.Close()
	})
	return err
}
