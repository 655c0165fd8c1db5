// Package canbus broadcasts engine position and timing health as CAN frames.
package canbus

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/brutella/can"

	"github.com/sweeney/ecu-timing/internal/engine"
	"github.com/sweeney/ecu-timing/internal/phase"
	"github.com/sweeney/ecu-timing/internal/sched"
)

// DefaultFrameID is the id of the position frame. The health frame uses the
// next id.
const DefaultFrameID = 0x360

// Position frame flag bits, byte 5.
const (
	FlagSynced    = 1 << 0
	FlagCamSynced = 1 << 1
	FlagRunning   = 1 << 2
	FlagCranking  = 1 << 3
	FlagSecond360 = 1 << 4
)

// EncodePosition packs the position frame, big-endian:
//
//	0-1 rpm, 2-3 cycle angle, 4 tooth, 5 flags, 6-7 vvt position (signed)
func EncodePosition(id uint32, s engine.Snapshot) can.Frame {
	var data [8]byte
	binary.BigEndian.PutUint16(data[0:2], s.RPM.RPM)
	binary.BigEndian.PutUint16(data[2:4], s.CycleAngle)
	data[4] = s.Tooth

	var flags byte
	if s.Synced {
		flags |= FlagSynced
	}
	if s.CamSynced {
		flags |= FlagCamSynced
	}
	if s.Running {
		flags |= FlagRunning
	}
	if s.RPM.Cranking {
		flags |= FlagCranking
	}
	if s.Phase == phase.PhaseSecond360 {
		flags |= FlagSecond360
	}
	data[5] = flags
	binary.BigEndian.PutUint16(data[6:8], uint16(s.VVT.Position))

	return packFrame(id, data[:])
}

// EncodeHealth packs the health frame, big-endian:
//
//	0-3 diagnostics total, 4-5 decoder sync losses, 6-7 missed events
//
// 16-bit fields saturate.
func EncodeHealth(id uint32, s engine.Snapshot, st sched.Stats) can.Frame {
	var data [8]byte
	binary.BigEndian.PutUint32(data[0:4], s.Diag.Total)
	binary.BigEndian.PutUint16(data[4:6], sat16(s.Decoder.SyncLossCount))
	binary.BigEndian.PutUint16(data[6:8], sat16(st.Missed))
	return packFrame(id, data[:])
}

func sat16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func packFrame(id uint32, data []byte) can.Frame {
	var frameData [8]byte
	copy(frameData[:], data)
	return can.Frame{
		ID:     id,
		Length: uint8(len(data)),
		Data:   frameData,
	}
}

// Publisher sends frames.
type Publisher interface {
	Publish(frame can.Frame) error
}

// Broadcaster sends the position and health frames on a bus.
type Broadcaster struct {
	pub Publisher
	id  uint32
	bus *can.Bus
}

// NewBroadcaster wraps pub. Frames use id and id+1.
func NewBroadcaster(pub Publisher, id uint32) *Broadcaster {
	return &Broadcaster{pub: pub, id: id}
}

// Open connects to a SocketCAN interface such as "can0".
func Open(iface string, id uint32) (*Broadcaster, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("can bus %s: %w", iface, err)
	}
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			log.Printf("can bus error: %v", err)
		}
	}()
	b := NewBroadcaster(bus, id)
	b.bus = bus
	return b, nil
}

// Send publishes both frames.
func (b *Broadcaster) Send(s engine.Snapshot, st sched.Stats) error {
	if err := b.pub.Publish(EncodePosition(b.id, s)); err != nil {
		return err
	}
	return b.pub.Publish(EncodeHealth(b.id+1, s, st))
}

// Close disconnects the bus, if Open created it.
func (b *Broadcaster) Close() error {
	if b.bus == nil {
		return nil
	}
	return b.bus.Disconnect()
}
