package timer

import (
	"time"

	"github.com/sweeney/ecu-timing/internal/irq"
)

type channel struct {
	armed bool
	gen   uint32
	at    uint32
	fn    func()
	t     *time.Timer
}

// Soft is a Service for hosted builds. Each compare channel is backed by a
// runtime timer; the channel table is guarded by a critical section.
type Soft struct {
	mask  irq.Mask
	epoch time.Time
	chans []channel
	stats Stats
}

// NewSoft creates a soft timer with n compare channels. The mask must not be
// shared with callers that hold it while calling Schedule or Cancel.
func NewSoft(n int, mask irq.Mask) *Soft {
	if n <= 0 {
		n = DefaultChannels
	}
	if mask == nil {
		mask = &irq.Lock{}
	}
	return &Soft{
		mask:  mask,
		epoch: time.Now(),
		chans: make([]channel, n),
	}
}

// Now returns microseconds since the timer was created, wrapping at 2^32.
func (s *Soft) Now() uint32 {
	return uint32(time.Since(s.epoch) / time.Microsecond)
}

// Schedule arms a free channel.
func (s *Soft) Schedule(at uint32, fn func()) (Handle, error) {
	if fn == nil {
		return NoHandle, ErrNilCallback
	}
	defer irq.Enter(s.mask)()

	idx := -1
	for i := range s.chans {
		if !s.chans[i].armed {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NoHandle, ErrNoChannel
	}

	c := &s.chans[idx]
	c.armed = true
	c.gen++
	c.at = at
	c.fn = fn

	delay := Until(s.Now(), at)
	if delay < 0 {
		delay = 0
	}
	gen := c.gen
	c.t = time.AfterFunc(time.Duration(delay)*time.Microsecond, func() {
		s.fire(idx, gen)
	})

	s.stats.Scheduled++
	s.stats.Armed++
	return Handle(idx), nil
}

func (s *Soft) fire(idx int, gen uint32) {
	restore := irq.Enter(s.mask)
	c := &s.chans[idx]
	if !c.armed || c.gen != gen {
		restore()
		return
	}
	fn := c.fn
	if Until(c.at, s.Now()) > LateThresholdUs {
		s.stats.Late++
	}
	s.release(c)
	s.stats.Fired++
	restore()

	fn()
}

func (s *Soft) release(c *channel) {
	c.armed = false
	c.fn = nil
	c.t = nil
	s.stats.Armed--
}

// Cancel disarms h if it has not fired yet.
func (s *Soft) Cancel(h Handle) bool {
	defer irq.Enter(s.mask)()

	if h < 0 || int(h) >= len(s.chans) {
		return false
	}
	c := &s.chans[h]
	if !c.armed {
		return false
	}
	c.t.Stop()
	s.release(c)
	s.stats.Cancelled++
	return true
}

// Stats returns a copy of the counters.
func (s *Soft) Stats() Stats {
	defer irq.Enter(s.mask)()
	return s.stats
}
