package timer

import "sync"

type fakeChannel struct {
	armed bool
	at    uint32
	fn    func()
}

// Fake is a Service driven by a manual clock.
type Fake struct {
	mu    sync.Mutex
	now   uint32
	chans []fakeChannel
	stats Stats

	// ScheduleError, if set, is returned by Schedule.
	ScheduleError error

	// Requested records the absolute time of every successful Schedule call.
	Requested []uint32
}

// NewFake creates a fake timer with n channels, starting at now.
func NewFake(n int, now uint32) *Fake {
	if n <= 0 {
		n = DefaultChannels
	}
	return &Fake{now: now, chans: make([]fakeChannel, n)}
}

// Now returns the manual clock.
func (f *Fake) Now() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock without firing anything.
func (f *Fake) Set(now uint32) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Schedule arms a free channel.
func (f *Fake) Schedule(at uint32, fn func()) (Handle, error) {
	if fn == nil {
		return NoHandle, ErrNilCallback
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ScheduleError != nil {
		return NoHandle, f.ScheduleError
	}
	for i := range f.chans {
		if !f.chans[i].armed {
			f.chans[i] = fakeChannel{armed: true, at: at, fn: fn}
			f.stats.Scheduled++
			f.stats.Armed++
			f.Requested = append(f.Requested, at)
			return Handle(i), nil
		}
	}
	return NoHandle, ErrNoChannel
}

// Cancel disarms h.
func (f *Fake) Cancel(h Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h < 0 || int(h) >= len(f.chans) || !f.chans[h].armed {
		return false
	}
	f.chans[h] = fakeChannel{}
	f.stats.Cancelled++
	f.stats.Armed--
	return true
}

// Advance moves the clock forward by d µs, running due callbacks in time
// order with the clock set to each callback's time. It returns the number of
// callbacks run.
func (f *Fake) Advance(d uint32) int {
	f.mu.Lock()
	target := f.now + d
	fired := 0
	for {
		idx := -1
		for i := range f.chans {
			c := &f.chans[i]
			if !c.armed || !Due(target, c.at) {
				continue
			}
			if idx < 0 || Until(f.now, c.at) < Until(f.now, f.chans[idx].at) {
				idx = i
			}
		}
		if idx < 0 {
			break
		}

		c := f.chans[idx]
		f.chans[idx] = fakeChannel{}
		if Until(f.now, c.at) > 0 {
			f.now = c.at
		}
		f.stats.Fired++
		f.stats.Armed--
		fired++

		f.mu.Unlock()
		c.fn()
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
	return fired
}

// Pending returns the number of armed channels.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats.Armed
}

// Armed returns the scheduled time of h.
func (f *Fake) Armed(h Handle) (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h < 0 || int(h) >= len(f.chans) || !f.chans[h].armed {
		return 0, false
	}
	return f.chans[h].at, true
}

// Stats returns a copy of the counters.
func (f *Fake) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
