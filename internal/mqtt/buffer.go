package mqtt

import "log"

// BufferSize is how many messages are held while the broker is unreachable.
const BufferSize = 256

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the newest messages while disconnected, dropping the
// oldest when full. Not safe for concurrent use.
type ringBuffer struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped int // messages overwritten since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	n := len(r.buf)
	if r.count == n {
		if r.dropped == 0 {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", n)
		}
		r.dropped++
	} else {
		r.count++
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % n
}

// drain returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drain() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	n := len(r.buf)
	out := make([]bufferedMsg, r.count)
	start := (r.head - r.count + n) % n
	for i := range out {
		out[i] = r.buf[(start+i)%n]
	}

	if r.dropped > 0 {
		log.Printf("mqtt: replaying %d buffered messages, %d dropped", r.count, r.dropped)
	}
	r.count = 0
	r.head = 0
	r.dropped = 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
