package mqtt

import "github.com/charmbracelet/log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds messages published while the broker is unreachable and
// drops the oldest once full. Not safe for concurrent use; the publisher
// serializes access.
type ringBuffer struct {
	buf     []bufferedMsg
	next    int // write position
	count   int
	dropped int  // total messages lost to overflow
	warned  bool // overflow already logged since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	r.buf[r.next] = msg
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
		return
	}

	// The write above replaced the oldest message.
	r.dropped++
	if !r.warned {
		log.Warn("mqtt: offline buffer full, dropping oldest", "capacity", len(r.buf))
		r.warned = true
	}
}

// drainAll returns buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	out := make([]bufferedMsg, 0, r.count)
	first := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		j := (first + i) % len(r.buf)
		out = append(out, r.buf[j])
		r.buf[j] = bufferedMsg{}
	}

	r.next, r.count = 0, 0
	r.warned = false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
