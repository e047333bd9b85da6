package link

import (
	"errors"
	"net"
	"time"
)

var ErrOutboundOverflow = errors.New("link: outbound queue full")

// outbound is a bounded frame queue drained by one writer goroutine. enqueue
// and close are called only from the supervisor loop.
type outbound struct {
	conn         net.Conn
	queue        chan []byte
	writeTimeout time.Duration
	closed       bool
}

func newOutbound(conn net.Conn, size int, writeTimeout time.Duration) *outbound {
	return &outbound{
		conn:         conn,
		queue:        make(chan []byte, size),
		writeTimeout: writeTimeout,
	}
}

// enqueue never blocks; false means the queue is full or closed.
func (o *outbound) enqueue(buf []byte) bool {
	if o.closed {
		return false
	}
	select {
	case o.queue <- buf:
		return true
	default:
		return false
	}
}

func (o *outbound) close() {
	if o.closed {
		return
	}
	o.closed = true
	close(o.queue)
}

func (o *outbound) depth() int {
	return len(o.queue)
}

// run writes queued frames in order until the queue is closed. The first write
// error is reported once; later frames are discarded.
func (o *outbound) run(fail func(error)) {
	for buf := range o.queue {
		if o.writeTimeout > 0 {
			_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
		}
		if _, err := o.conn.Write(buf); err != nil {
			fail(err)
			for range o.queue {
			}
			return
		}
	}
}
