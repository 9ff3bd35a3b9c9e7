package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// Conn is the outbound queue of one live viewer. The transport goroutine owns
// the socket and drains Out until Done fires; the registry only enqueues.
type Conn struct {
	id        string
	out       chan domain.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates a connection with room for buffer pending frames
func NewConn(buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		id:   uuid.New().String(),
		out:  make(chan domain.Frame, buffer),
		done: make(chan struct{}),
	}
}

// ID identifies the connection within its user's set
func (c *Conn) ID() string { return c.id }

// Out yields frames in the order they were accepted
func (c *Conn) Out() <-chan domain.Frame { return c.out }

// Done is closed once the connection is torn down
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send enqueues f, waiting at most timeout for buffer space
func (c *Conn) Send(f domain.Frame, timeout time.Duration) error {
	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.out <- f:
		return nil
	default:
	}

	if timeout <= 0 {
		return domain.ErrSendTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return domain.ErrConnectionClosed
	case <-timer.C:
		return domain.ErrSendTimeout
	}
}

// Close marks the connection dead; safe to call more than once.
// Out is never closed so a racing Send cannot panic.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Closed reports whether Close has been called
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
