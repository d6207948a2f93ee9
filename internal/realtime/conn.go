// Package realtime pushes typed events to connected clients.
package realtime

import (
	"errors"
	"sync"

	"github.com/talkora/chat-platform/internal/model"
)

// DefaultSendBuffer is the outbound queue length of a connection handle.
const DefaultSendBuffer = 64

var (
	// ErrSlowConsumer is returned when a handle's outbound queue is full.
	ErrSlowConsumer = errors.New("realtime: send buffer full")
	// ErrClosed is returned when sending on a closed handle.
	ErrClosed = errors.New("realtime: connection closed")
)

// Conn is a live connection handle owned by a transport.
type Conn interface {
	ID() string
	// Send queues ev without blocking.
	Send(ev model.Event) error
	Close()
}

// BufferedConn is a Conn whose events are drained by a transport goroutine.
type BufferedConn struct {
	id     string
	events chan model.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ Conn = (*BufferedConn)(nil)

// NewBufferedConn creates a handle with room for size pending events.
func NewBufferedConn(id string, size int) *BufferedConn {
	if size <= 0 {
		size = DefaultSendBuffer
	}
	return &BufferedConn{
		id:     id,
		events: make(chan model.Event, size),
		done:   make(chan struct{}),
	}
}

func (c *BufferedConn) ID() string { return c.id }

// Send never blocks; a full queue drops ev.
func (c *BufferedConn) Send(ev model.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Events returns the outbound queue.
func (c *BufferedConn) Events() <-chan model.Event { return c.events }

// Done is closed once the handle is closed.
func (c *BufferedConn) Done() <-chan struct{} { return c.done }

// Close is idempotent.
func (c *BufferedConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
