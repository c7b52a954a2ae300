package common

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// ErrClosed is returned when operations are attempted on a closed
// buffer.
var ErrClosed = errors.New("send buffer closed")

// SendBuffer decouples a producer (PTY read loop, tailer broadcast)
// from a slow consumer (WebSocket or SSE write pump). Overflow drops
// the frame rather than blocking the producer. Close closes the
// outbound channel, so a receiving consumer sees queued frames drain
// and then a closed channel.
type SendBuffer struct {
	id string

	mu      sync.Mutex
	out     chan []byte
	closed  bool
	dropped int
}

// NewSendBuffer creates a send buffer with the given capacity.
func NewSendBuffer(id string, capacity int) *SendBuffer {
	return &SendBuffer{
		id:  id,
		out: make(chan []byte, capacity),
	}
}

// Send queues data for the consumer without blocking. Returns
// ErrBufferFull when the consumer has fallen too far behind, ErrClosed
// after Close. The channel send runs under the same mutex Close takes,
// so it can never race the close of the channel.
func (b *SendBuffer) Send(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	select {
	case b.out <- data:
		return nil
	default:
		b.dropped++
		log.Warn().Str("id", b.id).Int("dropped", b.dropped).Msg("send buffer full, dropping frame")
		return ErrBufferFull
	}
}

// Channel returns the consumer side of the buffer. The channel closes
// after Close, once queued frames are drained.
func (b *SendBuffer) Channel() <-chan []byte {
	return b.out
}

// Close stops the buffer and closes the outbound channel. Idempotent.
func (b *SendBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.out)
}

// IsClosed reports whether Close has been called.
func (b *SendBuffer) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Dropped returns how many frames were discarded on overflow.
func (b *SendBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
