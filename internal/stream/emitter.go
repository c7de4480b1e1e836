package stream

import (
	"context"
	"errors"
	"time"
)

// DefaultBufferSize is the per-exchange event channel capacity. Small on
// purpose: a slow consumer must apply backpressure to the producer rather
// than grow an unbounded buffer.
const DefaultBufferSize = 64

// ErrTerminated is returned by Emit after a terminal event has been sent.
var ErrTerminated = errors.New("stream: exchange already terminated")

// Emitter is the producer side of one exchange's event channel. It is owned
// by a single goroutine (the orchestration loop); Emit blocks when the
// consumer is slow and unblocks on context cancellation, so a disconnected
// consumer cancels the producer cooperatively.
type Emitter struct {
	ch       chan Event
	terminal bool
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Events returns the consumer side of the channel. The channel is closed
// after the terminal event.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit delivers one event, blocking while the channel is full. Returns the
// context error if the consumer has gone away, and ErrTerminated if a
// terminal event has already been emitted.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	if e.terminal {
		return ErrTerminated
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	select {
	case e.ch <- ev:
		if ev.Terminal() {
			e.terminal = true
			close(e.ch)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abandon closes the channel without a terminal event. Used only when the
// consumer is already gone and no event can be delivered.
func (e *Emitter) Abandon() {
	if !e.terminal {
		e.terminal = true
		close(e.ch)
	}
}
