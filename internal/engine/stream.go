package engine

import (
	"context"
	"sync"

	"chatd/pkg/types"
)

// Chunk is one decoded piece of generated text. Token is the sampled token
// id, or -1 when the backend streams natively without exposing ids.
type Chunk struct {
	Text  string
	Token int
}

// Stream is a finite, single-consumer, cancellable sequence of chunks.
// Chunks arrive strictly in generation order. It is not restartable; a new
// generation call constructs a new Stream.
type Stream struct {
	ch     chan Chunk
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	usage  types.Usage
	reason string
	done   chan struct{}
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		ch:     make(chan Chunk, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Chunks returns the chunk channel. It closes when generation completes,
// fails, or is cancelled.
func (s *Stream) Chunks() <-chan Chunk { return s.ch }

// Cancel requests cooperative cancellation. The in-flight forward pass
// completes before the stream closes. Cancellation is a normal terminal
// outcome: Err returns nil afterwards.
func (s *Stream) Cancel() { s.cancel() }

// Err reports the terminal error, valid once Chunks has closed.
func (s *Stream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Usage reports token accounting, valid once Chunks has closed.
func (s *Stream) Usage() types.Usage {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// FinishReason reports why generation stopped ("stop", "length", "cancelled"
// or "error"), valid once Chunks has closed.
func (s *Stream) FinishReason() string {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// finish records the terminal outcome and closes the stream. Called exactly
// once by the decode worker.
func (s *Stream) finish(err error, reason string, usage types.Usage) {
	s.mu.Lock()
	s.err = err
	s.reason = reason
	s.usage = usage
	s.mu.Unlock()
	close(s.ch)
	close(s.done)
}
