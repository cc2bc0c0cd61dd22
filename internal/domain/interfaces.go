// ABOUTME: Domain interfaces for dependency inversion
// ABOUTME: Lets the reconciler and devices depend on abstractions, not concrete stores or sinks
package domain

import (
	"context"
	"io"

	"github.com/harper/pencil-bridge/internal/domain/sample"
)

// Sink receives normalized input events, one call per emitted record, in
// order. Emit must return promptly; draining never waits on it.
type Sink interface {
	Emit(s sample.Sample)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(s sample.Sample)

func (f SinkFunc) Emit(s sample.Sample) {
	f(s)
}

// SlotSink is an optional extension of Sink for consumers that want the ring
// slot each event was read from.
type SlotSink interface {
	Sink
	EmitAt(index int, s sample.Sample)
}

// MultiSink forwards every event to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(s sample.Sample) {
	for _, sink := range m {
		sink.Emit(s)
	}
}

// RecordStore is the read side of the shared ring buffer.
type RecordStore interface {
	Capacity() int
	Read(index int) sample.Sample
	NextIndex(index int) int
}

// CaptureSource opens a recorded stream of producer frames.
type CaptureSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
