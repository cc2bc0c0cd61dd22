// ABOUTME: Producer side of the shared ring buffer handshake
// ABOUTME: Writes records, then notifies the consumer with the unread offset and count
package producer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"fortio.org/safecast"

	"github.com/harper/pencil-bridge/internal/domain/sample"
)

var ErrDetached = errors.New("no consumer attached")

// Notifier is the consumer callback, the Go side of the native
// (offset, numEvents) handler.
type Notifier func(offset, count int)

// SlotWriter is the write side of the ring store.
type SlotWriter interface {
	Capacity() int
	Write(index int, s sample.Sample)
}

// Writer emulates the native bridge: it appends records at bufferOffset and
// on Flush reports everything written since lastNotified. It never lets a
// notification cover a slot that was overwritten before being reported: when
// the unread window is full, Add flushes first (or, with no consumer
// attached, drops the oldest unread record) and counts an overrun.
type Writer struct {
	mu           sync.Mutex
	store        SlotWriter
	notify       Notifier
	offset       int
	lastNotified int
	pending      int

	overruns atomic.Uint64
	logger   *slog.Logger
}

func NewWriter(store SlotWriter, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store.Capacity() <= 0 {
		return nil, fmt.Errorf("producer: store capacity %d", store.Capacity())
	}
	if _, err := safecast.Conv[int32](store.Capacity()); err != nil {
		return nil, fmt.Errorf("producer: capacity exceeds native offset range: %w", err)
	}
	return &Writer{store: store, logger: logger}, nil
}

// Attach installs the consumer callback and resets both cursors, like the
// native SetEventHandler.
func (w *Writer) Attach(n Notifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notify = n
	w.offset, w.lastNotified, w.pending = 0, 0, 0
}

// Detach removes the callback and resets the cursors.
func (w *Writer) Detach() {
	w.Attach(nil)
}

func (w *Writer) Attached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.notify != nil
}

func (w *Writer) Overruns() uint64 {
	return w.overruns.Load()
}

// Pending reports records written but not yet notified.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

func (w *Writer) Add(s sample.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.add(s)
}

// AddBatch writes several records under one lock.
func (w *Writer) AddBatch(samples []sample.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range samples {
		w.add(s)
	}
}

// AddBarrelTap writes the record the native side emits for a barrel tap:
// every field zero except the barrel-tap bit.
func (w *Writer) AddBarrelTap() {
	w.Add(sample.Sample{Buttons: sample.BarrelTap})
}

// Flush notifies the consumer of every unread record. It returns the count
// reported, or ErrDetached if nothing is listening.
func (w *Writer) Flush() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

func (w *Writer) add(s sample.Sample) {
	capacity := w.store.Capacity()
	if w.pending == capacity {
		w.overruns.Add(1)
		if w.notify != nil {
			w.logger.Warn("ring full before flush, notifying early", "pending", w.pending)
			if _, err := w.flush(); err != nil {
				w.logger.Error("forced flush failed", "error", err)
			}
		} else {
			w.lastNotified = (w.lastNotified + 1) % capacity
			w.pending--
		}
	}

	w.store.Write(w.offset, s)
	w.offset++
	if w.offset >= capacity {
		w.offset = 0
	}
	w.pending++
}

func (w *Writer) flush() (int, error) {
	if w.notify == nil {
		return 0, ErrDetached
	}
	if w.pending == 0 {
		return 0, nil
	}

	offset, err := safecast.Conv[int32](w.lastNotified)
	if err != nil {
		return 0, fmt.Errorf("flush offset: %w", err)
	}
	count, err := safecast.Conv[int32](w.pending)
	if err != nil {
		return 0, fmt.Errorf("flush count: %w", err)
	}

	w.notify(int(offset), int(count))
	w.lastNotified = w.offset
	w.pending = 0
	return int(count), nil
}
