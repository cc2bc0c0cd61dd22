// ABOUTME: Drains a range of ring buffer records into a sink in buffer order
// ABOUTME: Filters speculative records and carries the last confirmed press state forward
package reconciler

import (
	"fmt"
	"sync/atomic"

	"github.com/harper/pencil-bridge/internal/domain"
	"github.com/harper/pencil-bridge/internal/domain/sample"
)

// Options selects which untrusted record kinds pass through. Each flag may be
// flipped at any time and applies from the next processed record.
type Options struct {
	EnableEstimationUpdates bool `json:"enable_estimation_updates"`
	EnablePredictions       bool `json:"enable_predictions"`
}

func DefaultOptions() Options {
	return Options{
		EnableEstimationUpdates: true,
		EnablePredictions:       true,
	}
}

// Stats counts what one drain (or all drains, for Totals) did.
type Stats struct {
	Read                uint64 `json:"read"`
	Emitted             uint64 `json:"emitted"`
	Patched             uint64 `json:"patched"`
	DiscardedEstimation uint64 `json:"discarded_estimation"`
	DiscardedPredicted  uint64 `json:"discarded_predicted"`
}

func (s Stats) Discarded() uint64 {
	return s.DiscardedEstimation + s.DiscardedPredicted
}

// Reconciler holds the press state for one logical device. Drain must not be
// called concurrently or reentrantly on the same Reconciler; option setters
// and readers are safe from any goroutine.
type Reconciler struct {
	enableEstimation atomic.Bool
	enablePredicted  atomic.Bool

	pressed  atomic.Bool
	draining atomic.Bool

	read                atomic.Uint64
	emitted             atomic.Uint64
	patched             atomic.Uint64
	discardedEstimation atomic.Uint64
	discardedPredicted  atomic.Uint64
}

func New(opts Options) *Reconciler {
	r := &Reconciler{}
	r.SetOptions(opts)
	return r
}

func (r *Reconciler) Options() Options {
	return Options{
		EnableEstimationUpdates: r.enableEstimation.Load(),
		EnablePredictions:       r.enablePredicted.Load(),
	}
}

func (r *Reconciler) SetOptions(opts Options) {
	r.enableEstimation.Store(opts.EnableEstimationUpdates)
	r.enablePredicted.Store(opts.EnablePredictions)
}

func (r *Reconciler) SetEnableEstimationUpdates(v bool) { r.enableEstimation.Store(v) }
func (r *Reconciler) SetEnablePredictions(v bool)       { r.enablePredicted.Store(v) }

// Pressed reports the last press state taken from a confirmed record.
func (r *Reconciler) Pressed() bool {
	return r.pressed.Load()
}

// Reset clears the carried press state, as for a freshly added device.
func (r *Reconciler) Reset() {
	r.pressed.Store(false)
}

func (r *Reconciler) Totals() Stats {
	return Stats{
		Read:                r.read.Load(),
		Emitted:             r.emitted.Load(),
		Patched:             r.patched.Load(),
		DiscardedEstimation: r.discardedEstimation.Load(),
		DiscardedPredicted:  r.discardedPredicted.Load(),
	}
}

// Drain consumes count records starting at startOffset, wrapping to slot 0
// after the last slot, and emits every record that survives the filter to
// sink in buffer order. If sink also implements domain.SlotSink it receives
// the source slot of each event.
//
// Contract violations panic: startOffset outside [0, capacity), negative
// count, an empty or nil store, a nil sink, or a reentrant call.
func (r *Reconciler) Drain(startOffset, count int, store domain.RecordStore, sink domain.Sink) Stats {
	if store == nil || sink == nil {
		panic("reconciler: drain needs a store and a sink")
	}
	capacity := store.Capacity()
	if capacity <= 0 {
		panic(fmt.Sprintf("reconciler: store capacity %d", capacity))
	}
	if startOffset < 0 || startOffset >= capacity {
		panic(fmt.Sprintf("reconciler: start offset %d out of range [0, %d)", startOffset, capacity))
	}
	if count < 0 {
		panic(fmt.Sprintf("reconciler: negative count %d", count))
	}
	if !r.draining.CompareAndSwap(false, true) {
		panic("reconciler: reentrant drain")
	}
	defer r.draining.Store(false)

	slotSink, _ := sink.(domain.SlotSink)

	var st Stats
	index := startOffset
	for remaining := count; remaining > 0; remaining-- {
		s := store.Read(index)
		st.Read++

		if out, ok := r.reconcile(s, &st); ok {
			st.Emitted++
			if slotSink != nil {
				slotSink.EmitAt(index, out)
			} else {
				sink.Emit(out)
			}
		}

		index = store.NextIndex(index)
	}

	r.read.Add(st.Read)
	r.emitted.Add(st.Emitted)
	r.patched.Add(st.Patched)
	r.discardedEstimation.Add(st.DiscardedEstimation)
	r.discardedPredicted.Add(st.DiscardedPredicted)
	return st
}

// reconcile applies the filter and press rule to one record. It reports false
// for a discarded record, which leaves the press state untouched.
func (r *Reconciler) reconcile(s sample.Sample, st *Stats) (sample.Sample, bool) {
	estimation := s.IsEstimationUpdate()
	predicted := s.IsPredicted()

	switch {
	case estimation && !r.enableEstimation.Load():
		st.DiscardedEstimation++
		return s, false
	case predicted && !r.enablePredicted.Load():
		st.DiscardedPredicted++
		return s, false
	}

	if estimation || predicted {
		carried := r.pressed.Load()
		if s.IsPressed() != carried {
			st.Patched++
		}
		return s.WithPressed(carried), true
	}

	r.pressed.Store(s.IsPressed())
	return s, true
}
