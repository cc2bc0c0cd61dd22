// ABOUTME: Device handle owning one ring store, its reconciler, and its consumers
// ABOUTME: Turns producer notifications into ordered events and fans them out to subscribers
package device

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harper/pencil-bridge/internal/domain"
	"github.com/harper/pencil-bridge/internal/domain/reconciler"
	"github.com/harper/pencil-bridge/internal/domain/sample"
)

type Config struct {
	ID               string
	Options          reconciler.Options
	SubscriberBuffer int
	BusCap           int
}

// Event is a normalized input event as seen by application code.
type Event struct {
	Device                string    `json:"device"`
	Seq                   uint64    `json:"seq"`
	Slot                  int       `json:"slot"`
	Kind                  string    `json:"kind"`
	X                     float32   `json:"x"`
	Y                     float32   `json:"y"`
	Pressure              float32   `json:"pressure"`
	TiltX                 float32   `json:"tilt_x"`
	TiltY                 float32   `json:"tilt_y"`
	Pressed               bool      `json:"pressed"`
	Buttons               uint16    `json:"buttons"`
	EstimationUpdateIndex uint32    `json:"estimation_update_index"`
	ExpectingUpdates      []string  `json:"expecting_updates,omitempty"`
	At                    time.Time `json:"at"`
}

// Sample rebuilds the record the event was made from.
func (e Event) Sample() sample.Sample {
	return sample.Sample{
		Position:              sample.Vec2{X: e.X, Y: e.Y},
		Pressure:              e.Pressure,
		Tilt:                  sample.Vec2{X: e.TiltX, Y: e.TiltY},
		Buttons:               sample.Buttons(e.Buttons),
		EstimationUpdateIndex: e.EstimationUpdateIndex,
	}
}

// Observer receives every event synchronously during a drain.
type Observer interface {
	Observe(ev Event)
}

// OverrunCounter reports producer-side overruns, if a producer is attached.
type OverrunCounter interface {
	Overruns() uint64
}

type Status struct {
	ID          string             `json:"id"`
	Capacity    int                `json:"capacity"`
	Options     reconciler.Options `json:"options"`
	Pressed     bool               `json:"pressed"`
	Totals      reconciler.Stats   `json:"totals"`
	Notifies    uint64             `json:"notifies"`
	LastNotify  *time.Time         `json:"last_notify,omitempty"`
	Subscribers int                `json:"subscribers"`
	Dropped     uint64             `json:"dropped"`
	Overruns    uint64             `json:"overruns"`
}

type Device struct {
	id     string
	store  domain.RecordStore
	rec    *reconciler.Reconciler
	logger *slog.Logger
	clock  func() time.Time

	sinks     domain.MultiSink
	observers []Observer
	overruns  OverrunCounter

	// drainMu serializes Notify so the reconciler is never entered twice.
	drainMu sync.Mutex
	seq     uint64

	notifies   atomic.Uint64
	lastNotify atomic.Pointer[time.Time]
	dropped    atomic.Uint64

	subscriberBuffer int
	clients          map[*Client]struct{}
	clientsMu        sync.Mutex

	eventBus chan Event
	started  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	ID      string
	ch      chan Event
	dropped atomic.Uint64
}

// Dropped reports events skipped because this client's buffer was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

func New(cfg Config, store domain.RecordStore, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 256
	}
	if cfg.BusCap <= 0 {
		cfg.BusCap = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Device{
		id:               cfg.ID,
		store:            store,
		rec:              reconciler.New(cfg.Options),
		logger:           logger.With("device", cfg.ID),
		clock:            time.Now,
		subscriberBuffer: cfg.SubscriberBuffer,
		clients:          make(map[*Client]struct{}),
		eventBus:         make(chan Event, cfg.BusCap),
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) Store() domain.RecordStore {
	return d.store
}

func (d *Device) Reconciler() *reconciler.Reconciler {
	return d.rec
}

// AddSink appends a sample-level consumer. Call before the first Notify.
func (d *Device) AddSink(s domain.Sink) {
	d.sinks = append(d.sinks, s)
}

// AddObserver appends an event-level consumer. Call before the first Notify.
func (d *Device) AddObserver(o Observer) {
	d.observers = append(d.observers, o)
}

func (d *Device) SetOverrunCounter(c OverrunCounter) {
	d.overruns = c
}

func (d *Device) Options() reconciler.Options {
	return d.rec.Options()
}

func (d *Device) SetOptions(opts reconciler.Options) {
	d.rec.SetOptions(opts)
	d.logger.Info("options updated",
		"estimation_updates", opts.EnableEstimationUpdates,
		"predictions", opts.EnablePredictions)
}

// Reset forgets the carried press state. Call it whenever the producer is
// re-attached, since its cursors start over at slot zero.
func (d *Device) Reset() {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()
	d.rec.Reset()
}

// Notify drains count records starting at offset. It is the handler the
// producer calls after its writes are visible.
func (d *Device) Notify(offset, count int) reconciler.Stats {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	now := d.clock()
	d.lastNotify.Store(&now)
	d.notifies.Add(1)

	st := d.rec.Drain(offset, count, d.store, eventSink{d: d, at: now})
	if st.Discarded() > 0 {
		d.logger.Debug("drain filtered records",
			"offset", offset, "count", count, "emitted", st.Emitted, "discarded", st.Discarded())
	}
	return st
}

// eventSink is the per-drain sink handed to the reconciler.
type eventSink struct {
	d  *Device
	at time.Time
}

func (s eventSink) Emit(smp sample.Sample) {
	s.EmitAt(-1, smp)
}

func (s eventSink) EmitAt(index int, smp sample.Sample) {
	d := s.d
	d.seq++

	d.sinks.Emit(smp)

	// The bus only carries events while the fan-out runs and someone listens.
	publish := d.started.Load() && d.ctx.Err() == nil && d.ClientCount() > 0
	if len(d.observers) == 0 && !publish {
		return
	}

	ev := newEvent(d.id, d.seq, index, smp, s.at)
	for _, o := range d.observers {
		o.Observe(ev)
	}

	if !publish {
		return
	}
	select {
	case d.eventBus <- ev:
	default:
		d.dropped.Add(1)
	}
}

func newEvent(id string, seq uint64, slot int, s sample.Sample, at time.Time) Event {
	ev := Event{
		Device:                id,
		Seq:                   seq,
		Slot:                  slot,
		Kind:                  s.Kind().String(),
		X:                     s.Position.X,
		Y:                     s.Position.Y,
		Pressure:              s.Pressure,
		TiltX:                 s.Tilt.X,
		TiltY:                 s.Tilt.Y,
		Pressed:               s.IsPressed(),
		Buttons:               uint16(s.Buttons),
		EstimationUpdateIndex: s.EstimationUpdateIndex,
		At:                    at,
	}
	for _, p := range s.ExpectingUpdates() {
		ev.ExpectingUpdates = append(ev.ExpectingUpdates, p.String())
	}
	return ev
}

func (d *Device) Status() Status {
	st := Status{
		ID:          d.id,
		Capacity:    d.store.Capacity(),
		Options:     d.rec.Options(),
		Pressed:     d.rec.Pressed(),
		Totals:      d.rec.Totals(),
		Notifies:    d.notifies.Load(),
		LastNotify:  d.lastNotify.Load(),
		Subscribers: d.ClientCount(),
		Dropped:     d.dropped.Load(),
	}
	if d.overruns != nil {
		st.Overruns = d.overruns.Overruns()
	}
	return st
}

func (d *Device) AddClient(c *Client) {
	d.clientsMu.Lock()
	d.clients[c] = struct{}{}
	d.clientsMu.Unlock()
}

func (d *Device) RemoveClient(c *Client) {
	d.clientsMu.Lock()
	delete(d.clients, c)
	d.clientsMu.Unlock()
}

func (d *Device) ClientCount() int {
	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()
	return len(d.clients)
}

func (d *Device) Subscribe(c *Client) <-chan Event {
	c.ch = make(chan Event, d.subscriberBuffer)
	d.AddClient(c)
	return c.ch
}

func (d *Device) Unsubscribe(c *Client) {
	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()

	delete(d.clients, c)
	if c.ch != nil {
		close(c.ch)
		c.ch = nil
	}
}

// Done is closed once Shutdown begins.
func (d *Device) Done() <-chan struct{} {
	return d.ctx.Done()
}

func (d *Device) Start() error {
	if d.started.CompareAndSwap(false, true) {
		go d.runFanOut()
	}
	return nil
}

func (d *Device) Shutdown() error {
	d.cancel()
	if d.started.Load() {
		<-d.done
	}
	return nil
}

func (d *Device) runFanOut() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.eventBus:
			d.clientsMu.Lock()
			for client := range d.clients {
				if client.ch == nil {
					continue
				}
				select {
				case client.ch <- ev:
				default:
					client.dropped.Add(1)
				}
			}
			d.clientsMu.Unlock()
		}
	}
}
