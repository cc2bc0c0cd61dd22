// ABOUTME: SQLite-backed journal of reconciled device events
// ABOUTME: Observes events off the drain path and serves the newest entries per device
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harper/pencil-bridge/internal/domain/device"
)

const (
	DefaultQueue = 4096
	DefaultLimit = 100
	MaxLimit     = 1000

	batchSize = 256
)

var ErrClosed = errors.New("journal closed")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	device                  TEXT    NOT NULL,
	seq                     INTEGER NOT NULL,
	slot                    INTEGER NOT NULL,
	kind                    TEXT    NOT NULL,
	x                       REAL    NOT NULL,
	y                       REAL    NOT NULL,
	pressure                REAL    NOT NULL,
	tilt_x                  REAL    NOT NULL,
	tilt_y                  REAL    NOT NULL,
	pressed                 INTEGER NOT NULL,
	buttons                 INTEGER NOT NULL,
	estimation_update_index INTEGER NOT NULL,
	at                      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS events_device_id ON events(device, id);
`

type Config struct {
	Path  string
	Queue int
}

type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Journal persists events on a background writer. Observe never blocks;
// events that arrive while the queue is full are counted and dropped.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	queue   chan device.Event
	flushes chan chan struct{}
	stop    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func Open(cfg Config, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	j := &Journal{
		db:      db,
		logger:  logger.With("component", "journal"),
		queue:   make(chan device.Event, cfg.Queue),
		flushes: make(chan chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go j.run()
	return j, nil
}

func (j *Journal) Observe(ev device.Event) {
	if j.closed.Load() {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- ev:
	default:
		j.dropped.Add(1)
	}
}

// Flush blocks until every event queued before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case j.flushes <- ack:
	case <-j.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Journal) Stats() Stats {
	return Stats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
		Failed:  j.failed.Load(),
	}
}

// Recent returns up to limit events for deviceID, newest first.
func (j *Journal) Recent(ctx context.Context, deviceID string, limit int) ([]device.Event, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT device, seq, slot, kind, x, y, pressure, tilt_x, tilt_y,
		       pressed, buttons, estimation_update_index, at
		FROM events WHERE device = ? ORDER BY id DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var events []device.Event
	for rows.Next() {
		var (
			ev device.Event
			at string
		)
		if err := rows.Scan(&ev.Device, &ev.Seq, &ev.Slot, &ev.Kind, &ev.X, &ev.Y, &ev.Pressure,
			&ev.TiltX, &ev.TiltY, &ev.Pressed, &ev.Buttons, &ev.EstimationUpdateIndex, &at); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse journal time: %w", err)
		}
		for _, p := range ev.Sample().ExpectingUpdates() {
			ev.ExpectingUpdates = append(ev.ExpectingUpdates, p.String())
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close writes whatever is still queued and closes the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		j.closed.Store(true)
		close(j.stop)
		<-j.done
		err = j.db.Close()
	})
	return err
}

func (j *Journal) run() {
	defer close(j.done)

	batch := make([]device.Event, 0, batchSize)
	for {
		select {
		case ev := <-j.queue:
			batch = append(batch[:0], ev)
			batch = j.collect(batch, batchSize)
			j.write(batch)
		case ack := <-j.flushes:
			j.drain(batch)
			close(ack)
		case <-j.stop:
			j.drain(batch)
			return
		}
	}
}

// collect appends queued events without blocking, up to max.
func (j *Journal) collect(batch []device.Event, max int) []device.Event {
	for len(batch) < max {
		select {
		case ev := <-j.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) drain(batch []device.Event) {
	for {
		batch = j.collect(batch[:0], batchSize)
		if len(batch) == 0 {
			return
		}
		j.write(batch)
	}
}

func (j *Journal) write(batch []device.Event) {
	if err := j.insert(batch); err != nil {
		j.failed.Add(uint64(len(batch)))
		j.logger.Error("journal write failed", "events", len(batch), "error", err)
		return
	}
	j.written.Add(uint64(len(batch)))
}

func (j *Journal) insert(batch []device.Event) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO events (device, seq, slot, kind, x, y, pressure, tilt_x, tilt_y,
		                    pressed, buttons, estimation_update_index, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range batch {
		if _, err := stmt.Exec(ev.Device, int64(ev.Seq), ev.Slot, ev.Kind, ev.X, ev.Y, ev.Pressure,
			ev.TiltX, ev.TiltY, ev.Pressed, int64(ev.Buttons), int64(ev.EstimationUpdateIndex),
			ev.At.UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert seq %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}
