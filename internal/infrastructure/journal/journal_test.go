// ABOUTME: Tests for the SQLite event journal
// ABOUTME: Verifies persistence, newest-first queries, limits, and close behavior
package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/harper/pencil-bridge/internal/domain/device"
	"github.com/harper/pencil-bridge/internal/domain/sample"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{Path: filepath.Join(t.TempDir(), "journal.db")}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func event(dev string, seq uint64) device.Event {
	return device.Event{
		Device:   dev,
		Seq:      seq,
		Slot:     int(seq % 4),
		Kind:     "confirmed",
		X:        float32(seq),
		Y:        2,
		Pressure: 0.5,
		Pressed:  true,
		Buttons:  uint16(sample.Tip | sample.ExpectsForceUpdate),
		At:       time.Date(2024, 1, 1, 0, 0, int(seq), 0, time.UTC),
	}
}

func TestJournal_RecentNewestFirst(t *testing.T) {
	j := openTest(t)
	for seq := uint64(1); seq <= 5; seq++ {
		j.Observe(event("pencil-0", seq))
	}
	j.Observe(event("pencil-1", 99))

	if err := j.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got, err := j.Recent(context.Background(), "pencil-0", 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, seq := range []uint64{5, 4, 3} {
		if got[i].Seq != seq {
			t.Errorf("event %d: expected seq %d, got %d", i, seq, got[i].Seq)
		}
	}

	first := got[0]
	want := event("pencil-0", 5)
	if !first.Pressed || first.X != want.X || first.Slot != want.Slot || first.Buttons != want.Buttons {
		t.Errorf("expected %+v, got %+v", want, first)
	}
	if !first.At.Equal(want.At) {
		t.Errorf("expected time %v, got %v", want.At, first.At)
	}
	if len(first.ExpectingUpdates) != 1 || first.ExpectingUpdates[0] != "force" {
		t.Errorf("expected [force], got %v", first.ExpectingUpdates)
	}

	if st := j.Stats(); st.Written != 6 || st.Dropped != 0 || st.Failed != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestJournal_UnknownDevice(t *testing.T) {
	j := openTest(t)
	got, err := j.Recent(context.Background(), "missing", 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no events, got %d", len(got))
	}
}

func TestJournal_CloseWritesQueued(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	j.Observe(event("pencil-0", 1))
	j.Observe(event("pencil-0", 2))
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := j.Recent(context.Background(), "pencil-0", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := j.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Flush, got %v", err)
	}
	j.Observe(event("pencil-0", 3))
	if j.Stats().Dropped != 1 {
		t.Errorf("expected 1 dropped after close, got %d", j.Stats().Dropped)
	}

	reopened, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Recent(context.Background(), "pencil-0", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 persisted events, got %d", len(got))
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Error("expected error for empty path")
	}
}
