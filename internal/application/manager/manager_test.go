// ABOUTME: Tests for device manager lifecycle
// ABOUTME: Verifies device creation, lookup, producer wiring, capture sources, and the journal
package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harper/pencil-bridge/internal/application/config"
	"github.com/harper/pencil-bridge/internal/domain/sample"
	"github.com/harper/pencil-bridge/internal/infrastructure/capture"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Journal: config.JournalConfig{Path: filepath.Join(dir, "journal.db")},
		Devices: []config.DeviceConfig{
			{ID: "pencil-b", Capacity: 4},
			{ID: "pencil-a", Capacity: 8, SharedPath: filepath.Join(dir, "pencil-a.ring")},
		},
	}
}

func TestManager_NewFromConfig(t *testing.T) {
	mgr, err := NewFromConfig(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer mgr.Shutdown()

	list := mgr.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(list))
	}
	if list[0].ID() != "pencil-a" || list[1].ID() != "pencil-b" {
		t.Errorf("expected sorted IDs, got %s, %s", list[0].ID(), list[1].ID())
	}

	dev := mgr.Get("pencil-a")
	if dev == nil {
		t.Fatal("expected to find pencil-a")
	}
	if dev.Store().Capacity() != 8 {
		t.Errorf("expected capacity 8, got %d", dev.Store().Capacity())
	}
	if mgr.Get("missing") != nil {
		t.Error("expected nil for unknown device")
	}
}

func TestManager_ProducerDrivesDevice(t *testing.T) {
	mgr, err := NewFromConfig(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer mgr.Shutdown()

	if err := mgr.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pw, err := mgr.Producer("pencil-b")
	if err != nil {
		t.Fatalf("Producer failed: %v", err)
	}
	pw.Add(sample.Sample{Pressure: 0.3, Buttons: sample.Tip | sample.ExpectsForceUpdate, EstimationUpdateIndex: 1})
	pw.Add(sample.Sample{Buttons: sample.Predicted})
	pw.Add(sample.Sample{Pressure: 0.6, Buttons: sample.EstimationUpdate, EstimationUpdateIndex: 1})
	if _, err := pw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	st := mgr.Get("pencil-b").Status()
	if st.Notifies != 1 || st.Totals.Read != 3 || st.Totals.Emitted != 3 {
		t.Errorf("unexpected status %+v", st)
	}
	if !st.Pressed {
		t.Error("expected device pressed after tip-down record")
	}

	j, err := mgr.Journal()
	if err != nil {
		t.Fatalf("Journal failed: %v", err)
	}
	if err := j.Flush(context.Background()); err != nil {
		t.Fatalf("journal Flush failed: %v", err)
	}
	events, err := j.Recent(context.Background(), "pencil-b", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 journaled events, got %d", len(events))
	}
	if events[0].Kind != "estimation_update" || events[2].Kind != "confirmed" {
		t.Errorf("unexpected kinds %s ... %s", events[0].Kind, events[2].Kind)
	}
	if !events[1].Pressed {
		t.Error("expected predicted record to carry the press forward")
	}
}

func TestManager_Errors(t *testing.T) {
	cfg := &config.Config{Devices: []config.DeviceConfig{
		{ID: "dup", Capacity: 4},
		{ID: "dup", Capacity: 4},
	}}
	if _, err := NewFromConfig(cfg, nil); !errors.Is(err, ErrDuplicateDevice) {
		t.Errorf("expected ErrDuplicateDevice, got %v", err)
	}

	cfg = &config.Config{Devices: []config.DeviceConfig{{ID: "zero"}}}
	if _, err := NewFromConfig(cfg, nil); err == nil {
		t.Error("expected error for zero capacity")
	}

	mgr, err := NewFromConfig(&config.Config{Devices: []config.DeviceConfig{{ID: "p", Capacity: 2}}}, nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer mgr.Shutdown()

	if _, err := mgr.Producer("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
	if _, err := mgr.Journal(); !errors.Is(err, ErrJournalDisabled) {
		t.Errorf("expected ErrJournalDisabled, got %v", err)
	}
}

func TestManager_ShutdownWithoutStart(t *testing.T) {
	mgr, err := NewFromConfig(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if err := mgr.Shutdown(); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if len(mgr.List()) != 0 {
		t.Error("expected no devices after shutdown")
	}
}

func writeSession(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.cap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	defer f.Close()

	w := capture.NewWriter(f)
	frames := [][]sample.Sample{
		{{Buttons: sample.Tip}, {Buttons: sample.Predicted}},
		{{Buttons: sample.EstimationUpdate}, {}},
	}
	for _, fr := range frames {
		if err := w.WriteFrame(0, fr); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	return path
}

func TestManager_SourceFeedsDevice(t *testing.T) {
	cfg := &config.Config{
		Journal: config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db")},
		Devices: []config.DeviceConfig{{
			ID:       "pencil",
			Capacity: 4,
			Source:   config.SourceConfig{URI: writeSession(t)},
		}},
	}
	mgr, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer mgr.Shutdown()

	// Pre-start state must not leak into the session.
	dev := mgr.Get("pencil")
	pw, _ := mgr.Producer("pencil")
	pw.Add(sample.Sample{Buttons: sample.Tip})
	pw.Flush()

	if err := mgr.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dev.Status().Totals.Read < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("source never drained, status %+v", dev.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}

	st := dev.Status()
	if st.Notifies != 3 || st.Totals.Emitted != 5 || st.Pressed {
		t.Errorf("unexpected status after replay %+v", st)
	}

	j, _ := mgr.Journal()
	if err := j.Flush(context.Background()); err != nil {
		t.Fatalf("journal Flush failed: %v", err)
	}
	events, err := j.Recent(context.Background(), "pencil", 4)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 4 || events[3].Slot != 0 || !events[2].Pressed {
		t.Errorf("expected the session to restart at slot 0, got %+v", events)
	}
}

func TestManager_SourceErrors(t *testing.T) {
	cfg := &config.Config{Devices: []config.DeviceConfig{{
		ID:       "pencil",
		Capacity: 4,
		Source:   config.SourceConfig{URI: "ftp://example.com/session.cap"},
	}}}
	if _, err := NewFromConfig(cfg, nil); err == nil {
		t.Error("expected error for unsupported source scheme")
	}

	cfg.Devices[0].Source = config.SourceConfig{
		URI:     filepath.Join(t.TempDir(), "absent.cap"),
		Loop:    true,
		RetryMs: 5,
	}
	mgr, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if err := mgr.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- mgr.Shutdown() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not stop the retrying source")
	}
}
