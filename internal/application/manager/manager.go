// ABOUTME: Device manager for lifecycle and lookup
// ABOUTME: Creates devices, their ring stores, producers, capture sources, and the journal from config
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/harper/pencil-bridge/internal/application/config"
	"github.com/harper/pencil-bridge/internal/domain"
	"github.com/harper/pencil-bridge/internal/domain/device"
	"github.com/harper/pencil-bridge/internal/infrastructure/capture"
	"github.com/harper/pencil-bridge/internal/infrastructure/journal"
	"github.com/harper/pencil-bridge/internal/infrastructure/producer"
	"github.com/harper/pencil-bridge/internal/infrastructure/ring"
	"github.com/harper/pencil-bridge/internal/infrastructure/source"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrDuplicateDevice = errors.New("duplicate device id")
	ErrJournalDisabled = errors.New("journal disabled")
)

type entry struct {
	dev      *device.Device
	producer *producer.Writer
	store    *ring.Store
	notify   producer.Notifier

	// src is nil unless the device config names a capture source.
	src       domain.CaptureSource
	sourceCfg config.SourceConfig
}

type Manager struct {
	devices map[string]*entry
	journal *journal.Journal
	logger  *slog.Logger
	mu      sync.RWMutex

	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		devices: make(map[string]*entry),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(journal.Config{Path: cfg.Journal.Path, Queue: cfg.Journal.Queue}, logger)
		if err != nil {
			return nil, err
		}
		mgr.journal = j
	}

	for _, devCfg := range cfg.Devices {
		if err := mgr.add(devCfg); err != nil {
			mgr.Shutdown()
			return nil, fmt.Errorf("device %q: %w", devCfg.ID, err)
		}
	}

	return mgr, nil
}

func (m *Manager) add(devCfg config.DeviceConfig) error {
	if _, ok := m.devices[devCfg.ID]; ok {
		return ErrDuplicateDevice
	}
	if devCfg.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", devCfg.Capacity)
	}

	var store *ring.Store
	if devCfg.SharedPath != "" {
		mapped, err := ring.MapFile(devCfg.SharedPath, devCfg.Capacity)
		if err != nil {
			return err
		}
		store = mapped
	} else {
		store = ring.New(devCfg.Capacity)
	}

	dev := device.New(device.Config{
		ID:               devCfg.ID,
		Options:          devCfg.Options(),
		SubscriberBuffer: devCfg.SubscriberBuffer,
	}, store, m.logger)

	var src domain.CaptureSource
	if devCfg.Source.URI != "" {
		s, err := source.FromURI(devCfg.Source.URI, devCfg.Source.ConnectTimeout())
		if err != nil {
			store.Close()
			return err
		}
		src = s
	}

	pw, err := producer.NewWriter(store, m.logger.With("device", devCfg.ID))
	if err != nil {
		store.Close()
		return err
	}
	notify := func(offset, count int) {
		dev.Notify(offset, count)
	}
	pw.Attach(notify)
	dev.SetOverrunCounter(pw)

	if m.journal != nil {
		dev.AddObserver(m.journal)
	}

	m.devices[devCfg.ID] = &entry{
		dev:       dev,
		producer:  pw,
		store:     store,
		notify:    notify,
		src:       src,
		sourceCfg: devCfg.Source,
	}
	m.logger.Info("device configured",
		"device", devCfg.ID, "capacity", devCfg.Capacity, "shared", devCfg.SharedPath != "",
		"source", devCfg.Source.URI)
	return nil
}

// Get returns the device with id, or nil.
func (m *Manager) Get(id string) *device.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.devices[id]; ok {
		return e.dev
	}
	return nil
}

// List returns all devices sorted by ID.
func (m *Manager) List() []*device.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*device.Device, 0, len(m.devices))
	for _, e := range m.devices {
		result = append(result, e.dev)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID() < result[j].ID()
	})
	return result
}

// Producer returns the writer feeding device id.
func (m *Manager) Producer(id string) (*producer.Writer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return e.producer, nil
}

func (m *Manager) Journal() (*journal.Journal, error) {
	if m.journal == nil {
		return nil, ErrJournalDisabled
	}
	return m.journal, nil
}

// Start begins event fan-out on every device and launches the capture
// sources. Calling it again is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true

	for _, e := range m.devices {
		if err := e.dev.Start(); err != nil {
			return err
		}
	}
	for id, e := range m.devices {
		if e.src == nil {
			continue
		}
		m.wg.Add(1)
		go m.runSource(id, e)
	}

	return nil
}

// runSource replays the device's capture into its producer, again after the
// retry delay when looping, until the manager shuts down.
func (m *Manager) runSource(id string, e *entry) {
	defer m.wg.Done()
	logger := m.logger.With("device", id, "source", e.sourceCfg.URI)

	for {
		frames, err := m.replaySource(e)
		switch {
		case m.ctx.Err() != nil:
			return
		case err != nil:
			logger.Warn("capture source failed", "frames", frames, "error", err)
		default:
			logger.Info("capture source finished", "frames", frames)
		}

		if !e.sourceCfg.Loop {
			return
		}
		retry := time.NewTimer(e.sourceCfg.Retry())
		select {
		case <-m.ctx.Done():
			retry.Stop()
			return
		case <-retry.C:
		}
	}
}

// replaySource runs one capture session. Each session re-attaches the
// producer and resets the device so the stream starts from slot zero with
// the pen lifted.
func (m *Manager) replaySource(e *entry) (int, error) {
	rc, err := e.src.Open(m.ctx)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	e.producer.Attach(e.notify)
	e.dev.Reset()
	return capture.Replay(m.ctx, capture.NewReader(rc), e.producer, e.sourceCfg.Interval())
}

// Shutdown stops the capture sources and every device, detaches producers,
// then closes stores and the journal. All errors are reported.
func (m *Manager) Shutdown() error {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, e := range m.devices {
		e.producer.Detach()
		if err := e.dev.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", id, err))
		}
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device %s store: %w", id, err))
		}
	}
	m.devices = make(map[string]*entry)

	if m.journal != nil {
		if err := m.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}

	return errors.Join(errs...)
}
