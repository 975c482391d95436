// Package cardkeeper is the public, in-process API for the storage manager:
// a single owned value a host application constructs, queries, and tears
// down.
package cardkeeper

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cardkeeper/cardkeeper/internal/audit"
	"github.com/cardkeeper/cardkeeper/internal/config"
	"github.com/cardkeeper/cardkeeper/internal/device"
	"github.com/cardkeeper/cardkeeper/internal/index"
	"github.com/cardkeeper/cardkeeper/internal/mount"
	"github.com/cardkeeper/cardkeeper/internal/queue"
)

// Order selects ascending or descending output from ListFiles.
type Order = index.Order

const (
	Ascending  = index.Ascending
	Descending = index.Descending
)

// Status mirrors the device attach/detach state.
type Status = device.Status

const (
	Mounted   = device.Mounted
	Unmounted = device.Unmounted
)

// FileInfo is a read-only snapshot of one indexed file.
type FileInfo = index.Snapshot

// Manager is the single owned object a host application holds for the
// lifetime of the storage manager. It is safe for concurrent use by
// multiple callers, but is not re-entrant from within a message callback
// (there is none exposed here; callers only ever see synchronous results).
type Manager struct {
	cfg        *config.Config
	log        *slog.Logger
	auditor    *audit.Store
	q          *queue.Queue
	controller *device.Controller

	cancel        context.CancelFunc
	group         *errgroup.Group
	controllerEnd chan struct{}
}

// Init applies cfg (or config.Default() if cfg is nil), opens the audit
// log, starts the hot-plug listener and message consumer, and, if the
// configured mount path is already mounted at startup, starts the
// scanner/retention worker immediately. It never publishes a partially
// constructed Manager: a configuration or audit-log failure returns a
// non-nil error and a nil Manager. The hot-plug listener opens its socket
// on its own goroutine after Init returns; if that fails, the Manager's
// goroutines stop and Deinit returns the error.
func Init(log *slog.Logger, cfg *config.Config) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	var auditor *audit.Store
	if cfg.Audit.Path != "" {
		var err error
		auditor, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
	}

	q := queue.New()
	controller := device.New(log, auditor, cfg, q)

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	stop := make(chan struct{})
	group.Go(func() error {
		<-groupCtx.Done()
		close(stop)
		return nil
	})
	group.Go(func() error { return device.StartListener(log, q, stop) })

	controllerEnd := make(chan struct{})
	group.Go(func() error {
		defer close(controllerEnd)
		return controller.Run(groupCtx)
	})

	m := &Manager{
		cfg:           cfg,
		log:           log,
		auditor:       auditor,
		q:             q,
		controller:    controller,
		cancel:        cancel,
		group:         group,
		controllerEnd: controllerEnd,
	}

	if dev, _, err := mount.Device(cfg.MountPath); err == nil {
		q.Put(queue.Message{Kind: queue.DevAdd, DeviceName: dev})
	}

	return m, nil
}

// Deinit closes the message queue and waits for the controller to drain
// and process every already-queued message and to stop the retention
// engine, if one is running, before canceling the listener goroutine, then
// frees resources. It blocks until every spawned goroutine has joined.
func (m *Manager) Deinit() error {
	m.q.Close()
	<-m.controllerEnd
	m.cancel()
	err := m.group.Wait()
	if m.auditor != nil {
		if cerr := m.auditor.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// MountStatus returns Mounted or Unmounted.
func (m *Manager) MountStatus() Status {
	return m.controller.MountStatus()
}

// DiskSize returns (total_kib, free_kib), re-sampled from the active
// retention engine if Mounted, else (0, 0).
func (m *Manager) DiskSize() (totalKiB, freeKiB int64) {
	engine, ok := m.controller.Engine()
	if !ok {
		return 0, 0
	}
	return engine.DiskUsage()
}

// ListFiles returns a snapshot of the directory index for the configured
// directory at relativePath, in the requested order. It fails if
// relativePath is not a configured directory or the device is unmounted.
func (m *Manager) ListFiles(relativePath string, order Order) ([]FileInfo, error) {
	engine, ok := m.controller.Engine()
	if !ok {
		return nil, fmt.Errorf("list files %s: device not mounted", relativePath)
	}
	dir, ok := engine.Dir(relativePath)
	if !ok {
		return nil, fmt.Errorf("list files %s: not a configured directory", relativePath)
	}
	return dir.Entries(order), nil
}

// FileCount returns the current file count for relativePath.
func (m *Manager) FileCount(relativePath string) (int, error) {
	engine, ok := m.controller.Engine()
	if !ok {
		return 0, fmt.Errorf("file count %s: device not mounted", relativePath)
	}
	dir, ok := engine.Dir(relativePath)
	if !ok {
		return 0, fmt.Errorf("file count %s: not a configured directory", relativePath)
	}
	return dir.FileCount(), nil
}

// DevicePath returns the backing device path, or "" if unmounted.
func (m *Manager) DevicePath() string {
	return m.controller.DevicePath()
}

// ApplyConfig forwards a hot-reloaded config's mutable fields to the
// running retention engine, if any.
func (m *Manager) ApplyConfig(mutable config.Mutable) {
	m.controller.ApplyMutable(mutable)
}
