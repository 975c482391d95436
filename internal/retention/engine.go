package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cardkeeper/cardkeeper/internal/audit"
	"github.com/cardkeeper/cardkeeper/internal/config"
	"github.com/cardkeeper/cardkeeper/internal/index"
	"github.com/cardkeeper/cardkeeper/internal/mount"
	"github.com/cardkeeper/cardkeeper/internal/watcher"
)

// tick is the retention loop's polling cadence.
const tick = 10 * time.Millisecond

// actionEvery is the number of ticks between action cycles (~51 ticks, about
// half a second).
const actionEvery = 51

// yieldEvery bounds how many initial-scan insertions happen before the
// worker yields briefly, keeping the system responsive during a large
// enumeration.
const yieldEvery = 100

// Engine owns the directory indexes, the filesystem watcher, and the
// periodic retention decision for one Mounted episode of one device.
type Engine struct {
	mountPath string
	folders   []config.FolderAttr
	dirs      []*index.DirectoryIndex

	log     *slog.Logger
	auditor *audit.Store
	watch   *watcher.Watcher

	autoDelete  atomic.Bool
	freeLowKiB  atomic.Int64
	freeHighKiB atomic.Int64

	totalKiB atomic.Int64
	freeKiB  atomic.Int64
}

// New builds the DirectoryIndex array from cfg, creating each configured
// directory on disk (mode 0755) and opening a shared filesystem watcher
// over all of them. It does not perform the initial enumeration; Run does
// that after New succeeds.
func New(log *slog.Logger, auditor *audit.Store, cfg *config.Config) (*Engine, error) {
	w, err := watcher.Open(log)
	if err != nil {
		return nil, fmt.Errorf("opening filesystem watcher: %w", err)
	}

	e := &Engine{
		mountPath: cfg.MountPath,
		folders:   cfg.Folders,
		log:       log,
		auditor:   auditor,
		watch:     w,
	}
	e.autoDelete.Store(cfg.AutoDeleteEnabled)
	e.freeLowKiB.Store(cfg.FreeLowKiB)
	e.freeHighKiB.Store(cfg.FreeHighKiB)

	for _, folder := range cfg.Folders {
		path := filepath.Join(cfg.MountPath, folder.RelativePath) + string(os.PathSeparator)
		if err := os.MkdirAll(path, 0o755); err != nil {
			w.Close()
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}

		sortKey := index.ByName
		if folder.SortKey == config.SortByModTime {
			sortKey = index.ByModTime
		}
		dir := index.New(path, sortKey)
		if err := w.Watch(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watching %s: %w", path, err)
		}
		e.dirs = append(e.dirs, dir)
	}

	return e, nil
}

// ApplyMutable updates the hysteresis thresholds and auto-delete toggle
// from a config reload. Safe to call from any goroutine; the retention loop
// reads these fields as plain atomics with at-most-one-tick staleness.
func (e *Engine) ApplyMutable(m config.Mutable) {
	e.autoDelete.Store(m.AutoDeleteEnabled)
	e.freeLowKiB.Store(m.FreeLowKiB)
	e.freeHighKiB.Store(m.FreeHighKiB)
}

// Dir returns the DirectoryIndex for relativePath, if configured.
func (e *Engine) Dir(relativePath string) (*index.DirectoryIndex, bool) {
	for i, folder := range e.folders {
		if folder.RelativePath == relativePath {
			return e.dirs[i], true
		}
	}
	return nil, false
}

// DiskUsage re-samples total/free space at the mount path and returns the
// result in kibibytes, also refreshing the cached atomics the retention loop
// reads. A failed sample falls back to the last known values.
func (e *Engine) DiskUsage() (totalKiB, freeKiB int64) {
	if total, free, err := mount.DiskUsage(e.mountPath); err == nil {
		e.totalKiB.Store(total)
		e.freeKiB.Store(free)
		return total, free
	}
	return e.totalKiB.Load(), e.freeKiB.Load()
}

// Run samples disk usage, starts the filesystem watcher, performs the
// initial enumeration (if auto-delete is enabled), and then runs the
// retention loop until ctx is canceled or an unmount event is observed on the watch.
// It always closes the watcher before returning.
func (e *Engine) Run(ctx context.Context) error {
	defer e.watch.Close()

	e.DiskUsage()

	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		e.watch.Run(stopWatch)
		close(watchDone)
	}()
	defer func() {
		close(stopWatch)
		<-watchDone
	}()

	if e.autoDelete.Load() {
		e.enumerateInitial(ctx)
	}

	return e.retentionLoop(ctx)
}

// enumerateInitial walks each directory's immediate entries and indexes
// every non-directory, yielding briefly every yieldEvery insertions so a
// large initial scan doesn't starve the rest of the process.
func (e *Engine) enumerateInitial(ctx context.Context) {
	inserted := 0
	for i, dir := range e.dirs {
		entries, err := os.ReadDir(e.folderPath(i))
		if err != nil {
			e.log.Warn("initial enumeration failed", "path", dir.Path(), "error", err)
			continue
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				return
			}
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				e.log.Warn("stat failed during initial enumeration", "name", entry.Name(), "error", err)
				continue
			}
			dir.Add(entry.Name(), index.Stat{
				Size:    info.Size(),
				Space:   spaceOf(info),
				ModTime: info.ModTime(),
			})

			inserted++
			if inserted%yieldEvery == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func (e *Engine) folderPath(i int) string {
	return filepath.Join(e.mountPath, e.folders[i].RelativePath)
}

// retentionLoop is the periodic free-space check and eviction cycle that
// runs for the lifetime of one mounted episode.
func (e *Engine) retentionLoop(ctx context.Context) error {
	cnt := 0
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.watch.Unmounted():
			return nil
		case <-ticker.C:
		}

		cnt++
		if cnt < actionEvery {
			continue
		}
		cnt = 0

		evicted, err := e.actionTick(ctx)
		if err != nil {
			// Failure of the free-space sample is the one fatal condition
			// in the retention loop; exit so a later DevAdd can rebuild
			// state cleanly.
			return err
		}
		if evicted {
			// Force the next tick to act immediately, so eviction can
			// continue aggressively while still below the high-water mark.
			cnt = actionEvery - 1
		}
	}
}

// actionTick runs one action cycle: resample, apply hysteresis, and evict
// at most one file. It returns evicted=true if a file was removed.
func (e *Engine) actionTick(ctx context.Context) (evicted bool, err error) {
	totalKiB, freeKiB, err := mount.DiskUsage(e.mountPath)
	if err != nil {
		return false, fmt.Errorf("sampling disk usage: %w", err)
	}
	e.totalKiB.Store(totalKiB)
	e.freeKiB.Store(freeKiB)

	e.applyHysteresis(ctx, freeKiB)

	if !e.autoDelete.Load() {
		return false, nil
	}

	aggs := make([]dirAggregate, len(e.dirs))
	for i, dir := range e.dirs {
		count, _, totalSpace := dir.Aggregates()
		aggs[i] = dirAggregate{fileCount: count, totalSpace: totalSpace}
	}
	sum := sumSpace(aggs)

	victim, ok := firstOverLimit(aggs, e.folders, sum)
	if !ok {
		return false, nil
	}

	return e.evictHead(ctx, victim), nil
}

// applyHysteresis arms or disarms auto-delete based on the hysteresis band,
// and records the transition to the audit log.
func (e *Engine) applyHysteresis(ctx context.Context, freeKiB int64) {
	low := e.freeLowKiB.Load()
	high := e.freeHighKiB.Load()

	switch {
	case freeKiB <= low && !e.autoDelete.Load():
		e.autoDelete.Store(true)
		e.record(ctx, audit.Arm, "", "", "")
	case freeKiB >= high && e.autoDelete.Load():
		e.autoDelete.Store(false)
		e.record(ctx, audit.Disarm, "", "", "")
	}
}

// evictHead deletes the sorted head of dirs[victim] from the filesystem.
// The watcher's own delete event updates the index; this function does not
// mutate it directly.
func (e *Engine) evictHead(ctx context.Context, victim int) bool {
	dir := e.dirs[victim]
	name, ok := dir.Head()
	if !ok {
		return false
	}

	full := filepath.Join(dir.Path(), name)
	if err := os.Remove(full); err != nil {
		e.log.Warn("evicting file failed", "path", full, "error", err)
		return false
	}

	e.record(ctx, audit.Delete, e.folders[victim].RelativePath, name, "")
	return true
}

func (e *Engine) record(ctx context.Context, kind audit.Kind, dir, filename, detail string) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.Record(ctx, kind, dir, filename, detail); err != nil {
		e.log.Warn("audit record failed", "kind", kind, "error", err)
	}
}
