// Package watcher maintains a raw inotify watch over a set of configured
// directories and routes their create/close/rename/delete events back into
// the matching directory index.
//
// It talks to inotify directly via golang.org/x/sys/unix rather than
// fsnotify because fsnotify folds IN_CLOSE_WRITE into a generic Write event
// and does not let a caller distinguish "file closed after being written"
// from an in-progress write. Here IN_CLOSE_WRITE re-reads a file's size once
// its writer closes it; files are also indexed on IN_CREATE, so a recording
// still being written is listed with the size it had when it was created
// until then.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cardkeeper/cardkeeper/internal/index"
)

// pollTimeout bounds each poll so the watcher observes shutdown within one
// cycle, matching spec's ~10ms watch poll.
const pollTimeout = 10 * time.Millisecond

const watchMask = unix.IN_CREATE | unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO |
	unix.IN_DELETE | unix.IN_MOVED_FROM | unix.IN_UNMOUNT

// Watcher owns one inotify file descriptor shared across every directory of
// one mounted device.
type Watcher struct {
	log *slog.Logger
	fd  int

	byWatchID map[int32]*index.DirectoryIndex
	unmounted chan struct{}
}

// Open creates the inotify instance. Callers register directories with
// Watch before calling Run.
func Open(log *slog.Logger) (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	return &Watcher{
		log:       log,
		fd:        fd,
		byWatchID: make(map[int32]*index.DirectoryIndex),
		unmounted: make(chan struct{}),
	}, nil
}

// Unmounted returns a channel that closes once an IN_UNMOUNT event has been
// observed on any watched directory, letting the retention engine notice
// the transition without polling the watcher directly.
func (w *Watcher) Unmounted() <-chan struct{} {
	return w.unmounted
}

// Close releases the inotify file descriptor.
func (w *Watcher) Close() error {
	return unix.Close(w.fd)
}

// Watch registers dir's path for the configured event set and records its
// watch handle on the index so future events route back to it.
func (w *Watcher) Watch(dir *index.DirectoryIndex) error {
	wd, err := unix.InotifyAddWatch(w.fd, dir.Path(), watchMask)
	if err != nil {
		return fmt.Errorf("watching %s: %w", dir.Path(), err)
	}
	dir.SetWatchHandle(wd)
	w.byWatchID[int32(wd)] = dir
	return nil
}

// Run polls the inotify descriptor until stop is closed, dispatching every
// decoded event to its directory index. It also returns, after closing
// Unmounted(), when an IN_UNMOUNT event arrives on the watch itself.
func (w *Watcher) Run(stop <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := readTimeout(w.fd, buf, pollTimeout)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			w.log.Error("inotify read failed", "error", err)
			continue
		}
		if n <= 0 {
			continue
		}

		events, err := decodeEvents(buf[:n])
		if err != nil {
			w.log.Error("decoding inotify buffer", "error", err)
			continue
		}

		for _, ev := range events {
			if w.dispatch(ev) {
				return
			}
		}
	}
}

// dispatch applies one decoded event to its directory index. It returns
// true if the event signalled an unmount, telling Run to exit.
func (w *Watcher) dispatch(ev rawEvent) bool {
	if ev.mask&unix.IN_UNMOUNT != 0 {
		close(w.unmounted)
		return true
	}
	if ev.name == "" {
		return false
	}

	dir, ok := w.byWatchID[ev.wd]
	if !ok {
		return false
	}

	switch {
	case ev.mask&(unix.IN_CREATE|unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO) != 0:
		full := filepath.Join(dir.Path(), ev.name)
		info, err := os.Stat(full)
		if err != nil {
			w.log.Warn("stat failed for watch event, skipping", "path", full, "error", err)
			return false
		}
		if info.IsDir() {
			return false
		}
		dir.Add(ev.name, index.Stat{
			Size:    info.Size(),
			Space:   spaceOf(info),
			ModTime: info.ModTime(),
		})
	case ev.mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		dir.Remove(ev.name)
	}
	return false
}

// readTimeout blocks on fd with a poll deadline, returning unix.EAGAIN on
// timeout.
func readTimeout(fd int, buf []byte, timeout time.Duration) (int, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, unix.EAGAIN
	}
	return unix.Read(fd, buf)
}
