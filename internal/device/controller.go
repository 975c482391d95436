// Package device implements the top-level state machine that owns mount
// status and orchestrates the hot-plug listener, message queue, and
// retention engine in response to device-change messages.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardkeeper/cardkeeper/internal/audit"
	"github.com/cardkeeper/cardkeeper/internal/config"
	"github.com/cardkeeper/cardkeeper/internal/hotplug"
	"github.com/cardkeeper/cardkeeper/internal/mount"
	"github.com/cardkeeper/cardkeeper/internal/queue"
	"github.com/cardkeeper/cardkeeper/internal/retention"
)

// Status is the device attach/detach state.
type Status int32

const (
	Unmounted Status = iota
	Mounted
)

func (s Status) String() string {
	if s == Mounted {
		return "Mounted"
	}
	return "Unmounted"
}

// Controller is the device attach/detach state machine. It is safe for
// concurrent use by its own message-consumer goroutine and by query
// callers.
type Controller struct {
	log     *slog.Logger
	cfg     *config.Config
	auditor *audit.Store
	q       *queue.Queue

	status  atomic.Int32
	devPath atomic.Value // string

	mu     sync.Mutex
	engine *retention.Engine
	cancel context.CancelFunc
	joined chan struct{}
}

// New constructs a Controller bound to cfg. It does not start anything;
// call Run to begin consuming messages.
func New(log *slog.Logger, auditor *audit.Store, cfg *config.Config, q *queue.Queue) *Controller {
	c := &Controller{log: log, cfg: cfg, auditor: auditor, q: q}
	c.devPath.Store("")
	return c
}

// MountStatus returns the current mount status.
func (c *Controller) MountStatus() Status {
	return Status(c.status.Load())
}

// DevicePath returns the device path captured at the last successful mount,
// or "" if unmounted.
func (c *Controller) DevicePath() string {
	return c.devPath.Load().(string)
}

// Engine returns the active retention engine, if Mounted.
func (c *Controller) Engine() (*retention.Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil, false
	}
	return c.engine, true
}

// ApplyMutable forwards a config reload's mutable fields to the active
// engine, if one is running.
func (c *Controller) ApplyMutable(m config.Mutable) {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine != nil {
		engine.ApplyMutable(m)
	}
}

// Run consumes messages from the queue until ctx is canceled or the queue
// is closed and drained, dispatching each one to HandleMessage serially;
// there is never more than one message in flight at a time. Before
// returning it stops the active retention engine, if any, and waits for it
// to exit.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		c.mu.Lock()
		cancel, joined := c.cancel, c.joined
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if joined != nil {
			<-joined
		}
	}()
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok := c.q.GetTimeout(queueTimeout)
		if !ok {
			if c.q.Closed() {
				return nil
			}
			continue
		}
		c.HandleMessage(ctx, msg)
	}
}

// queueTimeout is the message consumer's blocking-wait timeout.
const queueTimeout = 50 * time.Millisecond

// HandleMessage dispatches one message. Exported for direct use in tests
// and for a host-owned consumer loop if the caller prefers not to use Run.
func (c *Controller) HandleMessage(ctx context.Context, msg queue.Message) {
	switch msg.Kind {
	case queue.DevAdd:
		c.handleDevAdd(ctx, msg.DeviceName)
	case queue.DevRemove:
		c.handleDevRemove(msg.DeviceName)
	case queue.DevChanged:
		// reserved, no-op.
	}
}

func (c *Controller) handleDevAdd(ctx context.Context, dev string) {
	path, err := mount.Path(dev)
	if err != nil {
		c.log.Warn("device add: could not resolve mount path", "device", dev, "error", err)
		return
	}
	if path != c.cfg.MountPath {
		c.log.Warn("device add: mount-table mismatch, rejecting",
			"device", dev, "resolved_path", path, "configured_path", c.cfg.MountPath)
		return
	}

	mount.Repair(c.log, dev)

	engine, err := retention.New(c.log, c.auditor, c.cfg)
	if err != nil {
		c.log.Error("device add: building retention engine failed", "error", err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	joined := make(chan struct{})

	c.mu.Lock()
	c.engine = engine
	c.cancel = cancel
	c.joined = joined
	c.mu.Unlock()

	c.devPath.Store(dev)
	c.status.Store(int32(Mounted))
	c.recordAudit(ctx, audit.Mount, "", "", dev)

	go func() {
		defer close(joined)
		if err := engine.Run(runCtx); err != nil {
			c.log.Error("retention engine exited with error", "error", err)
		}

		c.mu.Lock()
		selfTriggered := c.engine == engine
		if selfTriggered {
			c.engine = nil
			c.cancel = nil
			c.joined = nil
		}
		c.mu.Unlock()

		c.status.Store(int32(Unmounted))
		c.devPath.Store("")
		if selfTriggered {
			// Engine exited on its own (watch-observed unmount or ctx
			// cancellation), rather than via handleDevRemove, which clears
			// the engine before canceling it and records Unmount itself once
			// this goroutine has finished.
			c.recordAudit(context.Background(), audit.Unmount, "", "", dev)
		}
	}()
}

func (c *Controller) handleDevRemove(dev string) {
	if c.DevicePath() != dev {
		return
	}

	c.mu.Lock()
	cancel := c.cancel
	joined := c.joined
	c.engine = nil
	c.cancel = nil
	c.joined = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if joined != nil {
		<-joined
	}

	c.status.Store(int32(Unmounted))
	c.devPath.Store("")
	c.recordAudit(context.Background(), audit.Unmount, "", "", dev)
}

func (c *Controller) recordAudit(ctx context.Context, kind audit.Kind, dir, filename, detail string) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.Record(ctx, kind, dir, filename, detail); err != nil {
		c.log.Warn("audit record failed", "kind", kind, "error", err)
	}
}

// StartListener opens the hot-plug listener and runs it until stop is
// closed, translating its error into a wrapped form for the caller's
// errgroup.
func StartListener(log *slog.Logger, q *queue.Queue, stop <-chan struct{}) error {
	l, err := hotplug.New(log, q)
	if err != nil {
		return fmt.Errorf("starting hot-plug listener: %w", err)
	}
	defer l.Close()
	l.Run(stop)
	return nil
}
