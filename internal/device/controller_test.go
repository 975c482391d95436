package device

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/cardkeeper/cardkeeper/internal/config"
	"github.com/cardkeeper/cardkeeper/internal/queue"
)

func testController(t *testing.T) (*Controller, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.MountPath = t.TempDir()
	cfg.Folders = []config.FolderAttr{
		{RelativePath: "video_front/", SortKey: config.SortByName, LimitValue: 50},
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	q := queue.New()
	c := New(log, nil, cfg, q)
	return c, cfg
}

func TestDevChangedIsNoop(t *testing.T) {
	c, _ := testController(t)
	before := c.MountStatus()
	c.HandleMessage(context.Background(), queue.Message{Kind: queue.DevChanged, DeviceName: "sda1"})
	if c.MountStatus() != before {
		t.Fatalf("DevChanged changed status from %v to %v", before, c.MountStatus())
	}
}

func TestDevRemoveOfUnknownDeviceIsIgnored(t *testing.T) {
	c, _ := testController(t)
	c.HandleMessage(context.Background(), queue.Message{Kind: queue.DevRemove, DeviceName: "sda1"})
	if c.MountStatus() != Unmounted {
		t.Fatalf("status = %v, want Unmounted", c.MountStatus())
	}
}

func TestInitialStatusIsUnmounted(t *testing.T) {
	c, _ := testController(t)
	if c.MountStatus() != Unmounted {
		t.Fatalf("status = %v, want Unmounted", c.MountStatus())
	}
	if c.DevicePath() != "" {
		t.Fatalf("device path = %q, want empty", c.DevicePath())
	}
}

func TestRunExitsOnContextCancel(t *testing.T) {
	c, _ := testController(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
