package retention

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cardkeeper/cardkeeper/internal/config"
	"github.com/cardkeeper/cardkeeper/internal/index"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(t *testing.T, folders []config.FolderAttr) *Engine {
	t.Helper()
	root := t.TempDir()

	e := &Engine{
		mountPath: root,
		folders:   folders,
		log:       slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
	e.autoDelete.Store(true)

	for _, folder := range folders {
		path := filepath.Join(root, folder.RelativePath) + string(os.PathSeparator)
		if err := os.MkdirAll(path, 0o755); err != nil {
			t.Fatal(err)
		}
		sortKey := index.ByName
		if folder.SortKey == config.SortByModTime {
			sortKey = index.ByModTime
		}
		e.dirs = append(e.dirs, index.New(path, sortKey))
	}
	return e
}

func TestRetentionByShareEvictsLargerDirectoryFirst(t *testing.T) {
	folders := []config.FolderAttr{
		{RelativePath: "a/", SortKey: config.SortByName, LimitIsCount: false, LimitValue: 50},
		{RelativePath: "b/", SortKey: config.SortByName, LimitIsCount: false, LimitValue: 50},
	}
	e := newTestEngine(t, folders)

	aName := filepath.Join(e.dirs[0].Path(), "big.mp4")
	bName := filepath.Join(e.dirs[1].Path(), "small.mp4")
	writeFile(t, aName, 800)
	writeFile(t, bName, 200)
	stA, _ := os.Stat(aName)
	stB, _ := os.Stat(bName)
	e.dirs[0].Add("big.mp4", index.Stat{Size: stA.Size(), Space: 800})
	e.dirs[1].Add("small.mp4", index.Stat{Size: stB.Size(), Space: 200})

	ctx := context.Background()
	aggs := []dirAggregate{{totalSpace: 800}, {totalSpace: 200}}
	victim, ok := firstOverLimit(aggs, folders, sumSpace(aggs))
	if !ok || victim != 0 {
		t.Fatalf("victim = (%d,%v), want (0,true)", victim, ok)
	}

	if !e.evictHead(ctx, 0) {
		t.Fatal("expected eviction of directory a's head")
	}
	if _, err := os.Stat(aName); !os.IsNotExist(err) {
		t.Fatalf("expected big.mp4 removed, stat err = %v", err)
	}
}

func TestRetentionByCountEvictsLexicographicallySmallest(t *testing.T) {
	folders := []config.FolderAttr{
		{RelativePath: "clips/", SortKey: config.SortByName, LimitIsCount: true, LimitValue: 3},
	}
	e := newTestEngine(t, folders)

	names := []string{"e.mp4", "d.mp4", "c.mp4", "b.mp4", "a.mp4"}
	for _, name := range names {
		path := filepath.Join(e.dirs[0].Path(), name)
		writeFile(t, path, 10)
		e.dirs[0].Add(name, index.Stat{Size: 10, Space: 10, ModTime: time.Now()})
	}

	ctx := context.Background()
	deletions := 0
	for {
		count, _, _ := e.dirs[0].Aggregates()
		if count <= folders[0].LimitValue {
			break
		}
		head, _ := e.dirs[0].Head()
		if !e.evictHead(ctx, 0) {
			break
		}
		// No watcher runs in this test; apply the delete event it would
		// deliver for the evicted file.
		e.dirs[0].Remove(head)
		deletions++
	}

	if deletions != 2 {
		t.Fatalf("deletions = %d, want 2", deletions)
	}
	head, _ := e.dirs[0].Head()
	if head != "c.mp4" {
		t.Fatalf("head after evicting a.mp4,b.mp4 = %q, want c.mp4", head)
	}
}

func TestZeroSumSkipsPercentageBranch(t *testing.T) {
	folders := []config.FolderAttr{{RelativePath: "a/", LimitIsCount: false, LimitValue: 50}}
	aggs := []dirAggregate{{totalSpace: 0}}
	_, ok := firstOverLimit(aggs, folders, sumSpace(aggs))
	if ok {
		t.Fatal("expected no eviction when sum of total space is zero")
	}
}

func TestHysteresisArmAndDisarm(t *testing.T) {
	e := newTestEngine(t, nil)
	e.autoDelete.Store(false)
	e.freeLowKiB.Store(500 * 1024)
	e.freeHighKiB.Store(1000 * 1024)

	e.applyHysteresis(context.Background(), 400*1024)
	if !e.autoDelete.Load() {
		t.Fatal("expected auto-delete to arm when free <= low")
	}

	e.applyHysteresis(context.Background(), 700*1024)
	if !e.autoDelete.Load() {
		t.Fatal("expected auto-delete to stay armed between low and high")
	}

	e.applyHysteresis(context.Background(), 1100*1024)
	if e.autoDelete.Load() {
		t.Fatal("expected auto-delete to disarm when free >= high")
	}
}
