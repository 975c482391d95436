package audit

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := t.TempDir() + "/audit.db"
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, Mount, "", "", "/dev/mmcblk0p1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, Delete, "video_front/", "a.mp4", ""); err != nil {
		t.Fatal(err)
	}

	events, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Kind != Delete || events[0].Filename != "a.mp4" {
		t.Fatalf("newest event = %+v, want Delete a.mp4", events[0])
	}
	if events[1].Kind != Mount || events[1].Detail != "/dev/mmcblk0p1" {
		t.Fatalf("oldest event = %+v", events[1])
	}
}

func TestLatestMountTransition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if ev, err := s.LatestMountTransition(ctx); err != nil || ev != nil {
		t.Fatalf("expected nil, nil on empty store, got %+v, %v", ev, err)
	}

	_ = s.Record(ctx, Mount, "", "", "/dev/mmcblk0p1")
	_ = s.Record(ctx, Arm, "", "", "")
	_ = s.Record(ctx, Unmount, "", "", "")

	ev, err := s.LatestMountTransition(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Kind != Unmount {
		t.Fatalf("got %+v", ev)
	}
}
