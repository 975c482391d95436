package watcher

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
)

func encodeEvent(wd int32, mask uint32, name string) []byte {
	padded := name
	for len(padded)%4 != 0 {
		padded += "\x00"
	}
	if name != "" && len(padded) == len(name) {
		padded += "\x00\x00\x00\x00"
	}

	var buf bytes.Buffer
	header := unix.InotifyEvent{
		Wd:     wd,
		Mask:   mask,
		Cookie: 0,
		Len:    uint32(len(padded)),
	}
	_ = binary.Write(&buf, binary.LittleEndian, &header)
	buf.WriteString(padded)
	return buf.Bytes()
}

func TestDecodeSingleEvent(t *testing.T) {
	buf := encodeEvent(3, unix.IN_CLOSE_WRITE, "clip001.mp4")
	events, err := decodeEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("len = %d, want 1", len(events))
	}
	if events[0].wd != 3 || events[0].mask != unix.IN_CLOSE_WRITE || events[0].name != "clip001.mp4" {
		t.Fatalf("got %+v", events[0])
	}
}

func TestDecodeMultipleEvents(t *testing.T) {
	buf := append(encodeEvent(1, unix.IN_CREATE, "a.mp4"), encodeEvent(2, unix.IN_DELETE, "b.mp4")...)
	events, err := decodeEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].name != "a.mp4" || events[1].name != "b.mp4" {
		t.Fatalf("got %+v", events)
	}
}

func TestDecodeEventWithoutName(t *testing.T) {
	buf := encodeEvent(5, unix.IN_UNMOUNT, "")
	events, err := decodeEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].name != "" {
		t.Fatalf("got %+v", events)
	}
	if events[0].mask&unix.IN_UNMOUNT == 0 {
		t.Fatalf("expected IN_UNMOUNT bit set")
	}
}
