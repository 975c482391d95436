package watcher

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rawEvent is the decoded, byte-stream-independent form of one
// inotify_event record: fixed header plus a variable-length, NUL-padded
// name.
type rawEvent struct {
	wd   int32
	mask uint32
	name string
}

const eventHeaderSize = int(unsafe.Sizeof(unix.InotifyEvent{}))

// decodeEvents walks a raw inotify read buffer, splitting it into
// fixed-header + variable-length-name records exactly as the kernel framed
// them: each record advances by the header size plus event.Len bytes of
// NUL-padded name.
func decodeEvents(buf []byte) ([]rawEvent, error) {
	var events []rawEvent
	offset := 0
	for offset+eventHeaderSize <= len(buf) {
		var raw unix.InotifyEvent
		if err := binary.Read(bytes.NewReader(buf[offset:offset+eventHeaderSize]), binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("decoding inotify header: %w", err)
		}

		nameStart := offset + eventHeaderSize
		nameEnd := nameStart + int(raw.Len)
		if nameEnd > len(buf) {
			return events, fmt.Errorf("truncated inotify record")
		}

		name := ""
		if raw.Len > 0 {
			nameBytes := buf[nameStart:nameEnd]
			if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
				nameBytes = nameBytes[:i]
			}
			name = string(nameBytes)
		}

		events = append(events, rawEvent{wd: raw.Wd, mask: raw.Mask, name: name})
		offset = nameEnd
	}
	return events, nil
}
