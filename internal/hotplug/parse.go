package hotplug

import (
	"bytes"

	"github.com/cardkeeper/cardkeeper/internal/queue"
)

// search reports whether key occurs as a substring of any of the
// NUL-delimited records in buf. A uevent payload packs multiple "KEY=value"
// records back to back separated by NUL bytes; splitting on NUL scans every
// record of the length-delimited buffer instead of stopping at the first
// NUL the way a C-string search would.
func search(buf []byte, key string) bool {
	for _, record := range bytes.Split(buf, []byte{0}) {
		if bytes.Contains(record, []byte(key)) {
			return true
		}
	}
	return false
}

// getParameter returns the value of the first "key=" record found among the
// NUL-delimited tokens in buf.
func getParameter(buf []byte, key string) (string, bool) {
	prefix := []byte(key + "=")
	for _, record := range bytes.Split(buf, []byte{0}) {
		if bytes.HasPrefix(record, prefix) {
			return string(record[len(prefix):]), true
		}
	}
	return "", false
}

// Parse decodes a raw uevent broadcast into a queue.Message. It returns
// ok=false for anything that isn't a libudev-originated block-device
// add/remove/change event for a disk or partition.
func Parse(buf []byte) (queue.Message, bool) {
	if !bytes.HasPrefix(buf, []byte("libudev")) {
		return queue.Message{}, false
	}

	if !search(buf, "DEVTYPE=partition") && !search(buf, "DEVTYPE=disk") {
		return queue.Message{}, false
	}

	dev, ok := getParameter(buf, "DEVNAME")
	if !ok || dev == "" {
		return queue.Message{}, false
	}

	switch {
	case search(buf, "ACTION=add"):
		return queue.Message{Kind: queue.DevAdd, DeviceName: dev}, true
	case search(buf, "ACTION=remove"):
		return queue.Message{Kind: queue.DevRemove, DeviceName: dev}, true
	case search(buf, "ACTION=change"):
		return queue.Message{Kind: queue.DevChanged, DeviceName: dev}, true
	default:
		return queue.Message{}, false
	}
}
