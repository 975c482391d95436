// Package hotplug listens for kernel block-device attach/detach broadcasts
// and translates them into queue.Message values.
package hotplug

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cardkeeper/cardkeeper/internal/queue"
)

// receiveTimeout bounds each blocking receive so the listener observes
// cancellation within one cycle, matching spec's ~100ms hot-plug poll.
const receiveTimeout = 100 * time.Millisecond

const recvBufSize = 2000

// Listener subscribes to NETLINK_KOBJECT_UEVENT broadcasts and enqueues a
// queue.Message for every recognised block-device add/remove/change event.
type Listener struct {
	log *slog.Logger
	q   *queue.Queue
	fd  int
}

// New opens the netlink socket and binds it to the kobject uevent multicast
// group. Callers must call Close when done.
func New(log *slog.Logger, q *queue.Queue) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("opening netlink socket: %w", err)
	}

	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, durationToTimeval(receiveTimeout)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting receive timeout: %w", err)
	}

	// Groups is a bitmask, not the protocol number; 1 is the kobject uevent
	// broadcast group.
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding netlink socket: %w", err)
	}

	return &Listener{log: log, q: q, fd: fd}, nil
}

// Close releases the underlying socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Run blocks, receiving uevent broadcasts and enqueuing messages, until done
// is closed. Receive timeouts are not errors; they are how the loop
// periodically checks done.
func (l *Listener) Run(done <-chan struct{}) {
	buf := make([]byte, recvBufSize)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, _, err := unix.Recvfrom(l.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			l.log.Error("netlink receive failed", "error", err)
			continue
		}
		if n <= 0 {
			continue
		}

		msg, ok := Parse(buf[:n])
		if !ok {
			continue
		}
		l.q.Put(msg)
	}
}

func durationToTimeval(d time.Duration) *unix.Timeval {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return &tv
}
