// Package mount resolves devices to mount points (and back) via
// /proc/mounts, samples filesystem free space, and fires the advisory
// repair subprocess on attach.
package mount

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/afero"
)

// Fs is the filesystem /proc/mounts is read through. Tests substitute an
// afero.NewMemMapFs() fixture instead of touching the real kernel table.
var Fs afero.Fs = afero.NewOsFs()

// Entry is one parsed /proc/mounts line.
type Entry struct {
	Device  string
	Path    string
	FSType  string
	Options string
}

// readMounts opens path and parses it line by line, tolerating a short
// read or a trailing partial line the same way the kernel's own
// /proc/mounts presentation does.
func readMounts(path string) ([]Entry, error) {
	f, err := Fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMounts(f)
}

func parseMounts(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, Entry{
			Device:  fields[0],
			Path:    fields[1],
			FSType:  fields[2],
			Options: strings.Join(fields[3:], " "),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// procMountsPath is the kernel mount table; swapping Fs is how tests
// substitute a fixture at this same path.
const procMountsPath = "/proc/mounts"

// Path resolves dev to its current mount point by scanning the kernel's
// mount table.
func Path(dev string) (string, error) {
	entries, err := readMounts(procMountsPath)
	if err != nil {
		return "", fmt.Errorf("reading mount table: %w", err)
	}
	for _, e := range entries {
		if e.Device == dev {
			return e.Path, nil
		}
	}
	return "", fmt.Errorf("device %q is not mounted", dev)
}

// Device resolves an absolute mount path to its backing device, and also
// returns the filesystem type.
func Device(path string) (dev, fsType string, err error) {
	entries, err := readMounts(procMountsPath)
	if err != nil {
		return "", "", fmt.Errorf("reading mount table: %w", err)
	}
	for _, e := range entries {
		if e.Path == path {
			return e.Device, e.FSType, nil
		}
	}
	return "", "", fmt.Errorf("path %q is not a mount point", path)
}

// DiskUsage samples total and free space at path, in kibibytes.
func DiskUsage(path string) (totalKiB, freeKiB int64, err error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, 0, fmt.Errorf("sampling disk usage for %s: %w", path, err)
	}
	totalKiB = int64(usage.Total / 1024)
	freeKiB = int64(usage.Free / 1024)
	return totalKiB, freeKiB, nil
}

// Repair fires the filesystem-repair utility against dev without waiting
// for it to finish. Errors starting the process are logged, never
// propagated: repair is advisory, and this is a no-op in any deployment
// missing fsck.fat.
func Repair(log *slog.Logger, dev string) {
	cmd := exec.Command("/sbin/fsck.fat", "-a", dev)
	if err := cmd.Start(); err != nil {
		log.Warn("filesystem repair failed to start", "device", dev, "error", err)
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warn("filesystem repair exited with error", "device", dev, "error", err)
		}
	}()
}
