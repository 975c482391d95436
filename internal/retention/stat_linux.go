package retention

import (
	"os"
	"syscall"
)

// spaceOf returns the on-disk allocation (blocks × 512 bytes) for info,
// falling back to the logical size if the platform stat_t is unavailable.
func spaceOf(info os.FileInfo) int64 {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size()
	}
	return st.Blocks * 512
}
