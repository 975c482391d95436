// Package retention runs the per-device scan/build phase and the periodic
// free-space retention loop that evicts files when a directory exceeds its
// configured share or count limit.
package retention

import "github.com/cardkeeper/cardkeeper/internal/config"

// dirAggregate is the point-in-time snapshot of one directory's aggregates,
// taken under its own lock, that the retention decision is computed from.
type dirAggregate struct {
	fileCount  int
	totalSpace int64
}

// limitMetric computes a directory's current "limit" value: either its
// whole-percent share of sumTotalSpace, or its raw file count, depending on
// the folder's configuration.
func limitMetric(agg dirAggregate, folder config.FolderAttr, sumTotalSpace int64) int {
	if folder.LimitIsCount {
		return agg.fileCount
	}
	if sumTotalSpace == 0 {
		return 0
	}
	return int(agg.totalSpace * 100 / sumTotalSpace)
}

// firstOverLimit scans directories in configured order and returns the
// index of the first whose limit metric exceeds its configured limit value.
// Only one directory loses a file per action cycle; the decision is
// recomputed from scratch on the next cycle.
func firstOverLimit(aggs []dirAggregate, folders []config.FolderAttr, sumTotalSpace int64) (int, bool) {
	for i, folder := range folders {
		metric := limitMetric(aggs[i], folder, sumTotalSpace)
		if metric > folder.LimitValue {
			return i, true
		}
	}
	return 0, false
}

// sumSpace adds the total on-disk space across every directory
// aggregate, used as the percentage branch's denominator.
func sumSpace(aggs []dirAggregate) int64 {
	var sum int64
	for _, a := range aggs {
		sum += a.totalSpace
	}
	return sum
}
