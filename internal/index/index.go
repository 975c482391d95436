// Package index maintains the live, sorted file listing for one configured
// directory on a mounted device.
package index

import (
	"sort"
	"sync"
	"time"
)

// SortKey selects how a DirectoryIndex orders its files.
type SortKey string

const (
	ByModTime SortKey = "mtime"
	ByName    SortKey = "filename"
)

// FileRecord is one entry in a DirectoryIndex.
type FileRecord struct {
	Filename string
	Size     int64
	Space    int64
	ModTime  time.Time

	seq int64
}

// Stat is the subset of filesystem metadata callers supply to Add; it avoids
// pulling os.FileInfo into this package's API.
type Stat struct {
	Size    int64
	Space   int64
	ModTime time.Time
}

// DirectoryIndex is the sorted, aggregate-tracked file listing for one
// configured directory. It is safe for concurrent use.
type DirectoryIndex struct {
	mu sync.Mutex

	path        string
	sortKey     SortKey
	watchHandle int

	records []*FileRecord
	byName  map[string]*FileRecord
	nextSeq int64

	fileCount  int
	totalSize  int64
	totalSpace int64
}

// New creates an empty DirectoryIndex for path, ordered by sortKey.
func New(path string, sortKey SortKey) *DirectoryIndex {
	return &DirectoryIndex{
		path:    path,
		sortKey: sortKey,
		byName:  make(map[string]*FileRecord),
	}
}

// Path returns the directory's absolute path.
func (d *DirectoryIndex) Path() string { return d.path }

// SortKey returns the directory's configured ordering.
func (d *DirectoryIndex) SortKey() SortKey { return d.sortKey }

// SetWatchHandle stores the opaque watch descriptor the filesystem watcher
// returned for this directory, so events can be routed back by handle.
func (d *DirectoryIndex) SetWatchHandle(h int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watchHandle = h
}

// WatchHandle returns the stored watch descriptor.
func (d *DirectoryIndex) WatchHandle() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watchHandle
}

// less reports whether a should sort before b under sortKey, given their
// insertion sequence numbers for tie-breaking.
func less(sortKey SortKey, a, b *FileRecord) bool {
	switch sortKey {
	case ByName:
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
	default: // ByModTime
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.Before(b.ModTime)
		}
	}
	return a.seq < b.seq
}

// Add inserts a new record for name or updates the existing one in place,
// re-positioning it to keep the list sorted.
func (d *DirectoryIndex) Add(name string, st Stat) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.byName[name]; ok {
		d.removeLocked(existing.Filename)
	}

	rec := &FileRecord{
		Filename: name,
		Size:     st.Size,
		Space:    st.Space,
		ModTime:  st.ModTime,
		seq:      d.nextSeq,
	}
	d.nextSeq++

	pos := sort.Search(len(d.records), func(i int) bool {
		return !less(d.sortKey, d.records[i], rec)
	})
	d.records = append(d.records, nil)
	copy(d.records[pos+1:], d.records[pos:])
	d.records[pos] = rec
	d.byName[name] = rec

	d.fileCount++
	d.totalSize += rec.Size
	d.totalSpace += rec.Space
}

// Remove deletes the record for name, if present. Idempotent.
func (d *DirectoryIndex) Remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(name)
}

// removeLocked assumes d.mu is held.
func (d *DirectoryIndex) removeLocked(name string) {
	rec, ok := d.byName[name]
	if !ok {
		return
	}
	for i, r := range d.records {
		if r == rec {
			d.records = append(d.records[:i], d.records[i+1:]...)
			break
		}
	}
	delete(d.byName, name)

	d.fileCount--
	d.totalSize -= rec.Size
	d.totalSpace -= rec.Space
}

// FileCount returns the current record count.
func (d *DirectoryIndex) FileCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileCount
}

// Aggregates returns the current file count, total size, and total space.
func (d *DirectoryIndex) Aggregates() (count int, totalSize, totalSpace int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileCount, d.totalSize, d.totalSpace
}

// Snapshot is a read-only copy of one file's identity and size, returned by
// Entries. It never aliases internal state.
type Snapshot struct {
	Filename string
	Size     int64
	ModTime  time.Time
}

// Order selects ascending or descending output from Entries.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Entries returns a dense snapshot of the index in the requested order,
// relative to the directory's stored sort key. The underlying list is never
// exposed.
func (d *DirectoryIndex) Entries(order Order) []Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Snapshot, len(d.records))
	for i, r := range d.records {
		out[i] = Snapshot{Filename: r.Filename, Size: r.Size, ModTime: r.ModTime}
	}
	if order == Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Head returns the filename that would be evicted first (the sorted head of
// the list) and whether the index is non-empty.
func (d *DirectoryIndex) Head() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.records) == 0 {
		return "", false
	}
	return d.records[0].Filename, true
}
