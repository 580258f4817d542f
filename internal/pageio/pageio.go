// Package pageio owns the database file and its memory mapping: page-
// addressable read/write/flush primitives with no knowledge of B+tree
// structure.
package pageio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Backend is a single memory-mapped database file, pre-allocated to
// MapSize at Open. Automatic growth is not on the hot path; Grow exists
// for completeness and is never called during a normal commit.
type Backend struct {
	file     *os.File
	path     string
	pageSize int
	mapSize  int64
	data     []byte // the mmap'd region, length == mapSize
	locked   bool
}

// Open creates the file if needed, pre-allocates it to mapSize, and maps
// it into the process. lock requests an advisory flock guarding against a
// second process opening the same file read-write.
func Open(path string, pageSize int, mapSize int64, fileMode uint32, lock bool) (*Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, os.FileMode(fileMode))
	if err != nil {
		return nil, fmt.Errorf("pageio: open %s: %w", path, err)
	}

	b := &Backend{file: f, path: path, pageSize: pageSize, mapSize: mapSize}

	if lock {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			return nil, fmt.Errorf("pageio: flock %s: %w", path, err)
		}
		b.locked = true
	}

	info, err := f.Stat()
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("pageio: stat %s: %w", path, err)
	}
	if info.Size() < mapSize {
		if err := unix.Fallocate(int(f.Fd()), 0, 0, mapSize); err != nil {
			// Some filesystems (tmpfs variants, non-Linux) reject
			// Fallocate; fall back to a plain Truncate in that case.
			if err := f.Truncate(mapSize); err != nil {
				b.Close()
				return nil, fmt.Errorf("pageio: preallocate %s: %w", path, err)
			}
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(mapSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("pageio: mmap %s: %w", path, err)
	}
	b.data = data

	return b, nil
}

// PageSize returns the fixed page size this backend was opened with.
func (b *Backend) PageSize() int { return b.pageSize }

// MapSize returns the total pre-allocated size of the mapping.
func (b *Backend) MapSize() int64 { return b.mapSize }

// pageOffset performs a checked multiplication: overflow or an
// out-of-bounds page number must fail rather than wrap.
func (b *Backend) pageOffset(pgno uint64) (int64, bool) {
	if pgno == 0 && b.pageSize == 0 {
		return 0, false
	}
	off := pgno * uint64(b.pageSize)
	if b.pageSize != 0 && off/uint64(b.pageSize) != pgno {
		return 0, false // multiplication overflowed
	}
	end := off + uint64(b.pageSize)
	if end < off || end > uint64(b.mapSize) {
		return 0, false
	}
	return int64(off), true
}

// ReadPage returns a slice referencing the live mmap region for pgno. The
// caller must not retain it past the transaction's lifetime (see
// internal/txn), and must not write through it unless it already holds
// the COW guarantee for pgno.
func (b *Backend) ReadPage(pgno uint64) ([]byte, error) {
	off, ok := b.pageOffset(pgno)
	if !ok {
		return nil, &InvalidPageIDError{Pgno: pgno, PageSize: b.pageSize}
	}
	return b.data[off : off+int64(b.pageSize) : off+int64(b.pageSize)], nil
}

// WritePage copies a freshly allocated or modified page buffer into the
// mmap region at pgno's slot.
func (b *Backend) WritePage(pgno uint64, data []byte) error {
	off, ok := b.pageOffset(pgno)
	if !ok {
		return &InvalidPageIDError{Pgno: pgno, PageSize: b.pageSize}
	}
	if len(data) != b.pageSize {
		return fmt.Errorf("pageio: write page %d: buffer length %d != page size %d", pgno, len(data), b.pageSize)
	}
	copy(b.data[off:off+int64(b.pageSize)], data)
	return nil
}

// Sync flushes the file to stable storage: fdatasync when fdatasyncOnly
// is set, a full fsync otherwise. The commit path decides per durability
// level whether to call it at all.
func (b *Backend) Sync(fdatasyncOnly bool) error {
	if fdatasyncOnly {
		return unix.Fdatasync(int(b.file.Fd()))
	}
	return b.file.Sync()
}

// MsyncMeta flushes just the mmap'd pages (as opposed to file-level
// fsync). The commit path does not call it; its FullSync meta barrier is
// Sync.
func (b *Backend) MsyncMeta() error {
	return unix.Msync(b.data, unix.MS_SYNC)
}

// Grow remaps the backend to a larger size. Not invoked on the commit hot
// path; MapFullError is returned by the allocator instead of an implicit
// grow.
func (b *Backend) Grow(newSize int64) error {
	if newSize <= b.mapSize {
		return nil
	}
	if err := unix.Fallocate(int(b.file.Fd()), 0, 0, newSize); err != nil {
		if err := b.file.Truncate(newSize); err != nil {
			return fmt.Errorf("pageio: grow: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil {
		return fmt.Errorf("pageio: grow: unmap: %w", err)
	}
	data, err := unix.Mmap(int(b.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("pageio: grow: remap: %w", err)
	}
	b.data = data
	b.mapSize = newSize
	return nil
}

// Close unmaps and closes the file, releasing the advisory lock if held.
func (b *Backend) Close() error {
	var firstErr error
	if b.data != nil {
		if err := unix.Munmap(b.data); err != nil && firstErr == nil {
			firstErr = err
		}
		b.data = nil
	}
	if b.locked {
		_ = unix.Flock(int(b.file.Fd()), unix.LOCK_UN)
	}
	if b.file != nil {
		if err := b.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// InvalidPageIDError mirrors the top-level coredb.InvalidPageIDError but
// lives here so pageio has no import cycle back to the root package; the
// root package's calling code translates it at the boundary.
type InvalidPageIDError struct {
	Pgno     uint64
	PageSize int
}

func (e *InvalidPageIDError) Error() string {
	return fmt.Sprintf("pageio: invalid page id %d (page size %d)", e.Pgno, e.PageSize)
}
