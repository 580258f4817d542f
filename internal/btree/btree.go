// Package btree implements a copy-on-write B+tree engine: search,
// insert, and delete all read pages through a PageReader/PageWriter pair
// rather than owning storage directly, and every mutation allocates
// fresh pages instead of touching a page a reader might still be looking
// at.
//
// Branch pages use a separator-key layout: each entry pairs a key with a
// child pgno, and the first entry of a newly created root carries an empty
// "smallest possible" key. That entry stays first on the leftmost branch
// page of its level, which removes the need to propagate a minimum-key
// change up the tree on every leftmost insert; the other branch pages
// start with the real separator key they were split off at.
package btree

import (
	"encoding/binary"
	"fmt"

	"coredb/internal/assert"
	"coredb/internal/page"
)

// PageReader is satisfied by both internal/txn's ReadTxn and WriteTxn.
type PageReader interface {
	ReadPage(pgno uint64) ([]byte, error)
}

// PageWriter is satisfied by internal/txn's WriteTxn.
type PageWriter interface {
	PageReader
	Alloc() (uint64, error)
	WritePage(pgno uint64, data []byte) error
	Free(pgno uint64)
}

// CorruptionError mirrors coredb.CorruptionError; see the same pattern in
// internal/pageio and internal/freelist.
type CorruptionError struct {
	Pgno    uint64
	Detail  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("btree: corruption at page %d: %s", e.Pgno, e.Detail)
}

func readPage(r PageReader, pgno uint64) (page.Page, error) {
	buf, err := r.ReadPage(pgno)
	if err != nil {
		return page.Page{}, err
	}
	p := page.Wrap(buf)
	if !p.VerifyChecksum() {
		return page.Page{}, &CorruptionError{Pgno: pgno, Detail: "page checksum mismatch"}
	}
	return p, nil
}

// entry is an in-memory copy of one page slot, used to rebuild pages
// without fighting the on-disk slot-directory arithmetic while assembling
// a candidate split.
type entry struct {
	key   []byte
	val   []byte
	flags uint8
}

func loadEntries(p page.Page) []entry {
	n := int(p.NKeys())
	out := make([]entry, n)
	for i := 0; i < n; i++ {
		idx := uint16(i)
		out[i] = entry{
			key:   cloneBytes(p.GetKey(idx)),
			val:   cloneBytes(p.GetVal(idx)),
			flags: p.EntryFlags(idx),
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// entrySetBytes returns the physical footprint (header + directory +
// heap) a page holding entries would occupy.
func entrySetBytes(entries []entry) int {
	total := page.HeaderSize
	for _, e := range entries {
		total += 2 + 5 + len(e.key) + len(e.val)
	}
	return total
}

// fits reports whether entries can be written to a single page of
// pageSize bytes without exceeding the graduated fill target.
func fits(entries []entry, pageSize int) bool {
	limit := int(float64(pageSize) * page.FillTarget(uint16(len(entries))))
	return entrySetBytes(entries) <= limit
}

func buildPage(entries []entry, flags uint16, pageSize int, pgno uint64) page.Page {
	p := page.New(pageSize, flags)
	p.SetPgno(pgno)
	for i, e := range entries {
		page.AppendRaw(p, uint16(i), e.key, e.val, e.flags)
	}
	p.Seal()
	return p
}

// splitPoint picks where to divide entries into a left and right half.
// When the new entry landed at the very end (an ascending / append-mostly
// workload), the split favors a small, tightly packed right page and a
// nearly-full left page, the same append-mode optimization LMDB uses;
// otherwise it splits near the middle.
func splitPoint(entries []entry, insertedAtEnd bool) int {
	n := len(entries)
	if insertedAtEnd {
		if n < 2 {
			return n - 1
		}
		return n - 2
	}
	return n / 2
}

func splitEntries(entries []entry, insertedAtEnd bool, flags uint16, pageSize int, allocLeft, allocRight uint64) (left, right page.Page, splitKey []byte) {
	at := splitPoint(entries, insertedAtEnd)
	if at < 1 {
		at = 1
	}
	if at >= len(entries) {
		at = len(entries) - 1
	}
	left = buildPage(entries[:at], flags, pageSize, allocLeft)
	right = buildPage(entries[at:], flags, pageSize, allocRight)
	return left, right, cloneBytes(entries[at].key)
}

func insertAt(entries []entry, pos int, e entry) []entry {
	out := make([]entry, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, e)
	out = append(out, entries[pos:]...)
	return out
}

func encodeChild(pgno uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, pgno)
	return buf
}

func decodeChild(val []byte) uint64 {
	assert.Assert(len(val) == 8, "btree: branch entry value is not 8 bytes")
	return binary.LittleEndian.Uint64(val)
}
