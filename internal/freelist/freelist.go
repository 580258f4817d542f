// Package freelist tracks pages that were freed by a committed
// transaction but cannot be reused until no reader could still observe
// them: a page freed by txn N is safe to recycle only once the oldest
// live reader's snapshot txn id is > N. Each entry pairs a page number
// with the id of the transaction that freed it, so the allocator has
// something to compare against the oldest live reader.
package freelist

import (
	"encoding/binary"
	"fmt"

	"coredb/internal/assert"
	"coredb/internal/page"
)

// CorruptionError mirrors coredb.CorruptionError; freelist has no import
// path back to the root package, so the caller translates this at the
// boundary the same way pageio's InvalidPageIDError is translated.
type CorruptionError struct {
	Pgno   uint64
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("freelist: corruption at page %d: %s", e.Pgno, e.Detail)
}

// recordSize is one (pgno, freedTxnID) pair.
const recordSize = 16

// noNext marks the end of the free-list page chain. Pgno 0 is reserved
// for the meta pages, so it cannot double as a sentinel.
const noNext = ^uint64(0)

// capacity returns how many records fit on a free-list page of the given
// size, after the fixed page header.
func capacity(pageSize int) int {
	return (pageSize - page.HeaderSize) / recordSize
}

// entry is one freed page awaiting reclamation.
type entry struct {
	pgno       uint64
	freedTxnID uint64
}

// FreeList is the in-memory view of the free list, loaded in full from
// its on-disk page chain at Environment open and rewritten in full at
// every commit that touches it. This is adequate for small-to-medium
// datasets; a database with millions of churned pages would want a
// paged index instead.
type FreeList struct {
	entries  []entry // ordered oldest-freed-first
	headPgno uint64  // first page of the on-disk chain, or noNext if empty
	pageSize int
}

// New returns an empty free list, used when creating a fresh database.
func New(pageSize int) *FreeList {
	return &FreeList{headPgno: noNext, pageSize: pageSize}
}

// HeadPgno returns the first page of the on-disk chain, or noNext (via
// HasHead()) if the list is empty.
func (fl *FreeList) HeadPgno() uint64 { return fl.headPgno }

func (fl *FreeList) HasHead() bool { return fl.headPgno != noNext }

// Len reports the number of freed pages awaiting reclamation.
func (fl *FreeList) Len() int { return len(fl.entries) }

// Clone returns a deep copy so a write transaction can mutate its own
// working list and simply discard it on Abort without perturbing the
// list a concurrent reader might still be consulting indirectly through
// the active meta page.
func (fl *FreeList) Clone() *FreeList {
	out := &FreeList{headPgno: fl.headPgno, pageSize: fl.pageSize}
	if len(fl.entries) > 0 {
		out.entries = make([]entry, len(fl.entries))
		copy(out.entries, fl.entries)
	}
	return out
}

// Push records that pgno was freed by the given transaction. Entries are
// appended in commit order, which is also freedTxnID order since
// transaction ids are monotonically increasing; that invariant is what
// lets Alloc scan from the front for the oldest-freed-first reuse rule.
func (fl *FreeList) Push(pgno uint64, freedTxnID uint64) {
	fl.entries = append(fl.entries, entry{pgno: pgno, freedTxnID: freedTxnID})
}

// Alloc returns a page freed strictly before oldestReaderTxnID, if one
// exists, removing it from the list. When noReaders is true there are no
// live readers and oldestReaderTxnID is ignored: every entry is eligible.
func (fl *FreeList) Alloc(oldestReaderTxnID uint64, noReaders bool) (uint64, bool) {
	if len(fl.entries) == 0 {
		return 0, false
	}
	e := fl.entries[0]
	if !noReaders && e.freedTxnID >= oldestReaderTxnID {
		return 0, false
	}
	fl.entries = fl.entries[1:]
	return e.pgno, true
}

// ChainPgnos walks the current on-disk chain and returns every page
// number in it, without touching in-memory entries. The commit path
// uses this to free the previous serialization's pages before writing a
// new one, since the free list is itself copy-on-write.
func (fl *FreeList) ChainPgnos(read func(pgno uint64) ([]byte, error)) ([]uint64, error) {
	if !fl.HasHead() {
		return nil, nil
	}
	var out []uint64
	next := fl.headPgno
	for next != noNext {
		buf, err := read(next)
		if err != nil {
			return nil, err
		}
		p := page.Wrap(buf)
		out = append(out, next)
		next = p.OverflowNext()
	}
	return out, nil
}

// SetHead records the chain head after a commit writes a fresh
// serialization, so the next commit's ChainPgnos call walks the chain
// that is actually on disk rather than a stale one.
func (fl *FreeList) SetHead(pgno uint64, has bool) {
	if !has {
		fl.headPgno = noNext
		return
	}
	fl.headPgno = pgno
}

// Load reads the on-disk chain starting at headPgno into memory.
func Load(pageSize int, headPgno uint64, hasHead bool, read func(pgno uint64) ([]byte, error)) (*FreeList, error) {
	fl := &FreeList{pageSize: pageSize, headPgno: noNext}
	if !hasHead {
		return fl, nil
	}
	fl.headPgno = headPgno
	next := headPgno
	for next != noNext {
		buf, err := read(next)
		if err != nil {
			return nil, err
		}
		p := page.Wrap(buf)
		if !p.VerifyChecksum() {
			return nil, &CorruptionError{Pgno: next, Detail: "free list page checksum mismatch"}
		}
		n := int(p.NKeys())
		for i := 0; i < n; i++ {
			off := page.HeaderSize + i*recordSize
			pgno := binary.LittleEndian.Uint64(buf[off:])
			txnID := binary.LittleEndian.Uint64(buf[off+8:])
			fl.entries = append(fl.entries, entry{pgno: pgno, freedTxnID: txnID})
		}
		next = p.OverflowNext()
	}
	return fl, nil
}

// Serialize lays the current entry list out across as many pages as
// needed, calling allocPage to obtain a pgno for every page after the
// first (the caller supplies the first page number; the commit path
// allocates it like any other page). It returns the page buffers to write, in chain order, and the
// new head pgno.
//
// The list is written in full on every commit rather than incrementally
// patched, rewriting affected pages wholesale rather than maintaining a
// free-space map within free-list pages themselves.
func (fl *FreeList) Serialize(firstPgno uint64, allocPage func() uint64) (pages []page.Page, headPgno uint64, hasHead bool) {
	if len(fl.entries) == 0 {
		return nil, 0, false
	}
	perPage := capacity(fl.pageSize)
	assert.Assert(perPage > 0, "freelist: page size too small to hold any record")

	numPages := (len(fl.entries) + perPage - 1) / perPage
	pgnos := make([]uint64, numPages)
	pgnos[0] = firstPgno
	for i := 1; i < numPages; i++ {
		pgnos[i] = allocPage()
	}

	pages = make([]page.Page, numPages)
	for i := 0; i < numPages; i++ {
		p := page.New(fl.pageSize, page.FlagFreelist)
		p.SetPgno(pgnos[i])
		lo := i * perPage
		hi := lo + perPage
		if hi > len(fl.entries) {
			hi = len(fl.entries)
		}
		chunk := fl.entries[lo:hi]
		for j, e := range chunk {
			off := page.HeaderSize + j*recordSize
			binary.LittleEndian.PutUint64(p.Data[off:], e.pgno)
			binary.LittleEndian.PutUint64(p.Data[off+8:], e.freedTxnID)
		}
		p.SetHeader(page.FlagFreelist, uint16(len(chunk)))
		p.SetContentLen(uint16(len(chunk) * recordSize))
		if i+1 < numPages {
			p.SetOverflowNext(pgnos[i+1])
		} else {
			p.SetOverflowNext(noNext)
		}
		p.Seal()
		pages[i] = p
	}
	return pages, pgnos[0], true
}
