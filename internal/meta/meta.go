// Package meta implements the two alternating meta pages: pgno 0 and
// pgno 1 each hold a self-describing, checksummed snapshot of the
// database's root pointers, and a commit always writes the page the
// current transaction did NOT read from, so a crash mid-write leaves the
// other slot intact. Freshness is decided by comparing txn ids, with
// slot 0 breaking ties.
package meta

import (
	"encoding/binary"

	"coredb/internal/page"
)

const (
	Magic   uint32 = 0xC0FFEE01
	Version uint32 = 1

	// NoPgno marks an absent pointer (an empty free list, or a database
	// that has never allocated a catalog root).
	NoPgno = ^uint64(0)

	// Page 0 and page 1 are permanently reserved for the alternating meta
	// pages; the first allocatable data page is pgno 2.
	MetaPage0  uint64 = 0
	MetaPage1  uint64 = 1
	FirstPgno  uint64 = 2
)

// Meta is the decoded content of one meta page.
type Meta struct {
	PageSize         uint32
	TxnID            uint64
	RootPgno         uint64 // root of the default (unnamed) B+tree
	CatalogRootPgno  uint64 // root of the named-database catalog tree
	FreelistHeadPgno uint64
	NextPgno         uint64 // bump allocator for pages never yet freed
	NumDBs           uint32
}

const contentSize = 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 4 // magic+version+pageSize+txnID+root+catalog+freelist+next+numDBs

// Encode writes m into a fresh page-sized buffer, flagged as a meta page
// and sealed with its checksum.
func Encode(m Meta, pageSize int, pgno uint64) page.Page {
	p := page.New(pageSize, page.FlagMeta)
	p.SetPgno(pgno)
	buf := p.Data[page.HeaderSize:]
	binary.LittleEndian.PutUint32(buf[0:], Magic)
	binary.LittleEndian.PutUint32(buf[4:], Version)
	binary.LittleEndian.PutUint32(buf[8:], m.PageSize)
	binary.LittleEndian.PutUint64(buf[12:], m.TxnID)
	binary.LittleEndian.PutUint64(buf[20:], m.RootPgno)
	binary.LittleEndian.PutUint64(buf[28:], m.CatalogRootPgno)
	binary.LittleEndian.PutUint64(buf[36:], m.FreelistHeadPgno)
	binary.LittleEndian.PutUint64(buf[44:], m.NextPgno)
	binary.LittleEndian.PutUint32(buf[52:], m.NumDBs)
	p.SetContentLen(contentSize)
	p.Seal()
	return p
}

// Decode validates and parses a meta page. ok is false if the page fails
// magic, version, or checksum validation, meaning this slot never held a
// valid meta page or was torn by a crash; the caller falls back to the
// other slot.
func Decode(buf []byte) (m Meta, ok bool) {
	if len(buf) < page.HeaderSize+contentSize {
		return Meta{}, false
	}
	p := page.Wrap(buf)
	if !p.VerifyChecksum() {
		return Meta{}, false
	}
	if p.Flags()&page.FlagMeta == 0 {
		return Meta{}, false
	}
	content := buf[page.HeaderSize:]
	if binary.LittleEndian.Uint32(content[0:]) != Magic {
		return Meta{}, false
	}
	if binary.LittleEndian.Uint32(content[4:]) != Version {
		return Meta{}, false
	}
	m.PageSize = binary.LittleEndian.Uint32(content[8:])
	m.TxnID = binary.LittleEndian.Uint64(content[12:])
	m.RootPgno = binary.LittleEndian.Uint64(content[20:])
	m.CatalogRootPgno = binary.LittleEndian.Uint64(content[28:])
	m.FreelistHeadPgno = binary.LittleEndian.Uint64(content[36:])
	m.NextPgno = binary.LittleEndian.Uint64(content[44:])
	m.NumDBs = binary.LittleEndian.Uint32(content[52:])
	return m, true
}

// Fresh picks the valid meta page with the higher txn id, breaking ties
// (equal validity, equal or absent txn id) toward slot 0. It returns the
// slot index (0 or 1) the caller should treat as current, and false only
// when neither slot decodes, which is unrecoverable corruption.
func Fresh(slot0, slot1 []byte) (m Meta, activeSlot int, ok bool) {
	m0, ok0 := Decode(slot0)
	m1, ok1 := Decode(slot1)
	switch {
	case ok0 && ok1:
		if m1.TxnID > m0.TxnID {
			return m1, 1, true
		}
		return m0, 0, true
	case ok0:
		return m0, 0, true
	case ok1:
		return m1, 1, true
	default:
		return Meta{}, 0, false
	}
}

// Other returns the meta slot a commit should write to: never the one it
// most recently read as active.
func Other(activeSlot int) int {
	if activeSlot == 0 {
		return 1
	}
	return 0
}
