// Package page implements the fixed-size, page-organized storage unit: a
// typed header, then a slot directory, then a heap of variable-length
// key/value entries that starts right where the directory ends. Appending
// an entry adds one directory slot and moves the heap up by that slot;
// there is no free gap between directory and heap, and all unused bytes
// lie after the heap.
//
// A single entry format serves both branch and leaf pages: a branch
// entry's "value" is simply an 8-byte child page number.
package page

import (
	"encoding/binary"
	"hash/crc32"

	"coredb/internal/assert"
)

// Page flags: leaf, branch, overflow, meta, or free-list.
const (
	FlagLeaf      uint16 = 1 << 0
	FlagBranch    uint16 = 1 << 1
	FlagOverflow  uint16 = 1 << 2
	FlagMeta      uint16 = 1 << 3
	FlagFreelist  uint16 = 1 << 4
)

// Entry-level flags, stored per key/value slot in the heap.
const (
	EntryOverflow uint8 = 1 << 0 // value bytes are an overflow descriptor
)

// HeaderSize is the fixed size of a page header:
// pgno(8) flags(2) nkeys(2) lower(2) upper(2) overflowNext(8) checksum(4) reserved(4)
const HeaderSize = 32

// entryHeaderSize is the per-entry heap header: flags(1) keyLen(2) valLen(2).
const entryHeaderSize = 5

// Page wraps a fixed-size byte slice (mmap-backed or a fresh buffer) with
// accessors for the header, slot directory, and heap. It carries no
// pointer back to its own pgno's storage location; that lifecycle is
// owned by internal/txn and internal/pageio.
type Page struct {
	Data []byte
}

// New allocates a zeroed page buffer of size and initializes its header.
func New(size int, flags uint16) Page {
	p := Page{Data: make([]byte, size)}
	p.SetHeader(flags, 0)
	p.setUpper(HeaderSize)
	return p
}

func Wrap(data []byte) Page { return Page{Data: data} }

func (p Page) Size() int { return len(p.Data) }

func (p Page) Pgno() uint64 { return binary.LittleEndian.Uint64(p.Data[0:8]) }
func (p Page) SetPgno(pgno uint64) { binary.LittleEndian.PutUint64(p.Data[0:8], pgno) }

func (p Page) Flags() uint16 { return binary.LittleEndian.Uint16(p.Data[8:10]) }
func (p Page) setFlags(f uint16) { binary.LittleEndian.PutUint16(p.Data[8:10], f) }

func (p Page) NKeys() uint16 { return binary.LittleEndian.Uint16(p.Data[10:12]) }
func (p Page) setNKeys(n uint16) { binary.LittleEndian.PutUint16(p.Data[10:12], n) }

func (p Page) Lower() uint16 { return binary.LittleEndian.Uint16(p.Data[12:14]) }
func (p Page) setLower(v uint16) { binary.LittleEndian.PutUint16(p.Data[12:14], v) }

func (p Page) Upper() uint16 { return binary.LittleEndian.Uint16(p.Data[14:16]) }
func (p Page) setUpper(v uint16) { binary.LittleEndian.PutUint16(p.Data[14:16], v) }

func (p Page) OverflowNext() uint64 { return binary.LittleEndian.Uint64(p.Data[16:24]) }
func (p Page) SetOverflowNext(pgno uint64) { binary.LittleEndian.PutUint64(p.Data[16:24], pgno) }

func (p Page) Checksum() uint32 { return binary.LittleEndian.Uint32(p.Data[24:28]) }
func (p Page) setChecksum(c uint32) { binary.LittleEndian.PutUint32(p.Data[24:28], c) }

// SetHeader writes flags and nkeys and recomputes lower to match. It is
// for node pages (leaf/branch) that use the slot-directory-plus-heap
// layout; meta and free-list pages use SetContentLen instead, since their
// content isn't organized as variable-length directory-addressed entries.
func (p Page) SetHeader(flags uint16, nkeys uint16) {
	p.setFlags(flags)
	p.setNKeys(nkeys)
	p.setLower(HeaderSize + nkeys*2)
}

// SetContentLen marks a non-node page (meta, free-list) as having n
// content bytes immediately following the header, for checksum coverage.
// nkeys is set separately by the caller when it has its own meaning (a
// free-list page's record count); it plays no role in locating content
// for pages that use SetContentLen.
func (p Page) SetContentLen(n uint16) {
	p.setUpper(HeaderSize + n)
}

func (p Page) IsLeaf() bool     { return p.Flags()&FlagLeaf != 0 }
func (p Page) IsBranch() bool   { return p.Flags()&FlagBranch != 0 }
func (p Page) IsOverflow() bool { return p.Flags()&FlagOverflow != 0 }

// ComputeChecksum covers the header (excluding the checksum field itself)
// and the used portion of the page (up to Upper()).
func (p Page) ComputeChecksum() uint32 {
	h := crc32.NewIEEE()
	h.Write(p.Data[0:24])
	h.Write(p.Data[28:HeaderSize])
	used := p.Upper()
	if used < HeaderSize {
		used = HeaderSize
	}
	if int(used) > len(p.Data) {
		used = uint16(len(p.Data))
	}
	h.Write(p.Data[HeaderSize:used])
	return h.Sum32()
}

// Seal recomputes and writes the checksum. Call after every mutation,
// before the page is handed to pageio.WritePage.
func (p Page) Seal() { p.setChecksum(p.ComputeChecksum()) }

// VerifyChecksum reports whether the stored checksum matches the content.
func (p Page) VerifyChecksum() bool { return p.Checksum() == p.ComputeChecksum() }

// --- slot directory -------------------------------------------------

func offsetSlot(idx uint16) int { return HeaderSize + int(idx)*2 }

// getOffset returns the heap-relative start of entry idx. Entry 0 always
// starts at heap-relative offset 0, so it is never actually stored.
func (p Page) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(p.Data[offsetSlot(idx-1):])
}

func (p Page) setOffset(idx uint16, v uint16) {
	binary.LittleEndian.PutUint16(p.Data[offsetSlot(idx):], v)
}

// kvPos returns the absolute byte position of entry idx (idx may equal
// NKeys() to mean "one past the last entry", used to compute total used
// bytes).
func (p Page) kvPos(idx uint16) uint16 {
	return p.Lower() + p.getOffset(idx)
}

// entryHeaderAt reads the flags/keyLen/valLen at an absolute position.
func (p Page) entryHeaderAt(pos uint16) (flags uint8, keyLen, valLen uint16) {
	flags = p.Data[pos]
	keyLen = binary.LittleEndian.Uint16(p.Data[pos+1:])
	valLen = binary.LittleEndian.Uint16(p.Data[pos+3:])
	return
}

// EntryFlags, GetKey, GetVal read entry idx (0 <= idx < NKeys()).
func (p Page) EntryFlags(idx uint16) uint8 {
	_, f, _ := p.entryAt(idx)
	return f
}

func (p Page) entryAt(idx uint16) (pos uint16, flags uint8, size uint16) {
	assert.Assert(idx < p.NKeys(), "page: entry index out of bounds")
	pos = p.kvPos(idx)
	flags, keyLen, valLen := p.entryHeaderAt(pos)
	size = entryHeaderSize + keyLen + valLen
	return
}

func (p Page) GetKey(idx uint16) []byte {
	pos, _, _ := p.entryAt(idx)
	_, keyLen, _ := p.entryHeaderAt(pos)
	start := pos + entryHeaderSize
	return p.Data[start : start+keyLen]
}

func (p Page) GetVal(idx uint16) []byte {
	pos, _, _ := p.entryAt(idx)
	_, keyLen, valLen := p.entryHeaderAt(pos)
	start := pos + entryHeaderSize + keyLen
	return p.Data[start : start+valLen]
}

// GetChildPgno interprets a branch entry's value as a page number.
func (p Page) GetChildPgno(idx uint16) uint64 {
	v := p.GetVal(idx)
	assert.Assert(len(v) == 8, "page: branch entry value is not 8 bytes")
	return binary.LittleEndian.Uint64(v)
}

// IsOverflowEntry reports whether a leaf entry's value is an overflow
// descriptor rather than an inline value.
func (p Page) IsOverflowEntry(idx uint16) bool {
	return p.EntryFlags(idx)&EntryOverflow != 0
}

// OverflowDescriptor decodes a leaf entry's 16-byte overflow value into
// the first chain page and the total logical value size.
func (p Page) OverflowDescriptor(idx uint16) (firstPgno uint64, totalSize uint64) {
	v := p.GetVal(idx)
	assert.Assert(len(v) == 16, "page: overflow entry value is not 16 bytes")
	return binary.LittleEndian.Uint64(v[0:8]), binary.LittleEndian.Uint64(v[8:16])
}

// entrySize returns the on-heap footprint of an entry with the given key
// and value lengths, not counting its 2-byte slot in the directory.
func entrySize(keyLen, valLen int) int { return entryHeaderSize + keyLen + valLen }

// NBytes returns the total bytes the page currently occupies (header +
// directory + heap), i.e. Upper().
func (p Page) NBytes() uint16 { return p.kvPos(p.NKeys()) }

// FillTarget returns a graduated fill ratio: pages with few keys reserve
// less headroom (fill aggressively, ~95%); as a
// page accumulates keys the target eases toward ~85%, leaving room for
// COW rebalances without triggering a cascade of splits under random
// workloads.
func FillTarget(nkeys uint16) float64 {
	const (
		hi       = 0.95
		lo       = 0.85
		taperEnd = 32
	)
	if nkeys >= taperEnd {
		return lo
	}
	return hi - (hi-lo)*float64(nkeys)/float64(taperEnd)
}

// HasRoomFor reports whether an entry with the given key/value byte
// lengths (value already resolved to its stored form: raw bytes, an
// 8-byte child pgno, or a 16-byte overflow descriptor) fits within the
// graduated fill target.
func (p Page) HasRoomFor(keyLen, valLen int) bool {
	need := 2 + entrySize(keyLen, valLen) // +2 for the new directory slot
	limit := uint16(float64(len(p.Data)) * FillTarget(p.NKeys()))
	return int(p.NBytes())+need <= int(limit)
}

// appendKV writes entry idx into dst's heap and grows dst's directory.
// idx must equal the current NKeys(); entries are always appended in
// strictly increasing order during a rebuild. The new directory slot takes
// the first two bytes of the old heap, so the heap is moved up by two bytes
// first; heap offsets are relative to Lower() and stay valid.
func appendKV(dst Page, idx uint16, key, val []byte, flags uint8) {
	heapStart, heapEnd := dst.Lower(), dst.kvPos(idx)
	copy(dst.Data[heapStart+2:], dst.Data[heapStart:heapEnd])

	newNKeys := idx + 1
	dst.setNKeys(newNKeys)
	dst.setLower(HeaderSize + newNKeys*2)

	pos := dst.kvPos(idx)
	dst.Data[pos] = flags
	binary.LittleEndian.PutUint16(dst.Data[pos+1:], uint16(len(key)))
	binary.LittleEndian.PutUint16(dst.Data[pos+3:], uint16(len(val)))
	copy(dst.Data[pos+entryHeaderSize:], key)
	copy(dst.Data[pos+entryHeaderSize+uint16(len(key)):], val)

	end := pos + entryHeaderSize + uint16(len(key)) + uint16(len(val))
	dst.setOffset(idx, end-dst.Lower())
	dst.setUpper(end)
}

// AppendLeaf appends a leaf entry with a raw inline value.
func AppendLeaf(dst Page, idx uint16, key, val []byte) {
	appendKV(dst, idx, key, val, 0)
}

// AppendLeafOverflow appends a leaf entry whose value is an overflow
// descriptor (first chain page + total size).
func AppendLeafOverflow(dst Page, idx uint16, key []byte, firstPgno, totalSize uint64) {
	var v [16]byte
	binary.LittleEndian.PutUint64(v[0:8], firstPgno)
	binary.LittleEndian.PutUint64(v[8:16], totalSize)
	appendKV(dst, idx, key, v[:], EntryOverflow)
}

// AppendBranch appends a branch entry pointing at a child page.
func AppendBranch(dst Page, idx uint16, key []byte, child uint64) {
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], child)
	appendKV(dst, idx, key, v[:], 0)
}

// AppendRaw appends an entry with an explicit entry-flags byte, for
// callers (internal/btree) that rebuild a page from an in-memory list of
// entries rather than copying verbatim from a source page.
func AppendRaw(dst Page, idx uint16, key, val []byte, flags uint8) {
	appendKV(dst, idx, key, val, flags)
}

// AppendEntryFrom copies entry srcIdx of src verbatim into dst at dstIdx,
// preserving its flags and raw value bytes regardless of leaf/branch
// interpretation.
func AppendEntryFrom(dst Page, dstIdx uint16, src Page, srcIdx uint16) {
	key := src.GetKey(srcIdx)
	val := src.GetVal(srcIdx)
	flags := src.EntryFlags(srcIdx)
	appendKV(dst, dstIdx, key, val, flags)
}

// CopyRange copies n consecutive entries from src (starting at srcIdx)
// into dst (starting at dstIdx), in order.
func CopyRange(dst Page, dstIdx uint16, src Page, srcIdx uint16, n uint16) {
	for i := uint16(0); i < n; i++ {
		AppendEntryFrom(dst, dstIdx+i, src, srcIdx+i)
	}
}

// LookupLE returns the largest index idx such that GetKey(idx) <= key, or
// -1 if key is smaller than every key on the page. Used both to find a
// leaf's matching slot and to choose a branch's descent child.
func LookupLE(p Page, key []byte, cmp func(a, b []byte) int) int {
	nkeys := int(p.NKeys())
	lo, hi := 0, nkeys-1
	result := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		c := cmp(p.GetKey(uint16(mid)), key)
		if c <= 0 {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

// Find reports whether key is present and, if so, its slot index. It
// requires LookupLE's result to land exactly on an equal key.
func Find(p Page, key []byte, cmp func(a, b []byte) int) (found bool, idx uint16) {
	le := LookupLE(p, key, cmp)
	if le < 0 {
		return false, 0
	}
	if cmp(p.GetKey(uint16(le)), key) == 0 {
		return true, uint16(le)
	}
	return false, uint16(le)
}

// DefaultCompare is the lexicographic byte comparator used as the
// default ordering: shorter strings sort before longer strings that
// share their full prefix, and the empty string sorts before everything.
func DefaultCompare(a, b []byte) int {
	switch {
	case len(a) < len(b):
		if c := cmpBytes(a, b[:len(a)]); c != 0 {
			return c
		}
		return -1
	case len(a) > len(b):
		if c := cmpBytes(a[:len(b)], b); c != 0 {
			return c
		}
		return 1
	default:
		return cmpBytes(a, b)
	}
}

func cmpBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
