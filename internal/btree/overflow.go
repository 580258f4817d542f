package btree

import (
	"encoding/binary"

	"coredb/internal/page"
)

// OverflowThreshold reports the largest value size a leaf entry may store
// inline. Values larger than PageSize/4 spill into an overflow chain, the
// same ratio bbolt uses for its own overflow pages, chosen so a single
// oversized value can never dominate a page's fill target on its own.
func OverflowThreshold(pageSize int) int { return pageSize / 4 }

func overflowCapacity(pageSize int) int { return pageSize - page.HeaderSize }

// WriteOverflow lays value out across as many freshly allocated overflow
// pages as needed and returns the first page of the chain.
func WriteOverflow(w PageWriter, value []byte, pageSize int) (uint64, error) {
	cap := overflowCapacity(pageSize)
	numPages := (len(value) + cap - 1) / cap
	if numPages == 0 {
		numPages = 1
	}
	pgnos := make([]uint64, numPages)
	for i := range pgnos {
		pgno, err := w.Alloc()
		if err != nil {
			return 0, err
		}
		pgnos[i] = pgno
	}
	for i := 0; i < numPages; i++ {
		p := page.New(pageSize, page.FlagOverflow)
		p.SetPgno(pgnos[i])
		lo := i * cap
		hi := lo + cap
		if hi > len(value) {
			hi = len(value)
		}
		n := copy(p.Data[page.HeaderSize:], value[lo:hi])
		p.SetContentLen(uint16(n))
		if i+1 < numPages {
			p.SetOverflowNext(pgnos[i+1])
		} else {
			p.SetOverflowNext(noNext)
		}
		p.Seal()
		if err := w.WritePage(pgnos[i], p.Data); err != nil {
			return 0, err
		}
	}
	return pgnos[0], nil
}

// ReadOverflow reconstructs a value of totalSize bytes from its chain.
func ReadOverflow(r PageReader, firstPgno uint64, totalSize uint64, pageSize int) ([]byte, error) {
	out := make([]byte, 0, totalSize)
	cap := overflowCapacity(pageSize)
	next := firstPgno
	for uint64(len(out)) < totalSize {
		buf, err := r.ReadPage(next)
		if err != nil {
			return nil, err
		}
		p := page.Wrap(buf)
		if !p.VerifyChecksum() {
			return nil, &CorruptionError{Pgno: next, Detail: "overflow page checksum mismatch"}
		}
		remaining := totalSize - uint64(len(out))
		n := cap
		if uint64(n) > remaining {
			n = int(remaining)
		}
		out = append(out, p.Data[page.HeaderSize:page.HeaderSize+n]...)
		next = p.OverflowNext()
	}
	return out, nil
}

// FreeOverflow releases every page in an overflow chain back to the free
// list.
func FreeOverflow(r PageReader, w PageWriter, firstPgno uint64, pageSize int) error {
	next := firstPgno
	for next != noNext {
		buf, err := r.ReadPage(next)
		if err != nil {
			return err
		}
		p := page.Wrap(buf)
		following := p.OverflowNext()
		w.Free(next)
		next = following
	}
	return nil
}

const noNext = ^uint64(0)

// encodeOverflowDescriptor builds the 16-byte value a leaf entry stores for
// an overflow chain (first page, total size), for call sites that only have
// raw pgno/size pairs; page.Page's OverflowDescriptor decodes it.
func encodeOverflowDescriptor(firstPgno, totalSize uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], firstPgno)
	binary.LittleEndian.PutUint64(buf[8:16], totalSize)
	return buf
}
