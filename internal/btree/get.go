package btree

import "coredb/internal/page"

// Get descends from root looking for key, resolving an overflow value if
// the matching entry stores one.
func Get(r PageReader, rootPgno uint64, key []byte, pageSize int) (value []byte, found bool, err error) {
	pgno := rootPgno
	for {
		p, err := readPage(r, pgno)
		if err != nil {
			return nil, false, err
		}
		if p.IsLeaf() {
			ok, idx := page.Find(p, key, page.DefaultCompare)
			if !ok {
				return nil, false, nil
			}
			if p.IsOverflowEntry(idx) {
				first, size := p.OverflowDescriptor(idx)
				val, err := ReadOverflow(r, first, size, pageSize)
				return val, true, err
			}
			return cloneBytes(p.GetVal(idx)), true, nil
		}
		idx := page.LookupLE(p, key, page.DefaultCompare)
		if idx < 0 {
			idx = 0
		}
		pgno = p.GetChildPgno(uint16(idx))
	}
}
