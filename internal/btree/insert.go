package btree

import "coredb/internal/page"

// insertResult reports the outcome of inserting into a subtree: either a
// single replacement page, or a page that split into two, in which case
// splitKey is the smallest key now living in splitPgno and must be
// promoted into the parent as a new routing entry.
type insertResult struct {
	pgno      uint64
	splitPgno uint64
	splitKey  []byte
	hasSplit  bool
}

// Insert returns the new root page number after inserting or overwriting
// key with val. An existing overflow chain for a replaced key is freed.
func Insert(w PageWriter, rootPgno uint64, key, val []byte, pageSize int) (uint64, error) {
	res, err := insertRec(w, rootPgno, key, val, pageSize)
	if err != nil {
		return 0, err
	}
	if !res.hasSplit {
		return res.pgno, nil
	}

	newRootPgno, err := w.Alloc()
	if err != nil {
		return 0, err
	}
	entries := []entry{
		{key: []byte{}, val: encodeChild(res.pgno)},
		{key: res.splitKey, val: encodeChild(res.splitPgno)},
	}
	p := buildPage(entries, page.FlagBranch, pageSize, newRootPgno)
	if err := w.WritePage(newRootPgno, p.Data); err != nil {
		return 0, err
	}
	return newRootPgno, nil
}

func insertRec(w PageWriter, pgno uint64, key, val []byte, pageSize int) (insertResult, error) {
	p, err := readPage(w, pgno)
	if err != nil {
		return insertResult{}, err
	}
	if p.IsLeaf() {
		return insertLeaf(w, p, key, val, pageSize)
	}
	return insertBranch(w, p, key, val, pageSize)
}

func insertLeaf(w PageWriter, p page.Page, key, val []byte, pageSize int) (insertResult, error) {
	entries := loadEntries(p)

	leIdx := page.LookupLE(p, key, page.DefaultCompare)
	found := leIdx >= 0 && page.DefaultCompare(p.GetKey(uint16(leIdx)), key) == 0

	var newEntry entry
	if len(val) > OverflowThreshold(pageSize) {
		first, err := WriteOverflow(w, val, pageSize)
		if err != nil {
			return insertResult{}, err
		}
		newEntry = entry{key: cloneBytes(key), val: encodeOverflowDescriptor(first, uint64(len(val))), flags: page.EntryOverflow}
	} else {
		newEntry = entry{key: cloneBytes(key), val: cloneBytes(val)}
	}

	insertedAtEnd := false
	if found {
		if p.IsOverflowEntry(uint16(leIdx)) {
			first, _ := p.OverflowDescriptor(uint16(leIdx))
			if err := FreeOverflow(w, w, first, pageSize); err != nil {
				return insertResult{}, err
			}
		}
		entries[leIdx] = newEntry
	} else {
		pos := leIdx + 1
		entries = insertAt(entries, pos, newEntry)
		insertedAtEnd = pos == len(entries)-1
	}

	if fits(entries, pageSize) {
		newPgno, err := w.Alloc()
		if err != nil {
			return insertResult{}, err
		}
		np := buildPage(entries, page.FlagLeaf, pageSize, newPgno)
		if err := w.WritePage(newPgno, np.Data); err != nil {
			return insertResult{}, err
		}
		w.Free(p.Pgno())
		return insertResult{pgno: newPgno}, nil
	}

	leftPgno, err := w.Alloc()
	if err != nil {
		return insertResult{}, err
	}
	rightPgno, err := w.Alloc()
	if err != nil {
		return insertResult{}, err
	}
	left, right, splitKey := splitEntries(entries, insertedAtEnd, page.FlagLeaf, pageSize, leftPgno, rightPgno)
	if err := w.WritePage(leftPgno, left.Data); err != nil {
		return insertResult{}, err
	}
	if err := w.WritePage(rightPgno, right.Data); err != nil {
		return insertResult{}, err
	}
	w.Free(p.Pgno())
	return insertResult{pgno: leftPgno, splitPgno: rightPgno, splitKey: splitKey, hasSplit: true}, nil
}

func insertBranch(w PageWriter, p page.Page, key, val []byte, pageSize int) (insertResult, error) {
	idx := page.LookupLE(p, key, page.DefaultCompare)
	if idx < 0 {
		idx = 0
	}
	child := p.GetChildPgno(uint16(idx))
	childRes, err := insertRec(w, child, key, val, pageSize)
	if err != nil {
		return insertResult{}, err
	}

	entries := loadEntries(p)
	entries[idx].val = encodeChild(childRes.pgno)

	insertedAtEnd := false
	if childRes.hasSplit {
		pos := idx + 1
		entries = insertAt(entries, pos, entry{key: childRes.splitKey, val: encodeChild(childRes.splitPgno)})
		insertedAtEnd = pos == len(entries)-1
	}

	if fits(entries, pageSize) {
		newPgno, err := w.Alloc()
		if err != nil {
			return insertResult{}, err
		}
		np := buildPage(entries, page.FlagBranch, pageSize, newPgno)
		if err := w.WritePage(newPgno, np.Data); err != nil {
			return insertResult{}, err
		}
		w.Free(p.Pgno())
		return insertResult{pgno: newPgno}, nil
	}

	leftPgno, err := w.Alloc()
	if err != nil {
		return insertResult{}, err
	}
	rightPgno, err := w.Alloc()
	if err != nil {
		return insertResult{}, err
	}
	left, right, splitKey := splitEntries(entries, insertedAtEnd, page.FlagBranch, pageSize, leftPgno, rightPgno)
	if err := w.WritePage(leftPgno, left.Data); err != nil {
		return insertResult{}, err
	}
	if err := w.WritePage(rightPgno, right.Data); err != nil {
		return insertResult{}, err
	}
	w.Free(p.Pgno())
	return insertResult{pgno: leftPgno, splitPgno: rightPgno, splitKey: splitKey, hasSplit: true}, nil
}
