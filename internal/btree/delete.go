package btree

import "coredb/internal/page"

// mergeCandidateRatio bounds how empty a child page must be before a
// delete bothers looking at a sibling at all. Below this the COW cost of
// a rebalance attempt isn't worth it, and an underfull page is tolerated
// rather than forcing a mandatory rebalance.
const mergeCandidateRatio = 0.35

// lowFillRatio is the threshold a borrow must keep both sides above to
// be worth doing; below it borrowing one entry wouldn't fix anything.
const lowFillRatio = 0.25

// Delete removes key if present. Deleting an absent key is not an error;
// found reports whether anything was removed. A delete first tries to
// borrow a boundary entry from an adjacent sibling, then a full merge; if
// neither fits it simply leaves the page underfull rather than failing.
func Delete(w PageWriter, rootPgno uint64, key []byte, pageSize int) (newRoot uint64, found bool, err error) {
	newRootPgno, found, err := deleteRec(w, rootPgno, key, pageSize)
	if err != nil || !found {
		return rootPgno, found, err
	}

	p, err := readPage(w, newRootPgno)
	if err != nil {
		return 0, false, err
	}
	if p.IsBranch() && p.NKeys() == 1 {
		child := p.GetChildPgno(0)
		w.Free(newRootPgno)
		return child, true, nil
	}
	return newRootPgno, true, nil
}

func deleteRec(w PageWriter, pgno uint64, key []byte, pageSize int) (uint64, bool, error) {
	p, err := readPage(w, pgno)
	if err != nil {
		return 0, false, err
	}
	if p.IsLeaf() {
		return deleteLeaf(w, p, key, pageSize)
	}
	return deleteBranch(w, p, key, pageSize)
}

func deleteLeaf(w PageWriter, p page.Page, key []byte, pageSize int) (uint64, bool, error) {
	leIdx := page.LookupLE(p, key, page.DefaultCompare)
	if leIdx < 0 || page.DefaultCompare(p.GetKey(uint16(leIdx)), key) != 0 {
		return p.Pgno(), false, nil
	}

	if p.IsOverflowEntry(uint16(leIdx)) {
		first, _ := p.OverflowDescriptor(uint16(leIdx))
		if err := FreeOverflow(w, w, first, pageSize); err != nil {
			return 0, false, err
		}
	}

	entries := loadEntries(p)
	entries = append(entries[:leIdx], entries[leIdx+1:]...)

	newPgno, err := w.Alloc()
	if err != nil {
		return 0, false, err
	}
	np := buildPage(entries, page.FlagLeaf, pageSize, newPgno)
	if err := w.WritePage(newPgno, np.Data); err != nil {
		return 0, false, err
	}
	w.Free(p.Pgno())
	return newPgno, true, nil
}

func deleteBranch(w PageWriter, p page.Page, key []byte, pageSize int) (uint64, bool, error) {
	idx := page.LookupLE(p, key, page.DefaultCompare)
	if idx < 0 {
		idx = 0
	}
	childPgno := p.GetChildPgno(uint16(idx))
	newChildPgno, found, err := deleteRec(w, childPgno, key, pageSize)
	if err != nil || !found {
		return p.Pgno(), found, err
	}

	entries := loadEntries(p)
	entries[idx].val = encodeChild(newChildPgno)

	rebalanced, err := tryBorrow(w, entries, idx, pageSize)
	if err != nil {
		return 0, false, err
	}
	if rebalanced == nil {
		rebalanced, err = tryMerge(w, entries, idx, pageSize)
		if err != nil {
			return 0, false, err
		}
	}
	if rebalanced != nil {
		entries = rebalanced
	}

	newPgno, err := w.Alloc()
	if err != nil {
		return 0, false, err
	}
	np := buildPage(entries, page.FlagBranch, pageSize, newPgno)
	if err := w.WritePage(newPgno, np.Data); err != nil {
		return 0, false, err
	}
	w.Free(p.Pgno())
	return newPgno, true, nil
}

// tryMerge inspects the child at idx and, if it is thin, looks at one
// sibling (preferring the right one) for a merge that fits in a single
// page. It returns a replacement entry slice on success, or nil if no
// merge was attempted or none fit; the caller treats nil as "leave it
// underfull" and never errors.
func tryMerge(w PageWriter, entries []entry, idx int, pageSize int) ([]entry, error) {
	if len(entries) < 2 {
		return nil, nil
	}
	childPgno := decodeChild(entries[idx].val)
	child, err := readPage(w, childPgno)
	if err != nil {
		return nil, err
	}
	if float64(child.NBytes()) >= mergeCandidateRatio*float64(pageSize) {
		return nil, nil
	}

	siblingIdx := idx + 1
	if siblingIdx >= len(entries) {
		siblingIdx = idx - 1
	}
	if siblingIdx < 0 {
		return nil, nil
	}
	siblingPgno := decodeChild(entries[siblingIdx].val)
	sibling, err := readPage(w, siblingPgno)
	if err != nil {
		return nil, err
	}

	var flags uint16 = page.FlagBranch
	if child.IsLeaf() {
		flags = page.FlagLeaf
	}

	var combined []entry
	lo, hi := idx, siblingIdx
	if siblingIdx < idx {
		lo, hi = siblingIdx, idx
		combined = append(loadEntries(sibling), loadEntries(child)...)
	} else {
		combined = append(loadEntries(child), loadEntries(sibling)...)
	}
	if !fits(combined, pageSize) {
		return nil, nil
	}

	mergedPgno, err := w.Alloc()
	if err != nil {
		return nil, err
	}
	mp := buildPage(combined, flags, pageSize, mergedPgno)
	if err := w.WritePage(mergedPgno, mp.Data); err != nil {
		return nil, err
	}
	w.Free(childPgno)
	w.Free(siblingPgno)

	out := make([]entry, 0, len(entries)-1)
	out = append(out, entries[:lo]...)
	out = append(out, entry{key: entries[lo].key, val: encodeChild(mergedPgno)})
	out = append(out, entries[hi+1:]...)
	return out, nil
}

// aboveLowFill reports whether entries occupy at least lowFillRatio of a
// page of pageSize bytes.
func aboveLowFill(entries []entry, pageSize int) bool {
	return float64(entrySetBytes(entries)) >= lowFillRatio*float64(pageSize)
}

// tryBorrow inspects the child at idx and, if thin, tries moving one
// boundary entry from an adjacent sibling (preferring the right one) into
// the child instead of merging. It returns a replacement entry slice only if
// the move leaves both the child and the sibling above lowFillRatio;
// otherwise nil, leaving the caller to fall back to tryMerge.
func tryBorrow(w PageWriter, entries []entry, idx int, pageSize int) ([]entry, error) {
	if len(entries) < 2 {
		return nil, nil
	}
	childPgno := decodeChild(entries[idx].val)
	child, err := readPage(w, childPgno)
	if err != nil {
		return nil, err
	}
	if float64(child.NBytes()) >= mergeCandidateRatio*float64(pageSize) {
		return nil, nil
	}

	siblingIdx := idx + 1
	fromRight := true
	if siblingIdx >= len(entries) {
		siblingIdx = idx - 1
		fromRight = false
	}
	if siblingIdx < 0 {
		return nil, nil
	}
	siblingPgno := decodeChild(entries[siblingIdx].val)
	sibling, err := readPage(w, siblingPgno)
	if err != nil {
		return nil, err
	}
	siblingEntries := loadEntries(sibling)
	if len(siblingEntries) < 2 {
		return nil, nil // borrowing would leave the sibling empty
	}

	var flags uint16 = page.FlagBranch
	if child.IsLeaf() {
		flags = page.FlagLeaf
	}
	childEntries := loadEntries(child)

	var newChild, newSibling []entry
	if fromRight {
		borrowed := siblingEntries[0]
		newSibling = siblingEntries[1:]
		newChild = append(append([]entry{}, childEntries...), borrowed)
	} else {
		borrowed := siblingEntries[len(siblingEntries)-1]
		newSibling = siblingEntries[:len(siblingEntries)-1]
		newChild = append([]entry{borrowed}, childEntries...)
	}
	if !aboveLowFill(newChild, pageSize) || !aboveLowFill(newSibling, pageSize) {
		return nil, nil
	}

	newChildPgno, err := w.Alloc()
	if err != nil {
		return nil, err
	}
	np := buildPage(newChild, flags, pageSize, newChildPgno)
	if err := w.WritePage(newChildPgno, np.Data); err != nil {
		return nil, err
	}
	newSiblingPgno, err := w.Alloc()
	if err != nil {
		return nil, err
	}
	sp := buildPage(newSibling, flags, pageSize, newSiblingPgno)
	if err := w.WritePage(newSiblingPgno, sp.Data); err != nil {
		return nil, err
	}
	w.Free(childPgno)
	w.Free(siblingPgno)

	out := append([]entry(nil), entries...)
	out[idx].val = encodeChild(newChildPgno)
	out[siblingIdx].val = encodeChild(newSiblingPgno)
	if fromRight {
		out[siblingIdx].key = cloneBytes(newSibling[0].key)
	} else {
		out[idx].key = cloneBytes(newChild[0].key)
	}
	return out, nil
}
