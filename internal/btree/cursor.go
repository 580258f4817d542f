package btree

import "coredb/internal/page"

// Cursor walks a snapshot in key order. It holds no page pointers between
// calls, only the last key it returned: every step re-descends from the
// root by key. A page a cursor was "on" can be freed by a concurrent
// write transaction's COW without ever being observed by this cursor,
// because a read transaction's root pgno is fixed for its whole lifetime
// and freed pages it can still reach are never actually recycled until
// no such reader remains (internal/freelist).
type Cursor struct {
	r        PageReader
	rootPgno uint64
	pageSize int

	valid bool
	key   []byte
	val   []byte
}

func NewCursor(r PageReader, rootPgno uint64, pageSize int) *Cursor {
	return &Cursor{r: r, rootPgno: rootPgno, pageSize: pageSize}
}

func (c *Cursor) Valid() bool { return c.valid }
func (c *Cursor) Key() []byte { return c.key }

// Value resolves the current entry's value, following an overflow chain
// if needed.
func (c *Cursor) Value() ([]byte, error) {
	if !c.valid {
		return nil, nil
	}
	return c.val, nil
}

func (c *Cursor) setResult(key, val []byte, ok bool) error {
	if !ok {
		c.valid = false
		c.key, c.val = nil, nil
		return nil
	}
	c.valid = true
	c.key = key
	c.val = val
	return nil
}

// First positions the cursor at the smallest key in the tree.
func (c *Cursor) First() error {
	res, ok, err := descendLeftmost(c.r, c.rootPgno)
	if err != nil {
		return err
	}
	val, err := c.resolve(res)
	if err != nil {
		return err
	}
	return c.setResult(entryKey(res), val, ok)
}

// Last positions the cursor at the largest key in the tree.
func (c *Cursor) Last() error {
	res, ok, err := descendRightmost(c.r, c.rootPgno)
	if err != nil {
		return err
	}
	val, err := c.resolve(res)
	if err != nil {
		return err
	}
	return c.setResult(entryKey(res), val, ok)
}

// Seek positions the cursor at the smallest key >= target.
func (c *Cursor) Seek(target []byte) error {
	res, ok, err := findGE(c.r, c.rootPgno, target, false)
	if err != nil {
		return err
	}
	val, err := c.resolve(res)
	if err != nil {
		return err
	}
	return c.setResult(entryKey(res), val, ok)
}

// Next advances to the smallest key strictly greater than the current one.
func (c *Cursor) Next() error {
	if !c.valid {
		return nil
	}
	res, ok, err := findGE(c.r, c.rootPgno, c.key, true)
	if err != nil {
		return err
	}
	val, err := c.resolve(res)
	if err != nil {
		return err
	}
	return c.setResult(entryKey(res), val, ok)
}

// Prev moves to the largest key strictly less than the current one.
func (c *Cursor) Prev() error {
	if !c.valid {
		return nil
	}
	res, ok, err := findLE(c.r, c.rootPgno, c.key, true)
	if err != nil {
		return err
	}
	val, err := c.resolve(res)
	if err != nil {
		return err
	}
	return c.setResult(entryKey(res), val, ok)
}

// foundEntry carries a leaf entry located by one of the tree walks below.
type foundEntry struct {
	key            []byte
	val            []byte
	isOverflow     bool
	overflowPgno   uint64
	overflowLen    uint64
}

func entryKey(e foundEntry) []byte { return e.key }

func (c *Cursor) resolve(e foundEntry) ([]byte, error) {
	if !e.isOverflow {
		return e.val, nil
	}
	if e.overflowLen == 0 && e.overflowPgno == 0 {
		return nil, nil
	}
	return ReadOverflow(c.r, e.overflowPgno, e.overflowLen, c.pageSize)
}

func leafEntry(p page.Page, idx uint16) foundEntry {
	if p.IsOverflowEntry(idx) {
		first, size := p.OverflowDescriptor(idx)
		return foundEntry{key: cloneBytes(p.GetKey(idx)), isOverflow: true, overflowPgno: first, overflowLen: size}
	}
	return foundEntry{key: cloneBytes(p.GetKey(idx)), val: cloneBytes(p.GetVal(idx))}
}

func descendLeftmost(r PageReader, pgno uint64) (foundEntry, bool, error) {
	p, err := readPage(r, pgno)
	if err != nil {
		return foundEntry{}, false, err
	}
	if p.IsLeaf() {
		if p.NKeys() == 0 {
			return foundEntry{}, false, nil
		}
		return leafEntry(p, 0), true, nil
	}
	for i := uint16(0); i < p.NKeys(); i++ {
		res, ok, err := descendLeftmost(r, p.GetChildPgno(i))
		if err != nil {
			return foundEntry{}, false, err
		}
		if ok {
			return res, true, nil
		}
	}
	return foundEntry{}, false, nil
}

func descendRightmost(r PageReader, pgno uint64) (foundEntry, bool, error) {
	p, err := readPage(r, pgno)
	if err != nil {
		return foundEntry{}, false, err
	}
	if p.IsLeaf() {
		n := p.NKeys()
		if n == 0 {
			return foundEntry{}, false, nil
		}
		return leafEntry(p, n-1), true, nil
	}
	for i := int(p.NKeys()) - 1; i >= 0; i-- {
		res, ok, err := descendRightmost(r, p.GetChildPgno(uint16(i)))
		if err != nil {
			return foundEntry{}, false, err
		}
		if ok {
			return res, true, nil
		}
	}
	return foundEntry{}, false, nil
}

// findGE returns the smallest key satisfying (key > target) if strict, or
// (key >= target) otherwise, searching the whole tree rooted at pgno.
func findGE(r PageReader, pgno uint64, target []byte, strict bool) (foundEntry, bool, error) {
	p, err := readPage(r, pgno)
	if err != nil {
		return foundEntry{}, false, err
	}
	if p.IsLeaf() {
		for i := uint16(0); i < p.NKeys(); i++ {
			c := page.DefaultCompare(p.GetKey(i), target)
			if (strict && c > 0) || (!strict && c >= 0) {
				return leafEntry(p, i), true, nil
			}
		}
		return foundEntry{}, false, nil
	}
	idx := page.LookupLE(p, target, page.DefaultCompare)
	if idx >= 0 {
		if res, ok, err := findGE(r, p.GetChildPgno(uint16(idx)), target, strict); err != nil {
			return foundEntry{}, false, err
		} else if ok {
			return res, true, nil
		}
	}
	for i := idx + 1; i < int(p.NKeys()); i++ {
		res, ok, err := descendLeftmost(r, p.GetChildPgno(uint16(i)))
		if err != nil {
			return foundEntry{}, false, err
		}
		if ok {
			return res, true, nil
		}
	}
	return foundEntry{}, false, nil
}

// findLE returns the largest key satisfying (key < target) if strict, or
// (key <= target) otherwise.
func findLE(r PageReader, pgno uint64, target []byte, strict bool) (foundEntry, bool, error) {
	p, err := readPage(r, pgno)
	if err != nil {
		return foundEntry{}, false, err
	}
	if p.IsLeaf() {
		for i := int(p.NKeys()) - 1; i >= 0; i-- {
			c := page.DefaultCompare(p.GetKey(uint16(i)), target)
			if (strict && c < 0) || (!strict && c <= 0) {
				return leafEntry(p, uint16(i)), true, nil
			}
		}
		return foundEntry{}, false, nil
	}
	idx := page.LookupLE(p, target, page.DefaultCompare)
	if idx >= 0 {
		if res, ok, err := findLE(r, p.GetChildPgno(uint16(idx)), target, strict); err != nil {
			return foundEntry{}, false, err
		} else if ok {
			return res, true, nil
		}
	}
	for i := idx - 1; i >= 0; i-- {
		res, ok, err := descendRightmost(r, p.GetChildPgno(uint16(i)))
		if err != nil {
			return foundEntry{}, false, err
		}
		if ok {
			return res, true, nil
		}
	}
	return foundEntry{}, false, nil
}
