package coredb

import "coredb/internal/btree"

// Cursor iterates a database's keys in order. It re-descends the tree by
// key on every step rather than caching page references, so it stays
// correct across concurrent writer COW activity for the lifetime of the
// transaction that created it.
type Cursor struct {
	c *btree.Cursor
}

func newCursor(r btree.PageReader, rootPgno uint64, pageSize int) *Cursor {
	return &Cursor{c: btree.NewCursor(r, rootPgno, pageSize)}
}

// First moves to the smallest key.
func (c *Cursor) First() error { return translateErr(c.c.First()) }

// Last moves to the largest key.
func (c *Cursor) Last() error { return translateErr(c.c.Last()) }

// Seek moves to the smallest key >= target.
func (c *Cursor) Seek(target []byte) error { return translateErr(c.c.Seek(target)) }

// Next moves to the smallest key strictly greater than the current one.
func (c *Cursor) Next() error { return translateErr(c.c.Next()) }

// Prev moves to the largest key strictly less than the current one.
func (c *Cursor) Prev() error { return translateErr(c.c.Prev()) }

// Valid reports whether the cursor is positioned on an entry.
func (c *Cursor) Valid() bool { return c.c.Valid() }

// Key returns the current entry's key. It is only meaningful when Valid.
func (c *Cursor) Key() []byte { return c.c.Key() }

// Value returns the current entry's value, resolving an overflow chain
// if needed.
func (c *Cursor) Value() ([]byte, error) {
	v, err := c.c.Value()
	return v, translateErr(err)
}
