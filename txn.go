package coredb

import (
	"coredb/internal/btree"
	"coredb/internal/txn"
)

// Txn is either a read snapshot (from BeginRead/View) or the single write
// transaction (from BeginWrite/Update). Its zero value is not usable;
// obtain one from an Environment.
type Txn struct {
	env   *Environment
	write bool
	rtx   *txn.ReadTxn
	wtx   *txn.WriteTxn

	closed bool
}

func (tx *Txn) reader() btree.PageReader {
	if tx.write {
		return tx.wtx
	}
	return tx.rtx
}

func (tx *Txn) rootPgno() uint64 {
	if tx.write {
		return tx.wtx.RootPgno()
	}
	return tx.rtx.RootPgno()
}

func (tx *Txn) catalogRootPgno() uint64 {
	if tx.write {
		return tx.wtx.CatalogRootPgno()
	}
	return tx.rtx.CatalogRootPgno()
}

func (tx *Txn) pageSize() int { return tx.env.opts.PageSize }

// Writable reports whether Put/Delete/CreateDB may be called.
func (tx *Txn) Writable() bool { return tx.write }

// Get looks up key in the default (unnamed) database.
func (tx *Txn) Get(key []byte) ([]byte, error) {
	val, found, err := btree.Get(tx.reader(), tx.rootPgno(), key, tx.pageSize())
	if err != nil {
		return nil, translateErr(err)
	}
	if !found {
		return nil, &KeyNotFoundError{Key: key}
	}
	return val, nil
}

// Put inserts or overwrites key in the default database. Only valid on a
// write transaction.
func (tx *Txn) Put(key, val []byte) error {
	if !tx.write {
		return &InvalidParameterError{Detail: "Put called on a read-only transaction"}
	}
	if len(key) == 0 {
		return &InvalidParameterError{Detail: "key must not be empty"}
	}
	newRoot, err := btree.Insert(tx.wtx, tx.wtx.RootPgno(), key, val, tx.pageSize())
	if err != nil {
		return translateErr(err)
	}
	tx.wtx.SetRootPgno(newRoot)
	return nil
}

// Delete removes key from the default database. Deleting an absent key
// returns KeyNotFoundError but leaves the transaction otherwise usable.
func (tx *Txn) Delete(key []byte) error {
	if !tx.write {
		return &InvalidParameterError{Detail: "Delete called on a read-only transaction"}
	}
	newRoot, found, err := btree.Delete(tx.wtx, tx.wtx.RootPgno(), key, tx.pageSize())
	if err != nil {
		return translateErr(err)
	}
	tx.wtx.SetRootPgno(newRoot)
	if !found {
		return &KeyNotFoundError{Key: key}
	}
	return nil
}

// Cursor returns a cursor over the default database, valid for the
// lifetime of this transaction.
func (tx *Txn) Cursor() *Cursor {
	return newCursor(tx.reader(), tx.rootPgno(), tx.pageSize())
}

// Commit publishes a write transaction's changes. On a read transaction
// it releases the snapshot, as Close does, and returns nil.
func (tx *Txn) Commit() error {
	if tx.closed {
		return &InvalidParameterError{Detail: "transaction already closed"}
	}
	tx.closed = true
	if !tx.write {
		tx.rtx.Close()
		return nil
	}
	return translateErr(tx.wtx.Commit())
}

// Abort discards a write transaction's changes, or releases a read
// transaction's snapshot.
func (tx *Txn) Abort() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.write {
		tx.wtx.Abort()
		return
	}
	tx.rtx.Close()
}

// Close releases a read transaction's snapshot. Calling it on a write
// transaction aborts it, matching Abort.
func (tx *Txn) Close() { tx.Abort() }
