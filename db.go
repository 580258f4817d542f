package coredb

import (
	"coredb/internal/btree"
	"coredb/internal/page"
)

// DB is a named database within an Environment: its own B+tree, sharing
// the same file, free list, and transaction as every other database. The
// unnamed default database a Txn's Get/Put/Delete/Cursor operate on is
// not a DB value; it is addressed directly through the meta page's own
// root pointer, kept alongside the catalog of named ones rather than
// replaced by it.
type DB struct {
	tx       *Txn
	name     string
	rootPgno uint64
}

// CreateDB registers a new named database. It fails with
// InvalidParameterError if name is already registered or MaxDBs would be
// exceeded.
func (tx *Txn) CreateDB(name string) (*DB, error) {
	if !tx.write {
		return nil, &InvalidParameterError{Detail: "CreateDB called on a read-only transaction"}
	}
	if name == "" {
		return nil, &InvalidParameterError{Detail: "database name must not be empty"}
	}
	if _, found, err := btree.Get(tx.wtx, tx.wtx.CatalogRootPgno(), []byte(name), tx.pageSize()); err != nil {
		return nil, translateErr(err)
	} else if found {
		return nil, &InvalidParameterError{Detail: "database already exists: " + name}
	}
	if int(tx.wtx.NumDBs()) >= tx.env.opts.MaxDBs {
		return nil, &InvalidParameterError{Detail: "MaxDBs exceeded"}
	}

	rootPgno, err := tx.wtx.Alloc()
	if err != nil {
		return nil, translateErr(err)
	}
	emptyLeaf := page.New(tx.pageSize(), page.FlagLeaf)
	emptyLeaf.SetPgno(rootPgno)
	emptyLeaf.Seal()
	if err := tx.wtx.WritePage(rootPgno, emptyLeaf.Data); err != nil {
		return nil, translateErr(err)
	}

	newCatalogRoot, err := btree.Insert(tx.wtx, tx.wtx.CatalogRootPgno(), []byte(name), encodeRootPgno(rootPgno), tx.pageSize())
	if err != nil {
		return nil, translateErr(err)
	}
	tx.wtx.SetCatalogRootPgno(newCatalogRoot)
	tx.wtx.SetNumDBs(tx.wtx.NumDBs() + 1)

	return &DB{tx: tx, name: name, rootPgno: rootPgno}, nil
}

// OpenDB looks up a previously created named database.
func (tx *Txn) OpenDB(name string) (*DB, error) {
	val, found, err := btree.Get(tx.reader(), tx.catalogRootPgno(), []byte(name), tx.pageSize())
	if err != nil {
		return nil, translateErr(err)
	}
	if !found {
		return nil, &KeyNotFoundError{Key: []byte(name)}
	}
	return &DB{tx: tx, name: name, rootPgno: decodeRootPgno(val)}, nil
}

func (db *DB) Get(key []byte) ([]byte, error) {
	val, found, err := btree.Get(db.tx.reader(), db.rootPgno, key, db.tx.pageSize())
	if err != nil {
		return nil, translateErr(err)
	}
	if !found {
		return nil, &KeyNotFoundError{Key: key}
	}
	return val, nil
}

func (db *DB) Put(key, val []byte) error {
	if !db.tx.write {
		return &InvalidParameterError{Detail: "Put called on a read-only transaction"}
	}
	if len(key) == 0 {
		return &InvalidParameterError{Detail: "key must not be empty"}
	}
	newRoot, err := btree.Insert(db.tx.wtx, db.rootPgno, key, val, db.tx.pageSize())
	if err != nil {
		return translateErr(err)
	}
	return db.setRoot(newRoot)
}

func (db *DB) Delete(key []byte) error {
	if !db.tx.write {
		return &InvalidParameterError{Detail: "Delete called on a read-only transaction"}
	}
	newRoot, found, err := btree.Delete(db.tx.wtx, db.rootPgno, key, db.tx.pageSize())
	if err != nil {
		return translateErr(err)
	}
	if err := db.setRoot(newRoot); err != nil {
		return err
	}
	if !found {
		return &KeyNotFoundError{Key: key}
	}
	return nil
}

func (db *DB) Cursor() *Cursor {
	return newCursor(db.tx.reader(), db.rootPgno, db.tx.pageSize())
}

// setRoot persists db's new root both locally and in the catalog tree,
// since the catalog is the only durable record of it.
func (db *DB) setRoot(newRoot uint64) error {
	db.rootPgno = newRoot
	newCatalogRoot, err := btree.Insert(db.tx.wtx, db.tx.wtx.CatalogRootPgno(), []byte(db.name), encodeRootPgno(newRoot), db.tx.pageSize())
	if err != nil {
		return translateErr(err)
	}
	db.tx.wtx.SetCatalogRootPgno(newCatalogRoot)
	return nil
}
