package coredb

import (
	"encoding/binary"

	"coredb/internal/btree"
	"coredb/internal/freelist"
	"coredb/internal/pageio"
	"coredb/internal/txn"
)

// Environment owns one open database file. It is safe for concurrent use
// by multiple goroutines: BeginRead may be called from any number of
// them concurrently with each other and with the single in-flight
// BeginWrite.
type Environment struct {
	mgr  *txn.Manager
	opts *Options
}

// Open opens or creates the database file at path. A nil opts uses
// DefaultOptions().
func Open(path string, opts *Options) (*Environment, error) {
	o := normalizeOptions(opts)
	backend, err := pageio.Open(path, o.PageSize, o.MapSize, o.FileMode, o.lockRequested())
	if err != nil {
		return nil, translateErr(err)
	}
	mgr, err := txn.Open(backend, o.PageSize, o.MapSize, o.MaxReaders, o.MaxTxnPages, toTxnDurability(o.Durability))
	if err != nil {
		_ = backend.Close()
		return nil, translateErr(err)
	}
	return &Environment{mgr: mgr, opts: o}, nil
}

// Close releases the memory mapping and file handle without a sync of its
// own. It does not implicitly commit any open write transaction; the caller must have
// already committed or aborted it.
func (e *Environment) Close() error {
	return translateErr(e.mgr.Backend().Close())
}

// BeginRead starts a read-only transaction against the currently
// committed snapshot. The caller must call Txn.Close (directly, or via
// View) when done.
func (e *Environment) BeginRead() (*Txn, error) {
	rtx, err := e.mgr.BeginRead()
	if err != nil {
		return nil, translateErr(err)
	}
	return &Txn{env: e, rtx: rtx}, nil
}

// BeginWrite starts the single write transaction, blocking until any
// prior writer has committed or aborted.
func (e *Environment) BeginWrite() *Txn {
	wtx := e.mgr.BeginWrite()
	return &Txn{env: e, write: true, wtx: wtx}
}

// View runs fn inside a read transaction, releasing the transaction when
// fn returns regardless of outcome.
func (e *Environment) View(fn func(*Txn) error) error {
	tx, err := e.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()
	return fn(tx)
}

// Update runs fn inside a write transaction, committing on a nil return
// and aborting otherwise.
func (e *Environment) Update(fn func(*Txn) error) error {
	tx := e.BeginWrite()
	if err := fn(tx); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

func toTxnDurability(d Durability) txn.Durability {
	switch d {
	case NoSync:
		return txn.NoSync
	case AsyncFlush:
		return txn.AsyncFlush
	case SyncData:
		return txn.SyncData
	default:
		return txn.FullSync
	}
}

// translateErr maps the internal packages' locally defined error types
// (they can't import this package without a cycle) onto coredb's public
// error types.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case *pageio.InvalidPageIDError:
		return &InvalidPageIDError{Pgno: e.Pgno, PageSize: e.PageSize, Reason: "out of mapped range"}
	case *freelist.CorruptionError:
		return &CorruptionError{Detail: e.Detail, Pgno: e.Pgno, HasPgno: true}
	case *btree.CorruptionError:
		return &CorruptionError{Detail: e.Detail, Pgno: e.Pgno, HasPgno: true}
	case *txn.CorruptionError:
		return &CorruptionError{Detail: e.Detail, Pgno: e.Pgno, HasPgno: e.HasPgno}
	case *txn.TxnFullError:
		return &TxnFullError{Size: e.Size, Limit: e.Limit}
	case *txn.MapFullError:
		return &MapFullError{MapSize: e.MapSize}
	case *txn.ReadersFullError:
		return &ReadersFullError{MaxReaders: e.MaxReaders}
	default:
		return &IOError{Op: "environment", Cause: err}
	}
}

func encodeRootPgno(pgno uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, pgno)
	return buf
}

func decodeRootPgno(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}
