// Package txn implements the transaction manager: a single writer mutex,
// a lock-free reader table, per-transaction copy-on-write page
// allocation, and the commit sequence that keeps the two meta pages
// crash-consistent.
package txn

import (
	"sync"
	"sync/atomic"

	"coredb/internal/assert"
	"coredb/internal/freelist"
	"coredb/internal/meta"
	"coredb/internal/page"
	"coredb/internal/pageio"
)

// Durability mirrors coredb.Durability without importing it.
type Durability int

const (
	NoSync Durability = iota
	AsyncFlush
	SyncData
	FullSync
)

// Manager owns the backend, the current meta snapshot, the reader table,
// and the free list, and serializes writers through writerMu.
type Manager struct {
	backend *pageio.Backend

	pageSize    int
	mapSize     int64
	maxTxnPages int
	durability  Durability

	activeMeta atomic.Pointer[meta.Meta]
	activeSlot atomic.Int32

	readers *ReaderTable

	writerMu sync.Mutex
	freelist *freelist.FreeList // owned by the writer; only touched while writerMu is held
}

// Open loads or initializes the meta pages and free list for a freshly
// opened backend.
func Open(backend *pageio.Backend, pageSize int, mapSize int64, maxReaders, maxTxnPages int, durability Durability) (*Manager, error) {
	m := &Manager{
		backend:     backend,
		pageSize:    pageSize,
		mapSize:     mapSize,
		maxTxnPages: maxTxnPages,
		durability:  durability,
		readers:     NewReaderTable(maxReaders),
	}

	slot0, err := backend.ReadPage(meta.MetaPage0)
	if err != nil {
		return nil, err
	}
	slot1, err := backend.ReadPage(meta.MetaPage1)
	if err != nil {
		return nil, err
	}

	current, activeSlot, ok := meta.Fresh(slot0, slot1)
	if !ok {
		return m.initFresh()
	}

	m.activeMeta.Store(&current)
	m.activeSlot.Store(int32(activeSlot))

	fl, err := freelist.Load(pageSize, current.FreelistHeadPgno, current.FreelistHeadPgno != meta.NoPgno, backend.ReadPage)
	if err != nil {
		return nil, err
	}
	m.freelist = fl
	return m, nil
}

// initFresh sets up the meta pages, an empty default tree root, and an
// empty catalog root for a database file with no valid meta page yet.
func (m *Manager) initFresh() (*Manager, error) {
	rootPage := page.New(m.pageSize, page.FlagLeaf)
	rootPage.SetPgno(meta.FirstPgno)
	rootPage.Seal()

	catalogPage := page.New(m.pageSize, page.FlagLeaf)
	catalogPage.SetPgno(meta.FirstPgno + 1)
	catalogPage.Seal()

	if err := m.backend.WritePage(rootPage.Pgno(), rootPage.Data); err != nil {
		return nil, err
	}
	if err := m.backend.WritePage(catalogPage.Pgno(), catalogPage.Data); err != nil {
		return nil, err
	}

	initial := meta.Meta{
		PageSize:         uint32(m.pageSize),
		TxnID:            1,
		RootPgno:         rootPage.Pgno(),
		CatalogRootPgno:  catalogPage.Pgno(),
		FreelistHeadPgno: meta.NoPgno,
		NextPgno:         meta.FirstPgno + 2,
		NumDBs:           0,
	}
	metaPage := meta.Encode(initial, m.pageSize, meta.MetaPage0)
	if err := m.backend.WritePage(meta.MetaPage0, metaPage.Data); err != nil {
		return nil, err
	}
	if err := m.backend.Sync(false); err != nil {
		return nil, err
	}

	m.activeMeta.Store(&initial)
	m.activeSlot.Store(0)
	m.freelist = freelist.New(m.pageSize)
	return m, nil
}

// PageSize, ReaderCapacity expose fixed configuration to the root package.
func (m *Manager) PageSize() int          { return m.pageSize }
func (m *Manager) ReaderCapacity() int    { return m.readers.Capacity() }
func (m *Manager) Backend() *pageio.Backend { return m.backend }

// Snapshot returns the currently active meta, safe to call without
// holding writerMu: it is a lock-free atomic load.
func (m *Manager) Snapshot() meta.Meta {
	return *m.activeMeta.Load()
}

// ReadTxn is a read-only snapshot: a fixed txn id and a reader-table slot
// that must be released exactly once.
type ReadTxn struct {
	mgr      *Manager
	txnID    uint64
	snapshot meta.Meta
	slot     int
	released bool
}

// BeginRead registers a new reader against the currently active meta
// snapshot. It never blocks on the writer and never allocates a page.
func (m *Manager) BeginRead() (*ReadTxn, error) {
	snap := m.Snapshot()
	slot, ok := m.readers.Register(snap.TxnID)
	if !ok {
		return nil, &ReadersFullError{MaxReaders: m.readers.Capacity()}
	}
	return &ReadTxn{mgr: m, txnID: snap.TxnID, snapshot: snap, slot: slot}, nil
}

func (rt *ReadTxn) TxnID() uint64             { return rt.txnID }
func (rt *ReadTxn) RootPgno() uint64          { return rt.snapshot.RootPgno }
func (rt *ReadTxn) CatalogRootPgno() uint64   { return rt.snapshot.CatalogRootPgno }
func (rt *ReadTxn) ReadPage(pgno uint64) ([]byte, error) { return rt.mgr.backend.ReadPage(pgno) }

// Close releases the reader's slot. Safe to call more than once.
func (rt *ReadTxn) Close() {
	if rt.released {
		return
	}
	rt.released = true
	rt.mgr.readers.Release(rt.slot)
}

// WriteTxn is the single live write transaction. Manager.BeginWrite
// blocks until any prior writer has committed or aborted.
type WriteTxn struct {
	mgr   *Manager
	txnID uint64

	fl       *freelist.FreeList
	nextPgno uint64

	rootPgno        uint64
	catalogRootPgno uint64
	numDBs          uint32

	oldestReaderTxnID uint64
	noReaders         bool

	dirtyCount  int
	pendingFree []uint64

	done bool
}

// BeginWrite acquires the single writer slot and starts a new
// transaction id one past the currently committed one.
func (m *Manager) BeginWrite() *WriteTxn {
	m.writerMu.Lock()
	snap := m.Snapshot()
	oldest, none := m.readers.Oldest()
	return &WriteTxn{
		mgr:               m,
		txnID:             snap.TxnID + 1,
		fl:                m.freelist.Clone(),
		nextPgno:          snap.NextPgno,
		rootPgno:          snap.RootPgno,
		catalogRootPgno:   snap.CatalogRootPgno,
		numDBs:            snap.NumDBs,
		oldestReaderTxnID: oldest,
		noReaders:         none,
	}
}

func (tx *WriteTxn) TxnID() uint64           { return tx.txnID }
func (tx *WriteTxn) RootPgno() uint64        { return tx.rootPgno }
func (tx *WriteTxn) SetRootPgno(p uint64)    { tx.rootPgno = p }
func (tx *WriteTxn) CatalogRootPgno() uint64 { return tx.catalogRootPgno }
func (tx *WriteTxn) SetCatalogRootPgno(p uint64) { tx.catalogRootPgno = p }
func (tx *WriteTxn) NumDBs() uint32          { return tx.numDBs }
func (tx *WriteTxn) SetNumDBs(n uint32)      { tx.numDBs = n }

// ReadPage reads any page, dirty or not: dirty pages already live in the
// mmap because Alloc/WritePage write through immediately, invisible to
// readers only because no reachable root yet points at them.
func (tx *WriteTxn) ReadPage(pgno uint64) ([]byte, error) {
	return tx.mgr.backend.ReadPage(pgno)
}

// Alloc reserves a page number for a new or copy-on-write page, preferring
// a reclaimed page whose freeing transaction predates every live reader.
func (tx *WriteTxn) Alloc() (uint64, error) {
	tx.dirtyCount++
	if tx.dirtyCount > tx.mgr.maxTxnPages {
		return 0, &TxnFullError{Size: tx.dirtyCount, Limit: tx.mgr.maxTxnPages}
	}
	oldest, noReaders := tx.oldestReaderTxnID, tx.noReaders
	if noReaders {
		// Pages this transaction frees stay reachable from the committed
		// meta page until Commit publishes the new one.
		oldest, noReaders = tx.txnID, false
	}
	if pgno, ok := tx.fl.Alloc(oldest, noReaders); ok {
		return pgno, nil
	}
	pgno := tx.nextPgno
	if (int64(pgno)+1)*int64(tx.mgr.pageSize) > tx.mgr.mapSize {
		return 0, &MapFullError{MapSize: tx.mgr.mapSize}
	}
	tx.nextPgno++
	return pgno, nil
}

// WritePage commits a page's bytes into the mmap immediately. It is only
// visible to a reader that already has a path to pgno, which before
// Commit is true of nobody.
func (tx *WriteTxn) WritePage(pgno uint64, data []byte) error {
	return tx.mgr.backend.WritePage(pgno, data)
}

// Free marks pgno as no longer reachable from the working root as of this
// transaction; it becomes eligible for reuse once no reader could still
// hold a snapshot that reaches it.
func (tx *WriteTxn) Free(pgno uint64) {
	tx.pendingFree = append(tx.pendingFree, pgno)
}

// Commit runs the crash-consistent sequence: flush data, rewrite the
// free list, write the meta page nobody is currently reading, and (for
// FullSync) fsync it before publishing it as active.
func (tx *WriteTxn) Commit() error {
	assert.Assert(!tx.done, "txn: commit called twice")
	tx.done = true
	defer tx.mgr.writerMu.Unlock()

	for _, pgno := range tx.pendingFree {
		tx.fl.Push(pgno, tx.txnID)
	}

	// The free list is itself COW-ed: the pages holding the previous
	// serialization become reclaimable once no reader can still see
	// them, exactly like any other freed page.
	oldChain, err := tx.fl.ChainPgnos(tx.mgr.backend.ReadPage)
	if err != nil {
		return err
	}
	for _, pgno := range oldChain {
		tx.fl.Push(pgno, tx.txnID)
	}

	switch tx.mgr.durability {
	case NoSync:
	case AsyncFlush:
		go tx.mgr.backend.Sync(true) //nolint:errcheck // best-effort, non-blocking by design
	case SyncData, FullSync:
		if err := tx.mgr.backend.Sync(true); err != nil {
			return err
		}
	}

	freelistHead := meta.NoPgno
	if tx.fl.Len() > 0 {
		firstPgno, err := tx.Alloc()
		if err != nil {
			return err
		}
		var allocErr error
		pages, headPgno, hasHead := tx.fl.Serialize(firstPgno, func() uint64 {
			p, err := tx.Alloc()
			if err != nil && allocErr == nil {
				allocErr = err
			}
			return p
		})
		if allocErr != nil {
			return allocErr
		}
		assert.Assert(hasHead, "txn: non-empty free list serialized with no head")
		for _, p := range pages {
			if err := tx.mgr.backend.WritePage(p.Pgno(), p.Data); err != nil {
				return err
			}
		}
		freelistHead = headPgno
	}
	tx.fl.SetHead(freelistHead, freelistHead != meta.NoPgno)

	newMeta := meta.Meta{
		PageSize:         uint32(tx.mgr.pageSize),
		TxnID:            tx.txnID,
		RootPgno:         tx.rootPgno,
		CatalogRootPgno:  tx.catalogRootPgno,
		FreelistHeadPgno: freelistHead,
		NextPgno:         tx.nextPgno,
		NumDBs:           tx.numDBs,
	}

	otherSlot := meta.Other(int(tx.mgr.activeSlot.Load()))
	metaPage := meta.Encode(newMeta, tx.mgr.pageSize, uint64(otherSlot))
	if err := tx.mgr.backend.WritePage(uint64(otherSlot), metaPage.Data); err != nil {
		return err
	}

	if tx.mgr.durability == FullSync {
		if err := tx.mgr.backend.Sync(false); err != nil {
			return err
		}
	}

	tx.mgr.activeMeta.Store(&newMeta)
	tx.mgr.activeSlot.Store(int32(otherSlot))
	tx.mgr.freelist = tx.fl
	return nil
}

// Abort discards every allocation this transaction made. Pages it wrote
// into the mmap stay physically written but unreferenced; the next
// writer's nextPgno is re-read from the still-active meta, so they are
// silently reused rather than leaked.
func (tx *WriteTxn) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	tx.mgr.writerMu.Unlock()
}

