package txn_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/page"
	"coredb/internal/pageio"
	"coredb/internal/txn"
)

func openManager(t *testing.T) (*txn.Manager, *pageio.Backend) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	backend, err := pageio.Open(path, 4096, 1<<20, 0o600, false)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	mgr, err := txn.Open(backend, 4096, 1<<20, 8, 1<<10, txn.FullSync)
	require.NoError(t, err)
	return mgr, backend
}

func TestFreshDatabaseHasEmptyRoots(t *testing.T) {
	mgr, _ := openManager(t)
	snap := mgr.Snapshot()
	require.Equal(t, uint64(1), snap.TxnID)
	require.NotEqual(t, snap.RootPgno, snap.CatalogRootPgno)
}

func TestWriteCommitAdvancesTxnID(t *testing.T) {
	mgr, _ := openManager(t)
	before := mgr.Snapshot().TxnID

	wtx := mgr.BeginWrite()
	pgno, err := wtx.Alloc()
	require.NoError(t, err)
	p := page.New(4096, page.FlagLeaf)
	p.SetPgno(pgno)
	page.AppendLeaf(p, 0, []byte("k"), []byte("v"))
	p.Seal()
	require.NoError(t, wtx.WritePage(pgno, p.Data))
	wtx.SetRootPgno(pgno)
	require.NoError(t, wtx.Commit())

	after := mgr.Snapshot().TxnID
	require.Equal(t, before+1, after)
}

func TestAbortDoesNotAdvanceTxnID(t *testing.T) {
	mgr, _ := openManager(t)
	before := mgr.Snapshot().TxnID

	wtx := mgr.BeginWrite()
	_, err := wtx.Alloc()
	require.NoError(t, err)
	wtx.Abort()

	require.Equal(t, before, mgr.Snapshot().TxnID)
}

func TestBeginWriteBlocksUntilPriorWriterFinishes(t *testing.T) {
	mgr, _ := openManager(t)
	wtx := mgr.BeginWrite()

	done := make(chan struct{})
	go func() {
		second := mgr.BeginWrite()
		second.Abort()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second BeginWrite should have blocked while the first writer is active")
	default:
	}

	wtx.Abort()
	<-done
}

func TestReaderSnapshotIsStableAcrossACommit(t *testing.T) {
	mgr, _ := openManager(t)
	rtx, err := mgr.BeginRead()
	require.NoError(t, err)
	defer rtx.Close()

	originalRoot := rtx.RootPgno()

	wtx := mgr.BeginWrite()
	pgno, err := wtx.Alloc()
	require.NoError(t, err)
	p := page.New(4096, page.FlagLeaf)
	p.SetPgno(pgno)
	p.Seal()
	require.NoError(t, wtx.WritePage(pgno, p.Data))
	wtx.SetRootPgno(pgno)
	require.NoError(t, wtx.Commit())

	require.Equal(t, originalRoot, rtx.RootPgno(), "a live reader's snapshot must not observe a later commit")
	require.NotEqual(t, originalRoot, mgr.Snapshot().RootPgno)
}

func TestReaderTableExhaustionReturnsReadersFullError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	backend, err := pageio.Open(path, 4096, 1<<20, 0o600, false)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	mgr, err := txn.Open(backend, 4096, 1<<20, 1, 1<<10, txn.FullSync)
	require.NoError(t, err)

	rtx, err := mgr.BeginRead()
	require.NoError(t, err)
	defer rtx.Close()

	_, err = mgr.BeginRead()
	require.Error(t, err)
	require.IsType(t, &txn.ReadersFullError{}, err)
}

func TestTxnFullErrorOnExcessiveAllocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	backend, err := pageio.Open(path, 4096, 1<<20, 0o600, false)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	mgr, err := txn.Open(backend, 4096, 1<<20, 8, 2, txn.FullSync)
	require.NoError(t, err)

	wtx := mgr.BeginWrite()
	defer wtx.Abort()
	_, err = wtx.Alloc()
	require.NoError(t, err)
	_, err = wtx.Alloc()
	require.NoError(t, err)
	_, err = wtx.Alloc()
	require.Error(t, err)
	require.IsType(t, &txn.TxnFullError{}, err)
}

func TestReopenRecoversLastCommittedMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	backend, err := pageio.Open(path, 4096, 1<<20, 0o600, false)
	require.NoError(t, err)
	mgr, err := txn.Open(backend, 4096, 1<<20, 8, 1<<10, txn.FullSync)
	require.NoError(t, err)

	wtx := mgr.BeginWrite()
	pgno, err := wtx.Alloc()
	require.NoError(t, err)
	p := page.New(4096, page.FlagLeaf)
	p.SetPgno(pgno)
	p.Seal()
	require.NoError(t, wtx.WritePage(pgno, p.Data))
	wtx.SetRootPgno(pgno)
	require.NoError(t, wtx.Commit())
	committedRoot := mgr.Snapshot().RootPgno
	require.NoError(t, backend.Close())

	backend2, err := pageio.Open(path, 4096, 1<<20, 0o600, false)
	require.NoError(t, err)
	defer backend2.Close()
	mgr2, err := txn.Open(backend2, 4096, 1<<20, 8, 1<<10, txn.FullSync)
	require.NoError(t, err)

	require.Equal(t, committedRoot, mgr2.Snapshot().RootPgno)
}
