package freelist_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/freelist"
)

func TestPushAndAllocGatedByOldestReader(t *testing.T) {
	fl := freelist.New(4096)
	fl.Push(10, 5) // freed by txn 5
	fl.Push(11, 7) // freed by txn 7

	// A reader on snapshot 6 started after txn 5 committed, so it never
	// saw page 10's pre-free content; oldest reader txn id 6 means
	// anything freed before 6 is reclaimable.
	pgno, ok := fl.Alloc(6, false)
	require.True(t, ok)
	require.Equal(t, uint64(10), pgno)

	// Page 11 was freed by txn 7, which is not older than the reader at 6.
	_, ok = fl.Alloc(6, false)
	require.False(t, ok)
}

func TestAllocWithNoReadersReclaimsEverything(t *testing.T) {
	fl := freelist.New(4096)
	fl.Push(1, 100)
	fl.Push(2, 200)

	p1, ok := fl.Alloc(0, true)
	require.True(t, ok)
	require.Equal(t, uint64(1), p1)

	p2, ok := fl.Alloc(0, true)
	require.True(t, ok)
	require.Equal(t, uint64(2), p2)

	_, ok = fl.Alloc(0, true)
	require.False(t, ok)
}

func TestSerializeAndLoadRoundtrip(t *testing.T) {
	pageSize := 128 // small, so records span multiple pages
	fl := freelist.New(pageSize)
	for i := uint64(0); i < 40; i++ {
		fl.Push(100+i, i/2)
	}

	nextPgno := uint64(900)
	pages, headPgno, hasHead := fl.Serialize(900, func() uint64 {
		nextPgno++
		return nextPgno
	})
	require.True(t, hasHead)
	require.Equal(t, uint64(900), headPgno)
	require.Greater(t, len(pages), 1, "40 records at this page size should span multiple pages")

	store := map[uint64][]byte{}
	for _, p := range pages {
		store[p.Pgno()] = p.Data
	}
	read := func(pgno uint64) ([]byte, error) { return store[pgno], nil }

	loaded, err := freelist.Load(pageSize, headPgno, hasHead, read)
	require.NoError(t, err)
	require.Equal(t, 40, loaded.Len())
}

func TestCloneIsIndependent(t *testing.T) {
	fl := freelist.New(4096)
	fl.Push(1, 1)
	clone := fl.Clone()
	clone.Push(2, 2)

	require.Equal(t, 1, fl.Len())
	require.Equal(t, 2, clone.Len())
}

func TestEmptyFreeListSerializesToNoHead(t *testing.T) {
	fl := freelist.New(4096)
	pages, _, hasHead := fl.Serialize(1, func() uint64 { return 0 })
	require.False(t, hasHead)
	require.Nil(t, pages)
}

func TestChainPgnosWalksSerializedChain(t *testing.T) {
	pageSize := 128
	fl := freelist.New(pageSize)
	for i := uint64(0); i < 40; i++ {
		fl.Push(100+i, i/2)
	}

	nextPgno := uint64(900)
	pages, headPgno, hasHead := fl.Serialize(900, func() uint64 {
		nextPgno++
		return nextPgno
	})
	require.True(t, hasHead)
	require.Greater(t, len(pages), 1)

	store := map[uint64][]byte{}
	for _, p := range pages {
		store[p.Pgno()] = p.Data
	}
	read := func(pgno uint64) ([]byte, error) { return store[pgno], nil }

	loaded, err := freelist.Load(pageSize, headPgno, hasHead, read)
	require.NoError(t, err)
	loaded.SetHead(headPgno, hasHead)

	chain, err := loaded.ChainPgnos(read)
	require.NoError(t, err)
	require.Len(t, chain, len(pages))
	for _, p := range pages {
		require.Contains(t, chain, p.Pgno())
	}
}

func TestChainPgnosOnEmptyListReturnsNil(t *testing.T) {
	fl := freelist.New(4096)
	chain, err := fl.ChainPgnos(func(uint64) ([]byte, error) {
		t.Fatal("read should not be called when there is no head")
		return nil, nil
	})
	require.NoError(t, err)
	require.Nil(t, chain)
}
