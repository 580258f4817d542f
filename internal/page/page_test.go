package page_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/page"
)

func TestLeafAppendAndRead(t *testing.T) {
	p := page.New(4096, page.FlagLeaf)
	page.AppendLeaf(p, 0, []byte("alpha"), []byte("1"))
	page.AppendLeaf(p, 1, []byte("beta"), []byte("2"))
	p.Seal()

	require.Equal(t, uint16(2), p.NKeys())
	require.Equal(t, []byte("alpha"), p.GetKey(0))
	require.Equal(t, []byte("1"), p.GetVal(0))
	require.Equal(t, []byte("beta"), p.GetKey(1))
	require.Equal(t, []byte("2"), p.GetVal(1))
	require.True(t, p.VerifyChecksum())
}

func TestChecksumDetectsCorruption(t *testing.T) {
	p := page.New(4096, page.FlagLeaf)
	page.AppendLeaf(p, 0, []byte("k"), []byte("v"))
	p.Seal()
	require.True(t, p.VerifyChecksum())

	p.Data[page.HeaderSize] ^= 0xFF
	require.False(t, p.VerifyChecksum())
}

func TestBranchChildPgno(t *testing.T) {
	p := page.New(4096, page.FlagBranch)
	page.AppendBranch(p, 0, []byte(""), 10)
	page.AppendBranch(p, 1, []byte("m"), 20)
	p.Seal()

	require.Equal(t, uint64(10), p.GetChildPgno(0))
	require.Equal(t, uint64(20), p.GetChildPgno(1))
}

func TestLookupLEAndFind(t *testing.T) {
	p := page.New(4096, page.FlagLeaf)
	keys := []string{"a", "c", "e", "g"}
	for i, k := range keys {
		page.AppendLeaf(p, uint16(i), []byte(k), []byte("v"))
	}
	p.Seal()

	require.Equal(t, 1, page.LookupLE(p, []byte("d"), page.DefaultCompare))
	require.Equal(t, -1, page.LookupLE(p, []byte("0"), page.DefaultCompare))
	require.Equal(t, 3, page.LookupLE(p, []byte("z"), page.DefaultCompare))

	found, idx := page.Find(p, []byte("e"), page.DefaultCompare)
	require.True(t, found)
	require.Equal(t, uint16(2), idx)

	found, _ = page.Find(p, []byte("f"), page.DefaultCompare)
	require.False(t, found)
}

func TestHasRoomForRespectsFillTarget(t *testing.T) {
	p := page.New(128, page.FlagLeaf)
	require.True(t, p.HasRoomFor(4, 4))
	// A value that would blow well past the page shouldn't fit.
	require.False(t, p.HasRoomFor(4, 1000))
}

func TestOverflowDescriptorRoundtrip(t *testing.T) {
	p := page.New(4096, page.FlagLeaf)
	page.AppendLeafOverflow(p, 0, []byte("k"), 42, 12345)
	p.Seal()

	require.True(t, p.IsOverflowEntry(0))
	first, size := p.OverflowDescriptor(0)
	require.Equal(t, uint64(42), first)
	require.Equal(t, uint64(12345), size)
}

func TestFillTargetTapers(t *testing.T) {
	require.InDelta(t, 0.95, page.FillTarget(0), 0.001)
	require.InDelta(t, 0.85, page.FillTarget(32), 0.001)
	require.InDelta(t, 0.85, page.FillTarget(1000), 0.001)
	require.Less(t, page.FillTarget(16), page.FillTarget(0))
}

func TestDefaultCompareOrdering(t *testing.T) {
	require.Less(t, page.DefaultCompare([]byte("a"), []byte("b")), 0)
	require.Greater(t, page.DefaultCompare([]byte("b"), []byte("a")), 0)
	require.Equal(t, 0, page.DefaultCompare([]byte("a"), []byte("a")))
	require.Less(t, page.DefaultCompare([]byte(""), []byte("a")), 0)
	require.Less(t, page.DefaultCompare([]byte("ab"), []byte("b")), 0)
}
