package meta_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/meta"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	m := meta.Meta{
		PageSize:         4096,
		TxnID:            7,
		RootPgno:         2,
		CatalogRootPgno:  3,
		FreelistHeadPgno: meta.NoPgno,
		NextPgno:         4,
		NumDBs:           0,
	}
	p := meta.Encode(m, 4096, meta.MetaPage0)

	decoded, ok := meta.Decode(p.Data)
	require.True(t, ok)
	require.Equal(t, m, decoded)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	p := meta.Encode(meta.Meta{PageSize: 4096, TxnID: 1}, 4096, meta.MetaPage0)
	p.Data[32] ^= 0xFF // corrupt the magic field within the content area
	_, ok := meta.Decode(p.Data)
	require.False(t, ok)
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	p := meta.Encode(meta.Meta{PageSize: 4096, TxnID: 1}, 4096, meta.MetaPage0)
	p.Data[44] ^= 0xFF // corrupt the txn id field, which only the checksum guards
	_, ok := meta.Decode(p.Data)
	require.False(t, ok)
}

func TestFreshPicksHigherTxnID(t *testing.T) {
	m0 := meta.Encode(meta.Meta{PageSize: 4096, TxnID: 5}, 4096, meta.MetaPage0)
	m1 := meta.Encode(meta.Meta{PageSize: 4096, TxnID: 6}, 4096, meta.MetaPage1)

	current, slot, ok := meta.Fresh(m0.Data, m1.Data)
	require.True(t, ok)
	require.Equal(t, 1, slot)
	require.Equal(t, uint64(6), current.TxnID)
}

func TestFreshBreaksTiesTowardSlot0(t *testing.T) {
	m0 := meta.Encode(meta.Meta{PageSize: 4096, TxnID: 9}, 4096, meta.MetaPage0)
	m1 := meta.Encode(meta.Meta{PageSize: 4096, TxnID: 9}, 4096, meta.MetaPage1)

	_, slot, ok := meta.Fresh(m0.Data, m1.Data)
	require.True(t, ok)
	require.Equal(t, 0, slot)
}

func TestFreshFallsBackToTheOtherSlotWhenOneIsInvalid(t *testing.T) {
	m0 := meta.Encode(meta.Meta{PageSize: 4096, TxnID: 3}, 4096, meta.MetaPage0)
	garbage := make([]byte, 4096)

	current, slot, ok := meta.Fresh(m0.Data, garbage)
	require.True(t, ok)
	require.Equal(t, 0, slot)
	require.Equal(t, uint64(3), current.TxnID)
}

func TestFreshFailsWhenBothSlotsAreInvalid(t *testing.T) {
	_, _, ok := meta.Fresh(make([]byte, 4096), make([]byte, 4096))
	require.False(t, ok)
}

func TestOtherAlternates(t *testing.T) {
	require.Equal(t, 1, meta.Other(0))
	require.Equal(t, 0, meta.Other(1))
}
