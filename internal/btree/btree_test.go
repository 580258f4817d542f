package btree_test

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/btree"
	"coredb/internal/page"
)

// fakeStore is the differential-testing harness's backing store: a plain
// map keyed by page number, standing in for a real pageio.Backend.
type fakeStore struct {
	pages    map[uint64][]byte
	next     uint64
	freed    []uint64
	pageSize int
}

func newFakeStore(pageSize int) *fakeStore {
	return &fakeStore{pages: map[uint64][]byte{}, next: 1, pageSize: pageSize}
}

func (s *fakeStore) ReadPage(pgno uint64) ([]byte, error) {
	buf, ok := s.pages[pgno]
	if !ok {
		return nil, fmt.Errorf("fakeStore: page %d not found", pgno)
	}
	return buf, nil
}

func (s *fakeStore) WritePage(pgno uint64, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.pages[pgno] = cp
	return nil
}

func (s *fakeStore) Alloc() (uint64, error) {
	if len(s.freed) > 0 {
		pgno := s.freed[0]
		s.freed = s.freed[1:]
		return pgno, nil
	}
	pgno := s.next
	s.next++
	return pgno, nil
}

func (s *fakeStore) Free(pgno uint64) {
	delete(s.pages, pgno)
	s.freed = append(s.freed, pgno)
}

// model wraps a fakeStore with a reference map, checking every mutation
// against a plain Go map kept in lockstep.
type model struct {
	t        *testing.T
	store    *fakeStore
	root     uint64
	ref      map[string]string
	pageSize int
}

func newModel(t *testing.T, pageSize int) *model {
	store := newFakeStore(pageSize)
	root := page.New(pageSize, page.FlagLeaf)
	pgno, err := store.Alloc()
	require.NoError(t, err)
	root.SetPgno(pgno)
	root.Seal()
	require.NoError(t, store.WritePage(pgno, root.Data))
	return &model{t: t, store: store, root: pgno, ref: map[string]string{}, pageSize: pageSize}
}

func (m *model) put(key, val string) {
	newRoot, err := btree.Insert(m.store, m.root, []byte(key), []byte(val), m.pageSize)
	require.NoError(m.t, err)
	m.root = newRoot
	m.ref[key] = val
}

func (m *model) del(key string) bool {
	newRoot, found, err := btree.Delete(m.store, m.root, []byte(key), m.pageSize)
	require.NoError(m.t, err)
	m.root = newRoot
	if found {
		delete(m.ref, key)
	}
	return found
}

func (m *model) get(key string) (string, bool) {
	val, found, err := btree.Get(m.store, m.root, []byte(key), m.pageSize)
	require.NoError(m.t, err)
	if !found {
		return "", false
	}
	return string(val), true
}

func (m *model) checkAll() {
	for k, v := range m.ref {
		got, found := m.get(k)
		require.True(m.t, found, "key %q should be present", k)
		require.Equal(m.t, v, got)
	}
}

func (m *model) sortedKeys() []string {
	out := make([]string, 0, len(m.ref))
	for k := range m.ref {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestInsertAndGet(t *testing.T) {
	m := newModel(t, 4096)
	for i := 0; i < 500; i++ {
		m.put(fmt.Sprintf("key-%04d", i), fmt.Sprintf("value-%d", i))
	}
	m.checkAll()
}

func TestInsertOverwrite(t *testing.T) {
	m := newModel(t, 4096)
	m.put("a", "1")
	m.put("a", "2")
	got, found := m.get("a")
	require.True(t, found)
	require.Equal(t, "2", got)
}

func TestInsertForcesSplit(t *testing.T) {
	m := newModel(t, 256) // small page forces splits quickly
	for i := 0; i < 200; i++ {
		m.put(fmt.Sprintf("k%05d", i), fmt.Sprintf("v%05d-payload", i))
	}
	m.checkAll()
}

func TestDeleteRemovesKey(t *testing.T) {
	m := newModel(t, 4096)
	for i := 0; i < 100; i++ {
		m.put(fmt.Sprintf("key-%03d", i), "v")
	}
	for i := 0; i < 100; i += 2 {
		require.True(t, m.del(fmt.Sprintf("key-%03d", i)))
	}
	for i := 0; i < 100; i++ {
		_, found := m.get(fmt.Sprintf("key-%03d", i))
		require.Equal(t, i%2 != 0, found)
	}
}

func TestDeleteAbsentKeyNotFound(t *testing.T) {
	m := newModel(t, 4096)
	m.put("a", "1")
	require.False(t, m.del("nope"))
	got, found := m.get("a")
	require.True(t, found)
	require.Equal(t, "1", got)
}

func TestDeleteToleratesUnderflowAcrossManyRemovals(t *testing.T) {
	m := newModel(t, 256)
	for i := 0; i < 300; i++ {
		m.put(fmt.Sprintf("k%05d", i), "value")
	}
	for i := 0; i < 300; i++ {
		require.True(t, m.del(fmt.Sprintf("k%05d", i)))
	}
	for i := 0; i < 300; i++ {
		_, found := m.get(fmt.Sprintf("k%05d", i))
		require.False(t, found)
	}
}

func TestOverflowValueRoundtrips(t *testing.T) {
	pageSize := 512
	m := newModel(t, pageSize)
	big := make([]byte, pageSize) // well beyond PageSize/4
	for i := range big {
		big[i] = byte(i % 251)
	}
	m.put("bigkey", string(big))
	got, found := m.get("bigkey")
	require.True(t, found)
	require.Equal(t, string(big), got)
}

func TestOverflowValueFreedOnDelete(t *testing.T) {
	pageSize := 512
	m := newModel(t, pageSize)
	big := make([]byte, pageSize*3)
	m.put("bigkey", string(big))
	before := len(m.store.pages)
	require.True(t, m.del("bigkey"))
	after := len(m.store.pages)
	require.Less(t, after, before, "deleting an overflow value should free its chain pages")
}

func TestCursorForwardMatchesSortedOrder(t *testing.T) {
	m := newModel(t, 512)
	for i := 0; i < 150; i++ {
		m.put(fmt.Sprintf("k%05d", i*7%150), fmt.Sprintf("v%d", i))
	}
	want := m.sortedKeys()

	c := btree.NewCursor(m.store, m.root, m.pageSize)
	require.NoError(t, c.First())
	var got []string
	for c.Valid() {
		got = append(got, string(c.Key()))
		require.NoError(t, c.Next())
	}
	require.Equal(t, want, got)
}

func TestCursorBackwardMatchesSortedOrder(t *testing.T) {
	m := newModel(t, 512)
	for i := 0; i < 150; i++ {
		m.put(fmt.Sprintf("k%05d", i*11%150), fmt.Sprintf("v%d", i))
	}
	want := m.sortedKeys()
	sort.Sort(sort.Reverse(sort.StringSlice(want)))

	c := btree.NewCursor(m.store, m.root, m.pageSize)
	require.NoError(t, c.Last())
	var got []string
	for c.Valid() {
		got = append(got, string(c.Key()))
		require.NoError(t, c.Prev())
	}
	require.Equal(t, want, got)
}

func TestCursorSeek(t *testing.T) {
	m := newModel(t, 512)
	for i := 0; i < 50; i++ {
		m.put(fmt.Sprintf("k%05d", i*2), "v")
	}
	c := btree.NewCursor(m.store, m.root, m.pageSize)
	require.NoError(t, c.Seek([]byte("k00015"))) // between k00014 and k00016
	require.True(t, c.Valid())
	require.Equal(t, "k00016", string(c.Key()))
}

func TestCursorOnEmptyTree(t *testing.T) {
	m := newModel(t, 4096)
	c := btree.NewCursor(m.store, m.root, m.pageSize)
	require.NoError(t, c.First())
	require.False(t, c.Valid())
}

func TestRandomizedInsertDeleteAgainstReference(t *testing.T) {
	m := newModel(t, 512)
	keys := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%04d", i)
		keys = append(keys, k)
		m.put(k, fmt.Sprintf("val-%d", i))
	}
	// delete every third key, reinsert every fifth with a new value.
	for i, k := range keys {
		if i%3 == 0 {
			require.True(t, m.del(k))
		}
	}
	for i, k := range keys {
		if i%5 == 0 {
			m.put(k, "updated")
		}
	}
	m.checkAll()
	for i, k := range keys {
		if i%3 == 0 && i%5 != 0 {
			_, found := m.get(k)
			require.False(t, found, "key %q should have stayed deleted", k)
		}
	}
}
