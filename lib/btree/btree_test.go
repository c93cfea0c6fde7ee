package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/fxstore/lib/storage"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) (*Tree, *storage.PageStore, *storage.MemoryStorage) {
	t.Helper()
	mem := storage.NewMemoryStorage(0)
	ps := storage.NewPageStore(mem, 4096, 4<<20, 3*4096)
	return Open(ps, bytes.Compare, 0), ps, mem
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%06d", i))
}

func val(i int) []byte {
	return []byte(fmt.Sprintf("value-%d", i))
}

func requireHealthy(t *testing.T, tr *Tree, want uint64) {
	t.Helper()
	var issues []Issue
	n := tr.Check(Walker{Issue: func(i Issue) { issues = append(issues, i) }})
	require.Empty(t, issues)
	require.Equal(t, want, n)
}

func collect(t *testing.T, tr *Tree, r Range, desc bool) []string {
	t.Helper()
	var out []string
	fn := func(k, _ []byte) bool {
		out = append(out, string(k))
		return true
	}
	var err error
	if desc {
		err = tr.Descend(r, fn)
	} else {
		err = tr.Ascend(r, fn)
	}
	require.NoError(t, err)
	return out
}

func TestEmptyTree(t *testing.T) {
	tr, _, _ := newTestTree(t)
	require.True(t, tr.Empty())

	_, ok, err := tr.Get(key(1))
	require.NoError(t, err)
	require.False(t, ok)

	_, _, ok, err = tr.First()
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = tr.Delete(key(1))
	require.NoError(t, err)
	require.False(t, ok)

	requireHealthy(t, tr, 0)
}

func TestPutGetDelete(t *testing.T) {
	tr, _, _ := newTestTree(t)
	const n = 5000

	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, i := range perm {
		_, replaced, err := tr.Put(key(i), val(i))
		require.NoError(t, err)
		require.False(t, replaced)
	}
	requireHealthy(t, tr, n)

	root, err := tr.readNode(tr.Root())
	require.NoError(t, err)
	require.False(t, root.leaf, "5000 entries must not fit into one leaf")

	for i := 0; i < n; i++ {
		v, ok, err := tr.Get(key(i))
		require.NoError(t, err)
		require.True(t, ok, "key %d missing", i)
		require.Equal(t, val(i), v)
	}

	keys := collect(t, tr, All, false)
	require.Len(t, keys, n)
	for i := 1; i < n; i++ {
		require.Less(t, keys[i-1], keys[i])
	}

	old, replaced, err := tr.Put(key(42), []byte("new"))
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, val(42), old)

	existing, present, err := tr.PutIfAbsent(key(42), []byte("ignored"))
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte("new"), existing)

	_, present, err = tr.PutIfAbsent(key(n), val(n))
	require.NoError(t, err)
	require.False(t, present)
	requireHealthy(t, tr, n+1)

	// delete everything in a different random order
	perm = rand.New(rand.NewSource(2)).Perm(n + 1)
	for j, i := range perm {
		_, ok, err := tr.Delete(key(i))
		require.NoError(t, err)
		require.True(t, ok, "key %d not deleted", i)
		if j%1000 == 0 {
			requireHealthy(t, tr, uint64(n-j))
		}
	}
	require.True(t, tr.Empty())
	requireHealthy(t, tr, 0)
}

func TestNavigation(t *testing.T) {
	tr, _, _ := newTestTree(t)
	// even keys 0, 2, ..., 1998
	for i := 0; i < 2000; i += 2 {
		_, _, err := tr.Put(key(i), val(i))
		require.NoError(t, err)
	}

	check := func(name string, f func([]byte) ([]byte, []byte, bool, error), at, want int) {
		t.Helper()
		k, v, ok, err := f(key(at))
		require.NoError(t, err)
		if want < 0 {
			require.False(t, ok, "%s(%d)", name, at)
			return
		}
		require.True(t, ok, "%s(%d)", name, at)
		require.Equal(t, string(key(want)), string(k), "%s(%d)", name, at)
		require.Equal(t, val(want), v)
	}

	check("Floor", tr.Floor, 11, 10)
	check("Floor", tr.Floor, 10, 10)
	check("Floor", tr.Floor, 5000, 1998)
	check("Ceiling", tr.Ceiling, 11, 12)
	check("Ceiling", tr.Ceiling, 12, 12)
	check("Ceiling", tr.Ceiling, 1999, -1)
	check("Lower", tr.Lower, 10, 8)
	check("Lower", tr.Lower, 0, -1)
	check("Higher", tr.Higher, 10, 12)
	check("Higher", tr.Higher, 1998, -1)

	k, _, ok, err := tr.First()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, key(0), k)

	k, _, ok, err = tr.Last()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, key(1998), k)
}

func TestRanges(t *testing.T) {
	tr, _, _ := newTestTree(t)
	for i := 0; i < 1000; i++ {
		_, _, err := tr.Put(key(i), val(i))
		require.NoError(t, err)
	}

	got := collect(t, tr, Range{Lo: Incl(key(100)), Hi: Excl(key(105))}, false)
	require.Equal(t, []string{"key-000100", "key-000101", "key-000102", "key-000103", "key-000104"}, got)

	got = collect(t, tr, Range{Lo: Excl(key(100)), Hi: Incl(key(103))}, true)
	require.Equal(t, []string{"key-000103", "key-000102", "key-000101"}, got)

	got = collect(t, tr, Range{Hi: Excl(key(2))}, false)
	require.Equal(t, []string{"key-000000", "key-000001"}, got)

	got = collect(t, tr, Range{Lo: Incl(key(998))}, true)
	require.Equal(t, []string{"key-000999", "key-000998"}, got)

	// empty and inverted ranges
	require.Empty(t, collect(t, tr, Range{Lo: Incl(key(5)), Hi: Excl(key(5))}, false))
	require.Empty(t, collect(t, tr, Range{Lo: Incl(key(9)), Hi: Incl(key(3))}, true))

	n, err := tr.CountIn(Range{Lo: Incl(key(500)), Hi: Excl(key(600))})
	require.NoError(t, err)
	require.Equal(t, uint64(100), n)

	// early stop
	count := 0
	require.NoError(t, tr.Ascend(All, func(_, _ []byte) bool {
		count++
		return count < 10
	}))
	require.Equal(t, 10, count)

	r := tr.Intersect(Range{Lo: Incl(key(10)), Hi: Incl(key(50))}, Range{Lo: Excl(key(10)), Hi: Incl(key(60))})
	require.False(t, r.Lo.Inclusive)
	require.Equal(t, key(50), r.Hi.Key)
	require.True(t, tr.Contains(r, key(11)))
	require.False(t, tr.Contains(r, key(10)))
	require.False(t, tr.Contains(r, key(51)))
}

func TestCopyOnWriteKeepsOldRoots(t *testing.T) {
	tr, ps, _ := newTestTree(t)
	for i := 0; i < 500; i++ {
		_, _, err := tr.Put(key(i), val(i))
		require.NoError(t, err)
	}
	snapshot := Open(ps, bytes.Compare, tr.Root())

	for i := 0; i < 500; i += 2 {
		_, _, err := tr.Delete(key(i))
		require.NoError(t, err)
	}
	_, _, err := tr.Put(key(1), []byte("changed"))
	require.NoError(t, err)

	// the old root still sees every original entry
	requireHealthy(t, snapshot, 500)
	v, ok, err := snapshot.Get(key(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, val(1), v)
	_, ok, err = snapshot.Get(key(0))
	require.NoError(t, err)
	require.True(t, ok)

	requireHealthy(t, tr, 250)
	v, _, err = tr.Get(key(1))
	require.NoError(t, err)
	require.Equal(t, []byte("changed"), v)

	tr.Clear()
	require.True(t, tr.Empty())
	requireHealthy(t, snapshot, 500)
}

func TestOutOfLineKeysAndValues(t *testing.T) {
	tr, _, _ := newTestTree(t)
	bigKey := func(i int) []byte {
		return append(bytes.Repeat([]byte{'k'}, 2000), key(i)...)
	}
	bigVal := bytes.Repeat([]byte{'v'}, 10000)

	for i := 0; i < 50; i++ {
		_, _, err := tr.Put(bigKey(i), bigVal)
		require.NoError(t, err)
		_, _, err = tr.Put(key(i), bigVal[:600])
		require.NoError(t, err)
	}

	records := 0
	var issues []Issue
	n := tr.Check(Walker{
		Record: func(uint64, int) { records++ },
		Issue:  func(i Issue) { issues = append(issues, i) },
	})
	require.Empty(t, issues)
	require.Equal(t, uint64(100), n)
	require.Positive(t, records)

	v, ok, err := tr.Get(bigKey(7))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bigVal, v)

	old, ok, err := tr.Delete(bigKey(7))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bigVal, old)
	requireHealthy(t, tr, 99)
}

func TestCheckReportsCorruptPage(t *testing.T) {
	tr, ps, mem := newTestTree(t)
	for i := 0; i < 1000; i++ {
		_, _, err := tr.Put(key(i), val(i))
		require.NoError(t, err)
	}

	// damage the leftmost child of the root
	root, err := tr.readNode(tr.Root())
	require.NoError(t, err)
	require.False(t, root.leaf)
	victim := root.children[0]
	require.NoError(t, mem.WriteAt([]byte{0xde, 0xad}, int64(victim)*4096+200))
	ps.Cache().Clear()

	var issues []Issue
	n := tr.Check(Walker{Issue: func(i Issue) { issues = append(issues, i) }})
	require.NotEmpty(t, issues)
	require.Equal(t, IssuePage, issues[0].Kind)
	require.Equal(t, victim, issues[0].PageID)
	require.Less(t, n, uint64(1000))

	_, _, err = tr.Get(key(0))
	require.Error(t, err)
}
