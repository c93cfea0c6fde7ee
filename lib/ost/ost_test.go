package ost

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/ValentinKolb/fxstore/lib/storage"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) (*Tree, *storage.PageStore) {
	t.Helper()
	ps := storage.NewPageStore(storage.NewMemoryStorage(0), 4096, 4<<20, 3*4096)
	return Open(ps, 0), ps
}

func v(i int) []byte {
	return []byte(fmt.Sprintf("v%d", i))
}

func requireMatches(t *testing.T, tr *Tree, want [][]byte) {
	t.Helper()
	var issues []Issue
	n := tr.Check(Walker{Issue: func(i Issue) { issues = append(issues, i) }})
	require.Empty(t, issues)
	require.Equal(t, uint64(len(want)), n)

	size, err := tr.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(len(want)), size)

	var got [][]byte
	require.NoError(t, tr.Ascend(0, func(i uint64, val []byte) bool {
		require.Equal(t, uint64(len(got)), i)
		got = append(got, append([]byte(nil), val...))
		return true
	}))
	if len(want) == 0 {
		require.Empty(t, got)
		return
	}
	require.Equal(t, want, got)
}

func TestEmpty(t *testing.T) {
	tr, _ := newTestTree(t)
	size, err := tr.Size()
	require.NoError(t, err)
	require.Zero(t, size)

	_, err = tr.Get(0)
	require.True(t, errors.Is(err, store.ErrInvalidArgument))
	_, err = tr.Remove(0)
	require.True(t, errors.Is(err, store.ErrInvalidArgument))
	require.True(t, errors.Is(tr.Insert(1, v(1)), store.ErrInvalidArgument))
	require.NoError(t, tr.Descend(10, func(uint64, []byte) bool { return true }))
}

func TestAppendAndGet(t *testing.T) {
	tr, _ := newTestTree(t)
	var want [][]byte
	for i := 0; i < 3000; i++ {
		require.NoError(t, tr.Insert(uint64(i), v(i)))
		want = append(want, v(i))
	}
	requireMatches(t, tr, want)

	for _, i := range []int{0, 1, 1499, 2999} {
		got, err := tr.Get(uint64(i))
		require.NoError(t, err)
		require.Equal(t, v(i), got)
	}
	_, err := tr.Get(3000)
	require.True(t, errors.Is(err, store.ErrInvalidArgument))
}

func TestRandomOperationsDeepTree(t *testing.T) {
	tr, _ := newTestTree(t)
	// tiny fanout forces many levels from few elements
	tr.SetFanout(4, 4)

	rnd := rand.New(rand.NewSource(7))
	var model [][]byte
	for step := 0; step < 4000; step++ {
		switch op := rnd.Intn(10); {
		case op < 5 || len(model) == 0:
			idx := rnd.Intn(len(model) + 1)
			val := v(step)
			require.NoError(t, tr.Insert(uint64(idx), val))
			model = slices.Insert(model, idx, val)
		case op < 8:
			idx := rnd.Intn(len(model))
			old, err := tr.Remove(uint64(idx))
			require.NoError(t, err)
			require.Equal(t, model[idx], old)
			model = slices.Delete(model, idx, idx+1)
		default:
			idx := rnd.Intn(len(model))
			val := v(-step)
			old, err := tr.Set(uint64(idx), val)
			require.NoError(t, err)
			require.Equal(t, model[idx], old)
			model[idx] = val
		}
		if step%500 == 0 {
			requireMatches(t, tr, model)
		}
	}
	requireMatches(t, tr, model)

	levels := 0
	tr.Check(Walker{Page: func(p PageInfo) { levels = max(levels, int(p.Level)+1) }})
	require.GreaterOrEqual(t, levels, 4)

	for len(model) > 0 {
		_, err := tr.Remove(0)
		require.NoError(t, err)
		model = model[1:]
	}
	require.True(t, tr.Empty())
	requireMatches(t, tr, nil)
}

func TestDequeEnds(t *testing.T) {
	tr, _ := newTestTree(t)
	tr.SetFanout(3, 3)

	for i := 0; i < 100; i++ {
		size, _ := tr.Size()
		require.NoError(t, tr.Insert(size, v(i)))
		require.NoError(t, tr.Insert(0, v(-i)))
	}
	first, err := tr.Get(0)
	require.NoError(t, err)
	require.Equal(t, v(-99), first)

	size, _ := tr.Size()
	last, err := tr.Get(size - 1)
	require.NoError(t, err)
	require.Equal(t, v(99), last)

	old, err := tr.Remove(size - 1)
	require.NoError(t, err)
	require.Equal(t, v(99), old)
	old, err = tr.Remove(0)
	require.NoError(t, err)
	require.Equal(t, v(-99), old)
}

func TestAscendDescendFrom(t *testing.T) {
	tr, _ := newTestTree(t)
	tr.SetFanout(4, 4)
	for i := 0; i < 200; i++ {
		require.NoError(t, tr.Insert(uint64(i), v(i)))
	}

	var idx []uint64
	require.NoError(t, tr.Ascend(195, func(i uint64, val []byte) bool {
		require.Equal(t, v(int(i)), val)
		idx = append(idx, i)
		return true
	}))
	require.Equal(t, []uint64{195, 196, 197, 198, 199}, idx)

	idx = nil
	require.NoError(t, tr.Descend(57, func(i uint64, val []byte) bool {
		require.Equal(t, v(int(i)), val)
		idx = append(idx, i)
		return len(idx) < 5
	}))
	require.Equal(t, []uint64{57, 56, 55, 54, 53}, idx)

	idx = nil
	require.NoError(t, tr.Descend(1000, func(i uint64, _ []byte) bool {
		idx = append(idx, i)
		return true
	}))
	require.Len(t, idx, 200)
	require.Equal(t, uint64(199), idx[0])
	require.Equal(t, uint64(0), idx[199])
}

func TestCopyOnWrite(t *testing.T) {
	tr, ps := newTestTree(t)
	tr.SetFanout(4, 4)
	var want [][]byte
	for i := 0; i < 100; i++ {
		require.NoError(t, tr.Insert(uint64(i), v(i)))
		want = append(want, v(i))
	}
	old := Open(ps, tr.Root())

	for i := 0; i < 50; i++ {
		_, err := tr.Remove(0)
		require.NoError(t, err)
	}
	_, err := tr.Set(0, []byte("changed"))
	require.NoError(t, err)

	requireMatches(t, old, want)
	size, _ := tr.Size()
	require.Equal(t, uint64(50), size)
}

func TestLargeValues(t *testing.T) {
	tr, _ := newTestTree(t)
	big := bytes.Repeat([]byte{'x'}, 5000)
	var want [][]byte
	for i := 0; i < 20; i++ {
		val := append(append([]byte(nil), big...), v(i)...)
		require.NoError(t, tr.Insert(uint64(i), val))
		want = append(want, val)
	}

	records := 0
	tr.Check(Walker{Record: func(uint64, int) { records++ }})
	require.Equal(t, 20, records)
	requireMatches(t, tr, want)

	old, err := tr.Set(3, []byte("small"))
	require.NoError(t, err)
	require.Equal(t, want[3], old)
}
