package testing

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/store/fxstore"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a new, empty store in AUTO commit mode. The factory
// is responsible for closing the store when the test ends.
type StoreFactory func(t *testing.T) *fxstore.Store

// RunStoreTests runs the conformance suite against stores created by
// factory.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("CollectionLifecycle", func(t *testing.T) {
			testCollectionLifecycle(t, factory(t))
		})

		t.Run("MapOperations", func(t *testing.T) {
			testMapOperations(t, factory(t))
		})

		t.Run("MapNavigation", func(t *testing.T) {
			testMapNavigation(t, factory(t))
		})

		t.Run("MapViews", func(t *testing.T) {
			testMapViews(t, factory(t))
		})

		t.Run("SetOperations", func(t *testing.T) {
			testSetOperations(t, factory(t))
		})

		t.Run("ListOperations", func(t *testing.T) {
			testListOperations(t, factory(t))
		})

		t.Run("LargeList", func(t *testing.T) {
			testLargeList(t, factory(t))
		})

		t.Run("SizeAndEndsReadFewPages", func(t *testing.T) {
			testSizeAndEnds(t, factory(t))
		})

		t.Run("DequeOperations", func(t *testing.T) {
			testDequeOperations(t, factory(t))
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, factory(t))
		})

		t.Run("ReadTxLifecycle", func(t *testing.T) {
			testReadTxLifecycle(t, factory)
		})

		t.Run("ConcurrentPoll", func(t *testing.T) {
			testConcurrentPoll(t, factory(t))
		})

		t.Run("ConcurrentCreateOrOpen", func(t *testing.T) {
			testConcurrentCreateOrOpen(t, factory(t))
		})

		t.Run("ConcurrentPut", func(t *testing.T) {
			testConcurrentPut(t, factory(t))
		})

		t.Run("Verify", func(t *testing.T) {
			testVerify(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func requireCode(t testing.TB, err error, target *store.Error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, target), "expected %s, got %v", target.Code, err)
}

func mapKeys[K, V any](t testing.TB, m *fxstore.Map[K, V]) []K {
	t.Helper()
	var keys []K
	require.NoError(t, m.Ascend(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	}))
	return keys
}

func setElements[K any](t testing.TB, s *fxstore.Set[K]) []K {
	t.Helper()
	var out []K
	require.NoError(t, s.Ascend(func(k K) bool {
		out = append(out, k)
		return true
	}))
	return out
}

func requireSize(t testing.TB, want uint64, size func() (uint64, error)) {
	t.Helper()
	got, err := size()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCollectionLifecycle(t *testing.T, s *fxstore.Store) {
	m, err := fxstore.CreateMap[string, int64](s, "users")
	require.NoError(t, err)

	_, err = fxstore.CreateMap[string, int64](s, "users")
	requireCode(t, err, store.ErrAlreadyExists)
	_, err = fxstore.OpenMap[string, int64](s, "nope")
	requireCode(t, err, store.ErrNotFound)

	// kind and codec ids must match what is stored
	_, err = fxstore.OpenSet[string](s, "users")
	requireCode(t, err, store.ErrTypeMismatch)
	_, err = fxstore.OpenMap[string, int32](s, "users")
	requireCode(t, err, store.ErrTypeMismatch)
	_, err = fxstore.OpenMap[int64, int64](s, "users")
	requireCode(t, err, store.ErrTypeMismatch)

	same, err := fxstore.OpenMap[string, int64](s, "users")
	require.NoError(t, err)
	require.Same(t, m, same)

	_, _, err = m.Put("alice", 1)
	require.NoError(t, err)

	// rename keeps the id and the handle working
	require.NoError(t, s.Rename("users", "people"))
	ok, err := s.Exists("users")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.Exists("people")
	require.NoError(t, err)
	require.True(t, ok)
	v, ok, err := m.Get("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), v)

	_, err = fxstore.CreateSet[string](s, "other")
	require.NoError(t, err)
	requireCode(t, s.Rename("people", "other"), store.ErrAlreadyExists)
	requireCode(t, s.Rename("missing", "x"), store.ErrNotFound)

	infos, err := s.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "other", infos[0].Name)
	require.Equal(t, store.KindSet, infos[0].Kind)
	require.Equal(t, "people", infos[1].Name)
	require.Equal(t, store.KindMap, infos[1].Kind)
	require.Equal(t, m.ID(), infos[1].ID)
	require.Equal(t, codec.IDString, infos[1].KeyCodec)
	require.Equal(t, codec.IDInt64, infos[1].ValueCodec)
	require.Equal(t, uint64(1), infos[1].Count)

	// drop is idempotent and invalidates handles
	dropped, err := s.Drop("people")
	require.NoError(t, err)
	require.True(t, dropped)
	dropped, err = s.Drop("people")
	require.NoError(t, err)
	require.False(t, dropped)
	_, _, err = m.Get("alice")
	requireCode(t, err, store.ErrNotFound)

	again, err := fxstore.CreateMap[string, int64](s, "people")
	require.NoError(t, err)
	require.NotEqual(t, m.ID(), again.ID())
	requireSize(t, 0, again.Size)

	// names
	_, err = fxstore.CreateMap[string, int64](s, "")
	requireCode(t, err, store.ErrInvalidArgument)
	_, err = fxstore.CreateMap[string, int64](s, strings.Repeat("x", store.MaxNameLength+1))
	requireCode(t, err, store.ErrInvalidArgument)
	_, err = fxstore.CreateMap[string, int64](s, strings.Repeat("x", store.MaxNameLength))
	require.NoError(t, err)
	// the limit counts UTF-16 units, not bytes
	_, err = fxstore.CreateMap[string, int64](s, strings.Repeat("가", store.MaxNameLength))
	require.NoError(t, err)
	_, err = fxstore.CreateMap[string, int64](s, strings.Repeat("😀", store.MaxNameLength/2+1))
	requireCode(t, err, store.ErrInvalidArgument)

	// unregistered types
	type point struct{ X, Y int }
	_, err = fxstore.CreateList[point](s, "points")
	requireCode(t, err, store.ErrCodecNotFound)
}

func testMapOperations(t *testing.T, s *fxstore.Store) {
	m, err := fxstore.CreateMap[int64, string](s, "m")
	require.NoError(t, err)

	_, replaced, err := m.Put(1, "one")
	require.NoError(t, err)
	require.False(t, replaced)

	old, replaced, err := m.Put(1, "uno")
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, "one", old)

	existing, present, err := m.PutIfAbsent(1, "ignored")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, "uno", existing)

	_, present, err = m.PutIfAbsent(2, "two")
	require.NoError(t, err)
	require.False(t, present)
	requireSize(t, 2, m.Size)

	v, ok, err := m.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "two", v)

	ok, err = m.ContainsKey(3)
	require.NoError(t, err)
	require.False(t, ok)

	old, ok, err = m.Remove(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "uno", old)
	_, ok, err = m.Remove(1)
	require.NoError(t, err)
	require.False(t, ok)
	requireSize(t, 1, m.Size)

	// large values are stored out of line
	big := strings.Repeat("v", 50_000)
	_, _, err = m.Put(3, big)
	require.NoError(t, err)
	v, _, err = m.Get(3)
	require.NoError(t, err)
	require.Equal(t, big, v)

	_, _, err = m.Put(4, strings.Repeat("x", store.MaxKVSize+1))
	requireCode(t, err, store.ErrInvalidArgument)

	require.NoError(t, m.Clear())
	requireSize(t, 0, m.Size)
	empty, err := m.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

func testMapNavigation(t *testing.T, s *fxstore.Store) {
	m, err := fxstore.CreateMap[int64, string](s, "nav")
	require.NoError(t, err)

	_, _, ok, err := m.FirstEntry()
	require.NoError(t, err)
	require.False(t, ok)

	for i := int64(10); i <= 100; i += 10 {
		_, _, err := m.Put(i, fmt.Sprint(i))
		require.NoError(t, err)
	}

	k, v, ok, err := m.FirstEntry()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), k)
	require.Equal(t, "10", v)
	k, _, _, err = m.LastEntry()
	require.NoError(t, err)
	require.Equal(t, int64(100), k)

	for _, tc := range []struct {
		name string
		nav  func(int64) (int64, string, bool, error)
		arg  int64
		want int64
		ok   bool
	}{
		{"FloorBetween", m.FloorEntry, 25, 20, true},
		{"FloorExact", m.FloorEntry, 20, 20, true},
		{"FloorBelowAll", m.FloorEntry, 5, 0, false},
		{"CeilingBetween", m.CeilingEntry, 25, 30, true},
		{"CeilingAboveAll", m.CeilingEntry, 101, 0, false},
		{"LowerExact", m.LowerEntry, 20, 10, true},
		{"LowerFirst", m.LowerEntry, 10, 0, false},
		{"HigherExact", m.HigherEntry, 20, 30, true},
		{"HigherLast", m.HigherEntry, 100, 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k, _, ok, err := tc.nav(tc.arg)
			require.NoError(t, err)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, k)
		})
	}

	var desc []int64
	require.NoError(t, m.Descend(func(k int64, _ string) bool {
		desc = append(desc, k)
		return len(desc) < 3
	}))
	require.Equal(t, []int64{100, 90, 80}, desc)

	k, v, ok, err = m.PollFirstEntry()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), k)
	require.Equal(t, "10", v)
	k, _, ok, err = m.PollLastEntry()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), k)
	require.Equal(t, []int64{20, 30, 40, 50, 60, 70, 80, 90}, mapKeys(t, m))
	requireSize(t, 8, m.Size)
}

func testMapViews(t *testing.T, s *fxstore.Store) {
	m, err := fxstore.CreateMap[int64, string](s, "views")
	require.NoError(t, err)
	for i := int64(1); i <= 20; i++ {
		_, _, err := m.Put(i, fmt.Sprint(i))
		require.NoError(t, err)
	}

	sub, err := m.SubMap(5, true, 10, false)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6, 7, 8, 9}, mapKeys(t, sub))
	requireSize(t, 5, sub.Size)

	k, _, ok, err := sub.FloorEntry(100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), k)
	_, ok, err = sub.Get(10)
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = sub.Put(15, "x")
	requireCode(t, err, store.ErrInvalidArgument)
	_, replaced, err := sub.Put(7, "seven")
	require.NoError(t, err)
	require.True(t, replaced)
	v, _, err := m.Get(7)
	require.NoError(t, err)
	require.Equal(t, "seven", v)

	// polls are scoped to the view and update the parent
	k, _, ok, err = sub.PollFirstEntry()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), k)
	k, _, ok, err = sub.PollLastEntry()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), k)
	requireSize(t, 18, m.Size)

	require.NoError(t, sub.Clear())
	requireSize(t, 0, sub.Size)
	requireSize(t, 15, m.Size)
	ok, err = m.ContainsKey(10)
	require.NoError(t, err)
	require.True(t, ok)

	head, err := m.HeadMap(3, true)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, mapKeys(t, head))
	tail, err := m.TailMap(18, false)
	require.NoError(t, err)
	require.Equal(t, []int64{19, 20}, mapKeys(t, tail))

	nested, err := head.TailMap(2, true)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, mapKeys(t, nested))
}

func testSetOperations(t *testing.T, s *fxstore.Store) {
	set, err := fxstore.CreateSet[string](s, "tags")
	require.NoError(t, err)

	added, err := set.Add("b")
	require.NoError(t, err)
	require.True(t, added)
	added, err = set.Add("b")
	require.NoError(t, err)
	require.False(t, added)
	for _, e := range []string{"d", "a", "c"} {
		_, err := set.Add(e)
		require.NoError(t, err)
	}
	requireSize(t, 4, set.Size)
	require.Equal(t, []string{"a", "b", "c", "d"}, setElements(t, set))

	ok, err := set.Contains("c")
	require.NoError(t, err)
	require.True(t, ok)

	first, _, err := set.First()
	require.NoError(t, err)
	require.Equal(t, "a", first)
	last, _, err := set.Last()
	require.NoError(t, err)
	require.Equal(t, "d", last)

	e, ok, err := set.Floor("bb")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", e)
	e, _, err = set.Ceiling("bb")
	require.NoError(t, err)
	require.Equal(t, "c", e)
	_, ok, err = set.Lower("a")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = set.Higher("d")
	require.NoError(t, err)
	require.False(t, ok)

	sub, err := set.SubSet("b", true, "d", false)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, setElements(t, sub))
	head, err := set.HeadSet("b", false)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, setElements(t, head))
	tail, err := set.TailSet("c", true)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, setElements(t, tail))

	e, ok, err = set.PollFirst()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", e)
	e, ok, err = set.PollLast()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "d", e)

	removed, err := set.Remove("b")
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = set.Remove("zzz")
	require.NoError(t, err)
	require.False(t, removed)
	require.Equal(t, []string{"c"}, setElements(t, set))

	require.NoError(t, set.Clear())
	requireSize(t, 0, set.Size)
	_, ok, err = set.PollFirst()
	require.NoError(t, err)
	require.False(t, ok)
}

func testListOperations(t *testing.T, s *fxstore.Store) {
	l, err := fxstore.CreateList[string](s, "list")
	require.NoError(t, err)

	for _, e := range []string{"a", "b", "c"} {
		require.NoError(t, l.Add(e))
	}
	require.NoError(t, l.Insert(1, "x"))
	require.NoError(t, l.Insert(4, "end"))
	requireCode(t, l.Insert(6, "nope"), store.ErrInvalidArgument)

	got, err := l.Get(1)
	require.NoError(t, err)
	require.Equal(t, "x", got)

	old, err := l.Set(1, "y")
	require.NoError(t, err)
	require.Equal(t, "x", old)

	removed, err := l.RemoveAt(0)
	require.NoError(t, err)
	require.Equal(t, "a", removed)
	_, err = l.Get(10)
	requireCode(t, err, store.ErrInvalidArgument)
	_, err = l.RemoveAt(10)
	requireCode(t, err, store.ErrInvalidArgument)

	require.NoError(t, l.Add("b"))
	requireSize(t, 5, l.Size)

	idx, err := l.IndexOf("b")
	require.NoError(t, err)
	require.Equal(t, int64(1), idx)
	idx, err = l.LastIndexOf("b")
	require.NoError(t, err)
	require.Equal(t, int64(4), idx)
	idx, err = l.IndexOf("zz")
	require.NoError(t, err)
	require.Equal(t, int64(-1), idx)

	var tail []string
	require.NoError(t, l.Ascend(2, func(_ uint64, v string) bool {
		tail = append(tail, v)
		return true
	}))
	require.Equal(t, []string{"c", "end", "b"}, tail)

	require.NoError(t, l.Clear())
	requireSize(t, 0, l.Size)
}

func testLargeList(t *testing.T, s *fxstore.Store) {
	l, err := fxstore.CreateList[int64](s, "large")
	require.NoError(t, err)

	const n = 20_000
	for i := int64(0); i < n; i++ {
		require.NoError(t, l.Add(i))
	}
	requireSize(t, n, l.Size)
	for _, i := range []uint64{0, 1, 4095, 10_000, n - 1} {
		v, err := l.Get(i)
		require.NoError(t, err)
		require.Equal(t, int64(i), v)
	}

	// insert in the middle shifts the tail by one
	require.NoError(t, l.Insert(10_000, -1))
	v, err := l.Get(10_001)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), v)
	v, err = l.RemoveAt(10_000)
	require.NoError(t, err)
	require.Equal(t, int64(-1), v)
	requireSize(t, n, l.Size)

	result, err := s.Verify()
	require.NoError(t, err)
	require.True(t, result.OK(), "%v", result.Errors)
}

// pageReads returns how many pages a call to fn read.
func pageReads(t testing.TB, s *fxstore.Store, fn func()) int64 {
	t.Helper()
	gauge, ok := s.Metrics().Get("cache.lookups").(gometrics.Gauge)
	require.True(t, ok, "cache.lookups gauge not registered")
	before := gauge.Value()
	fn()
	return gauge.Value() - before
}

// testSizeAndEnds checks that Size reads no pages at all and that the first
// and last element are reached along a single root-to-leaf path, whatever
// the number of elements.
func testSizeAndEnds(t *testing.T, s *fxstore.Store) {
	const maxHeight = 4

	fill := func(name string, n int64) *fxstore.Map[int64, int64] {
		m, err := fxstore.CreateMap[int64, int64](s, name)
		require.NoError(t, err)
		for i := int64(0); i < n; i++ {
			_, _, err := m.Put(i, i)
			require.NoError(t, err)
		}
		return m
	}
	small := fill("small", 100)
	large := fill("large", 20_000)

	var smallReads [2]int64
	for i, m := range []*fxstore.Map[int64, int64]{small, large} {
		reads := pageReads(t, s, func() {
			_, err := m.Size()
			require.NoError(t, err)
		})
		require.Zero(t, reads, "Size read %d pages", reads)

		first := pageReads(t, s, func() {
			k, _, ok, err := m.FirstEntry()
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, int64(0), k)
		})
		last := pageReads(t, s, func() {
			_, _, ok, err := m.LastEntry()
			require.NoError(t, err)
			require.True(t, ok)
		})
		require.Positive(t, first)
		require.LessOrEqual(t, first, int64(maxHeight))
		require.LessOrEqual(t, last, int64(maxHeight))
		if i == 0 {
			smallReads = [2]int64{first, last}
		} else {
			// 200 times the entries costs at most a couple of extra levels
			require.LessOrEqual(t, first, smallReads[0]+2)
			require.LessOrEqual(t, last, smallReads[1]+2)
		}
	}

	d, err := fxstore.CreateDeque[int64](s, "deque")
	require.NoError(t, err)
	for i := int64(0); i < 20_000; i++ {
		require.NoError(t, d.AddLast(i))
	}
	reads := pageReads(t, s, func() {
		requireSize(t, 20_000, d.Size)
	})
	require.Zero(t, reads)
	reads = pageReads(t, s, func() {
		v, ok, err := d.PeekFirst()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(0), v)
	})
	require.LessOrEqual(t, reads, int64(maxHeight))
	reads = pageReads(t, s, func() {
		v, ok, err := d.PeekLast()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(19_999), v)
	})
	require.LessOrEqual(t, reads, int64(maxHeight))
}

func testDequeOperations(t *testing.T, s *fxstore.Store) {
	d, err := fxstore.CreateDeque[int64](s, "queue")
	require.NoError(t, err)

	_, ok, err := d.PollFirst()
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = d.PeekLast()
	require.NoError(t, err)
	require.False(t, ok)

	for _, v := range []int64{1, 2, 3} {
		require.NoError(t, d.AddLast(v))
	}
	require.NoError(t, d.AddFirst(0))
	require.NoError(t, d.AddFirst(-1))

	v, ok, err := d.PeekFirst()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(-1), v)
	v, _, err = d.PeekLast()
	require.NoError(t, err)
	require.Equal(t, int64(3), v)

	v, _, err = d.PollFirst()
	require.NoError(t, err)
	require.Equal(t, int64(-1), v)
	v, _, err = d.PollLast()
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
	requireSize(t, 3, d.Size)

	var asc, desc []int64
	require.NoError(t, d.Ascend(func(v int64) bool {
		asc = append(asc, v)
		return true
	}))
	require.NoError(t, d.Descend(func(v int64) bool {
		desc = append(desc, v)
		return true
	}))
	require.Equal(t, []int64{0, 1, 2}, asc)
	require.Equal(t, []int64{2, 1, 0}, desc)
}

func testSnapshotIsolation(t *testing.T, s *fxstore.Store) {
	m, err := fxstore.CreateMap[int64, int64](s, "m")
	require.NoError(t, err)
	for i := int64(1); i <= 100; i++ {
		_, _, err := m.Put(i, i*10)
		require.NoError(t, err)
	}

	tx, err := s.BeginRead()
	require.NoError(t, err)
	defer tx.Close()
	view, err := m.In(tx)
	require.NoError(t, err)

	_, removed, err := m.Remove(50)
	require.NoError(t, err)
	require.True(t, removed)
	_, err = fxstore.CreateDeque[int64](s, "later")
	require.NoError(t, err)

	v, ok, err := view.Get(50)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(500), v)
	requireSize(t, 100, view.Size)
	requireSize(t, 99, m.Size)

	exists, err := tx.Exists("later")
	require.NoError(t, err)
	require.False(t, exists)
	infos, err := tx.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)

	fresh, err := s.BeginRead()
	require.NoError(t, err)
	defer fresh.Close()
	require.Greater(t, fresh.SeqNo(), tx.SeqNo())
	freshView, err := m.In(fresh)
	require.NoError(t, err)
	_, ok, err = freshView.Get(50)
	require.NoError(t, err)
	require.False(t, ok)

	// a transaction outlives the drop of the collection it reads
	_, err = s.Drop("m")
	require.NoError(t, err)
	v, ok, err = view.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), v)

	// views bound to a transaction are read-only
	_, _, err = view.Put(1, 1)
	requireCode(t, err, store.ErrIllegalState)
}

func testReadTxLifecycle(t *testing.T, factory StoreFactory) {
	s := factory(t)
	l, err := fxstore.CreateList[string](s, "l")
	require.NoError(t, err)
	require.NoError(t, l.Add("a"))

	tx, err := s.BeginRead()
	require.NoError(t, err)
	require.True(t, tx.Active())
	view, err := l.In(tx)
	require.NoError(t, err)
	v, err := view.Get(0)
	require.NoError(t, err)
	require.Equal(t, "a", v)

	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())
	require.False(t, tx.Active())
	_, err = view.Get(0)
	requireCode(t, err, store.ErrIllegalState)
	_, err = tx.Exists("l")
	requireCode(t, err, store.ErrIllegalState)

	other := factory(t)
	otherTx, err := other.BeginRead()
	require.NoError(t, err)
	defer otherTx.Close()
	_, err = l.In(otherTx)
	requireCode(t, err, store.ErrInvalidArgument)
}

func testConcurrentPoll(t *testing.T, s *fxstore.Store) {
	m, err := fxstore.CreateMap[int64, int64](s, "poll")
	require.NoError(t, err)

	const keys = 1000
	for i := int64(0); i < keys; i++ {
		_, _, err := m.Put(i, -i)
		require.NoError(t, err)
	}

	const workers = 8
	results := make([][]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				poll := m.PollFirstEntry
				if (i+w)%2 == 1 {
					poll = m.PollLastEntry
				}
				k, v, ok, err := poll()
				if err != nil {
					errs[w] = err
					return
				}
				if !ok {
					return
				}
				if v != -k {
					errs[w] = fmt.Errorf("key %d polled with value %d", k, v)
					return
				}
				results[w] = append(results[w], k)
			}
		}(w)
	}
	wg.Wait()

	var all []int64
	for w := range results {
		require.NoError(t, errs[w])
		all = append(all, results[w]...)
	}
	slices.Sort(all)
	want := make([]int64, keys)
	for i := range want {
		want[i] = int64(i)
	}
	require.Equal(t, want, all, "every key must be polled exactly once")
	requireSize(t, 0, m.Size)
}

func testConcurrentCreateOrOpen(t *testing.T, s *fxstore.Store) {
	const workers = 16
	handles := make([]*fxstore.Map[string, string], workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			handles[w], errs[w] = fxstore.CreateOrOpenMap[string, string](s, "shared")
		}(w)
	}
	close(start)
	wg.Wait()

	for w := 0; w < workers; w++ {
		require.NoError(t, errs[w])
		require.Equal(t, handles[0].ID(), handles[w].ID())
	}
	infos, err := s.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "shared", infos[0].Name)
}

func testConcurrentPut(t *testing.T, s *fxstore.Store) {
	m, err := fxstore.CreateMap[string, int64](s, "counter")
	require.NoError(t, err)

	const workers = 32
	type outcome struct {
		prev     int64
		replaced bool
		err      error
	}
	outcomes := make([]outcome, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			prev, replaced, err := m.Put("k", int64(w))
			outcomes[w] = outcome{prev, replaced, err}
		}(w)
	}
	wg.Wait()

	// the previous values plus the final value are a permutation of all writes
	var seen []int64
	fresh := 0
	for _, o := range outcomes {
		require.NoError(t, o.err)
		if o.replaced {
			seen = append(seen, o.prev)
		} else {
			fresh++
		}
	}
	require.Equal(t, 1, fresh)
	final, ok, err := m.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	seen = append(seen, final)
	slices.Sort(seen)
	for i, v := range seen {
		require.Equal(t, int64(i), v)
	}
}

func testVerify(t *testing.T, s *fxstore.Store) {
	m, err := fxstore.CreateMap[string, string](s, "m")
	require.NoError(t, err)
	set, err := fxstore.CreateSet[int64](s, "s")
	require.NoError(t, err)
	d, err := fxstore.CreateDeque[string](s, "d")
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		_, _, err := m.Put(fmt.Sprintf("key-%04d", i), strings.Repeat("v", i))
		require.NoError(t, err)
		_, err = set.Add(int64(i * 7))
		require.NoError(t, err)
		require.NoError(t, d.AddLast(fmt.Sprint(i)))
	}
	for i := 0; i < 500; i += 3 {
		_, _, err := m.Remove(fmt.Sprintf("key-%04d", i))
		require.NoError(t, err)
		_, _, err = d.PollFirst()
		require.NoError(t, err)
	}

	result, err := s.Verify()
	require.NoError(t, err)
	require.True(t, result.OK(), "%v", result.Errors)

	fast, err := s.Stats(store.StatsFast)
	require.NoError(t, err)
	require.Equal(t, 3, fast.CollectionCount)
	require.LessOrEqual(t, fast.LiveBytesEstimate, fast.FileBytes)

	deep, err := s.Stats(store.StatsDeep)
	require.NoError(t, err)
	require.Equal(t, store.StatsDeep, deep.Mode)
	require.Positive(t, deep.PageCount)
	require.Positive(t, deep.RecordCount)
	require.Greater(t, deep.PageFillP90, 0.0)
	require.Equal(t, deep.FileBytes-deep.LiveBytesEstimate, deep.DeadBytesEstimate)
}
