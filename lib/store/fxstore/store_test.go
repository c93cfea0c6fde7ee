package fxstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/fxstore/lib/codec"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/store/meta"
	"github.com/ValentinKolb/fxstore/lib/util"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func requireCode(t testing.TB, err error, target *store.Error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, target), "expected %s, got %v", target.Code, err)
}

func tempPath(t testing.TB) string {
	return filepath.Join(t.TempDir(), "store.fx")
}

func openFile(t testing.TB, path string, opts store.Options) *Store {
	t.Helper()
	s, err := Open(path, opts)
	require.NoError(t, err)
	return s
}

func batchOptions(policy store.OnClosePolicy) store.Options {
	opts := store.DefaultOptions()
	opts.CommitMode = store.CommitBatch
	opts.OnClosePolicy = policy
	return opts
}

// corruptAt flips the byte at off in the file at path.
func corruptAt(t testing.TB, path string, off int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	b := make([]byte, 1)
	_, err = f.ReadAt(b, off)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, off)
	require.NoError(t, err)
}

// latestSlot returns the slot holding the header with the higher sequence
// number.
func latestSlot(t testing.TB, path string) meta.Slot {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	a, errA := meta.DecodeHeader(raw[meta.SlotAOffset : meta.SlotAOffset+meta.BlockSize])
	b, errB := meta.DecodeHeader(raw[meta.SlotBOffset : meta.SlotBOffset+meta.BlockSize])
	require.NoError(t, errA)
	require.NoError(t, errB)
	if b.SeqNo > a.SeqNo {
		return meta.SlotB
	}
	return meta.SlotA
}

func hasKind(res store.VerifyResult, kinds ...store.VerifyErrorKind) bool {
	for _, e := range res.Errors {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
	}
	return false
}

// labelCodec is a string codec whose version can be chosen freely.
type labelCodec struct{ version int }

func (c labelCodec) ID() string { return "test:label" }
func (c labelCodec) Version() int { return c.version }
func (c labelCodec) CompareBytes(a, b []byte) int { return bytes.Compare(a, b) }
func (c labelCodec) EqualsBytes(a, b []byte) bool { return bytes.Equal(a, b) }
func (c labelCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (c labelCodec) Decode(b []byte) (string, error) { return string(b), nil }

func (c labelCodec) HashBytes(b []byte) uint64 { return util.HashBytes(b, 0) }

func labels(t testing.TB, s *Store, version int, mode OpenMode) (*Map[int64, string], error) {
	t.Helper()
	return MapOf[int64, string](s, "labels", mode, codec.Int64, labelCodec{version: version})
}

// --------------------------------------------------------------------------
// Lifecycle and durability
// --------------------------------------------------------------------------

func TestReopenKeepsData(t *testing.T) {
	path := tempPath(t)
	opts := store.DefaultOptions()
	opts.PageSize = store.PageSize8K

	s := openFile(t, path, opts)
	m, err := CreateMap[string, int64](s, "users")
	require.NoError(t, err)
	for i := int64(0); i < 300; i++ {
		_, _, err := m.Put(fmt.Sprintf("user-%03d", i), i)
		require.NoError(t, err)
	}
	l, err := CreateList[string](s, "log")
	require.NoError(t, err)
	require.NoError(t, l.Add("first"))
	require.NoError(t, l.Add("second"))
	id := m.ID()
	storeID := s.Superblock().StoreID
	require.NoError(t, s.Close())

	// the stored page size wins over the option
	s = openFile(t, path, store.DefaultOptions())
	defer s.Close()
	require.Equal(t, store.PageSize8K, s.Options().PageSize)
	require.Equal(t, storeID, s.Superblock().StoreID)

	m, err = OpenMap[string, int64](s, "users")
	require.NoError(t, err)
	require.Equal(t, id, m.ID())
	size, err := m.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(300), size)
	v, ok, err := m.Get("user-123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(123), v)

	l, err = OpenList[string](s, "log")
	require.NoError(t, err)
	got, err := l.Get(1)
	require.NoError(t, err)
	require.Equal(t, "second", got)

	// ids are never reused
	other, err := CreateSet[string](s, "other")
	require.NoError(t, err)
	require.Greater(t, other.ID(), l.ID())
}

func TestFreshStore(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		path := tempPath(t)
		s := openFile(t, path, store.DefaultOptions())
		res, err := s.Verify()
		require.NoError(t, err)
		require.True(t, res.OK(), "%v", res.Errors)
		require.NoError(t, s.Close())

		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, int64(meta.DataOffset), info.Size())

		s = openFile(t, path, store.DefaultOptions())
		defer s.Close()
		list, err := s.List()
		require.NoError(t, err)
		require.Empty(t, list)
		res, err = s.Verify()
		require.NoError(t, err)
		require.True(t, res.OK(), "%v", res.Errors)

		m, err := CreateMap[int64, string](s, "after")
		require.NoError(t, err)
		_, _, err = m.Put(1, "one")
		require.NoError(t, err)
	})

	t.Run("MemoryBatch", func(t *testing.T) {
		s, err := OpenMemory(batchOptions(store.OnCloseRollback))
		require.NoError(t, err)
		defer s.Close()
		res, err := s.Verify()
		require.NoError(t, err)
		require.True(t, res.OK(), "%v", res.Errors)
	})
}

func TestOpenErrors(t *testing.T) {
	t.Run("InvalidOptions", func(t *testing.T) {
		opts := store.DefaultOptions()
		opts.PageSize = 1000
		_, err := OpenMemory(opts)
		requireCode(t, err, store.ErrInvalidArgument)
	})

	t.Run("Garbage", func(t *testing.T) {
		path := tempPath(t)
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 4*meta.BlockSize), 0o644))
		_, err := Open(path, store.DefaultOptions())
		requireCode(t, err, store.ErrCorruption)
	})

	t.Run("Truncated", func(t *testing.T) {
		path := tempPath(t)
		require.NoError(t, os.WriteFile(path, []byte("fxstore"), 0o644))
		_, err := Open(path, store.DefaultOptions())
		requireCode(t, err, store.ErrCorruption)
	})

	t.Run("Locked", func(t *testing.T) {
		path := tempPath(t)
		s := openFile(t, path, store.DefaultOptions())
		defer s.Close()
		_, err := Open(path, store.DefaultOptions())
		requireCode(t, err, store.ErrLockFailed)
	})
}

func TestClosedStore(t *testing.T) {
	s, err := OpenMemory(store.DefaultOptions())
	require.NoError(t, err)
	m, err := CreateMap[string, string](s, "m")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = m.Get("a")
	requireCode(t, err, store.ErrClosed)
	requireCode(t, err, store.ErrIllegalState)
	_, _, err = m.Put("a", "b")
	requireCode(t, err, store.ErrClosed)
	_, err = s.BeginRead()
	requireCode(t, err, store.ErrClosed)
	_, err = s.List()
	requireCode(t, err, store.ErrClosed)
	requireCode(t, s.Commit(), store.ErrClosed)
	_, err = s.Verify()
	requireCode(t, err, store.ErrClosed)
}

func TestMemoryLimit(t *testing.T) {
	opts := store.DefaultOptions()
	opts.MemoryLimitBytes = 64 << 10
	s, err := OpenMemory(opts)
	require.NoError(t, err)
	defer s.Close()

	l, err := CreateList[string](s, "l")
	require.NoError(t, err)
	value := strings.Repeat("x", 4000)

	var werr error
	added := uint64(0)
	for i := 0; i < 100 && werr == nil; i++ {
		if werr = l.Add(value); werr == nil {
			added++
		}
	}
	requireCode(t, werr, store.ErrOutOfMemory)

	// the failed operation published nothing
	size, err := l.Size()
	require.NoError(t, err)
	require.Equal(t, added, size)
}

// --------------------------------------------------------------------------
// Commit modes
// --------------------------------------------------------------------------

func TestAutoCommit(t *testing.T) {
	s, err := OpenMemory(store.DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	m, err := CreateMap[int64, int64](s, "m")
	require.NoError(t, err)
	_, _, err = m.Put(1, 1)
	require.NoError(t, err)
	require.False(t, s.HasPending())

	// rollback and commit are no-ops
	seq := s.SeqNo()
	require.NoError(t, s.Rollback())
	require.NoError(t, s.Commit())
	require.Equal(t, seq, s.SeqNo())
	v, ok, err := m.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), v)

	timer, ok := s.Metrics().Get("commit").(gometrics.Timer)
	require.True(t, ok)
	require.Equal(t, int64(2), timer.Count())
}

func TestBatchCommitAndRollback(t *testing.T) {
	path := tempPath(t)
	s := openFile(t, path, batchOptions(store.OnCloseError))

	m, err := CreateMap[int64, string](s, "m")
	require.NoError(t, err)
	_, _, err = m.Put(1, "one")
	require.NoError(t, err)
	require.True(t, s.HasPending())

	// visible before commit
	v, ok, err := m.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)

	// close refuses while changes are pending and the store stays usable
	requireCode(t, s.Close(), store.ErrIllegalState)
	require.NoError(t, s.Commit())
	require.False(t, s.HasPending())

	_, _, err = m.Put(2, "two")
	require.NoError(t, err)
	_, _, err = m.Remove(1)
	require.NoError(t, err)
	_, err = CreateSet[string](s, "scratch")
	require.NoError(t, err)

	require.NoError(t, s.Rollback())
	require.False(t, s.HasPending())
	require.NoError(t, s.Rollback())

	_, ok, err = m.Get(2)
	require.NoError(t, err)
	require.False(t, ok)
	v, ok, err = m.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)
	exists, err := s.Exists("scratch")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, s.Close())

	s = openFile(t, path, batchOptions(store.OnCloseError))
	defer s.Close()
	m, err = OpenMap[int64, string](s, "m")
	require.NoError(t, err)
	size, err := m.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(1), size)

	result, err := s.Verify()
	require.NoError(t, err)
	require.True(t, result.OK(), "%v", result.Errors)
}

func TestOnClosePolicies(t *testing.T) {
	for _, tc := range []struct {
		policy store.OnClosePolicy
		kept   bool
	}{
		{store.OnCloseCommit, true},
		{store.OnCloseRollback, false},
	} {
		t.Run(tc.policy.String(), func(t *testing.T) {
			path := tempPath(t)
			s := openFile(t, path, batchOptions(store.OnCloseCommit))
			d, err := CreateDeque[string](s, "d")
			require.NoError(t, err)
			require.NoError(t, s.Close())

			s = openFile(t, path, batchOptions(tc.policy))
			d, err = OpenDeque[string](s, "d")
			require.NoError(t, err)
			require.NoError(t, d.AddLast("pending"))
			require.NoError(t, s.Close())

			s = openFile(t, path, store.DefaultOptions())
			defer s.Close()
			d, err = OpenDeque[string](s, "d")
			require.NoError(t, err)
			_, ok, err := d.PeekFirst()
			require.NoError(t, err)
			require.Equal(t, tc.kept, ok)
		})
	}
}

// --------------------------------------------------------------------------
// Recovery
// --------------------------------------------------------------------------

func TestHeaderFallback(t *testing.T) {
	path := tempPath(t)
	s := openFile(t, path, store.DefaultOptions())
	m, err := CreateMap[int64, int64](s, "m")
	require.NoError(t, err)
	_, _, err = m.Put(1, 10)
	require.NoError(t, err)
	_, _, err = m.Put(2, 20)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// destroy the newest commit, the previous one must be recovered
	corruptAt(t, path, latestSlot(t, path).Offset()+20)

	s = openFile(t, path, store.DefaultOptions())
	m, err = OpenMap[int64, int64](s, "m")
	require.NoError(t, err)
	_, ok, err := m.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = m.Get(2)
	require.NoError(t, err)
	require.False(t, ok)

	result, err := s.Verify()
	require.NoError(t, err)
	require.True(t, hasKind(result, store.VerifyHeader), "%v", result.Errors)

	// the next commit overwrites the damaged slot
	_, _, err = m.Put(3, 30)
	require.NoError(t, err)
	result, err = s.Verify()
	require.NoError(t, err)
	require.True(t, result.OK(), "%v", result.Errors)
	require.NoError(t, s.Close())

	// with both slots damaged the store cannot be opened
	corruptAt(t, path, meta.SlotAOffset+20)
	corruptAt(t, path, meta.SlotBOffset+20)
	_, err = Open(path, store.DefaultOptions())
	requireCode(t, err, store.ErrCorruption)
}

// --------------------------------------------------------------------------
// Codec versions
// --------------------------------------------------------------------------

func writeLabels(t *testing.T, path string, version int) {
	t.Helper()
	s := openFile(t, path, store.DefaultOptions())
	defer s.Close()
	m, err := labels(t, s, version, ModeCreate)
	require.NoError(t, err)
	for i := int64(0); i < 50; i++ {
		_, _, err := m.Put(i, fmt.Sprintf("label-%d", i))
		require.NoError(t, err)
	}
}

func TestCodecUpgrade(t *testing.T) {
	path := tempPath(t)
	writeLabels(t, path, 1)

	t.Run("Disabled", func(t *testing.T) {
		s := openFile(t, path, store.DefaultOptions())
		defer s.Close()
		_, err := labels(t, s, 2, ModeOpen)
		requireCode(t, err, store.ErrVersionMismatch)
	})

	t.Run("HookFails", func(t *testing.T) {
		opts := store.DefaultOptions()
		opts.AllowCodecUpgrade = true
		opts.CodecUpgradeHook = func(string, int, int, []byte) ([]byte, error) {
			return nil, errors.New("cannot convert")
		}
		s := openFile(t, path, opts)
		defer s.Close()
		_, err := labels(t, s, 2, ModeOpen)
		requireCode(t, err, store.ErrUpgradeFailed)

		// the collection is untouched
		m, err := labels(t, s, 1, ModeOpen)
		require.NoError(t, err)
		v, _, err := m.Get(7)
		require.NoError(t, err)
		require.Equal(t, "label-7", v)
	})

	t.Run("Upgrade", func(t *testing.T) {
		var calls int
		opts := store.DefaultOptions()
		opts.AllowCodecUpgrade = true
		opts.CodecUpgradeHook = func(id string, from, to int, old []byte) ([]byte, error) {
			calls++
			require.Equal(t, "test:label", id)
			require.Equal(t, 1, from)
			require.Equal(t, 2, to)
			return append(bytes.Clone(old), "/v2"...), nil
		}
		s := openFile(t, path, opts)
		m, err := labels(t, s, 2, ModeOpen)
		require.NoError(t, err)
		require.Equal(t, 50, calls)

		v, _, err := m.Get(7)
		require.NoError(t, err)
		require.Equal(t, "label-7/v2", v)
		infos, err := s.List()
		require.NoError(t, err)
		require.Len(t, infos, 1)
		require.Equal(t, 2, infos[0].ValueVersion)
		require.Equal(t, uint64(50), infos[0].Count)
		require.NoError(t, s.Close())

		// the upgraded version is persisted, opening with v1 is a downgrade
		s = openFile(t, path, store.DefaultOptions())
		defer s.Close()
		_, err = labels(t, s, 1, ModeOpen)
		requireCode(t, err, store.ErrVersionMismatch)
		m, err = labels(t, s, 2, ModeOpen)
		require.NoError(t, err)
		v, _, err = m.Get(49)
		require.NoError(t, err)
		require.Equal(t, "label-49/v2", v)
	})
}

func TestCodecMismatch(t *testing.T) {
	s, err := OpenMemory(store.DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	_, err = labels(t, s, 1, ModeCreate)
	require.NoError(t, err)
	_, err = MapOf[int64, string](s, "labels", ModeOpen, codec.Int64, codec.String)
	requireCode(t, err, store.ErrTypeMismatch)
	_, err = MapOf[int64, string](s, "labels", ModeOpen, nil, codec.String)
	requireCode(t, err, store.ErrInvalidArgument)

	type celsius float64
	_, err = CreateList[celsius](s, "temps")
	requireCode(t, err, store.ErrCodecNotFound)
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

func TestVerifyDetectsCorruption(t *testing.T) {
	t.Run("DataPage", func(t *testing.T) {
		path := tempPath(t)
		s := openFile(t, path, store.DefaultOptions())
		defer s.Close()
		m, err := CreateMap[int64, string](s, "m")
		require.NoError(t, err)
		for i := int64(0); i < 200; i++ {
			_, _, err := m.Put(i, strings.Repeat("v", 40))
			require.NoError(t, err)
		}

		result, err := s.Verify()
		require.NoError(t, err)
		require.True(t, result.OK(), "%v", result.Errors)

		st, ok := s.current.Load().State(m.ID())
		require.True(t, ok)
		corruptAt(t, path, s.pageOffset(st.RootPageID)+100)

		result, err = s.Verify()
		require.NoError(t, err)
		require.False(t, result.OK())
		require.True(t, hasKind(result, store.VerifyPage, store.VerifyBTree), "%v", result.Errors)
	})

	t.Run("InactiveSlot", func(t *testing.T) {
		path := tempPath(t)
		s := openFile(t, path, store.DefaultOptions())
		defer s.Close()
		_, err := CreateSet[string](s, "a")
		require.NoError(t, err)
		_, err = CreateSet[string](s, "b")
		require.NoError(t, err)

		inactive := meta.SlotFor(s.header.SeqNo + 1)
		corruptAt(t, path, inactive.Offset()+20)

		result, err := s.Verify()
		require.NoError(t, err)
		require.True(t, hasKind(result, store.VerifyHeader), "%v", result.Errors)
	})
}

func TestStats(t *testing.T) {
	s, err := OpenMemory(store.DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	m, err := CreateMap[int64, string](s, "m")
	require.NoError(t, err)
	for i := int64(0); i < 1000; i++ {
		_, _, err := m.Put(i, fmt.Sprint(i))
		require.NoError(t, err)
	}

	fast, err := s.Stats(store.StatsFast)
	require.NoError(t, err)
	require.Equal(t, store.StatsFast, fast.Mode)
	require.Equal(t, 1, fast.CollectionCount)
	require.Equal(t, s.storage.Size(), fast.FileBytes)
	require.Zero(t, fast.PageCount)

	// every AUTO commit rewrote the path to the changed leaf
	deep, err := s.Stats(store.StatsDeep)
	require.NoError(t, err)
	require.Positive(t, deep.PageCount)
	require.Equal(t, int64(0), deep.RecordCount)
	require.Positive(t, deep.DeadBytesEstimate)
	require.Greater(t, deep.DeadRatio, 0.5)
	require.GreaterOrEqual(t, deep.PageFillP90, deep.PageFillP50)
	require.LessOrEqual(t, deep.PageFillP90, 100.0)
}

func TestScanRaw(t *testing.T) {
	s, err := OpenMemory(store.DefaultOptions())
	require.NoError(t, err)
	defer s.Close()

	m, err := CreateMap[string, string](s, "m")
	require.NoError(t, err)
	for _, k := range []string{"b", "a", "c"} {
		_, _, err := m.Put(k, k+k)
		require.NoError(t, err)
	}
	d, err := CreateDeque[string](s, "d")
	require.NoError(t, err)
	require.NoError(t, d.AddLast("x"))
	require.NoError(t, d.AddFirst("w"))

	var pairs []string
	require.NoError(t, s.ScanRaw("m", func(k, v []byte) bool {
		pairs = append(pairs, string(k)+"="+string(v))
		return true
	}))
	require.Equal(t, []string{"a=aa", "b=bb", "c=cc"}, pairs)

	var elems []string
	require.NoError(t, s.ScanRaw("d", func(k, v []byte) bool {
		require.Nil(t, k)
		elems = append(elems, string(v))
		return true
	}))
	require.Equal(t, []string{"w", "x"}, elems)

	requireCode(t, s.ScanRaw("missing", func(k, v []byte) bool { return true }), store.ErrNotFound)
}

func TestCompactTo(t *testing.T) {
	path := tempPath(t)
	s := openFile(t, path, store.DefaultOptions())
	defer s.Close()

	m, err := CreateMap[int64, string](s, "m")
	require.NoError(t, err)
	for i := int64(0); i < 1000; i++ {
		_, _, err := m.Put(i, strings.Repeat("x", int(i%50)))
		require.NoError(t, err)
	}
	for i := int64(0); i < 1000; i += 2 {
		_, _, err := m.Remove(i)
		require.NoError(t, err)
	}
	set, err := CreateSet[string](s, "set")
	require.NoError(t, err)
	for _, e := range []string{"a", "b", "c"} {
		_, err := set.Add(e)
		require.NoError(t, err)
	}
	l, err := CreateList[int64](s, "list")
	require.NoError(t, err)
	for i := int64(0); i < 100; i++ {
		require.NoError(t, l.Add(i*i))
	}
	_, err = CreateSet[string](s, "dropped")
	require.NoError(t, err)
	_, err = s.Drop("dropped")
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "compact.fx")
	require.NoError(t, s.CompactTo(target))
	requireCode(t, s.CompactTo(target), store.ErrAlreadyExists)

	before, err := os.Stat(path)
	require.NoError(t, err)
	after, err := os.Stat(target)
	require.NoError(t, err)
	require.Less(t, after.Size(), before.Size())

	c := openFile(t, target, store.DefaultOptions())
	defer c.Close()
	require.NotEqual(t, s.Superblock().StoreID, c.Superblock().StoreID)

	result, err := c.Verify()
	require.NoError(t, err)
	require.True(t, result.OK(), "%v", result.Errors)

	cm, err := OpenMap[int64, string](c, "m")
	require.NoError(t, err)
	require.Equal(t, m.ID(), cm.ID())
	size, err := cm.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(500), size)
	v, ok, err := cm.Get(999)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("x", 49), v)

	cl, err := OpenList[int64](c, "list")
	require.NoError(t, err)
	require.Equal(t, l.ID(), cl.ID())
	got, err := cl.Get(12)
	require.NoError(t, err)
	require.Equal(t, int64(144), got)

	cs, err := OpenSet[string](c, "set")
	require.NoError(t, err)
	ok, err = cs.Contains("b")
	require.NoError(t, err)
	require.True(t, ok)

	// dropped ids stay retired
	fresh, err := CreateSet[string](c, "fresh")
	require.NoError(t, err)
	require.Greater(t, fresh.ID(), cs.ID()+1)
}

func TestCompactToRejectsPending(t *testing.T) {
	s, err := OpenMemory(batchOptions(store.OnCloseRollback))
	require.NoError(t, err)
	defer s.Close()

	_, err = CreateMap[string, string](s, "m")
	require.NoError(t, err)
	target := tempPath(t)
	requireCode(t, s.CompactTo(target), store.ErrIllegalState)
	_, err = os.Stat(target)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, s.Commit())
	require.NoError(t, s.CompactTo(target))
}
