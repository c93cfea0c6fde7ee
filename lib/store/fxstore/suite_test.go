package fxstore_test

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/store/fxstore"
	storetesting "github.com/ValentinKolb/fxstore/lib/store/testing"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetesting.RunStoreTests(t, "memory", func(t *testing.T) *fxstore.Store {
		s, err := fxstore.OpenMemory(store.DefaultOptions())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestFileStore(t *testing.T) {
	storetesting.RunStoreTests(t, "file", func(t *testing.T) *fxstore.Store {
		s, err := fxstore.Open(filepath.Join(t.TempDir(), "store.fx"), store.DefaultOptions())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestFileStoreLargePages(t *testing.T) {
	opts := store.DefaultOptions()
	opts.PageSize = store.PageSize16K
	opts.CacheBytes = 1 << 20
	storetesting.RunStoreTests(t, "file-16k", func(t *testing.T) *fxstore.Store {
		s, err := fxstore.Open(filepath.Join(t.TempDir(), "store.fx"), opts)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
