package util

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		require.LessOrEqual(t, len(line), Wrap)
	}
	require.Equal(t, "short text", WrapString("  short   text "))
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "512 B", FormatBytes(512))
	require.Equal(t, "1.0 KiB", FormatBytes(1024))
	require.Equal(t, "1.5 MiB", FormatBytes(3<<19))
}

func TestGetStoreOptions(t *testing.T) {
	defer viper.Reset()

	viper.Set("page-size", 8192)
	viper.Set("cache-bytes", int64(1<<20))
	viper.Set("file-lock", "none")
	opts, err := GetStoreOptions()
	require.NoError(t, err)
	require.Equal(t, store.PageSize8K, opts.PageSize)
	require.Equal(t, int64(1<<20), opts.CacheBytes)
	require.Equal(t, store.FileLockNone, opts.FileLock)
	require.Equal(t, store.OnCloseRollback, opts.OnClosePolicy)

	viper.Set("file-lock", "exclusive")
	_, err = GetStoreOptions()
	require.Error(t, err)

	viper.Set("file-lock", "process")
	viper.Set("page-size", 1234)
	_, err = GetStoreOptions()
	require.Error(t, err)
}

func TestOpenStoreRequiresFile(t *testing.T) {
	defer viper.Reset()
	viper.Set("page-size", 4096)
	viper.Set("cache-bytes", int64(1<<20))

	_, err := OpenStore(filepath.Join(t.TempDir(), "missing.fx"))
	require.Error(t, err)
}
