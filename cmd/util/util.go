package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/fxstore/lib/logging"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/store/fxstore"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger(logging.NameCLI)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the flags that control how store files are opened
func SetupStoreFlags(cmd *cobra.Command) {
	key := "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "page-size"
	cmd.PersistentFlags().Int(key, int(store.PageSize4K), WrapString("Page size used when a new store file is created (4096, 8192 or 16384). Existing files keep their page size"))

	key = "cache-bytes"
	cmd.PersistentFlags().Int64(key, 64<<20, WrapString("Budget of the page cache in bytes"))

	key = "file-lock"
	cmd.PersistentFlags().String(key, "process", WrapString("Locking of the store file (process, none). Use none to inspect a file that is held open by another process"))
}

// InitConfig loads .env files and binds FXSTORE_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("fxstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper and applies the log
// level
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return logging.InitLoggers(viper.GetString("log-level"))
}

// GetStoreOptions reads the store options from viper
func GetStoreOptions() (store.Options, error) {
	opts := store.DefaultOptions()
	opts.PageSize = store.PageSize(viper.GetInt("page-size"))
	opts.CacheBytes = viper.GetInt64("cache-bytes")
	// the CLI never leaves changes pending
	opts.CommitMode = store.CommitAuto
	opts.OnClosePolicy = store.OnCloseRollback

	switch strings.ToLower(viper.GetString("file-lock")) {
	case "process", "":
		opts.FileLock = store.FileLockProcess
	case "none":
		opts.FileLock = store.FileLockNone
	default:
		return opts, fmt.Errorf("invalid file lock mode %s (must be process or none)", viper.GetString("file-lock"))
	}
	return opts, opts.Validate()
}

// OpenStore opens the existing store file at path with the configured
// options
func OpenStore(path string) (*fxstore.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot open store file: %w", err)
	}
	opts, err := GetStoreOptions()
	if err != nil {
		return nil, err
	}
	log.Debugf("opening %s with %s", path, opts)
	return fxstore.Open(path, opts)
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
