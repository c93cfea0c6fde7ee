package maintenance

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ValentinKolb/fxstore/cmd/util"
	"github.com/ValentinKolb/fxstore/lib/store"
	"github.com/ValentinKolb/fxstore/lib/store/fxstore"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errVerifyFailed is returned when verification found problems, so the
// process exits with a non-zero status.
var errVerifyFailed = errors.New("verification failed")

var (
	// VerifyCmd checks the structural integrity of a store
	VerifyCmd = &cobra.Command{
		Use:   "verify [file]",
		Short: "Check the structural integrity of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := util.OpenStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := s.Verify()
			if err != nil {
				return err
			}
			if result.OK() {
				fmt.Println("OK")
				return nil
			}
			for _, e := range result.Errors {
				fmt.Println(e)
			}
			fmt.Printf("%d problems found\n", len(result.Errors))
			cmd.SilenceUsage = true
			return errVerifyFailed
		},
	}

	// StatsCmd prints space usage statistics
	StatsCmd = &cobra.Command{
		Use:   "stats [file]",
		Short: "Print space usage statistics of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := util.OpenStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			mode := store.StatsFast
			if viper.GetBool("deep") {
				mode = store.StatsDeep
			}
			st, err := s.Stats(mode)
			if err != nil {
				return err
			}

			if viper.GetBool("prometheus") {
				metrics.WritePrometheus(os.Stdout, false)
				writeRegistry(s)
				return nil
			}
			printStats(st)
			return nil
		},
	}

	// CompactCmd rewrites the live data of a store into a new file
	CompactCmd = &cobra.Command{
		Use:   "compact [src] [dst]",
		Short: "Write the live data of a store into a new, compact file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := util.OpenStore(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			before, err := s.Stats(store.StatsFast)
			if err != nil {
				return err
			}
			if err := s.CompactTo(args[1]); err != nil {
				return err
			}
			info, err := os.Stat(args[1])
			if err != nil {
				return err
			}
			fmt.Printf("compacted %s (%s) into %s (%s)\n",
				args[0], util.FormatBytes(before.FileBytes), args[1], util.FormatBytes(info.Size()))
			return nil
		},
	}
)

func init() {
	StatsCmd.Flags().Bool("deep", false, util.WrapString("Walk every reachable page instead of estimating from metadata"))
	StatsCmd.Flags().Bool("prometheus", false, util.WrapString("Print the engine metrics in Prometheus text format instead"))
}

func printStats(st store.Stats) {
	fmt.Printf("mode:         %s\n", st.Mode)
	fmt.Printf("file:         %s\n", util.FormatBytes(st.FileBytes))
	fmt.Printf("live:         %s\n", util.FormatBytes(st.LiveBytesEstimate))
	fmt.Printf("dead:         %s (%.1f%%)\n", util.FormatBytes(st.DeadBytesEstimate), st.DeadRatio*100)
	fmt.Printf("collections:  %d\n", st.CollectionCount)
	if st.Mode != store.StatsDeep {
		return
	}
	fmt.Printf("pages:        %d\n", st.PageCount)
	fmt.Printf("records:      %d (median %d B)\n", st.RecordCount, st.MedianRecordSize)
	fmt.Printf("page fill:    p50 %.0f%%, p90 %.0f%%\n", st.PageFillP50, st.PageFillP90)
}

// writeRegistry prints the per-store metrics in Prometheus text format.
func writeRegistry(s *fxstore.Store) {
	values := map[string]float64{}
	s.Metrics().Each(func(name string, m interface{}) {
		switch m := m.(type) {
		case gometrics.Timer:
			values[name+"_count"] = float64(m.Count())
			values[name+"_seconds_p99"] = m.Percentile(0.99) / 1e9
		case gometrics.Histogram:
			values[name+"_p50"] = m.Percentile(0.5)
			values[name+"_p90"] = m.Percentile(0.9)
		case gometrics.GaugeFloat64:
			values[name] = m.Value()
		case gometrics.Gauge:
			values[name] = float64(m.Value())
		}
	})

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("fxstore_store_%s %g\n", promName(name), values[name])
	}
}

func promName(name string) string {
	out := []byte(name)
	for i, c := range out {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			out[i] = '_'
		}
	}
	return string(out)
}
