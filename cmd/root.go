package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/fxstore/cmd/inspect"
	"github.com/ValentinKolb/fxstore/cmd/maintenance"
	"github.com/ValentinKolb/fxstore/cmd/util"
	"github.com/ValentinKolb/fxstore/lib/store/meta"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "fxstore",
		Short: "inspect and maintain fxstore files",
		Long: fmt.Sprintf(`fxstore (v%s)

Command line tools for fxstore files: single-file stores of ordered maps,
sets, lists and deques with snapshot isolation and crash-safe commits.

Options can also be set via environment variables in the form FXSTORE_<flag>
(e.g. FXSTORE_PAGE_SIZE=8192) or in a .env file.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fxstore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fxstore v%s (file format v%d)\n", Version, meta.FormatVersion)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupStoreFlags(RootCmd)

	RootCmd.AddCommand(inspect.InspectCmd)
	RootCmd.AddCommand(inspect.LsCmd)
	RootCmd.AddCommand(inspect.DumpCmd)
	RootCmd.AddCommand(maintenance.VerifyCmd)
	RootCmd.AddCommand(maintenance.StatsCmd)
	RootCmd.AddCommand(maintenance.CompactCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
