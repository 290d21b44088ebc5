package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dSearch/cmd/index"
	"github.com/ValentinKolb/dSearch/cmd/query"
	"github.com/ValentinKolb/dSearch/cmd/serve"
	"github.com/ValentinKolb/dSearch/cmd/split"
	"github.com/ValentinKolb/dSearch/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	configFile string

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dsearch",
		Short: "distributed author paper count search",
		Long: fmt.Sprintf(`dSearch (v%s)

A distributed search over author publication records. Records are split into
chunks with replicas on several storage nodes, every node indexes its chunks
with a persistent B-tree and the query client merges the answers of all chunks.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dSearch",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dSearch v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(func() {
		if err := util.InitConfig(configFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	})

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(query.QueryCmd)
	RootCmd.AddCommand(query.StatusCmd)
	RootCmd.AddCommand(index.IndexCommands)
	RootCmd.AddCommand(split.SplitCmd)
	RootCmd.AddCommand(split.BucketCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", util.WrapString("config file (yaml, toml or json) with the same keys as the flags"))
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
