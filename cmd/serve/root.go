package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dSearch/cmd/util"
	"github.com/ValentinKolb/dSearch/rpc/common"
	"github.com/ValentinKolb/dSearch/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dSearch storage node",
		Long:    `Start a storage node that answers author queries from the indexes in its data directory. The configuration can be set via command line flags, a config file or environment variables. The format of the environment variables is DSEARCH_<flag> (e.g. DSEARCH_DEDUP_WINDOW=10m)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9001", cmdUtil.WrapString("The TCP address on which the node will listen (host:port)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is scanned for <name>.btree indexes with a sibling <name>.lson record file. Names containing '_replica' are loaded on the first miss"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Read and write timeout of a connection in seconds"))

	key = "max-conns"
	ServeCmd.PersistentFlags().Int(key, 256, cmdUtil.WrapString("Maximum number of connections handled at the same time"))

	key = "dedup-window"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Repeated queries for the same author within this window are answered with the duplicate marker. 0 suppresses repeats for the lifetime of the node, a negative value disables suppression"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus /metrics endpoint (e.g. localhost:9101). Disabled if empty"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxConns = viper.GetInt("max-conns")
	serveCmdConfig.DedupWindow = viper.GetDuration("dedup-window")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if err := serveCmdConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the storage node and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	fmt.Print(serveCmdConfig.String())

	serv, err := server.NewServer(*serveCmdConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serv.Serve(ctx)
}
