package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dSearch/cmd/util"
	"github.com/ValentinKolb/dSearch/lib/directory"
	"github.com/ValentinKolb/dSearch/rpc/client"
	"github.com/ValentinKolb/dSearch/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var (
	Logger = logger.GetLogger("cmd")

	clientConfig *common.ClientConfig
	dir          *directory.Directory

	// QueryCmd represents the query command
	QueryCmd = &cobra.Command{
		Use:               "query [author]...",
		Short:             "Count the papers of one or more authors",
		Long:              `Query every chunk of the cluster for the given authors and print the merged paper counts per year. Chunks whose primary and replica are both unavailable are skipped and reported.`,
		Args:              cobra.MinimumNArgs(1),
		PersistentPreRunE: setupCluster,
		RunE:              runQuery,
	}

	// StatusCmd represents the status command
	StatusCmd = &cobra.Command{
		Use:               "status",
		Short:             "Probe all storage nodes and print which are alive",
		PersistentPreRunE: setupCluster,
		RunE:              runStatus,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{QueryCmd, StatusCmd} {
		util.SetupClientFlags(cmd)
		cmd.PersistentFlags().String("assume-down", "", util.WrapString("Comma-separated list of server IDs that are treated as down without probing"))
	}

	key := "from"
	QueryCmd.Flags().Int(key, -1, util.WrapString("First year to count (-1 means no lower bound)"))

	key = "to"
	QueryCmd.Flags().Int(key, -1, util.WrapString("Last year to count (-1 means no upper bound)"))

	key = "stats"
	QueryCmd.Flags().Bool(key, false, util.WrapString("Print attempt and latency statistics after all queries"))
}

// setupCluster builds the replica directory from the client configuration
func setupCluster(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	if clientConfig, err = util.GetClientConfig(); err != nil {
		return err
	}
	if err = common.InitLoggers(clientConfig.LogLevel); err != nil {
		return err
	}
	Logger.Debugf("client configuration:%s", clientConfig.String())

	if dir, err = directory.New(clientConfig.Topology()); err != nil {
		return err
	}
	dir.SetProbeTimeout(clientConfig.DialTimeout())
	dir.SetOnTransition(func(t directory.Transition) {
		Logger.Debugf("transition: %s", t)
	})

	downIDs, err := parseIDs(cmd.Flag("assume-down").Value.String())
	if err != nil {
		return err
	}
	if len(downIDs) > 0 {
		// manual marks would be overwritten by the probe before every query
		clientConfig.HealthCheck = false
		for _, id := range downIDs {
			dir.MarkDown(id)
		}
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetInt("from")
	to, _ := cmd.Flags().GetInt("to")
	if from != -1 && to != -1 && from > to {
		return fmt.Errorf("--from %d is after --to %d", from, to)
	}

	exec := client.NewExecutor(dir, client.NewClient(*clientConfig), *clientConfig)
	out := cmd.OutOrStdout()

	for _, author := range args {
		result := exec.Query(cmd.Context(), author)
		fmt.Fprint(out, FormatResult(result, from, to))
	}

	if printStats, _ := cmd.Flags().GetBool("stats"); printStats {
		stats := exec.Stats()
		fmt.Fprintf(out, "\nqueries: %d, attempts: %d, failovers: %d, omitted chunks: %d, duplicate records: %d\n",
			stats.Queries, stats.Attempts, stats.Failovers, stats.Omitted, stats.Duplicates)
		fmt.Fprintf(out, "latency: mean %s, p99 %s\n", stats.MeanLatency, stats.P99Latency)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	status := dir.StatusSnapshot()
	if clientConfig.HealthCheck {
		status = dir.HealthCheck(cmd.Context())
	}
	fmt.Fprint(cmd.OutOrStdout(), FormatStatus(dir, status))
	if len(status.Down) > 0 {
		return fmt.Errorf("%d of %d storage nodes are down", len(status.Down), len(dir.Servers()))
	}
	return nil
}

func parseIDs(list string) ([]directory.ServerID, error) {
	var ids []directory.ServerID
	if strings.TrimSpace(list) == "" {
		return ids, nil
	}
	for _, field := range strings.Split(list, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid server ID %s: %v", field, err)
		}
		ids = append(ids, directory.ServerID(id))
	}
	return ids, nil
}
