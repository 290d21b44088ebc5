package split

import (
	"fmt"
	"path/filepath"

	"github.com/ValentinKolb/dSearch/cmd/index"
	"github.com/ValentinKolb/dSearch/cmd/util"
	"github.com/ValentinKolb/dSearch/lib/btree"
	"github.com/ValentinKolb/dSearch/lib/layout"
	"github.com/ValentinKolb/dSearch/lib/record"
	"github.com/spf13/cobra"
)

var (
	// SplitCmd represents the split command
	SplitCmd = &cobra.Command{
		Use:   "split [records.lson]",
		Short: "Split a record file into chunks and replicas per storage node",
		Long: `Split a record file into one contiguous chunk per storage node and place the replicas of chunk i on the following servers.
The output directory receives one server<i> folder per node. With --index the index of every written file is built as well.
The printed chunk assignment can be passed to the query command with --chunks.`,
		Args: cobra.ExactArgs(1),
		RunE: runSplit,
	}

	// BucketCmd represents the bucket command
	BucketCmd = &cobra.Command{
		Use:   "bucket [author]...",
		Short: "Print the hash bucket of authors",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBucket,
	}
)

func init() {
	key := "out"
	SplitCmd.Flags().String(key, "cluster", util.WrapString("Output directory"))

	key = "chunks"
	SplitCmd.Flags().Int(key, 3, util.WrapString("Number of chunks, one per storage node"))

	key = "replicas"
	SplitCmd.Flags().Int(key, 1, util.WrapString("Number of replicas per chunk (less than --chunks)"))

	key = "index"
	SplitCmd.Flags().Bool(key, true, util.WrapString("Build the index of every written file"))

	BucketCmd.Flags().Int("buckets", 3, util.WrapString("Number of buckets"))
}

func runSplit(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("out")
	chunks, _ := cmd.Flags().GetInt("chunks")
	replicas, _ := cmd.Flags().GetInt("replicas")
	buildIndex, _ := cmd.Flags().GetBool("index")

	stats, err := layout.Split(args[0], outDir, chunks, replicas)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "distributed %d lines over %d files in %s\n", stats.Lines, len(stats.Files), outDir)

	if buildIndex {
		for _, file := range stats.Files {
			path := filepath.Join(outDir, file)
			tree, buildStats, err := record.BuildIndex(path, btree.DefaultDegree)
			if err != nil {
				return err
			}
			if err := tree.SaveFile(index.IndexPath(path)); err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s: %s\n", file, buildStats)
		}
	}

	chunkMap, err := util.DefaultChunks(chunks, replicas)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "chunk assignment: %s\n", util.FormatChunks(chunkMap))
	return nil
}

func runBucket(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("buckets")
	if n <= 0 {
		return fmt.Errorf("--buckets must be positive, got %d", n)
	}
	for _, author := range args {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", author, layout.Bucket(author, n))
	}
	return nil
}
