package index

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/dSearch/cmd/util"
	"github.com/ValentinKolb/dSearch/lib/btree"
	"github.com/ValentinKolb/dSearch/lib/record"
	"github.com/ValentinKolb/dSearch/rpc/server"
	"github.com/spf13/cobra"
)

var (
	// IndexCommands represents the index command group
	IndexCommands = &cobra.Command{
		Use:   "index",
		Short: "Build and inspect the author indexes of record files",
	}

	buildCmd = &cobra.Command{
		Use:   "build [records.lson]...",
		Short: "Build the index of one or more record files",
		Long:  `Build the author index of every given record file and save it next to the file as <name>.btree, the layout expected by the serve command.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBuild,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [index.btree]",
		Short: "Verify an index and print its statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}

	getCmd = &cobra.Command{
		Use:   "get [index.btree] [author]",
		Short: "Look up an author in an index and print its record",
		Long:  `Look up an author in an index and print the record line from the sibling .lson file.`,
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}
)

func init() {
	IndexCommands.AddCommand(buildCmd)
	IndexCommands.AddCommand(inspectCmd)
	IndexCommands.AddCommand(getCmd)

	buildCmd.Flags().Int("degree", btree.DefaultDegree, util.WrapString("Minimum degree of the B-tree (at least 2)"))
	inspectCmd.Flags().Int("keys", 0, util.WrapString("Print the first N keys with their offsets"))
}

// IndexPath returns the index path belonging to a record file
func IndexPath(recordPath string) string {
	return strings.TrimSuffix(recordPath, filepath.Ext(recordPath)) + server.IndexExt
}

// RecordPath returns the record file path belonging to an index
func RecordPath(indexPath string) string {
	return strings.TrimSuffix(indexPath, filepath.Ext(indexPath)) + server.RecordExt
}

func runBuild(cmd *cobra.Command, args []string) error {
	degree, _ := cmd.Flags().GetInt("degree")
	out := cmd.OutOrStdout()

	for _, path := range args {
		tree, stats, err := record.BuildIndex(path, degree)
		if err != nil {
			return err
		}
		target := IndexPath(path)
		if err := tree.SaveFile(target); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s -> %s: %s, height %d\n", path, target, stats, tree.Height())
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	tree, err := btree.LoadFile(args[0])
	if err != nil {
		return err
	}
	if err := tree.Check(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "index:  %s\n", args[0])
	fmt.Fprintf(out, "keys:   %d\n", tree.Len())
	fmt.Fprintf(out, "degree: %d\n", tree.Degree())
	fmt.Fprintf(out, "height: %d\n", tree.Height())

	limit, _ := cmd.Flags().GetInt("keys")
	printed := 0
	tree.Ascend(func(key string, offset uint64) bool {
		if printed >= limit {
			return false
		}
		fmt.Fprintf(out, "  %-10d %s\n", offset, key)
		printed++
		return true
	})
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	tree, err := btree.LoadFile(args[0])
	if err != nil {
		return err
	}
	offset, ok := tree.Search(args[1])
	if !ok {
		return fmt.Errorf("author %q is not in %s", args[1], args[0])
	}

	file, err := record.Open(RecordPath(args[0]))
	if err != nil {
		return err
	}
	defer file.Close()

	line, err := file.ReadAt(offset)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(line))
	return nil
}
