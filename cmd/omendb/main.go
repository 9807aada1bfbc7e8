// Command omendb is a thin CLI front end over the pkg/ignite storage
// engine, useful for smoke-testing a store from a shell and for the
// bulk-load/stats workflows that don't warrant writing a Go program.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "omendb",
	Short: "omendb - a learned-index embedded key/value store",
	Long: `omendb stores integer-keyed records behind a dynamic, piecewise-linear
learned index instead of a B-tree, targeting point lookups on monotonic or
clustered integer keys. This CLI opens a store directory and runs a single
operation against it.`,
}

var dataDir string

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./omendb-data", "store directory")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(bulkLoadCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(compactCmd)
}
