package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/omendb/omen-sub000/pkg/ignite"
	"github.com/spf13/cobra"
)

var bulkLoadCmd = &cobra.Command{
	Use:   "bulk-load <file>",
	Short: "Load tab-separated key/value pairs from a file in one batch",
	Long: `bulk-load reads lines of the form "<key>\t<value>" from file and inserts
them in a single batch, exercising the same sorted-group insert path a
bulk import of time-series or monotonic-ID data would use.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		var pairs []ignite.Pair
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, "\t", 2)
			if len(parts) != 2 {
				return fmt.Errorf("malformed line, expected <key>\\t<value>: %q", line)
			}
			key, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				return err
			}
			pairs = append(pairs, ignite.Pair{Key: key, Value: []byte(parts[1])})
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		if err := store.BulkInsert(ctx, pairs); err != nil {
			return err
		}
		fmt.Printf("loaded %d entries\n", len(pairs))
		return nil
	},
}
