package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the store's entry count, leaf count, and log sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		stats := store.Stats(ctx)
		fmt.Printf("entries:                    %d\n", stats.Entries)
		fmt.Printf("leaves:                     %d\n", stats.Leaves)
		fmt.Printf("data file bytes:            %d\n", stats.DataFileBytes)
		fmt.Printf("WAL entries since checkpoint: %d\n", stats.WALEntriesSinceCheckpoint)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the value log to reclaim space from deleted/overwritten keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		return store.Compact(ctx)
	},
}
