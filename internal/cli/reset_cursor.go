package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/relayer/internal/control"
	"github.com/vietddude/relayer/internal/core/cursor"
	"github.com/vietddude/relayer/internal/infra/storage"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [filter_id] [block_height]",
	Short: "Move the cursor of a filter to a given block height",
	Long: `Move the cursor of a filter to a given block height. The filter is
re-indexed from the next block on the following run; logs already stored are
overwritten in place.`,
	Args: cobra.ExactArgs(2),
	Run:  runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	filterID := args[0]
	height, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block height: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := control.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	mgr := cursor.NewManager(storage.NewSyncMarkers(store), store)
	if err := mgr.Reset(ctx, filterID, height); err != nil {
		slog.Error("Failed to reset cursor", "filter", filterID, "error", err)
		_ = store.Close()
		os.Exit(1)
	}

	fmt.Printf("Successfully reset cursor for %s to block %d\n", filterID, height)
}
