package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/relayer/internal/control"
	"github.com/vietddude/relayer/internal/infra/storage"
	relaycctp "github.com/vietddude/relayer/internal/relay/cctp"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show indexer cursors and CCTP message counts per state",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store, err := control.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	names := make(map[string]string)
	if mcfg, err := control.MachineConfig(cfg); err == nil {
		for _, f := range mcfg.Filters() {
			names[f.ID()] = f.Name
		}
	}

	markers, err := storage.NewSyncMarkers(store).List(ctx)
	if err != nil {
		slog.Error("Failed to list cursors", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "FILTER\tNAME\tCHAIN\tBLOCK\tUPDATED")
	for _, m := range markers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			m.FilterID, names[m.FilterID], m.ChainID.Name(), m.LastBlockSynced, m.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()

	counts, err := storage.NewStateStore(store, relaycctp.MachineName, relaycctp.States).Count(ctx)
	if err != nil {
		slog.Error("Failed to count messages", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATE\tMESSAGES")
	for _, state := range relaycctp.States {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", state, counts[state])
	}
	_ = w.Flush()
}
