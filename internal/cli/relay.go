package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/vietddude/relayer/internal/control"
	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/attestation"
	"github.com/vietddude/relayer/internal/infra/bridge"
)

var (
	relayChain     uint64
	relayTx        string
	relayDirection string
	relayIndex     int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay one bridge message sent by a transaction",
	Long: `Relay one bridge message sent by a transaction. --chain selects the
bridge by the chain it serves (the L2 of the pair).`,
	Run: runRelay,
}

func init() {
	relayCmd.Flags().Uint64Var(&relayChain, "chain", 0, "chain id of the bridge")
	relayCmd.Flags().StringVar(&relayTx, "tx", "", "source transaction hash")
	relayCmd.Flags().StringVar(&relayDirection, "direction", "l2-to-l1", "l1-to-l2 or l2-to-l1")
	relayCmd.Flags().IntVar(&relayIndex, "index", 0, "message index within the transaction")
	_ = relayCmd.MarkFlagRequired("chain")
	_ = relayCmd.MarkFlagRequired("tx")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) {
	direction, err := domain.ParseMessageDirection(relayDirection)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if len(common.FromHex(relayTx)) != common.HashLength {
		fmt.Printf("Invalid transaction hash %q\n", relayTx)
		os.Exit(1)
	}

	ctx := context.Background()
	chains, err := control.DialChains(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to chains", "error", err)
		os.Exit(1)
	}

	cctp := control.NewCCTPAdapter(cfg, chains.Clients, attestation.NewClient(cfg.CCTP.AttestationURL, 0))
	registry, err := control.NewBridgeRegistry(cfg, chains, cctp)
	if err != nil {
		slog.Error("Failed to build bridges", "error", err)
		os.Exit(1)
	}

	rel, err := registry.Get(domain.ChainID(relayChain))
	if err != nil {
		slog.Error("No bridge for chain", "chain", relayChain, "error", err)
		os.Exit(1)
	}

	tx, err := rel.Relay(ctx, common.HexToHash(relayTx), bridge.MessageOpts{
		Direction:    direction,
		MessageIndex: relayIndex,
	})
	if err != nil {
		slog.Error("Relay failed", "bridge", rel.Name(), "tx", relayTx, "error", err)
		os.Exit(1)
	}
	if tx == nil {
		fmt.Println("Message already relayed")
		return
	}
	fmt.Printf("Relay submitted: %s\n", tx.Hash().Hex())
}
