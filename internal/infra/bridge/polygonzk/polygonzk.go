// Package polygonzk claims Polygon zkEVM bridge deposits with Merkle proofs
// from the bridge service.
package polygonzk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/chain"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
	"github.com/vietddude/relayer/internal/infra/rpc/provider"
	"github.com/vietddude/relayer/internal/infra/rpc/routing"
)

// Leaf types of a BridgeEvent.
const (
	LeafTypeAsset   uint8 = 0
	LeafTypeMessage uint8 = 1
)

type MessageStatus int

const (
	StatusPending MessageStatus = iota
	StatusReadyForClaim
	StatusClaimed
)

var Statuses = []MessageStatus{StatusPending, StatusReadyForClaim, StatusClaimed}

func (s MessageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReadyForClaim:
		return "ready_for_claim"
	case StatusClaimed:
		return "claimed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Message is a decoded BridgeEvent.
type Message struct {
	TxHash             common.Hash
	LeafType           uint8
	OriginNetwork      uint32
	OriginAddress      common.Address
	DestinationNetwork uint32
	DestinationAddress common.Address
	Amount             *big.Int
	Metadata           []byte
	DepositCount       uint32
	// NetworkID is the bridge network the deposit was made on.
	NetworkID uint32
}

type Config struct {
	// Bridge is the PolygonZkEVMBridge address, identical on L1 and L2.
	Bridge common.Address
	// BridgeServiceURL serves deposit status and Merkle proofs.
	BridgeServiceURL string
}

type Adapter struct {
	l1      chain.Client
	l2      chain.Client
	cfg     Config
	api     *provider.HTTPProvider
	retrier *routing.Retrier
	log     *logger.Logger
}

var _ bridge.Adapter[*Message, MessageStatus] = (*Adapter)(nil)

func New(l1, l2 chain.Client, cfg Config, retry routing.RetryConfig) *Adapter {
	return &Adapter{
		l1:      l1,
		l2:      l2,
		cfg:     cfg,
		api:     provider.NewHTTPProvider("polygonzk-bridge-service", cfg.BridgeServiceURL, 30*time.Second),
		retrier: routing.NewRetrier("polygonzk-bridge-service", retry),
		log:     logger.Default().With("bridge", "polygonzk", "chain", l2.ChainID().Name()),
	}
}

// Provider returns the bridge service endpoint.
func (a *Adapter) Provider() provider.Provider {
	return a.api
}

// source returns the chain the message was sent on and the chain it is claimed on.
func (a *Adapter) source(d domain.MessageDirection) (src, dst chain.Client) {
	if d == domain.L1ToL2 {
		return a.l1, a.l2
	}
	return a.l2, a.l1
}

func (a *Adapter) GetMessage(ctx context.Context, txHash common.Hash, opts bridge.MessageOpts) (*Message, error) {
	src, _ := a.source(opts.Direction)

	receipt, err := src.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	l, err := bridge.SelectLog(bridge.LogsByTopic(receipt, a.cfg.Bridge, bridgeEventTopic), opts.MessageIndex, txHash)
	if err != nil {
		return nil, err
	}

	msg, err := decodeBridgeEvent(l)
	if err != nil {
		return nil, err
	}

	out, err := bridge.CallView(ctx, src, a.cfg.Bridge, zkBridge, "networkID")
	if err != nil {
		return nil, err
	}
	msg.NetworkID, _ = out[0].(uint32)
	return msg, nil
}

func decodeBridgeEvent(l *types.Log) (*Message, error) {
	values, err := zkBridge.Unpack("BridgeEvent", l.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack BridgeEvent: %w", err)
	}
	if len(values) != 8 {
		return nil, fmt.Errorf("BridgeEvent: expected 8 values, got %d", len(values))
	}
	return &Message{
		TxHash:             l.TxHash,
		LeafType:           values[0].(uint8),
		OriginNetwork:      values[1].(uint32),
		OriginAddress:      values[2].(common.Address),
		DestinationNetwork: values[3].(uint32),
		DestinationAddress: values[4].(common.Address),
		Amount:             values[5].(*big.Int),
		Metadata:           values[6].([]byte),
		DepositCount:       values[7].(uint32),
	}, nil
}

type depositResponse struct {
	Deposit struct {
		ReadyForClaim bool `json:"ready_for_claim"`
	} `json:"deposit"`
}

type proofResponse struct {
	Proof struct {
		MerkleProof    []common.Hash `json:"merkle_proof"`
		MainExitRoot   common.Hash   `json:"main_exit_root"`
		RollupExitRoot common.Hash   `json:"rollup_exit_root"`
	} `json:"proof"`
}

func (a *Adapter) GetMessageStatus(ctx context.Context, msg *Message, opts bridge.MessageOpts) (MessageStatus, error) {
	_, dst := a.source(opts.Direction)

	out, err := bridge.CallView(ctx, dst, a.cfg.Bridge, zkBridge, "isClaimed", new(big.Int).SetUint64(uint64(msg.DepositCount)))
	if err != nil {
		return 0, err
	}
	if claimed, _ := out[0].(bool); claimed {
		return StatusClaimed, nil
	}

	var resp depositResponse
	err = a.get(ctx, "bridge", msg, &resp)
	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		// not indexed by the bridge service yet
		return StatusPending, nil
	}
	if err != nil {
		return 0, err
	}
	if resp.Deposit.ReadyForClaim {
		return StatusReadyForClaim, nil
	}
	return StatusPending, nil
}

func (a *Adapter) IsMessageInFlight(s MessageStatus) bool  { return s == StatusPending }
func (a *Adapter) IsMessageRelayable(s MessageStatus) bool { return s == StatusReadyForClaim }
func (a *Adapter) IsMessageRelayed(s MessageStatus) bool   { return s == StatusClaimed }

func (a *Adapter) SendRelayTx(ctx context.Context, w wallet.Wallet, msg *Message, _ bridge.MessageOpts) (*types.Transaction, error) {
	var resp proofResponse
	if err := a.get(ctx, "merkle-proof", msg, &resp); err != nil {
		return nil, err
	}
	if len(resp.Proof.MerkleProof) != 32 {
		return nil, fmt.Errorf("merkle proof: expected 32 nodes, got %d", len(resp.Proof.MerkleProof))
	}
	var smtProof [32][32]byte
	for i, node := range resp.Proof.MerkleProof {
		smtProof[i] = node
	}

	method := "claimAsset"
	if msg.LeafType == LeafTypeMessage {
		method = "claimMessage"
	}

	data, err := zkBridge.Pack(method,
		smtProof,
		msg.DepositCount,
		resp.Proof.MainExitRoot,
		resp.Proof.RollupExitRoot,
		msg.OriginNetwork,
		msg.OriginAddress,
		msg.DestinationNetwork,
		msg.DestinationAddress,
		msg.Amount,
		msg.Metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	return w.SendTransaction(ctx, wallet.TxRequest{
		To:       a.cfg.Bridge,
		Data:     data,
		GasLimit: bridge.RelayGasLimit,
	})
}

func (a *Adapter) get(ctx context.Context, path string, msg *Message, out any) error {
	q := url.Values{}
	q.Set("deposit_cnt", fmt.Sprint(msg.DepositCount))
	q.Set("net_id", fmt.Sprint(msg.NetworkID))
	full := path + "?" + q.Encode()

	raw, err := routing.Call(ctx, a.retrier, path, func(ctx context.Context) (json.RawMessage, error) {
		var raw json.RawMessage
		err := a.api.Get(ctx, full, &raw)
		return raw, err
	})
	if err != nil {
		return fmt.Errorf("bridge service %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bridge service %s: invalid json response body: %w", path, err)
	}
	return nil
}
