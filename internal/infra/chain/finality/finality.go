// Package finality resolves the current, safe and finalized block numbers of a chain.
package finality

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// BlockTag is a finality class.
type BlockTag string

const (
	Safe      BlockTag = "safe"
	Finalized BlockTag = "finalized"
)

var (
	ErrCustomBlockNumberUnsupported = errors.New("custom block number not supported")
	ErrUnknownStrategy              = errors.New("unknown finality strategy")
)

// HeaderReader is the subset of chain.Client needed to resolve finality.
type HeaderReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
}

// Strategy resolves block numbers for each finality class.
type Strategy interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SafeBlockNumber(ctx context.Context) (uint64, error)
	FinalizedBlockNumber(ctx context.Context) (uint64, error)
	CustomBlockNumber(ctx context.Context, tag BlockTag) (uint64, error)
}

// CustomLookup is a chain-specific block number source.
type CustomLookup interface {
	CustomBlockNumber(ctx context.Context, tag BlockTag) (uint64, error)
}

// Default uses the node's native safe and finalized tags.
type Default struct {
	client HeaderReader
}

func NewDefault(client HeaderReader) *Default {
	return &Default{client: client}
}

func (d *Default) BlockNumber(ctx context.Context) (uint64, error) {
	return d.client.BlockNumber(ctx)
}

func (d *Default) SafeBlockNumber(ctx context.Context) (uint64, error) {
	return d.tagged(ctx, rpc.SafeBlockNumber)
}

func (d *Default) FinalizedBlockNumber(ctx context.Context) (uint64, error) {
	return d.tagged(ctx, rpc.FinalizedBlockNumber)
}

func (d *Default) CustomBlockNumber(context.Context, BlockTag) (uint64, error) {
	return 0, ErrCustomBlockNumberUnsupported
}

func (d *Default) tagged(ctx context.Context, tag rpc.BlockNumber) (uint64, error) {
	header, err := d.client.HeaderByNumber(ctx, big.NewInt(tag.Int64()))
	if err != nil {
		return 0, fmt.Errorf("get %s header: %w", tag, err)
	}
	return header.Number.Uint64(), nil
}

// Default confirmation depths for Probabilistic.
const (
	DefaultSafeConfirmations      uint64 = 128
	DefaultFinalizedConfirmations uint64 = 256
)

// Probabilistic derives finality from a fixed confirmation depth below head,
// for chains without native safe or finalized tags.
type Probabilistic struct {
	client    HeaderReader
	safe      uint64
	finalized uint64
}

func NewProbabilistic(client HeaderReader, safe, finalized uint64) *Probabilistic {
	if safe == 0 {
		safe = DefaultSafeConfirmations
	}
	if finalized == 0 {
		finalized = DefaultFinalizedConfirmations
	}
	return &Probabilistic{client: client, safe: safe, finalized: finalized}
}

func (p *Probabilistic) BlockNumber(ctx context.Context) (uint64, error) {
	return p.client.BlockNumber(ctx)
}

func (p *Probabilistic) SafeBlockNumber(ctx context.Context) (uint64, error) {
	return p.below(ctx, p.safe)
}

func (p *Probabilistic) FinalizedBlockNumber(ctx context.Context) (uint64, error) {
	return p.below(ctx, p.finalized)
}

func (p *Probabilistic) CustomBlockNumber(context.Context, BlockTag) (uint64, error) {
	return 0, ErrCustomBlockNumberUnsupported
}

func (p *Probabilistic) below(ctx context.Context, depth uint64) (uint64, error) {
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < depth {
		return 0, nil
	}
	return head - depth, nil
}

// Collateralized serves optimistic rollups whose native safe tag can reorg.
// Safe comes from a custom lookup when one is available, otherwise from the
// finalized block. The result never exceeds head.
type Collateralized struct {
	*Default
	custom CustomLookup
	log    *logger.Logger
}

func NewCollateralized(client HeaderReader, custom CustomLookup) *Collateralized {
	return &Collateralized{
		Default: NewDefault(client),
		custom:  custom,
		log:     logger.Default().With("component", "finality"),
	}
}

func (c *Collateralized) SafeBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.CustomBlockNumber(ctx, Safe)
	if err != nil {
		c.log.Warn("Custom safe block lookup failed, falling back to finalized", "error", err)
		if n, err = c.FinalizedBlockNumber(ctx); err != nil {
			return 0, err
		}
	}
	return c.clamp(ctx, n)
}

func (c *Collateralized) CustomBlockNumber(ctx context.Context, tag BlockTag) (uint64, error) {
	if c.custom == nil {
		return 0, ErrCustomBlockNumberUnsupported
	}
	return c.custom.CustomBlockNumber(ctx, tag)
}

func (c *Collateralized) clamp(ctx context.Context, n uint64) (uint64, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return min(n, head), nil
}

// Options configures New.
type Options struct {
	SafeConfirmations      uint64
	FinalizedConfirmations uint64
	// Custom is the lookup used by collateralized strategies.
	Custom CustomLookup
}

// New builds the strategy named by kind.
func New(kind string, client HeaderReader, opts Options) (Strategy, error) {
	switch kind {
	case "", "default":
		return NewDefault(client), nil
	case "probabilistic":
		return NewProbabilistic(client, opts.SafeConfirmations, opts.FinalizedConfirmations), nil
	case "collateralized", "polygonzk":
		return NewCollateralized(client, opts.Custom), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
}
