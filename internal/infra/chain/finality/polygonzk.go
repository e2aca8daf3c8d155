package finality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/relayer/internal/infra/rpc/provider"
	"github.com/vietddude/relayer/internal/infra/rpc/routing"
)

// zkEVM posts roughly 3 batches per minute; stay 6 minutes behind the
// reported batch so its L1 data is safe.
const polygonZkBatchLag = 3 * 6

var polygonZkBatchMethods = map[BlockTag]string{
	Safe:      "zkevm_virtualBatchNumber",
	Finalized: "zkevm_verifiedBatchNumber",
}

var errEmptyBatch = errors.New("no blocks in batch")

type zkBatch struct {
	Number hexutil.Uint64 `json:"number"`
	Blocks []common.Hash  `json:"blocks"`
}

// PolygonZk resolves safe and finalized blocks from zkEVM batch numbers.
type PolygonZk struct {
	rpc     provider.RPCProvider
	headers HeaderReader
	retrier *routing.Retrier
	log     *logger.Logger

	mu    sync.Mutex
	cache map[uint64]uint64 // batch number -> last block in batch
}

func NewPolygonZk(rpc provider.RPCProvider, headers HeaderReader, retrier *routing.Retrier) *PolygonZk {
	return &PolygonZk{
		rpc:     rpc,
		headers: headers,
		retrier: retrier,
		log:     logger.Default().With("component", "finality", "chain", "polygonzk"),
		cache:   make(map[uint64]uint64),
	}
}

func (z *PolygonZk) CustomBlockNumber(ctx context.Context, tag BlockTag) (uint64, error) {
	method, ok := polygonZkBatchMethods[tag]
	if !ok {
		return 0, fmt.Errorf("%w: tag %s", ErrCustomBlockNumberUnsupported, tag)
	}

	var batchNumber hexutil.Uint64
	if err := z.call(ctx, &batchNumber, method); err != nil {
		return 0, err
	}
	if uint64(batchNumber) < polygonZkBatchLag {
		return 0, fmt.Errorf("batch number %d below lag", batchNumber)
	}
	target := uint64(batchNumber) - polygonZkBatchLag

	z.mu.Lock()
	cached, ok := z.cache[target]
	z.mu.Unlock()
	if ok {
		z.log.Debug("Using cached batch block", "batch", target, "block", cached)
		return cached, nil
	}

	var batch zkBatch
	if err := z.call(ctx, &batch, "zkevm_getBatchByNumber", hexutil.EncodeUint64(target)); err != nil {
		return 0, err
	}
	if len(batch.Blocks) == 0 {
		return 0, fmt.Errorf("batch %d: %w", target, errEmptyBatch)
	}

	header, err := z.headers.HeaderByHash(ctx, batch.Blocks[len(batch.Blocks)-1])
	if err != nil {
		return 0, fmt.Errorf("get last block of batch %d: %w", target, err)
	}
	number := header.Number.Uint64()

	z.mu.Lock()
	z.cache[target] = number
	z.mu.Unlock()

	return number, nil
}

func (z *PolygonZk) call(ctx context.Context, out any, method string, params ...any) error {
	raw, err := routing.Call(ctx, z.retrier, method, func(ctx context.Context) (json.RawMessage, error) {
		return z.rpc.Call(ctx, method, params)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: invalid json response body: %w", method, err)
	}
	return nil
}
