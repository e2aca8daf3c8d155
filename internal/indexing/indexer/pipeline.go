package indexer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	logger "log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/relayer/internal/core/cursor"
	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/indexing/emitter"
	"github.com/vietddude/relayer/internal/indexing/metrics"
	"github.com/vietddude/relayer/internal/indexing/throttle"
	"github.com/vietddude/relayer/internal/infra/storage"
)

var (
	ErrRunning         = errors.New("indexer already running")
	ErrUnknownChain    = errors.New("no client for chain")
	ErrDuplicateFilter = errors.New("filter already added")
	ErrUnknownFilter   = errors.New("unknown filter")
)

const headerFetchConcurrency = 4

// EventIndexer runs one polling loop per filter.
type EventIndexer struct {
	cfg Config
	log *logger.Logger

	mu       sync.RWMutex
	order    []string
	filters  map[string]*pipeline
	heads    map[string]*throttle.HeadCache
	started  bool
	stop     chan struct{}
	wg       sync.WaitGroup
	stopping atomic.Bool
}

type pipeline struct {
	filter     Filter
	id         string
	chain      Chain
	head       *throttle.HeadCache
	controller *throttle.AdaptiveController

	mu       sync.Mutex
	lastHead uint64
}

// New creates an indexer without filters.
func New(cfg Config) *EventIndexer {
	if cfg.Emitter == nil {
		cfg.Emitter = emitter.Nop{}
	}
	if cfg.Fatal == nil {
		cfg.Fatal = func(error) { os.Exit(1) }
	}
	if cfg.Throttle == (throttle.AdaptiveConfig{}) {
		cfg.Throttle = throttle.DefaultConfig()
	}
	return &EventIndexer{
		cfg:     cfg,
		log:     logger.Default().With("component", "indexer"),
		filters: make(map[string]*pipeline),
		heads:   make(map[string]*throttle.HeadCache),
		stop:    make(chan struct{}),
	}
}

// AddFilter registers a filter and returns its id. Filters must be added
// before Start.
func (ix *EventIndexer) AddFilter(f Filter) (string, error) {
	ch, ok := ix.cfg.Chains[f.ChainID]
	if !ok || ch.Client == nil {
		return "", fmt.Errorf("%w %s", ErrUnknownChain, f.ChainID)
	}
	if f.MaxBlockRange == 0 {
		f.MaxBlockRange = DefaultMaxBlockRange
	}
	if f.PollInterval <= 0 {
		f.PollInterval = DefaultPollInterval
	}
	if f.IndexAt == "" {
		f.IndexAt = IndexAtLatest
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.started {
		return "", ErrRunning
	}

	id := f.ID()
	if _, ok := ix.filters[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateFilter, id)
	}

	headKey := fmt.Sprintf("%d:%s", f.ChainID, f.IndexAt)
	head, ok := ix.heads[headKey]
	if !ok {
		head = throttle.NewHeadCache(syncHead(ch, f.IndexAt), ix.cfg.Throttle.HeadCacheTTL)
		ix.heads[headKey] = head
	}

	ix.filters[id] = &pipeline{
		filter:     f,
		id:         id,
		chain:      ch,
		head:       head,
		controller: throttle.NewAdaptiveController(f.ChainID, f.PollInterval, ix.cfg.Throttle),
	}
	ix.order = append(ix.order, id)
	return id, nil
}

// syncHead is the finality strategy's safe block for IndexAtSafe and the
// latest block otherwise.
func syncHead(ch Chain, at IndexAt) throttle.HeadSource {
	if ch.Finality == nil {
		return ch.Client.BlockNumber
	}
	if at == IndexAtSafe {
		return ch.Finality.SafeBlockNumber
	}
	return ch.Finality.BlockNumber
}

// Filters returns the registered filters in insertion order.
func (ix *EventIndexer) Filters() []Filter {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Filter, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.filters[id].filter)
	}
	return out
}

func (ix *EventIndexer) pipelines() []*pipeline {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*pipeline, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.filters[id])
	}
	return out
}

// Init loads or creates every cursor and performs one sync per filter.
func (ix *EventIndexer) Init(ctx context.Context) error {
	for _, p := range ix.pipelines() {
		marker, err := ix.cfg.Cursor.Initialize(ctx, p.id, p.filter.ChainID, p.filter.StartBlock)
		if err != nil {
			return fmt.Errorf("init cursor %s: %w", p.filter.label(), err)
		}
		ix.log.Info("Filter initialized",
			"filter", p.filter.label(),
			"chain", p.filter.ChainID.Name(),
			"address", p.filter.Address.Hex(),
			"last_block_synced", marker.LastBlockSynced,
		)
		if _, err := ix.sync(ctx, p); err != nil {
			return fmt.Errorf("initial sync %s: %w", p.filter.label(), err)
		}
	}
	return nil
}

// Start launches the filter loops and returns.
func (ix *EventIndexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	if ix.started {
		ix.mu.Unlock()
		return ErrRunning
	}
	ix.started = true
	ix.mu.Unlock()

	ps := ix.pipelines()
	for _, p := range ps {
		ix.wg.Add(1)
		go ix.run(ctx, p)
	}
	ix.log.Info("Indexer started", "filters", len(ps))
	return nil
}

// Stop stops scheduling polls and waits for in-flight polls to finish.
func (ix *EventIndexer) Stop() error {
	if ix.stopping.CompareAndSwap(false, true) {
		close(ix.stop)
	}
	ix.wg.Wait()
	return nil
}

// Lookup returns the log a filter indexed under lookupKey.
func (ix *EventIndexer) Lookup(ctx context.Context, filterID, lookupKey string) (domain.IndexedLog, bool, error) {
	return ix.cfg.Logs.Lookup(ctx, filterID, lookupKey)
}

// Forget deletes the log a filter indexed under lookupKey.
func (ix *EventIndexer) Forget(ctx context.Context, filterID, lookupKey string) (bool, error) {
	return ix.cfg.Logs.Forget(ctx, filterID, lookupKey)
}

// Scan visits every log indexed by a filter in chain order.
func (ix *EventIndexer) Scan(ctx context.Context, filterID string, fn func(domain.IndexedLog) error) error {
	return ix.cfg.Logs.Scan(ctx, filterID, fn)
}

// Status returns a snapshot of one filter.
func (ix *EventIndexer) Status(ctx context.Context, filterID string) (Status, error) {
	ix.mu.RLock()
	p, ok := ix.filters[filterID]
	ix.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownFilter, filterID)
	}

	marker, err := ix.cfg.Cursor.Get(ctx, filterID)
	if err != nil {
		return Status{}, err
	}
	p.mu.Lock()
	head := p.lastHead
	p.mu.Unlock()

	return Status{
		FilterID:        filterID,
		Name:            p.filter.label(),
		ChainID:         p.filter.ChainID,
		LastBlockSynced: marker.LastBlockSynced,
		Head:            head,
		Lag:             int64(head) - int64(marker.LastBlockSynced),
		State:           ix.cfg.Cursor.State(filterID),
		BlocksPerSecond: ix.cfg.Cursor.GetMetrics(filterID).BlocksPerSecond,
	}, nil
}

// Statuses returns a snapshot of every filter.
func (ix *EventIndexer) Statuses(ctx context.Context) ([]Status, error) {
	var out []Status
	for _, p := range ix.pipelines() {
		s, err := ix.Status(ctx, p.id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (ix *EventIndexer) run(ctx context.Context, p *pipeline) {
	defer ix.wg.Done()

	timer := time.NewTimer(p.filter.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.stop:
			return
		case <-timer.C:
			lag, err := ix.sync(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				ix.log.Error("Indexer poll failed",
					"filter", p.filter.label(),
					"chain", p.filter.ChainID.Name(),
					"error", err,
				)
				ix.cfg.Fatal(err)
				return
			}
			timer.Reset(p.controller.ComputeInterval(lag))
		}
	}
}

// sync indexes everything between the cursor and the sync head and returns
// the lag observed before syncing.
func (ix *EventIndexer) sync(ctx context.Context, p *pipeline) (int64, error) {
	if ix.cfg.Cursor.State(p.id) == cursor.StatePaused {
		return 0, nil
	}

	marker, err := ix.cfg.Cursor.Get(ctx, p.id)
	if err != nil {
		return 0, err
	}

	head, err := p.head.GetLatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("get sync head: %w", err)
	}
	p.mu.Lock()
	p.lastHead = head
	p.mu.Unlock()
	metrics.ChainLatestBlock.WithLabelValues(p.filter.ChainID.Name()).Set(float64(head))

	// the head block itself waits for the next cycle
	from := marker.LastBlockSynced + 1
	if from >= head {
		ix.setState(p, cursor.StateScanning, "at sync head")
		return 0, nil
	}

	lag := int64(head - marker.LastBlockSynced)
	if uint64(lag) > p.filter.MaxBlockRange {
		ix.setState(p, cursor.StateCatchup, "behind sync head")
	} else {
		ix.setState(p, cursor.StateScanning, "near sync head")
	}

	for from <= head {
		if err := ctx.Err(); err != nil {
			return lag, err
		}
		to := min(from+p.filter.MaxBlockRange-1, head)
		if err := ix.syncWindow(ctx, p, from, to); err != nil {
			return lag, fmt.Errorf("sync blocks %d-%d: %w", from, to, err)
		}
		from = to + 1
	}
	return lag, nil
}

func (ix *EventIndexer) setState(p *pipeline, s cursor.State, reason string) {
	if err := ix.cfg.Cursor.SetState(p.id, s, reason); err != nil {
		ix.log.Debug("Cursor state unchanged", "filter", p.filter.label(), "error", err)
	}
}

func (ix *EventIndexer) syncWindow(ctx context.Context, p *pipeline, from, to uint64) error {
	raw, err := p.chain.Client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{p.filter.Address},
		Topics:    [][]common.Hash{{p.filter.Topic0}},
	})
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	raw = slices.DeleteFunc(raw, func(l types.Log) bool { return l.Removed })
	slices.SortFunc(raw, func(a, b types.Log) int {
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})

	times, err := ix.blockTimes(ctx, p, raw)
	if err != nil {
		return err
	}

	logs := make([]domain.IndexedLog, 0, len(raw))
	var ops []storage.Op
	for _, l := range raw {
		il := ix.decode(p, l, times[l.BlockNumber])
		logOps, err := ix.cfg.Logs.Ops(il)
		if err != nil {
			return err
		}
		ops = append(ops, logOps...)
		logs = append(logs, il)
	}

	if err := ix.cfg.Cursor.Advance(ctx, p.id, to, ops); err != nil {
		if errors.Is(err, cursor.ErrCursorPaused) {
			return nil
		}
		return err
	}

	metrics.IndexerLatestBlock.WithLabelValues(p.filter.ChainID.Name(), p.filter.label()).Set(float64(to))
	metrics.LogsIndexed.WithLabelValues(p.filter.ChainID.Name(), p.filter.label()).Add(float64(len(logs)))
	if len(logs) > 0 {
		ix.log.Debug("Logs indexed",
			"filter", p.filter.label(),
			"from", from,
			"to", to,
			"count", len(logs),
		)
	}

	return ix.cfg.Emitter.EmitBatch(ctx, logs)
}

// decode converts a chain log into its persisted form.
func (ix *EventIndexer) decode(p *pipeline, l types.Log, timestamp uint64) domain.IndexedLog {
	il := domain.IndexedLog{
		Version:     domain.IndexedLogVersion,
		FilterID:    p.id,
		ChainID:     p.filter.ChainID,
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		TxIndex:     l.TxIndex,
		LogIndex:    l.Index,
		Timestamp:   timestamp,
	}
	if p.filter.LookupKey != nil {
		key, err := p.filter.LookupKey(l)
		if err != nil {
			ix.log.Warn("Log has no lookup key",
				"filter", p.filter.label(),
				"tx", l.TxHash.Hex(),
				"index", l.Index,
				"error", err,
			)
		}
		il.LookupKey = key
	}
	return il
}

// blockTimes fetches the timestamp of every block that carries a log.
// logs must be sorted by block.
func (ix *EventIndexer) blockTimes(ctx context.Context, p *pipeline, logs []types.Log) (map[uint64]uint64, error) {
	var blocks []uint64
	for _, l := range logs {
		if len(blocks) == 0 || blocks[len(blocks)-1] != l.BlockNumber {
			blocks = append(blocks, l.BlockNumber)
		}
	}

	times := make(map[uint64]uint64, len(blocks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headerFetchConcurrency)
	for _, n := range blocks {
		g.Go(func() error {
			header, err := p.chain.Client.HeaderByNumber(gctx, new(big.Int).SetUint64(n))
			if err != nil {
				return fmt.Errorf("get header %d: %w", n, err)
			}
			mu.Lock()
			times[n] = header.Time
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return times, nil
}
