package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/relayer/internal/core/config"
	"github.com/vietddude/relayer/internal/core/cursor"
	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/core/worker"
	"github.com/vietddude/relayer/internal/indexing/emitter"
	"github.com/vietddude/relayer/internal/indexing/filter"
	"github.com/vietddude/relayer/internal/indexing/health"
	"github.com/vietddude/relayer/internal/indexing/indexer"
	"github.com/vietddude/relayer/internal/infra/attestation"
	"github.com/vietddude/relayer/internal/infra/bridge"
	redisclient "github.com/vietddude/relayer/internal/infra/redis"
	"github.com/vietddude/relayer/internal/infra/storage"
	relaycctp "github.com/vietddude/relayer/internal/relay/cctp"
)

// notificationBuffer is the number of indexed logs queued for the state
// machine before the indexer blocks.
const notificationBuffer = 1024

const shutdownTimeout = 10 * time.Second

// Relayer owns every long-running component of the process.
type Relayer struct {
	cfg     *config.AppConfig
	store   *Store
	chains  *Chains
	redis   *redisclient.Client
	bridges *bridge.Registry
	cursors *cursor.DefaultManager
	indexer *indexer.EventIndexer
	events  *emitter.Channel
	// machine is nil when cctp is disabled
	machine *relaycctp.MessageStateMachine
	pruner  *worker.Pruner
	health  *health.Server
	log     *slog.Logger

	fatal chan error
}

// NewRelayer opens storage, connects to every chain and wires the indexer,
// the CCTP state machine and the health server.
func NewRelayer(ctx context.Context, cfg *config.AppConfig) (*Relayer, error) {
	r := &Relayer{
		cfg:   cfg,
		log:   slog.Default().With("component", "relayer", "network", string(cfg.Network)),
		fatal: make(chan error, 1),
	}

	if err := r.build(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Relayer) build(ctx context.Context) error {
	var err error
	if r.store, err = OpenStore(ctx, r.cfg); err != nil {
		return err
	}
	if r.chains, err = DialChains(ctx, r.cfg); err != nil {
		return err
	}

	attestations := attestation.NewClient(r.cfg.CCTP.AttestationURL, 0)
	r.chains.Providers = append(r.chains.Providers, attestations.Provider())
	cctp := NewCCTPAdapter(r.cfg, r.chains.Clients, attestations)
	if r.bridges, err = NewBridgeRegistry(r.cfg, r.chains, cctp); err != nil {
		return err
	}

	r.cursors = cursor.NewManager(storage.NewSyncMarkers(r.store), r.store)

	idxChains := make(map[domain.ChainID]indexer.Chain, len(r.cfg.Chains))
	for id, client := range r.chains.Clients {
		idxChains[id] = indexer.Chain{Client: client, Finality: r.chains.Finality[id]}
	}
	idxCfg := indexer.Config{
		Chains:  idxChains,
		Cursor:  r.cursors,
		Logs:    storage.NewLogStore(r.store),
		Emitter: emitter.Nop{},
		Fatal:   r.onFatal,
	}

	if r.cfg.CCTP.Enabled {
		r.events = emitter.NewChannel(notificationBuffer)
		idxCfg.Emitter = r.events
	}
	r.indexer = indexer.New(idxCfg)

	var counters []health.ItemCounter
	if r.cfg.CCTP.Enabled {
		if err := r.buildCCTP(attestations, cctp); err != nil {
			return err
		}
		counters = append(counters, r.machine)
	}

	monitor := health.NewMonitor(r.indexer, counters...)
	monitor.WatchProviders(r.chains.Providers...)
	r.health = health.NewServer(monitor, r.cfg.Server.Port)
	return nil
}

func (r *Relayer) buildCCTP(attestations attestation.Fetcher, receiver relaycctp.Receiver) error {
	mcfg, err := MachineConfig(r.cfg)
	if err != nil {
		return err
	}
	for _, f := range mcfg.Filters() {
		if _, err := r.indexer.AddFilter(f); err != nil {
			return err
		}
	}

	deps := relaycctp.Deps{
		KV:            r.store,
		Logs:          r.indexer,
		Notifications: r.events.C(),
		Receiver:      receiver,
		Attestations:  attestations,
		Wallets:       r.chains.Wallets,
	}
	if r.cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(r.cfg.Redis)
		if err != nil {
			return err
		}
		r.redis = client
		deps.Attempts = redisclient.NewRelayAttempts(client, r.cfg.CCTP.AttemptTTL)
		r.log.Info("Relay attempts shared through redis")
	}

	if r.machine, err = relaycctp.NewMessageStateMachine(mcfg, deps); err != nil {
		return err
	}
	r.pruner = worker.NewPruner(r.machine, r.cfg.Retention)
	return nil
}

// MachineConfig derives the CCTP machine configuration. Only chains with a
// message transmitter are served.
func MachineConfig(cfg *config.AppConfig) (relaycctp.Config, error) {
	out := relaycctp.Config{
		Network:           cfg.Network,
		TransitionBuffer:  cfg.CCTP.TransitionBuffer,
		SentPollInterval:  cfg.CCTP.SentPollInterval,
		RelayPollInterval: cfg.CCTP.RelayPollInterval,
	}
	for _, ch := range cfg.Chains {
		addr, ok := cfg.CCTP.MessageTransmitters[ch.ChainID]
		if !ok {
			continue
		}
		out.Chains = append(out.Chains, relaycctp.ChainConfig{
			ChainID:            ch.ChainID,
			MessageTransmitter: common.HexToAddress(addr),
			StartBlock:         ch.StartBlock,
			MaxBlockRange:      ch.MaxBlockRange,
			PollInterval:       ch.PollInterval,
			IndexAt:            indexer.IndexAt(ch.IndexAt),
			AttestationTime:    ch.AttestationTime,
			FinalityTime:       ch.FinalityTime,
		})
	}
	if len(cfg.CCTP.SenderFilter) > 0 {
		senders, err := filter.NewMemoryFilter(cfg.CCTP.SenderFilter...)
		if err != nil {
			return relaycctp.Config{}, err
		}
		out.Senders = senders
	}
	return out, nil
}

func (r *Relayer) onFatal(err error) {
	select {
	case r.fatal <- err:
	default:
	}
}

// Run starts every component and blocks until ctx is done or a component
// fails. Components are stopped before Run returns.
func (r *Relayer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.machine != nil {
		if err := r.machine.Init(ctx); err != nil {
			return fmt.Errorf("init %s machine: %w", r.machine.Name(), err)
		}
		// the consumer must run before the indexer emits
		if err := r.machine.Start(ctx); err != nil {
			return err
		}
	}
	if err := r.indexer.Init(ctx); err != nil {
		r.stop()
		return fmt.Errorf("init indexer: %w", err)
	}
	if err := r.indexer.Start(ctx); err != nil {
		r.stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(r.health.Start)
	if r.pruner != nil {
		g.Go(func() error {
			r.pruner.Start(gctx)
			return nil
		})
	}
	if r.store.DB != nil {
		r.store.DB.StartMetricsCollector(gctx)
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-r.fatal:
			return fmt.Errorf("indexer stopped: %w", err)
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		r.stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return r.health.Stop(shutdownCtx)
	})

	r.log.Info("Relayer started",
		"chains", len(r.cfg.Chains),
		"filters", len(r.indexer.Filters()),
		"bridges", len(r.bridges.Chains()),
		"port", r.cfg.Server.Port,
	)
	err := g.Wait()
	r.log.Info("Relayer stopped")
	return err
}

// stop halts the indexer before the machine so no log is emitted into a
// channel nobody drains.
func (r *Relayer) stop() {
	_ = r.indexer.Stop()
	if r.events != nil {
		_ = r.events.Close()
	}
	if r.machine != nil {
		_ = r.machine.Stop()
	}
}

// Close releases storage and connections.
func (r *Relayer) Close() error {
	var errs []error
	if r.chains != nil {
		for _, p := range r.chains.Providers {
			errs = append(errs, p.Close())
		}
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
