package cctp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/core/statemachine"
	"github.com/vietddude/relayer/internal/indexing/metrics"
	"github.com/vietddude/relayer/internal/infra/attestation"
	"github.com/vietddude/relayer/internal/infra/bridge"
	"github.com/vietddude/relayer/internal/infra/chain/wallet"
	"github.com/vietddude/relayer/internal/infra/rpc/routing"
	"github.com/vietddude/relayer/internal/infra/storage"
)

// Receiver submits receiveMessage on the chain of w. Implemented by the
// cctp bridge adapter.
type Receiver interface {
	ReceiveMessage(ctx context.Context, w wallet.Wallet, message, attestation []byte) (*types.Transaction, error)
}

// Deps are the collaborators of a MessageStateMachine.
type Deps struct {
	KV            storage.KV
	Logs          LogSource
	Notifications <-chan domain.IndexedLog
	Receiver      Receiver
	Attestations  attestation.Fetcher
	Wallets       bridge.WalletSource
	Attempts      storage.RelayAttempts
}

// MessageStateMachine moves CCTP messages from sent to relayed and relays
// messages whose attestation is due.
type MessageStateMachine struct {
	*statemachine.Machine[domain.Message]

	cfg  Config
	deps Deps
	repo *Repository
	log  *slog.Logger
}

var _ statemachine.Definition[domain.Message] = (*MessageStateMachine)(nil)

func NewMessageStateMachine(cfg Config, deps Deps) (*MessageStateMachine, error) {
	if deps.Attempts == nil {
		deps.Attempts = storage.NewKVRelayAttempts(deps.KV)
	}
	if cfg.TransitionBuffer <= 0 {
		cfg.TransitionBuffer = DefaultTransitionBuffer
	}
	if cfg.RelayPollInterval <= 0 {
		cfg.RelayPollInterval = DefaultRelayPollInterval
	}
	if cfg.SentPollInterval <= 0 {
		cfg.SentPollInterval = DefaultSentPollInterval
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &MessageStateMachine{
		cfg:  cfg,
		deps: deps,
		repo: NewRepository(cfg, deps.Logs),
		log:  slog.Default().With("machine", MachineName, "instance", cfg.InstanceID),
	}

	machine, err := statemachine.New(statemachine.Config[domain.Message]{
		Name:          MachineName,
		States:        States,
		KV:            deps.KV,
		Repository:    m.repo,
		Definition:    m,
		PollIntervals: map[string]time.Duration{StateSent: cfg.SentPollInterval},
		Pollers: []statemachine.Poller{{
			Name:     "relay",
			Interval: cfg.RelayPollInterval,
			Run:      m.RelayPoll,
		}},
		Notifications: deps.Notifications,
		Now:           cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	m.Machine = machine
	return m, nil
}

// Repository returns the data repository of the machine.
func (m *MessageStateMachine) Repository() *Repository { return m.repo }

func (m *MessageStateMachine) ItemID(msg domain.Message) string { return msg.ID() }

func (m *MessageStateMachine) FromLog(_ context.Context, l domain.IndexedLog) (domain.Message, bool, error) {
	return m.repo.MessageFromLog(l)
}

func (m *MessageStateMachine) Merge(current, next domain.Message) domain.Message {
	merged := current
	if next.RelayTxHash != nil {
		merged.RelayTxHash = next.RelayTxHash
		merged.RelayTimestampMs = next.RelayTimestampMs
		merged.RelayBlockNumber = next.RelayBlockNumber
	}
	return merged
}

// attestationDue is when the attestation service should have signed msg.
func (m *MessageStateMachine) attestationDue(msg domain.Message) time.Time {
	src, _ := m.cfg.chain(msg.SourceChainID)
	return msg.SentAt().Add(src.AttestationTime)
}

// relayDue is when a relay submitted at attestation time has finalized.
func (m *MessageStateMachine) relayDue(msg domain.Message) time.Time {
	dst, _ := m.cfg.chain(msg.DestinationChainID)
	return m.attestationDue(msg).Add(dst.FinalityTime)
}

// ShouldAttemptTransition skips the MessageReceived lookup until a relay
// can have finalized on the destination chain.
func (m *MessageStateMachine) ShouldAttemptTransition(_ context.Context, state string, msg domain.Message, now time.Time) bool {
	if state != StateSent {
		return false
	}
	return m.relayDue(msg).Add(m.cfg.TransitionBuffer).Before(now)
}

// ShouldAttemptRelay gates the relay poller on the expected attestation
// and destination finality time, without the transition buffer.
func (m *MessageStateMachine) ShouldAttemptRelay(msg domain.Message, now time.Time) bool {
	return m.relayDue(msg).Before(now)
}

// RelayPoll relays every sent message that is due.
func (m *MessageStateMachine) RelayPoll(ctx context.Context) error {
	msgs, err := m.Items(ctx, StateSent)
	if err != nil {
		return fmt.Errorf("load sent messages: %w", err)
	}

	now := m.cfg.Now()
	var errs []error
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !m.ShouldAttemptRelay(msg, now) {
			continue
		}
		if _, err := m.Relay(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Relay submits the relay of one message unless a relay was already
// attempted for its hash. A nil transaction with a nil error means nothing
// was submitted.
func (m *MessageStateMachine) Relay(ctx context.Context, msg domain.Message) (*types.Transaction, error) {
	log := m.log.With("id", msg.ID(), "messageHash", msg.MessageHash.Hex(), "destination", msg.DestinationChainID.Name())

	attempted, err := m.deps.Attempts.Has(ctx, msg.MessageHash)
	if err != nil {
		return nil, fmt.Errorf("check relay attempt %s: %w", msg.ID(), err)
	}
	if attempted {
		log.Debug("Relay already attempted")
		return nil, nil
	}

	att, err := m.deps.Attestations.FetchAttestation(ctx, msg.MessageHash)
	if err != nil {
		return nil, m.handleRelayError(ctx, log, msg, err, false)
	}

	w, err := m.deps.Wallets.Get(msg.DestinationChainID)
	if err != nil {
		return nil, fmt.Errorf("resolve wallet for %s: %w", msg.DestinationChainID.Name(), err)
	}

	added, err := m.deps.Attempts.Add(ctx, domain.RelayAttempt{
		MessageHash: msg.MessageHash,
		ChainID:     msg.DestinationChainID,
		InstanceID:  m.cfg.InstanceID,
		CreatedAt:   m.cfg.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record relay attempt %s: %w", msg.ID(), err)
	}
	if !added {
		log.Debug("Relay attempt taken by another poller")
		return nil, nil
	}

	tx, err := m.deps.Receiver.ReceiveMessage(ctx, w, msg.Message, att)
	if err != nil {
		return nil, m.handleRelayError(ctx, log, msg, err, true)
	}

	metrics.RelaysSubmitted.WithLabelValues(msg.DestinationChainID.Name(), "submitted").Inc()
	log.Info("Relay submitted", "tx", tx.Hash().Hex())
	return tx, nil
}

// handleRelayError classifies err by its text. recorded tells whether a
// relay attempt record exists for msg.
func (m *MessageStateMachine) handleRelayError(ctx context.Context, log *slog.Logger, msg domain.Message, err error, recorded bool) error {
	chainName := msg.DestinationChainID.Name()
	text := err.Error()

	switch {
	case errors.Is(err, attestation.ErrAttestationNotComplete) ||
		strings.Contains(text, attestation.ErrAttestationNotComplete.Error()):
		metrics.RelaysSubmitted.WithLabelValues(chainName, "pending_attestation").Inc()
		log.Debug("Attestation not complete, retrying next poll")
		return nil

	case errors.Is(err, attestation.ErrMessageHashNotFound) ||
		strings.Contains(text, attestation.ErrMessageHashNotFound.Error()):
		metrics.RelaysSubmitted.WithLabelValues(chainName, "hash_not_found").Inc()
		log.Error("Attestation service does not know the message hash", "error", err)
		return fmt.Errorf("%s: %w", msg.ID(), attestation.ErrMessageHashNotFound)

	case strings.Contains(text, "Nonce already used"):
		metrics.RelaysSubmitted.WithLabelValues(chainName, "nonce_used").Inc()
		log.Info("Message already received on destination")
		return nil

	// another submission of the same transaction is in the mempool
	case recorded && routing.ErrorType(err) == "already_known":
		metrics.RelaysSubmitted.WithLabelValues(chainName, "already_known").Inc()
		log.Info("Relay transaction already known to the node")
		return nil
	}

	metrics.RelaysSubmitted.WithLabelValues(chainName, "failed").Inc()
	if recorded {
		if rerr := m.deps.Attempts.Remove(ctx, msg.MessageHash); rerr != nil {
			log.Error("Failed to remove relay attempt", "error", rerr)
			return errors.Join(err, rerr)
		}
	}
	log.Warn("Relay failed, will retry", "error", err)
	return fmt.Errorf("relay %s: %w", msg.ID(), err)
}
