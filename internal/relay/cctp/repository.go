package cctp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/relayer/internal/core/domain"
	"github.com/vietddude/relayer/internal/core/statemachine"
	cctpadapter "github.com/vietddude/relayer/internal/infra/bridge/cctp"
)

// LogSource reads indexed logs. Implemented by indexer.EventIndexer.
type LogSource interface {
	Lookup(ctx context.Context, filterID, lookupKey string) (domain.IndexedLog, bool, error)
	Scan(ctx context.Context, filterID string, fn func(domain.IndexedLog) error) error
	Forget(ctx context.Context, filterID, lookupKey string) (bool, error)
}

// Repository builds messages from indexed MessageSent and MessageReceived logs.
type Repository struct {
	cfg  Config
	logs LogSource
	log  *slog.Logger
}

var _ statemachine.Repository[domain.Message] = (*Repository)(nil)

func NewRepository(cfg Config, logs LogSource) *Repository {
	return &Repository{
		cfg:  cfg,
		logs: logs,
		log:  slog.Default().With("machine", MachineName, "component", "repository"),
	}
}

// GetItem formats partial for state.
func (r *Repository) GetItem(ctx context.Context, state string, partial domain.Message) (domain.Message, bool, error) {
	switch state {
	case StateSent:
		return r.sent(ctx, partial)
	case StateRelayed:
		return r.relayed(ctx, partial)
	default:
		return domain.Message{}, false, fmt.Errorf("%w: %s", statemachine.ErrInvalidState, state)
	}
}

func (r *Repository) sent(ctx context.Context, partial domain.Message) (domain.Message, bool, error) {
	ch, ok := r.cfg.chain(partial.SourceChainID)
	if !ok {
		return domain.Message{}, false, fmt.Errorf("%w: %s", cctpadapter.ErrUnknownChain, partial.SourceChainID.Name())
	}
	srcDomain, ok := domain.CCTPDomainFromChainID(r.cfg.Network, partial.SourceChainID)
	if !ok {
		return domain.Message{}, false, fmt.Errorf("%w: no domain for %s", cctpadapter.ErrUnknownChain, partial.SourceChainID.Name())
	}

	l, ok, err := r.logs.Lookup(ctx, sentFilterID(ch), cctpadapter.LookupKey(srcDomain, partial.Nonce))
	if err != nil || !ok {
		return domain.Message{}, false, err
	}
	msg, ok, err := r.MessageFromLog(l)
	if err != nil || !ok {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

func (r *Repository) relayed(ctx context.Context, partial domain.Message) (domain.Message, bool, error) {
	ch, ok := r.cfg.chain(partial.DestinationChainID)
	if !ok {
		return domain.Message{}, false, fmt.Errorf("%w: %s", cctpadapter.ErrUnknownChain, partial.DestinationChainID.Name())
	}
	srcDomain, ok := domain.CCTPDomainFromChainID(r.cfg.Network, partial.SourceChainID)
	if !ok {
		return domain.Message{}, false, fmt.Errorf("%w: no domain for %s", cctpadapter.ErrUnknownChain, partial.SourceChainID.Name())
	}

	l, ok, err := r.logs.Lookup(ctx, receivedFilterID(ch), cctpadapter.LookupKey(srcDomain, partial.Nonce))
	if err != nil || !ok {
		return domain.Message{}, false, err
	}

	relayed := partial
	relayTx := l.TxHash
	relayed.RelayTxHash = &relayTx
	relayed.RelayTimestampMs = int64(l.Timestamp) * 1000
	relayed.RelayBlockNumber = l.BlockNumber
	return relayed, true, nil
}

// Pending returns every message with an indexed MessageSent log. Logs that
// do not decode are logged and skipped.
func (r *Repository) Pending(ctx context.Context) ([]domain.Message, error) {
	var out []domain.Message
	for _, ch := range r.cfg.Chains {
		err := r.logs.Scan(ctx, sentFilterID(ch), func(l domain.IndexedLog) error {
			msg, ok, err := r.MessageFromLog(l)
			if err != nil {
				r.log.Error("Skipping undecodable MessageSent log",
					"chain", l.ChainID.Name(),
					"tx", l.TxHash.Hex(),
					"index", l.LogIndex,
					"error", err,
				)
				return nil
			}
			if ok {
				out = append(out, msg)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan sent logs on %s: %w", ch.ChainID.Name(), err)
		}
	}
	return out, nil
}

// MessageFromLog decodes a MessageSent log. ok is false for messages the
// relayer does not serve: unknown destinations and filtered senders.
func (r *Repository) MessageFromLog(l domain.IndexedLog) (domain.Message, bool, error) {
	if len(l.Topics) == 0 || l.Topics[0] != cctpadapter.MessageSentTopic {
		return domain.Message{}, false, nil
	}
	msg, err := cctpadapter.DecodeMessageSent(l.Data)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("decode MessageSent in %s: %w", l.TxHash.Hex(), err)
	}

	src, ok := domain.ChainIDFromCCTPDomain(r.cfg.Network, msg.SourceDomain)
	if !ok || src != l.ChainID {
		return domain.Message{}, false, fmt.Errorf("message source domain %d does not match chain %s", msg.SourceDomain, l.ChainID.Name())
	}
	dst, ok := domain.ChainIDFromCCTPDomain(r.cfg.Network, msg.DestinationDomain)
	if !ok {
		return domain.Message{}, false, nil
	}
	if _, ok := r.cfg.chain(dst); !ok {
		return domain.Message{}, false, nil
	}
	if r.cfg.Senders != nil {
		sender, ok := msg.BurnSender()
		if !ok || !r.cfg.Senders.Contains(sender) {
			return domain.Message{}, false, nil
		}
	}

	return domain.Message{
		SourceChainID:      src,
		DestinationChainID: dst,
		Nonce:              msg.Nonce,
		MessageHash:        msg.Hash(),
		Message:            msg.Raw,
		SentTxHash:         l.TxHash,
		SentTimestampMs:    int64(l.Timestamp) * 1000,
	}, true, nil
}

// Forget deletes the indexed logs of a message so Pending no longer replays it.
func (r *Repository) Forget(ctx context.Context, msg domain.Message) error {
	srcDomain, ok := domain.CCTPDomainFromChainID(r.cfg.Network, msg.SourceChainID)
	if !ok {
		return fmt.Errorf("%w: no domain for %s", cctpadapter.ErrUnknownChain, msg.SourceChainID.Name())
	}
	key := cctpadapter.LookupKey(srcDomain, msg.Nonce)

	if src, ok := r.cfg.chain(msg.SourceChainID); ok {
		if _, err := r.logs.Forget(ctx, sentFilterID(src), key); err != nil {
			return err
		}
	}
	if dst, ok := r.cfg.chain(msg.DestinationChainID); ok {
		if _, err := r.logs.Forget(ctx, receivedFilterID(dst), key); err != nil {
			return err
		}
	}
	return nil
}
