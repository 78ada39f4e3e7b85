// Package subscriber wraps the sync engine in a long-running poll loop with
// listener dispatch and durable watermark persistence.
package subscriber

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/subscriber-go/client"
	"github.com/0xmhha/subscriber-go/subscription"
	"github.com/0xmhha/subscriber-go/types"
)

// WatermarkStore persists the last fully synced round between polls.
type WatermarkStore interface {
	Watermark(ctx context.Context) (uint64, error)
	SetWatermark(ctx context.Context, round uint64) error
}

// TransactionHandler receives one matched transaction for one filter.
type TransactionHandler func(ctx context.Context, txn *types.SubscribedTransaction) error

// BatchHandler receives all of one poll's matches for one filter at once.
type BatchHandler func(ctx context.Context, txns []*types.SubscribedTransaction) error

// PollHandler receives the whole poll result.
type PollHandler func(ctx context.Context, result *subscription.Result) error

// ErrorHandler receives errors raised by a poll or a listener.
type ErrorHandler func(ctx context.Context, err error)

// Config holds the subscriber's polling policy.
type Config struct {
	// Filters and Arc28Events are passed through to every poll.
	Filters     []types.NamedTransactionFilter
	Arc28Events []types.Arc28EventGroup

	// SyncBehaviour, MaxRoundsToSync and MaxIndexerRoundsToSync configure
	// backlog handling, see the subscription package.
	SyncBehaviour          subscription.SyncBehaviour
	MaxRoundsToSync        uint64
	MaxIndexerRoundsToSync uint64

	// PollInterval is the sleep between polls when not waiting for blocks.
	// Default 4 seconds, roughly one Algorand round.
	PollInterval time.Duration

	// WaitForBlockWhenAtTip waits for the next round via the node instead
	// of sleeping when the subscriber is caught up.
	WaitForBlockWhenAtTip bool
}

// Subscriber runs the poll loop: read watermark, sync, dispatch listeners,
// persist watermark, wait, repeat. Listener registration is not safe for
// concurrent use with Run; register everything first.
type Subscriber struct {
	config  Config
	node    client.NodeClient
	indexer client.IndexerClient
	store   WatermarkStore
	logger  *zap.Logger

	txnListeners    map[string][]TransactionHandler
	batchListeners  map[string][]BatchHandler
	pollListeners   []PollHandler
	beforeListeners []PollHandler
	errorListeners  []ErrorHandler
}

// New creates a Subscriber. An indexer is required when the configured
// behaviour is catchup-with-indexer.
func New(config Config, node client.NodeClient, indexerClient client.IndexerClient, store WatermarkStore, logger *zap.Logger) (*Subscriber, error) {
	if node == nil {
		return nil, fmt.Errorf("node client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("watermark store is required")
	}
	if config.SyncBehaviour == subscription.SyncBehaviourCatchupWithIndexer && indexerClient == nil {
		return nil, subscription.ErrIndexerRequired
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 4 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		config:         config,
		node:           node,
		indexer:        indexerClient,
		store:          store,
		logger:         logger,
		txnListeners:   make(map[string][]TransactionHandler),
		batchListeners: make(map[string][]BatchHandler),
	}, nil
}

// On registers a handler called once per matched transaction of the named
// filter.
func (s *Subscriber) On(filterName string, handler TransactionHandler) {
	s.txnListeners[filterName] = append(s.txnListeners[filterName], handler)
}

// OnBatch registers a handler called once per poll with all matches of the
// named filter.
func (s *Subscriber) OnBatch(filterName string, handler BatchHandler) {
	s.batchListeners[filterName] = append(s.batchListeners[filterName], handler)
}

// OnPoll registers a handler called after each poll's listeners have run.
func (s *Subscriber) OnPoll(handler PollHandler) {
	s.pollListeners = append(s.pollListeners, handler)
}

// OnBeforePoll registers a handler called before each poll starts.
func (s *Subscriber) OnBeforePoll(handler PollHandler) {
	s.beforeListeners = append(s.beforeListeners, handler)
}

// OnError registers an error handler. Without one, Run stops on the first
// poll error.
func (s *Subscriber) OnError(handler ErrorHandler) {
	s.errorListeners = append(s.errorListeners, handler)
}

// PollOnce runs a single poll and dispatches its result. The watermark is
// persisted only after every listener has been dispatched.
func (s *Subscriber) PollOnce(ctx context.Context) (*subscription.Result, error) {
	watermark, err := s.store.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading watermark: %w", err)
	}

	pending := &subscription.Result{StartingWatermark: watermark, NewWatermark: watermark}
	for _, handler := range s.beforeListeners {
		if err := handler(ctx, pending); err != nil {
			return nil, fmt.Errorf("before-poll listener: %w", err)
		}
	}

	result, err := subscription.GetSubscribedTransactions(ctx, subscription.Params{
		Filters:                s.config.Filters,
		Arc28Events:            s.config.Arc28Events,
		Watermark:              watermark,
		MaxRoundsToSync:        s.config.MaxRoundsToSync,
		MaxIndexerRoundsToSync: s.config.MaxIndexerRoundsToSync,
		SyncBehaviour:          s.config.SyncBehaviour,
	}, s.node, s.indexer, s.logger)
	if err != nil {
		return nil, err
	}

	if err := s.dispatch(ctx, result); err != nil {
		return nil, err
	}

	if err := s.store.SetWatermark(ctx, result.NewWatermark); err != nil {
		return nil, fmt.Errorf("persisting watermark: %w", err)
	}
	return result, nil
}

// dispatch runs batch listeners, then per-transaction listeners, then poll
// listeners, sequentially, visiting filters in their configured order so
// dispatch is reproducible across polls. A listener error aborts the poll
// before the watermark is persisted, so the round range is retried next poll.
func (s *Subscriber) dispatch(ctx context.Context, result *subscription.Result) error {
	byFilter := make(map[string][]*types.SubscribedTransaction)
	for _, txn := range result.SubscribedTransactions {
		for _, name := range txn.FiltersMatched {
			byFilter[name] = append(byFilter[name], txn)
		}
	}

	for _, f := range s.config.Filters {
		txns := byFilter[f.Name]
		if len(txns) == 0 {
			continue
		}
		for _, handler := range s.batchListeners[f.Name] {
			if err := handler(ctx, txns); err != nil {
				return fmt.Errorf("batch listener for filter %q: %w", f.Name, err)
			}
		}
	}
	for _, f := range s.config.Filters {
		txns := byFilter[f.Name]
		for _, handler := range s.txnListeners[f.Name] {
			for _, txn := range txns {
				if err := handler(ctx, txn); err != nil {
					return fmt.Errorf("listener for filter %q: %w", f.Name, err)
				}
			}
		}
	}
	for _, handler := range s.pollListeners {
		if err := handler(ctx, result); err != nil {
			return fmt.Errorf("poll listener: %w", err)
		}
	}
	return nil
}

// Run polls until the context is cancelled. Poll errors go to the registered
// error handlers; without any, the first error stops the loop.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("Starting subscriber",
		zap.String("sync_behaviour", string(s.config.SyncBehaviour)),
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Int("filters", len(s.config.Filters)),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Subscriber stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		default:
		}

		result, err := s.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if len(s.errorListeners) == 0 {
				return err
			}
			for _, handler := range s.errorListeners {
				handler(ctx, err)
			}
			if err := s.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		atTip := result.NewWatermark >= result.CurrentRound
		if atTip && s.config.WaitForBlockWhenAtTip {
			if _, err := s.node.WaitForRoundAfter(ctx, result.NewWatermark); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("Waiting for next round failed", zap.Error(err))
				if err := s.sleep(ctx); err != nil {
					return err
				}
			}
			continue
		}
		if atTip {
			if err := s.sleep(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Subscriber) sleep(ctx context.Context) error {
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
