package subscription

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"go.uber.org/zap"

	"github.com/0xmhha/subscriber-go/block"
	"github.com/0xmhha/subscriber-go/client"
	"github.com/0xmhha/subscriber-go/transform"
	"github.com/0xmhha/subscriber-go/types"
)

// DefaultMaxRoundsToSync is the per-poll node round budget when none is
// configured.
const DefaultMaxRoundsToSync = 500

// indexerFilterChunkSize bounds how many filter searches run concurrently
// against the indexer.
const indexerFilterChunkSize = 30

// Params describes one poll: what to watch for and how to handle backlog.
type Params struct {
	// Filters are the named filters to match; a transaction satisfying any
	// of them is returned, stamped with every matching name.
	Filters []types.NamedTransactionFilter

	// Arc28Events registers event groups for log decoding and event
	// filter terms.
	Arc28Events []types.Arc28EventGroup

	// Watermark is the last round already synced.
	Watermark uint64

	// MaxRoundsToSync bounds the node span per poll. Defaults to
	// DefaultMaxRoundsToSync.
	MaxRoundsToSync uint64

	// MaxIndexerRoundsToSync optionally bounds the indexer catch-up span
	// per poll. Zero means unbounded.
	MaxIndexerRoundsToSync uint64

	// SyncBehaviour selects the backlog strategy. Defaults to
	// SyncBehaviourFail.
	SyncBehaviour SyncBehaviour
}

// Result is the outcome of one poll.
type Result struct {
	// SyncedRoundRange is the inclusive span actually processed.
	SyncedRoundRange [2]uint64

	// CurrentRound is the chain tip observed at the start of the poll.
	CurrentRound uint64

	// StartingWatermark and NewWatermark bracket the poll; the caller is
	// responsible for persisting NewWatermark.
	StartingWatermark uint64
	NewWatermark      uint64

	// SubscribedTransactions holds the matched transactions ordered by
	// (confirmedRound, intraRoundOffset), deduplicated by ID.
	SubscribedTransactions []*types.SubscribedTransaction

	// BlockMetadata summarizes each node-synced block.
	BlockMetadata []types.BlockMetadata
}

// GetSubscribedTransactions runs one poll: resolves the round range, fetches
// from the node and (for catch-up) the indexer, filters, deduplicates and
// enriches the matches. It never persists the watermark; a poll either fully
// succeeds or returns an error with no partial result.
func GetSubscribedTransactions(ctx context.Context, params Params, node client.NodeClient, indexerClient client.IndexerClient, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	started := time.Now()

	behaviour := params.SyncBehaviour
	if behaviour == "" {
		behaviour = SyncBehaviourFail
	}
	if behaviour == SyncBehaviourCatchupWithIndexer && indexerClient == nil {
		return nil, ErrIndexerRequired
	}
	maxRounds := params.MaxRoundsToSync
	if maxRounds == 0 {
		maxRounds = DefaultMaxRoundsToSync
	}

	reg, err := compileArc28Groups(params.Arc28Events)
	if err != nil {
		return nil, err
	}
	filters, err := compileFilters(params.Filters)
	if err != nil {
		return nil, err
	}

	currentRound, err := node.LastRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching current round: %w", err)
	}

	rr, err := resolveRoundRange(params.Watermark, currentRound, maxRounds, params.MaxIndexerRoundsToSync, behaviour)
	if err != nil {
		return nil, err
	}

	result := &Result{
		CurrentRound:      currentRound,
		StartingWatermark: params.Watermark,
		NewWatermark:      rr.newWatermark,
	}
	if rr.noOp {
		result.SyncedRoundRange = [2]uint64{currentRound, currentRound}
		pollsTotal.Inc()
		pollDuration.Observe(time.Since(started).Seconds())
		return result, nil
	}

	var matched []*types.SubscribedTransaction

	if rr.withIndexer {
		indexerMatches, err := syncWithIndexer(ctx, indexerClient, filters, reg, rr.indexerSyncFrom, rr.indexerSyncTo, logger)
		if err != nil {
			return nil, err
		}
		matched = append(matched, indexerMatches...)
	}

	if !rr.skipAlgod {
		nodeMatches, metadata, err := syncFromNode(ctx, node, filters, reg, rr.startRound, rr.endRound, logger)
		if err != nil {
			return nil, err
		}
		matched = append(matched, nodeMatches...)
		result.BlockMetadata = metadata
	}

	matched = sortAndDeduplicate(matched)
	if err := processExtraFields(matched, reg, logger); err != nil {
		return nil, err
	}
	result.SubscribedTransactions = matched

	syncedStart, syncedEnd := rr.startRound, rr.endRound
	if rr.withIndexer {
		syncedStart = rr.indexerSyncFrom
		if rr.skipAlgod {
			syncedEnd = rr.indexerSyncTo
		}
	}
	result.SyncedRoundRange = [2]uint64{syncedStart, syncedEnd}

	pollsTotal.Inc()
	roundsSyncedTotal.Add(float64(syncedEnd - syncedStart + 1))
	transactionsMatchedTotal.Add(float64(len(matched)))
	pollDuration.Observe(time.Since(started).Seconds())

	logger.Debug("Poll complete",
		zap.Uint64("synced_from", syncedStart),
		zap.Uint64("synced_to", syncedEnd),
		zap.Uint64("current_round", currentRound),
		zap.Int("matched", len(matched)),
	)

	return result, nil
}

// syncFromNode fetches and decodes the round range from the node and
// evaluates every filter against every decoded transaction.
func syncFromNode(ctx context.Context, node client.NodeClient, filters []compiledFilter, reg *arc28Registry, start, end uint64, logger *zap.Logger) ([]*types.SubscribedTransaction, []types.BlockMetadata, error) {
	blocks, err := client.GetBlocksBulk(ctx, node, start, end, client.DefaultBlockBatchSize, logger)
	if err != nil {
		return nil, nil, err
	}
	blocksFetchedTotal.Add(float64(len(blocks)))

	var matched []*types.SubscribedTransaction
	metadata := make([]types.BlockMetadata, 0, len(blocks))

	for i := range blocks {
		metadata = append(metadata, block.Metadata(blocks[i]))

		decoded := block.Decode(blocks[i])
		for j := range decoded {
			lazy := &lazyNormalized{source: decoded[j]}
			var names []string
			for k := range filters {
				ok, err := matchesBlockTransaction(&filters[k], &decoded[j], reg, lazy)
				if err != nil {
					return nil, nil, err
				}
				if ok {
					names = append(names, filters[k].name)
				}
			}
			if len(names) == 0 {
				continue
			}
			txn, err := lazy.get()
			if err != nil {
				return nil, nil, err
			}
			txn.FiltersMatched = names
			matched = append(matched, txn)
		}
	}

	return matched, metadata, nil
}

// syncWithIndexer runs one search per filter, chunked to bound concurrency,
// then re-evaluates each filter in memory against the returned top-level
// transactions and all their inner transactions. The indexer returns the
// top-level transaction whenever any inner one matches, so the re-filter is
// what decides which entries actually satisfy the filter.
func syncWithIndexer(ctx context.Context, indexerClient client.IndexerClient, filters []compiledFilter, reg *arc28Registry, fromRound, toRound uint64, logger *zap.Logger) ([]*types.SubscribedTransaction, error) {
	type searchResult struct {
		filterIndex  int
		transactions []models.Transaction
		err          error
	}

	var matched []*types.SubscribedTransaction

	for chunkStart := 0; chunkStart < len(filters); chunkStart += indexerFilterChunkSize {
		chunkEnd := chunkStart + indexerFilterChunkSize
		if chunkEnd > len(filters) {
			chunkEnd = len(filters)
		}

		results := make(chan searchResult, chunkEnd-chunkStart)
		var wg sync.WaitGroup
		for i := chunkStart; i < chunkEnd; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				query := buildSearchQuery(&filters[i].filter, fromRound, toRound)
				txns, err := indexerClient.SearchTransactions(ctx, query)
				results <- searchResult{filterIndex: i, transactions: txns, err: err}
			}(i)
		}
		wg.Wait()
		close(results)

		for result := range results {
			if result.err != nil {
				return nil, fmt.Errorf("indexer search for filter %q: %w", filters[result.filterIndex].name, result.err)
			}
			f := &filters[result.filterIndex]
			for _, raw := range result.transactions {
				root, err := transform.FromIndexerTransaction(raw)
				if err != nil {
					return nil, err
				}
				entries, err := refilterSubtree(f, root, reg)
				if err != nil {
					return nil, err
				}
				matched = append(matched, entries...)
			}
		}
	}

	logger.Debug("Indexer catch-up complete",
		zap.Uint64("from_round", fromRound),
		zap.Uint64("to_round", toRound),
		zap.Int("matched", len(matched)),
	)

	return matched, nil
}

// refilterSubtree evaluates a filter against a normalized transaction and
// every transaction nested under it, returning the ones that match as
// standalone entries.
func refilterSubtree(f *compiledFilter, txn *types.SubscribedTransaction, reg *arc28Registry) ([]*types.SubscribedTransaction, error) {
	var out []*types.SubscribedTransaction

	ok, err := matchesSubscribedTransaction(f, txn, reg)
	if err != nil {
		return nil, err
	}
	if ok {
		txn.FiltersMatched = append(txn.FiltersMatched, f.name)
		out = append(out, txn)
	}

	for _, inner := range txn.InnerTxns {
		nested, err := refilterSubtree(f, inner, reg)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// buildSearchQuery narrows the server-side search with the filter terms the
// indexer expresses reliably. Everything is re-checked in memory afterwards.
func buildSearchQuery(f *types.TransactionFilter, fromRound, toRound uint64) client.SearchQuery {
	query := client.SearchQuery{
		MinRound:   fromRound,
		MaxRound:   toRound,
		NotePrefix: f.NotePrefix,
	}
	if len(f.Type) == 1 {
		query.TxType = f.Type[0]
	}
	if len(f.AppID) == 1 {
		query.AppID = f.AppID[0]
	}
	if len(f.AssetID) == 1 {
		query.AssetID = f.AssetID[0]
	}
	if len(f.Sender) == 1 {
		query.Address = f.Sender[0]
		query.AddressRole = "sender"
	} else if len(f.Receiver) == 1 {
		query.Address = f.Receiver[0]
		query.AddressRole = "receiver"
	}

	// Currency bounds are only trustworthy for single-asset or pure payment
	// searches; the indexer mixes units otherwise. The exclusive bounds are
	// only pushed server-side when the inclusive bound has room to shift.
	singleUnit := len(f.AssetID) == 1 || (len(f.Type) == 1 && f.Type[0] == "pay")
	if singleUnit {
		if f.MinAmount != nil && *f.MinAmount > 0 {
			gt := *f.MinAmount - 1
			query.CurrencyGreaterThan = &gt
		}
		if f.MaxAmount != nil && *f.MaxAmount < math.MaxUint64 {
			lt := *f.MaxAmount + 1
			query.CurrencyLessThan = &lt
		}
	}
	return query
}

// sortAndDeduplicate orders matches by (confirmedRound, intraRoundOffset)
// and collapses duplicate IDs, merging their matched filter names into the
// first occurrence.
func sortAndDeduplicate(txns []*types.SubscribedTransaction) []*types.SubscribedTransaction {
	sort.SliceStable(txns, func(i, j int) bool {
		if txns[i].ConfirmedRound != txns[j].ConfirmedRound {
			return txns[i].ConfirmedRound < txns[j].ConfirmedRound
		}
		return txns[i].IntraRoundOffset < txns[j].IntraRoundOffset
	})

	seen := make(map[string]*types.SubscribedTransaction, len(txns))
	out := txns[:0]
	for _, txn := range txns {
		first, ok := seen[txn.ID]
		if !ok {
			seen[txn.ID] = txn
			out = append(out, txn)
			continue
		}
		for _, name := range txn.FiltersMatched {
			if !containsString(first.FiltersMatched, name) {
				first.FiltersMatched = append(first.FiltersMatched, name)
			}
		}
	}
	return out
}

// processExtraFields derives balance changes and ARC-28 events for every
// matched transaction, recursively over inner transactions.
func processExtraFields(txns []*types.SubscribedTransaction, reg *arc28Registry, logger *zap.Logger) error {
	for _, txn := range txns {
		txn.BalanceChanges = ExtractBalanceChanges(txn)
		events, err := reg.decodeEvents(txn, logger)
		if err != nil {
			return err
		}
		txn.Arc28Events = events
		if err := processExtraFields(txn.InnerTxns, reg, logger); err != nil {
			return err
		}
	}
	return nil
}
