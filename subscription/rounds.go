// Package subscription implements the core sync engine: round-range
// resolution, dual-path filter evaluation, balance-change extraction, ARC-28
// event decoding and the poll orchestrator that composes them.
package subscription

import (
	"errors"
	"fmt"
)

// SyncBehaviour selects how a poll handles a backlog larger than the
// per-poll round budget.
type SyncBehaviour string

const (
	// SyncBehaviourFail aborts the poll with ErrRoundRangeExceeded.
	SyncBehaviourFail SyncBehaviour = "fail"

	// SyncBehaviourSkipToNewest discards the backlog and syncs only the
	// newest maxRoundsToSync rounds.
	SyncBehaviourSkipToNewest SyncBehaviour = "skip-to-newest"

	// SyncBehaviourSyncOldest syncs the oldest maxRoundsToSync rounds of the
	// backlog; multiple polls are needed to catch up.
	SyncBehaviourSyncOldest SyncBehaviour = "sync-oldest"

	// SyncBehaviourSyncOldestStartNow behaves like skip-to-newest on the
	// very first poll (watermark zero) and like sync-oldest afterwards.
	SyncBehaviourSyncOldestStartNow SyncBehaviour = "sync-oldest-start-now"

	// SyncBehaviourCatchupWithIndexer clears the backlog through the indexer
	// and syncs only the newest rounds from the node.
	SyncBehaviourCatchupWithIndexer SyncBehaviour = "catchup-with-indexer"
)

// ErrRoundRangeExceeded is returned under the fail behaviour when the
// backlog exceeds the per-poll round budget.
var ErrRoundRangeExceeded = errors.New("round range exceeded")

// ErrIndexerRequired is returned when catchup-with-indexer is selected but
// no indexer collaborator is configured.
var ErrIndexerRequired = errors.New("indexer client required for catchup-with-indexer")

// roundRange is the resolved work split for one poll.
type roundRange struct {
	// startRound and endRound bound the node-synced span, inclusive. When
	// skipAlgod is true no node fetch happens this poll.
	startRound uint64
	endRound   uint64
	skipAlgod  bool

	// withIndexer enables the indexer catch-up span
	// [indexerSyncFrom, indexerSyncTo].
	withIndexer     bool
	indexerSyncFrom uint64
	indexerSyncTo   uint64

	// newWatermark is the watermark to report after the poll succeeds.
	newWatermark uint64

	// noOp is set when the chain has not advanced past the watermark.
	noOp bool
}

// resolveRoundRange decides how to split the backlog between the node and
// the indexer for one poll.
func resolveRoundRange(watermark, currentRound, maxRoundsToSync, maxIndexerRoundsToSync uint64, behaviour SyncBehaviour) (roundRange, error) {
	if currentRound <= watermark {
		return roundRange{
			startRound:   currentRound,
			endRound:     currentRound,
			skipAlgod:    true,
			newWatermark: watermark,
			noOp:         true,
		}, nil
	}

	deficit := currentRound - watermark
	if deficit <= maxRoundsToSync {
		return roundRange{
			startRound:   watermark + 1,
			endRound:     currentRound,
			newWatermark: currentRound,
		}, nil
	}

	switch behaviour {
	case SyncBehaviourFail:
		return roundRange{}, fmt.Errorf("%w: would have to sync from round %d to current round %d", ErrRoundRangeExceeded, watermark+1, currentRound)

	case SyncBehaviourSkipToNewest:
		return roundRange{
			startRound:   currentRound - maxRoundsToSync + 1,
			endRound:     currentRound,
			newWatermark: currentRound,
		}, nil

	case SyncBehaviourSyncOldest:
		return roundRange{
			startRound:   watermark + 1,
			endRound:     watermark + maxRoundsToSync,
			newWatermark: watermark + maxRoundsToSync,
		}, nil

	case SyncBehaviourSyncOldestStartNow:
		if watermark == 0 {
			return roundRange{
				startRound:   currentRound - maxRoundsToSync + 1,
				endRound:     currentRound,
				newWatermark: currentRound,
			}, nil
		}
		return roundRange{
			startRound:   watermark + 1,
			endRound:     watermark + maxRoundsToSync,
			newWatermark: watermark + maxRoundsToSync,
		}, nil

	case SyncBehaviourCatchupWithIndexer:
		indexerSyncTo := currentRound - maxRoundsToSync
		if maxIndexerRoundsToSync > 0 && indexerSyncTo-watermark > maxIndexerRoundsToSync {
			// Indexer span capped: clear part of the backlog this poll and
			// skip the node fetch entirely.
			indexerSyncTo = watermark + maxIndexerRoundsToSync
			return roundRange{
				skipAlgod:       true,
				withIndexer:     true,
				indexerSyncFrom: watermark + 1,
				indexerSyncTo:   indexerSyncTo,
				newWatermark:    indexerSyncTo,
			}, nil
		}
		return roundRange{
			startRound:      indexerSyncTo + 1,
			endRound:        currentRound,
			withIndexer:     true,
			indexerSyncFrom: watermark + 1,
			indexerSyncTo:   indexerSyncTo,
			newWatermark:    currentRound,
		}, nil

	default:
		return roundRange{}, fmt.Errorf("unknown sync behaviour %q", behaviour)
	}
}
