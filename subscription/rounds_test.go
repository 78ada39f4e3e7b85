package subscription

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRoundRange(t *testing.T) {
	tests := []struct {
		name            string
		watermark       uint64
		currentRound    uint64
		maxRounds       uint64
		maxIndexer      uint64
		behaviour       SyncBehaviour
		wantStart       uint64
		wantEnd         uint64
		wantSkipAlgod   bool
		wantWithIndexer bool
		wantIndexerFrom uint64
		wantIndexerTo   uint64
		wantWatermark   uint64
		wantNoOp        bool
	}{
		{
			name:          "no-op when chain has not advanced",
			watermark:     100,
			currentRound:  100,
			maxRounds:     500,
			behaviour:     SyncBehaviourFail,
			wantStart:     100,
			wantEnd:       100,
			wantSkipAlgod: true,
			wantWatermark: 100,
			wantNoOp:      true,
		},
		{
			name:          "no-op when watermark ahead of tip",
			watermark:     101,
			currentRound:  100,
			maxRounds:     500,
			behaviour:     SyncBehaviourFail,
			wantStart:     100,
			wantEnd:       100,
			wantSkipAlgod: true,
			wantWatermark: 101,
			wantNoOp:      true,
		},
		{
			name:          "deficit within budget syncs entirely via node",
			watermark:     95,
			currentRound:  100,
			maxRounds:     10,
			behaviour:     SyncBehaviourFail,
			wantStart:     96,
			wantEnd:       100,
			wantWatermark: 100,
		},
		{
			name:          "skip-to-newest discards backlog",
			watermark:     5,
			currentRound:  100,
			maxRounds:     3,
			behaviour:     SyncBehaviourSkipToNewest,
			wantStart:     98,
			wantEnd:       100,
			wantWatermark: 100,
		},
		{
			name:          "sync-oldest takes the oldest budget window",
			watermark:     5,
			currentRound:  100,
			maxRounds:     3,
			behaviour:     SyncBehaviourSyncOldest,
			wantStart:     6,
			wantEnd:       8,
			wantWatermark: 8,
		},
		{
			name:          "sync-oldest-start-now jumps to tip on first sync",
			watermark:     0,
			currentRound:  100,
			maxRounds:     3,
			behaviour:     SyncBehaviourSyncOldestStartNow,
			wantStart:     98,
			wantEnd:       100,
			wantWatermark: 100,
		},
		{
			name:          "sync-oldest-start-now behaves like sync-oldest afterwards",
			watermark:     5,
			currentRound:  100,
			maxRounds:     3,
			behaviour:     SyncBehaviourSyncOldestStartNow,
			wantStart:     6,
			wantEnd:       8,
			wantWatermark: 8,
		},
		{
			name:            "catchup-with-indexer splits indexer and node spans",
			watermark:       5,
			currentRound:    100,
			maxRounds:       10,
			behaviour:       SyncBehaviourCatchupWithIndexer,
			wantStart:       91,
			wantEnd:         100,
			wantWithIndexer: true,
			wantIndexerFrom: 6,
			wantIndexerTo:   90,
			wantWatermark:   100,
		},
		{
			name:            "catchup-with-indexer clamps indexer span and skips node",
			watermark:       5,
			currentRound:    1000,
			maxRounds:       10,
			maxIndexer:      100,
			behaviour:       SyncBehaviourCatchupWithIndexer,
			wantSkipAlgod:   true,
			wantWithIndexer: true,
			wantIndexerFrom: 6,
			wantIndexerTo:   105,
			wantWatermark:   105,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, err := resolveRoundRange(tt.watermark, tt.currentRound, tt.maxRounds, tt.maxIndexer, tt.behaviour)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStart, rr.startRound, "startRound")
			assert.Equal(t, tt.wantEnd, rr.endRound, "endRound")
			assert.Equal(t, tt.wantSkipAlgod, rr.skipAlgod, "skipAlgod")
			assert.Equal(t, tt.wantWithIndexer, rr.withIndexer, "withIndexer")
			assert.Equal(t, tt.wantIndexerFrom, rr.indexerSyncFrom, "indexerSyncFrom")
			assert.Equal(t, tt.wantIndexerTo, rr.indexerSyncTo, "indexerSyncTo")
			assert.Equal(t, tt.wantWatermark, rr.newWatermark, "newWatermark")
			assert.Equal(t, tt.wantNoOp, rr.noOp, "noOp")
		})
	}
}

func TestResolveRoundRangeFail(t *testing.T) {
	_, err := resolveRoundRange(5, 100, 3, 0, SyncBehaviourFail)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoundRangeExceeded))
	assert.Contains(t, err.Error(), "round 6")
	assert.Contains(t, err.Error(), "round 100")
}

func TestResolveRoundRangeUnknownBehaviour(t *testing.T) {
	_, err := resolveRoundRange(5, 100, 3, 0, SyncBehaviour("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}
