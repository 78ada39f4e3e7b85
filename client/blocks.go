package client

import (
	"context"
	"fmt"
	"sync"

	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"go.uber.org/zap"
)

// DefaultBlockBatchSize bounds how many block requests are in flight at
// once. Batches run sequentially to cap peak load on the node.
const DefaultBlockBatchSize = 30

// blockResult holds the outcome of fetching a single block.
type blockResult struct {
	round uint64
	block sdk.Block
	err   error
}

// GetBlocksBulk fetches the inclusive round range [start, end], issuing up
// to batchSize concurrent requests at a time and returning the blocks in
// round order. The first failure aborts the whole fetch.
func GetBlocksBulk(ctx context.Context, node NodeClient, start, end uint64, batchSize int, logger *zap.Logger) ([]sdk.Block, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultBlockBatchSize
	}
	if end < start {
		return nil, nil
	}

	total := end - start + 1
	blocks := make([]sdk.Block, 0, total)

	logger.Debug("Fetching block range",
		zap.Uint64("start", start),
		zap.Uint64("end", end),
		zap.Int("batch_size", batchSize),
	)

	for batchStart := start; batchStart <= end; batchStart += uint64(batchSize) {
		batchEnd := batchStart + uint64(batchSize) - 1
		if batchEnd > end {
			batchEnd = end
		}

		results := make(chan blockResult, batchEnd-batchStart+1)
		var wg sync.WaitGroup
		for round := batchStart; round <= batchEnd; round++ {
			wg.Add(1)
			go func(round uint64) {
				defer wg.Done()
				select {
				case <-ctx.Done():
					results <- blockResult{round: round, err: ctx.Err()}
					return
				default:
				}
				b, err := node.Block(ctx, round)
				results <- blockResult{round: round, block: b, err: err}
			}(round)
		}
		wg.Wait()
		close(results)

		// Collect the batch in round order before starting the next one.
		batch := make(map[uint64]sdk.Block, batchEnd-batchStart+1)
		for result := range results {
			if result.err != nil {
				return nil, fmt.Errorf("fetching block %d: %w", result.round, result.err)
			}
			batch[result.round] = result.block
		}
		for round := batchStart; round <= batchEnd; round++ {
			blocks = append(blocks, batch[round])
		}
	}

	logger.Debug("Fetched block range",
		zap.Uint64("start", start),
		zap.Uint64("end", end),
		zap.Uint64("total", total),
	)

	return blocks, nil
}
