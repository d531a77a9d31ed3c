package watcher

import (
	"github.com/poanetwork/tokenbridge-relayer/entity"
)

type BlocksRange struct {
	From uint
	To   uint
}

func SplitBlockRange(fromBlock uint, toBlock uint, maxSize uint) []*BlocksRange {
	batches := make([]*BlocksRange, 0, 10)
	for fromBlock <= toBlock {
		batchToBlock := fromBlock + maxSize - 1
		if batchToBlock > toBlock {
			batchToBlock = toBlock
		}
		batches = append(batches, &BlocksRange{
			From: fromBlock,
			To:   batchToBlock,
		})
		fromBlock += maxSize
	}
	return batches
}

// PollResult holds lock events of the block range (fromBlock, SafeHeight], ordered by (block, log index).
type PollResult struct {
	Events     []*entity.LockEvent
	SafeHeight uint
	Head       uint
	// Synced reports whether the poll reached the current safe head.
	Synced bool
}
