package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Checkpoint struct {
	BridgeID               string         `db:"bridge_id"`
	ChainID                string         `db:"chain_id"`
	Address                common.Address `db:"address"`
	LastProcessedBlock     uint           `db:"last_processed_block"`
	LastProcessedBlockHash common.Hash    `db:"last_processed_block_hash"`
	ConfirmationDepth      uint           `db:"confirmation_depth"`
	CreatedAt              *time.Time     `db:"created_at"`
	UpdatedAt              *time.Time     `db:"updated_at"`
}

type CheckpointsRepo interface {
	GetByChainIDAndAddress(ctx context.Context, chainID string, addr common.Address) (*Checkpoint, error)
	// Advance stores the checkpoint unless a higher one is already stored.
	// It reports whether the stored checkpoint was changed.
	Advance(ctx context.Context, checkpoint *Checkpoint) (bool, error)
	// Rewind unconditionally moves the checkpoint back, used for manual recovery after a reorg.
	Rewind(ctx context.Context, checkpoint *Checkpoint) error
}
