package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
)

type checkpointKey struct {
	chainID string
	address common.Address
}

type checkpointsRepo struct {
	mu          sync.Mutex
	checkpoints map[checkpointKey]entity.Checkpoint
}

func NewCheckpointsRepo() entity.CheckpointsRepo {
	return &checkpointsRepo{
		checkpoints: make(map[checkpointKey]entity.Checkpoint),
	}
}

func (r *checkpointsRepo) GetByChainIDAndAddress(_ context.Context, chainID string, addr common.Address) (*entity.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.checkpoints[checkpointKey{chainID, addr}]
	if !ok {
		return nil, fmt.Errorf("can't get checkpoint by chain_id and address: %w", db.ErrNotFound)
	}
	return &cp, nil
}

func (r *checkpointsRepo) Advance(_ context.Context, cp *entity.Checkpoint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := checkpointKey{cp.ChainID, cp.Address}
	if old, ok := r.checkpoints[key]; ok && old.LastProcessedBlock > cp.LastProcessedBlock {
		return false, nil
	}
	r.store(key, cp)
	return true, nil
}

func (r *checkpointsRepo) Rewind(_ context.Context, cp *entity.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store(checkpointKey{cp.ChainID, cp.Address}, cp)
	return nil
}

func (r *checkpointsRepo) store(key checkpointKey, cp *entity.Checkpoint) {
	now := time.Now()
	stored := *cp
	if old, ok := r.checkpoints[key]; ok {
		stored.CreatedAt = old.CreatedAt
	} else {
		stored.CreatedAt = &now
	}
	stored.UpdatedAt = &now
	r.checkpoints[key] = stored
}
