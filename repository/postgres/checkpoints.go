package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
)

type checkpointsRepo basePostgresRepo

func NewCheckpointsRepo(table string, db *db.DB) entity.CheckpointsRepo {
	return (*checkpointsRepo)(newBasePostgresRepo(table, db))
}

func (r *checkpointsRepo) insert(cp *entity.Checkpoint) sq.InsertBuilder {
	return sq.Insert(r.table).
		Columns("chain_id", "address", "bridge_id", "last_processed_block", "last_processed_block_hash", "confirmation_depth").
		Values(cp.ChainID, cp.Address, cp.BridgeID, cp.LastProcessedBlock, cp.LastProcessedBlockHash, cp.ConfirmationDepth).
		Suffix("ON CONFLICT (chain_id, address) DO UPDATE SET updated_at = NOW(), last_processed_block = EXCLUDED.last_processed_block, " +
			"last_processed_block_hash = EXCLUDED.last_processed_block_hash, confirmation_depth = EXCLUDED.confirmation_depth").
		PlaceholderFormat(sq.Dollar)
}

func (r *checkpointsRepo) Advance(ctx context.Context, cp *entity.Checkpoint) (bool, error) {
	q, args, err := r.insert(cp).
		Suffix(fmt.Sprintf("WHERE %s.last_processed_block <= EXCLUDED.last_processed_block", r.table)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("can't advance checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("can't get affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *checkpointsRepo) Rewind(ctx context.Context, cp *entity.Checkpoint) error {
	q, args, err := r.insert(cp).ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't rewind checkpoint: %w", err)
	}
	return nil
}

func (r *checkpointsRepo) GetByChainIDAndAddress(ctx context.Context, chainID string, addr common.Address) (*entity.Checkpoint, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"chain_id": chainID, "address": addr}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	cp := new(entity.Checkpoint)
	err = r.db.GetContext(ctx, cp, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get checkpoint by chain_id and address: %w", err)
	}
	return cp, nil
}
