package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
)

type processedRecordsRepo basePostgresRepo

func NewProcessedRecordsRepo(table string, db *db.DB) entity.ProcessedRecordsRepo {
	return (*processedRecordsRepo)(newBasePostgresRepo(table, db))
}

func statusList(statuses []entity.Status) []string {
	res := make([]string, len(statuses))
	for i, status := range statuses {
		res[i] = string(status)
	}
	return res
}

func (r *processedRecordsRepo) Ensure(ctx context.Context, record *entity.ProcessedRecord) (*entity.ProcessedRecord, error) {
	q, args, err := sq.Insert(r.table).
		Columns("event_id", "bridge_id", "chain_id", "transaction_hash", "log_index", "block_number", "block_hash",
			"sender", "recipient", "amount", "destination_chain_id", "status").
		Values(record.EventID, record.BridgeID, record.ChainID, record.TransactionHash, record.LogIndex, record.BlockNumber, record.BlockHash,
			record.Sender, record.Recipient, record.Amount, record.DestinationChainID, record.Status).
		Suffix("ON CONFLICT (event_id) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't insert processed record: %w", err)
	}
	return r.GetByEventID(ctx, record.EventID)
}

func (r *processedRecordsRepo) GetByEventID(ctx context.Context, eventID string) (*entity.ProcessedRecord, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"event_id": eventID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	record := new(entity.ProcessedRecord)
	err = r.db.GetContext(ctx, record, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get processed record by event id: %w", err)
	}
	return record, nil
}

func (r *processedRecordsRepo) Transition(ctx context.Context, t *entity.Transition) (*entity.ProcessedRecord, error) {
	builder := sq.Update(r.table).
		Set("status", string(t.To)).
		Set("updated_at", sq.Expr("NOW()"))
	switch {
	case t.NewToken != nil:
		builder = builder.Set("reservation_token", *t.NewToken)
	case t.ClearToken:
		builder = builder.Set("reservation_token", nil)
	}
	switch {
	case t.UnlockTxHash != nil:
		builder = builder.Set("unlock_tx_hash", *t.UnlockTxHash)
		if t.UnlockRawTx != nil {
			builder = builder.Set("unlock_raw_tx", t.UnlockRawTx)
		}
	case t.ClearTx:
		builder = builder.Set("unlock_tx_hash", nil).Set("unlock_raw_tx", nil)
	}
	switch {
	case t.IncAttempts:
		builder = builder.Set("attempts", sq.Expr("attempts + 1"))
	case t.ResetAttempts:
		builder = builder.Set("attempts", 0)
	}
	if t.LastError != nil {
		builder = builder.Set("last_error", *t.LastError)
	}
	builder = builder.
		Where(sq.Eq{"event_id": t.EventID}).
		Where(sq.Eq{"status": statusList(t.From)})
	if t.Token != nil {
		builder = builder.Where(sq.Eq{"reservation_token": *t.Token})
	}
	if t.StaleBefore != nil {
		builder = builder.Where(sq.Lt{"updated_at": *t.StaleBefore})
	}
	q, args, err := builder.
		Suffix("RETURNING *").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	record := new(entity.ProcessedRecord)
	err = r.db.GetContext(ctx, record, q, args...)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("can't update processed record: %w", err)
	}
	return record, nil
}

func (r *processedRecordsRepo) FindByStatus(ctx context.Context, bridgeID string, statuses []entity.Status, limit uint64) ([]*entity.ProcessedRecord, error) {
	builder := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"bridge_id": bridgeID, "status": statusList(statuses)}).
		OrderBy("block_number", "log_index")
	if limit > 0 {
		builder = builder.Limit(limit)
	}
	q, args, err := builder.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	records := make([]*entity.ProcessedRecord, 0, 10)
	err = r.db.SelectContext(ctx, &records, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get processed records by status: %w", err)
	}
	return records, nil
}

func (r *processedRecordsRepo) FindByUnlockTxHash(ctx context.Context, txHash common.Hash) (*entity.ProcessedRecord, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"unlock_tx_hash": txHash}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	record := new(entity.ProcessedRecord)
	err = r.db.GetContext(ctx, record, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get processed record by unlock tx hash: %w", err)
	}
	return record, nil
}

func (r *processedRecordsRepo) CountByStatus(ctx context.Context, bridgeID string) (map[entity.Status]uint, error) {
	q, args, err := sq.Select("status", "COUNT(*) AS count").
		From(r.table).
		Where(sq.Eq{"bridge_id": bridgeID}).
		GroupBy("status").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	var rows []struct {
		Status entity.Status `db:"status"`
		Count  uint          `db:"count"`
	}
	err = r.db.SelectContext(ctx, &rows, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't count processed records: %w", err)
	}
	counts := make(map[entity.Status]uint, len(entity.AllStatuses))
	for _, status := range entity.AllStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *processedRecordsRepo) FindStuck(ctx context.Context, bridgeID string, statuses []entity.Status, before time.Time) ([]*entity.ProcessedRecord, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"bridge_id": bridgeID, "status": statusList(statuses)}).
		Where(sq.Lt{"updated_at": before}).
		OrderBy("updated_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	records := make([]*entity.ProcessedRecord, 0, 10)
	err = r.db.SelectContext(ctx, &records, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get stuck processed records: %w", err)
	}
	return records, nil
}
