package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
)

type processedRecordsRepo struct {
	mu      sync.Mutex
	records map[string]*entity.ProcessedRecord
	now     func() time.Time
}

func NewProcessedRecordsRepo() entity.ProcessedRecordsRepo {
	return &processedRecordsRepo{
		records: make(map[string]*entity.ProcessedRecord),
		now:     time.Now,
	}
}

func copyRecord(r *entity.ProcessedRecord) *entity.ProcessedRecord {
	c := *r
	if r.UnlockRawTx != nil {
		c.UnlockRawTx = append([]byte(nil), r.UnlockRawTx...)
	}
	return &c
}

func containsStatus(statuses []entity.Status, status entity.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r *processedRecordsRepo) Ensure(_ context.Context, record *entity.ProcessedRecord) (*entity.ProcessedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.records[record.EventID]; ok {
		return copyRecord(stored), nil
	}
	now := r.now()
	stored := copyRecord(record)
	stored.CreatedAt = &now
	stored.UpdatedAt = &now
	r.records[record.EventID] = stored
	return copyRecord(stored), nil
}

func (r *processedRecordsRepo) GetByEventID(_ context.Context, eventID string) (*entity.ProcessedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[eventID]
	if !ok {
		return nil, fmt.Errorf("can't get processed record by event id: %w", db.ErrNotFound)
	}
	return copyRecord(stored), nil
}

func (r *processedRecordsRepo) Transition(_ context.Context, t *entity.Transition) (*entity.ProcessedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[t.EventID]
	if !ok || !containsStatus(t.From, stored.Status) {
		return nil, nil
	}
	if t.Token != nil && (stored.ReservationToken == nil || *stored.ReservationToken != *t.Token) {
		return nil, nil
	}
	if t.StaleBefore != nil && !stored.UpdatedAt.Before(*t.StaleBefore) {
		return nil, nil
	}
	stored.Status = t.To
	switch {
	case t.NewToken != nil:
		token := *t.NewToken
		stored.ReservationToken = &token
	case t.ClearToken:
		stored.ReservationToken = nil
	}
	switch {
	case t.UnlockTxHash != nil:
		txHash := *t.UnlockTxHash
		stored.UnlockTxHash = &txHash
		if t.UnlockRawTx != nil {
			stored.UnlockRawTx = append([]byte(nil), t.UnlockRawTx...)
		}
	case t.ClearTx:
		stored.UnlockTxHash = nil
		stored.UnlockRawTx = nil
	}
	switch {
	case t.IncAttempts:
		stored.Attempts++
	case t.ResetAttempts:
		stored.Attempts = 0
	}
	if t.LastError != nil {
		lastError := *t.LastError
		stored.LastError = &lastError
	}
	now := r.now()
	stored.UpdatedAt = &now
	return copyRecord(stored), nil
}

func (r *processedRecordsRepo) find(filter func(*entity.ProcessedRecord) bool) []*entity.ProcessedRecord {
	records := make([]*entity.ProcessedRecord, 0, 10)
	for _, stored := range r.records {
		if filter(stored) {
			records = append(records, copyRecord(stored))
		}
	}
	return records
}

func (r *processedRecordsRepo) FindByStatus(_ context.Context, bridgeID string, statuses []entity.Status, limit uint64) ([]*entity.ProcessedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.find(func(record *entity.ProcessedRecord) bool {
		return record.BridgeID == bridgeID && containsStatus(statuses, record.Status)
	})
	sort.Slice(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].LogIndex < records[j].LogIndex
	})
	if limit > 0 && uint64(len(records)) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *processedRecordsRepo) FindByUnlockTxHash(_ context.Context, txHash common.Hash) (*entity.ProcessedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.records {
		if stored.UnlockTxHash != nil && *stored.UnlockTxHash == txHash {
			return copyRecord(stored), nil
		}
	}
	return nil, fmt.Errorf("can't get processed record by unlock tx hash: %w", db.ErrNotFound)
}

func (r *processedRecordsRepo) CountByStatus(_ context.Context, bridgeID string) (map[entity.Status]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[entity.Status]uint, len(entity.AllStatuses))
	for _, status := range entity.AllStatuses {
		counts[status] = 0
	}
	for _, stored := range r.records {
		if stored.BridgeID == bridgeID {
			counts[stored.Status]++
		}
	}
	return counts, nil
}

func (r *processedRecordsRepo) FindStuck(_ context.Context, bridgeID string, statuses []entity.Status, before time.Time) ([]*entity.ProcessedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.find(func(record *entity.ProcessedRecord) bool {
		return record.BridgeID == bridgeID && containsStatus(statuses, record.Status) && record.UpdatedAt.Before(before)
	})
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(*records[j].UpdatedAt)
	})
	return records, nil
}
