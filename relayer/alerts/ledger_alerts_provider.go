package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/entity"
)

const maxReportedFailures = 100

// LedgerAlertsProvider evaluates alerts over the processed records ledger.
type LedgerAlertsProvider struct {
	repo entity.ProcessedRecordsRepo
	now  func() time.Time
}

func NewLedgerAlertsProvider(repo entity.ProcessedRecordsRepo) *LedgerAlertsProvider {
	return &LedgerAlertsProvider{
		repo: repo,
		now:  time.Now,
	}
}

func (p *LedgerAlertsProvider) age(t *time.Time) uint64 {
	if t == nil {
		return 0
	}
	return uint64(p.now().Sub(*t) / time.Second)
}

type FailedUnlock struct {
	ChainID            string      `json:"chain_id"`
	BlockNumber        uint        `json:"block_number,string"`
	TransactionHash    common.Hash `json:"tx_hash"`
	LogIndex           uint        `json:"log_index,string"`
	DestinationChainID string      `json:"destination_chain_id"`
	Age                uint64      `json:"_value,string"`
}

func (p *LedgerAlertsProvider) FindFailedUnlocks(ctx context.Context, params *AlertJobParams) (interface{}, error) {
	records, err := p.repo.FindByStatus(ctx, params.Bridge, []entity.Status{entity.StatusFailed}, maxReportedFailures)
	if err != nil {
		return nil, fmt.Errorf("can't find failed unlocks: %w", err)
	}
	res := make([]FailedUnlock, len(records))
	for i, r := range records {
		res[i] = FailedUnlock{
			ChainID:            r.ChainID,
			BlockNumber:        r.BlockNumber,
			TransactionHash:    r.TransactionHash,
			LogIndex:           r.LogIndex,
			DestinationChainID: r.DestinationChainID,
			Age:                p.age(r.UpdatedAt),
		}
	}
	return res, nil
}

type StuckUnlock struct {
	ChainID         string        `json:"chain_id"`
	BlockNumber     uint          `json:"block_number,string"`
	TransactionHash common.Hash   `json:"tx_hash"`
	LogIndex        uint          `json:"log_index,string"`
	Status          entity.Status `json:"status"`
	UnlockTxHash    string        `json:"unlock_tx_hash"`
	Age             uint64        `json:"_value,string"`
}

func (p *LedgerAlertsProvider) FindStuckUnlocks(ctx context.Context, params *AlertJobParams) (interface{}, error) {
	statuses := []entity.Status{entity.StatusSeen, entity.StatusSubmitting, entity.StatusSubmitted}
	records, err := p.repo.FindStuck(ctx, params.Bridge, statuses, p.now().Add(-params.StuckThreshold))
	if err != nil {
		return nil, fmt.Errorf("can't find stuck unlocks: %w", err)
	}
	res := make([]StuckUnlock, len(records))
	for i, r := range records {
		res[i] = StuckUnlock{
			ChainID:         r.ChainID,
			BlockNumber:     r.BlockNumber,
			TransactionHash: r.TransactionHash,
			LogIndex:        r.LogIndex,
			Status:          r.Status,
			Age:             p.age(r.UpdatedAt),
		}
		if r.UnlockTxHash != nil {
			res[i].UnlockTxHash = r.UnlockTxHash.String()
		}
	}
	return res, nil
}

type PendingEvents struct {
	Status entity.Status `json:"status"`
	Count  uint          `json:"_value,string"`
}

func (p *LedgerAlertsProvider) CountPendingEvents(ctx context.Context, params *AlertJobParams) (interface{}, error) {
	counts, err := p.repo.CountByStatus(ctx, params.Bridge)
	if err != nil {
		return nil, fmt.Errorf("can't count events by status: %w", err)
	}
	res := make([]PendingEvents, 0, len(counts))
	for _, status := range entity.AllStatuses {
		if count := counts[status]; count > 0 && !status.IsTerminal() {
			res = append(res, PendingEvents{Status: status, Count: count})
		}
	}
	return res, nil
}
