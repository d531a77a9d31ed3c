package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSeen       Status = "seen"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

var AllStatuses = []Status{StatusSeen, StatusSubmitting, StatusSubmitted, StatusConfirmed, StatusFailed}

func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

func (s Status) IsInFlight() bool {
	return s == StatusSubmitting || s == StatusSubmitted
}

func (s Status) IsValid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type ProcessedRecord struct {
	EventID            string          `db:"event_id"`
	BridgeID           string          `db:"bridge_id"`
	ChainID            string          `db:"chain_id"`
	TransactionHash    common.Hash     `db:"transaction_hash"`
	LogIndex           uint            `db:"log_index"`
	BlockNumber        uint            `db:"block_number"`
	BlockHash          common.Hash     `db:"block_hash"`
	Sender             common.Address  `db:"sender"`
	Recipient          common.Address  `db:"recipient"`
	Amount             decimal.Decimal `db:"amount"`
	DestinationChainID string          `db:"destination_chain_id"`
	Status             Status          `db:"status"`
	ReservationToken   *string         `db:"reservation_token"`
	UnlockTxHash       *common.Hash    `db:"unlock_tx_hash"`
	UnlockRawTx        []byte          `db:"unlock_raw_tx"`
	Attempts           uint            `db:"attempts"`
	LastError          *string         `db:"last_error"`
	CreatedAt          *time.Time      `db:"created_at"`
	UpdatedAt          *time.Time      `db:"updated_at"`
}

func NewProcessedRecord(ev *LockEvent) *ProcessedRecord {
	return &ProcessedRecord{
		EventID:            ev.ID.String(),
		BridgeID:           ev.BridgeID,
		ChainID:            ev.ID.ChainID,
		TransactionHash:    ev.ID.TxHash,
		LogIndex:           ev.ID.LogIndex,
		BlockNumber:        ev.BlockNumber,
		BlockHash:          ev.BlockHash,
		Sender:             ev.Sender,
		Recipient:          ev.Recipient,
		Amount:             decimal.NewFromBigInt(ev.Amount, 0),
		DestinationChainID: ev.DestinationChainID,
		Status:             StatusSeen,
	}
}

// LockEvent rebuilds the source event from the payload copy stored in the record.
func (r *ProcessedRecord) LockEvent() *LockEvent {
	return &LockEvent{
		ID: EventID{
			ChainID:  r.ChainID,
			TxHash:   r.TransactionHash,
			LogIndex: r.LogIndex,
		},
		BridgeID:           r.BridgeID,
		BlockNumber:        r.BlockNumber,
		BlockHash:          r.BlockHash,
		Sender:             r.Sender,
		Recipient:          r.Recipient,
		Amount:             r.Amount.BigInt(),
		DestinationChainID: r.DestinationChainID,
	}
}

// HasSignedTx reports whether an unlock transaction was signed for the record.
func (r *ProcessedRecord) HasSignedTx() bool {
	return r.UnlockTxHash != nil && len(r.UnlockRawTx) > 0
}

// Transition describes a compare-and-set update of a single ledger record.
// The update applies only when the stored status is one of From and,
// if Token is set, the stored reservation token equals Token.
type Transition struct {
	EventID string
	From    []Status
	To      Status
	Token   *string
	// StaleBefore restricts the update to records not touched since the given time.
	StaleBefore *time.Time

	NewToken      *string
	ClearToken    bool
	UnlockTxHash  *common.Hash
	UnlockRawTx   []byte
	ClearTx       bool
	IncAttempts   bool
	ResetAttempts bool
	LastError     *string
}

type ProcessedRecordsRepo interface {
	// Ensure inserts the record unless one with the same event id exists
	// and returns the stored one.
	Ensure(ctx context.Context, record *ProcessedRecord) (*ProcessedRecord, error)
	GetByEventID(ctx context.Context, eventID string) (*ProcessedRecord, error)
	// Transition applies the update and returns the updated record,
	// or nil when the record did not match the preconditions.
	Transition(ctx context.Context, t *Transition) (*ProcessedRecord, error)
	FindByStatus(ctx context.Context, bridgeID string, statuses []Status, limit uint64) ([]*ProcessedRecord, error)
	FindByUnlockTxHash(ctx context.Context, txHash common.Hash) (*ProcessedRecord, error)
	CountByStatus(ctx context.Context, bridgeID string) (map[Status]uint, error)
	// FindStuck returns records in the given statuses not updated since the given time.
	FindStuck(ctx context.Context, bridgeID string, statuses []Status, before time.Time) ([]*ProcessedRecord, error)
}
