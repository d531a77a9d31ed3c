package presenter

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/relayer"
)

type TxInfo struct {
	ChainID     string      `json:"chain_id"`
	BlockNumber uint        `json:"block_number,omitempty"`
	TxHash      common.Hash `json:"tx_hash"`
	Link        string      `json:"link"`
}

type EventInfo struct {
	EventID            string         `json:"event_id"`
	BridgeID           string         `json:"bridge_id"`
	Status             entity.Status  `json:"status"`
	Lock               *TxInfo        `json:"lock"`
	LogIndex           uint           `json:"log_index"`
	Sender             common.Address `json:"sender"`
	Recipient          common.Address `json:"recipient"`
	Amount             string         `json:"amount"`
	DestinationChainID string         `json:"destination_chain_id"`
	Unlock             *TxInfo        `json:"unlock,omitempty"`
	Attempts           uint           `json:"attempts"`
	LastError          *string        `json:"last_error,omitempty"`
	CreatedAt          *time.Time     `json:"created_at,omitempty"`
	UpdatedAt          *time.Time     `json:"updated_at,omitempty"`
}

type CheckpointInfo struct {
	ChainID            string      `json:"chain_id"`
	LastProcessedBlock uint        `json:"last_processed_block"`
	BlockHash          common.Hash `json:"block_hash"`
	ConfirmationDepth  uint        `json:"confirmation_depth"`
	UpdatedAt          *time.Time  `json:"updated_at,omitempty"`
}

type BridgeInfo struct {
	Pipeline   *relayer.BridgeStatus  `json:"pipeline,omitempty"`
	Checkpoint *CheckpointInfo        `json:"checkpoint,omitempty"`
	Events     map[entity.Status]uint `json:"events"`
}
