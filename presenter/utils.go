package presenter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/entity"
)

var formats = map[string]string{
	"1":        "https://etherscan.io/tx/%s",
	"5":        "https://goerli.etherscan.io/tx/%s",
	"56":       "https://bscscan.com/tx/%s",
	"77":       "https://blockscout.com/poa/sokol/tx/%s",
	"99":       "https://blockscout.com/poa/core/tx/%s",
	"100":      "https://gnosisscan.io/tx/%s",
	"137":      "https://polygonscan.com/tx/%s",
	"11155111": "https://sepolia.etherscan.io/tx/%s",
}

func txLink(chainID string, txHash common.Hash) string {
	if format, ok := formats[chainID]; ok {
		return fmt.Sprintf(format, txHash)
	}
	return txHash.String()
}

func recordToEventInfo(record *entity.ProcessedRecord) *EventInfo {
	info := &EventInfo{
		EventID:  record.EventID,
		BridgeID: record.BridgeID,
		Status:   record.Status,
		Lock: &TxInfo{
			ChainID:     record.ChainID,
			BlockNumber: record.BlockNumber,
			TxHash:      record.TransactionHash,
			Link:        txLink(record.ChainID, record.TransactionHash),
		},
		LogIndex:           record.LogIndex,
		Sender:             record.Sender,
		Recipient:          record.Recipient,
		Amount:             record.Amount.String(),
		DestinationChainID: record.DestinationChainID,
		Attempts:           record.Attempts,
		LastError:          record.LastError,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
	if record.UnlockTxHash != nil {
		info.Unlock = &TxInfo{
			ChainID: record.DestinationChainID,
			TxHash:  *record.UnlockTxHash,
			Link:    txLink(record.DestinationChainID, *record.UnlockTxHash),
		}
	}
	return info
}

func checkpointToInfo(cp *entity.Checkpoint) *CheckpointInfo {
	return &CheckpointInfo{
		ChainID:            cp.ChainID,
		LastProcessedBlock: cp.LastProcessedBlock,
		BlockHash:          cp.LastProcessedBlockHash,
		ConfirmationDepth:  cp.ConfirmationDepth,
		UpdatedAt:          cp.UpdatedAt,
	}
}
