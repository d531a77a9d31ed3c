package entity

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type Log struct {
	ChainID         string
	Address         common.Address
	Topic0          *common.Hash
	Topic1          *common.Hash
	Topic2          *common.Hash
	Topic3          *common.Hash
	Data            []byte
	BlockNumber     uint
	BlockHash       common.Hash
	LogIndex        uint
	TransactionHash common.Hash
	Removed         bool
}

func NewLog(chainID string, log types.Log) *Log {
	e := &Log{
		ChainID:         chainID,
		Address:         log.Address,
		Data:            log.Data,
		BlockNumber:     uint(log.BlockNumber),
		BlockHash:       log.BlockHash,
		LogIndex:        log.Index,
		TransactionHash: log.TxHash,
		Removed:         log.Removed,
	}
	topics := [4]*common.Hash{}
	for i, topic := range log.Topics {
		if i >= len(topics) {
			break
		}
		topic := topic
		topics[i] = &topic
	}
	e.Topic0, e.Topic1, e.Topic2, e.Topic3 = topics[0], topics[1], topics[2], topics[3]
	return e
}

func (l *Log) Topics() []common.Hash {
	topics := make([]common.Hash, 0, 4)
	for _, topic := range []*common.Hash{l.Topic0, l.Topic1, l.Topic2, l.Topic3} {
		if topic == nil {
			break
		}
		topics = append(topics, *topic)
	}
	return topics
}

// EventID returns the identity of the source event this log represents.
func (l *Log) EventID() EventID {
	return EventID{ChainID: l.ChainID, TxHash: l.TransactionHash, LogIndex: l.LogIndex}
}
