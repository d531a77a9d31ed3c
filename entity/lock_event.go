package entity

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EventID identifies a lock event by its position on the source chain.
type EventID struct {
	ChainID  string
	TxHash   common.Hash
	LogIndex uint
}

func (id EventID) String() string {
	return fmt.Sprintf("%s:%s:%d", id.ChainID, id.TxHash, id.LogIndex)
}

func ParseEventID(s string) (EventID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return EventID{}, fmt.Errorf("invalid event id %q", s)
	}
	if len(parts[1]) != 2+2*common.HashLength || !strings.HasPrefix(parts[1], "0x") {
		return EventID{}, fmt.Errorf("invalid transaction hash in event id %q", s)
	}
	logIndex, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return EventID{}, fmt.Errorf("invalid log index in event id %q: %w", s, err)
	}
	return EventID{
		ChainID:  parts[0],
		TxHash:   common.HexToHash(parts[1]),
		LogIndex: uint(logIndex),
	}, nil
}

type LockEvent struct {
	ID                 EventID
	BridgeID           string
	BlockNumber        uint
	BlockHash          common.Hash
	Sender             common.Address
	Recipient          common.Address
	Amount             *big.Int
	DestinationChainID string
}

// Less orders events by their position on the source chain.
func (e *LockEvent) Less(other *LockEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.ID.LogIndex < other.ID.LogIndex
}

func SortLockEvents(events []*LockEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Less(events[j])
	})
}
