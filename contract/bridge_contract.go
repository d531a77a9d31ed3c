package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/contract/bridgeabi"
	"github.com/poanetwork/tokenbridge-relayer/entity"
)

type BridgeContract struct {
	*Contract
}

func NewBridgeContract(addr common.Address) *BridgeContract {
	return &BridgeContract{NewContract(addr, bridgeabi.BridgeABI)}
}

// LockEventTopics returns the topic filter selecting lock events.
func (c *BridgeContract) LockEventTopics() [][]common.Hash {
	return [][]common.Hash{{bridgeabi.TokensLockedEventSignature}}
}

// DecodeLockEvent converts a raw source log into a lock event.
// Any log that is not a well-formed TokensLocked event fails with entity.ErrDecode.
func (c *BridgeContract) DecodeLockEvent(log *entity.Log) (*entity.LockEvent, error) {
	event, data, err := c.ParseLog(log)
	if err != nil {
		return nil, fmt.Errorf("%w: log %s: %s", entity.ErrDecode, log.EventID(), err)
	}
	if event != bridgeabi.TokensLocked {
		return nil, fmt.Errorf("%w: log %s is not a lock event", entity.ErrDecode, log.EventID())
	}
	sender, ok1 := data["sender"].(common.Address)
	recipient, ok2 := data["recipient"].(common.Address)
	amount, ok3 := data["amount"].(*big.Int)
	destination, ok4 := data["destinationChainId"].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%w: log %s has unexpected field types", entity.ErrDecode, log.EventID())
	}
	return &entity.LockEvent{
		ID:                 log.EventID(),
		BlockNumber:        log.BlockNumber,
		BlockHash:          log.BlockHash,
		Sender:             sender,
		Recipient:          recipient,
		Amount:             amount,
		DestinationChainID: destination.String(),
	}, nil
}

func (c *BridgeContract) EncodeUnlockCall(recipient common.Address, amount *big.Int) ([]byte, error) {
	return c.Pack(bridgeabi.UnlockTokensMethod, recipient, amount)
}
