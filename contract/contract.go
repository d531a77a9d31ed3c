package contract

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/contract/abi"
	"github.com/poanetwork/tokenbridge-relayer/entity"
)

type Contract struct {
	address common.Address
	abi     abi.ABI
}

func NewContract(addr common.Address, abi abi.ABI) *Contract {
	return &Contract{addr, abi}
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) AllEvents() map[string]bool {
	return c.abi.AllEvents()
}

func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot encode abi calldata: %w", err)
	}
	return data, nil
}

func (c *Contract) ParseLog(log *entity.Log) (string, map[string]interface{}, error) {
	if log.Address != c.address {
		return "", nil, nil
	}
	return c.abi.ParseLog(log)
}
