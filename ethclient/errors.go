package ethclient

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
)

const revertErrorCode = 3

var (
	ErrIncompatibleChainID = errors.New("rpc url returned incompatible chainID")
	ErrNodeIsNotSynced     = errors.New("node is not synced to the requested block")
	ErrInvalidLogsQuery    = errors.New("invalid logs filter query")
)

func containsAny(err error, substrings ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range substrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsRevert reports whether the node rejected a call because the contract reverted.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return containsAny(err, "execution reverted")
}

func IsNonceTooLow(err error) bool {
	return err != nil && containsAny(err, "nonce too low")
}

// IsAlreadyKnown reports whether the node already has the broadcasted transaction.
func IsAlreadyKnown(err error) bool {
	return err != nil && containsAny(err, "already known", "known transaction", "alreadyknown")
}

func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}
