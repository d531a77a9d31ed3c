package entity

import "errors"

var (
	// ErrTransientRPC marks chain transport failures that are safe to retry.
	ErrTransientRPC = errors.New("transient rpc error")
	// ErrDecode marks a source log that does not match the bridge ABI.
	ErrDecode = errors.New("can't decode lock event")
	// ErrPermanentSubmission marks an unlock that can never succeed as built.
	ErrPermanentSubmission = errors.New("permanent submission error")
	// ErrInvalidTransition marks a ledger transition that violates the state machine.
	ErrInvalidTransition = errors.New("invalid ledger transition")
	// ErrReorgInvalidation marks source chain data that no longer matches persisted state.
	ErrReorgInvalidation = errors.New("reorg invalidated processed data")
)

// IsPipelineFatal reports whether err must pause a bridge pipeline instead of restarting it.
func IsPipelineFatal(err error) bool {
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrReorgInvalidation)
}
