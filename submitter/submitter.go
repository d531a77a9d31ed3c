package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/contract"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/ethclient"
	"github.com/poanetwork/tokenbridge-relayer/logging"
	"github.com/poanetwork/tokenbridge-relayer/nonce"
	"github.com/poanetwork/tokenbridge-relayer/signer"
	"github.com/poanetwork/tokenbridge-relayer/utils"
)

// ErrNonceConsumed is returned when the nonce of a signed transaction was taken by another transaction,
// so the signed one can never be included.
var ErrNonceConsumed = errors.New("transaction nonce consumed by another transaction")

var errNotFinal = errors.New("transaction outcome is not final")

// OnSigned persists the signed transaction. It is called before the transaction is broadcast,
// an error aborts the submission.
type OnSigned func(ctx context.Context, txHash common.Hash, raw []byte) error

type Submitter struct {
	logger   logging.Logger
	client   ethclient.Client
	contract *contract.BridgeContract
	signer   signer.Signer
	lane     *nonce.Lane
	chainID  *big.Int
	cfg      *config.DestinationConfig
	relayCfg *config.RelayConfig
}

func NewSubmitter(logger logging.Logger, client ethclient.Client, cfg *config.DestinationConfig, relayCfg *config.RelayConfig, s signer.Signer, lanes *nonce.Manager) (*Submitter, error) {
	chainID, ok := new(big.Int).SetString(client.ChainID(), 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain id %q", client.ChainID())
	}
	return &Submitter{
		logger: logger.WithFields(logrus.Fields{
			"component":         "submitter",
			"destination_chain": client.ChainID(),
			"signer":            s.Address().String(),
		}),
		client:   client,
		contract: contract.NewBridgeContract(cfg.Address),
		signer:   s,
		lane:     lanes.Lane(client.ChainID(), s.Address(), client),
		chainID:  chainID,
		cfg:      cfg,
		relayCfg: relayCfg,
	}, nil
}

// LaneKey identifies the nonce lane the submitter sends through.
func (s *Submitter) LaneKey() string {
	return s.lane.Key()
}

func (s *Submitter) ChainID() string {
	return s.client.ChainID()
}

func (s *Submitter) retry(ctx context.Context, step string, f backoff.Operation) error {
	return backoff.RetryNotify(f, utils.NewBackOff(ctx, s.relayCfg.Backoff, s.relayCfg.MaxAttempts), func(err error, d time.Duration) {
		s.logger.WithError(err).WithField("step", step).Warnf("submission step failed, retrying in %s", d)
	})
}

// transient wraps errors left after retries, keeping permanent ones untouched.
func transient(step string, err error) error {
	if err == nil || errors.Is(err, entity.ErrPermanentSubmission) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", step, entity.ErrTransientRPC, err)
}

// Submit builds, signs and broadcasts the unlock transaction of the event.
// The returned hash is set once a transaction was signed and persisted through onSigned,
// even when the broadcast itself failed.
func (s *Submitter) Submit(ctx context.Context, ev *entity.LockEvent, onSigned OnSigned) (common.Hash, error) {
	logger := s.logger.WithField("event_id", ev.ID.String())

	data, err := s.contract.EncodeUnlockCall(ev.Recipient, ev.Amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: can't encode unlock call: %s", entity.ErrPermanentSubmission, err)
	}
	to := s.cfg.Address
	msg := ethereum.CallMsg{
		From: s.signer.Address(),
		To:   &to,
		Data: data,
	}

	var gas uint64
	err = s.retry(ctx, "estimate_gas", func() (err error) {
		gas, err = s.client.EstimateGas(ctx, msg)
		if ethclient.IsRevert(err) {
			return backoff.Permanent(fmt.Errorf("%w: unlock reverts: %s", entity.ErrPermanentSubmission, err))
		}
		return err
	})
	if err != nil {
		return common.Hash{}, transient("estimate gas", err)
	}
	gasLimit := uint64(float64(gas) * s.cfg.GasLimitMultiplier)

	var gasPrice *big.Int
	err = s.retry(ctx, "gas_price", func() (err error) {
		gasPrice, err = s.client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return common.Hash{}, transient("suggest gas price", err)
	}
	if s.cfg.MaxGasPrice != nil && gasPrice.Cmp(s.cfg.MaxGasPrice) > 0 {
		return common.Hash{}, fmt.Errorf("%w: gas price %s exceeds limit %s", entity.ErrPermanentSubmission, gasPrice, s.cfg.MaxGasPrice)
	}

	var txHash common.Hash
	err = s.retry(ctx, "send", func() error {
		err := s.lane.Do(ctx, func(ctx context.Context, n uint64) (bool, error) {
			tx := types.NewTx(&types.LegacyTx{
				Nonce:    n,
				GasPrice: gasPrice,
				Gas:      gasLimit,
				To:       &to,
				Value:    big.NewInt(0),
				Data:     data,
			})
			signed, err := s.signer.SignTx(ctx, tx, s.chainID)
			if err != nil {
				return false, err
			}
			raw, err := signed.MarshalBinary()
			if err != nil {
				return false, backoff.Permanent(fmt.Errorf("can't encode signed tx: %w", err))
			}
			if err = onSigned(ctx, signed.Hash(), raw); err != nil {
				return false, backoff.Permanent(err)
			}
			txHash = signed.Hash()
			logger.WithFields(logrus.Fields{
				"tx_hash":   txHash.String(),
				"nonce":     n,
				"gas":       gasLimit,
				"gas_price": gasPrice.String(),
			}).Info("signed unlock transaction")
			return true, s.broadcast(ctx, signed)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNonceConsumed):
			logger.WithField("tx_hash", txHash.String()).Warn("nonce was consumed by another transaction, signing with a fresh nonce")
			return err
		case txHash != common.Hash{}:
			// a signed transaction exists, it must be rebroadcast instead of signing another one
			return backoff.Permanent(err)
		default:
			return err
		}
	})
	if err != nil {
		return txHash, transient("send transaction", err)
	}
	return txHash, nil
}

// broadcast sends the signed transaction, retrying transient failures on the same bytes.
func (s *Submitter) broadcast(ctx context.Context, tx *types.Transaction) error {
	return s.retry(ctx, "broadcast", func() error {
		err := s.client.SendTransaction(ctx, tx)
		switch {
		case err == nil, ethclient.IsAlreadyKnown(err):
			return nil
		case ethclient.IsNonceTooLow(err):
			known, lookupErr := s.isKnown(ctx, tx.Hash())
			if lookupErr != nil {
				return lookupErr
			}
			if known {
				return nil
			}
			return backoff.Permanent(fmt.Errorf("tx %s: %w", tx.Hash(), ErrNonceConsumed))
		default:
			return err
		}
	})
}

func (s *Submitter) isKnown(ctx context.Context, txHash common.Hash) (bool, error) {
	_, _, err := s.client.TransactionByHash(ctx, txHash)
	if ethclient.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Rebroadcast resends previously signed transaction bytes.
func (s *Submitter) Rebroadcast(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("%w: can't decode signed tx: %s", entity.ErrPermanentSubmission, err)
	}
	s.logger.WithField("tx_hash", tx.Hash().String()).Info("rebroadcasting signed unlock transaction")
	if err := s.broadcast(ctx, tx); err != nil {
		if errors.Is(err, ErrNonceConsumed) {
			return tx.Hash(), err
		}
		return tx.Hash(), transient("rebroadcast", err)
	}
	return tx.Hash(), nil
}

// ResetNonce drops the locally tracked nonce after a signed transaction was abandoned without reaching the node.
func (s *Submitter) ResetNonce(ctx context.Context) error {
	return s.lane.Reset(ctx)
}

type OutcomeStatus string

const (
	OutcomeSuccess  OutcomeStatus = "success"
	OutcomeReverted OutcomeStatus = "reverted"
	OutcomePending  OutcomeStatus = "pending"
	OutcomeNotFound OutcomeStatus = "not_found"
)

type Outcome struct {
	Status        OutcomeStatus
	Receipt       *types.Receipt
	Confirmations uint
}

// IsFinal reports whether the outcome can no longer change.
func (o *Outcome) IsFinal() bool {
	return o.Status == OutcomeSuccess || o.Status == OutcomeReverted
}

// Lookup reports the current state of a broadcast transaction.
// An included transaction stays pending until it is required_block_confirmations deep.
func (s *Submitter) Lookup(ctx context.Context, txHash common.Hash) (*Outcome, error) {
	receipt, err := s.client.TransactionReceiptByHash(ctx, txHash)
	if ethclient.IsNotFound(err) {
		known, err2 := s.isKnown(ctx, txHash)
		if err2 != nil {
			return nil, transient("get transaction", err2)
		}
		if known {
			return &Outcome{Status: OutcomePending}, nil
		}
		return &Outcome{Status: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, transient("get receipt", err)
	}
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, transient("get block number", err)
	}
	var confirmations uint
	if block := uint(receipt.BlockNumber.Uint64()); head > block {
		confirmations = head - block
	}
	outcome := &Outcome{Receipt: receipt, Confirmations: confirmations}
	switch {
	case confirmations < s.cfg.BlockConfirmations:
		outcome.Status = OutcomePending
	case receipt.Status == types.ReceiptStatusSuccessful:
		outcome.Status = OutcomeSuccess
	default:
		outcome.Status = OutcomeReverted
	}
	return outcome, nil
}

// AwaitReceipt polls the transaction until its outcome is final or receipt_timeout passes.
// On timeout the last seen outcome is returned without an error.
func (s *Submitter) AwaitReceipt(ctx context.Context, txHash common.Hash) (*Outcome, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.relayCfg.ReceiptTimeout)
	defer cancel()

	logger := s.logger.WithField("tx_hash", txHash.String())
	outcome := &Outcome{Status: OutcomeNotFound}
	err := backoff.RetryNotify(func() error {
		res, err := s.Lookup(timeoutCtx, txHash)
		if err != nil {
			return err
		}
		outcome = res
		if !res.IsFinal() {
			return errNotFinal
		}
		return nil
	}, utils.NewBackOff(timeoutCtx, s.relayCfg.Backoff, 0), func(err error, d time.Duration) {
		logger.WithError(err).Debugf("unlock transaction is not final, checking again in %s", d)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.WithField("status", outcome.Status).Warn("receipt timeout reached")
		return outcome, nil
	}
	return outcome, nil
}
