package submitter_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/ethclient/ethclienttest"
	"github.com/poanetwork/tokenbridge-relayer/nonce"
	"github.com/poanetwork/tokenbridge-relayer/signer"
	"github.com/poanetwork/tokenbridge-relayer/submitter"
)

var bridgeAddress = common.HexToAddress("0xb000000000000000000000000000000000000001")

type signedTx struct {
	hash common.Hash
	raw  []byte
}

type testEnv struct {
	chain     *ethclienttest.Chain
	submitter *submitter.Submitter
	signed    []signedTx
}

func (e *testEnv) onSigned(_ context.Context, txHash common.Hash, raw []byte) error {
	e.signed = append(e.signed, signedTx{hash: txHash, raw: raw})
	return nil
}

func newTestEnv(t *testing.T, maxGasPrice *big.Int) *testEnv {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	chain := ethclienttest.NewChain(200, 100)
	s, err := submitter.NewSubmitter(logger, chain, &config.DestinationConfig{
		ChainName:          "dest",
		Address:            bridgeAddress,
		MaxGasPrice:        maxGasPrice,
		GasLimitMultiplier: 1.5,
		BlockConfirmations: 2,
	}, &config.RelayConfig{
		MaxAttempts: 3,
		Backoff: &config.BackoffConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
		ReceiptTimeout: 100 * time.Millisecond,
	}, signer.NewKeySigner(key), nonce.NewManager(nil))
	require.NoError(t, err)
	return &testEnv{chain: chain, submitter: s}
}

func testEvent(logIndex uint) *entity.LockEvent {
	return &entity.LockEvent{
		ID: entity.EventID{
			ChainID:  "100",
			TxHash:   common.HexToHash("0xaa"),
			LogIndex: logIndex,
		},
		BlockNumber:        10,
		Sender:             common.HexToAddress("0x01"),
		Recipient:          common.HexToAddress("0x02"),
		Amount:             big.NewInt(1000),
		DestinationChainID: "200",
	}
}

func TestSubmitter_Submit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.chain.OnSend = func(tx *types.Transaction) {
		require.NotEmpty(t, env.signed)
		require.Equal(t, env.signed[len(env.signed)-1].hash, tx.Hash())
	}
	ctx := context.Background()

	txHash, err := env.submitter.Submit(ctx, testEvent(1), env.onSigned)
	require.NoError(t, err)
	txHash2, err := env.submitter.Submit(ctx, testEvent(2), env.onSigned)
	require.NoError(t, err)

	sent := env.chain.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, txHash, sent[0].Hash())
	require.Equal(t, txHash2, sent[1].Hash())
	require.EqualValues(t, 0, sent[0].Nonce())
	require.EqualValues(t, 1, sent[1].Nonce())
	require.EqualValues(t, 75000, sent[0].Gas())
	require.Equal(t, bridgeAddress, *sent[0].To())
	require.Equal(t, big.NewInt(1e9), sent[0].GasPrice())
}

func TestSubmitter_SubmitPermanentErrors(t *testing.T) {
	t.Parallel()

	t.Run("should fail when gas price exceeds the limit", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, big.NewInt(1e9-1))
		txHash, err := env.submitter.Submit(context.Background(), testEvent(1), env.onSigned)
		require.ErrorIs(t, err, entity.ErrPermanentSubmission)
		require.Equal(t, common.Hash{}, txHash)
		require.Empty(t, env.signed)
		require.Empty(t, env.chain.Sent())
	})

	t.Run("should fail when unlock reverts", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		env.chain.Revert = func(ethereum.CallMsg) bool { return true }
		_, err := env.submitter.Submit(context.Background(), testEvent(1), env.onSigned)
		require.ErrorIs(t, err, entity.ErrPermanentSubmission)
		require.Empty(t, env.chain.Sent())
	})

	t.Run("should abort when signed tx can't be persisted", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		errLost := errors.New("reservation lost")
		_, err := env.submitter.Submit(context.Background(), testEvent(1), func(context.Context, common.Hash, []byte) error {
			return errLost
		})
		require.ErrorIs(t, err, errLost)
		require.Empty(t, env.chain.Sent())

		_, err = env.submitter.Submit(context.Background(), testEvent(1), env.onSigned)
		require.NoError(t, err)
		require.EqualValues(t, 0, env.chain.Sent()[0].Nonce())
	})
}

func TestSubmitter_SubmitTransientErrors(t *testing.T) {
	t.Parallel()

	t.Run("should retry rpc failures", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		rpcErr := errors.New("connection reset")
		env.chain.FailNext("eth_estimateGas", rpcErr, rpcErr)
		env.chain.FailNext("eth_gasPrice", rpcErr)
		env.chain.FailNext("eth_getTransactionCount", rpcErr)
		_, err := env.submitter.Submit(context.Background(), testEvent(1), env.onSigned)
		require.NoError(t, err)
		require.Len(t, env.chain.Sent(), 1)
		require.Len(t, env.signed, 1)
	})

	t.Run("should give up after max attempts", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		rpcErr := errors.New("connection reset")
		env.chain.FailNext("eth_estimateGas", rpcErr, rpcErr, rpcErr)
		_, err := env.submitter.Submit(context.Background(), testEvent(1), env.onSigned)
		require.ErrorIs(t, err, entity.ErrTransientRPC)
		require.ErrorIs(t, err, rpcErr)
		require.Empty(t, env.signed)
	})

	t.Run("should keep signed tx when broadcast fails", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		rpcErr := errors.New("connection reset")
		env.chain.FailNext("eth_sendRawTransaction", rpcErr, rpcErr, rpcErr)
		txHash, err := env.submitter.Submit(context.Background(), testEvent(1), env.onSigned)
		require.ErrorIs(t, err, entity.ErrTransientRPC)
		require.Len(t, env.signed, 1)
		require.Equal(t, env.signed[0].hash, txHash)
		require.Empty(t, env.chain.Sent())

		rebroadcasted, err := env.submitter.Rebroadcast(context.Background(), env.signed[0].raw)
		require.NoError(t, err)
		require.Equal(t, txHash, rebroadcasted)
		require.Len(t, env.chain.Sent(), 1)

		_, err = env.submitter.Rebroadcast(context.Background(), env.signed[0].raw)
		require.NoError(t, err)
		require.Len(t, env.chain.Sent(), 1)
	})

	t.Run("should treat already known as success", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		env.chain.FailNext("eth_sendRawTransaction", ethclienttest.ErrAlreadyKnown)
		txHash, err := env.submitter.Submit(context.Background(), testEvent(1), env.onSigned)
		require.NoError(t, err)
		require.Equal(t, env.signed[0].hash, txHash)
	})

	t.Run("should sign with a fresh nonce when the nonce was consumed", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		env.chain.FailNext("eth_sendRawTransaction", ethclienttest.ErrNonceTooLow)
		txHash, err := env.submitter.Submit(context.Background(), testEvent(1), env.onSigned)
		require.NoError(t, err)
		require.Len(t, env.signed, 2)
		require.Equal(t, env.signed[1].hash, txHash)
		sent := env.chain.Sent()
		require.Len(t, sent, 1)
		require.Equal(t, txHash, sent[0].Hash())
		require.EqualValues(t, 1, sent[0].Nonce())
	})
}

func TestSubmitter_Rebroadcast(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.submitter.Submit(ctx, testEvent(1), env.onSigned)
	require.NoError(t, err)
	env.chain.MinePending()

	// mined transactions are reported as already known
	_, err = env.submitter.Rebroadcast(ctx, env.signed[0].raw)
	require.NoError(t, err)

	_, err = env.submitter.Rebroadcast(ctx, []byte{1, 2, 3})
	require.ErrorIs(t, err, entity.ErrPermanentSubmission)
}

func TestSubmitter_RebroadcastNonceConsumed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx := context.Background()
	rpcErr := errors.New("connection reset")
	env.chain.FailNext("eth_sendRawTransaction", rpcErr, rpcErr, rpcErr)
	_, err := env.submitter.Submit(ctx, testEvent(1), env.onSigned)
	require.Error(t, err)

	_, err = env.submitter.Submit(ctx, testEvent(2), env.onSigned)
	require.NoError(t, err)
	require.EqualValues(t, 1, env.chain.Sent()[0].Nonce())

	env.chain.FailNext("eth_sendRawTransaction", ethclienttest.ErrNonceTooLow)
	_, err = env.submitter.Rebroadcast(ctx, env.signed[0].raw)
	require.ErrorIs(t, err, submitter.ErrNonceConsumed)
}

func TestSubmitter_Lookup(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx := context.Background()

	outcome, err := env.submitter.Lookup(ctx, common.HexToHash("0x01"))
	require.NoError(t, err)
	require.Equal(t, submitter.OutcomeNotFound, outcome.Status)

	txHash, err := env.submitter.Submit(ctx, testEvent(1), env.onSigned)
	require.NoError(t, err)
	outcome, err = env.submitter.Lookup(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, submitter.OutcomePending, outcome.Status)
	require.Nil(t, outcome.Receipt)

	env.chain.MinePending()
	env.chain.Mine(1)
	outcome, err = env.submitter.Lookup(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, submitter.OutcomePending, outcome.Status)
	require.EqualValues(t, 1, outcome.Confirmations)
	require.NotNil(t, outcome.Receipt)

	env.chain.Mine(1)
	outcome, err = env.submitter.Lookup(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, submitter.OutcomeSuccess, outcome.Status)
	require.True(t, outcome.IsFinal())

	rpcErr := errors.New("connection reset")
	env.chain.FailNext("eth_getTransactionReceipt", rpcErr)
	_, err = env.submitter.Lookup(ctx, txHash)
	require.ErrorIs(t, err, entity.ErrTransientRPC)
}

func TestSubmitter_LookupReverted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx := context.Background()
	txHash, err := env.submitter.Submit(ctx, testEvent(1), env.onSigned)
	require.NoError(t, err)

	env.chain.Revert = func(ethereum.CallMsg) bool { return true }
	env.chain.MinePending()
	env.chain.Mine(2)
	outcome, err := env.submitter.Lookup(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, submitter.OutcomeReverted, outcome.Status)
}

func TestSubmitter_AwaitReceipt(t *testing.T) {
	t.Parallel()

	t.Run("should wait for confirmations", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		env.chain.AutoMine = true
		ctx := context.Background()
		txHash, err := env.submitter.Submit(ctx, testEvent(1), env.onSigned)
		require.NoError(t, err)

		go func() {
			time.Sleep(10 * time.Millisecond)
			env.chain.Mine(2)
		}()
		outcome, err := env.submitter.AwaitReceipt(ctx, txHash)
		require.NoError(t, err)
		require.Equal(t, submitter.OutcomeSuccess, outcome.Status)
	})

	t.Run("should return last outcome on timeout", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		ctx := context.Background()
		txHash, err := env.submitter.Submit(ctx, testEvent(1), env.onSigned)
		require.NoError(t, err)

		outcome, err := env.submitter.AwaitReceipt(ctx, txHash)
		require.NoError(t, err)
		require.Equal(t, submitter.OutcomePending, outcome.Status)
	})

	t.Run("should stop when cancelled", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := env.submitter.AwaitReceipt(ctx, common.HexToHash("0x01"))
		require.ErrorIs(t, err, context.Canceled)
	})
}
