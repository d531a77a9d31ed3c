// Package ethclienttest provides an in-memory chain implementing ethclient.Client for tests.
package ethclienttest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/poanetwork/tokenbridge-relayer/contract/bridgeabi"
	"github.com/poanetwork/tokenbridge-relayer/ethclient"
)

var (
	ErrNonceTooLow  = errors.New("nonce too low")
	ErrAlreadyKnown = errors.New("already known")
	ErrReverted     = errors.New("execution reverted")
)

type minedTx struct {
	tx      *types.Transaction
	receipt *types.Receipt
}

// Chain is a single-node chain simulation. Blocks exist up to the head,
// block hashes change for every block at or above a reorg point.
type Chain struct {
	mu sync.Mutex

	chainID  *big.Int
	signer   types.Signer
	head     uint
	reorgs   []uint
	logs     []types.Log
	pending  map[common.Hash]*types.Transaction
	mined    map[common.Hash]*minedTx
	nonces   map[common.Address]uint64
	failures map[string][]error
	sent     []*types.Transaction

	GasPrice *big.Int
	Gas      uint64
	// AutoMine includes every accepted transaction into a new block right away.
	AutoMine bool
	// Revert decides whether a transaction reverts, both on estimation and on execution.
	Revert func(msg ethereum.CallMsg) bool
	// OnSend is invoked for every transaction accepted into the pool.
	OnSend func(tx *types.Transaction)
}

var _ ethclient.Client = (*Chain)(nil)

func NewChain(chainID int64, head uint) *Chain {
	return &Chain{
		chainID:  big.NewInt(chainID),
		signer:   types.LatestSignerForChainID(big.NewInt(chainID)),
		head:     head,
		pending:  make(map[common.Hash]*types.Transaction),
		mined:    make(map[common.Hash]*minedTx),
		nonces:   make(map[common.Address]uint64),
		failures: make(map[string][]error),
		GasPrice: big.NewInt(1e9),
		Gas:      50000,
	}
}

func (c *Chain) ChainID() string {
	return c.chainID.String()
}

func (c *Chain) Signer() types.Signer {
	return c.signer
}

// FailNext makes the next calls of the given method fail with the given errors, in order.
func (c *Chain) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], errs...)
}

func (c *Chain) failure(method string) error {
	errs := c.failures[method]
	if len(errs) == 0 {
		return nil
	}
	c.failures[method] = errs[1:]
	return errs[0]
}

func (c *Chain) Head() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Mine advances the head by n empty blocks.
func (c *Chain) Mine(n uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += n
}

// Reorg replaces every block starting from the given one, changing their hashes.
// Logs of replaced blocks are dropped unless keepLogs is set.
func (c *Chain) Reorg(from uint, keepLogs bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reorgs = append(c.reorgs, from)
	if keepLogs {
		return
	}
	kept := c.logs[:0]
	for _, log := range c.logs {
		if uint(log.BlockNumber) < from {
			kept = append(kept, log)
		}
	}
	c.logs = kept
}

func (c *Chain) header(n uint) *types.Header {
	var fork byte
	for _, from := range c.reorgs {
		if n >= from {
			fork++
		}
	}
	return &types.Header{
		Number:     new(big.Int).SetUint64(uint64(n)),
		Difficulty: big.NewInt(1),
		Extra:      append(c.chainID.Bytes(), fork),
	}
}

func (c *Chain) BlockHash(n uint) common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header(n).Hash()
}

// AddLog places the log into the block given by log.BlockNumber.
func (c *Chain) AddLog(log types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, log)
	sort.SliceStable(c.logs, func(i, j int) bool {
		if c.logs[i].BlockNumber != c.logs[j].BlockNumber {
			return c.logs[i].BlockNumber < c.logs[j].BlockNumber
		}
		return c.logs[i].Index < c.logs[j].Index
	})
}

func (c *Chain) BlockNumber(_ context.Context) (uint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_blockNumber"); err != nil {
		return 0, err
	}
	return c.head, nil
}

func (c *Chain) HeaderByNumber(_ context.Context, n uint) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_getBlockByNumber"); err != nil {
		return nil, err
	}
	if n > c.head {
		return nil, ethereum.NotFound
	}
	return c.header(n), nil
}

func (c *Chain) filterLogs(q ethereum.FilterQuery) []types.Log {
	addresses := make(map[common.Address]bool, len(q.Addresses))
	for _, addr := range q.Addresses {
		addresses[addr] = true
	}
	res := make([]types.Log, 0, len(c.logs))
	for _, log := range c.logs {
		if q.FromBlock != nil && log.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && log.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if uint(log.BlockNumber) > c.head {
			continue
		}
		if len(addresses) > 0 && !addresses[log.Address] {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && (len(log.Topics) == 0 || !containsHash(q.Topics[0], log.Topics[0])) {
			continue
		}
		log.BlockHash = c.header(uint(log.BlockNumber)).Hash()
		res = append(res, log)
	}
	return res
}

func containsHash(hashes []common.Hash, hash common.Hash) bool {
	for _, h := range hashes {
		if h == hash {
			return true
		}
	}
	return false
}

func (c *Chain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_getLogs"); err != nil {
		return nil, err
	}
	return c.filterLogs(q), nil
}

func (c *Chain) FilterLogsSafe(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_getLogs"); err != nil {
		return nil, err
	}
	if q.ToBlock == nil || q.ToBlock.Uint64() > uint64(c.head) {
		return nil, ethclient.ErrNodeIsNotSynced
	}
	return c.filterLogs(q), nil
}

func (c *Chain) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_getTransactionByHash"); err != nil {
		return nil, false, err
	}
	if tx, ok := c.pending[hash]; ok {
		return tx, true, nil
	}
	if m, ok := c.mined[hash]; ok {
		return m.tx, false, nil
	}
	return nil, false, ethereum.NotFound
}

func (c *Chain) TransactionReceiptByHash(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	if m, ok := c.mined[hash]; ok {
		receipt := *m.receipt
		receipt.BlockHash = c.header(uint(receipt.BlockNumber.Uint64())).Hash()
		return &receipt, nil
	}
	// transactions known only by their logs, as added with AddLog
	var receipt *types.Receipt
	for _, log := range c.filterLogs(ethereum.FilterQuery{}) {
		if log.TxHash != hash {
			continue
		}
		log := log
		if receipt == nil {
			receipt = &types.Receipt{
				Status:      types.ReceiptStatusSuccessful,
				TxHash:      hash,
				BlockHash:   log.BlockHash,
				BlockNumber: new(big.Int).SetUint64(log.BlockNumber),
			}
		}
		receipt.Logs = append(receipt.Logs, &log)
	}
	if receipt != nil {
		return receipt, nil
	}
	return nil, ethereum.NotFound
}

func (c *Chain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_estimateGas"); err != nil {
		return 0, err
	}
	if c.Revert != nil && c.Revert(msg) {
		return 0, ErrReverted
	}
	return c.Gas, nil
}

func (c *Chain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_gasPrice"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.GasPrice), nil
}

func (c *Chain) pendingNonce(account common.Address) uint64 {
	nonce := c.nonces[account]
	for _, tx := range c.pending {
		sender, err := types.Sender(c.signer, tx)
		if err == nil && sender == account && tx.Nonce() >= nonce {
			nonce = tx.Nonce() + 1
		}
	}
	return nonce
}

func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure("eth_getTransactionCount"); err != nil {
		return 0, err
	}
	return c.pendingNonce(account), nil
}

func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	if err := c.failure("eth_sendRawTransaction"); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.pending[tx.Hash()]; ok {
		c.mu.Unlock()
		return ErrAlreadyKnown
	}
	if _, ok := c.mined[tx.Hash()]; ok {
		c.mu.Unlock()
		return ErrAlreadyKnown
	}
	sender, err := types.Sender(c.signer, tx)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() < c.nonces[sender] {
		c.mu.Unlock()
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, sender, tx.Nonce(), c.nonces[sender])
	}
	for hash, other := range c.pending {
		otherSender, _ := types.Sender(c.signer, other)
		if otherSender == sender && other.Nonce() == tx.Nonce() {
			delete(c.pending, hash)
		}
	}
	c.pending[tx.Hash()] = tx
	c.sent = append(c.sent, tx)
	if c.AutoMine {
		c.mineLocked()
	}
	onSend := c.OnSend
	c.mu.Unlock()
	if onSend != nil {
		onSend(tx)
	}
	return nil
}

// Drop removes the transaction from the pool as if the node had lost it.
func (c *Chain) Drop(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, hash)
}

// MinePending includes all pool transactions into a single new block.
func (c *Chain) MinePending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mineLocked()
}

func (c *Chain) mineLocked() {
	c.head++
	txs := make([]*types.Transaction, 0, len(c.pending))
	for _, tx := range c.pending {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Nonce() < txs[j].Nonce()
	})
	for i, tx := range txs {
		delete(c.pending, tx.Hash())
		sender, _ := types.Sender(c.signer, tx)
		if tx.Nonce() != c.nonces[sender] {
			continue
		}
		c.nonces[sender]++
		status := types.ReceiptStatusSuccessful
		if c.Revert != nil && c.Revert(ethereum.CallMsg{From: sender, To: tx.To(), Data: tx.Data()}) {
			status = types.ReceiptStatusFailed
		}
		c.mined[tx.Hash()] = &minedTx{
			tx: tx,
			receipt: &types.Receipt{
				Status:           status,
				TxHash:           tx.Hash(),
				GasUsed:          tx.Gas(),
				BlockNumber:      new(big.Int).SetUint64(uint64(c.head)),
				TransactionIndex: uint(i),
			},
		}
	}
}

// Sent returns every transaction accepted into the pool, in order.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// Mined returns executed transactions sent to the given contract.
func (c *Chain) Mined(to common.Address) []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]*types.Transaction, 0, len(c.mined))
	for _, m := range c.mined {
		if m.tx.To() != nil && *m.tx.To() == to && m.receipt.Status == types.ReceiptStatusSuccessful {
			res = append(res, m.tx)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Nonce() < res[j].Nonce()
	})
	return res
}

// NewLockLog builds a TokensLocked log of the given bridge contract.
func NewLockLog(bridge common.Address, block uint, txHash common.Hash, logIndex uint, sender, recipient common.Address, amount *big.Int, destinationChainID int64) types.Log {
	data, err := bridgeabi.BridgeABI.Events["TokensLocked"].Inputs.NonIndexed().Pack(amount, big.NewInt(destinationChainID))
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     bridge,
		Topics:      []common.Hash{bridgeabi.TokensLockedEventSignature, sender.Hash(), recipient.Hash()},
		Data:        data,
		BlockNumber: uint64(block),
		TxHash:      txHash,
		Index:       logIndex,
	}
}
