package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/contract"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/ethclient"
	"github.com/poanetwork/tokenbridge-relayer/logging"
)

// defaultMaxRangesPerPoll bounds a single poll while catching up with the chain.
const defaultMaxRangesPerPoll = 10

var (
	ErrEventNotFound = errors.New("lock event not found")
	ErrNotConfirmed  = errors.New("lock event does not have enough confirmations yet")
)

// Watcher reads lock events of one bridge contract that have the required number of confirmations.
// It keeps no state between polls, the same fromBlock always yields the same events.
type Watcher struct {
	logger   logging.Logger
	bridgeID string
	cfg      *config.SourceConfig
	client   ethclient.Client
	contract *contract.BridgeContract

	headBlockMetric     prometheus.Gauge
	safeBlockMetric     prometheus.Gauge
	fetchedEventsMetric prometheus.Counter
}

func NewWatcher(logger logging.Logger, bridgeID string, cfg *config.SourceConfig, client ethclient.Client) *Watcher {
	commonLabels := prometheus.Labels{
		"bridge_id": bridgeID,
		"chain_id":  client.ChainID(),
		"address":   cfg.Address.String(),
	}
	return &Watcher{
		logger: logger.WithFields(logrus.Fields{
			"component": "watcher",
			"chain_id":  client.ChainID(),
			"address":   cfg.Address.String(),
		}),
		bridgeID:            bridgeID,
		cfg:                 cfg,
		client:              client,
		contract:            contract.NewBridgeContract(cfg.Address),
		headBlockMetric:     LatestHeadBlock.With(commonLabels),
		safeBlockMetric:     LatestSafeBlock.With(commonLabels),
		fetchedEventsMetric: FetchedEvents.With(commonLabels),
	}
}

func (w *Watcher) ChainID() string {
	return w.client.ChainID()
}

func (w *Watcher) Address() common.Address {
	return w.cfg.Address
}

// SafeHeight returns the latest block having the required number of confirmations.
func (w *Watcher) SafeHeight(ctx context.Context) (safe uint, head uint, err error) {
	head, err = w.client.BlockNumber(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: can't get block number: %w", entity.ErrTransientRPC, err)
	}
	w.headBlockMetric.Set(float64(head))
	if head < w.cfg.BlockConfirmations {
		return 0, head, nil
	}
	return head - w.cfg.BlockConfirmations, head, nil
}

// Poll returns lock events of blocks after fromBlock that have the required number of confirmations.
func (w *Watcher) Poll(ctx context.Context, fromBlock uint) (*PollResult, error) {
	safe, head, err := w.SafeHeight(ctx)
	if err != nil {
		return nil, err
	}
	if safe <= fromBlock {
		return &PollResult{SafeHeight: fromBlock, Head: head, Synced: true}, nil
	}

	toBlock := safe
	if limit := fromBlock + w.cfg.MaxBlockRangeSize*defaultMaxRangesPerPoll; toBlock > limit {
		toBlock = limit
	}
	logs := make([]*entity.Log, 0, 10)
	for _, blocksRange := range SplitBlockRange(fromBlock+1, toBlock, w.cfg.MaxBlockRangeSize) {
		batch, err := w.fetchLogs(ctx, blocksRange)
		if err != nil {
			return nil, err
		}
		logs = append(logs, batch...)
	}

	events, err := w.decodeLogs(logs)
	if err != nil {
		return nil, err
	}
	w.logger.WithFields(logrus.Fields{
		"count":      len(events),
		"from_block": fromBlock + 1,
		"to_block":   toBlock,
		"head_block": head,
	}).Info("fetched lock events in range")
	w.safeBlockMetric.Set(float64(toBlock))
	w.fetchedEventsMetric.Add(float64(len(events)))
	return &PollResult{
		Events:     events,
		SafeHeight: toBlock,
		Head:       head,
		Synced:     toBlock == safe,
	}, nil
}

func (w *Watcher) fetchLogs(ctx context.Context, blocksRange *BlocksRange) ([]*entity.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(uint64(blocksRange.From)),
		ToBlock:   new(big.Int).SetUint64(uint64(blocksRange.To)),
		Addresses: []common.Address{w.cfg.Address},
		Topics:    w.contract.LockEventTopics(),
	}
	var (
		batch []types.Log
		err   error
	)
	if w.cfg.Chain.SafeLogsRequest {
		batch, err = w.client.FilterLogsSafe(ctx, q)
	} else {
		batch, err = w.client.FilterLogs(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch logs in range [%d, %d]: %w", entity.ErrTransientRPC, blocksRange.From, blocksRange.To, err)
	}
	logs := make([]*entity.Log, len(batch))
	for i, log := range batch {
		logs[i] = entity.NewLog(w.client.ChainID(), log)
	}
	return logs, nil
}

// decodeLogs converts logs into ordered lock events, rejecting logs that disagree about their block.
func (w *Watcher) decodeLogs(logs []*entity.Log) ([]*entity.LockEvent, error) {
	blockHashes := make(map[uint]common.Hash, len(logs))
	events := make([]*entity.LockEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			return nil, fmt.Errorf("%w: log %s was removed from block %d", entity.ErrReorgInvalidation, log.EventID(), log.BlockNumber)
		}
		if hash, ok := blockHashes[log.BlockNumber]; ok && hash != log.BlockHash {
			return nil, fmt.Errorf("%w: logs of block %d have different block hashes %s and %s",
				entity.ErrReorgInvalidation, log.BlockNumber, hash, log.BlockHash)
		}
		blockHashes[log.BlockNumber] = log.BlockHash
		ev, err := w.contract.DecodeLockEvent(log)
		if err != nil {
			return nil, err
		}
		ev.BridgeID = w.bridgeID
		events = append(events, ev)
	}
	entity.SortLockEvents(events)
	return events, nil
}

func (w *Watcher) BlockHash(ctx context.Context, n uint) (common.Hash, error) {
	header, err := w.client.HeaderByNumber(ctx, n)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: can't get header of block %d: %w", entity.ErrTransientRPC, n, err)
	}
	return header.Hash(), nil
}

// VerifyCheckpoint checks that the checkpoint block is still part of the canonical chain.
func (w *Watcher) VerifyCheckpoint(ctx context.Context, cp *entity.Checkpoint) error {
	if cp.LastProcessedBlockHash == (common.Hash{}) {
		return nil
	}
	hash, err := w.BlockHash(ctx, cp.LastProcessedBlock)
	if err != nil {
		return err
	}
	if hash != cp.LastProcessedBlockHash {
		return fmt.Errorf("%w: checkpoint block %d hash changed from %s to %s",
			entity.ErrReorgInvalidation, cp.LastProcessedBlock, cp.LastProcessedBlockHash, hash)
	}
	return nil
}

// FetchEvent loads a single lock event by its source transaction and log index.
func (w *Watcher) FetchEvent(ctx context.Context, txHash common.Hash, logIndex uint) (*entity.LockEvent, error) {
	receipt, err := w.client.TransactionReceiptByHash(ctx, txHash)
	if ethclient.IsNotFound(err) {
		return nil, fmt.Errorf("tx %s: %w", txHash, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: can't get receipt of %s: %w", entity.ErrTransientRPC, txHash, err)
	}
	for _, log := range receipt.Logs {
		if log.Index != logIndex {
			continue
		}
		if log.Address != w.cfg.Address {
			return nil, fmt.Errorf("log %d of tx %s is emitted by %s: %w", logIndex, txHash, log.Address, ErrEventNotFound)
		}
		events, err := w.decodeLogs([]*entity.Log{entity.NewLog(w.client.ChainID(), *log)})
		if err != nil {
			return nil, err
		}
		ev := events[0]
		safe, _, err := w.SafeHeight(ctx)
		if err != nil {
			return nil, err
		}
		if ev.BlockNumber > safe {
			return ev, fmt.Errorf("event %s in block %d, safe block %d: %w", ev.ID, ev.BlockNumber, safe, ErrNotConfirmed)
		}
		return ev, nil
	}
	return nil, fmt.Errorf("log %d of tx %s: %w", logIndex, txHash, ErrEventNotFound)
}
