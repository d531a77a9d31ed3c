package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/ledger"
	"github.com/poanetwork/tokenbridge-relayer/logging"
	"github.com/poanetwork/tokenbridge-relayer/notify"
	"github.com/poanetwork/tokenbridge-relayer/submitter"
	"github.com/poanetwork/tokenbridge-relayer/utils"
	"github.com/poanetwork/tokenbridge-relayer/watcher"
)

// maxStepsPerEvent bounds the state machine walk of a single event within one iteration.
const maxStepsPerEvent = 8

type IterationResult struct {
	Events     int
	Pending    int
	Checkpoint uint
	SafeHeight uint
	Head       uint
	Synced     bool
}

// Pipeline relays lock events of one bridge from its source chain to the destination chains.
type Pipeline struct {
	logger       logging.Logger
	cfg          *config.BridgeConfig
	watcher      *watcher.Watcher
	ledger       *ledger.Ledger
	checkpoints  entity.CheckpointsRepo
	submitters   map[string]*submitter.Submitter
	notifier     notify.Notifier
	board        *StatusBoard
	drainTimeout time.Duration
	iterations   atomic.Uint64

	checkpointMetric prometheus.Gauge
	syncedMetric     prometheus.Gauge
	pendingMetric    prometheus.Gauge
}

func NewPipeline(
	logger logging.Logger,
	cfg *config.BridgeConfig,
	w *watcher.Watcher,
	l *ledger.Ledger,
	checkpoints entity.CheckpointsRepo,
	submitters []*submitter.Submitter,
	notifier notify.Notifier,
	board *StatusBoard,
	drainTimeout time.Duration,
) *Pipeline {
	bySubmitter := make(map[string]*submitter.Submitter, len(submitters))
	for _, s := range submitters {
		bySubmitter[s.ChainID()] = s
	}
	commonLabels := prometheus.Labels{
		"bridge_id": cfg.ID,
		"chain_id":  w.ChainID(),
		"address":   w.Address().String(),
	}
	board.Update(cfg.ID, func(s *BridgeStatus) {})
	return &Pipeline{
		logger:           logger.WithField("bridge_id", cfg.ID),
		cfg:              cfg,
		watcher:          w,
		ledger:           l,
		checkpoints:      checkpoints,
		submitters:       bySubmitter,
		notifier:         notifier,
		board:            board,
		drainTimeout:     drainTimeout,
		checkpointMetric: CheckpointBlock.With(commonLabels),
		syncedMetric:     SyncedPipeline.With(commonLabels),
		pendingMetric:    PendingEvents.WithLabelValues(cfg.ID),
	}
}

func (p *Pipeline) BridgeID() string {
	return p.cfg.ID
}

// Iterations returns the number of successfully completed iterations.
func (p *Pipeline) Iterations() uint64 {
	return p.iterations.Load()
}

// Run executes iterations until ctx is done or an iteration fails with a non transient error.
// Transient chain errors are retried with backoff without leaving the loop.
func (p *Pipeline) Run(ctx context.Context, onIteration func(*IterationResult)) error {
	b := utils.NewBackOff(ctx, p.cfg.Relay.Backoff, 0)
	for {
		res, err := p.RunIteration(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if entity.IsPipelineFatal(err) || !errors.Is(err, entity.ErrTransientRPC) {
				return err
			}
			d := b.NextBackOff()
			if d == backoff.Stop {
				return err
			}
			p.logger.WithError(err).WithField("delay", d).Warn("iteration failed on chain rpc, retrying")
			utils.ContextSleep(ctx, d)
			continue
		}
		b.Reset()
		if onIteration != nil {
			onIteration(res)
		}
		if res.Synced {
			utils.ContextSleep(ctx, p.cfg.Source.Chain.BlockIndexInterval)
		}
	}
}

func (p *Pipeline) loadCheckpoint(ctx context.Context) (*entity.Checkpoint, error) {
	cp, err := p.checkpoints.GetByChainIDAndAddress(ctx, p.watcher.ChainID(), p.watcher.Address())
	if err == nil {
		if cp.ConfirmationDepth != p.cfg.Source.BlockConfirmations {
			p.logger.WithFields(logrus.Fields{
				"stored_depth":     cp.ConfirmationDepth,
				"configured_depth": p.cfg.Source.BlockConfirmations,
			}).Warn("confirmation depth differs from the one used for the stored checkpoint")
		}
		return cp, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("can't read checkpoint: %w", err)
	}
	var start uint
	if p.cfg.Source.StartBlock > 0 {
		start = p.cfg.Source.StartBlock - 1
	}
	p.logger.WithField("start_block", p.cfg.Source.StartBlock).Warn("checkpoint is not present, starting from the configured start block")
	return &entity.Checkpoint{
		BridgeID:           p.cfg.ID,
		ChainID:            p.watcher.ChainID(),
		Address:            p.watcher.Address(),
		LastProcessedBlock: start,
		ConfirmationDepth:  p.cfg.Source.BlockConfirmations,
	}, nil
}

// RunIteration polls confirmed lock events past the checkpoint, drives every event as far
// as possible, and moves the checkpoint up to the block before the first non-terminal event.
// Once ctx is done, no new event is started, while in-flight ones get the configured drain timeout.
func (p *Pipeline) RunIteration(ctx context.Context) (*IterationResult, error) {
	cp, err := p.loadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if err = p.watcher.VerifyCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	poll, err := p.watcher.Poll(ctx, cp.LastProcessedBlock)
	if err != nil {
		return nil, err
	}

	drainCtx, cancel := utils.DrainContext(ctx, p.drainTimeout)
	defer cancel()

	statuses, err := p.processEvents(ctx, drainCtx, poll.Events)
	if err != nil {
		return nil, err
	}

	target := poll.SafeHeight
	pending := 0
	for _, ev := range poll.Events {
		if statuses[ev.ID.String()].IsTerminal() {
			continue
		}
		if pending == 0 {
			target = ev.BlockNumber - 1
		}
		pending++
	}
	if target > cp.LastProcessedBlock {
		if err = p.advanceCheckpoint(drainCtx, cp, target); err != nil {
			return nil, err
		}
	}

	res := &IterationResult{
		Events:     len(poll.Events),
		Pending:    pending,
		Checkpoint: cp.LastProcessedBlock,
		SafeHeight: poll.SafeHeight,
		Head:       poll.Head,
		Synced:     poll.Synced,
	}
	p.iterations.Add(1)
	p.checkpointMetric.Set(float64(res.Checkpoint))
	p.pendingMetric.Set(float64(pending))
	if res.Synced {
		p.syncedMetric.Set(1)
	} else {
		p.syncedMetric.Set(0)
	}
	now := time.Now()
	p.board.Update(p.cfg.ID, func(s *BridgeStatus) {
		s.CheckpointBlock = res.Checkpoint
		s.SafeBlock = res.SafeHeight
		s.HeadBlock = res.Head
		s.Synced = res.Synced
		s.PendingEvents = pending
		s.LastIteration = &now
	})
	return res, nil
}

func (p *Pipeline) advanceCheckpoint(ctx context.Context, cp *entity.Checkpoint, target uint) error {
	hash, err := p.watcher.BlockHash(ctx, target)
	if err != nil {
		return err
	}
	next := &entity.Checkpoint{
		BridgeID:               p.cfg.ID,
		ChainID:                cp.ChainID,
		Address:                cp.Address,
		LastProcessedBlock:     target,
		LastProcessedBlockHash: hash,
		ConfirmationDepth:      p.cfg.Source.BlockConfirmations,
	}
	advanced, err := p.checkpoints.Advance(ctx, next)
	if err != nil {
		return fmt.Errorf("can't advance checkpoint to block %d: %w", target, err)
	}
	if !advanced {
		p.logger.WithField("block_number", target).Warn("stored checkpoint is already ahead")
		return nil
	}
	p.logger.WithFields(logrus.Fields{
		"from_block": cp.LastProcessedBlock,
		"to_block":   target,
		"block_hash": hash.String(),
	}).Debug("advanced checkpoint")
	*cp = *next
	return nil
}

type lane struct {
	key    string
	events []*entity.LockEvent
}

// groupByLane splits events by the nonce lane of their destination, keeping source order in each lane.
// Events without a configured destination share their own lane.
func (p *Pipeline) groupByLane(events []*entity.LockEvent) []*lane {
	lanes := make([]*lane, 0, len(p.submitters)+1)
	byKey := make(map[string]*lane, len(p.submitters)+1)
	for _, ev := range events {
		key := ""
		if s, ok := p.submitters[ev.DestinationChainID]; ok {
			key = s.LaneKey()
		}
		l, ok := byKey[key]
		if !ok {
			l = &lane{key: key}
			byKey[key] = l
			lanes = append(lanes, l)
		}
		l.events = append(l.events, ev)
	}
	return lanes
}

// processEvents records all events as seen and drives each lane concurrently.
// A lane stops at its first event that can't reach a terminal status in this iteration.
func (p *Pipeline) processEvents(ctx, drainCtx context.Context, events []*entity.LockEvent) (map[string]entity.Status, error) {
	statuses := make(map[string]entity.Status, len(events))
	records := make(map[string]*entity.ProcessedRecord, len(events))
	for _, ev := range events {
		record, err := p.ledger.Observe(ctx, ev)
		if err != nil {
			return nil, err
		}
		records[record.EventID] = record
		statuses[record.EventID] = record.Status
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Relay.MaxConcurrency)
	for _, l := range p.groupByLane(events) {
		l := l
		g.Go(func() error {
			for _, ev := range l.events {
				if ctx.Err() != nil {
					return nil
				}
				id := ev.ID.String()
				status, err := p.process(drainCtx, ev, records[id])
				mu.Lock()
				statuses[id] = status
				mu.Unlock()
				if err != nil {
					if entity.IsPipelineFatal(err) {
						return err
					}
					p.logger.WithError(err).WithFields(logrus.Fields{
						"event_id": id,
						"lane":     l.key,
					}).Warn("lock event processing interrupted, lane will continue on next iteration")
					return nil
				}
				if !status.IsTerminal() {
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

// ProcessEvent records the event as seen and drives it through the ledger state machine.
func (p *Pipeline) ProcessEvent(ctx context.Context, ev *entity.LockEvent) (entity.Status, error) {
	record, err := p.ledger.Observe(ctx, ev)
	if err != nil {
		return "", err
	}
	return p.process(ctx, ev, record)
}

func (p *Pipeline) process(ctx context.Context, ev *entity.LockEvent, record *entity.ProcessedRecord) (entity.Status, error) {
	id := record.EventID
	logger := p.logger.WithFields(logrus.Fields{
		"event_id":             id,
		"destination_chain_id": ev.DestinationChainID,
	})
	sub := p.submitters[ev.DestinationChainID]
	for step := 0; step < maxStepsPerEvent; step++ {
		if step > 0 {
			var err error
			if record, err = p.ledger.Get(ctx, id); err != nil {
				return "", err
			}
		}
		if record.Status.IsTerminal() {
			return record.Status, nil
		}

		var (
			done = true
			err  error
		)
		switch {
		case sub == nil && record.Status == entity.StatusSeen:
			err = p.fail(ctx, logger, ev, fmt.Sprintf("no destination configured for chain %s", ev.DestinationChainID))
		case sub == nil:
			return record.Status, fmt.Errorf("in-flight event %s has no destination configured for chain %s", id, ev.DestinationChainID)
		case record.Status == entity.StatusSeen:
			err = p.reserve(ctx, logger, sub, ev)
		case record.Status == entity.StatusSubmitting && record.HasSignedTx():
			err = p.recover(ctx, logger, sub, ev, record)
		case record.Status == entity.StatusSubmitting:
			done, err = p.reclaim(ctx, logger, sub, ev)
		case record.Status == entity.StatusSubmitted:
			done, err = p.confirm(ctx, logger, sub, ev, record)
		}
		if errors.Is(err, entity.ErrInvalidTransition) && p.changedConcurrently(ctx, record) {
			logger.WithError(err).Debug("record was changed concurrently")
			continue
		}
		if err != nil || !done {
			return record.Status, err
		}
	}
	return record.Status, nil
}

// changedConcurrently reports whether the record moved on since it was last read.
func (p *Pipeline) changedConcurrently(ctx context.Context, record *entity.ProcessedRecord) bool {
	current, err := p.ledger.Get(ctx, record.EventID)
	return err == nil && current.Status != record.Status
}

func (p *Pipeline) reserve(ctx context.Context, logger logging.Logger, sub *submitter.Submitter, ev *entity.LockEvent) error {
	res, err := p.ledger.Reserve(ctx, ev.ID.String())
	if err != nil || !res.Granted {
		return err
	}
	if res.Record.HasSignedTx() {
		// a signed transaction survived a released reservation and has to be resolved first
		return p.recover(ctx, logger, sub, ev, res.Record)
	}
	return p.submit(ctx, logger, sub, ev, res)
}

// reclaim takes over a reservation whose owner did not sign anything within the reservation timeout.
// It reports false when the reservation is still owned by someone else.
func (p *Pipeline) reclaim(ctx context.Context, logger logging.Logger, sub *submitter.Submitter, ev *entity.LockEvent) (bool, error) {
	res, err := p.ledger.Reclaim(ctx, ev.ID.String(), p.cfg.Relay.ReservationTimeout)
	if err != nil {
		return false, err
	}
	if !res.Granted {
		return res.Record.Status != entity.StatusSubmitting, nil
	}
	logger.WithField("attempts", res.Record.Attempts).Warn("reclaimed stale reservation")
	if res.Record.HasSignedTx() {
		return true, p.recover(ctx, logger, sub, ev, res.Record)
	}
	return true, p.submit(ctx, logger, sub, ev, res)
}

// submit signs and sends a new unlock transaction under the granted reservation.
func (p *Pipeline) submit(ctx context.Context, logger logging.Logger, sub *submitter.Submitter, ev *entity.LockEvent, res *ledger.Reservation) error {
	id := res.Record.EventID
	if res.Record.Attempts > p.cfg.Relay.MaxAttempts {
		return p.fail(ctx, logger, ev, fmt.Sprintf("attempt budget of %d exhausted", p.cfg.Relay.MaxAttempts))
	}
	txHash, err := sub.Submit(ctx, ev, func(ctx context.Context, txHash common.Hash, raw []byte) error {
		return p.ledger.RecordSigned(ctx, id, res.Token, txHash, raw)
	})
	switch {
	case err == nil:
		return p.ledger.RecordSubmitted(ctx, id, txHash)
	case errors.Is(err, ledger.ErrReservationLost):
		logger.Warn("reservation was taken over by another worker")
		return nil
	case errors.Is(err, entity.ErrPermanentSubmission):
		return p.fail(ctx, logger, ev, err.Error())
	case txHash == common.Hash{}:
		releaseErr := p.ledger.Release(context.WithoutCancel(ctx), id, res.Token, err.Error())
		if releaseErr != nil && !errors.Is(releaseErr, ledger.ErrReservationLost) {
			return fmt.Errorf("%w, release failed: %w", err, releaseErr)
		}
		return err
	default:
		logger.WithError(err).WithField("tx_hash", txHash.String()).Warn("signed unlock transaction was not broadcast, it will be resent")
		return err
	}
}

// recover resolves a signed transaction left by an interrupted submission without signing another one,
// unless its nonce is proven to be used by a different transaction.
func (p *Pipeline) recover(ctx context.Context, logger logging.Logger, sub *submitter.Submitter, ev *entity.LockEvent, record *entity.ProcessedRecord) error {
	txHash := *record.UnlockTxHash
	outcome, err := sub.Lookup(ctx, txHash)
	if err != nil {
		return err
	}
	if outcome.Status == submitter.OutcomeNotFound {
		if done, err := p.rebroadcast(ctx, logger, sub, ev, record); done || err != nil {
			return err
		}
	}
	logger.WithFields(logrus.Fields{
		"tx_hash": txHash.String(),
		"outcome": outcome.Status,
	}).Info("recovered signed unlock transaction")
	return p.ledger.RecordSubmitted(ctx, record.EventID, txHash)
}

// rebroadcast resends the signed transaction of a record whose transaction is unknown to the node.
// It reports true when the record was resolved some other way: failed, or replaced after its nonce was consumed.
// Every other failed rebroadcast is charged to the attempt budget.
func (p *Pipeline) rebroadcast(ctx context.Context, logger logging.Logger, sub *submitter.Submitter, ev *entity.LockEvent, record *entity.ProcessedRecord) (bool, error) {
	txHash, err := sub.Rebroadcast(ctx, record.UnlockRawTx)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, submitter.ErrNonceConsumed):
		return true, p.resubmit(ctx, logger, sub, ev)
	case errors.Is(err, entity.ErrPermanentSubmission):
		return true, p.fail(ctx, logger, ev, err.Error())
	case ctx.Err() != nil:
		return false, err
	}

	updated, chargeErr := p.ledger.RecordRebroadcastFailed(context.WithoutCancel(ctx), record, err.Error())
	if chargeErr != nil {
		if errors.Is(chargeErr, ledger.ErrReservationLost) {
			logger.Warn("record was taken over by another worker")
			return true, nil
		}
		return false, fmt.Errorf("%w, charging attempt failed: %w", err, chargeErr)
	}
	if updated.Attempts <= p.cfg.Relay.MaxAttempts {
		return false, err
	}
	reason := fmt.Sprintf("signed unlock transaction %s could not be broadcast after %d attempts: %s", txHash, p.cfg.Relay.MaxAttempts, err)
	if err = p.fail(ctx, logger, ev, reason); err != nil {
		return false, err
	}
	if err = sub.ResetNonce(ctx); err != nil {
		logger.WithError(err).Warn("can't reset nonce lane")
	}
	return true, nil
}

// resubmit replaces an unlock transaction that can never be included.
func (p *Pipeline) resubmit(ctx context.Context, logger logging.Logger, sub *submitter.Submitter, ev *entity.LockEvent) error {
	res, err := p.ledger.Reclaim(ctx, ev.ID.String(), 0)
	if err != nil || !res.Granted {
		return err
	}
	logger.WithField("attempts", res.Record.Attempts).Warn("unlock transaction nonce was consumed by another transaction, submitting again")
	return p.submit(ctx, logger, sub, ev, res)
}

// confirm waits for the outcome of the submitted transaction.
// It reports false when the outcome is still unknown after the receipt timeout.
func (p *Pipeline) confirm(ctx context.Context, logger logging.Logger, sub *submitter.Submitter, ev *entity.LockEvent, record *entity.ProcessedRecord) (bool, error) {
	txHash := *record.UnlockTxHash
	outcome, err := sub.AwaitReceipt(ctx, txHash)
	if err != nil {
		return false, err
	}
	logger = logger.WithField("tx_hash", txHash.String())
	switch outcome.Status {
	case submitter.OutcomeSuccess:
		if err = p.ledger.RecordConfirmed(ctx, record.EventID); err != nil {
			return false, err
		}
		logger.WithField("block_number", outcome.Receipt.BlockNumber.Uint64()).Info("unlock transaction confirmed")
		ProcessedEvents.WithLabelValues(p.cfg.ID, ev.DestinationChainID, string(entity.StatusConfirmed)).Inc()
		if record.CreatedAt != nil {
			UnlockLatency.WithLabelValues(p.cfg.ID, ev.DestinationChainID).Observe(time.Since(*record.CreatedAt).Seconds())
		}
		p.notify(ctx, &notify.Notification{
			Kind:     notify.KindConfirmed,
			BridgeID: p.cfg.ID,
			EventID:  record.EventID,
			TxHash:   &txHash,
		})
		return true, nil
	case submitter.OutcomeReverted:
		return true, p.fail(ctx, logger, ev, fmt.Sprintf("unlock transaction %s reverted", txHash))
	case submitter.OutcomeNotFound:
		if !record.HasSignedTx() {
			return false, nil
		}
		return p.rebroadcast(ctx, logger, sub, ev, record)
	default:
		logger.WithField("confirmations", outcome.Confirmations).Debug("unlock transaction is not final yet")
		return false, nil
	}
}

func (p *Pipeline) fail(ctx context.Context, logger logging.Logger, ev *entity.LockEvent, reason string) error {
	id := ev.ID.String()
	if err := p.ledger.RecordFailed(ctx, id, reason); err != nil {
		return err
	}
	logger.WithField("reason", reason).Error("lock event failed permanently")
	ProcessedEvents.WithLabelValues(p.cfg.ID, ev.DestinationChainID, string(entity.StatusFailed)).Inc()
	p.notify(ctx, &notify.Notification{
		Kind:     notify.KindFailed,
		BridgeID: p.cfg.ID,
		EventID:  id,
		Reason:   reason,
	})
	return nil
}

func (p *Pipeline) notify(ctx context.Context, n *notify.Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		p.logger.WithError(err).WithField("kind", n.Kind).Warn("can't send notification")
	}
}
