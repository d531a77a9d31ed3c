package relayer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/logging"
	"github.com/poanetwork/tokenbridge-relayer/notify"
	"github.com/poanetwork/tokenbridge-relayer/utils"
)

// Supervisor runs bridge pipelines independently of each other.
// A pipeline failing with a recoverable error is restarted with backoff,
// a pipeline hitting inconsistent chain or ledger data is paused until the process is restarted.
type Supervisor struct {
	logger    logging.Logger
	notifier  notify.Notifier
	board     *StatusBoard
	pipelines []*Pipeline
}

func NewSupervisor(logger logging.Logger, notifier notify.Notifier, board *StatusBoard, pipelines ...*Pipeline) *Supervisor {
	return &Supervisor{
		logger:    logger,
		notifier:  notifier,
		board:     board,
		pipelines: pipelines,
	}
}

// Run blocks until ctx is done and every pipeline has drained its in-flight work.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range s.pipelines {
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			s.supervise(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, p *Pipeline) {
	bridgeID := p.BridgeID()
	logger := s.logger.WithField("bridge_id", bridgeID)
	restart := utils.NewBackOff(ctx, p.cfg.Relay.RestartBackoff, 0)
	recovering := false
	PausedPipeline.WithLabelValues(bridgeID).Set(0)

	for {
		s.board.Update(bridgeID, func(st *BridgeStatus) {
			st.State = StateRunning
		})
		logger.Info("starting bridge pipeline")
		before := p.Iterations()
		err := p.Run(ctx, func(*IterationResult) {
			if !recovering {
				return
			}
			recovering = false
			s.board.Update(bridgeID, func(st *BridgeStatus) {
				st.LastError = ""
			})
			logger.Info("bridge pipeline recovered")
			s.notify(ctx, &notify.Notification{Kind: notify.KindResumed, BridgeID: bridgeID})
		})
		if ctx.Err() != nil {
			s.board.Update(bridgeID, func(st *BridgeStatus) {
				st.State = StateStopped
			})
			logger.Info("bridge pipeline stopped")
			return
		}
		if p.Iterations() > before {
			restart.Reset()
		}
		if entity.IsPipelineFatal(err) {
			s.pause(ctx, logger, bridgeID, err)
			return
		}

		d := restart.NextBackOff()
		if d == backoff.Stop {
			return
		}
		recovering = true
		PipelineRestarts.WithLabelValues(bridgeID).Inc()
		s.board.Update(bridgeID, func(st *BridgeStatus) {
			st.State = StateRestarting
			st.LastError = err.Error()
			st.Restarts++
		})
		logger.WithError(err).WithField("delay", d).Error("bridge pipeline failed, restarting")
		utils.ContextSleep(ctx, d)
	}
}

func (s *Supervisor) pause(ctx context.Context, logger logging.Logger, bridgeID string, err error) {
	PausedPipeline.WithLabelValues(bridgeID).Set(1)
	s.board.Update(bridgeID, func(st *BridgeStatus) {
		st.State = StatePaused
		st.LastError = err.Error()
	})
	logger.WithError(err).Error("bridge pipeline paused, operator intervention is required")
	s.notify(ctx, &notify.Notification{
		Kind:     notify.KindPaused,
		BridgeID: bridgeID,
		Reason:   err.Error(),
	})
}

func (s *Supervisor) notify(ctx context.Context, n *notify.Notification) {
	n.Time = time.Now().UTC()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"kind":      n.Kind,
			"bridge_id": n.BridgeID,
		}).Warn("can't send notification")
	}
}
