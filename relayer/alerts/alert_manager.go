package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/logging"
)

const defaultStuckThreshold = 30 * time.Minute

type AlertManager struct {
	logger logging.Logger
	jobs   map[string]*Job
}

func NewAlertManager(logger logging.Logger, repo entity.ProcessedRecordsRepo, cfg *config.BridgeConfig) (*AlertManager, error) {
	provider := NewLedgerAlertsProvider(repo)
	jobs := make(map[string]*Job, len(cfg.Alerts))

	for name, alertCfg := range cfg.Alerts {
		switch name {
		case "failed_unlock":
			jobs[name] = &Job{
				Interval: time.Minute,
				Timeout:  time.Second * 10,
				Func:     provider.FindFailedUnlocks,
				Metric:   NewAlertFailedUnlock(cfg.ID),
			}
		case "stuck_unlock":
			jobs[name] = &Job{
				Interval: time.Minute * 5,
				Timeout:  time.Second * 20,
				Func:     provider.FindStuckUnlocks,
				Metric:   NewAlertStuckUnlock(cfg.ID),
			}
		case "pending_events":
			jobs[name] = &Job{
				Interval: time.Minute,
				Timeout:  time.Second * 10,
				Func:     provider.CountPendingEvents,
				Metric:   NewAlertPendingEvents(cfg.ID),
			}
		default:
			return nil, fmt.Errorf("unknown alert type %q", name)
		}
		jobs[name].logger = logger.WithField("alert_job", name)
		jobs[name].Params = &AlertJobParams{
			Bridge:         cfg.ID,
			StuckThreshold: defaultStuckThreshold,
		}
		if alertCfg != nil && alertCfg.Threshold > 0 {
			jobs[name].Params.StuckThreshold = alertCfg.Threshold
		}
	}

	return &AlertManager{
		logger: logger,
		jobs:   jobs,
	}, nil
}

func (m *AlertManager) Start(ctx context.Context, isSynced func() bool) {
	t := time.NewTicker(10 * time.Second)
	for !isSynced() {
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			m.logger.Debug("waiting for bridge relayer to be synchronized")
		}
	}
	t.Stop()
	m.logger.Info("bridge relayer is synced, starting alert manager jobs")

	for _, job := range m.jobs {
		go job.Start(ctx, isSynced)
	}
}
