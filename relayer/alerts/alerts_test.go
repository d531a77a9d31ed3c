package alerts

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/ledger"
	"github.com/poanetwork/tokenbridge-relayer/repository/memory"
)

func seedLedger(t *testing.T, bridgeID string) entity.ProcessedRecordsRepo {
	t.Helper()
	repo := memory.NewProcessedRecordsRepo()
	l := ledger.New(repo)
	ctx := context.Background()
	ids := make([]string, 3)
	for i := range ids {
		record, err := l.Observe(ctx, &entity.LockEvent{
			ID: entity.EventID{
				ChainID:  "100",
				TxHash:   common.HexToHash("0xaa"),
				LogIndex: uint(i),
			},
			BridgeID:           bridgeID,
			BlockNumber:        10,
			Amount:             big.NewInt(1),
			DestinationChainID: "200",
		})
		require.NoError(t, err)
		ids[i] = record.EventID
	}
	require.NoError(t, l.RecordFailed(ctx, ids[0], "gas price too high"))
	res, err := l.Reserve(ctx, ids[1])
	require.NoError(t, err)
	require.NoError(t, l.RecordSigned(ctx, ids[1], res.Token, common.HexToHash("0x01"), []byte{1}))
	require.NoError(t, l.RecordSubmitted(ctx, ids[1], common.HexToHash("0x01")))
	return repo
}

func newJob(provider func(ctx context.Context, params *AlertJobParams) (interface{}, error), metric *prometheus.GaugeVec, bridgeID string) *Job {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &Job{
		logger:  logger,
		Metric:  metric,
		Timeout: time.Second,
		Func:    provider,
		Params:  &AlertJobParams{Bridge: bridgeID, StuckThreshold: 30 * time.Minute},
	}
}

func TestLedgerAlertsProvider(t *testing.T) {
	t.Parallel()

	bridgeID := "alerts-test"
	provider := NewLedgerAlertsProvider(seedLedger(t, bridgeID))
	ctx := context.Background()

	t.Run("should report failed unlocks", func(t *testing.T) {
		job := newJob(provider.FindFailedUnlocks, NewAlertFailedUnlock(bridgeID), bridgeID)
		require.NoError(t, job.RunOnce(ctx))
		require.Equal(t, 1, testutil.CollectAndCount(job.Metric))
		gauge := job.Metric.With(prometheus.Labels{
			"chain_id":             "100",
			"block_number":         "10",
			"tx_hash":              common.HexToHash("0xaa").String(),
			"log_index":            "0",
			"destination_chain_id": "200",
		})
		require.GreaterOrEqual(t, testutil.ToFloat64(gauge), float64(0))
	})

	t.Run("should report only unlocks older than threshold", func(t *testing.T) {
		job := newJob(provider.FindStuckUnlocks, NewAlertStuckUnlock(bridgeID), bridgeID)
		require.NoError(t, job.RunOnce(ctx))
		require.Zero(t, testutil.CollectAndCount(job.Metric))

		provider.now = func() time.Time {
			return time.Now().Add(time.Hour)
		}
		require.NoError(t, job.RunOnce(ctx))
		require.Equal(t, 2, testutil.CollectAndCount(job.Metric))
		gauge := job.Metric.With(prometheus.Labels{
			"chain_id":       "100",
			"block_number":   "10",
			"tx_hash":        common.HexToHash("0xaa").String(),
			"log_index":      "1",
			"status":         "submitted",
			"unlock_tx_hash": common.HexToHash("0x01").String(),
		})
		require.InDelta(t, 3600, testutil.ToFloat64(gauge), 5)
	})

	t.Run("should count pending events", func(t *testing.T) {
		job := newJob(provider.CountPendingEvents, NewAlertPendingEvents(bridgeID), bridgeID)
		require.NoError(t, job.RunOnce(ctx))
		require.Equal(t, 2, testutil.CollectAndCount(job.Metric))
		require.Equal(t, float64(1), testutil.ToFloat64(job.Metric.WithLabelValues("seen")))
		require.Equal(t, float64(1), testutil.ToFloat64(job.Metric.WithLabelValues("submitted")))
	})
}

func TestNewAlertManager(t *testing.T) {
	t.Parallel()

	repo := memory.NewProcessedRecordsRepo()
	m, err := NewAlertManager(logrus.New(), repo, &config.BridgeConfig{
		ID: "alert-manager-test",
		Alerts: map[string]*config.BridgeAlertConfig{
			"stuck_unlock": {Threshold: time.Hour},
			"failed_unlock": {},
		},
	})
	require.NoError(t, err)
	require.Len(t, m.jobs, 2)
	require.Equal(t, time.Hour, m.jobs["stuck_unlock"].Params.StuckThreshold)
	require.Equal(t, defaultStuckThreshold, m.jobs["failed_unlock"].Params.StuckThreshold)

	_, err = NewAlertManager(logrus.New(), repo, &config.BridgeConfig{
		ID:     "alert-manager-test-unknown",
		Alerts: map[string]*config.BridgeAlertConfig{"unknown": {}},
	})
	require.Error(t, err)
}
