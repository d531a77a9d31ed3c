package relayer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/notify"
	"github.com/poanetwork/tokenbridge-relayer/relayer"
	"github.com/poanetwork/tokenbridge-relayer/submitter"
	"github.com/poanetwork/tokenbridge-relayer/watcher"
)

type flakyCheckpoints struct {
	entity.CheckpointsRepo
	failures atomic.Int32
}

func (f *flakyCheckpoints) GetByChainIDAndAddress(ctx context.Context, chainID string, addr common.Address) (*entity.Checkpoint, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection to database lost")
	}
	return f.CheckpointsRepo.GetByChainIDAndAddress(ctx, chainID, addr)
}

func runSupervisor(t *testing.T, s *relayer.Supervisor) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	}
}

func TestSupervisor_PausesOnReorg(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	require.NoError(t, env.repo.Checkpoints.Rewind(context.Background(), &entity.Checkpoint{
		BridgeID:               env.cfg.ID,
		ChainID:                "100",
		Address:                sourceBridge,
		LastProcessedBlock:     50,
		LastProcessedBlockHash: common.HexToHash("0x1234"),
	}))
	env.addLock(60, 0, 200)

	stop := runSupervisor(t, relayer.NewSupervisor(env.logger, env.notifier, env.board, env.pipeline))
	require.Eventually(t, func() bool {
		status, _ := env.board.Get(env.cfg.ID)
		return status.State == relayer.StatePaused
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	status, _ := env.board.Get(env.cfg.ID)
	require.Equal(t, relayer.StatePaused, status.State)
	require.Contains(t, status.LastError, "reorg")
	require.Equal(t, []notify.Kind{notify.KindPaused}, env.notifier.Kinds())
	require.Empty(t, env.dest().Sent())
}

func TestSupervisor_RestartsOnFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	id := env.addLock(10, 0, 200)
	checkpoints := &flakyCheckpoints{CheckpointsRepo: env.repo.Checkpoints}
	checkpoints.failures.Store(2)
	w := watcher.NewWatcher(env.logger, env.cfg.ID, env.cfg.Source, env.source)
	p := relayer.NewPipeline(env.logger, env.cfg, w, env.ledger, checkpoints,
		[]*submitter.Submitter{env.newSubmitter(t, "200", env.lanes)}, env.notifier, env.board, time.Second)

	stop := runSupervisor(t, relayer.NewSupervisor(env.logger, env.notifier, env.board, p))
	require.Eventually(t, func() bool {
		return len(env.notifier.Kinds()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	status, _ := env.board.Get(env.cfg.ID)
	require.Equal(t, relayer.StateStopped, status.State)
	require.EqualValues(t, 2, status.Restarts)
	require.Empty(t, status.LastError)
	env.requireStatus(t, entity.StatusConfirmed, id)
	require.Equal(t, []notify.Kind{notify.KindConfirmed, notify.KindResumed}, env.notifier.Kinds())
}
