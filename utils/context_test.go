package utils_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poanetwork/tokenbridge-relayer/utils"
)

func TestContextSleep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dur := 10 * time.Millisecond

	st := time.Now()
	utils.ContextSleep(ctx, dur)
	diff := time.Since(st)

	require.Greater(t, diff, dur)
}

func TestContextSleepCancel(t *testing.T) {
	t.Parallel()

	dur := 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), dur)

	st := time.Now()
	utils.ContextSleep(ctx, dur*3)
	diff := time.Since(st)

	require.Greater(t, diff, dur)
	require.Less(t, time.Since(st), dur*2)
	cancel()
}

func TestDrainContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	drainCtx, drainCancel := utils.DrainContext(ctx, 20*time.Millisecond)
	defer drainCancel()

	cancel()
	require.NoError(t, drainCtx.Err())
	utils.ContextSleep(drainCtx, time.Second)
	require.ErrorIs(t, drainCtx.Err(), context.Canceled)

	drainCtx, drainCancel = utils.DrainContext(context.Background(), time.Hour)
	drainCancel()
	require.ErrorIs(t, drainCtx.Err(), context.Canceled)
}
