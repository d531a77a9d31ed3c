package memory_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/repository/memory"
)

var testAddress = common.HexToAddress("0x01")

func testRecord(block, logIndex uint) *entity.ProcessedRecord {
	return entity.NewProcessedRecord(&entity.LockEvent{
		ID:                 entity.EventID{ChainID: "1", TxHash: common.BigToHash(big.NewInt(int64(block))), LogIndex: logIndex},
		BridgeID:           "test",
		BlockNumber:        block,
		Amount:             big.NewInt(100),
		DestinationChainID: "100",
	})
}

func TestCheckpointsRepo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewCheckpointsRepo()

	_, err := repo.GetByChainIDAndAddress(ctx, "1", testAddress)
	require.ErrorIs(t, err, db.ErrNotFound)

	ok, err := repo.Advance(ctx, &entity.Checkpoint{ChainID: "1", Address: testAddress, LastProcessedBlock: 10})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Advance(ctx, &entity.Checkpoint{ChainID: "1", Address: testAddress, LastProcessedBlock: 5})
	require.NoError(t, err)
	require.False(t, ok)

	cp, err := repo.GetByChainIDAndAddress(ctx, "1", testAddress)
	require.NoError(t, err)
	require.Equal(t, uint(10), cp.LastProcessedBlock)

	require.NoError(t, repo.Rewind(ctx, &entity.Checkpoint{ChainID: "1", Address: testAddress, LastProcessedBlock: 5}))
	cp, err = repo.GetByChainIDAndAddress(ctx, "1", testAddress)
	require.NoError(t, err)
	require.Equal(t, uint(5), cp.LastProcessedBlock)
}

func TestProcessedRecordsRepo_Ensure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewProcessedRecordsRepo()
	record := testRecord(10, 1)

	stored, err := repo.Ensure(ctx, record)
	require.NoError(t, err)
	require.Equal(t, entity.StatusSeen, stored.Status)

	token := "token"
	_, err = repo.Transition(ctx, &entity.Transition{
		EventID:  record.EventID,
		From:     []entity.Status{entity.StatusSeen},
		To:       entity.StatusSubmitting,
		NewToken: &token,
	})
	require.NoError(t, err)

	stored, err = repo.Ensure(ctx, testRecord(10, 1))
	require.NoError(t, err)
	require.Equal(t, entity.StatusSubmitting, stored.Status)
}

func TestProcessedRecordsRepo_Transition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewProcessedRecordsRepo()
	record := testRecord(10, 1)
	_, err := repo.Ensure(ctx, record)
	require.NoError(t, err)

	token, otherToken := "token", "other"
	updated, err := repo.Transition(ctx, &entity.Transition{
		EventID:     record.EventID,
		From:        []entity.Status{entity.StatusSeen},
		To:          entity.StatusSubmitting,
		NewToken:    &token,
		IncAttempts: true,
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.Equal(t, uint(1), updated.Attempts)

	updated, err = repo.Transition(ctx, &entity.Transition{
		EventID:  record.EventID,
		From:     []entity.Status{entity.StatusSeen},
		To:       entity.StatusSubmitting,
		NewToken: &otherToken,
	})
	require.NoError(t, err)
	require.Nil(t, updated)

	txHash := common.HexToHash("0x02")
	updated, err = repo.Transition(ctx, &entity.Transition{
		EventID:      record.EventID,
		From:         []entity.Status{entity.StatusSubmitting},
		To:           entity.StatusSubmitting,
		Token:        &otherToken,
		UnlockTxHash: &txHash,
	})
	require.NoError(t, err)
	require.Nil(t, updated)

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)
	updated, err = repo.Transition(ctx, &entity.Transition{
		EventID:     record.EventID,
		From:        []entity.Status{entity.StatusSubmitting},
		To:          entity.StatusSubmitting,
		NewToken:    &otherToken,
		StaleBefore: &past,
	})
	require.NoError(t, err)
	require.Nil(t, updated)

	updated, err = repo.Transition(ctx, &entity.Transition{
		EventID:     record.EventID,
		From:        []entity.Status{entity.StatusSubmitting},
		To:          entity.StatusSubmitting,
		NewToken:    &otherToken,
		StaleBefore: &future,
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.Equal(t, otherToken, *updated.ReservationToken)

	byHash, err := repo.FindByUnlockTxHash(ctx, txHash)
	require.ErrorIs(t, err, db.ErrNotFound)
	require.Nil(t, byHash)
}

func TestProcessedRecordsRepo_FindByStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewProcessedRecordsRepo()
	for _, record := range []*entity.ProcessedRecord{testRecord(12, 1), testRecord(10, 7), testRecord(10, 3)} {
		_, err := repo.Ensure(ctx, record)
		require.NoError(t, err)
	}

	records, err := repo.FindByStatus(ctx, "test", []entity.Status{entity.StatusSeen}, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, uint(10), records[0].BlockNumber)
	require.Equal(t, uint(3), records[0].LogIndex)
	require.Equal(t, uint(7), records[1].LogIndex)
	require.Equal(t, uint(12), records[2].BlockNumber)

	records, err = repo.FindByStatus(ctx, "test", []entity.Status{entity.StatusSeen}, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)

	counts, err := repo.CountByStatus(ctx, "test")
	require.NoError(t, err)
	require.Equal(t, uint(3), counts[entity.StatusSeen])
	require.Equal(t, uint(0), counts[entity.StatusFailed])

	stuck, err := repo.FindStuck(ctx, "test", []entity.Status{entity.StatusSeen}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 3)
}
