package repository

import (
	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/repository/memory"
	"github.com/poanetwork/tokenbridge-relayer/repository/postgres"
)

type Repo struct {
	Checkpoints      entity.CheckpointsRepo
	ProcessedRecords entity.ProcessedRecordsRepo
}

func NewRepo(db *db.DB) *Repo {
	return &Repo{
		Checkpoints:      postgres.NewCheckpointsRepo("checkpoints", db),
		ProcessedRecords: postgres.NewProcessedRecordsRepo("processed_records", db),
	}
}

// NewMemoryRepo creates non-persistent stores, used when no postgres is configured.
func NewMemoryRepo() *Repo {
	return &Repo{
		Checkpoints:      memory.NewCheckpointsRepo(),
		ProcessedRecords: memory.NewProcessedRecordsRepo(),
	}
}
