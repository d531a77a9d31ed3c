package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/logging"
	"github.com/poanetwork/tokenbridge-relayer/nonce"
	"github.com/poanetwork/tokenbridge-relayer/notify"
	"github.com/poanetwork/tokenbridge-relayer/relayer"
	"github.com/poanetwork/tokenbridge-relayer/repository"
)

var (
	bridgeID = flag.String("bridgeId", "", "bridgeId of the lock event")
	txHash   = flag.String("txHash", "", "source transaction hash of the lock event")
	logIndex = flag.Uint("logIndex", 0, "log index of the lock event in the block")
	requeue  = flag.Bool("requeue", false, "requeue the event if it failed without a signed unlock tx")
	dryRun   = flag.Bool("dryRun", false, "only print the stored state of the event")
)

func main() {
	flag.Parse()

	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	if *bridgeID == "" {
		logger.Fatal("bridgeId is not specified")
	}
	if *txHash == "" {
		logger.Fatal("txHash is not specified")
	}
	bridgeCfg, ok := cfg.Bridges[*bridgeID]
	if !ok || bridgeCfg == nil {
		logger.WithField("bridge_id", *bridgeID).Fatal("bridge config for given bridgeId is not found")
	}
	if cfg.DBConfig == nil {
		logger.Fatal("postgres is not configured")
	}

	dbConn, err := db.ConnectToDBAndMigrate(cfg.DBConfig)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to database and apply migrations")
	}
	defer dbConn.Close()

	var rdb redis.UniversalClient
	if cfg.Redis != nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	repo := repository.NewRepo(dbConn)
	notifier := notify.NewLogNotifier(logger)
	factory := relayer.NewFactory(logger, repo, nonce.NewManager(rdb), notifier, relayer.NewStatusBoard(), cfg.ShutdownTimeout)
	bridgeLogger := logger.WithField("bridge_id", bridgeCfg.ID)

	w, err := factory.Watcher(bridgeCfg)
	if err != nil {
		bridgeLogger.WithError(err).Fatal("can't initialize source watcher")
	}
	ev, err := w.FetchEvent(ctx, common.HexToHash(*txHash), *logIndex)
	if err != nil {
		bridgeLogger.WithError(err).Fatal("can't fetch lock event")
	}
	eventLogger := bridgeLogger.WithFields(logrus.Fields{
		"event_id":             ev.ID.String(),
		"block_number":         ev.BlockNumber,
		"recipient":            ev.Recipient,
		"amount":               ev.Amount,
		"destination_chain_id": ev.DestinationChainID,
	})

	l := factory.Ledger()
	record, err := repo.ProcessedRecords.GetByEventID(ctx, ev.ID.String())
	switch {
	case errors.Is(err, db.ErrNotFound):
		eventLogger.Info("lock event is not in the ledger yet")
	case err != nil:
		eventLogger.WithError(err).Fatal("can't load ledger record")
	default:
		eventLogger = eventLogger.WithFields(logrus.Fields{
			"status":   record.Status,
			"attempts": record.Attempts,
		})
		if record.UnlockTxHash != nil {
			eventLogger = eventLogger.WithField("unlock_tx_hash", record.UnlockTxHash)
		}
		if record.LastError != nil {
			eventLogger = eventLogger.WithField("last_error", *record.LastError)
		}
		eventLogger.Info("found ledger record")
	}
	if *dryRun {
		return
	}

	if *requeue && record != nil && record.Status == entity.StatusFailed {
		if err = l.Requeue(ctx, record.EventID); err != nil {
			eventLogger.WithError(err).Fatal("can't requeue failed event")
		}
		eventLogger.Warn("requeued failed event")
	}

	p, err := factory.NewPipeline(ctx, bridgeCfg)
	if err != nil {
		bridgeLogger.WithError(err).Fatal("can't initialize bridge pipeline")
	}
	status, err := p.ProcessEvent(ctx, ev)
	if err != nil {
		eventLogger.WithError(err).Fatal("can't process lock event")
	}
	eventLogger.WithField("status", status).Info("processed lock event")
}
