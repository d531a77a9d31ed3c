package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/ethclient"
	"github.com/poanetwork/tokenbridge-relayer/logging"
	"github.com/poanetwork/tokenbridge-relayer/repository"
	"github.com/poanetwork/tokenbridge-relayer/watcher"
)

var (
	bridgeID  = flag.String("bridgeId", "", "bridgeId to rewind the checkpoint of")
	toBlock   = flag.Uint("toBlock", 0, "last processed block to rewind to")
	force = flag.Bool("force", false, "allow moving the checkpoint forward")
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
	bridgeCfg, ok := cfg.Bridges[*bridgeID]
	if !ok || bridgeCfg == nil {
		logger.WithField("bridge_id", *bridgeID).Fatal("bridge config for given bridgeId is not found")
	}
	if *toBlock < bridgeCfg.Source.StartBlock {
		logger.WithFields(logrus.Fields{
			"to_block":    *toBlock,
			"start_block": bridgeCfg.Source.StartBlock,
		}).Fatal("toBlock is below the bridge start block")
	}
	if cfg.DBConfig == nil {
		logger.Fatal("postgres is not configured")
	}

	dbConn, err := db.ConnectToDBAndMigrate(cfg.DBConfig)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to database and apply migrations")
	}
	defer dbConn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	repo := repository.NewRepo(dbConn)
	source := bridgeCfg.Source
	bridgeLogger := logger.WithFields(logrus.Fields{
		"bridge_id": bridgeCfg.ID,
		"chain_id":  source.Chain.ChainID,
		"to_block":  *toBlock,
	})
	client, err := ethclient.NewClient(source.Chain.RPC.Host, source.Chain.RPC.Timeout, source.Chain.RPC.RPS, source.Chain.ChainID)
	if err != nil {
		bridgeLogger.WithError(err).Fatal("can't dial source rpc client")
	}
	w := watcher.NewWatcher(bridgeLogger, bridgeCfg.ID, source, client)

	current, err := repo.Checkpoints.GetByChainIDAndAddress(ctx, source.Chain.ChainID, source.Address)
	if err = db.IgnoreErrNotFound(err); err != nil {
		bridgeLogger.WithError(err).Fatal("can't load current checkpoint")
	}
	if current != nil {
		bridgeLogger = bridgeLogger.WithField("current_block", current.LastProcessedBlock)
		if current.LastProcessedBlock < *toBlock && !*force {
			bridgeLogger.Fatal("toBlock is above the current checkpoint, use --force to move it forward")
		}
	}

	hash, err := w.BlockHash(ctx, *toBlock)
	if err != nil {
		bridgeLogger.WithError(err).Fatal("can't get block hash")
	}
	err = repo.Checkpoints.Rewind(ctx, &entity.Checkpoint{
		BridgeID:               bridgeCfg.ID,
		ChainID:                source.Chain.ChainID,
		Address:                source.Address,
		LastProcessedBlock:     *toBlock,
		LastProcessedBlockHash: hash,
		ConfirmationDepth:      source.BlockConfirmations,
	})
	if err != nil {
		bridgeLogger.WithError(err).Fatal("can't rewind checkpoint")
	}
	bridgeLogger.WithField("block_hash", hash).Info("checkpoint rewound, restart the relayer to resume the bridge")
}
