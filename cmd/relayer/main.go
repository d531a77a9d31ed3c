package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/logging"
	"github.com/poanetwork/tokenbridge-relayer/nonce"
	"github.com/poanetwork/tokenbridge-relayer/notify"
	"github.com/poanetwork/tokenbridge-relayer/presenter"
	"github.com/poanetwork/tokenbridge-relayer/relayer"
	"github.com/poanetwork/tokenbridge-relayer/relayer/alerts"
	"github.com/poanetwork/tokenbridge-relayer/repository"
)

func main() {
	logger := logging.New()

	cfg, err := config.ReadConfigFromFile("config.yml")
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	var repo *repository.Repo
	if cfg.DBConfig != nil {
		dbConn, err2 := db.ConnectToDBAndMigrate(cfg.DBConfig)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't connect to database and apply migrations")
		}
		defer dbConn.Close()
		repo = repository.NewRepo(dbConn)
	} else {
		logger.Warn("postgres is not configured, relay progress will be lost on restart")
		repo = repository.NewMemoryRepo()
	}

	var rdb redis.UniversalClient
	if cfg.Redis != nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			logger.WithError(err).Fatal("can't connect to redis")
		}
	} else {
		logger.Warn("redis is not configured, nonce lanes are coordinated within this process only")
	}

	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.Notifier != nil && cfg.Notifier.Kafka != nil {
		kafkaNotifier, err2 := notify.NewKafkaNotifier(logger, cfg.Notifier.Kafka)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't create kafka notifier")
		}
		notifiers = append(notifiers, kafkaNotifier)
	}
	notifier := notify.Multi(notifiers...)
	defer func() {
		if err2 := notifier.Close(); err2 != nil {
			logger.WithError(err2).Warn("can't close notifier")
		}
	}()

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err2 := http.ListenAndServe(cfg.MetricsHost, nil)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't start listener for prometheus metrics")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	board := relayer.NewStatusBoard()
	if cfg.Presenter != nil {
		pr := presenter.NewPresenter(logger.WithField("service", "presenter"), repo, cfg, board)
		go func() {
			if err2 := pr.Serve(ctx, cfg.Presenter.Host); err2 != nil {
				logger.WithError(err2).Fatal("can't serve presenter")
			}
		}()
	}

	for _, bridge := range cfg.DisabledBridges {
		delete(cfg.Bridges, bridge)
	}
	if cfg.EnabledBridges != nil {
		newBridgeCfg := make(map[string]*config.BridgeConfig, len(cfg.EnabledBridges))
		for _, bridge := range cfg.EnabledBridges {
			newBridgeCfg[bridge] = cfg.Bridges[bridge]
		}
		cfg.Bridges = newBridgeCfg
	}

	factory := relayer.NewFactory(logger, repo, nonce.NewManager(rdb), notifier, board, cfg.ShutdownTimeout)
	pipelines := make([]*relayer.Pipeline, 0, len(cfg.Bridges))
	for id, bridgeCfg := range cfg.Bridges {
		id := id
		bridgeLogger := logger.WithField("bridge_id", id)
		if bridgeCfg == nil {
			bridgeLogger.Fatal("enabled bridge is not configured")
		}
		p, err2 := factory.NewPipeline(ctx, bridgeCfg)
		if err2 != nil {
			bridgeLogger.WithError(err2).Fatal("can't initialize bridge pipeline")
		}
		pipelines = append(pipelines, p)

		alertManager, err2 := alerts.NewAlertManager(bridgeLogger, repo.ProcessedRecords, bridgeCfg)
		if err2 != nil {
			bridgeLogger.WithError(err2).Fatal("can't initialize alert manager")
		}
		go alertManager.Start(ctx, func() bool {
			status, ok := board.Get(id)
			return ok && status.Synced
		})
	}

	logger.WithField("bridges", len(pipelines)).Info("starting relayer")
	relayer.NewSupervisor(logger, notifier, board, pipelines...).Run(ctx)
	logger.WithFields(logrus.Fields{
		"shutdown_timeout": cfg.ShutdownTimeout,
	}).Warn("relayer stopped")
}
