package relayer

import (
	"context"
	"fmt"
	"time"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/ethclient"
	"github.com/poanetwork/tokenbridge-relayer/ledger"
	"github.com/poanetwork/tokenbridge-relayer/logging"
	"github.com/poanetwork/tokenbridge-relayer/nonce"
	"github.com/poanetwork/tokenbridge-relayer/notify"
	"github.com/poanetwork/tokenbridge-relayer/repository"
	"github.com/poanetwork/tokenbridge-relayer/signer"
	"github.com/poanetwork/tokenbridge-relayer/submitter"
	"github.com/poanetwork/tokenbridge-relayer/watcher"
)

// Factory builds bridge pipelines sharing chain clients, signers and nonce lanes of the process.
type Factory struct {
	logger       logging.Logger
	repo         *repository.Repo
	ledger       *ledger.Ledger
	lanes        *nonce.Manager
	notifier     notify.Notifier
	board        *StatusBoard
	drainTimeout time.Duration

	clients map[string]ethclient.Client
	signers map[string]signer.Signer
}

func NewFactory(logger logging.Logger, repo *repository.Repo, lanes *nonce.Manager, notifier notify.Notifier, board *StatusBoard, drainTimeout time.Duration) *Factory {
	return &Factory{
		logger:       logger,
		repo:         repo,
		ledger:       ledger.New(repo.ProcessedRecords),
		lanes:        lanes,
		notifier:     notifier,
		board:        board,
		drainTimeout: drainTimeout,
		clients:      make(map[string]ethclient.Client),
		signers:      make(map[string]signer.Signer),
	}
}

func (f *Factory) Ledger() *ledger.Ledger {
	return f.ledger
}

// Client returns the rpc client of the chain, dialing it on first use.
func (f *Factory) Client(chain *config.ChainConfig) (ethclient.Client, error) {
	if client, ok := f.clients[chain.ChainID]; ok {
		return client, nil
	}
	client, err := ethclient.NewClient(chain.RPC.Host, chain.RPC.Timeout, chain.RPC.RPS, chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("can't dial rpc client of chain %s: %w", chain.ChainID, err)
	}
	f.clients[chain.ChainID] = client
	return client, nil
}

func (f *Factory) signer(ctx context.Context, uri string) (signer.Signer, error) {
	if s, ok := f.signers[uri]; ok {
		return s, nil
	}
	s, err := signer.New(ctx, uri)
	if err != nil {
		return nil, err
	}
	f.signers[uri] = s
	return s, nil
}

func (f *Factory) Watcher(cfg *config.BridgeConfig) (*watcher.Watcher, error) {
	client, err := f.Client(cfg.Source.Chain)
	if err != nil {
		return nil, err
	}
	return watcher.NewWatcher(f.logger.WithField("bridge_id", cfg.ID), cfg.ID, cfg.Source, client), nil
}

func (f *Factory) NewPipeline(ctx context.Context, cfg *config.BridgeConfig) (*Pipeline, error) {
	logger := f.logger.WithField("bridge_id", cfg.ID)
	w, err := f.Watcher(cfg)
	if err != nil {
		return nil, err
	}

	submitters := make([]*submitter.Submitter, 0, len(cfg.Destinations))
	for _, dest := range cfg.Destinations {
		client, err2 := f.Client(dest.Chain)
		if err2 != nil {
			return nil, err2
		}
		s, err2 := f.signer(ctx, dest.Signer)
		if err2 != nil {
			return nil, fmt.Errorf("can't create signer for chain %s: %w", dest.Chain.ChainID, err2)
		}
		sub, err2 := submitter.NewSubmitter(logger, client, dest, cfg.Relay, s, f.lanes)
		if err2 != nil {
			return nil, fmt.Errorf("can't create submitter for chain %s: %w", dest.Chain.ChainID, err2)
		}
		submitters = append(submitters, sub)
	}

	return NewPipeline(f.logger, cfg, w, f.ledger, f.repo.Checkpoints, submitters, f.notifier, f.board, f.drainTimeout), nil
}
