package presenter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/db"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/logging"
	"github.com/poanetwork/tokenbridge-relayer/presenter/http/middleware"
	"github.com/poanetwork/tokenbridge-relayer/presenter/http/render"
	"github.com/poanetwork/tokenbridge-relayer/relayer"
	"github.com/poanetwork/tokenbridge-relayer/repository"
)

const shutdownTimeout = 5 * time.Second

// Presenter serves the read-only status API of the relayer.
type Presenter struct {
	logger logging.Logger
	repo   *repository.Repo
	cfg    *config.Config
	board  *relayer.StatusBoard
	root   chi.Router
}

func NewPresenter(logger logging.Logger, repo *repository.Repo, cfg *config.Config, board *relayer.StatusBoard) *Presenter {
	p := &Presenter{
		logger: logger,
		repo:   repo,
		cfg:    cfg,
		board:  board,
		root:   chi.NewMux(),
	}
	p.routes()
	return p
}

func (p *Presenter) routes() {
	p.root.Use(chimiddleware.Throttle(5))
	p.root.Use(chimiddleware.RequestID)
	p.root.Use(middleware.NewLoggerMiddleware(p.logger))
	p.root.Use(middleware.Recoverer)

	p.root.Get("/status", p.GetStatus)
	p.root.Route("/bridge/{bridgeID:[0-9a-zA-Z_\\-]+}", func(r chi.Router) {
		r.Use(middleware.GetBridgeConfigMiddleware(p.cfg))
		r.Get("/status", p.GetBridgeStatus)
		r.With(middleware.GetFilterMiddleware).Get("/events", p.GetBridgeEvents)
	})
	p.root.Get("/event/{eventID}", p.GetEvent)
	p.root.With(middleware.GetTxHashMiddleware).Get("/tx/{txHash:0x[0-9a-fA-F]{64}}", p.SearchTx)
}

func (p *Presenter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.root.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is cancelled.
func (p *Presenter) Serve(ctx context.Context, addr string) error {
	p.logger.WithField("addr", addr).Info("starting presenter service")
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			p.logger.WithError(err).Warn("can't gracefully shutdown presenter")
		}
	})
	defer stop()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (p *Presenter) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, http.StatusOK, p.board.All())
}

func (p *Presenter) GetBridgeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := middleware.BridgeConfig(ctx)

	counts, err := p.repo.ProcessedRecords.CountByStatus(ctx, cfg.ID)
	if err != nil {
		render.Error(w, r, fmt.Errorf("failed to count bridge events: %w", err))
		return
	}
	res := &BridgeInfo{Events: counts}
	if status, ok := p.board.Get(cfg.ID); ok {
		res.Pipeline = status
	}

	cp, err := p.repo.Checkpoints.GetByChainIDAndAddress(ctx, cfg.Source.Chain.ChainID, cfg.Source.Address)
	if err = db.IgnoreErrNotFound(err); err != nil {
		render.Error(w, r, fmt.Errorf("failed to get bridge checkpoint: %w", err))
		return
	}
	if cp != nil {
		res.Checkpoint = checkpointToInfo(cp)
	}

	render.JSON(w, r, http.StatusOK, res)
}

func (p *Presenter) GetBridgeEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := middleware.BridgeConfig(ctx)
	filter := middleware.GetFilterContext(ctx)

	records, err := p.repo.ProcessedRecords.FindByStatus(ctx, cfg.ID, filter.Statuses, filter.Limit)
	if err != nil {
		render.Error(w, r, fmt.Errorf("failed to find bridge events: %w", err))
		return
	}
	res := make([]*EventInfo, len(records))
	for i, record := range records {
		res[i] = recordToEventInfo(record)
	}
	render.JSON(w, r, http.StatusOK, res)
}

func (p *Presenter) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := entity.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		render.BadRequest(w, r, err)
		return
	}

	record, err := p.repo.ProcessedRecords.GetByEventID(ctx, id.String())
	if err != nil {
		render.Error(w, r, fmt.Errorf("failed to get event %s: %w", id, err))
		return
	}
	render.JSON(w, r, http.StatusOK, recordToEventInfo(record))
}

// SearchTx finds the lock event relayed by the given unlock transaction.
func (p *Presenter) SearchTx(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txHash := middleware.TxHash(ctx)

	record, err := p.repo.ProcessedRecords.FindByUnlockTxHash(ctx, txHash)
	if err != nil {
		render.Error(w, r, fmt.Errorf("failed to find event by unlock tx %s: %w", txHash, err))
		return
	}
	render.JSON(w, r, http.StatusOK, recordToEventInfo(record))
}
