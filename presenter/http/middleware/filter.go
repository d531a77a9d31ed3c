package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/entity"
	"github.com/poanetwork/tokenbridge-relayer/presenter/http/render"
)

type ctxKey int

const (
	bridgeCfgCtxKey ctxKey = iota
	txHashCtxKey
	filterCtxKey
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var (
	ErrInvalidStatus = errors.New("invalid status parameter")
	ErrInvalidLimit  = errors.New("invalid limit parameter")
)

type FilterContext struct {
	Statuses []entity.Status
	Limit    uint64
}

func GetBridgeConfigMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bridgeID := chi.URLParam(r, "bridgeID")

			bridgeCfg, ok := cfg.Bridges[bridgeID]
			if !ok || bridgeCfg == nil {
				render.NotFound(w, r, fmt.Sprintf("bridge with id %s not found", bridgeID))
				return
			}

			ctx := context.WithValue(r.Context(), bridgeCfgCtxKey, bridgeCfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func BridgeConfig(ctx context.Context) *config.BridgeConfig {
	if cfg, ok := ctx.Value(bridgeCfgCtxKey).(*config.BridgeConfig); ok {
		return cfg
	}
	return new(config.BridgeConfig)
}

func GetTxHashMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txHash := chi.URLParam(r, "txHash")

		if txHash == "" {
			txHash = r.URL.Query().Get("txHash")
			if txHash == "" {
				next.ServeHTTP(w, r)
				return
			}
		}

		ctx := context.WithValue(r.Context(), txHashCtxKey, common.HexToHash(txHash))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TxHash(ctx context.Context) common.Hash {
	if txHash, ok := ctx.Value(txHashCtxKey).(common.Hash); ok {
		return txHash
	}
	return common.Hash{}
}

// GetFilterMiddleware parses the status and limit query parameters.
// Statuses are given as a comma separated list, all statuses are selected by default.
func GetFilterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		filter := &FilterContext{
			Statuses: entity.AllStatuses,
			Limit:    defaultLimit,
		}

		if statuses := query.Get("status"); statuses != "" {
			filter.Statuses = nil
			for _, s := range strings.Split(statuses, ",") {
				status := entity.Status(strings.TrimSpace(s))
				if !status.IsValid() {
					render.BadRequest(w, r, fmt.Errorf("unknown status %q: %w", s, ErrInvalidStatus))
					return
				}
				filter.Statuses = append(filter.Statuses, status)
			}
		}

		if limitStr := query.Get("limit"); limitStr != "" {
			limit, err := strconv.ParseUint(limitStr, 10, 32)
			if err != nil || limit == 0 {
				render.BadRequest(w, r, fmt.Errorf("failed to parse limit %q: %w", limitStr, ErrInvalidLimit))
				return
			}
			if limit > maxLimit {
				render.BadRequest(w, r, fmt.Errorf("cannot request more than %d events: %w", maxLimit, ErrInvalidLimit))
				return
			}
			filter.Limit = limit
		}

		ctx := context.WithValue(r.Context(), filterCtxKey, filter)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetFilterContext(ctx context.Context) *FilterContext {
	if cfg, ok := ctx.Value(filterCtxKey).(*FilterContext); ok {
		return cfg
	}
	return &FilterContext{Statuses: entity.AllStatuses, Limit: defaultLimit}
}
