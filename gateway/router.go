// Package gateway exposes the vault surface over HTTP: proportional-share
// operations, read-only position accessors and the permissionless rebalance
// trigger.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"loopvault/gateway/middleware"
	"loopvault/strategy"
)

// Config wires the router to the strategy components and middleware.
type Config struct {
	Vault          *strategy.Vault
	Rebalancer     *strategy.Rebalancer
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// RateLimitVaultOps and RateLimitRebalance are the limiter keys the router
// installs for its mutating route groups.
const (
	RateLimitVaultOps  = "vault_ops"
	RateLimitRebalance = "rebalance"
)

// New assembles the chi router.
func New(cfg Config) (http.Handler, error) {
	if cfg.Vault == nil || cfg.Rebalancer == nil {
		return nil, errors.New("gateway: vault and rebalancer are required")
	}
	r := chi.NewRouter()
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	vr := &vaultRoutes{vault: cfg.Vault, rebalancer: cfg.Rebalancer}
	r.Route("/v1/vault", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(RateLimitVaultOps))
		}
		vr.mount(sr)
	})

	rr := &rebalanceRoutes{rebalancer: cfg.Rebalancer}
	r.Route("/v1/rebalance", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(RateLimitRebalance))
		}
		sr.Post("/", rr.trigger)
	})

	return r, nil
}

func decodeRequest(r *http.Request, dst any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
