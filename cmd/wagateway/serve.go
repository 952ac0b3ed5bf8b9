package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leandrotocalini/wagateway/internal/api"
	"github.com/leandrotocalini/wagateway/internal/config"
	"github.com/leandrotocalini/wagateway/internal/lifecycle"
	"github.com/leandrotocalini/wagateway/internal/logging"
)

const pruneInterval = time.Hour

// serve assembles the gateway, restores stored sessions and serves HTTP
// until ctx is cancelled. Shutdown hooks stop HTTP first, then the account
// loops, then the stores.
func serve(ctx context.Context, mgr *lifecycle.Manager, cfg *config.Config, logger *slog.Logger, ring *logging.Ring) error {
	gw, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := api.New(cfg.Server.Secret, gw.sup, gw.sender, gw.index,
		api.WithLogger(logger),
		api.WithHub(gw.hub),
		api.WithLogRing(ring),
	)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	mgr.OnShutdown("http", httpSrv.Shutdown)
	mgr.OnShutdown("supervisor", gw.sup.Close)
	mgr.OnShutdown("stores", func(context.Context) error { return gw.close() })

	// Files left by a previous run were never delivered and never will be.
	if err := gw.media.Sweep(); err != nil {
		logger.Warn("media sweep failed", "dir", cfg.Media.Dir, "error", err)
	}

	restored, err := gw.sup.RestoreAll(ctx)
	if err != nil {
		logger.Error("session restore failed", "error", err)
	} else {
		logger.Info("gateway starting", "accounts", restored)
	}

	go lifecycle.Every(ctx, pruneInterval, func(ctx context.Context) {
		n, err := gw.index.Prune(ctx, cfg.Store.Retention.Std())
		if err != nil {
			logger.Warn("media index prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("media index pruned", "rows", n)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	logger.Info("listening", "addr", cfg.Server.Addr)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
