package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/leandrotocalini/wagateway/internal/api"
	"github.com/leandrotocalini/wagateway/internal/authstore"
	"github.com/leandrotocalini/wagateway/internal/config"
	"github.com/leandrotocalini/wagateway/internal/dedup"
	"github.com/leandrotocalini/wagateway/internal/logging"
	"github.com/leandrotocalini/wagateway/internal/media"
	"github.com/leandrotocalini/wagateway/internal/normalize"
	"github.com/leandrotocalini/wagateway/internal/notify"
	"github.com/leandrotocalini/wagateway/internal/registry"
	"github.com/leandrotocalini/wagateway/internal/send"
	"github.com/leandrotocalini/wagateway/internal/slack"
	"github.com/leandrotocalini/wagateway/internal/store"
	"github.com/leandrotocalini/wagateway/internal/supervisor"
	"github.com/leandrotocalini/wagateway/internal/whatsapp"
)

// credentialStore is what both authstore backends provide.
type credentialStore interface {
	supervisor.Credentials
	whatsapp.DeviceStore
	Close() error
}

// gateway is the assembled process.
type gateway struct {
	creds  credentialStore
	index  *store.Store
	media  *media.Pipeline
	hub    *api.Hub
	sup    *supervisor.Supervisor
	sender *send.Adapter
}

func openCredentials(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credentialStore, error) {
	opts := []authstore.Option{
		authstore.WithLogger(logger),
		authstore.WithDBLog(func(account string) waLog.Logger {
			return logging.WhatsmeowLogger(logger.With("account", account), "Database")
		}),
	}
	if cfg.Sessions.Driver == "postgres" {
		pg, err := authstore.OpenPostgres(ctx, cfg.Sessions.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	dir, err := authstore.NewDir(cfg.Sessions.Dir, opts...)
	if err != nil {
		return nil, err
	}
	return dir, nil
}

func newDialer(cfg *config.Config, creds credentialStore, logger *slog.Logger) *whatsapp.Dialer {
	whatsapp.SetDeviceName(cfg.Sessions.DeviceName)
	return whatsapp.NewDialer(creds,
		whatsapp.WithLogger(logger),
		whatsapp.WithClientLog(func(account string) waLog.Logger {
			return logging.WhatsmeowLogger(logger.With("account", account), "Client")
		}),
	)
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	creds, err := openCredentials(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	index, err := store.New(cfg.Store.Path)
	if err != nil {
		creds.Close()
		return nil, fmt.Errorf("open media index: %w", err)
	}

	gw := &gateway{
		creds: creds,
		index: index,
		media: media.New(cfg.Media.Dir, media.WithLogger(logger)),
		hub:   api.NewHub(logger),
	}

	backend := notify.NewBackend(cfg.Backend.URL, cfg.Backend.Secret,
		notify.WithTimeout(cfg.Backend.Timeout.Std()),
		notify.WithLogger(logger),
	)
	sink := notify.Tee{gw.hub, backend}

	norm := normalize.New(sink, gw.media,
		normalize.WithLogger(logger),
		normalize.WithMediaIndex(index),
		normalize.WithDedup(dedup.New()),
		normalize.WithAppendBatches(cfg.Events.ProcessAppend),
	)

	supOpts := []supervisor.Option{
		supervisor.WithLogger(logger),
		supervisor.WithRetryDelay(cfg.Reconnect.Delay.Std()),
		supervisor.WithOnPurge(func(ctx context.Context, account string) {
			n, err := index.DeleteAccount(ctx, account)
			if err != nil {
				logger.Warn("failed to drop media index rows", "account", account, "error", err)
				return
			}
			logger.Debug("media index rows dropped", "account", account, "rows", n)
		}),
	}
	if url := cfg.Alerts.SlackWebhookURL; url != "" {
		supOpts = append(supOpts, supervisor.WithAlerter(slack.NewAlerter(url, slack.WithLogger(logger))))
	}

	gw.sup = supervisor.New(registry.New(), newDialer(cfg, creds, logger), creds, norm, sink, supOpts...)
	gw.sender = send.NewAdapter(gw.sup,
		send.WithLogger(logger),
		send.WithMaxMedia(cfg.Media.MaxSize),
	)
	return gw, nil
}

// close releases the stores. The supervisor must already be closed.
func (gw *gateway) close() error {
	gw.hub.Close()
	return errors.Join(gw.index.Close(), gw.creds.Close())
}
