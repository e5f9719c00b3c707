// Package app wires configuration into the services used by the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"remaininggoods/internal"
	"remaininggoods/internal/config"
	"remaininggoods/internal/connectors"
	"remaininggoods/internal/connectors/probe"
	"remaininggoods/internal/connectors/smb"
	"remaininggoods/internal/listener"
	"remaininggoods/internal/logger"
	"remaininggoods/internal/metrics"
	"remaininggoods/internal/pipeline"
	"remaininggoods/internal/status"
	"remaininggoods/internal/storage"
)

func NewLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	var filePath string
	if cfg.LogDir != "" && cfg.LogFile != "" {
		filePath = filepath.Join(cfg.LogDir, cfg.LogFile)
	}
	return logger.New(logger.Options{
		ConsoleLevel: cfg.LogLevelConsole,
		FileLevel:    cfg.LogLevelFile,
		FilePath:     filePath,
		Format:       cfg.LogFormat,
	})
}

func NewProber(cfg config.Config, log *slog.Logger) connectors.Prober {
	if cfg.ProbeMode == "tcp" {
		return probe.TCP{Port: cfg.SMBPort, Timeout: cfg.SMBTimeout}
	}
	return probe.NewPinger(cfg.SMBTimeout, cfg.PingPrivileged, log)
}

func NewFetcher(cfg config.Config, log *slog.Logger) (*connectors.FetchService, error) {
	for _, t := range cfg.Targets() {
		if err := cfg.Require("SMB_SHARE", t.Share); err != nil {
			return nil, fmt.Errorf("site %s: %w", t.Site, err)
		}
	}
	return connectors.NewFetchService(
		NewProber(cfg, log),
		smb.NewDialer(cfg.SMBPort, cfg.SMBTimeout),
		cfg.SMBLoadToPath,
		connectors.FetchOptions{
			MaxAttempts: cfg.FetchMaxAttempts,
			BackoffBase: cfg.FetchBackoffBase,
			Debug:       cfg.Debug,
		},
		log,
	), nil
}

func NewLoader(cfg config.Config, log *slog.Logger) *pipeline.Loader {
	return pipeline.NewLoader(pipeline.ValidationOptions{
		MaxWidth:        cfg.CSVMaxWidth,
		AllowInvalidEAN: cfg.CSVAllowInvalidEAN,
	}, cfg.CSVDelimiter, log)
}

func OpenStore(ctx context.Context, cfg config.Config, log *slog.Logger) (*storage.DB, error) {
	return storage.Open(ctx, storage.OptionsFromConfig(cfg), log)
}

// Bootstrap opens a short-lived connection and creates missing tables.
func Bootstrap(ctx context.Context, cfg config.Config, log *slog.Logger) ([]string, error) {
	db, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Bootstrap(ctx, storage.SchemaFromConfig(cfg))
}

// NewService assembles the sync cycle over every configured site.
func NewService(cfg config.Config, m *metrics.Metrics, log *slog.Logger) (*listener.Service, error) {
	targets := cfg.Targets()
	if len(targets) == 0 {
		return nil, errors.New("no sites configured: set SHOPS or SITES_FILE")
	}
	fetcher, err := NewFetcher(cfg, log)
	if err != nil {
		return nil, err
	}

	deps := listener.Deps{
		Fetcher: fetcher,
		Loader:  NewLoader(cfg, log),
		OpenStore: func(ctx context.Context) (listener.Store, error) {
			db, err := OpenStore(ctx, cfg, log)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		Bootstrap: func(ctx context.Context) error {
			created, err := Bootstrap(ctx, cfg, log)
			if len(created) > 0 {
				log.Info("schema bootstrapped", "tables", created)
			}
			return err
		},
		Status:  status.NewTracker(cfg.StatusFilePath),
		Metrics: m,
	}
	return listener.NewService(targets, deps, listener.Options{
		Interval:          cfg.CheckInterval,
		WorkingHoursStart: cfg.WorkingHoursStart,
		WorkingHoursEnd:   cfg.WorkingHoursEnd,
		MaxParallelSites:  cfg.MaxParallelSites,
		Debug:             cfg.Debug,
	}, log)
}

// FindTarget returns the configured target for one site id.
func FindTarget(cfg config.Config, site string) (internal.RemoteTarget, bool) {
	for _, t := range cfg.Targets() {
		if t.Site == site {
			return t, true
		}
	}
	return internal.RemoteTarget{}, false
}
