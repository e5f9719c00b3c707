package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"remaininggoods/internal/app"
	"remaininggoods/internal/config"
	"remaininggoods/internal/httpserver"
	"remaininggoods/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log, closeLog, err := app.NewLogger(cfg)
	must(err)
	defer func() { _ = closeLog() }()

	m := metrics.New(prometheus.DefaultRegisterer)
	svc, err := app.NewService(cfg, m, log)
	must(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		srv := httpserver.New(cfg.MetricsAddr, prometheus.DefaultGatherer)
		go func() {
			log.Info("http server listening", "addr", cfg.MetricsAddr)
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	must(svc.Run(ctx))
	log.Info("listener stopped")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
