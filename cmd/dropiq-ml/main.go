package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dropiq-ml/internal/alerts"
	"dropiq-ml/internal/artifact"
	"dropiq-ml/internal/cfg"
	"dropiq-ml/internal/common"
	"dropiq-ml/internal/metrics"
	"dropiq-ml/internal/server"
	"dropiq-ml/internal/service"
	"dropiq-ml/internal/storage"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type args struct {
	Port      int    `arg:"-p,--port" help:"listen port (overrides config)"`
	ModelPath string `arg:"--model" help:"model artifact path (overrides config)"`
	DataPath  string `arg:"--data" help:"score history directory (overrides config)"`
	LogLevel  string `arg:"--log-level" help:"debug, info, warn or error (overrides config)"`
	JSONLogs  bool   `arg:"--json-logs" help:"write JSON logs instead of console output"`
}

func (args) Description() string {
	return "DropIQ churn prediction server"
}

func main() {
	var a args
	arg.MustParse(&a)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Config load failed")
	}
	applyArgs(&c, a)

	closer, err := cfg.SetupLogging(c, !a.JSONLogs)
	if err != nil {
		log.Fatal().Err(err).Msg("Logging setup failed")
	}
	defer closer.Close()

	if err := run(c); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		closer.Close()
		os.Exit(1)
	}
}

func applyArgs(c *cfg.Settings, a args) {
	if a.Port != 0 {
		c.Port = a.Port
	}
	if a.ModelPath != "" {
		c.ModelPath = a.ModelPath
	}
	if a.DataPath != "" {
		c.DataPath = a.DataPath
	}
	if a.LogLevel != "" {
		c.LogLevel = a.LogLevel
	}
}

func run(c cfg.Settings) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mw := metrics.NewWrapper(metrics.NewWithRegistry(registry))

	store := artifact.NewStore(c.ModelPath, c.ReportPath)
	if snap, err := store.Snapshot(); err != nil {
		// Served as 500s per request until the artifact is replaced.
		log.Error().Err(err).Str("path", c.ModelPath).Msg("Model artifact unreadable at startup")
	} else {
		log.Info().
			Str("kind", string(snap.Model.Kind())).
			Str("version", snap.Version).
			Bool("fallback", snap.Fallback).
			Msg("Serving model")
	}

	svc, err := service.New(store, service.Config{CacheSize: c.CacheSize}, mw)
	if err != nil {
		return err
	}

	history := initializeStorage(c)
	if history != nil {
		defer history.Close()
	}

	hub := alerts.NewHub(mw.AlertClients())
	defer hub.Close()

	opts := server.Options{
		Port:           c.Port,
		RequestTimeout: c.RequestTimeout,
		Alerts:         hub,
		Gatherer:       registry,
	}
	if history != nil {
		opts.History = history
		opts.Dispatcher = alerts.NewDispatcher(history, hub, c.HighRiskProb, mw)
	} else {
		opts.Dispatcher = alerts.NewDispatcher(nil, hub, c.HighRiskProb, mw)
	}
	srv := server.New(svc, opts)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-errCh:
		return err
	}

	log.Info().Msg("Shutting down gracefully...")
	hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	log.Info().Str("service", common.ServiceName).Msg("Server stopped")
	return nil
}

// initializeStorage opens the score history if a data path is configured.
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		log.Info().Msg("No data path configured, score history disabled")
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("Storage initialization failed, continuing without score history")
		return nil
	}
	return store
}
