// Package app wires the service together: store, config registry,
// orchestration client, status poller and HTTP API.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/pipewatch/pipewatch/internal/api"
	"github.com/pipewatch/pipewatch/internal/config"
	"github.com/pipewatch/pipewatch/internal/lifecycle"
	"github.com/pipewatch/pipewatch/internal/orchestration"
	"github.com/pipewatch/pipewatch/internal/poller"
	"github.com/pipewatch/pipewatch/internal/progress"
	"github.com/pipewatch/pipewatch/internal/resolver"
	"github.com/pipewatch/pipewatch/internal/status"
	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/internal/telemetry"
	"github.com/pipewatch/pipewatch/pkg/configregistry"
)

// Run wires up core services and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	log, err := telemetry.NewLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer log.Sync()

	tracer := telemetry.Tracer(cfg.Telemetry.ServiceName)
	ctx, startup := tracer.Start(ctx, "startup")

	var st store.Store
	if cfg.Postgres.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			startup.End()
			return err
		}
		st = pg
	} else {
		log.Warn("no postgres dsn configured, using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	registry, err := configregistry.NewRegistry(ctx, configregistry.Config{
		Type:    cfg.Registry.Type,
		DSN:     cfg.Registry.DSN,
		URL:     cfg.Registry.URL,
		Token:   cfg.Registry.Token,
		Timeout: cfg.Registry.Timeout,
		Cache:   cfg.Registry.Cache,
	})
	switch {
	case errors.Is(err, configregistry.ErrRegistryDisabled):
		log.Info("config registry disabled, connectors run on inline configs")
	case err != nil:
		startup.End()
		return err
	default:
		defer registry.Close()
	}

	orch, err := orchestration.NewClient(orchestration.Config{
		BaseURL: cfg.Orchestration.BaseURL,
		Token:   cfg.Orchestration.Token,
		Timeout: cfg.Orchestration.Timeout,
	})
	if err != nil {
		startup.End()
		return err
	}

	var gatherer prometheus.Gatherer
	var metrics *poller.Metrics
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector())
		metrics = poller.NewMetrics(promReg)
		gatherer = promReg
	}

	res := resolver.New(registry, log)
	manager := lifecycle.New(st, registry, res, log)
	tracker := progress.NewTracker(st)

	clk := clock.New()
	views := status.NewViewModel()
	pollRegistry := poller.NewRegistry(clk, log)
	defer pollRegistry.StopAll()

	statusPoller := poller.NewStatusPoller(orch, views, pollRegistry, st, clk, cfg.Poller.Interval, metrics, log)
	burster := poller.NewBurster(statusPoller, clk, cfg.Poller.BurstDelays, metrics, log)

	if err := watchExisting(ctx, st, statusPoller, log); err != nil {
		startup.End()
		return err
	}

	server := api.NewServer(st, manager, res, tracker, orch, views, statusPoller, burster, gatherer, log)
	httpServer := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	startup.End()

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", cfg.API.Listen))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

// watchExisting registers every stored pipeline with the status poller so
// derived views are available immediately after a restart.
func watchExisting(ctx context.Context, st store.Store, p *poller.StatusPoller, log *zap.Logger) error {
	pipelines, err := st.ListPipelines(ctx)
	if err != nil {
		return err
	}
	watched := 0
	for _, pl := range pipelines {
		var source, sink string
		if pl.Source != nil {
			source = pl.Source.Name
		}
		if pl.Sink != nil {
			sink = pl.Sink.Name
		}
		if source == "" && sink == "" {
			continue
		}
		p.Watch(context.WithoutCancel(ctx), pl.ID, source, sink)
		watched++
	}
	log.Info("watching stored pipelines", zap.Int("count", watched))
	return nil
}
