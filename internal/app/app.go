// Package app encapsulates server assembly and lifecycle: config
// validation, store and stream registry startup, engine wiring, the HTTP
// server and the retention scheduler.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"draftflow/pkg/agent"
	"draftflow/pkg/catalog"
	"draftflow/pkg/config"
	"draftflow/pkg/engine"
	"draftflow/pkg/store"
	"draftflow/pkg/stream"

	"draftflow/internal/retention"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	streams *stream.Registry
	orch    *engine.Orchestrator
	resume  *engine.Resumption

	srv *http.Server
}

// New initializes everything that does not require a running context:
// config validation, runtime keys, the Pebble store, the stream registry,
// the content registry and the workflow engine. Call Run to start the HTTP
// server and retention scheduler and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	// runtime keys
	rc := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, FrontendKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		rc.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		rc.FrontendKeys[k] = struct{}{}
	}
	config.SetRuntime(rc)

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	streams, err := stream.NewRegistry(cfg.Stream.Dir, cfg.Stream.Sync, cfg.Stream.MaxRecordBytes.Int64())
	if err != nil {
		return nil, fmt.Errorf("failed to init stream registry: %w", err)
	}

	reg, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	// the model capability is pluggable; the offline provider keeps the
	// server fully functional without an external model
	var provider agent.ModelProvider = agent.OfflineProvider{}

	orch := &engine.Orchestrator{
		Streams:  streams,
		Runner:   engine.StoreRunner{},
		Router:   &agent.Router{Provider: provider, Timeout: cfg.Engine.RouterTimeout.Duration()},
		Agents:   agent.BuildAgents(provider, reg, cfg.Engine.StepTimeout.Duration()),
		MaxLoops: cfg.Engine.MaxLoops,
	}

	return &App{
		eff: eff, version: version, commit: commit, buildDate: buildDate,
		streams: streams,
		orch:    orch,
		resume:  &engine.Resumption{Streams: streams},
	}, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	retCancel, err := retention.Start(ctx, a.eff.Config.Retention, a.streams)
	if err != nil {
		return err
	}
	defer retCancel()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
		return store.Close()
	case err := <-errCh:
		_ = store.Close()
		return err
	}
}

// validateConfig fails fast on configs the engine cannot run with.
func validateConfig(eff config.EffectiveConfigResult) error {
	cfg := eff.Config
	if eff.Addr == "" {
		return fmt.Errorf("listen address is required (flag -addr, DRAFTFLOW_ADDR or server.address)")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("db path is required (flag -db, DRAFTFLOW_DB_PATH or server.db_path)")
	}
	if cfg.Engine.MaxLoops <= 0 {
		return fmt.Errorf("engine.max_loops must be positive")
	}
	if len(cfg.Security.APIKeys.Backend) == 0 && len(cfg.Security.APIKeys.Frontend) == 0 {
		return fmt.Errorf("at least one backend or frontend api key is required")
	}
	if cert, key := cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile; (cert == "") != (key == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	if cfg.Catalog.Path != "" {
		if _, err := os.Stat(cfg.Catalog.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("catalog path unreadable: %w", err)
		}
	}
	return nil
}
