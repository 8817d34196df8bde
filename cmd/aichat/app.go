package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/aichat/internal/agent"
	"github.com/user/aichat/internal/config"
	"github.com/user/aichat/internal/db"
	"github.com/user/aichat/internal/natsbus"
	"github.com/user/aichat/internal/orchestrator"
	"github.com/user/aichat/internal/roles"
	"github.com/user/aichat/internal/tools"
	"github.com/user/aichat/internal/transport"
)

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	model   agent.Completer
	pinger  interface{ Ping(context.Context) error }
	tools   *tools.Registry
	catalog *roles.Catalog
	orch    *orchestrator.Orchestrator

	closers []func()
}

type appOptions struct {
	// Model replaces the configured model client when set.
	Model      agent.Completer
	Publishers []orchestrator.Publisher
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.model = opts.Model
	if a.model == nil {
		client, err := transport.NewModelClient(transport.ModelOptions{
			BaseURL: cfg.Model.BaseURL,
			APIKey:  cfg.Model.APIKey,
			Model:   cfg.Model.Name,
			Timeout: cfg.Model.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("model client: %w (set model.api_key or AICHAT_MODEL_API_KEY)", err)
		}
		a.model = client
		a.pinger = client
		logger.Debug("model client ready", "model", client.Model(), "base_url", cfg.Model.BaseURL)
	}

	gh := transport.NewAPIClient(transport.APIOptions{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   cfg.GitHub.Token,
		Timeout: cfg.GitHub.Timeout,
	})
	if !gh.HasToken() {
		logger.Warn("github token not configured; tool commands will report it")
	}
	registry, err := tools.NewGitHubRegistry(gh, logger)
	if err != nil {
		return nil, err
	}
	a.tools = registry

	catalog, err := roles.NewCatalog(cfg.Roles.Dir)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog
	if cfg.Roles.Watch && cfg.Roles.Dir != "" {
		watcher, err := roles.NewWatcher(catalog, logger)
		if err != nil {
			return nil, err
		}
		if err := watcher.Start(); err != nil {
			return nil, fmt.Errorf("watch roles dir: %w", err)
		}
		a.closers = append(a.closers, watcher.Stop)
	}

	var store orchestrator.Store
	if cfg.Store.Path != "" {
		database, err := db.Open(ctx, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = database.Close() })
		store = db.NewStore(database)
		logger.Info("transcript store opened", "path", cfg.Store.Path)
	}

	publishers := orchestrator.Publishers(opts.Publishers)
	if cfg.NATS.Enabled() {
		client, err := a.connectNATS(cfg.NATS)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, natsbus.NewPublisher(client, logger))
	}

	var publisher orchestrator.Publisher
	if len(publishers) > 0 {
		publisher = publishers
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Model:     a.model,
		Tools:     registry,
		Catalog:   catalog,
		Store:     store,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	a.orch = orch
	ok = true
	return a, nil
}

func (a *app) connectNATS(cfg config.NATSConfig) (*natsbus.Client, error) {
	url := cfg.URL
	if cfg.Embedded {
		bus, err := natsbus.New(cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bus.Close)
		url = bus.ClientURL()
		a.logger.Info("embedded nats started", "url", url)
	}
	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) ping(ctx context.Context) error {
	if a.pinger == nil {
		return nil
	}
	return a.pinger.Ping(ctx)
}
