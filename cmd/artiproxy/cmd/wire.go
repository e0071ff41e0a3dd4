package cmd

import (
	"fmt"
	"path/filepath"

	"artiproxy/internal/config"
	"artiproxy/internal/discovery"
	"artiproxy/internal/events"
	"artiproxy/internal/logging"
	"artiproxy/internal/proxy"
	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
	"artiproxy/internal/transport"
	"artiproxy/internal/whitelist"
)

// app is the wired process: one attribute store, the repository registry,
// the whitelist manager and the HTTP service sharing one event bus.
type app struct {
	cfg      config.Config
	attrs    *storage.AttributeStore
	registry *repository.Registry
	manager  *whitelist.Manager
	service  *proxy.Service
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logging.Setup(cfg.Logging.Level); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newApp(cfg config.Config) (*app, error) {
	attrs, err := storage.OpenAttributeStore(filepath.Join(cfg.Server.DataDir, "attributes"))
	if err != nil {
		return nil, err
	}
	storageDir := filepath.Join(cfg.Server.DataDir, "storage")
	reg, err := repository.FromConfig(cfg.Repositories, func(repoID string) (*storage.Store, error) {
		return storage.NewOsStore(storageDir, repoID, attrs)
	})
	if err != nil {
		_ = attrs.Close()
		return nil, fmt.Errorf("init repositories: %w", err)
	}

	client := transport.NewClient(transport.Options{
		Timeout:   cfg.Server.OriginTimeoutDur,
		MaxBytes:  cfg.Server.MaxFetchBytes,
		UserAgent: cfg.Server.UserAgent,
	})

	wl := cfg.Whitelist
	strategies, err := discovery.NewStrategies(wl.RemoteStrategies, client, discovery.Options{
		RemotePrefixFilePaths: wl.RemotePrefixFilePaths,
		ScrapeDepth:           wl.RemoteScrapeDepth,
		Limits:                whitelist.OptionsFromConfig(wl).Limits,
	})
	if err != nil {
		_ = attrs.Close()
		return nil, fmt.Errorf("whitelist.remoteStrategies: %w", err)
	}

	bus := events.NewBus()
	mgr := whitelist.NewManager(
		whitelist.OptionsFromConfig(wl),
		reg,
		discovery.NewLocalDiscoverer(wl.LocalScrapeDepth),
		discovery.NewRemoteDiscoverer(strategies...),
		bus,
	)
	bus.Subscribe(mgr.HandleEvent)

	svc := proxy.NewService(proxy.OptionsFromConfig(cfg), reg, mgr, client, bus)

	return &app{cfg: cfg, attrs: attrs, registry: reg, manager: mgr, service: svc}, nil
}

func (a *app) Close() {
	a.service.Close()
	a.manager.Stop()
	if err := a.attrs.Close(); err != nil {
		log.Warnf("close attribute store: %v", err)
	}
}

// selectRepositories resolves ids, or returns every repository when none
// are given.
func (a *app) selectRepositories(ids []string) ([]*repository.Repository, error) {
	if len(ids) == 0 {
		return a.registry.All(), nil
	}
	out := make([]*repository.Repository, 0, len(ids))
	for _, id := range ids {
		repo, ok := a.registry.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown repository %q", id)
		}
		out = append(out, repo)
	}
	return out, nil
}
