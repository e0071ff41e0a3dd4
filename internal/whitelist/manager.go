// Package whitelist maintains the per-repository routing whitelists: it runs
// discovery, publishes the resulting prefix files, propagates them into
// groups and answers the request-time "may this go remote" question.
package whitelist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"

	"artiproxy/internal/config"
	"artiproxy/internal/discovery"
	"artiproxy/internal/events"
	"artiproxy/internal/executor"
	alog "artiproxy/internal/logging"
	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
)

var log = logging.Logger("whitelist")

// LocalContentDiscoverer computes the whitelist of a hosted repository.
type LocalContentDiscoverer interface {
	DiscoverLocalContent(ctx context.Context, repo *repository.Repository) *discovery.Result
}

// RemoteContentDiscoverer computes the whitelist of a proxy repository.
type RemoteContentDiscoverer interface {
	DiscoverRemoteContent(ctx context.Context, repo *repository.Repository) *discovery.Result
}

type Options struct {
	FeatureActive bool

	LocalPrefixFilePath     string
	RemotePrefixFilePaths   []string
	NoScrapeFlagPath        string
	DiscoveryStatusFilePath string
	LocalScrapeDepth        int
	Limits                  prefix.Limits

	InitialDelay     time.Duration
	PeriodicInterval time.Duration
	Workers          int
	ShutdownTimeout  time.Duration

	// CacheSize bounds the number of parsed prefix sets kept in memory.
	CacheSize int
}

func OptionsFromConfig(w config.Whitelist) Options {
	return Options{
		FeatureActive:           w.Active,
		LocalPrefixFilePath:     w.LocalPrefixFilePath,
		RemotePrefixFilePaths:   w.RemotePrefixFilePaths,
		NoScrapeFlagPath:        w.NoScrapeFlagPath,
		DiscoveryStatusFilePath: w.DiscoveryStatusFilePath,
		LocalScrapeDepth:        w.LocalScrapeDepth,
		Limits:                  prefix.Limits{MaxEntries: w.PrefixFileMaxEntries, MaxBytes: w.PrefixFileMaxBytes},
		InitialDelay:            w.InitialDelayDur,
		PeriodicInterval:        w.PeriodicIntervalDur,
		Workers:                 w.Workers,
		ShutdownTimeout:         w.ShutdownTimeoutDur,
	}
}

// Manager owns the whitelist lifecycle of every repository in a registry.
type Manager struct {
	opts     Options
	registry *repository.Registry
	local    LocalContentDiscoverer
	remote   RemoteContentDiscoverer
	events   events.Publisher
	exec     *executor.Constrained
	status   statusStore
	sets     *lru.Cache[string, cachedSet]

	notSpawned *alog.RateLimited
	now        func() time.Time

	listening atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewManager(opts Options, reg *repository.Registry, local LocalContentDiscoverer, remote RemoteContentDiscoverer, pub events.Publisher) *Manager {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.LocalScrapeDepth <= 0 {
		opts.LocalScrapeDepth = 2
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = time.Minute
	}
	sets, err := lru.New[string, cachedSet](opts.CacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Manager{
		opts:       opts,
		registry:   reg,
		local:      local,
		remote:     remote,
		events:     pub,
		exec:       executor.New(opts.Workers),
		status:     statusStore{path: opts.DiscoveryStatusFilePath},
		sets:       sets,
		notSpawned: alog.NewRateLimited(log, time.Minute),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start initializes the whitelist of every hosted and proxy maven2
// repository, schedules the periodic proxy update and starts reacting to
// deploy and delete events.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		for _, repo := range m.registry.All() {
			if !repo.IsMaven2() || !(repo.IsHosted() || repo.IsProxy()) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			m.InitializeWhitelist(repo)
		}
		m.listening.Store(true)
		m.startPeriodicUpdates()
		log.Infof("whitelist manager started (feature active: %t)", m.opts.FeatureActive)
	})
}

// Stop stops the periodic loop, cancels running updates and waits for them
// up to the configured shutdown timeout.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.listening.Store(false)
		close(m.stopCh)
		if !m.exec.Shutdown(m.opts.ShutdownTimeout) {
			log.Warnf("whitelist updates did not finish within %s", m.opts.ShutdownTimeout)
		}
		m.wg.Wait()
		log.Infof("whitelist manager stopped")
	})
}

// RunningUpdates lists the repositories with a queued or running update.
func (m *Manager) RunningUpdates() []string {
	return m.exec.Statistics().RunningKeys
}

func (m *Manager) startPeriodicUpdates() {
	initDelay := m.opts.InitialDelay
	period := m.opts.PeriodicInterval

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if initDelay > 0 {
			select {
			case <-m.stopCh:
				return
			case <-time.After(initDelay):
			}
		}

		m.mayUpdateAllProxyWhitelists()
		if period <= 0 {
			return
		}

		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-t.C:
				m.mayUpdateAllProxyWhitelists()
			}
		}
	}()
}

func (m *Manager) mayUpdateAllProxyWhitelists() {
	log.Debugf("periodic whitelist update")
	for _, repo := range m.registry.ByKind(repository.Proxy) {
		if !repo.IsMaven2() {
			continue
		}
		m.mayUpdateProxyWhitelist(repo)
	}
}

// mayUpdateProxyWhitelist spawns an update when discovery is enabled and the
// last run either failed, never happened or is older than the interval.
func (m *Manager) mayUpdateProxyWhitelist(repo *repository.Repository) bool {
	st, err := m.discoveryStatus(repo)
	if err != nil {
		log.Warnf("cannot read discovery status of %s, assuming a failed run: %v", repo.ID, err)
		st = DiscoveryStatus{Status: DiscoveryError}
	}
	if !st.Status.IsEnabled() {
		return false
	}
	due := st.Status == DiscoveryEnabled || st.Status == DiscoveryError
	if !due {
		cfg := m.RemoteDiscoveryConfig(repo)
		due = m.now().Sub(st.LastDiscovery) > cfg.Interval
	}
	if !due {
		return false
	}
	if !m.UpdateWhitelist(repo) {
		m.notSpawned.Infof(repo.ID, "whitelist update of %s not spawned, a previous update is still running", repo.ID)
		return false
	}
	return true
}
