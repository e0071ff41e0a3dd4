package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Repository kinds accepted in configuration.
const (
	KindHosted = "hosted"
	KindProxy  = "proxy"
	KindGroup  = "group"
	KindShadow = "shadow"
)

const (
	defaultPort                    = 8081
	defaultDataDir                 = "./data"
	defaultOriginTimeout           = 30 * time.Second
	defaultMaxFetchSize            = "512mb"
	defaultFormat                  = "maven2"
	defaultLocalPrefixFilePath     = "/.meta/prefixes.txt"
	defaultNoScrapeFlagPath        = "/.meta/noscrape.txt"
	defaultDiscoveryStatusFilePath = "/.meta/discovery.status.toml"
	defaultLocalScrapeDepth        = 2
	defaultRemoteScrapeDepth       = 2
	defaultPrefixFileMaxEntries    = 100000
	defaultPrefixFileMaxSize       = "1mb"
	defaultInitialDelay            = time.Minute
	defaultPeriodicInterval        = time.Hour
	defaultWorkers                 = 5
	defaultShutdownTimeout         = 60 * time.Second
	defaultDiscoveryInterval       = 24 * time.Hour
	defaultItemMaxAge              = 24 * time.Hour
	defaultNotFoundCacheTTL        = 10 * time.Minute
)

var defaultRemotePrefixFilePaths = []string{"/.meta/prefixes.txt", "/.meta/prefixes.txt.gz"}

type Config struct {
	Server struct {
		Port          int    `yaml:"port"`
		DataDir       string `yaml:"dataDir"`
		OriginTimeout string `yaml:"originTimeout"`
		MaxFetchSize  string `yaml:"maxFetchSize"`
		UserAgent     string `yaml:"userAgent"`

		// compiled
		OriginTimeoutDur time.Duration `yaml:"-"`
		MaxFetchBytes    int64         `yaml:"-"`
	} `yaml:"server"`

	Logging struct {
		Level         string `yaml:"level"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		// compiled
		LogStatsEveryDur time.Duration `yaml:"-"`
	} `yaml:"logging"`

	NotFoundCache struct {
		TTL  string `yaml:"ttl"`
		Size int    `yaml:"size"`

		// compiled
		TTLDur time.Duration `yaml:"-"`
	} `yaml:"notFoundCache"`

	Whitelist Whitelist `yaml:"whitelist"`

	Repositories []Repository `yaml:"repositories"`
}

// Whitelist holds the process-wide routing whitelist settings.
type Whitelist struct {
	FeatureActive           *bool    `yaml:"featureActive"`
	LocalPrefixFilePath     string   `yaml:"localPrefixFilePath"`
	RemotePrefixFilePaths   []string `yaml:"remotePrefixFilePaths"`
	NoScrapeFlagPath        string   `yaml:"noScrapeFlagPath"`
	DiscoveryStatusFilePath string   `yaml:"discoveryStatusFilePath"`
	LocalScrapeDepth        int      `yaml:"localScrapeDepth"`
	RemoteScrapeDepth       int      `yaml:"remoteScrapeDepth"`
	PrefixFileMaxEntries    int      `yaml:"prefixFileMaxEntries"`
	PrefixFileMaxSize       string   `yaml:"prefixFileMaxSize"`
	RemoteStrategies        []string `yaml:"remoteStrategies"`
	InitialDelay            string   `yaml:"initialDelay"`
	PeriodicInterval        string   `yaml:"periodicInterval"`
	Workers                 int      `yaml:"workers"`
	ShutdownTimeout         string   `yaml:"shutdownTimeout"`

	// compiled
	Active              bool          `yaml:"-"`
	PrefixFileMaxBytes  int64         `yaml:"-"`
	InitialDelayDur     time.Duration `yaml:"-"`
	PeriodicIntervalDur time.Duration `yaml:"-"`
	ShutdownTimeoutDur  time.Duration `yaml:"-"`
}

type Repository struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Kind             string   `yaml:"kind"`
	Format           string   `yaml:"format"`
	RemoteURL        string   `yaml:"remoteUrl"`
	ProxyMode        string   `yaml:"proxyMode"`
	ChecksumPolicy   string   `yaml:"checksumPolicy"`
	RepositoryPolicy string   `yaml:"repositoryPolicy"`
	ItemMaxAge       string   `yaml:"itemMaxAge"`
	Members          []string `yaml:"members"`

	Discovery struct {
		Enabled  *bool  `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"discovery"`

	// compiled
	ItemMaxAgeDur        time.Duration `yaml:"-"`
	DiscoveryEnabled     bool          `yaml:"-"`
	DiscoveryIntervalDur time.Duration `yaml:"-"`
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes and compiles a yaml configuration document.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = defaultDataDir
	}
	d, err := durationOr(cfg.Server.OriginTimeout, defaultOriginTimeout)
	if err != nil {
		return fmt.Errorf("server.originTimeout: %w", err)
	}
	cfg.Server.OriginTimeoutDur = d
	n, err := sizeOr(cfg.Server.MaxFetchSize, defaultMaxFetchSize)
	if err != nil {
		return fmt.Errorf("server.maxFetchSize: %w", err)
	}
	cfg.Server.MaxFetchBytes = n
	if cfg.Server.UserAgent == "" {
		cfg.Server.UserAgent = "artiproxy"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(cfg.Logging.LogStatsEvery)
		if err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		cfg.Logging.LogStatsEveryDur = d
	}

	d, err = durationOr(cfg.NotFoundCache.TTL, defaultNotFoundCacheTTL)
	if err != nil {
		return fmt.Errorf("notFoundCache.ttl: %w", err)
	}
	cfg.NotFoundCache.TTLDur = d
	if cfg.NotFoundCache.Size <= 0 {
		cfg.NotFoundCache.Size = 10000
	}

	if err := cfg.Whitelist.compile(); err != nil {
		return err
	}

	seen := map[string]struct{}{}
	for i := range cfg.Repositories {
		r := &cfg.Repositories[i]
		if err := r.compile(); err != nil {
			return fmt.Errorf("repositories[%d].%w", i, err)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("repositories[%d].id: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	for i, r := range cfg.Repositories {
		for _, m := range r.Members {
			if _, ok := seen[m]; !ok {
				return fmt.Errorf("repositories[%d].members: unknown repository %q", i, m)
			}
		}
	}
	return checkGroupCycles(cfg.Repositories)
}

func (w *Whitelist) compile() error {
	w.Active = w.FeatureActive == nil || *w.FeatureActive
	if w.LocalPrefixFilePath == "" {
		w.LocalPrefixFilePath = defaultLocalPrefixFilePath
	}
	if len(w.RemotePrefixFilePaths) == 0 {
		w.RemotePrefixFilePaths = append([]string(nil), defaultRemotePrefixFilePaths...)
	}
	if w.NoScrapeFlagPath == "" {
		w.NoScrapeFlagPath = defaultNoScrapeFlagPath
	}
	if w.DiscoveryStatusFilePath == "" {
		w.DiscoveryStatusFilePath = defaultDiscoveryStatusFilePath
	}
	for name, p := range map[string]string{
		"localPrefixFilePath":     w.LocalPrefixFilePath,
		"noScrapeFlagPath":        w.NoScrapeFlagPath,
		"discoveryStatusFilePath": w.DiscoveryStatusFilePath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("whitelist.%s: path must start with /, got %q", name, p)
		}
	}
	if w.LocalScrapeDepth <= 0 {
		w.LocalScrapeDepth = defaultLocalScrapeDepth
	}
	if w.RemoteScrapeDepth <= 0 {
		w.RemoteScrapeDepth = defaultRemoteScrapeDepth
	}
	if w.PrefixFileMaxEntries <= 0 {
		w.PrefixFileMaxEntries = defaultPrefixFileMaxEntries
	}
	n, err := sizeOr(w.PrefixFileMaxSize, defaultPrefixFileMaxSize)
	if err != nil {
		return fmt.Errorf("whitelist.prefixFileMaxSize: %w", err)
	}
	w.PrefixFileMaxBytes = n
	if len(w.RemoteStrategies) == 0 {
		w.RemoteStrategies = []string{"prefix-file", "scrape"}
	}
	for i, s := range w.RemoteStrategies {
		if s != "prefix-file" && s != "scrape" {
			return fmt.Errorf("whitelist.remoteStrategies[%d]: unknown strategy %q", i, s)
		}
	}
	if w.InitialDelayDur, err = durationOr(w.InitialDelay, defaultInitialDelay); err != nil {
		return fmt.Errorf("whitelist.initialDelay: %w", err)
	}
	if w.PeriodicIntervalDur, err = durationOr(w.PeriodicInterval, defaultPeriodicInterval); err != nil {
		return fmt.Errorf("whitelist.periodicInterval: %w", err)
	}
	if w.PeriodicIntervalDur <= 0 {
		return fmt.Errorf("whitelist.periodicInterval: must be positive")
	}
	if w.ShutdownTimeoutDur, err = durationOr(w.ShutdownTimeout, defaultShutdownTimeout); err != nil {
		return fmt.Errorf("whitelist.shutdownTimeout: %w", err)
	}
	if w.Workers <= 0 {
		w.Workers = defaultWorkers
	}
	return nil
}

func (r *Repository) compile() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return fmt.Errorf("id: required")
	}
	if strings.ContainsAny(r.ID, "/\\ ") {
		return fmt.Errorf("id: invalid repository id %q", r.ID)
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Format == "" {
		r.Format = defaultFormat
	}
	switch r.Kind {
	case KindHosted, KindGroup, KindShadow:
	case KindProxy:
		if r.RemoteURL == "" {
			return fmt.Errorf("remoteUrl: required for proxy repository %q", r.ID)
		}
		r.RemoteURL = strings.TrimRight(r.RemoteURL, "/")
	default:
		return fmt.Errorf("kind: unknown kind %q", r.Kind)
	}
	if r.Kind != KindGroup && len(r.Members) > 0 {
		return fmt.Errorf("members: only groups have members")
	}
	switch r.ProxyMode {
	case "":
		r.ProxyMode = "allow"
	case "allow", "blocked-auto", "blocked-manual":
	default:
		return fmt.Errorf("proxyMode: unknown mode %q", r.ProxyMode)
	}
	switch r.ChecksumPolicy {
	case "":
		r.ChecksumPolicy = "warn"
	case "ignore", "warn", "strict-if-exists", "strict":
	default:
		return fmt.Errorf("checksumPolicy: unknown policy %q", r.ChecksumPolicy)
	}
	switch r.RepositoryPolicy {
	case "":
		r.RepositoryPolicy = "mixed"
	case "release", "snapshot", "mixed":
	default:
		return fmt.Errorf("repositoryPolicy: unknown policy %q", r.RepositoryPolicy)
	}

	var err error
	if r.ItemMaxAgeDur, err = durationOr(r.ItemMaxAge, defaultItemMaxAge); err != nil {
		return fmt.Errorf("itemMaxAge: %w", err)
	}
	r.DiscoveryEnabled = r.Kind == KindProxy && (r.Discovery.Enabled == nil || *r.Discovery.Enabled)
	if r.DiscoveryIntervalDur, err = durationOr(r.Discovery.Interval, defaultDiscoveryInterval); err != nil {
		return fmt.Errorf("discovery.interval: %w", err)
	}
	return nil
}

func checkGroupCycles(repos []Repository) error {
	members := make(map[string][]string, len(repos))
	for _, r := range repos {
		if r.Kind == KindGroup {
			members[r.ID] = r.Members
		}
	}
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("repositories: group cycle %s", strings.Join(append(trail, id), " -> "))
		case done:
			return nil
		}
		state[id] = visiting
		for _, m := range members[id] {
			if err := visit(m, append(trail, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for id := range members {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
