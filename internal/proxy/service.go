// Package proxy serves repository content over HTTP: hosted content from
// local storage, proxied content from origins gated by the routing
// whitelist, and group content through their members.
package proxy

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jmgilman/go/errors"

	"artiproxy/internal/checksum"
	"artiproxy/internal/config"
	"artiproxy/internal/events"
	"artiproxy/internal/repository"
	"artiproxy/internal/transport"
	"artiproxy/internal/whitelist"
)

var log = logging.Logger("proxy")

type Options struct {
	NotFoundCacheTTL  time.Duration
	NotFoundCacheSize int
	LogStatsEvery     time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		NotFoundCacheTTL:  cfg.NotFoundCache.TTLDur,
		NotFoundCacheSize: cfg.NotFoundCache.Size,
		LogStatsEvery:     cfg.Logging.LogStatsEveryDur,
	}
}

type Service struct {
	opts      Options
	registry  *repository.Registry
	whitelist *whitelist.Manager
	fetcher   transport.Fetcher
	validator *checksum.Validator
	events    events.Publisher

	nfc   *notFoundCache
	stats *statsCollector
	now   func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(opts Options, reg *repository.Registry, wl *whitelist.Manager, f transport.Fetcher, pub events.Publisher) *Service {
	s := &Service{
		opts:      opts,
		registry:  reg,
		whitelist: wl,
		fetcher:   f,
		validator: checksum.NewValidator(f),
		events:    pub,
		nfc:       newNotFoundCache(opts.NotFoundCacheSize, opts.NotFoundCacheTTL),
		stats:     newStatsCollector(),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}

	if opts.LogStatsEvery > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(opts.LogStatsEvery)
		}()
	}
	return s
}

func (s *Service) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// Stats returns the retrieval counters collected so far.
func (s *Service) Stats() Stats {
	return s.stats.Snapshot()
}

func (s *Service) count(outcome string) {
	s.stats.Count(outcome)
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			rss := "n/a"
			if b, ok := processRSSBytes(); ok {
				rss = formatBytes(b)
			}
			log.Infof(
				"Served: %d (hit %d, remote %d, not found %d, rejected %d), NFC entries: %d, Updating: %v, RSS: %s, Resp min/avg/max %s/%s/%s",
				ss.TotalResponses,
				ss.Hits,
				ss.Remote,
				ss.NotFound,
				ss.Rejected,
				s.nfc.Len(),
				s.whitelist.RunningUpdates(),
				rss,
				formatBytes(ss.MinRespBytes),
				formatBytes(ss.AvgRespBytes),
				formatBytes(ss.MaxRespBytes),
			)
		}
	}
}

// Deploy stores content into a hosted repository and announces it.
func (s *Service) Deploy(repo *repository.Repository, path string, body []byte) error {
	if err := s.checkWritable(repo, path); err != nil {
		return err
	}
	l := repo.Store.Lock(path)
	l.Lock()
	it, err := repo.Store.Write(path, body, nil)
	l.Unlock()
	if err != nil {
		return err
	}
	log.Debugf("deployed %s%s (%d bytes)", repo.ID, it.Path, it.Size)
	s.events.Publish(events.ItemStored{RepoID: repo.ID, Path: it.Path})
	return nil
}

// Delete removes an item, or a whole directory, from a hosted repository and
// announces it.
func (s *Service) Delete(repo *repository.Repository, path string) error {
	if err := s.checkWritable(repo, path); err != nil {
		return err
	}
	l := repo.Store.Lock(path)
	l.Lock()
	err := repo.Store.Delete(path)
	l.Unlock()
	if err != nil {
		return err
	}
	s.events.Publish(events.ItemDeleted{RepoID: repo.ID, Path: repository.NewRequest(path).Path})
	return nil
}

func (s *Service) checkWritable(repo *repository.Repository, path string) error {
	if !repo.IsHosted() {
		return errors.Newf(errors.CodeNotImplemented, "repository %s is a %s, only hosted repositories accept changes", repo.ID, repo.Kind)
	}
	p := repository.NewRequest(path).Path
	if p == "/" || repository.IsHidden(p) {
		return errors.Newf(errors.CodeInvalidInput, "path %s of repository %s is not writable", p, repo.ID)
	}
	if !repo.ServesByPolicy(p) {
		return errors.Newf(errors.CodeInvalidInput, "path %s violates the %s policy of repository %s", p, repo.Policy, repo.ID)
	}
	return nil
}
