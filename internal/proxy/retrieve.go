package proxy

import (
	"context"
	"strconv"
	"time"

	"github.com/jmgilman/go/errors"

	"artiproxy/internal/checksum"
	"artiproxy/internal/events"
	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
	"artiproxy/internal/transport"
)

// Content is a retrieved item.
type Content struct {
	RepositoryID string
	Path         string
	Body         []byte
	Modified     time.Time

	// Outcome tells how the content was obtained.
	Outcome string
}

func notFound(repo *repository.Repository, path string) error {
	return errors.WithContext(
		errors.Newf(errors.CodeNotFound, "item %s not found in repository %s", path, repo.ID),
		"repository", repo.ID,
	)
}

// RetrieveItem resolves req against repo: local storage first, then the
// origin of a proxy, then the members of a group in order.
func (s *Service) RetrieveItem(ctx context.Context, repo *repository.Repository, req *repository.Request) (*Content, error) {
	c, err := s.retrieve(ctx, repo, req)
	switch {
	case err == nil:
		s.count(c.Outcome)
	case storage.IsNotFound(err) && req.RejectedByWhitelist:
		s.count(outcomeRejected)
	case storage.IsNotFound(err):
		s.count(outcomeNotFound)
	}
	return c, err
}

func (s *Service) retrieve(ctx context.Context, repo *repository.Repository, req *repository.Request) (*Content, error) {
	// hidden items such as the prefix file are never proxied nor merged
	if repository.IsHidden(req.Path) {
		return s.retrieveLocal(repo, req.Path, outcomeHit)
	}
	if !repo.ServesByPolicy(req.Path) {
		log.Debugf("%s%s refused by %s repository policy", repo.ID, req.Path, repo.Policy)
		return nil, notFound(repo, req.Path)
	}
	switch {
	case repo.IsGroup():
		return s.retrieveFromMembers(ctx, repo, req)
	case repo.IsProxy():
		return s.retrieveProxied(ctx, repo, req)
	default:
		return s.retrieveLocal(repo, req.Path, outcomeHit)
	}
}

func (s *Service) retrieveLocal(repo *repository.Repository, path, outcome string) (*Content, error) {
	l := repo.Store.Lock(path)
	l.RLock()
	defer l.RUnlock()

	it, err := repo.Store.Stat(path)
	if err != nil {
		return nil, err
	}
	if it.Collection {
		return nil, notFound(repo, path)
	}
	b, err := repo.Store.Read(path)
	if err != nil {
		return nil, err
	}
	return &Content{RepositoryID: repo.ID, Path: it.Path, Body: b, Modified: it.Modified, Outcome: outcome}, nil
}

// retrieveFromMembers returns the first member hit. Member failures other
// than a miss are logged and skipped.
func (s *Service) retrieveFromMembers(ctx context.Context, group *repository.Repository, req *repository.Request) (*Content, error) {
	rejected := false
	for _, member := range s.registry.Members(group) {
		mreq := *req
		c, err := s.retrieve(ctx, member, &mreq)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !storage.IsNotFound(err) {
			log.Warnf("group %s member %s failed for %s: %v", group.ID, member.ID, req.Path, err)
		}
		rejected = rejected || mreq.RejectedByWhitelist
	}
	req.RejectedByWhitelist = rejected
	return nil, notFound(group, req.Path)
}

// shouldTryRemote tells whether the origin of a proxy may be asked for
// req. A whitelist rejection is recorded on the request.
func (s *Service) shouldTryRemote(repo *repository.Repository, req *repository.Request) bool {
	if !repo.ProxyMode.ShouldProxy() || req.LocalOnly {
		return false
	}
	if !s.whitelist.Allowed(repo, req) {
		req.RejectedByWhitelist = true
		return false
	}
	return true
}

func (s *Service) isFresh(repo *repository.Repository, path string) bool {
	if repo.ItemMaxAge < 0 {
		return true
	}
	attrs, err := repo.Store.Attributes(path)
	if err != nil {
		return false
	}
	checked := attrs.Int64(storage.AttrCheckedAt)
	if checked == 0 {
		checked = attrs.Int64(storage.AttrStoredAt)
	}
	return s.now().Sub(time.UnixMilli(checked)) <= repo.ItemMaxAge
}

func (s *Service) retrieveProxied(ctx context.Context, repo *repository.Repository, req *repository.Request) (*Content, error) {
	local, err := s.retrieveLocal(repo, req.Path, outcomeHit)
	if err != nil && !storage.IsNotFound(err) {
		return nil, err
	}
	if local != nil && !req.AsExpired && s.isFresh(repo, req.Path) {
		return local, nil
	}

	if repository.IsChecksumPath(req.Path) && local == nil {
		hi, ok, err := checksum.HashItemFor(repo, req.Path)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Content{RepositoryID: repo.ID, Path: hi.Path, Body: hi.Content, Modified: hi.Modified, Outcome: outcomeHash}, nil
		}
	}

	if !s.shouldTryRemote(repo, req) {
		return staleOr(local, notFound(repo, req.Path))
	}
	if !req.AsExpired && !req.NotFoundCacheProbe && s.nfc.Contains(repo.ID, req.Path) {
		log.Debugf("%s%s is in the not found cache", repo.ID, req.Path)
		return staleOr(local, notFound(repo, req.Path))
	}

	c, err := s.fetchRemote(ctx, repo, req)
	switch {
	case err == nil:
		return c, nil
	case storage.IsNotFound(err):
		return staleOr(local, err)
	default:
		log.Warnf("remote retrieval of %s%s failed: %v", repo.ID, req.Path, err)
		return staleOr(local, err)
	}
}

// staleOr serves expired local content rather than failing.
func staleOr(local *Content, err error) (*Content, error) {
	if local == nil {
		return nil, err
	}
	local.Outcome = outcomeStale
	return local, nil
}

func (s *Service) fetchRemote(ctx context.Context, repo *repository.Repository, req *repository.Request) (*Content, error) {
	resp, err := s.fetcher.Fetch(ctx, repo.RemoteURL, req.Path)
	if err != nil {
		if transport.IsNotFound(err) {
			if !req.RejectedByWhitelist {
				s.nfc.Add(repo.ID, req.Path)
			}
			return nil, notFound(repo, req.Path)
		}
		return nil, err
	}

	attrs := storage.Attributes{
		storage.AttrRemoteURL: resp.URL,
		storage.AttrCheckedAt: strconv.FormatInt(s.now().UnixMilli(), 10),
	}
	l := repo.Store.Lock(req.Path)
	l.Lock()
	it, err := repo.Store.Write(req.Path, resp.Body, attrs)
	l.Unlock()
	if err != nil {
		return nil, err
	}
	s.nfc.Remove(repo.ID, req.Path)

	var evs []events.Event
	valid, err := s.validator.IsRemoteItemContentValid(ctx, repo, req, repo.RemoteURL, it, &evs)
	for _, ev := range evs {
		s.events.Publish(ev)
	}
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, notFound(repo, req.Path)
	}
	return &Content{RepositoryID: repo.ID, Path: it.Path, Body: resp.Body, Modified: it.Modified, Outcome: outcomeRemote}, nil
}
