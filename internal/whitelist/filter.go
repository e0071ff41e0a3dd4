package whitelist

import (
	"time"

	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
)

// cachedSet is a parsed prefix file, valid while the file keeps the same
// modification time and size.
type cachedSet struct {
	modified time.Time
	size     int64
	set      *prefix.Set
}

// Allowed tells whether a request may go to the remote of repo. It fails
// open: anything but an existing, readable whitelist not covering the path
// allows the request.
func (m *Manager) Allowed(repo *repository.Repository, req *repository.Request) bool {
	if !m.opts.FeatureActive || !repo.IsMaven2() {
		return true
	}
	if req.NotFoundCacheProbe || repository.IsHidden(req.Path) {
		return true
	}
	set, ok := m.prefixSet(repo)
	if !ok {
		return true
	}
	allowed := set.Covers(req.Path)
	if !allowed {
		log.Debugf("%s%s rejected by whitelist", repo.ID, req.Path)
	}
	return allowed
}

// prefixSet returns the parsed whitelist of repo; ok is false when there is
// no readable one.
func (m *Manager) prefixSet(repo *repository.Repository) (*prefix.Set, bool) {
	file := m.PrefixSourceFor(repo)
	it, err := file.Stat()
	if err != nil {
		if !storage.IsNotFound(err) {
			log.Debugf("cannot stat whitelist of %s: %v", repo.ID, err)
		}
		return nil, false
	}
	if c, hit := m.sets.Get(repo.ID); hit && c.modified.Equal(it.Modified) && c.size == it.Size {
		return c.set, true
	}
	entries, err := file.ReadEntries()
	if err != nil {
		log.Debugf("cannot read whitelist of %s: %v", repo.ID, err)
		return nil, false
	}
	set := prefix.NewSet(entries...)
	m.sets.Add(repo.ID, cachedSet{modified: it.Modified, size: it.Size, set: set})
	return set, true
}
