package whitelist

import (
	"artiproxy/internal/discovery"
	"artiproxy/internal/events"
	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
)

// HandleEvent keeps hosted whitelists in step with deploys and deletes.
// Subscribe it to the event bus; it does nothing until Start and after Stop.
func (m *Manager) HandleEvent(ev events.Event) {
	if !m.listening.Load() || !m.opts.FeatureActive {
		return
	}

	var (
		path  string
		offer bool
	)
	switch e := ev.(type) {
	case events.ItemStored:
		path, offer = e.Path, true
	case events.ItemDeleted:
		path = e.Path
	default:
		return
	}

	repo, ok := m.registry.Get(ev.Repository())
	if !ok || !repo.IsHosted() || !repo.IsMaven2() {
		return
	}
	if repository.IsHidden(path) || m.IsPrefixFile(path) {
		return
	}

	var (
		changed bool
		err     error
	)
	switch {
	case offer:
		changed, err = m.OfferEntry(repo, path)
	case m.stillStored(repo, path):
		return
	default:
		changed, err = m.RevokeEntry(repo, path)
	}
	if err != nil {
		log.Warnf("cannot update whitelist of %s for %s: %v", repo.ID, path, err)
		return
	}
	if changed {
		log.Debugf("whitelist of %s updated for %s", repo.ID, path)
	}
}

// stillStored reports whether the entry a deleted path cuts to still holds
// a file, in which case it must stay whitelisted. Empty directories left
// behind by a delete do not count.
func (m *Manager) stillStored(repo *repository.Repository, path string) bool {
	ok, err := discovery.HoldsFile(repo.Store, prefix.Cut(path, m.opts.LocalScrapeDepth))
	if err != nil {
		log.Warnf("cannot inspect %s%s: %v", repo.ID, path, err)
		return false
	}
	return ok
}
