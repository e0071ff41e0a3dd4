package whitelist

import (
	"context"

	"github.com/jmgilman/go/errors"

	"artiproxy/internal/events"
	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
)

// PrefixSourceFor returns the published prefix file of a repository.
func (m *Manager) PrefixSourceFor(repo *repository.Repository) *prefix.FileSource {
	return prefix.NewFileSource(repo.Store, m.opts.LocalPrefixFilePath, m.opts.Limits)
}

// IsPrefixFile reports whether path is the prefix file item of any repository.
func (m *Manager) IsPrefixFile(path string) bool {
	return storage.Clean(path) == storage.Clean(m.opts.LocalPrefixFilePath)
}

// Publish writes the entries of src as the repository's prefix file and
// republishes every group containing the repository. Invalid entries leave
// the repository unpublished.
func (m *Manager) Publish(repo *repository.Repository, src prefix.Source) error {
	file := m.PrefixSourceFor(repo)
	if err := file.WriteEntries(src); err != nil {
		if prefix.IsInvalidInput(err) {
			log.Warnf("whitelist of %s rejected, unpublishing: %v", repo.ID, err)
			if uerr := m.Unpublish(repo); uerr != nil {
				log.Warnf("unpublish of %s failed: %v", repo.ID, uerr)
			}
		}
		return err
	}
	if err := m.setNoScrape(repo, false); err != nil {
		return err
	}
	m.sets.Remove(repo.ID)
	log.Debugf("whitelist of %s published", repo.ID)
	m.events.Publish(events.WhitelistPublished{RepoID: repo.ID, FilePath: file.FilePath()})
	m.propagate(repo)
	return nil
}

// Unpublish removes the prefix file and any remote prefix file copies, marks
// the repository with the noscrape flag and republishes its groups.
func (m *Manager) Unpublish(repo *repository.Repository) error {
	if err := m.PrefixSourceFor(repo).Delete(); err != nil && !storage.IsUnsupported(err) {
		return err
	}
	for _, p := range m.opts.RemotePrefixFilePaths {
		if storage.Clean(p) == storage.Clean(m.opts.LocalPrefixFilePath) {
			continue
		}
		if err := prefix.NewFileSource(repo.Store, p, m.opts.Limits).Delete(); err != nil && !storage.IsUnsupported(err) {
			return err
		}
	}
	if err := m.setNoScrape(repo, true); err != nil {
		return err
	}
	m.sets.Remove(repo.ID)
	log.Debugf("whitelist of %s unpublished", repo.ID)
	m.events.Publish(events.WhitelistUnpublished{RepoID: repo.ID})
	m.propagate(repo)
	return nil
}

// propagate recomputes the whitelists of the groups directly containing
// repo. Their own publish continues up the group chain.
func (m *Manager) propagate(repo *repository.Repository) {
	for _, group := range m.registry.GroupsOf(repo.ID) {
		if !group.IsMaven2() {
			continue
		}
		if err := m.updateAndPublish(context.Background(), group); err != nil {
			log.Warnf("propagating whitelist of %s into group %s failed: %v", repo.ID, group.ID, err)
		}
	}
}

// setNoScrape adds or removes the noscrape flag item. Read only stores are
// left alone.
func (m *Manager) setNoScrape(repo *repository.Repository, on bool) error {
	p := m.opts.NoScrapeFlagPath
	if p == "" {
		return nil
	}
	l := repo.Store.Lock(p)
	l.Lock()
	defer l.Unlock()

	var err error
	if on {
		_, err = repo.Store.Write(p, nil, nil)
	} else {
		err = repo.Store.Delete(p)
	}
	if err == nil || storage.IsNotFound(err) || storage.IsUnsupported(err) {
		return nil
	}
	return err
}

// HasNoScrapeFlag reports whether the repository is marked unpublished.
func (m *Manager) HasNoScrapeFlag(repo *repository.Repository) bool {
	if m.opts.NoScrapeFlagPath == "" {
		return false
	}
	l := repo.Store.Lock(m.opts.NoScrapeFlagPath)
	l.RLock()
	defer l.RUnlock()
	ok, err := repo.Store.Exists(m.opts.NoScrapeFlagPath)
	return err == nil && ok
}

// OfferEntry adds path, cut to the local scrape depth, to the whitelist of a
// hosted repository and republishes it when that changed anything.
func (m *Manager) OfferEntry(repo *repository.Repository, path string) (bool, error) {
	return m.modify(repo, path, (*prefix.Modifier).Offer)
}

// RevokeEntry removes the entry path cuts to from the whitelist of a hosted
// repository and republishes it when that changed anything.
func (m *Manager) RevokeEntry(repo *repository.Repository, path string) (bool, error) {
	return m.modify(repo, path, (*prefix.Modifier).Revoke)
}

func (m *Manager) modify(repo *repository.Repository, path string, edit func(*prefix.Modifier, string)) (bool, error) {
	if !repo.IsHosted() {
		return false, errors.Newf(errors.CodeInvalidInput, "repository %s is a %s, whitelist entries can only be edited on hosted repositories", repo.ID, repo.Kind)
	}
	file := m.PrefixSourceFor(repo)
	l := file.Lock()

	l.RLock()
	exists, err := repo.Store.Exists(file.FilePath())
	if err != nil || !exists {
		l.RUnlock()
		return false, err
	}
	mod := prefix.NewModifier(file, m.opts.LocalScrapeDepth)
	edit(mod, path)
	pending := mod.HasChanges()
	l.RUnlock()
	if !pending {
		return false, nil
	}

	l.Lock()
	changed := false
	exists, err = repo.Store.Exists(file.FilePath())
	if err == nil && exists {
		mod.Reset()
		edit(mod, path)
		changed, err = mod.Apply()
	}
	l.Unlock()
	if err != nil || !changed {
		return false, err
	}
	return true, m.Publish(repo, file)
}
