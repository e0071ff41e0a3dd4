package whitelist

import (
	"github.com/jmgilman/go/errors"

	"artiproxy/internal/repository"
)

// StatusFor reports the publishing and discovery state of a repository.
func (m *Manager) StatusFor(repo *repository.Repository) (Status, error) {
	st := Status{RepositoryID: repo.ID}

	ds, err := m.discoveryStatus(repo)
	if err != nil {
		return Status{}, err
	}
	st.Discovery = ds

	ps := PublishingStatus{Status: NotPublished}
	switch {
	case !repo.IsMaven2():
		ps.Message = msgUnsupportedFormat
	case repo.IsShadow():
		ps.Message = msgUnsupportedKind
	default:
		file := m.PrefixSourceFor(repo)
		exists, err := file.Exists()
		if err != nil {
			return Status{}, err
		}
		if exists {
			ps.Status = Published
			ps.Message = msgPublished
			ps.LastModified = file.Modified()
			ps.FilePath = file.FilePath()
			break
		}
		switch {
		case repo.IsGroup():
			ps.Message = msgGroupNotPublished
		case repo.IsProxy():
			if ds.Status.IsEnabled() {
				ps.Message = msgProxyNotPublished
			} else {
				ps.Message = msgProxyNotDiscovering
			}
		default:
			ps.Message = msgHostedNotPublished
		}
	}
	st.Publishing = ps
	return st, nil
}

// RemoteDiscoveryConfig returns the effective discovery config of a proxy:
// a runtime override when one was set, otherwise the configured defaults.
// Discovery is never enabled while the whitelist feature is off.
func (m *Manager) RemoteDiscoveryConfig(repo *repository.Repository) DiscoveryConfig {
	cfg := m.configuredDiscovery(repo)
	cfg.Enabled = cfg.Enabled && m.opts.FeatureActive && repo.IsProxy()
	return cfg
}

func (m *Manager) configuredDiscovery(repo *repository.Repository) DiscoveryConfig {
	cfg := DiscoveryConfig{Enabled: repo.DiscoveryEnabled, Interval: repo.DiscoveryInterval}
	var o discoveryOverride
	ok, err := repo.Store.Records().GetRecord(overrideKey(repo.ID), &o)
	if err != nil {
		log.Warnf("cannot read discovery config of %s, using defaults: %v", repo.ID, err)
		return cfg
	}
	if ok {
		cfg = DiscoveryConfig{Enabled: o.Enabled, Interval: o.Interval}
	}
	return cfg
}

// SetRemoteDiscoveryConfig persists a discovery config override for a
// proxy. Switching discovery on or off forces an update.
func (m *Manager) SetRemoteDiscoveryConfig(repo *repository.Repository, cfg DiscoveryConfig) error {
	if !repo.IsProxy() {
		return errors.Newf(errors.CodeInvalidInput, "repository %s is not a proxy", repo.ID)
	}
	if cfg.Interval <= 0 {
		return errors.Newf(errors.CodeInvalidInput, "discovery interval of %s must be positive", repo.ID)
	}
	prev := m.configuredDiscovery(repo)
	if err := repo.Store.Records().PutRecord(overrideKey(repo.ID), discoveryOverride{Enabled: cfg.Enabled, Interval: cfg.Interval}); err != nil {
		return err
	}
	log.Infof("discovery config of %s set to enabled=%t interval=%s", repo.ID, cfg.Enabled, cfg.Interval)
	if prev.Enabled != cfg.Enabled {
		m.ForceUpdateWhitelist(repo)
	}
	return nil
}
