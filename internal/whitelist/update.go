package whitelist

import (
	"context"
	stderrors "errors"

	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
)

// InitializeWhitelist trusts an existing prefix file and republishes it.
// Without one the repository is unpublished and an update is spawned.
func (m *Manager) InitializeWhitelist(repo *repository.Repository) {
	src := m.PrefixSourceFor(repo)
	exists, err := src.Exists()
	switch {
	case err != nil:
	case exists:
		if err = m.Publish(repo, src); err == nil {
			log.Infof("existing whitelist of %s initialized", repo.ID)
		}
	default:
		if err = m.Unpublish(repo); err == nil {
			m.UpdateWhitelist(repo)
			log.Infof("whitelist of %s not found, update spawned", repo.ID)
		}
	}
	if err != nil {
		log.Warnf("problem while initializing whitelist of %s, unpublishing it: %v", repo.ID, err)
		if uerr := m.Unpublish(repo); uerr != nil {
			log.Debugf("unpublish of %s failed: %v", repo.ID, uerr)
		}
	}
}

// UpdateWhitelist spawns an update unless one is already running for the
// repository, and reports whether it did.
func (m *Manager) UpdateWhitelist(repo *repository.Repository) bool {
	return m.exec.MayExecute(repo.ID, m.updateJob(repo))
}

// ForceUpdateWhitelist cancels a running update of the repository, if any,
// and spawns a new one.
func (m *Manager) ForceUpdateWhitelist(repo *repository.Repository) {
	if m.exec.MustExecute(repo.ID, m.updateJob(repo)) {
		log.Infof("running whitelist update of %s canceled by a forced update", repo.ID)
	}
}

// Republish recomputes the whitelist in the calling goroutine. A failed
// update unpublishes the whitelist and, for proxies, records an ERROR status.
func (m *Manager) Republish(ctx context.Context, repo *repository.Repository) error {
	err := m.updateAndPublish(ctx, repo)
	if err == nil || stderrors.Is(err, context.Canceled) {
		return err
	}
	log.Warnf("whitelist update of %s failed: %v", repo.ID, err)
	if repo.IsProxy() {
		st := DiscoveryStatus{
			Status:        DiscoveryError,
			StrategyID:    "none",
			Message:       err.Error(),
			LastDiscovery: m.now(),
		}
		if serr := m.status.writeStatus(repo, st); serr != nil {
			log.Warnf("cannot persist discovery status of %s: %v", repo.ID, serr)
		}
	}
	if uerr := m.Unpublish(repo); uerr != nil {
		log.Warnf("unpublish of %s after failed update failed: %v", repo.ID, uerr)
	}
	return err
}

func (m *Manager) updateJob(repo *repository.Repository) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return m.Republish(ctx, repo)
	}
}

func (m *Manager) updateAndPublish(ctx context.Context, repo *repository.Repository) error {
	if !repo.IsMaven2() {
		log.Infof("repository %s has unsupported format %s, whitelist not updated", repo.ID, repo.Format)
		return nil
	}

	var (
		src   prefix.Source
		leave bool
		err   error
	)
	switch {
	case repo.IsGroup():
		src, err = m.updateGroupWhitelist(repo)
	case repo.IsProxy():
		src, leave, err = m.updateProxyWhitelist(ctx, repo)
	case repo.IsHosted():
		src = m.updateHostedWhitelist(ctx, repo)
	default:
		log.Infof("repository %s of kind %s has no whitelist, not updated", repo.ID, repo.Kind)
		return nil
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if leave {
		return nil
	}
	if src != nil {
		return m.Publish(repo, src)
	}
	return m.Unpublish(repo)
}

// updateProxyWhitelist runs remote discovery and persists its status. leave
// is true when the published state must not be touched.
func (m *Manager) updateProxyWhitelist(ctx context.Context, repo *repository.Repository) (src prefix.Source, leave bool, err error) {
	if !repo.ProxyMode.ShouldProxy() {
		exists, err := m.PrefixSourceFor(repo).Exists()
		if err != nil {
			return nil, false, err
		}
		log.Debugf("proxy %s does not allow proxying (%s), whitelist update skipped", repo.ID, repo.ProxyMode)
		return nil, exists, nil
	}
	if !m.RemoteDiscoveryConfig(repo).Enabled {
		log.Debugf("remote discovery of %s disabled, whitelist update skipped", repo.ID)
		return nil, true, nil
	}

	res := m.remote.DiscoverRemoteContent(ctx, repo)
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}
	out := res.LastOutcome()
	st := DiscoveryStatus{
		StrategyID:    out.StrategyID,
		Message:       out.Message,
		LastDiscovery: m.now(),
	}
	switch {
	case out.Successful:
		st.Status = DiscoverySuccessful
		log.Infof("remote discovery of %s succeeded using %s: %s", repo.ID, out.StrategyID, out.Message)
	case out.Err != nil:
		st.Status = DiscoveryError
		log.Warnf("remote discovery of %s failed using %s: %s", repo.ID, out.StrategyID, out.Message)
	default:
		st.Status = DiscoveryUnsuccessful
		log.Infof("remote discovery of %s unsuccessful using %s: %s", repo.ID, out.StrategyID, out.Message)
	}
	if err := m.status.writeStatus(repo, st); err != nil {
		return nil, false, err
	}
	return res.Source(), false, nil
}

func (m *Manager) updateHostedWhitelist(ctx context.Context, repo *repository.Repository) prefix.Source {
	res := m.local.DiscoverLocalContent(ctx, repo)
	out := res.LastOutcome()
	if !out.Successful {
		log.Warnf("local discovery of %s unsuccessful: %s", repo.ID, out.Message)
		return nil
	}
	log.Debugf("local discovery of %s: %s", repo.ID, out.Message)
	return res.Source()
}

// updateGroupWhitelist merges the published whitelists of the members. A
// single member without one leaves the group without a source.
func (m *Manager) updateGroupWhitelist(group *repository.Repository) (prefix.Source, error) {
	members := m.registry.Members(group)
	srcs := make([]prefix.Source, 0, len(members))
	for _, member := range members {
		if !member.IsMaven2() {
			continue
		}
		src := m.PrefixSourceFor(member)
		ok, err := src.Exists()
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debugf("group %s member %s has no whitelist, group not published", group.ID, member.ID)
			return nil, nil
		}
		srcs = append(srcs, src)
	}
	return prefix.NewMergingSource(srcs...), nil
}

// discoveryStatus derives the discovery state from configuration and the
// persisted record of the last run.
func (m *Manager) discoveryStatus(repo *repository.Repository) (DiscoveryStatus, error) {
	if !repo.IsProxy() {
		return DiscoveryStatus{Status: DiscoveryNotAProxy}, nil
	}
	if !m.RemoteDiscoveryConfig(repo).Enabled {
		return DiscoveryStatus{Status: DiscoveryDisabled}, nil
	}
	st, ok, err := m.status.readStatus(repo)
	if err != nil {
		return DiscoveryStatus{}, err
	}
	if !ok {
		return DiscoveryStatus{Status: DiscoveryEnabled}, nil
	}
	return st, nil
}
