package repository

import (
	"fmt"

	"artiproxy/internal/config"
	"artiproxy/internal/storage"
)

// StoreOpener returns the local storage namespace of a repository.
type StoreOpener func(repoID string) (*storage.Store, error)

// Registry resolves repositories by id, kind and group membership. It is
// immutable once built.
type Registry struct {
	byID     map[string]*Repository
	order    []*Repository
	groupsOf map[string][]*Repository
}

func NewRegistry(repos ...*Repository) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]*Repository, len(repos)),
		groupsOf: map[string][]*Repository{},
	}
	for _, repo := range repos {
		if _, dup := r.byID[repo.ID]; dup {
			return nil, fmt.Errorf("duplicate repository id %q", repo.ID)
		}
		r.byID[repo.ID] = repo
		r.order = append(r.order, repo)
	}
	for _, repo := range repos {
		if !repo.IsGroup() {
			continue
		}
		for _, m := range repo.Members {
			if _, ok := r.byID[m]; !ok {
				return nil, fmt.Errorf("group %q: unknown member %q", repo.ID, m)
			}
			r.groupsOf[m] = append(r.groupsOf[m], repo)
		}
	}
	return r, nil
}

// FromConfig builds the registry from compiled configuration, opening one
// store per repository.
func FromConfig(repos []config.Repository, open StoreOpener) (*Registry, error) {
	out := make([]*Repository, 0, len(repos))
	for _, rc := range repos {
		kind, ok := ParseKind(rc.Kind)
		if !ok {
			return nil, fmt.Errorf("repository %q: unknown kind %q", rc.ID, rc.Kind)
		}
		st, err := open(rc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &Repository{
			ID:                rc.ID,
			Name:              rc.Name,
			Kind:              kind,
			Format:            rc.Format,
			RemoteURL:         rc.RemoteURL,
			ProxyMode:         ProxyMode(rc.ProxyMode),
			ChecksumPolicy:    ChecksumPolicy(rc.ChecksumPolicy),
			Policy:            Policy(rc.RepositoryPolicy),
			ItemMaxAge:        rc.ItemMaxAgeDur,
			Members:           append([]string(nil), rc.Members...),
			DiscoveryEnabled:  rc.DiscoveryEnabled,
			DiscoveryInterval: rc.DiscoveryIntervalDur,
			Store:             st,
		})
	}
	return NewRegistry(out...)
}

func (r *Registry) Get(id string) (*Repository, bool) {
	repo, ok := r.byID[id]
	return repo, ok
}

// All returns the repositories in configuration order.
func (r *Registry) All() []*Repository {
	return append([]*Repository(nil), r.order...)
}

func (r *Registry) ByKind(k Kind) []*Repository {
	var out []*Repository
	for _, repo := range r.order {
		if repo.Kind == k {
			out = append(out, repo)
		}
	}
	return out
}

// Members returns the member repositories of a group in declared order.
func (r *Registry) Members(group *Repository) []*Repository {
	out := make([]*Repository, 0, len(group.Members))
	for _, id := range group.Members {
		if m, ok := r.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// GroupsOf returns the groups that list repoID as a direct member.
func (r *Registry) GroupsOf(repoID string) []*Repository {
	return append([]*Repository(nil), r.groupsOf[repoID]...)
}
