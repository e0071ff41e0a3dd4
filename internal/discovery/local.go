package discovery

import (
	"context"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
)

var log = logging.Logger("discovery")

const LocalStrategyID = "local"

// LocalDiscoverer derives a prefix set from what a hosted repository stores.
type LocalDiscoverer struct {
	depth int
}

func NewLocalDiscoverer(depth int) *LocalDiscoverer {
	if depth <= 0 {
		depth = 2
	}
	return &LocalDiscoverer{depth: depth}
}

// DiscoverLocalContent walks the store down to the configured depth. Every
// directory at that depth holding a file, and every file above it, becomes an
// entry. Hidden items are skipped.
func (d *LocalDiscoverer) DiscoverLocalContent(ctx context.Context, repo *repository.Repository) *Result {
	res := NewResult(repo.ID)
	var entries []string
	if err := d.walk(ctx, repo.Store, "/", 1, &entries); err != nil {
		log.Warnf("local discovery of %s failed: %v", repo.ID, err)
		res.RecordError(LocalStrategyID, err)
		return res
	}
	log.Debugf("local discovery of %s found %d entries", repo.ID, len(entries))
	res.RecordSuccess(LocalStrategyID, fmt.Sprintf("Local content discovered (%d entries).", len(entries)),
		prefix.NewArraySource(entries))
	return res
}

func (d *LocalDiscoverer) walk(ctx context.Context, st *storage.Store, dir string, level int, out *[]string) error {
	items, err := st.List(dir)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return err
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := it.Path[strings.LastIndex(it.Path, "/")+1:]
		if strings.HasPrefix(name, ".") {
			continue
		}
		switch {
		case !it.Collection:
			*out = append(*out, it.Path)
		case level >= d.depth:
			ok, err := HoldsFile(st, it.Path)
			if err != nil {
				return err
			}
			if ok {
				*out = append(*out, it.Path)
			}
		default:
			if err := d.walk(ctx, st, it.Path, level+1, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// HoldsFile reports whether p is a file or a directory with a file somewhere
// below it. Directory trees without files do not count.
func HoldsFile(st *storage.Store, p string) (bool, error) {
	it, err := st.Stat(p)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if !it.Collection {
		return true, nil
	}
	children, err := st.List(p)
	if err != nil {
		return false, err
	}
	for _, c := range children {
		ok, err := HoldsFile(st, c.Path)
		if ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}
