package whitelist

import (
	"bytes"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jmgilman/go/errors"

	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
)

// statusStore keeps the discovery status of a proxy as a small TOML item in
// the repository's own store.
type statusStore struct {
	path string
}

// readStatus returns the stored status; ok is false when none was written yet.
func (s statusStore) readStatus(repo *repository.Repository) (DiscoveryStatus, bool, error) {
	l := repo.Store.Lock(s.path)
	l.RLock()
	defer l.RUnlock()

	b, err := repo.Store.Read(s.path)
	if err != nil {
		if storage.IsNotFound(err) {
			return DiscoveryStatus{}, false, nil
		}
		return DiscoveryStatus{}, false, err
	}
	var st DiscoveryStatus
	if _, err := toml.Decode(string(b), &st); err != nil {
		return DiscoveryStatus{}, false, errors.Wrapf(err, errors.CodeInternal, "decode discovery status of %s", repo.ID)
	}
	return st, true, nil
}

func (s statusStore) writeStatus(repo *repository.Repository, st DiscoveryStatus) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "encode discovery status of %s", repo.ID)
	}

	l := repo.Store.Lock(s.path)
	l.Lock()
	defer l.Unlock()
	_, err := repo.Store.Write(s.path, buf.Bytes(), nil)
	return err
}

// discoveryOverride is a discovery config set at runtime, persisted in the
// attribute store so it outlives restarts.
type discoveryOverride struct {
	Enabled  bool
	Interval time.Duration
}

func overrideKey(repoID string) string {
	return "whitelist.discovery/" + repoID
}
