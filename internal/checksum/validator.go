// Package checksum validates content fetched from an origin against the
// origin's own .sha1/.md5 files.
package checksum

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"artiproxy/internal/events"
	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
	"artiproxy/internal/transport"
)

var log = logging.Logger("checksum")

// Item attributes caching remote hashes and their absence.
const (
	AttrRemoteSHA1   = "remote.sha1"
	AttrNoRemoteSHA1 = "remote.no-sha1"
	AttrRemoteMD5    = "remote.md5"
	AttrNoRemoteMD5  = "remote.no-md5"
)

const (
	SuffixSHA1 = ".sha1"
	SuffixMD5  = ".md5"
)

type hashKind struct {
	suffix    string
	inspector string
	attr      string
	noAttr    string
}

var (
	sha1Kind = hashKind{SuffixSHA1, storage.AttrDigestSHA1, AttrRemoteSHA1, AttrNoRemoteSHA1}
	md5Kind  = hashKind{SuffixMD5, storage.AttrDigestMD5, AttrRemoteMD5, AttrNoRemoteMD5}
)

// HashItem is a synthetic checksum file built from a cached remote hash.
type HashItem struct {
	Path     string
	Content  []byte
	Modified time.Time
}

// RemoteHashResponse is a verified remote hash. InspectorKey names the local
// digest attribute it is compared with.
type RemoteHashResponse struct {
	InspectorKey string
	RemoteHash   string
	HashItem     *HashItem
}

type Validator struct {
	fetcher transport.Fetcher
}

func NewValidator(f transport.Fetcher) *Validator {
	return &Validator{fetcher: f}
}

// IsRemoteItemContentValid checks the freshly stored item against the remote
// hash under the repository's checksum policy. Every non-silent outcome
// appends a ChecksumValidationFailed event to evs. Rejected content is
// removed from local storage. Local storage failures and a canceled ctx are
// returned as errors, leaving the stored item untouched.
func (v *Validator) IsRemoteItemContentValid(ctx context.Context, repo *repository.Repository, req *repository.Request,
	baseURL string, item storage.Item, evs *[]events.Event) (bool, error) {
	policy := checksumPolicy(repo, item)
	if policy == "" {
		return true, nil
	}

	remote, err := v.retrieveRemoteHash(ctx, repo, req, baseURL, item)
	if err != nil {
		return false, err
	}

	var (
		msg   string
		valid bool
	)
	switch {
	case remote == nil && policy == repository.ChecksumStrict:
		msg = fmt.Sprintf("The artifact %s has no remote checksum in repository %s! The checksumPolicy of repository forbids downloading of it.",
			item.Path, repo.ID)
	case remote == nil:
		msg = fmt.Sprintf("Warning, the artifact %s has no remote checksum in repository %s!", item.Path, repo.ID)
		valid = true
	default:
		local, err := localHash(repo, item, remote.InspectorKey)
		if err != nil {
			return false, err
		}
		if remote.RemoteHash == local {
			return true, nil
		}
		if policy == repository.ChecksumWarn {
			msg = fmt.Sprintf("Warning, the artifact %s and it's remote checksums does not match in repository %s!", item.Path, repo.ID)
			valid = true
		} else {
			msg = fmt.Sprintf("The artifact %s and it's remote checksums does not match in repository %s! The checksumPolicy of repository forbids downloading of it.",
				item.Path, repo.ID)
		}
	}

	if !valid {
		log.Debugf("validation failed due: %s", msg)
	}
	if evs != nil {
		*evs = append(*evs, events.ChecksumValidationFailed{RepoID: repo.ID, Path: item.Path, Message: msg})
	}
	if !valid {
		cleanup(repo, item)
	}
	return valid, nil
}

// checksumPolicy returns "" when the item is not subject to validation.
func checksumPolicy(repo *repository.Repository, item storage.Item) repository.ChecksumPolicy {
	if repository.IsChecksumPath(item.Path) {
		return ""
	}
	if !repo.IsProxy() || item.Collection {
		return ""
	}
	switch repo.ChecksumPolicy {
	case repository.ChecksumWarn, repository.ChecksumStrictIfExists, repository.ChecksumStrict:
		return repo.ChecksumPolicy
	}
	return ""
}

func localHash(repo *repository.Repository, item storage.Item, inspector string) (string, error) {
	l := repo.Store.Lock(item.Path)
	l.RLock()
	defer l.RUnlock()
	attrs, err := repo.Store.Attributes(item.Path)
	if err != nil {
		return "", err
	}
	return attrs.Get(inspector), nil
}

// retrieveRemoteHash prefers SHA-1 and falls back to MD5. A nil response
// means neither is available.
func (v *Validator) retrieveRemoteHash(ctx context.Context, repo *repository.Repository, req *repository.Request,
	baseURL string, item storage.Item) (*RemoteHashResponse, error) {
	resp, err := v.retrieveChecksum(ctx, repo, req, baseURL, item, sha1Kind)
	if err != nil || resp != nil {
		return resp, err
	}
	resp, err = v.retrieveChecksum(ctx, repo, req, baseURL, item, md5Kind)
	if err == nil && resp == nil {
		log.Debugf("item checksums (SHA1, MD5) remotely unavailable %s:%s", repo.ID, item.Path)
	}
	return resp, err
}

func (v *Validator) retrieveChecksum(ctx context.Context, repo *repository.Repository, req *repository.Request,
	baseURL string, item storage.Item, kind hashKind) (*RemoteHashResponse, error) {
	st := repo.Store
	asExpired := req != nil && req.AsExpired

	l := st.Lock(item.Path)
	l.RLock()
	attrs, err := st.Attributes(item.Path)
	l.RUnlock()
	if err != nil {
		return nil, err
	}
	if attrs.Bool(kind.noAttr) && !asExpired {
		return nil, nil
	}

	hash := attrs.Get(kind.attr)
	if hash == "" || asExpired {
		hash = ""
		resp, err := v.fetcher.Fetch(ctx, baseURL, item.Path+kind.suffix)
		switch {
		case err == nil:
			hash = readDigest(resp.Body)
		case transport.IsCanceled(err):
			return nil, err
		case !transport.IsNotFound(err):
			log.Debugf("remote %s of %s:%s unavailable: %v", kind.suffix, repo.ID, item.Path, err)
		}

		l.Lock()
		err = storeRemoteHash(st, item.Path, kind, hash)
		l.Unlock()
		if err != nil {
			return nil, err
		}
	}
	if hash == "" {
		return nil, nil
	}
	return &RemoteHashResponse{
		InspectorKey: kind.inspector,
		RemoteHash:   hash,
		HashItem:     newHashItem(item, kind, hash),
	}, nil
}

// storeRemoteHash re-reads the attributes under the update lock so concurrent
// attribute writes are not lost.
func storeRemoteHash(st *storage.Store, path string, kind hashKind, hash string) error {
	attrs, err := st.Attributes(path)
	if err != nil {
		return err
	}
	if hash != "" {
		attrs[kind.attr] = hash
		delete(attrs, kind.noAttr)
	} else {
		attrs[kind.noAttr] = strconv.FormatBool(true)
		delete(attrs, kind.attr)
	}
	return st.PutAttributes(path, attrs)
}

func newHashItem(item storage.Item, kind hashKind, hash string) *HashItem {
	return &HashItem{Path: item.Path + kind.suffix, Content: []byte(hash), Modified: item.Modified}
}

// readDigest extracts the hex digest from checksum file content. Both the
// bare "<hash>  <file>" and the BSD "MD5 (file) = <hash>" layouts occur in
// the wild. Case is kept as published.
func readDigest(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndex(s, "= "); i >= 0 && strings.Contains(s, "(") {
		return strings.TrimSpace(s[i+2:])
	}
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// cleanup removes rejected content and any stored checksum sidecars.
// Missing items and read-only storage are ignored.
func cleanup(repo *repository.Repository, item storage.Item) {
	for _, p := range []string{item.Path + SuffixSHA1, item.Path + SuffixMD5, item.Path} {
		l := repo.Store.Lock(p)
		l.Lock()
		err := repo.Store.Delete(p)
		l.Unlock()
		if err != nil && !storage.IsNotFound(err) && !storage.IsUnsupported(err) {
			log.Warnf("cleanup of %s:%s failed: %v", repo.ID, p, err)
		}
	}
}

// HashItemFor answers a checksum sub-request (path ending in .sha1 or .md5)
// from the remote hash cached on the artifact, without contacting the origin.
func HashItemFor(repo *repository.Repository, path string) (*HashItem, bool, error) {
	var kind hashKind
	switch {
	case strings.HasSuffix(path, SuffixSHA1):
		kind = sha1Kind
	case strings.HasSuffix(path, SuffixMD5):
		kind = md5Kind
	default:
		return nil, false, nil
	}
	artifact := strings.TrimSuffix(path, kind.suffix)

	l := repo.Store.Lock(artifact)
	l.RLock()
	defer l.RUnlock()
	attrs, err := repo.Store.Attributes(artifact)
	if err != nil {
		return nil, false, err
	}
	hash := attrs.Get(kind.attr)
	if hash == "" {
		return nil, false, nil
	}
	it, err := repo.Store.Stat(artifact)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return newHashItem(it, kind, hash), true, nil
}
