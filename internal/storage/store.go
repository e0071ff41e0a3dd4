// Package storage is the local storage of repositories: item content lives in
// an afero filesystem (one base directory per repository) and item attributes
// in a shared leveldb attribute store.
package storage

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jmgilman/go/errors"
	"github.com/spf13/afero"
)

var log = logging.Logger("storage")

// Item describes a stored file or directory.
type Item struct {
	RepositoryID string
	Path         string
	Size         int64
	Modified     time.Time
	Collection   bool
}

// Store is the local storage namespace of one repository.
type Store struct {
	repoID   string
	fs       afero.Fs
	attrs    *AttributeStore
	locks    *lockTable
	readOnly bool
}

func NewStore(repoID string, fsys afero.Fs, attrs *AttributeStore) *Store {
	return &Store{
		repoID: repoID,
		fs:     fsys,
		attrs:  attrs,
		locks:  newLockTable(),
	}
}

// NewOsStore roots a store under dir/<repoID> on the local disk.
func NewOsStore(dir, repoID string, attrs *AttributeStore) (*Store, error) {
	base := path.Join(dir, repoID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "create storage directory %s", base)
	}
	return NewStore(repoID, afero.NewBasePathFs(afero.NewOsFs(), base), attrs), nil
}

// SetReadOnly makes every mutating call fail with NOT_IMPLEMENTED.
func (s *Store) SetReadOnly(v bool) { s.readOnly = v }

func (s *Store) RepositoryID() string { return s.repoID }

// Lock returns a lock handle for the item at p.
func (s *Store) Lock(p string) *ItemLock {
	return &ItemLock{table: s.locks, key: Clean(p)}
}

// Clean normalizes an item path to a rooted, slash separated form.
func Clean(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	return p
}

func (s *Store) Exists(p string) (bool, error) {
	ok, err := afero.Exists(s.fs, Clean(p))
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeInternal, "stat %s%s", s.repoID, p)
	}
	return ok, nil
}

func (s *Store) Stat(p string) (Item, error) {
	p = Clean(p)
	fi, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Item{}, notFound(s.repoID, p)
		}
		return Item{}, errors.Wrapf(err, errors.CodeInternal, "stat %s%s", s.repoID, p)
	}
	return s.item(p, fi), nil
}

func (s *Store) item(p string, fi os.FileInfo) Item {
	it := Item{
		RepositoryID: s.repoID,
		Path:         p,
		Modified:     fi.ModTime(),
		Collection:   fi.IsDir(),
	}
	if !fi.IsDir() {
		it.Size = fi.Size()
	}
	return it
}

func (s *Store) Read(p string) ([]byte, error) {
	p = Clean(p)
	b, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(s.repoID, p)
		}
		return nil, errors.Wrapf(err, errors.CodeInternal, "read %s%s", s.repoID, p)
	}
	return b, nil
}

// List returns the children of a directory sorted by name.
func (s *Store) List(p string) ([]Item, error) {
	p = Clean(p)
	infos, err := afero.ReadDir(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(s.repoID, p)
		}
		return nil, errors.Wrapf(err, errors.CodeInternal, "list %s%s", s.repoID, p)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	out := make([]Item, 0, len(infos))
	for _, fi := range infos {
		out = append(out, s.item(path.Join(p, fi.Name()), fi))
	}
	return out, nil
}

// Write replaces the item content atomically (temp file + rename) and resets
// its attributes to freshly computed digests. Extra attributes are merged in.
func (s *Store) Write(p string, content []byte, extra Attributes) (Item, error) {
	if s.readOnly {
		return Item{}, errors.Newf(errors.CodeNotImplemented, "repository %s is read only", s.repoID)
	}
	p = Clean(p)
	if p == "/" {
		return Item{}, errors.New(errors.CodeInvalidInput, "cannot write repository root")
	}
	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return Item{}, errors.Wrapf(err, errors.CodeInternal, "create directory %s%s", s.repoID, dir)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".tmp-*")
	if err != nil {
		return Item{}, errors.Wrapf(err, errors.CodeInternal, "create temp file in %s%s", s.repoID, dir)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = s.fs.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(content); err != nil {
		return Item{}, errors.Wrapf(err, errors.CodeInternal, "write %s%s", s.repoID, p)
	}
	if err := tmp.Sync(); err != nil {
		return Item{}, errors.Wrapf(err, errors.CodeInternal, "sync %s%s", s.repoID, p)
	}
	if err := tmp.Close(); err != nil {
		return Item{}, errors.Wrapf(err, errors.CodeInternal, "close %s%s", s.repoID, p)
	}
	if err := s.fs.Rename(tmpPath, p); err != nil {
		return Item{}, errors.Wrapf(err, errors.CodeInternal, "rename into %s%s", s.repoID, p)
	}
	success = true

	attrs := Attributes{
		AttrDigestSHA1: digestSHA1(content),
		AttrDigestMD5:  digestMD5(content),
		AttrStoredAt:   strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	if err := s.attrs.Put(s.repoID, p, attrs); err != nil {
		return Item{}, err
	}
	log.Debugf("stored %s%s (%d bytes)", s.repoID, p, len(content))
	return s.Stat(p)
}

// Delete removes an item (recursively for directories) and its attributes.
func (s *Store) Delete(p string) error {
	if s.readOnly {
		return errors.Newf(errors.CodeNotImplemented, "repository %s is read only", s.repoID)
	}
	p = Clean(p)
	fi, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound(s.repoID, p)
		}
		return errors.Wrapf(err, errors.CodeInternal, "stat %s%s", s.repoID, p)
	}
	if fi.IsDir() {
		err = s.fs.RemoveAll(p)
	} else {
		err = s.fs.Remove(p)
	}
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "delete %s%s", s.repoID, p)
	}
	if fi.IsDir() {
		return s.attrs.DeleteTree(s.repoID, p)
	}
	return s.attrs.Delete(s.repoID, p)
}

// Attributes returns the stored attributes of an item, empty when none exist.
func (s *Store) Attributes(p string) (Attributes, error) {
	attrs, _, err := s.attrs.Get(s.repoID, Clean(p))
	return attrs, err
}

func (s *Store) PutAttributes(p string, attrs Attributes) error {
	return s.attrs.Put(s.repoID, Clean(p), attrs)
}

// Records exposes the attribute store for small repository-scoped records.
func (s *Store) Records() *AttributeStore { return s.attrs }

func digestSHA1(b []byte) string {
	h := sha1.Sum(b)
	return hex.EncodeToString(h[:])
}

func digestMD5(b []byte) string {
	h := md5.Sum(b)
	return hex.EncodeToString(h[:])
}
