package prefix

import (
	"bytes"
	"time"

	"github.com/jmgilman/go/errors"

	"artiproxy/internal/storage"
)

// Source is anything a prefix set can be read from.
type Source interface {
	Exists() (bool, error)
	ReadEntries() ([]string, error)
}

// ArraySource is an in-memory source, typically a discovery result.
type ArraySource struct {
	entries []string
}

func NewArraySource(entries []string) *ArraySource {
	return &ArraySource{entries: NewSet(entries...).Entries()}
}

func (a *ArraySource) Exists() (bool, error) { return true, nil }

func (a *ArraySource) ReadEntries() ([]string, error) {
	return append([]string(nil), a.entries...), nil
}

// MergingSource is the union of its members. It exists only when every
// member exists.
type MergingSource struct {
	members []Source
}

func NewMergingSource(members ...Source) *MergingSource {
	return &MergingSource{members: members}
}

func (m *MergingSource) Exists() (bool, error) {
	for _, s := range m.members {
		ok, err := s.Exists()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m *MergingSource) ReadEntries() ([]string, error) {
	var all []string
	for _, s := range m.members {
		entries, err := s.ReadEntries()
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return NewSet(all...).Entries(), nil
}

// FileSource is a prefix file inside a repository store. Reads happen under
// the item's read lock and writes under its update lock.
type FileSource struct {
	store  *storage.Store
	path   string
	limits Limits
}

func NewFileSource(store *storage.Store, path string, lim Limits) *FileSource {
	return &FileSource{store: store, path: storage.Clean(path), limits: lim}
}

func (f *FileSource) FilePath() string { return f.path }

func (f *FileSource) RepositoryID() string { return f.store.RepositoryID() }

// Lock returns a fresh lock handle on the prefix file item.
func (f *FileSource) Lock() *storage.ItemLock { return f.store.Lock(f.path) }

func (f *FileSource) Exists() (bool, error) {
	l := f.Lock()
	l.RLock()
	defer l.RUnlock()
	return f.store.Exists(f.path)
}

// Stat returns the file item; NOT_FOUND when it is absent.
func (f *FileSource) Stat() (storage.Item, error) {
	l := f.Lock()
	l.RLock()
	defer l.RUnlock()
	return f.store.Stat(f.path)
}

// Modified returns the last modification time, zero when the file is absent.
func (f *FileSource) Modified() time.Time {
	it, err := f.Stat()
	if err != nil {
		return time.Time{}
	}
	return it.Modified
}

func (f *FileSource) ReadEntries() ([]string, error) {
	l := f.Lock()
	l.RLock()
	defer l.RUnlock()
	return f.readEntries()
}

// WriteEntries replaces the file with the entries of src. The write is
// skipped when the encoded content equals what is already stored.
func (f *FileSource) WriteEntries(src Source) error {
	entries, err := src.ReadEntries()
	if err != nil {
		return err
	}
	l := f.Lock()
	l.Lock()
	defer l.Unlock()
	_, err = f.writeEntries(entries)
	return err
}

// Delete removes the file; a missing file is not an error.
func (f *FileSource) Delete() error {
	l := f.Lock()
	l.Lock()
	defer l.Unlock()
	err := f.store.Delete(f.path)
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	return nil
}

func (f *FileSource) readEntries() ([]string, error) {
	b, err := f.store.Read(f.path)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(b, f.limits)
	if err != nil {
		return nil, errors.WithContext(err, "file", f.store.RepositoryID()+f.path)
	}
	return entries, nil
}

// writeEntries must be called with the update lock held.
func (f *FileSource) writeEntries(entries []string) (bool, error) {
	content, err := Format(sortedUnique(entries), f.limits)
	if err != nil {
		return false, err
	}
	cur, err := f.store.Read(f.path)
	switch {
	case err == nil && bytes.Equal(cur, content):
		return false, nil
	case err != nil && !storage.IsNotFound(err):
		return false, err
	}
	if _, err := f.store.Write(f.path, content, nil); err != nil {
		return false, err
	}
	return true, nil
}
