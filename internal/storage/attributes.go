package storage

import (
	"bytes"
	"encoding/gob"
	"strconv"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Attribute keys shared by storage and its users.
const (
	AttrDigestSHA1 = "digest.sha1"
	AttrDigestMD5  = "digest.md5"
	AttrStoredAt   = "storedAt"
	AttrCheckedAt  = "remoteCheckedAt"
	AttrRemoteURL  = "remoteUrl"
)

// Attributes is the per-item metadata map persisted next to item content.
type Attributes map[string]string

func (a Attributes) Get(key string) string { return a[key] }

func (a Attributes) Bool(key string) bool {
	v, err := strconv.ParseBool(a[key])
	return err == nil && v
}

func (a Attributes) Int64(key string) int64 {
	v, _ := strconv.ParseInt(a[key], 10, 64)
	return v
}

func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// AttributeStore keeps item attributes and small records in leveldb.
//
// Key layout:
//
//	a:<repo><path>  gob(Attributes)
//	r:<name>        gob(record)
type AttributeStore struct {
	db *leveldb.DB
}

func OpenAttributeStore(path string) (*AttributeStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "open attribute store %s", path)
	}
	return &AttributeStore{db: db}, nil
}

// NewMemAttributeStore returns a store backed by in-memory leveldb storage.
func NewMemAttributeStore() (*AttributeStore, error) {
	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "open in-memory attribute store")
	}
	return &AttributeStore{db: db}, nil
}

func (s *AttributeStore) Close() error {
	return s.db.Close()
}

func attrKey(repoID, path string) []byte {
	return []byte("a:" + repoID + path)
}

// Get returns the attributes of an item; ok is false when none are stored.
func (s *AttributeStore) Get(repoID, path string) (Attributes, bool, error) {
	b, err := s.db.Get(attrKey(repoID, path), nil)
	if err == leveldb.ErrNotFound {
		return Attributes{}, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, errors.CodeDatabase, "read attributes of %s%s", repoID, path)
	}
	attrs := Attributes{}
	if err := decodeGob(b, &attrs); err != nil {
		return nil, false, errors.Wrapf(err, errors.CodeDatabase, "decode attributes of %s%s", repoID, path)
	}
	return attrs, true, nil
}

func (s *AttributeStore) Put(repoID, path string, attrs Attributes) error {
	b, err := encodeGob(attrs)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode attributes")
	}
	if err := s.db.Put(attrKey(repoID, path), b, nil); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "write attributes of %s%s", repoID, path)
	}
	return nil
}

func (s *AttributeStore) Delete(repoID, path string) error {
	if err := s.db.Delete(attrKey(repoID, path), nil); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "delete attributes of %s%s", repoID, path)
	}
	return nil
}

// DeleteTree removes the attributes of every item at or below path.
func (s *AttributeStore) DeleteTree(repoID, path string) error {
	it := s.db.NewIterator(util.BytesPrefix(attrKey(repoID, strings.TrimRight(path, "/")+"/")), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	batch.Delete(attrKey(repoID, path))
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "iterate attributes of %s%s", repoID, path)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "delete attributes of %s%s", repoID, path)
	}
	return nil
}

// Count returns how many items of a repository carry attributes.
func (s *AttributeStore) Count(repoID string) (int, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte("a:"+repoID+"/")), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

// GetRecord decodes the named record into v; ok is false when it is absent.
func (s *AttributeStore) GetRecord(name string, v any) (bool, error) {
	b, err := s.db.Get([]byte("r:"+name), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeDatabase, "read record %s", name)
	}
	if err := decodeGob(b, v); err != nil {
		return false, errors.Wrapf(err, errors.CodeDatabase, "decode record %s", name)
	}
	return true, nil
}

func (s *AttributeStore) PutRecord(name string, v any) error {
	b, err := encodeGob(v)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode record")
	}
	if err := s.db.Put([]byte("r:"+name), b, nil); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "write record %s", name)
	}
	return nil
}

// ---- encoding ----

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
