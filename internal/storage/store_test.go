package storage

import (
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	attrs, err := NewMemAttributeStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = attrs.Close() })
	return NewStore("releases", afero.NewMemMapFs(), attrs)
}

func TestWriteReadAndDigests(t *testing.T) {
	s := newTestStore(t)

	it, err := s.Write("org/example/lib/1.0/lib-1.0.jar", []byte("hello world"), Attributes{AttrRemoteURL: "http://x"})
	require.NoError(t, err)
	require.Equal(t, "/org/example/lib/1.0/lib-1.0.jar", it.Path)
	require.Equal(t, int64(11), it.Size)
	require.False(t, it.Collection)

	b, err := s.Read("/org/example/lib/1.0/lib-1.0.jar")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(b))

	attrs, err := s.Attributes(it.Path)
	require.NoError(t, err)
	require.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", attrs.Get(AttrDigestSHA1))
	require.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", attrs.Get(AttrDigestMD5))
	require.Equal(t, "http://x", attrs.Get(AttrRemoteURL))
	require.NotZero(t, attrs.Int64(AttrStoredAt))
}

func TestRewriteResetsAttributes(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write("/a.jar", []byte("one"), nil)
	require.NoError(t, err)

	attrs, err := s.Attributes("/a.jar")
	require.NoError(t, err)
	attrs["remote.sha1"] = "abc"
	require.NoError(t, s.PutAttributes("/a.jar", attrs))

	_, err = s.Write("/a.jar", []byte("two"), nil)
	require.NoError(t, err)
	attrs, err = s.Attributes("/a.jar")
	require.NoError(t, err)
	require.Empty(t, attrs.Get("remote.sha1"))
}

func TestMissingItems(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Exists("/nope")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Read("/nope")
	require.True(t, IsNotFound(err))
	_, err = s.Stat("/nope")
	require.True(t, IsNotFound(err))
	require.True(t, IsNotFound(s.Delete("/nope")))

	attrs, err := s.Attributes("/nope")
	require.NoError(t, err)
	require.Empty(t, attrs)
}

func TestListAndDeleteTree(t *testing.T) {
	s := newTestStore(t)
	for _, p := range []string{"/org/b/x.jar", "/org/a/y.jar", "/com/z.jar"} {
		_, err := s.Write(p, []byte(p), nil)
		require.NoError(t, err)
	}

	items, err := s.List("/org")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "/org/a", items[0].Path)
	require.True(t, items[0].Collection)

	require.NoError(t, s.Delete("/org"))
	ok, err := s.Exists("/org/a/y.jar")
	require.NoError(t, err)
	require.False(t, ok)

	n, err := s.Records().Count("releases")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReadOnlyStore(t *testing.T) {
	s := newTestStore(t)
	s.SetReadOnly(true)
	_, err := s.Write("/a", []byte("x"), nil)
	require.True(t, IsUnsupported(err))
	require.True(t, IsUnsupported(s.Delete("/a")))
}

func TestRecords(t *testing.T) {
	s := newTestStore(t)
	type rec struct{ Enabled bool }

	var got rec
	ok, err := s.Records().GetRecord("cfg", &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Records().PutRecord("cfg", rec{Enabled: true}))
	ok, err = s.Records().GetRecord("cfg", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Enabled)
}

func TestItemLockIsReleased(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := s.Lock("/a")
			l.RLock()
			l.RUnlock()
			l.Lock()
			counter++
			l.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 20, counter)
	require.Zero(t, s.locks.size())
}
