package checksum

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"artiproxy/internal/events"
	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
	"artiproxy/internal/transport"
)

const (
	jarPath    = "/org/example/lib/1.0/lib-1.0.jar"
	jarContent = "hello world"
	jarSHA1    = "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"
	jarMD5     = "5eb63bbbe01eeed093cb22bb8f5acdc3"
)

type origin struct {
	mu    sync.Mutex
	files map[string]string
	hits  map[string]int
	srv   *httptest.Server
}

func newOrigin(t *testing.T, files map[string]string) *origin {
	t.Helper()
	o := &origin{files: files, hits: map[string]int{}}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		body, ok := o.files[r.URL.Path]
		o.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.hits {
		n += c
	}
	return n
}

type fixture struct {
	repo      *repository.Repository
	origin    *origin
	validator *Validator
	item      storage.Item
}

func newFixture(t *testing.T, policy repository.ChecksumPolicy, files map[string]string) *fixture {
	t.Helper()
	attrs, err := storage.NewMemAttributeStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = attrs.Close() })
	st := storage.NewStore("central-proxy", afero.NewMemMapFs(), attrs)

	o := newOrigin(t, files)
	repo := &repository.Repository{
		ID:             "central-proxy",
		Kind:           repository.Proxy,
		Format:         repository.FormatMaven2,
		RemoteURL:      o.srv.URL,
		ChecksumPolicy: policy,
		Store:          st,
	}
	item, err := st.Write(jarPath, []byte(jarContent), nil)
	require.NoError(t, err)
	return &fixture{
		repo:      repo,
		origin:    o,
		validator: NewValidator(transport.NewClientWith(o.srv.Client(), transport.Options{})),
		item:      item,
	}
}

func (f *fixture) validate(t *testing.T, req *repository.Request) (bool, []events.Event) {
	t.Helper()
	var evs []events.Event
	ok, err := f.validator.IsRemoteItemContentValid(context.Background(), f.repo, req, f.repo.RemoteURL, f.item, &evs)
	require.NoError(t, err)
	return ok, evs
}

func (f *fixture) itemExists(t *testing.T) bool {
	t.Helper()
	ok, err := f.repo.Store.Exists(jarPath)
	require.NoError(t, err)
	return ok
}

func TestStrictWithoutRemoteHashRejectsAndDeletes(t *testing.T) {
	f := newFixture(t, repository.ChecksumStrict, map[string]string{})
	ok, evs := f.validate(t, repository.NewRequest(jarPath))
	require.False(t, ok)
	require.False(t, f.itemExists(t))
	require.Len(t, evs, 1)
	ev := evs[0].(events.ChecksumValidationFailed)
	require.Equal(t, "The artifact "+jarPath+" has no remote checksum in repository central-proxy! The checksumPolicy of repository forbids downloading of it.", ev.Message)
}

func TestCanceledChecksumFetchKeepsContent(t *testing.T) {
	f := newFixture(t, repository.ChecksumStrict, map[string]string{jarPath + SuffixSHA1: jarSHA1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var evs []events.Event
	ok, err := f.validator.IsRemoteItemContentValid(ctx, f.repo, nil, f.repo.RemoteURL, f.item, &evs)
	require.Error(t, err)
	require.True(t, transport.IsCanceled(err))
	require.False(t, ok)
	require.Empty(t, evs)
	require.True(t, f.itemExists(t))

	// the absence of a remote hash must not be remembered
	attrs, err := f.repo.Store.Attributes(jarPath)
	require.NoError(t, err)
	require.False(t, attrs.Bool(AttrNoRemoteSHA1))

	ok, evs = f.validate(t, nil)
	require.True(t, ok)
	require.Empty(t, evs)
}

func TestWarnWithMismatchAccepts(t *testing.T) {
	f := newFixture(t, repository.ChecksumWarn, map[string]string{jarPath + ".sha1": strings.Repeat("0", 40)})
	ok, evs := f.validate(t, repository.NewRequest(jarPath))
	require.True(t, ok)
	require.True(t, f.itemExists(t))
	require.Len(t, evs, 1)
	require.Contains(t, evs[0].(events.ChecksumValidationFailed).Message, "remote checksums does not match")
}

func TestStrictWithMatchingSHA1AcceptsSilently(t *testing.T) {
	f := newFixture(t, repository.ChecksumStrict, map[string]string{jarPath + ".sha1": jarSHA1 + "  lib-1.0.jar\n"})
	ok, evs := f.validate(t, repository.NewRequest(jarPath))
	require.True(t, ok)
	require.Empty(t, evs)
	require.True(t, f.itemExists(t))

	attrs, err := f.repo.Store.Attributes(jarPath)
	require.NoError(t, err)
	require.Equal(t, jarSHA1, attrs.Get(AttrRemoteSHA1))
}

func TestStrictIfExists(t *testing.T) {
	f := newFixture(t, repository.ChecksumStrictIfExists, map[string]string{})
	ok, evs := f.validate(t, repository.NewRequest(jarPath))
	require.True(t, ok)
	require.Len(t, evs, 1)
	require.True(t, strings.HasPrefix(evs[0].(events.ChecksumValidationFailed).Message, "Warning, the artifact"))

	f = newFixture(t, repository.ChecksumStrictIfExists, map[string]string{jarPath + ".md5": "ffff"})
	ok, evs = f.validate(t, repository.NewRequest(jarPath))
	require.False(t, ok)
	require.Len(t, evs, 1)
	require.False(t, f.itemExists(t))
}

func TestFallsBackToMD5(t *testing.T) {
	f := newFixture(t, repository.ChecksumStrict, map[string]string{jarPath + ".md5": jarMD5})
	ok, evs := f.validate(t, repository.NewRequest(jarPath))
	require.True(t, ok)
	require.Empty(t, evs)

	attrs, err := f.repo.Store.Attributes(jarPath)
	require.NoError(t, err)
	require.True(t, attrs.Bool(AttrNoRemoteSHA1))
	require.Equal(t, jarMD5, attrs.Get(AttrRemoteMD5))
}

func TestComparisonIsCaseSensitive(t *testing.T) {
	f := newFixture(t, repository.ChecksumStrict, map[string]string{jarPath + ".sha1": strings.ToUpper(jarSHA1)})
	ok, _ := f.validate(t, repository.NewRequest(jarPath))
	require.False(t, ok)
}

func TestMissingRemoteHashIsCachedUntilAsExpired(t *testing.T) {
	f := newFixture(t, repository.ChecksumWarn, map[string]string{})

	ok, _ := f.validate(t, repository.NewRequest(jarPath))
	require.True(t, ok)
	require.Equal(t, 2, f.origin.total())

	ok, _ = f.validate(t, repository.NewRequest(jarPath))
	require.True(t, ok)
	require.Equal(t, 2, f.origin.total())

	req := repository.NewRequest(jarPath)
	req.AsExpired = true
	ok, _ = f.validate(t, req)
	require.True(t, ok)
	require.Equal(t, 4, f.origin.total())
}

func TestCachedRemoteHashIsNotRefetched(t *testing.T) {
	f := newFixture(t, repository.ChecksumStrict, map[string]string{jarPath + ".sha1": jarSHA1})
	f.validate(t, repository.NewRequest(jarPath))
	f.validate(t, repository.NewRequest(jarPath))
	require.Equal(t, 1, f.origin.total())
}

func TestItemsWithoutPolicyAreAccepted(t *testing.T) {
	f := newFixture(t, repository.ChecksumIgnore, map[string]string{})
	ok, evs := f.validate(t, repository.NewRequest(jarPath))
	require.True(t, ok)
	require.Empty(t, evs)
	require.Zero(t, f.origin.total())

	f = newFixture(t, repository.ChecksumStrict, map[string]string{})
	f.repo.Kind = repository.Hosted
	ok, _ = f.validate(t, repository.NewRequest(jarPath))
	require.True(t, ok)

	f = newFixture(t, repository.ChecksumStrict, map[string]string{})
	f.item.Path = jarPath + ".sha1"
	ok, _ = f.validate(t, repository.NewRequest(f.item.Path))
	require.True(t, ok)
	require.Zero(t, f.origin.total())
}

func TestHashItemFor(t *testing.T) {
	f := newFixture(t, repository.ChecksumStrict, map[string]string{jarPath + ".sha1": jarSHA1})
	_, ok, err := HashItemFor(f.repo, jarPath+".sha1")
	require.NoError(t, err)
	require.False(t, ok)

	f.validate(t, repository.NewRequest(jarPath))
	hi, ok, err := HashItemFor(f.repo, jarPath+".sha1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, jarSHA1, string(hi.Content))
	require.Equal(t, jarPath+".sha1", hi.Path)

	_, ok, err = HashItemFor(f.repo, jarPath+".md5")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadDigest(t *testing.T) {
	require.Equal(t, "abc", readDigest([]byte("abc\n")))
	require.Equal(t, "abc", readDigest([]byte("abc  lib.jar")))
	require.Equal(t, "abc", readDigest([]byte("MD5 (lib.jar) = abc")))
	require.Equal(t, "", readDigest([]byte("  ")))
}
