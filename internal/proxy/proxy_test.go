package proxy

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"artiproxy/internal/discovery"
	"artiproxy/internal/events"
	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
	"artiproxy/internal/transport"
	"artiproxy/internal/whitelist"
)

func wlOptions() whitelist.Options {
	return whitelist.Options{
		FeatureActive:           true,
		LocalPrefixFilePath:     "/.meta/prefixes.txt",
		RemotePrefixFilePaths:   []string{"/.meta/prefixes.txt", "/.meta/prefixes.txt.gz"},
		NoScrapeFlagPath:        "/.meta/noscrape.txt",
		DiscoveryStatusFilePath: "/.meta/discovery.status.toml",
		LocalScrapeDepth:        2,
		Limits:                  prefix.Limits{MaxEntries: 1000, MaxBytes: 1 << 20},
		InitialDelay:            time.Hour,
		Workers:                 2,
		ShutdownTimeout:         5 * time.Second,
	}
}

// origin is a fake remote repository counting the requests per path.
type origin struct {
	srv *httptest.Server

	mu     sync.Mutex
	routes map[string]string
	hits   map[string]int
}

func newOrigin(t *testing.T, routes map[string]string) *origin {
	t.Helper()
	o := &origin{routes: routes, hits: map[string]int{}}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		body, ok := o.routes[r.URL.Path]
		o.mu.Unlock()
		switch {
		case !ok:
			http.NotFound(w, r)
		case body == "!500":
			http.Error(w, "down", http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) URL() string { return o.srv.URL + "/maven2" }

func (o *origin) Set(path, body string) {
	o.mu.Lock()
	o.routes["/maven2"+path] = body
	o.mu.Unlock()
}

func (o *origin) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits["/maven2"+path]
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newRepo(t *testing.T, id string, kind repository.Kind, members ...string) *repository.Repository {
	t.Helper()
	attrs, err := storage.NewMemAttributeStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = attrs.Close() })
	return &repository.Repository{
		ID:                id,
		Kind:              kind,
		Format:            repository.FormatMaven2,
		ProxyMode:         repository.ProxyAllow,
		ItemMaxAge:        time.Hour,
		Members:           members,
		DiscoveryEnabled:  true,
		DiscoveryInterval: time.Hour,
		Store:             storage.NewStore(id, afero.NewMemMapFs(), attrs),
	}
}

func newProxyRepo(t *testing.T, id, remoteURL string) *repository.Repository {
	t.Helper()
	repo := newRepo(t, id, repository.Proxy)
	repo.RemoteURL = remoteURL
	return repo
}

type harness struct {
	svc   *Service
	mgr   *whitelist.Manager
	rec   *events.Recorder
	repos map[string]*repository.Repository
}

func newHarness(t *testing.T, repos ...*repository.Repository) *harness {
	t.Helper()
	reg, err := repository.NewRegistry(repos...)
	require.NoError(t, err)

	client := transport.NewClientWith(&http.Client{Timeout: 5 * time.Second}, transport.Options{})
	opts := wlOptions()
	strategies, err := discovery.NewStrategies(
		[]string{discovery.PrefixFileStrategyID, discovery.ScrapeStrategyID},
		client,
		discovery.Options{RemotePrefixFilePaths: opts.RemotePrefixFilePaths, ScrapeDepth: 2, Limits: opts.Limits},
	)
	require.NoError(t, err)

	bus := events.NewBus()
	rec := &events.Recorder{}
	mgr := whitelist.NewManager(opts, reg, discovery.NewLocalDiscoverer(opts.LocalScrapeDepth), discovery.NewRemoteDiscoverer(strategies...), bus)
	bus.Subscribe(mgr.HandleEvent)
	bus.Subscribe(rec.Publish)

	svc := NewService(Options{NotFoundCacheTTL: time.Minute, NotFoundCacheSize: 100}, reg, mgr, client, bus)
	t.Cleanup(func() {
		svc.Close()
		mgr.Stop()
	})

	h := &harness{svc: svc, mgr: mgr, rec: rec, repos: map[string]*repository.Repository{}}
	for _, r := range repos {
		h.repos[r.ID] = r
	}
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.svc.Handler().ServeHTTP(w, r)
	return w
}

func (h *harness) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(t, http.MethodGet, target, "")
}

func (h *harness) publish(t *testing.T, id string, entries ...string) {
	t.Helper()
	require.NoError(t, h.mgr.Publish(h.repos[id], prefix.NewArraySource(entries)))
}

func TestHostedDeployRetrieveDelete(t *testing.T) {
	repo := newRepo(t, "releases", repository.Hosted)
	repo.Policy = repository.PolicyRelease
	h := newHarness(t, repo)

	const jar = "/repositories/releases/org/example/lib/1.0/lib-1.0.jar"
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPut, jar, "content").Code)

	w := h.get(t, jar)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "content", w.Body.String())
	require.Equal(t, outcomeHit, w.Header().Get(headerOutcome))
	require.Equal(t, "application/java-archive", w.Header().Get("Content-Type"))
	require.NotEmpty(t, w.Header().Get("Last-Modified"))

	snapshot := "/repositories/releases/org/example/lib/1.0-SNAPSHOT/lib-1.0-SNAPSHOT.jar"
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, snapshot, "x").Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, "/repositories/releases/.meta/prefixes.txt", "/x\n").Code)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, jar, "").Code)
	w = h.get(t, jar)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, outcomeNotFound, w.Header().Get(headerOutcome))

	require.Equal(t, 1, h.rec.Count(func(ev events.Event) bool {
		_, ok := ev.(events.ItemStored)
		return ok
	}))
	require.Equal(t, 1, h.rec.Count(func(ev events.Event) bool {
		_, ok := ev.(events.ItemDeleted)
		return ok
	}))
}

func TestOnlyHostedRepositoriesAcceptChanges(t *testing.T) {
	o := newOrigin(t, map[string]string{})
	h := newHarness(t, newProxyRepo(t, "central", o.URL()))

	w := h.do(t, http.MethodPut, "/repositories/central/org/x/1/x-1.jar", "x")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/unknown/org/x/1/x-1.jar").Code)
}

func TestDeployKeepsHostedWhitelistCurrent(t *testing.T) {
	repo := newRepo(t, "releases", repository.Hosted)
	_, err := repo.Store.Write("/org/example/lib/1.0/lib-1.0.jar", []byte("x"), nil)
	require.NoError(t, err)
	h := newHarness(t, repo)

	h.mgr.Start(context.Background())
	const prefixes = "/repositories/releases/.meta/prefixes.txt"
	require.Eventually(t, func() bool {
		return h.get(t, prefixes).Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	const jar = "/repositories/releases/com/acme/tool/1.0/tool-1.0.jar"
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPut, jar, "tool").Code)
	body := h.get(t, prefixes).Body.String()
	require.Contains(t, body, "/com/acme\n")
	require.Contains(t, body, "/org/example\n")

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, jar, "").Code)
	body = h.get(t, prefixes).Body.String()
	require.NotContains(t, body, "/com/acme")
	require.Contains(t, body, "/org/example\n")
}

func TestProxyFetchesOnceAndServesCachedHashes(t *testing.T) {
	const jar = "/org/example/lib/1.0/lib-1.0.jar"
	o := newOrigin(t, map[string]string{})
	o.Set(jar, "remote content")
	o.Set(jar+".sha1", sha1Hex("remote content")+"  lib-1.0.jar")

	repo := newProxyRepo(t, "central", o.URL())
	repo.ChecksumPolicy = repository.ChecksumStrict
	h := newHarness(t, repo)

	w := h.get(t, "/repositories/central"+jar)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "remote content", w.Body.String())
	require.Equal(t, outcomeRemote, w.Header().Get(headerOutcome))

	w = h.get(t, "/repositories/central"+jar)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, outcomeHit, w.Header().Get(headerOutcome))

	w = h.get(t, "/repositories/central"+jar+".sha1")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, sha1Hex("remote content"), strings.TrimSpace(w.Body.String()))
	require.Equal(t, outcomeHash, w.Header().Get(headerOutcome))

	require.Equal(t, 1, o.Hits(jar))
	require.Equal(t, 1, o.Hits(jar+".sha1"))

	attrs, err := repo.Store.Attributes(jar)
	require.NoError(t, err)
	require.Equal(t, transport.Join(o.URL(), jar), attrs.Get(storage.AttrRemoteURL))

	st := h.svc.Stats()
	require.EqualValues(t, 1, st.Remote)
	require.EqualValues(t, 2, st.Hits)
	require.EqualValues(t, 3, st.TotalResponses)
}

func TestProxyChecksumMismatchIsRejected(t *testing.T) {
	const jar = "/org/example/lib/1.0/lib-1.0.jar"
	o := newOrigin(t, map[string]string{})
	o.Set(jar, "tampered")
	o.Set(jar+".sha1", sha1Hex("original"))

	repo := newProxyRepo(t, "central", o.URL())
	repo.ChecksumPolicy = repository.ChecksumStrict
	h := newHarness(t, repo)

	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/central"+jar).Code)
	ok, err := repo.Store.Exists(jar)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, h.rec.Count(func(ev events.Event) bool {
		e, ok := ev.(events.ChecksumValidationFailed)
		return ok && e.Path == jar
	}))
}

func TestProxyNotFoundCache(t *testing.T) {
	const missing = "/org/example/missing/1.0/missing-1.0.jar"
	o := newOrigin(t, map[string]string{})
	h := newHarness(t, newProxyRepo(t, "central", o.URL()))

	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/central"+missing).Code)
	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/central"+missing).Code)
	require.Equal(t, 1, o.Hits(missing))
	require.Equal(t, 1, h.svc.nfc.Len())

	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/central"+missing+"?asExpired=true").Code)
	require.Equal(t, 2, o.Hits(missing))

	o.Set(missing, "now here")
	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/central"+missing).Code)
	w := h.get(t, "/repositories/central"+missing+"?asExpired=true")
	require.Equal(t, http.StatusOK, w.Code)
	require.Zero(t, h.svc.nfc.Len())
}

func TestProxyWhitelistRejection(t *testing.T) {
	const (
		allowed  = "/org/example/lib/1.0/lib-1.0.jar"
		rejected = "/com/other/lib/1.0/lib-1.0.jar"
	)
	o := newOrigin(t, map[string]string{})
	o.Set(allowed, "allowed")
	o.Set(rejected, "rejected")
	h := newHarness(t, newProxyRepo(t, "central", o.URL()))
	h.publish(t, "central", "/org/example")

	w := h.get(t, "/repositories/central"+rejected)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, outcomeRejected, w.Header().Get(headerOutcome))
	require.Equal(t, headerOutcome, w.Header().Get("Access-Control-Expose-Headers"))
	require.Zero(t, o.Hits(rejected))
	require.Zero(t, h.svc.nfc.Len())

	require.Equal(t, http.StatusOK, h.get(t, "/repositories/central"+allowed).Code)
	require.EqualValues(t, 1, h.svc.Stats().Rejected)
}

func TestProxyLocalOnly(t *testing.T) {
	const jar = "/org/example/lib/1.0/lib-1.0.jar"
	o := newOrigin(t, map[string]string{})
	o.Set(jar, "x")
	h := newHarness(t, newProxyRepo(t, "central", o.URL()))

	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/central"+jar+"?localOnly=true").Code)
	require.Zero(t, o.Hits(jar))
	require.Zero(t, h.svc.nfc.Len())
}

func TestProxyServesStaleContentWhenOriginFails(t *testing.T) {
	const jar = "/org/example/lib/1.0/lib-1.0.jar"
	o := newOrigin(t, map[string]string{})
	o.Set(jar, "v1")
	h := newHarness(t, newProxyRepo(t, "central", o.URL()))

	require.Equal(t, http.StatusOK, h.get(t, "/repositories/central"+jar).Code)

	later := time.Now().Add(2 * time.Hour)
	h.svc.now = func() time.Time { return later }
	o.Set(jar, "!500")

	w := h.get(t, "/repositories/central"+jar)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "v1", w.Body.String())
	require.Equal(t, outcomeStale, w.Header().Get(headerOutcome))
	require.Equal(t, 2, o.Hits(jar))

	o.Set(jar, "v2")
	w = h.get(t, "/repositories/central"+jar)
	require.Equal(t, "v2", w.Body.String())
	require.Equal(t, outcomeRemote, w.Header().Get(headerOutcome))
}

func TestHiddenPathsAreNeverProxied(t *testing.T) {
	o := newOrigin(t, map[string]string{})
	o.Set("/.meta/prefixes.txt", "## repository-prefixes/2.0\n/org/upstream\n")
	h := newHarness(t, newProxyRepo(t, "central", o.URL()))

	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/central/.meta/prefixes.txt").Code)
	require.Zero(t, o.Hits("/.meta/prefixes.txt"))

	h.publish(t, "central", "/org/example")
	w := h.get(t, "/repositories/central/.meta/prefixes.txt")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/org/example\n")
	require.NotContains(t, w.Body.String(), "/org/upstream")
}

func TestGroupServesFirstMemberHit(t *testing.T) {
	const (
		shared = "/org/example/a/1.0/a-1.0.jar"
		remote = "/org/example/b/1.0/b-1.0.jar"
	)
	o := newOrigin(t, map[string]string{})
	o.Set(shared, "from origin")
	o.Set(remote, "only remote")

	hosted := newRepo(t, "releases", repository.Hosted)
	_, err := hosted.Store.Write(shared, []byte("from hosted"), nil)
	require.NoError(t, err)
	h := newHarness(t, hosted, newProxyRepo(t, "central", o.URL()), newRepo(t, "public", repository.Group, "releases", "central"))

	w := h.get(t, "/repositories/public"+shared)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "from hosted", w.Body.String())
	require.Zero(t, o.Hits(shared))

	w = h.get(t, "/repositories/public"+remote)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "only remote", w.Body.String())

	w = h.get(t, "/repositories/public/org/example/c/1.0/c-1.0.jar")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, outcomeNotFound, w.Header().Get(headerOutcome))
}

func TestGroupReportsWhitelistRejection(t *testing.T) {
	const jar = "/com/other/lib/1.0/lib-1.0.jar"
	o := newOrigin(t, map[string]string{})
	o.Set(jar, "x")
	h := newHarness(t, newProxyRepo(t, "central", o.URL()), newRepo(t, "public", repository.Group, "central"))
	h.publish(t, "central", "/org/example")

	w := h.get(t, "/repositories/public"+jar)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, outcomeRejected, w.Header().Get(headerOutcome))
	require.Zero(t, o.Hits(jar))
}

func TestDirectoryIndex(t *testing.T) {
	repo := newRepo(t, "releases", repository.Hosted)
	for _, p := range []string{"/org/example/lib/1.0/lib-1.0.jar", "/.meta/prefixes.txt"} {
		_, err := repo.Store.Write(p, []byte("x"), nil)
		require.NoError(t, err)
	}
	h := newHarness(t, repo)

	w := h.get(t, "/repositories/releases/")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), `href="org/"`)
	require.NotContains(t, w.Body.String(), ".meta")
	require.NotContains(t, w.Body.String(), `href="../"`)

	w = h.get(t, "/repositories/releases/org/example/lib/1.0/")
	require.Contains(t, w.Body.String(), `href="lib-1.0.jar"`)
	require.Contains(t, w.Body.String(), `href="../"`)

	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/releases/com/").Code)
}

func TestDownstreamProxyDiscoversUpstreamWhitelist(t *testing.T) {
	hosted := newRepo(t, "releases", repository.Hosted)
	_, err := hosted.Store.Write("/org/example/lib/1.0/lib-1.0.jar", []byte("x"), nil)
	require.NoError(t, err)
	up := newHarness(t, hosted)
	upstream := httptest.NewServer(up.svc.Handler())
	t.Cleanup(upstream.Close)

	proxy := newProxyRepo(t, "upstream", upstream.URL+"/repositories/releases")
	down := newHarness(t, proxy)

	// no published upstream whitelist yet, the directory index is scraped
	require.NoError(t, down.mgr.Republish(context.Background(), proxy))
	st, err := down.mgr.StatusFor(proxy)
	require.NoError(t, err)
	require.Equal(t, whitelist.DiscoverySuccessful, st.Discovery.Status)
	require.Equal(t, discovery.ScrapeStrategyID, st.Discovery.StrategyID)
	require.Equal(t, whitelist.Published, st.Publishing.Status)

	up.mgr.Start(context.Background())
	require.Eventually(t, func() bool {
		ok, err := up.mgr.PrefixSourceFor(hosted).Exists()
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, down.mgr.Republish(context.Background(), proxy))
	st, err = down.mgr.StatusFor(proxy)
	require.NoError(t, err)
	require.Equal(t, whitelist.DiscoverySuccessful, st.Discovery.Status)
	require.Equal(t, discovery.PrefixFileStrategyID, st.Discovery.StrategyID)

	entries, err := down.mgr.PrefixSourceFor(proxy).ReadEntries()
	require.NoError(t, err)
	require.Equal(t, []string{"/org/example"}, entries)

	w := down.get(t, "/repositories/upstream/com/other/x/1.0/x-1.0.jar")
	require.Equal(t, outcomeRejected, w.Header().Get(headerOutcome))
	w = down.get(t, "/repositories/upstream/org/example/lib/1.0/lib-1.0.jar")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestWhitelistAdminEndpoints(t *testing.T) {
	o := newOrigin(t, map[string]string{})
	h := newHarness(t, newProxyRepo(t, "central", o.URL()), newRepo(t, "releases", repository.Hosted))
	h.publish(t, "central", "/org/example")

	w := h.get(t, "/-/whitelist/central")
	require.Equal(t, http.StatusOK, w.Code)
	var st whitelist.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.Equal(t, "central", st.RepositoryID)
	require.Equal(t, whitelist.Published, st.Publishing.Status)
	require.Equal(t, "/.meta/prefixes.txt", st.Publishing.FilePath)

	w = h.get(t, "/-/whitelist/central/discovery")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"enabled":true,"interval":"1h0m0s"}`, w.Body.String())

	w = h.do(t, http.MethodPut, "/-/whitelist/central/discovery", `{"enabled":true,"interval":"2h"}`)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.JSONEq(t, `{"enabled":true,"interval":"2h0m0s"}`, h.get(t, "/-/whitelist/central/discovery").Body.String())

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, "/-/whitelist/central/discovery", `{"enabled":true,"interval":"soon"}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, "/-/whitelist/releases/discovery", `{"enabled":true,"interval":"1h"}`).Code)

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/-/whitelist/releases/update", "").Code)
	require.Eventually(t, func() bool { return len(h.mgr.RunningUpdates()) == 0 }, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusNotFound, h.get(t, "/-/whitelist/unknown").Code)
}

func TestStatusEndpoint(t *testing.T) {
	repo := newRepo(t, "releases", repository.Hosted)
	_, err := repo.Store.Write("/org/x/1/x-1.jar", []byte("12345"), nil)
	require.NoError(t, err)
	h := newHarness(t, repo)

	require.Equal(t, http.StatusOK, h.get(t, "/repositories/releases/org/x/1/x-1.jar").Code)
	require.Equal(t, http.StatusNotFound, h.get(t, "/repositories/releases/org/x/1/x-2.jar").Code)

	w := h.get(t, "/-/status")
	require.Equal(t, http.StatusOK, w.Code)
	var doc struct {
		Stats           Stats    `json:"stats"`
		NotFoundEntries int      `json:"notFoundCacheEntries"`
		UpdatesRunning  []string `json:"whitelistUpdatesRunning"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.EqualValues(t, 1, doc.Stats.Hits)
	require.EqualValues(t, 1, doc.Stats.NotFound)
	require.EqualValues(t, 5, doc.Stats.MaxRespBytes)
	require.Empty(t, doc.UpdatesRunning)
}

func TestStatusForErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.New(errors.CodeNotFound, "x"), http.StatusNotFound},
		{errors.New(errors.CodeInvalidInput, "x"), http.StatusBadRequest},
		{errors.New(errors.CodeNotImplemented, "x"), http.StatusMethodNotAllowed},
		{errors.New(errors.CodeNetwork, "x"), http.StatusBadGateway},
		{errors.Wrap(errors.New(errors.CodeUnavailable, "x"), errors.CodeInternal, "wrapped"), http.StatusBadGateway},
		{errors.New(errors.CodeInternal, "x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestEnsureExposedHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Access-Control-Expose-Headers", "ETag")
	ensureExposedHeader(h, headerOutcome)
	ensureExposedHeader(h, headerOutcome)
	require.Equal(t, "ETag, "+headerOutcome, h.Get("Access-Control-Expose-Headers"))
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "512b", formatBytes(512))
	require.Equal(t, "1kb", formatBytes(1024))
	require.Equal(t, "1.5mb", formatBytes(3*512*1024))
	require.Equal(t, "2gb", formatBytes(2<<30))
}

func TestNotFoundCacheExpires(t *testing.T) {
	c := newNotFoundCache(10, 20*time.Millisecond)
	c.Add("central", "/a")
	require.True(t, c.Contains("central", "/a"))
	require.False(t, c.Contains("other", "/a"))
	require.Eventually(t, func() bool { return !c.Contains("central", "/a") }, time.Second, 5*time.Millisecond)
}
