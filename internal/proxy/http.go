package proxy

import (
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"

	"artiproxy/internal/repository"
	"artiproxy/internal/storage"
	"artiproxy/internal/whitelist"
)

const headerOutcome = "X-Artiproxy"

// Handler routes
//
//	GET|PUT|DELETE /repositories/{repo}/{path...}
//	GET  /-/whitelist/{repo}
//	POST /-/whitelist/{repo}/update
//	GET|PUT /-/whitelist/{repo}/discovery
//	GET  /-/status
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repositories/{repo}/{path...}", s.handleGet)
	mux.HandleFunc("PUT /repositories/{repo}/{path...}", s.handlePut)
	mux.HandleFunc("DELETE /repositories/{repo}/{path...}", s.handleDelete)
	mux.HandleFunc("GET /-/whitelist/{repo}", s.handleWhitelistStatus)
	mux.HandleFunc("POST /-/whitelist/{repo}/update", s.handleWhitelistUpdate)
	mux.HandleFunc("GET /-/whitelist/{repo}/discovery", s.handleDiscoveryConfig)
	mux.HandleFunc("PUT /-/whitelist/{repo}/discovery", s.handleSetDiscoveryConfig)
	mux.HandleFunc("GET /-/status", s.handleStatus)
	return mux
}

func (s *Service) repoFor(w http.ResponseWriter, r *http.Request) (*repository.Repository, bool) {
	id := r.PathValue("repo")
	repo, ok := s.registry.Get(id)
	if !ok {
		http.Error(w, "unknown repository "+id, http.StatusNotFound)
		return nil, false
	}
	return repo, true
}

func requestFor(r *http.Request) *repository.Request {
	req := repository.NewRequest(r.PathValue("path"))
	q := r.URL.Query()
	req.LocalOnly = queryBool(q.Get("localOnly"))
	req.AsExpired = queryBool(q.Get("asExpired"))
	return req
}

func queryBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.repoFor(w, r)
	if !ok {
		return
	}
	req := requestFor(r)

	if !repo.IsGroup() && (req.Path == "/" || strings.HasSuffix(r.PathValue("path"), "/")) {
		s.writeIndex(w, repo, req.Path)
		return
	}

	c, err := s.RetrieveItem(r.Context(), repo, req)
	if err != nil {
		outcome := outcomeNotFound
		if req.RejectedByWhitelist {
			outcome = outcomeRejected
		}
		setOutcomeHeaders(w.Header(), outcome)
		writeError(w, err)
		return
	}
	writeContent(w, c)
	s.stats.Observe(len(c.Body))
}

func (s *Service) handlePut(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.repoFor(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return
	}
	if err := s.Deploy(repo, r.PathValue("path"), body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.repoFor(w, r)
	if !ok {
		return
	}
	if err := s.Delete(repo, r.PathValue("path")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleWhitelistStatus(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.repoFor(w, r)
	if !ok {
		return
	}
	st, err := s.whitelist.StatusFor(repo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleWhitelistUpdate(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.repoFor(w, r)
	if !ok {
		return
	}
	s.whitelist.ForceUpdateWhitelist(repo)
	w.WriteHeader(http.StatusAccepted)
}

type discoveryConfigDoc struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
}

func (s *Service) handleDiscoveryConfig(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.repoFor(w, r)
	if !ok {
		return
	}
	cfg := s.whitelist.RemoteDiscoveryConfig(repo)
	writeJSON(w, http.StatusOK, discoveryConfigDoc{Enabled: cfg.Enabled, Interval: cfg.Interval.String()})
}

func (s *Service) handleSetDiscoveryConfig(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.repoFor(w, r)
	if !ok {
		return
	}
	var doc discoveryConfigDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "invalid discovery config: "+err.Error(), http.StatusBadRequest)
		return
	}
	interval, err := time.ParseDuration(doc.Interval)
	if err != nil {
		http.Error(w, "invalid discovery interval: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.whitelist.SetRemoteDiscoveryConfig(repo, whitelist.DiscoveryConfig{Enabled: doc.Enabled, Interval: interval}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Stats           Stats    `json:"stats"`
		NotFoundEntries int      `json:"notFoundCacheEntries"`
		UpdatesRunning  []string `json:"whitelistUpdatesRunning"`
	}{
		Stats:           s.stats.Snapshot(),
		NotFoundEntries: s.nfc.Len(),
		UpdatesRunning:  s.whitelist.RunningUpdates(),
	})
}

func writeContent(w http.ResponseWriter, c *Content) {
	h := w.Header()
	h.Set("Content-Type", contentType(c.Path))
	h.Set("Content-Length", strconv.Itoa(len(c.Body)))
	if !c.Modified.IsZero() {
		h.Set("Last-Modified", c.Modified.UTC().Format(http.TimeFormat))
	}
	setOutcomeHeaders(h, c.Outcome)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.Body)
}

func contentType(p string) string {
	switch {
	case strings.HasSuffix(p, ".pom"), strings.HasSuffix(p, ".xml"):
		return "application/xml"
	case strings.HasSuffix(p, ".jar"), strings.HasSuffix(p, ".war"), strings.HasSuffix(p, ".ear"):
		return "application/java-archive"
	case strings.HasSuffix(p, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(p, ".sha1"), strings.HasSuffix(p, ".md5"), strings.HasSuffix(p, ".txt"):
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

func setOutcomeHeaders(h http.Header, outcome string) {
	if outcome != "" {
		h.Set(headerOutcome, outcome)
	}
	ensureExposedHeader(h, headerOutcome)
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Debugf("write json response: %v", err)
	}
}

// statusFor maps error codes to HTTP statuses.
func statusFor(err error) int {
	switch {
	case storage.IsNotFound(err):
		return http.StatusNotFound
	case storage.HasCode(err, errors.CodeInvalidInput):
		return http.StatusBadRequest
	case storage.IsUnsupported(err):
		return http.StatusMethodNotAllowed
	case storage.HasCode(err, errors.CodeNetwork), storage.HasCode(err, errors.CodeUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Repository}}{{.Path}}</title></head>
<body>
<h1>{{.Repository}}{{.Path}}</h1>
<pre>
{{- if ne .Path "/"}}
<a href="../">../</a>
{{- end}}
{{- range .Entries}}
<a href="{{.Href}}">{{.Href}}</a>
{{- end}}
</pre>
</body>
</html>
`))

type indexEntry struct {
	Href string
}

// writeIndex renders the local children of a directory, which is what the
// scrape discovery of downstream proxies walks.
func (s *Service) writeIndex(w http.ResponseWriter, repo *repository.Repository, dir string) {
	items, err := repo.Store.List(dir)
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]indexEntry, 0, len(items))
	for _, it := range items {
		name := it.Path[strings.LastIndex(it.Path, "/")+1:]
		if strings.HasPrefix(name, ".") {
			continue
		}
		if it.Collection {
			name += "/"
		}
		entries = append(entries, indexEntry{Href: name})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct {
		Repository string
		Path       string
		Entries    []indexEntry
	}{repo.ID, dir, entries}); err != nil {
		log.Debugf("write index of %s%s: %v", repo.ID, dir, err)
	}
}
