// Package repository models the configured repositories as a closed set of
// kinds with plain capability queries, plus the per-request flags the routing
// core inspects.
package repository

import (
	"strings"
	"time"

	"artiproxy/internal/storage"
)

type Kind int

const (
	Hosted Kind = iota
	Proxy
	Group
	Shadow
)

func (k Kind) String() string {
	switch k {
	case Hosted:
		return "hosted"
	case Proxy:
		return "proxy"
	case Group:
		return "group"
	case Shadow:
		return "shadow"
	}
	return "unknown"
}

func ParseKind(s string) (Kind, bool) {
	switch s {
	case "hosted":
		return Hosted, true
	case "proxy":
		return Proxy, true
	case "group":
		return Group, true
	case "shadow":
		return Shadow, true
	}
	return 0, false
}

// ProxyMode tells whether a proxy may currently reach its origin.
type ProxyMode string

const (
	ProxyAllow         ProxyMode = "allow"
	ProxyBlockedAuto   ProxyMode = "blocked-auto"
	ProxyBlockedManual ProxyMode = "blocked-manual"
)

func (m ProxyMode) ShouldProxy() bool { return m == ProxyAllow || m == "" }

// ChecksumPolicy is the severity applied when validating fetched content.
// ChecksumIgnore disables validation.
type ChecksumPolicy string

const (
	ChecksumIgnore         ChecksumPolicy = "ignore"
	ChecksumWarn           ChecksumPolicy = "warn"
	ChecksumStrictIfExists ChecksumPolicy = "strict-if-exists"
	ChecksumStrict         ChecksumPolicy = "strict"
)

// Policy is the maven repository policy.
type Policy string

const (
	PolicyRelease  Policy = "release"
	PolicySnapshot Policy = "snapshot"
	PolicyMixed    Policy = "mixed"
)

const FormatMaven2 = "maven2"

type Repository struct {
	ID     string
	Name   string
	Kind   Kind
	Format string

	RemoteURL      string
	ProxyMode      ProxyMode
	ChecksumPolicy ChecksumPolicy
	Policy         Policy
	ItemMaxAge     time.Duration

	Members []string

	DiscoveryEnabled  bool
	DiscoveryInterval time.Duration

	Store *storage.Store
}

func (r *Repository) IsHosted() bool { return r.Kind == Hosted }
func (r *Repository) IsProxy() bool  { return r.Kind == Proxy }
func (r *Repository) IsGroup() bool  { return r.Kind == Group }
func (r *Repository) IsShadow() bool { return r.Kind == Shadow }
func (r *Repository) IsMaven2() bool { return r.Format == FormatMaven2 }

// ServesByPolicy applies the release/snapshot policy. Metadata and checksum
// files are served by every repository.
func (r *Repository) ServesByPolicy(path string) bool {
	if IsMetadataPath(path) || IsChecksumPath(path) || IsHidden(path) {
		return true
	}
	switch r.Policy {
	case PolicyRelease:
		return !IsSnapshotPath(path)
	case PolicySnapshot:
		return IsSnapshotPath(path)
	}
	return true
}

// IsHidden reports whether the first path segment starts with a dot, which
// marks administrative items such as /.meta/prefixes.txt.
func IsHidden(path string) bool {
	p := strings.TrimLeft(path, "/")
	return strings.HasPrefix(p, ".")
}

// IsChecksumPath reports whether path names a .sha1 or .md5 sidecar file.
func IsChecksumPath(path string) bool {
	return strings.HasSuffix(path, ".sha1") || strings.HasSuffix(path, ".md5")
}

func IsMetadataPath(path string) bool {
	base := path[strings.LastIndex(path, "/")+1:]
	return strings.HasPrefix(base, "maven-metadata.xml")
}

// IsSnapshotPath reports whether path lies below a -SNAPSHOT version directory.
func IsSnapshotPath(path string) bool {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 {
		return false
	}
	return strings.HasSuffix(segs[len(segs)-2], "-SNAPSHOT")
}

// Request carries the flags of one item retrieval through the routing core.
type Request struct {
	Path string

	// LocalOnly forbids any remote access.
	LocalOnly bool
	// AsExpired forces remote re-checks, bypassing negative caches.
	AsExpired bool
	// NotFoundCacheProbe marks rechecks of paths held in the not-found cache.
	// The whitelist filter lets such requests through.
	// TODO: set it from a not-found cache revalidation loop.
	NotFoundCacheProbe bool
	// RejectedByWhitelist is set by the glue when the filter refused the path.
	RejectedByWhitelist bool
}

func NewRequest(path string) *Request {
	return &Request{Path: storage.Clean(path)}
}
