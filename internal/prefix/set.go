// Package prefix implements path prefix whitelists: the in-memory Set used
// for routing decisions, the sources a set is read from, the text format of
// prefix files and incremental edits to a published file.
package prefix

import (
	"sort"
	"strings"
)

// All is the entry that covers every path.
const All = "/"

// Normalize forces a leading slash and strips trailing slashes.
func Normalize(entry string) string {
	e := strings.TrimSpace(entry)
	e = "/" + strings.Trim(e, "/")
	return e
}

// Set is an immutable, sorted, deduplicated collection of normalized entries.
// An empty set covers nothing.
type Set struct {
	entries []string
	index   map[string]struct{}
}

func NewSet(entries ...string) *Set {
	index := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		n := Normalize(e)
		if _, dup := index[n]; dup {
			continue
		}
		index[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return &Set{entries: out, index: index}
}

// Entries returns a copy of the sorted entries.
func (s *Set) Entries() []string {
	return append([]string(nil), s.entries...)
}

func (s *Set) Len() int { return len(s.entries) }

func (s *Set) Contains(entry string) bool {
	_, ok := s.index[Normalize(entry)]
	return ok
}

func (s *Set) IsAll() bool {
	_, ok := s.index[All]
	return ok
}

// Covers reports whether some entry equals path or is an ancestor of it on a
// segment boundary: /org/example covers /org/example/x but not /org/examples.
func (s *Set) Covers(path string) bool {
	if len(s.entries) == 0 {
		return false
	}
	if s.IsAll() {
		return true
	}
	p := Normalize(path)
	for i := 1; i < len(p); i++ {
		if p[i] != '/' {
			continue
		}
		if _, ok := s.index[p[:i]]; ok {
			return true
		}
	}
	_, ok := s.index[p]
	return ok
}

// Cut truncates path to at most depth segments.
func Cut(path string, depth int) string {
	p := Normalize(path)
	if depth <= 0 || p == All {
		return p
	}
	n := 0
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			n++
			if n == depth {
				return p[:i]
			}
		}
	}
	return p
}

// sortedUnique sorts and deduplicates entries without normalizing them, so
// malformed entries still reach validation.
func sortedUnique(entries []string) []string {
	out := append([]string(nil), entries...)
	sort.Strings(out)
	n := 0
	for i, e := range out {
		if i > 0 && e == out[n-1] {
			continue
		}
		out[n] = e
		n++
	}
	return out[:n]
}
