package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
	"artiproxy/internal/transport"
)

const ScrapeStrategyID = "scrape"

// ScrapeStrategy follows the origin's HTML directory listings down to a fixed
// depth. Directories at that depth, and files above it, become entries.
type ScrapeStrategy struct {
	fetcher    transport.Fetcher
	depth      int
	maxEntries int
}

func NewScrapeStrategy(f transport.Fetcher, depth, maxEntries int) *ScrapeStrategy {
	if depth <= 0 {
		depth = 2
	}
	return &ScrapeStrategy{fetcher: f, depth: depth, maxEntries: maxEntries}
}

func (s *ScrapeStrategy) ID() string    { return ScrapeStrategyID }
func (s *ScrapeStrategy) Priority() int { return 200 }

func (s *ScrapeStrategy) Discover(ctx context.Context, repo *repository.Repository) (Finding, error) {
	root, err := s.fetcher.Fetch(ctx, repo.RemoteURL, "/")
	if transport.IsNotFound(err) {
		return Finding{Verdict: NotApplicable, Message: "Remote does not provide a directory index."}, nil
	}
	if err != nil {
		return Finding{}, err
	}
	if !looksLikeHTML(root.Header.Get("Content-Type"), root.Body) {
		return Finding{Verdict: NotApplicable, Message: "Remote root is not an HTML directory index."}, nil
	}

	var entries []string
	var walk func(dir, pageURL string, body []byte, level int) error
	walk = func(dir, pageURL string, body []byte, level int) error {
		dirs, files := childLinks(pageURL, body)
		for _, f := range files {
			entries = append(entries, dir+f)
		}
		for _, d := range dirs {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := dir + d
			if level >= s.depth {
				entries = append(entries, p)
				continue
			}
			resp, err := s.fetcher.Fetch(ctx, repo.RemoteURL, p+"/")
			if transport.IsNotFound(err) {
				entries = append(entries, p)
				continue
			}
			if err != nil {
				return err
			}
			if err := walk(p+"/", resp.URL, resp.Body, level+1); err != nil {
				return err
			}
		}
		if s.maxEntries > 0 && len(entries) > s.maxEntries {
			return errTooManyEntries
		}
		return nil
	}
	if err := walk("/", root.URL, root.Body, 1); err != nil {
		if err == errTooManyEntries {
			return Finding{Verdict: Rejected, Message: fmt.Sprintf("scraped more than %d entries", s.maxEntries)}, nil
		}
		return Finding{}, err
	}
	if len(entries) == 0 {
		return Finding{Verdict: NotApplicable, Message: "Remote directory index lists no content."}, nil
	}
	return Finding{
		Verdict: Found,
		Message: fmt.Sprintf("Remote scraped successfully (%d entries).", len(entries)),
		Source:  prefix.NewArraySource(entries),
	}, nil
}

type scrapeError string

func (e scrapeError) Error() string { return string(e) }

const errTooManyEntries = scrapeError("too many entries")

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	head := bytes.ToLower(body[:min(len(body), 512)])
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
}

// childLinks returns the names of the direct children linked from a listing
// page, split into directories and files. Links leaving the page's directory,
// parent links, query links and hidden names are dropped.
func childLinks(pageURL string, body []byte) (dirs, files []string) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	seen := map[string]struct{}{}
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return dirs, files
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "a" || !hasAttr {
			continue
		}
		for {
			key, val, more := z.TagAttr()
			if string(key) == "href" {
				if child, isDir, ok := resolveChild(base, string(val)); ok {
					if _, dup := seen[child]; !dup {
						seen[child] = struct{}{}
						if isDir {
							dirs = append(dirs, child)
						} else {
							files = append(files, child)
						}
					}
				}
			}
			if !more {
				break
			}
		}
	}
}

func resolveChild(base *url.URL, href string) (name string, isDir, ok bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
		return "", false, false
	}
	u, err := base.Parse(href)
	if err != nil || u.Scheme != base.Scheme || u.Host != base.Host || u.RawQuery != "" {
		return "", false, false
	}
	if !strings.HasPrefix(u.Path, base.Path) {
		return "", false, false
	}
	rel := strings.TrimPrefix(u.Path, base.Path)
	isDir = strings.HasSuffix(rel, "/")
	name = strings.TrimSuffix(rel, "/")
	if name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, ".") {
		return "", false, false
	}
	// names a prefix file cannot carry, like "release notes.txt", are skipped
	if !prefix.ValidEntry("/" + name) {
		return "", false, false
	}
	return name, isDir, true
}
