// Package transport fetches content from remote origins. A Client is built
// once by the composition root and injected into every component that talks
// to an origin.
package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jmgilman/go/errors"
)

var log = logging.Logger("transport")

// Response is a successfully fetched remote item.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Modified time.Time
}

// Fetcher is the contract consumed by discovery, checksum validation and the
// proxy glue.
type Fetcher interface {
	Fetch(ctx context.Context, baseURL, path string) (*Response, error)
}

type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

type Client struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWith(&http.Client{Timeout: timeout}, opts)
}

// NewClientWith wraps an existing http.Client, used by tests with httptest.
func NewClientWith(hc *http.Client, opts Options) *Client {
	ua := opts.UserAgent
	if ua == "" {
		ua = "artiproxy"
	}
	return &Client{httpClient: hc, maxBytes: opts.MaxBytes, userAgent: ua}
}

// Join concatenates an origin base URL and an item path with exactly one slash.
func Join(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Fetch GETs baseURL+path. A 404 or 410 is a NOT_FOUND error, other non-2xx
// statuses are SERVICE_UNAVAILABLE and connection failures NETWORK_ERROR.
func (c *Client) Fetch(ctx context.Context, baseURL, path string) (*Response, error) {
	u := Join(baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "build request for %s", u)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.WithContext(errors.Wrapf(err, errors.CodeNetwork, "fetch %s", u), "url", u)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, errors.WithContext(errors.Newf(errors.CodeNotFound, "remote item %s not found", u), "url", u)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		log.Debugf("origin answered %d for %s", resp.StatusCode, u)
		return nil, errors.WithContext(errors.Newf(errors.CodeUnavailable, "remote answered %d for %s", resp.StatusCode, u), "url", u)
	}

	var body []byte
	if c.maxBytes > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
		if err == nil && int64(len(body)) > c.maxBytes {
			return nil, errors.Newf(errors.CodeInvalidInput, "remote item %s exceeds %d bytes", u, c.maxBytes)
		}
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrapf(err, errors.CodeNetwork, "read body of %s", u)
	}

	out := &Response{
		URL:    u,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, perr := http.ParseTime(lm); perr == nil {
			out.Modified = t
		}
	}
	return out, nil
}

// IsNotFound reports an expected remote absence.
func IsNotFound(err error) bool {
	return errors.GetCode(err) == errors.CodeNotFound
}

// IsCanceled reports whether err stems from a canceled or expired context.
func IsCanceled(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
