package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/gzip"

	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
	"artiproxy/internal/transport"
)

const PrefixFileStrategyID = "prefix-file"

// PrefixFileStrategy fetches a prefix file published by the origin itself.
type PrefixFileStrategy struct {
	fetcher transport.Fetcher
	paths   []string
	limits  prefix.Limits
}

func NewPrefixFileStrategy(f transport.Fetcher, paths []string, lim prefix.Limits) *PrefixFileStrategy {
	return &PrefixFileStrategy{fetcher: f, paths: paths, limits: lim}
}

func (s *PrefixFileStrategy) ID() string    { return PrefixFileStrategyID }
func (s *PrefixFileStrategy) Priority() int { return 100 }

func (s *PrefixFileStrategy) Discover(ctx context.Context, repo *repository.Repository) (Finding, error) {
	for _, p := range s.paths {
		if err := ctx.Err(); err != nil {
			return Finding{}, err
		}
		resp, err := s.fetcher.Fetch(ctx, repo.RemoteURL, p)
		if transport.IsNotFound(err) {
			log.Debugf("%s publishes no prefix file at %s", repo.ID, p)
			continue
		}
		if err != nil {
			return Finding{}, err
		}

		body := resp.Body
		if strings.HasSuffix(p, ".gz") || isGzip(body) {
			body, err = gunzip(body, s.limits.MaxBytes)
			if err != nil {
				return Finding{Verdict: Rejected, Message: errorMessage(err)}, nil
			}
		}
		if prefix.MarkedUnsupported(body) {
			return Finding{
				Verdict: RoutingDisabled,
				Message: fmt.Sprintf("Remote prefix file %s marks the repository as unsupported.", p),
			}, nil
		}
		entries, err := prefix.Parse(body, s.limits)
		if err != nil {
			if prefix.IsInvalidInput(err) {
				return Finding{Verdict: Rejected, Message: errorMessage(err)}, nil
			}
			return Finding{}, err
		}
		return Finding{
			Verdict: Found,
			Message: fmt.Sprintf("Remote publishes prefix file %s (%d entries).", p, len(entries)),
			Source:  prefix.NewArraySource(entries),
		}, nil
	}
	return Finding{Verdict: NotApplicable, Message: "Remote does not publish a prefix file."}, nil
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func gunzip(b []byte, max int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "open gzip prefix file")
	}
	defer zr.Close()

	var r io.Reader = zr
	if max > 0 {
		r = io.LimitReader(zr, max+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "decompress prefix file")
	}
	if max > 0 && int64(len(out)) > max {
		return nil, errors.Newf(errors.CodeInvalidInput, "decompressed prefix file exceeds %d bytes", max)
	}
	return out, nil
}
