package discovery

import (
	"github.com/jmgilman/go/errors"

	"artiproxy/internal/prefix"
	"artiproxy/internal/transport"
)

// Options configure the remote strategies.
type Options struct {
	RemotePrefixFilePaths []string
	ScrapeDepth           int
	Limits                prefix.Limits
}

// NewStrategies builds the named remote strategies.
func NewStrategies(names []string, f transport.Fetcher, opts Options) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		switch n {
		case PrefixFileStrategyID:
			out = append(out, NewPrefixFileStrategy(f, opts.RemotePrefixFilePaths, opts.Limits))
		case ScrapeStrategyID:
			out = append(out, NewScrapeStrategy(f, opts.ScrapeDepth, opts.Limits.MaxEntries))
		default:
			return nil, errors.Newf(errors.CodeInvalidConfig, "unknown remote discovery strategy %q", n)
		}
	}
	return out, nil
}
