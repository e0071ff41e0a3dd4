package discovery

import (
	"context"
	"fmt"
	"sort"

	"artiproxy/internal/prefix"
	"artiproxy/internal/repository"
)

// Verdict is how a remote strategy concluded, short of an unexpected error.
type Verdict int

const (
	// Found means the strategy produced a prefix source.
	Found Verdict = iota
	// NotApplicable means the strategy could not learn anything; the next
	// strategy is tried.
	NotApplicable
	// RoutingDisabled means the origin asked not to be routed by prefixes.
	RoutingDisabled
	// Rejected means the origin answered with malformed data.
	Rejected
)

// Finding is the regular result of a remote strategy.
type Finding struct {
	Verdict Verdict
	Message string
	Source  prefix.Source
}

// Strategy probes an origin for its content layout. Expected misses are
// reported through Finding; a returned error is an unexpected failure.
type Strategy interface {
	ID() string
	Priority() int
	Discover(ctx context.Context, repo *repository.Repository) (Finding, error)
}

// RemoteDiscoverer runs strategies in ascending priority until one decides.
type RemoteDiscoverer struct {
	strategies []Strategy
}

func NewRemoteDiscoverer(strategies ...Strategy) *RemoteDiscoverer {
	s := append([]Strategy(nil), strategies...)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Priority() < s[j].Priority() })
	return &RemoteDiscoverer{strategies: s}
}

// DiscoverRemoteContent never fails: every problem ends up in the Result.
func (d *RemoteDiscoverer) DiscoverRemoteContent(ctx context.Context, repo *repository.Repository) *Result {
	res := NewResult(repo.ID)
	for _, st := range d.strategies {
		if err := ctx.Err(); err != nil {
			res.RecordError(st.ID(), err)
			break
		}
		log.Debugf("discovery of %s with strategy %s attempted", repo.ID, st.ID())

		f, err := runStrategy(ctx, st, repo)
		if err != nil {
			log.Warnf("remote strategy %s error on %s: %v", st.ID(), repo.ID, err)
			res.RecordError(st.ID(), err)
			break
		}

		stop := true
		switch f.Verdict {
		case Found:
			res.RecordSuccess(st.ID(), f.Message, f.Source)
		case RoutingDisabled:
			res.RecordFailure(st.ID(), f.Message)
		case Rejected:
			msg := fmt.Sprintf("Remote strategy %s detected invalid input, results discarded: %s", st.ID(), f.Message)
			log.Infof("%s (repository %s)", msg, repo.ID)
			res.RecordFailure(st.ID(), msg)
		default:
			res.RecordFailure(st.ID(), f.Message)
			stop = false
		}
		if stop {
			break
		}
		log.Debugf("discovery of %s with strategy %s unsuccessful", repo.ID, st.ID())
	}
	if res.Successful() {
		log.Debugf("discovery of %s with strategy %s successful", repo.ID, res.LastOutcome().StrategyID)
	}
	return res
}

func runStrategy(ctx context.Context, st Strategy, repo *repository.Repository) (f Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", st.ID(), r)
		}
	}()
	return st.Discover(ctx, repo)
}
