package proxy

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

// Served outcomes, also reported in the X-Artiproxy response header.
const (
	outcomeHit      = "hit"
	outcomeStale    = "stale"
	outcomeRemote   = "remote"
	outcomeHash     = "hash"
	outcomeNotFound = "not-found"
	outcomeRejected = "rejected"
)

type statsCollector struct {
	totalResponses atomic.Uint64
	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64

	hits     atomic.Uint64
	remote   atomic.Uint64
	notFound atomic.Uint64
	rejected atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

// Count tallies a retrieval outcome.
func (s *statsCollector) Count(outcome string) {
	switch outcome {
	case outcomeHit, outcomeStale, outcomeHash:
		s.hits.Add(1)
	case outcomeRemote:
		s.remote.Add(1)
	case outcomeNotFound:
		s.notFound.Add(1)
	case outcomeRejected:
		s.rejected.Add(1)
	}
}

// Observe records the size of a served body.
func (s *statsCollector) Observe(respBytes int) {
	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)

	s.totalResponses.Add(1)
	s.totalRespBytes.Add(n)

	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type Stats struct {
	TotalResponses uint64 `json:"totalResponses"`
	TotalRespBytes uint64 `json:"totalRespBytes"`
	MinRespBytes   uint64 `json:"minRespBytes"`
	MaxRespBytes   uint64 `json:"maxRespBytes"`
	AvgRespBytes   uint64 `json:"avgRespBytes"`

	Hits     uint64 `json:"hits"`
	Remote   uint64 `json:"remote"`
	NotFound uint64 `json:"notFound"`
	Rejected uint64 `json:"rejectedByWhitelist"`
}

func (s *statsCollector) Snapshot() Stats {
	out := Stats{
		Hits:     s.hits.Load(),
		Remote:   s.remote.Load(),
		NotFound: s.notFound.Load(),
		Rejected: s.rejected.Load(),
	}
	count := s.totalResponses.Load()
	if count == 0 {
		return out
	}
	minv := s.minRespBytes.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	out.TotalResponses = count
	out.TotalRespBytes = s.totalRespBytes.Load()
	out.MinRespBytes = minv
	out.MaxRespBytes = s.maxRespBytes.Load()
	out.AvgRespBytes = out.TotalRespBytes / count
	return out
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	if b < kb {
		return fmt.Sprintf("%db", b)
	}
	if b < mb {
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/kb)) + "kb"
	}
	if b < gb {
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/mb)) + "mb"
	}
	return trimFloat(fmt.Sprintf("%.1f", float64(b)/gb)) + "gb"
}

func trimFloat(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".0")
	return s
}
