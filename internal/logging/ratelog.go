package logging

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

// RateLimited forwards at most one message per key and interval to the
// wrapped logger. Keys are typically repository IDs.
type RateLimited struct {
	log *logging.ZapEventLogger

	mu       sync.Mutex
	lastAt   map[string]time.Time
	interval time.Duration
}

func NewRateLimited(log *logging.ZapEventLogger, interval time.Duration) *RateLimited {
	return &RateLimited{log: log, interval: interval, lastAt: map[string]time.Time{}}
}

func (l *RateLimited) Infof(key, format string, args ...any) {
	if l.allow(key) {
		l.log.Infof(format, args...)
	}
}

func (l *RateLimited) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if last, ok := l.lastAt[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.lastAt[key] = now
	return true
}
