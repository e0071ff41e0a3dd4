// Package events carries notifications raised by the whitelist and checksum
// machinery to whoever observes them. Delivery is synchronous and best effort.
package events

import (
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("events")

type Event interface {
	Repository() string
}

// WhitelistPublished is raised after a prefix file was written.
type WhitelistPublished struct {
	RepoID   string
	FilePath string
}

func (e WhitelistPublished) Repository() string { return e.RepoID }

// WhitelistUnpublished is raised after a prefix file was removed.
type WhitelistUnpublished struct {
	RepoID string
}

func (e WhitelistUnpublished) Repository() string { return e.RepoID }

// ChecksumValidationFailed is raised for every non-silent checksum outcome.
type ChecksumValidationFailed struct {
	RepoID  string
	Path    string
	Message string
}

func (e ChecksumValidationFailed) Repository() string { return e.RepoID }

// ItemStored is raised after a client deployed an item into a hosted repository.
type ItemStored struct {
	RepoID string
	Path   string
}

func (e ItemStored) Repository() string { return e.RepoID }

// ItemDeleted is raised after a client removed an item from a hosted repository.
type ItemDeleted struct {
	RepoID string
	Path   string
}

func (e ItemDeleted) Repository() string { return e.RepoID }

// Publisher is the narrow interface handed to producers.
type Publisher interface {
	Publish(ev Event)
}

type Handler func(ev Event)

// Bus fans every published event out to all subscribers, in subscription
// order, on the publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range hs {
		deliver(h, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("event handler panicked on %s: %v", describe(ev), r)
		}
	}()
	h(ev)
}

func describe(ev Event) string {
	return fmt.Sprintf("%T(%s)", ev, ev.Repository())
}

// Recorder collects events in memory; tests use it as a Publisher.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events satisfy match.
func (r *Recorder) Count(match func(Event) bool) int {
	n := 0
	for _, ev := range r.Events() {
		if match(ev) {
			n++
		}
	}
	return n
}
