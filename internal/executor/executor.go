// Package executor runs background jobs keyed by repository id, never more
// than one per key at a time.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/semaphore"
)

var log = logging.Logger("executor")

// Job is a unit of background work. It must return promptly once ctx is done.
type Job func(ctx context.Context) error

type Statistics struct {
	// RunningKeys lists keys with a queued or running job, sorted.
	RunningKeys []string
}

type handle struct {
	id     uuid.UUID
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Constrained admits at most one job per key. A job is registered under its
// key from submission until it returns; jobs wait for a free worker slot.
type Constrained struct {
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[string]*handle
	closed bool

	wg sync.WaitGroup
}

func New(workers int) *Constrained {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Constrained{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
		jobs:   map[string]*handle{},
	}
}

// MayExecute submits job unless a job for key is already registered, and
// reports whether it was submitted.
func (e *Constrained) MayExecute(key string, job Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if _, busy := e.jobs[key]; busy {
		return false
	}
	e.start(key, job, nil)
	return true
}

// MustExecute cancels the job registered for key, if any, and submits job.
// The new job starts only after the canceled one returned. It reports
// whether a previous job was canceled.
func (e *Constrained) MustExecute(key string, job Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	prev := e.jobs[key]
	if prev != nil {
		prev.cancel()
		log.Debugf("job %s for %s canceled by a forced submission", prev.id, key)
	}
	e.start(key, job, prev)
	return prev != nil
}

func (e *Constrained) Statistics() Statistics {
	e.mu.Lock()
	keys := make([]string, 0, len(e.jobs))
	for k := range e.jobs {
		keys = append(keys, k)
	}
	e.mu.Unlock()
	sort.Strings(keys)
	return Statistics{RunningKeys: keys}
}

// CancelAllJobs cancels every registered job; new submissions are accepted.
func (e *Constrained) CancelAllJobs() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.jobs {
		h.cancel()
	}
}

// Shutdown refuses new jobs, cancels the registered ones and waits up to
// timeout for them to return. It reports whether all of them did.
func (e *Constrained) Shutdown(timeout time.Duration) bool {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Warnf("executor shutdown timed out after %s, %v still running", timeout, e.Statistics().RunningKeys)
		return false
	}
}

// start must be called with e.mu held.
func (e *Constrained) start(key string, job Job, prev *handle) {
	ctx, cancel := context.WithCancel(e.ctx)
	h := &handle{id: uuid.New(), key: key, cancel: cancel, done: make(chan struct{})}
	e.jobs[key] = h
	e.wg.Add(1)
	go e.run(ctx, h, job, prev)
}

func (e *Constrained) run(ctx context.Context, h *handle, job Job, prev *handle) {
	defer e.wg.Done()
	defer close(h.done)
	defer e.finish(h)

	if prev != nil {
		<-prev.done
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		log.Debugf("job %s for %s canceled while queued", h.id, h.key)
		return
	}
	defer e.sem.Release(1)
	if ctx.Err() != nil {
		log.Debugf("job %s for %s canceled while queued", h.id, h.key)
		return
	}

	started := time.Now()
	log.Debugf("job %s for %s started", h.id, h.key)
	err := safeRun(ctx, job)
	switch {
	case err == nil:
		log.Debugf("job %s for %s completed in %s", h.id, h.key, time.Since(started))
	case stderrors.Is(err, context.Canceled):
		log.Debugf("job %s for %s canceled after %s", h.id, h.key, time.Since(started))
	default:
		log.Warnf("job %s for %s failed: %v", h.id, h.key, err)
	}
}

// finish unregisters h unless a newer job already took its key.
func (e *Constrained) finish(h *handle) {
	e.mu.Lock()
	if cur, ok := e.jobs[h.key]; ok && cur == h {
		delete(e.jobs, h.key)
	}
	e.mu.Unlock()
	h.cancel()
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}
