package kbsync

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
)

// Run is one in-flight synchronization of a knowledge base.
type Run struct {
	ID        string
	KBID      string
	Kind      domain.SyncKind
	Trigger   domain.SyncTrigger
	StartedAt time.Time

	cancelled atomic.Bool
	mu        sync.Mutex
	reason    string
	done      chan struct{}
	result    *domain.SyncResult
}

func newRun(id, kbID string, kind domain.SyncKind, trigger domain.SyncTrigger, startedAt time.Time) *Run {
	return &Run{
		ID:        id,
		KBID:      kbID,
		Kind:      kind,
		Trigger:   trigger,
		StartedAt: startedAt,
		done:      make(chan struct{}),
	}
}

// Cancel asks the run to stop at the next page boundary. The first reason
// given is kept.
func (r *Run) Cancel(reason string) {
	r.mu.Lock()
	if !r.cancelled.Load() {
		r.reason = reason
	}
	r.cancelled.Store(true)
	r.mu.Unlock()
}

// Cancelled reports whether Cancel was called.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

func (r *Run) cancelReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Done is closed once the run has reached a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (*domain.SyncResult, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the terminal result, or nil while the run is in flight.
func (r *Run) Result() *domain.SyncResult {
	select {
	case <-r.done:
		return r.result
	default:
		return nil
	}
}

// Registry tracks at most one run per knowledge base and remembers the last
// terminal result of each.
type Registry struct {
	runs sync.Map // kbID -> *Run

	mu   sync.RWMutex
	last map[string]*domain.SyncResult
}

func NewRegistry() *Registry {
	return &Registry{last: make(map[string]*domain.SyncResult)}
}

// Register inserts run unless its knowledge base already has one. It
// returns the run that holds the slot and whether it was already present.
func (g *Registry) Register(run *Run) (*Run, bool) {
	actual, loaded := g.runs.LoadOrStore(run.KBID, run)
	return actual.(*Run), loaded
}

// Get returns the active run of a knowledge base.
func (g *Registry) Get(kbID string) (*Run, bool) {
	v, ok := g.runs.Load(kbID)
	if !ok {
		return nil, false
	}
	return v.(*Run), true
}

// Finish records result, frees the slot and wakes waiters.
func (g *Registry) Finish(run *Run, result *domain.SyncResult) {
	run.result = result

	g.mu.Lock()
	g.last[run.KBID] = result
	g.mu.Unlock()

	g.runs.CompareAndDelete(run.KBID, run)
	close(run.done)
}

// Last returns the most recent terminal result for a knowledge base.
func (g *Registry) Last(kbID string) *domain.SyncResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.last[kbID]
}

// Running lists active runs ordered by start time.
func (g *Registry) Running() []*Run {
	var out []*Run
	g.runs.Range(func(_, v any) bool {
		out = append(out, v.(*Run))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
