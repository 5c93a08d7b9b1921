package kbsync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/as775116191/ragflow/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Scheduler periodically syncs every knowledge base with sync enabled. It is
// a jobs.JobProcessor.
type Scheduler struct {
	kbs         KnowledgeBaseStore
	orch        *Orchestrator
	concurrency int
}

// NewScheduler creates a Scheduler running at most concurrency syncs at once.
func NewScheduler(kbs KnowledgeBaseStore, orch *Orchestrator, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{kbs: kbs, orch: orch, concurrency: concurrency}
}

// ProcessJobs runs one scheduling round and waits for it to finish. A failing
// knowledge base never stops the others.
func (s *Scheduler) ProcessJobs(ctx context.Context) error {
	kbs, err := s.kbs.ListSyncEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sync-enabled knowledge bases: %w", err)
	}
	if len(kbs) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, kb := range kbs {
		if s.orch.IsRunning(kb.ID) {
			continue
		}
		g.Go(func() error {
			result, err := s.orch.Sync(ctx, kb.ID, domain.SyncTriggerScheduled)
			switch {
			case errors.Is(err, domain.ErrAlreadyRunning):
			case err != nil:
				log.Printf("scheduler: kb %s sync not started: %v", kb.ID, err)
			case result != nil && result.State != domain.SyncStateCommitted:
				log.Printf("scheduler: kb %s sync ended %s: %s", kb.ID, result.State, result.Reason)
			}
			return nil
		})
	}
	return g.Wait()
}
