// Package kbsync keeps a knowledge base's documents consistent with a remote
// change source: it runs one sync per knowledge base at a time, reconciles
// change pages into documents and commits the source cursor only when a run
// succeeds.
package kbsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/as775116191/ragflow/internal/changesource"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/telemetry"
	"github.com/google/uuid"
)

// KnowledgeBaseStore loads knowledge bases for syncing.
type KnowledgeBaseStore interface {
	GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error)
	ListSyncEnabled(ctx context.Context) ([]*domain.KnowledgeBase, error)
}

// CursorStore persists the per-knowledge-base source position. A cursor
// stored for a different kind reads as empty.
type CursorStore interface {
	Get(ctx context.Context, kbID string, kind domain.SyncKind) (string, error)
	Set(ctx context.Context, kbID string, kind domain.SyncKind, cursor string) error
	Delete(ctx context.Context, kbID string) error
}

// SourceFactory builds the change source a knowledge base syncs from.
type SourceFactory interface {
	ForKnowledgeBase(kb *domain.KnowledgeBase) (changesource.ChangeSource, error)
}

// Config bounds a run.
type Config struct {
	// RunTimeout self-cancels a run that takes longer.
	RunTimeout time.Duration
	// FetchTimeout bounds every individual provider call.
	FetchTimeout time.Duration
	Retry        changesource.RetryPolicy
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		RunTimeout:   30 * time.Minute,
		FetchTimeout: 30 * time.Second,
		Retry:        changesource.DefaultRetryPolicy(),
	}
}

// Orchestrator owns the sync lifecycle of every knowledge base.
type Orchestrator struct {
	kbs        KnowledgeBaseStore
	cursors    CursorStore
	sources    SourceFactory
	reconciler *Reconciler
	registry   *Registry
	cfg        Config

	baseCtx context.Context
	stop    context.CancelFunc
	now     func() time.Time
}

// NewOrchestrator creates an Orchestrator. Runs outlive the request that
// started them and end on Shutdown.
func NewOrchestrator(kbs KnowledgeBaseStore, cursors CursorStore, sources SourceFactory, reconciler *Reconciler, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry = def.Retry
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		kbs:        kbs,
		cursors:    cursors,
		sources:    sources,
		reconciler: reconciler,
		registry:   NewRegistry(),
		cfg:        cfg,
		baseCtx:    ctx,
		stop:       stop,
		now:        time.Now,
	}
}

// Start validates the knowledge base, claims its sync slot and runs the sync
// in the background. Configuration problems are returned before any run is
// registered.
func (o *Orchestrator) Start(ctx context.Context, kbID string, trigger domain.SyncTrigger) (*Run, error) {
	kb, err := o.kbs.GetByID(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if !kb.Sync.Enabled {
		return nil, domain.ErrSyncNotEnabled
	}
	src, err := o.sources.ForKnowledgeBase(kb)
	if err != nil {
		return nil, err
	}

	run := newRun(uuid.NewString(), kb.ID, src.Kind(), trigger, o.now())
	if _, loaded := o.registry.Register(run); loaded {
		return nil, domain.ErrAlreadyRunning
	}

	log.Printf("sync: kb %s %s sync started (%s, run %s)", kb.ID, run.Kind, trigger, run.ID)
	go o.execute(run, kb, src)
	return run, nil
}

// Sync runs a sync and waits for its result.
func (o *Orchestrator) Sync(ctx context.Context, kbID string, trigger domain.SyncTrigger) (*domain.SyncResult, error) {
	run, err := o.Start(ctx, kbID, trigger)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

// Cancel flags the active run of kbID and waits up to wait for it to end.
// The result is nil when the run is still winding down.
func (o *Orchestrator) Cancel(ctx context.Context, kbID string, wait time.Duration) (*domain.SyncResult, error) {
	run, ok := o.registry.Get(kbID)
	if !ok {
		return nil, domain.ErrNotRunning
	}
	run.Cancel("cancelled by request")
	log.Printf("sync: kb %s cancellation requested (run %s)", kbID, run.ID)

	if wait <= 0 {
		return run.Result(), nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-run.Done():
		return run.Result(), nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsRunning reports whether kbID has an active run.
func (o *Orchestrator) IsRunning(kbID string) bool {
	_, ok := o.registry.Get(kbID)
	return ok
}

// Status describes the current run of kbID and its last result.
func (o *Orchestrator) Status(kbID string) domain.SyncStatus {
	st := domain.SyncStatus{KBID: kbID, State: domain.SyncStateIdle, Last: o.registry.Last(kbID)}
	if run, ok := o.registry.Get(kbID); ok {
		started := run.StartedAt
		st.State = domain.SyncStateRunning
		st.Kind = run.Kind
		st.StartedAt = &started
	}
	return st
}

// ListRunning returns the status of every active run.
func (o *Orchestrator) ListRunning() []domain.SyncStatus {
	runs := o.registry.Running()
	out := make([]domain.SyncStatus, 0, len(runs))
	for _, run := range runs {
		started := run.StartedAt
		out = append(out, domain.SyncStatus{
			KBID:      run.KBID,
			State:     domain.SyncStateRunning,
			Kind:      run.Kind,
			StartedAt: &started,
			Last:      o.registry.Last(run.KBID),
		})
	}
	return out
}

// Reset forgets the stored cursor so the next run enumerates from scratch.
func (o *Orchestrator) Reset(ctx context.Context, kbID string) error {
	if o.IsRunning(kbID) {
		return domain.ErrSyncInProgress
	}
	if err := o.cursors.Delete(ctx, kbID); err != nil {
		return fmt.Errorf("failed to reset sync cursor: %w", err)
	}
	log.Printf("sync: kb %s cursor reset", kbID)
	return nil
}

// Shutdown cancels every active run and waits for them until ctx ends, after
// which in-flight provider calls are aborted.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	runs := o.registry.Running()
	for _, run := range runs {
		run.Cancel("server shutting down")
	}
	defer o.stop()
	for _, run := range runs {
		select {
		case <-run.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// runState carries the bookkeeping of one execution.
type runState struct {
	run      *Run
	kb       *domain.KnowledgeBase
	src      changesource.ChangeSource
	result   *domain.SyncResult
	failures int
}

func (o *Orchestrator) execute(run *Run, kb *domain.KnowledgeBase, src changesource.ChangeSource) {
	ctx, span := telemetry.StartSpan(o.baseCtx, "Orchestrator.Run", telemetry.SpanAttributes{
		TenantID: kb.TenantID,
		KBID:     kb.ID,
		SyncKind: string(run.Kind),
	})

	st := &runState{
		run: run,
		kb:  kb,
		src: src,
		result: &domain.SyncResult{
			KBID:      kb.ID,
			Kind:      run.Kind,
			Trigger:   run.Trigger,
			State:     domain.SyncStateRunning,
			StartedAt: run.StartedAt,
		},
	}

	budget := time.AfterFunc(o.cfg.RunTimeout, func() {
		run.Cancel(fmt.Sprintf("run exceeded its %s budget", o.cfg.RunTimeout))
	})

	defer func() {
		budget.Stop()
		if p := recover(); p != nil {
			err := fmt.Errorf("sync panic: %v", p)
			log.Printf("sync: kb %s run %s panicked: %v\n%s", kb.ID, run.ID, p, debug.Stack())
			st.result.State = domain.SyncStateFailed
			st.result.Reason = err.Error()
			span.SetError(err)
		}
		st.result.FinishedAt = o.now()
		o.registry.Finish(run, st.result)
		span.End()
		log.Printf("sync: kb %s run %s finished: %s %+v", kb.ID, run.ID, st.result.State, st.result.Counters)
	}()

	if err := o.sync(ctx, st); err != nil {
		st.result.State = domain.SyncStateFailed
		st.result.Reason = err.Error()
		span.SetError(err)
		return
	}
	if st.result.Partial {
		telemetry.CaptureMessage(ctx, fmt.Sprintf("sync of kb %s partially failed: %s", kb.ID, st.result.Reason))
	}
}

// sync drives one run to a terminal state. A returned error fails the run;
// otherwise st.result carries the outcome.
func (o *Orchestrator) sync(ctx context.Context, st *runState) error {
	cursor, err := o.cursors.Get(ctx, st.kb.ID, st.run.Kind)
	if err != nil {
		return fmt.Errorf("failed to load sync cursor: %w", err)
	}
	st.kb.Cursor = cursor

	if cursor == "" && st.kb.Sync.FolderPrefix() != "" && st.run.Kind == domain.SyncKindDrive {
		return o.scopedFirstSync(ctx, st)
	}
	return o.pageLoop(ctx, st, cursor)
}

// scopedFirstSync enumerates only the configured folder and then anchors the
// cursor at the position captured before the listing started.
func (o *Orchestrator) scopedFirstSync(ctx context.Context, st *runState) error {
	prefix := st.kb.Sync.FolderPrefix()

	baseline, err := call(ctx, o, "latest cursor", func(ctx context.Context) (string, error) {
		return st.src.LatestCursor(ctx)
	})
	if err != nil {
		return providerError(err)
	}
	records, err := call(ctx, o, "list "+prefix, func(ctx context.Context) ([]domain.ChangeRecord, error) {
		return st.src.ListUnderPath(ctx, prefix)
	})
	if changesource.KindOf(err) == changesource.KindNotFound {
		return domain.ErrSyncConfiguration.Wrap(fmt.Errorf("folder %q not found: %w", prefix, err))
	}
	if err != nil {
		return providerError(err)
	}
	if st.run.Cancelled() {
		o.markCancelled(st)
		return nil
	}

	outcome, err := o.reconciler.Apply(ctx, st.kb, st.src, records, nil)
	o.tally(st, outcome, len(records))
	if err != nil {
		return err
	}
	if st.failures > 0 {
		o.markPartial(st)
		return nil
	}
	return o.commit(ctx, st, baseline)
}

func (o *Orchestrator) pageLoop(ctx context.Context, st *runState, cursor string) error {
	folders := FolderIndex{}
	resumable := st.src.ResumablePages()
	lastGood := cursor
	pos := cursor

	for {
		page, err := call(ctx, o, "changes", func(ctx context.Context) (*changesource.Page, error) {
			return st.src.ChangesSince(ctx, pos)
		})
		if err != nil {
			o.commitPartialProgress(ctx, st, resumable, cursor, lastGood)
			return providerError(err)
		}
		if st.run.Cancelled() {
			o.markCancelled(st)
			return nil
		}

		outcome, err := o.reconciler.Apply(ctx, st.kb, st.src, page.Records, folders)
		o.tally(st, outcome, len(page.Records))
		telemetry.AddBreadcrumb(ctx, "sync", fmt.Sprintf("kb %s page %d: %d records, %d failed",
			st.kb.ID, st.result.Counters.Pages, len(page.Records), len(outcome.Failures)))
		if err != nil {
			o.commitPartialProgress(ctx, st, resumable, cursor, lastGood)
			return err
		}
		if st.failures == 0 {
			lastGood = page.NextCursor
		}

		if !page.HasMore {
			if st.failures > 0 {
				o.commitPartialProgress(ctx, st, resumable, cursor, lastGood)
				o.markPartial(st)
				return nil
			}
			return o.commit(ctx, st, page.NextCursor)
		}
		pos = page.NextCursor
	}
}

func (o *Orchestrator) tally(st *runState, outcome Outcome, records int) {
	c := outcome.counters(records)
	c.Pages = 1
	st.result.Counters.Add(c)
	st.failures += len(outcome.Failures)
}

func (o *Orchestrator) commit(ctx context.Context, st *runState, cursor string) error {
	if err := o.cursors.Set(ctx, st.kb.ID, st.run.Kind, cursor); err != nil {
		return fmt.Errorf("failed to commit sync cursor: %w", err)
	}
	st.result.CursorSet = true
	st.result.State = domain.SyncStateCommitted
	return nil
}

// commitPartialProgress advances a resumable source to the last page that
// reconciled cleanly. Non-resumable sources keep their previous cursor.
func (o *Orchestrator) commitPartialProgress(ctx context.Context, st *runState, resumable bool, start, lastGood string) {
	if !resumable || lastGood == start {
		return
	}
	if err := o.cursors.Set(ctx, st.kb.ID, st.run.Kind, lastGood); err != nil {
		log.Printf("sync: kb %s failed to save partial progress: %v", st.kb.ID, err)
		return
	}
	st.result.CursorSet = true
}

func (o *Orchestrator) markCancelled(st *runState) {
	st.result.State = domain.SyncStateCancelled
	st.result.Reason = st.run.cancelReason()
}

func (o *Orchestrator) markPartial(st *runState) {
	st.result.State = domain.SyncStateFailed
	st.result.Partial = true
	st.result.Reason = fmt.Sprintf("%d of %d records failed", st.failures, st.result.Counters.Records)
}

// call runs one provider call under the per-call timeout with the inline
// transient retry.
func call[T any](ctx context.Context, o *Orchestrator, name string, fn func(context.Context) (T, error)) (T, error) {
	return changesource.Retry(ctx, o.cfg.Retry, name, func(ctx context.Context) (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

// providerError maps a change source failure onto the sync error taxonomy.
func providerError(err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	switch changesource.KindOf(err) {
	case changesource.KindUnauthenticated:
		return domain.ErrSyncAuth.Wrap(err)
	case changesource.KindRateLimited, changesource.KindTransient:
		return domain.ErrSyncTransient.Wrap(err)
	default:
		return fmt.Errorf("change source: %w", err)
	}
}
