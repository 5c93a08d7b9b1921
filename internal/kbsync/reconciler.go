package kbsync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"mime"
	"path"
	"time"

	"github.com/as775116191/ragflow/internal/changesource"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/telemetry"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// DocumentStore is the reconciler's view of a knowledge base's documents.
type DocumentStore interface {
	// FindLiveByRemoteID returns domain.ErrDocumentNotFound when no live
	// document carries remoteID.
	FindLiveByRemoteID(ctx context.Context, kbID, remoteID string) (*domain.Document, error)
	Create(ctx context.Context, doc *domain.Document) error
	// Replace tombstones old and inserts fresh atomically.
	Replace(ctx context.Context, old, fresh *domain.Document) error
	// Remove tombstones doc, drops its index entries and deletes its blob.
	Remove(ctx context.Context, doc *domain.Document) error
}

// BlobStore holds original document bytes.
type BlobStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

// Enqueuer hands a stored document to the parsing pipeline.
type Enqueuer interface {
	EnqueueForParsing(ctx context.Context, documentID string) error
}

// Outcome tallies what one Apply call did.
type Outcome struct {
	Created  int
	Replaced int
	Removed  int
	Skipped  int
	Failures []*domain.ReconciliationError
}

func (o Outcome) counters(records int) domain.SyncCounters {
	return domain.SyncCounters{
		Records:  records,
		Created:  o.Created,
		Replaced: o.Replaced,
		Removed:  o.Removed,
		Skipped:  o.Skipped,
		Failed:   len(o.Failures),
	}
}

// Reconciler applies change records to a knowledge base.
type Reconciler struct {
	docs         DocumentStore
	blobs        BlobStore
	enqueuer     Enqueuer
	policy       *ContentPolicy
	retry        changesource.RetryPolicy
	fetchTimeout time.Duration
	newID        func() string
	now          func() time.Time
}

// ReconcilerConfig tunes provider calls made while reconciling.
type ReconcilerConfig struct {
	Policy       *ContentPolicy
	Retry        changesource.RetryPolicy
	FetchTimeout time.Duration
}

// NewReconciler creates a Reconciler.
func NewReconciler(docs DocumentStore, blobs BlobStore, enqueuer Enqueuer, cfg ReconcilerConfig) *Reconciler {
	if cfg.Policy == nil {
		cfg.Policy = NewContentPolicy(nil)
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry = changesource.DefaultRetryPolicy()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Reconciler{
		docs:         docs,
		blobs:        blobs,
		enqueuer:     enqueuer,
		policy:       cfg.Policy,
		retry:        cfg.Retry,
		fetchTimeout: cfg.FetchTimeout,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// Apply reconciles one batch of records against kb. Folder records only feed
// folders. Per-record problems are collected in Outcome.Failures; a non-nil
// error means the provider refused further work and the run must stop.
func (r *Reconciler) Apply(ctx context.Context, kb *domain.KnowledgeBase, src changesource.ChangeSource, records []domain.ChangeRecord, folders FolderIndex) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "Reconciler.Apply", telemetry.SpanAttributes{
		TenantID: kb.TenantID,
		KBID:     kb.ID,
		SyncKind: string(src.Kind()),
	})
	defer span.End()

	if folders == nil {
		folders = FolderIndex{}
	}
	prefix := kb.Sync.FolderPrefix()

	files := make([]domain.ChangeRecord, 0, len(records))
	for _, rec := range records {
		if rec.IsFolder() {
			if rec.Op == domain.ChangeDeleted {
				delete(folders, rec.RemoteID)
			} else if p := folders.resolvePath(rec); p != "" {
				folders[rec.RemoteID] = p
			}
			continue
		}
		rec.Path = folders.resolvePath(rec)
		files = append(files, rec)
	}

	var out Outcome
	for _, rec := range collapse(files) {
		var err error
		switch {
		case rec.Op == domain.ChangeDeleted:
			err = r.applyOne(ctx, kb, src, rec, &out)
		case prefix != "" && rec.Path == "":
			err = errUnresolvedPath
		case !inScope(rec.Path, prefix):
			if rec.Op == domain.ChangeModified {
				err = r.dropMovedOut(ctx, kb, rec, &out)
			} else {
				out.Skipped++
			}
		case !r.policy.Allows(rec.Name):
			log.Printf("sync: kb %s skipping %q: unsupported kind", kb.ID, rec.Name)
			out.Skipped++
		default:
			err = r.applyOne(ctx, kb, src, rec, &out)
		}

		if err != nil {
			if isRunFatal(err) {
				span.SetError(err)
				return out, err
			}
			log.Printf("sync: kb %s %s %s failed: %v", kb.ID, rec.Op, rec.RemoteID, err)
			out.Failures = append(out.Failures, &domain.ReconciliationError{RemoteID: rec.RemoteID, Op: rec.Op, Err: err})
		}
	}
	return out, nil
}

var errUnresolvedPath = errors.New("remote path could not be resolved")

// dropMovedOut removes the live document of an item that now sits outside
// the synced folder.
func (r *Reconciler) dropMovedOut(ctx context.Context, kb *domain.KnowledgeBase, rec domain.ChangeRecord, out *Outcome) error {
	existing, err := r.docs.FindLiveByRemoteID(ctx, kb.ID, rec.RemoteID)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		out.Skipped++
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup document: %w", err)
	}
	if err := r.docs.Remove(ctx, existing); err != nil {
		return fmt.Errorf("remove moved document %s: %w", existing.ID, err)
	}
	out.Removed++
	return nil
}

func (r *Reconciler) applyOne(ctx context.Context, kb *domain.KnowledgeBase, src changesource.ChangeSource, rec domain.ChangeRecord, out *Outcome) error {
	existing, err := r.docs.FindLiveByRemoteID(ctx, kb.ID, rec.RemoteID)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return fmt.Errorf("lookup document: %w", err)
	}
	if err != nil {
		existing = nil
	}

	if rec.Op == domain.ChangeDeleted {
		if existing == nil {
			out.Skipped++
			return nil
		}
		if err := r.docs.Remove(ctx, existing); err != nil {
			return fmt.Errorf("remove document %s: %w", existing.ID, err)
		}
		out.Removed++
		return nil
	}

	data, err := r.fetch(ctx, src, rec)
	if err != nil {
		switch changesource.KindOf(err) {
		case changesource.KindNotFound:
			// Gone between listing and fetch.
			if existing == nil {
				out.Skipped++
				return nil
			}
			if err := r.docs.Remove(ctx, existing); err != nil {
				return fmt.Errorf("remove vanished document %s: %w", existing.ID, err)
			}
			out.Removed++
			return nil
		case changesource.KindUnauthenticated:
			return domain.ErrSyncAuth.Wrap(err)
		case changesource.KindRateLimited:
			return domain.ErrSyncTransient.Wrap(err)
		}
		return fmt.Errorf("fetch: %w", err)
	}

	hash := ContentHash(data)
	if existing != nil && existing.ContentHash == hash && existing.RemotePath == rec.Path && existing.Name == rec.Name {
		out.Skipped++
		return nil
	}

	fresh := r.newDocument(kb, src.Kind(), rec, data, hash)
	if err := r.blobs.PutObject(ctx, fresh.StorageKey, data, contentType(rec)); err != nil {
		return fmt.Errorf("store blob: %w", err)
	}

	if existing == nil {
		err = r.docs.Create(ctx, fresh)
	} else {
		err = r.docs.Replace(ctx, existing, fresh)
	}
	if err != nil {
		if delErr := r.blobs.DeleteObject(ctx, fresh.StorageKey); delErr != nil {
			log.Printf("sync: orphaned blob %s: %v", fresh.StorageKey, delErr)
		}
		return fmt.Errorf("save document: %w", err)
	}

	if existing == nil {
		out.Created++
	} else {
		if err := r.blobs.DeleteObject(ctx, existing.StorageKey); err != nil {
			log.Printf("sync: failed to delete replaced blob %s: %v", existing.StorageKey, err)
		}
		out.Replaced++
	}

	if err := r.enqueuer.EnqueueForParsing(ctx, fresh.ID); err != nil {
		log.Printf("sync: failed to enqueue document %s for parsing: %v", fresh.ID, err)
		telemetry.CaptureError(ctx, fmt.Errorf("enqueue document %s: %w", fresh.ID, err))
	}
	return nil
}

func (r *Reconciler) fetch(ctx context.Context, src changesource.ChangeSource, rec domain.ChangeRecord) ([]byte, error) {
	return changesource.Retry(ctx, r.retry, "fetch "+rec.RemoteID, func(ctx context.Context) ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
		return src.FetchObject(callCtx, changesource.RefFor(rec))
	})
}

func (r *Reconciler) newDocument(kb *domain.KnowledgeBase, kind domain.SyncKind, rec domain.ChangeRecord, data []byte, hash string) *domain.Document {
	id := r.newID()
	now := r.now()
	return &domain.Document{
		ID:          id,
		KBID:        kb.ID,
		Name:        rec.Name,
		Kind:        domain.DocumentKind(rec.Name),
		Size:        int64(len(data)),
		ContentHash: hash,
		StorageKey:  domain.DocumentStorageKey(kb.ID, id, rec.Name),
		Source:      domain.SourceForKind(kind),
		RemoteID:    rec.RemoteID,
		RemotePath:  rec.Path,
		Status:      domain.DocumentStatusUnstarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ContentHash is the hex blake3 digest stored with every document.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func contentType(rec domain.ChangeRecord) string {
	if rec.MediaType != "" {
		return rec.MediaType
	}
	if ct := mime.TypeByExtension(path.Ext(rec.Name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// isRunFatal reports whether err must stop the whole run rather than just
// the record that produced it.
func isRunFatal(err error) bool {
	return errors.Is(err, domain.ErrSyncAuth) || errors.Is(err, domain.ErrSyncTransient)
}
