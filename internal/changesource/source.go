// Package changesource defines the contract a remote provider implements to
// feed a knowledge base sync.
package changesource

import (
	"context"

	"github.com/as775116191/ragflow/internal/domain"
)

// Page is one page of a change feed. When HasMore is false NextCursor is the
// position to persist once the run commits.
type Page struct {
	Records    []domain.ChangeRecord
	NextCursor string
	HasMore    bool
}

// ObjectRef identifies a remote object by provider id, path, or both.
type ObjectRef struct {
	ID   string
	Path string
}

// RefFor builds the fetch reference for a change record.
func RefFor(r domain.ChangeRecord) ObjectRef {
	return ObjectRef{ID: r.RemoteID, Path: r.Path}
}

// ChangeSource is a remote provider. All methods must be idempotent and safe
// to retry. Errors are *Error values carrying a Kind.
type ChangeSource interface {
	Kind() domain.SyncKind

	// ChangesSince returns the page after cursor. An empty cursor enumerates
	// every current object as an added record.
	ChangesSince(ctx context.Context, cursor string) (*Page, error)

	// ListUnderPath enumerates every file below path, for scoped first syncs.
	ListUnderPath(ctx context.Context, path string) ([]domain.ChangeRecord, error)

	// FetchObject returns the bytes of a remote file.
	FetchObject(ctx context.Context, ref ObjectRef) ([]byte, error)

	// LatestCursor returns a cursor positioned at "now", used as the baseline
	// after a ListUnderPath enumeration.
	LatestCursor(ctx context.Context) (string, error)

	// ResumablePages reports whether an intermediate NextCursor may be
	// persisted and presented again later.
	ResumablePages() bool
}
