package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// DocumentStatus is the ingestion status of a document.
type DocumentStatus string

const (
	DocumentStatusUnstarted DocumentStatus = "unstarted"
	DocumentStatusRunning   DocumentStatus = "running"
	DocumentStatusDone      DocumentStatus = "done"
	DocumentStatusFailed    DocumentStatus = "failed"
	DocumentStatusCancelled DocumentStatus = "cancelled"
)

func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusUnstarted, DocumentStatusRunning, DocumentStatusDone, DocumentStatusFailed, DocumentStatusCancelled:
		return true
	}
	return false
}

// DocumentSource records how a document entered the knowledge base.
type DocumentSource string

const (
	DocumentSourceUpload  DocumentSource = "upload"
	DocumentSourceDrive   DocumentSource = "drive"
	DocumentSourceMailbox DocumentSource = "mailbox"
)

// SourceForKind maps a sync kind to the document source it produces.
func SourceForKind(kind SyncKind) DocumentSource {
	if kind == SyncKindMailbox {
		return DocumentSourceMailbox
	}
	return DocumentSourceDrive
}

// Document belongs to exactly one knowledge base. RemoteID is set only for
// synchronized documents and is unique among live documents of the same
// knowledge base.
type Document struct {
	ID          string
	KBID        string
	Name        string
	Kind        string
	Size        int64
	ContentHash string
	StorageKey  string
	Source      DocumentSource
	RemoteID    string
	RemotePath  string
	Status      DocumentStatus
	StatusMsg   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// IsDeleted reports whether the document has been tombstoned.
func (d *Document) IsDeleted() bool {
	return d.DeletedAt != nil
}

// IsSynced reports whether the document mirrors a remote object.
func (d *Document) IsSynced() bool {
	return d.RemoteID != ""
}

// DocumentKind returns the lower-case extension of name without the dot.
func DocumentKind(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// DocumentStorageKey is the blob key for a document's original bytes.
func DocumentStorageKey(kbID, documentID, name string) string {
	return fmt.Sprintf("kb/%s/%s/%s", kbID, documentID, path.Base(name))
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.KBID == "" {
		return fmt.Errorf("document KBID is required")
	}
	if d.Name == "" {
		return fmt.Errorf("document Name is required")
	}
	if d.StorageKey == "" {
		return fmt.Errorf("document StorageKey is required")
	}
	if !d.Status.IsValid() {
		return ErrInvalidDocumentStatus
	}
	return nil
}
