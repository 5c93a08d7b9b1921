package domain

import "time"

// ChangeOp is the kind of change a remote source reports for an object.
type ChangeOp string

const (
	ChangeAdded    ChangeOp = "added"
	ChangeModified ChangeOp = "modified"
	ChangeDeleted  ChangeOp = "deleted"
)

// ItemKind distinguishes files from folders in a change feed.
type ItemKind string

const (
	ItemFile   ItemKind = "file"
	ItemFolder ItemKind = "folder"
)

// ChangeRecord is one entry of a remote change feed. Records live for a single
// sync run and are never persisted.
type ChangeRecord struct {
	Op       ChangeOp
	RemoteID string
	// Path is the full remote path including the object name, when known.
	Path     string
	Name     string
	ParentID string
	ItemKind ItemKind
	// Size and ModifiedAt are only meaningful for files.
	Size       int64
	ModifiedAt time.Time
	MediaType  string
	// Seq is the source's own ordering of the record; zero when the source
	// gives no ordering.
	Seq int64
}

// IsFolder reports whether the record describes a folder.
func (r ChangeRecord) IsFolder() bool {
	return r.ItemKind == ItemFolder
}
