package kbsync

import (
	"strings"

	"github.com/as775116191/ragflow/internal/domain"
)

// DefaultExtensions are the document kinds the ingestion pipeline accepts.
var DefaultExtensions = []string{
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "rtf",
	"txt", "md", "markdown", "csv", "tsv", "json", "xml", "yaml", "yml", "html", "htm", "log",
	"eml", "msg",
}

// ContentPolicy decides which remote files become documents.
type ContentPolicy struct {
	allowed map[string]struct{}
}

// NewContentPolicy builds a policy from an extension allow-list. Extensions
// are matched case-insensitively with or without a leading dot. An empty
// list falls back to DefaultExtensions.
func NewContentPolicy(extensions []string) *ContentPolicy {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	p := &ContentPolicy{allowed: make(map[string]struct{}, len(extensions))}
	for _, ext := range extensions {
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if ext != "" {
			p.allowed[ext] = struct{}{}
		}
	}
	return p
}

// Allows reports whether a file with this name may be ingested.
func (p *ContentPolicy) Allows(name string) bool {
	kind := domain.DocumentKind(name)
	if kind == "" {
		return false
	}
	_, ok := p.allowed[kind]
	return ok
}

// FolderIndex maps remote folder ids to their full paths. It is filled from
// folder records as pages arrive and lives for one run.
type FolderIndex map[string]string

// resolvePath returns the record's full path, deriving it from the parent
// folder when the source did not supply one.
func (f FolderIndex) resolvePath(rec domain.ChangeRecord) string {
	if rec.Path != "" {
		return rec.Path
	}
	if parent, ok := f[rec.ParentID]; ok && rec.Name != "" {
		return strings.TrimSuffix(parent, "/") + "/" + rec.Name
	}
	return ""
}

// inScope reports whether path lies under prefix. An empty prefix matches
// everything; an unknown path never matches a non-empty prefix.
func inScope(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if path == "" {
		return false
	}
	p := strings.ToLower(path)
	pre := strings.ToLower(prefix)
	return p == pre || strings.HasPrefix(p, pre+"/")
}

// collapse reduces records to one per remote id. When the source numbers its
// records the highest sequence wins; otherwise the last non-delete wins unless
// the id was also deleted in the batch, in which case the delete wins. The
// result lists every non-delete before any delete.
func collapse(records []domain.ChangeRecord) []domain.ChangeRecord {
	type slot struct {
		rec     domain.ChangeRecord
		deleted bool
	}
	order := make([]string, 0, len(records))
	slots := make(map[string]*slot, len(records))

	for _, rec := range records {
		s, ok := slots[rec.RemoteID]
		if !ok {
			slots[rec.RemoteID] = &slot{rec: rec, deleted: rec.Op == domain.ChangeDeleted}
			order = append(order, rec.RemoteID)
			continue
		}
		if rec.Seq > 0 || s.rec.Seq > 0 {
			if rec.Seq >= s.rec.Seq {
				s.rec = rec
			}
			s.deleted = s.rec.Op == domain.ChangeDeleted
			continue
		}
		if rec.Op == domain.ChangeDeleted {
			s.deleted = true
			s.rec = rec
		} else if !s.deleted {
			s.rec = rec
		}
	}

	out := make([]domain.ChangeRecord, 0, len(order))
	var deletes []domain.ChangeRecord
	for _, id := range order {
		s := slots[id]
		if s.rec.Op == domain.ChangeDeleted {
			deletes = append(deletes, s.rec)
			continue
		}
		out = append(out, s.rec)
	}
	return append(out, deletes...)
}
