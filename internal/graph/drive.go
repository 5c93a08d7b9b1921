package graph

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/as775116191/ragflow/internal/changesource"
	"github.com/as775116191/ragflow/internal/domain"
)

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	Folder  *struct{} `json:"folder"`
	Root    *struct{} `json:"root"`
	Deleted *struct {
		State string `json:"state"`
	} `json:"deleted"`
	ParentReference struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	} `json:"parentReference"`
}

type driveItemPage struct {
	Value     []driveItem `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

// DriveSource reads a user's OneDrive through the delta API. Cursors are the
// opaque nextLink/deltaLink URLs Graph returns.
type DriveSource struct {
	client  *Client
	account string

	mu sync.Mutex
	// folder id -> drive path; delta items carry no parentReference.path.
	paths map[string]string
}

// NewDriveSource returns a source for the drive owned by account.
func NewDriveSource(client *Client, account string) *DriveSource {
	return &DriveSource{client: client, account: account, paths: map[string]string{}}
}

func (s *DriveSource) Kind() domain.SyncKind { return domain.SyncKindDrive }

// ResumablePages is false: nextLink tokens are short-lived.
func (s *DriveSource) ResumablePages() bool { return false }

func (s *DriveSource) deltaURL() string {
	return s.client.userURL(s.account, "/drive/root/delta")
}

func (s *DriveSource) ChangesSince(ctx context.Context, cursor string) (*changesource.Page, error) {
	target := cursor
	if target == "" {
		target = s.deltaURL()
	} else if !s.client.isOwnURL(target) || !strings.HasPrefix(target, s.deltaURL()) {
		return nil, changesource.NewError(changesource.KindUnknown, "drive delta", errors.New("cursor is not a delta link for this drive"))
	}

	var page driveItemPage
	err := s.client.getJSON(ctx, "drive delta", target, &page)
	if err != nil && errors.Is(err, errResyncRequired) {
		// Graph expired the delta token: start over with a full enumeration.
		log.Printf("graph: drive delta for %s expired, re-enumerating", s.account)
		cursor = ""
		err = s.client.getJSON(ctx, "drive delta", s.deltaURL(), &page)
	}
	if err != nil {
		return nil, err
	}

	op := domain.ChangeModified
	if cursor == "" {
		op = domain.ChangeAdded
	}

	out := &changesource.Page{Records: make([]domain.ChangeRecord, 0, len(page.Value))}
	for i, item := range page.Value {
		rec := item.toRecord(op)
		rec.Seq = int64(i + 1)
		out.Records = append(out.Records, rec)
	}
	if err := s.resolvePaths(ctx, out.Records); err != nil {
		return nil, err
	}

	switch {
	case page.NextLink != "":
		out.NextCursor = page.NextLink
		out.HasMore = true
	case page.DeltaLink != "":
		out.NextCursor = page.DeltaLink
	default:
		return nil, changesource.NewError(changesource.KindUnknown, "drive delta", errors.New("response has neither nextLink nor deltaLink"))
	}
	return out, nil
}

// ListUnderPath walks the folder at path recursively.
func (s *DriveSource) ListUnderPath(ctx context.Context, path string) ([]domain.ChangeRecord, error) {
	path = "/" + strings.Trim(path, "/")
	var out []domain.ChangeRecord

	queue := []string{path}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		next := s.childrenURL(dir)
		for next != "" {
			var page driveItemPage
			if err := s.client.getJSON(ctx, "drive list "+dir, next, &page); err != nil {
				return nil, err
			}
			for _, item := range page.Value {
				rec := item.toRecord(domain.ChangeAdded)
				rec.Path = joinPath(dir, item.Name)
				if item.Folder != nil {
					queue = append(queue, rec.Path)
					continue
				}
				out = append(out, rec)
			}
			next = page.NextLink
		}
	}
	return out, nil
}

// resolvePaths fills Path on live records from the folder cache, looking up
// parents the cache has not seen yet. Records whose parent is gone keep an
// empty path.
func (s *DriveSource) resolvePaths(ctx context.Context, recs []domain.ChangeRecord) error {
	for i := range recs {
		rec := &recs[i]
		if rec.Op == domain.ChangeDeleted {
			if rec.IsFolder() {
				s.forget(rec.RemoteID)
			}
			continue
		}
		if rec.Path == "" && rec.ParentID != "" && rec.Name != "" {
			parent, err := s.folderPath(ctx, rec.ParentID)
			if err != nil {
				return err
			}
			if parent != "" {
				rec.Path = joinPath(parent, rec.Name)
			}
		}
		if rec.IsFolder() && rec.Path != "" {
			s.remember(rec.RemoteID, rec.Path)
		}
	}
	return nil
}

func (s *DriveSource) folderPath(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	p, ok := s.paths[id]
	s.mu.Unlock()
	if ok {
		return p, nil
	}

	var item driveItem
	target := s.client.userURL(s.account, "/drive/items/"+url.PathEscape(id)+"?$select=id,name,root,parentReference")
	err := s.client.getJSON(ctx, "drive item "+id, target, &item)
	if changesource.KindOf(err) == changesource.KindNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	switch {
	case item.Root != nil:
		p = "/"
	default:
		parent, ok := drivePath(item.ParentReference.Path)
		if !ok || item.Name == "" {
			return "", nil
		}
		p = joinPath(parent, item.Name)
	}
	s.remember(id, p)
	return p, nil
}

func (s *DriveSource) remember(id, p string) {
	s.mu.Lock()
	s.paths[id] = p
	s.mu.Unlock()
}

func (s *DriveSource) forget(id string) {
	s.mu.Lock()
	delete(s.paths, id)
	s.mu.Unlock()
}

func (s *DriveSource) childrenURL(dir string) string {
	if dir == "/" {
		return s.client.userURL(s.account, "/drive/root/children")
	}
	return s.client.userURL(s.account, "/drive/root:"+escapePath(dir)+":/children")
}

func (s *DriveSource) FetchObject(ctx context.Context, ref changesource.ObjectRef) ([]byte, error) {
	var target string
	switch {
	case ref.ID != "":
		target = s.client.userURL(s.account, "/drive/items/"+url.PathEscape(ref.ID)+"/content")
	case ref.Path != "":
		target = s.client.userURL(s.account, "/drive/root:"+escapePath(ref.Path)+":/content")
	default:
		return nil, changesource.NewError(changesource.KindNotFound, "drive fetch", errors.New("empty object reference"))
	}
	return s.client.get(ctx, "drive fetch "+ref.ID, target, "*/*")
}

// LatestCursor asks Graph for a delta link positioned at the current state
// without enumerating items.
func (s *DriveSource) LatestCursor(ctx context.Context) (string, error) {
	var page driveItemPage
	if err := s.client.getJSON(ctx, "drive delta latest", s.deltaURL()+"?token=latest", &page); err != nil {
		return "", err
	}
	if page.DeltaLink == "" {
		return "", changesource.NewError(changesource.KindUnknown, "drive delta latest", errors.New("no deltaLink in response"))
	}
	return page.DeltaLink, nil
}

func (item driveItem) toRecord(op domain.ChangeOp) domain.ChangeRecord {
	rec := domain.ChangeRecord{
		Op:         op,
		RemoteID:   item.ID,
		Name:       item.Name,
		ParentID:   item.ParentReference.ID,
		ItemKind:   domain.ItemFile,
		Size:       item.Size,
		ModifiedAt: item.LastModifiedDateTime,
	}
	if item.Folder != nil || item.Root != nil {
		rec.ItemKind = domain.ItemFolder
	}
	if item.File != nil {
		rec.MediaType = item.File.MimeType
	}
	if item.Deleted != nil {
		rec.Op = domain.ChangeDeleted
	}
	switch {
	case item.Root != nil:
		rec.Path = "/"
	default:
		if parent, ok := drivePath(item.ParentReference.Path); ok && item.Name != "" {
			rec.Path = joinPath(parent, item.Name)
		}
	}
	return rec
}

// drivePath converts "/drive/root:/A/B" into "/A/B".
func drivePath(ref string) (string, bool) {
	_, after, ok := strings.Cut(ref, "root:")
	if !ok {
		return "", false
	}
	if after == "" {
		return "/", true
	}
	unescaped, err := url.PathUnescape(after)
	if err != nil {
		unescaped = after
	}
	return unescaped, true
}

func joinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
