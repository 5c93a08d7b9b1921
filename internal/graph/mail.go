package graph

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/as775116191/ragflow/internal/changesource"
	"github.com/as775116191/ragflow/internal/domain"
)

const (
	mailPageSize     = 50
	pageCursorPrefix = "page:"
)

type mailFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type mailFolderPage struct {
	Value    []mailFolder `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type message struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
}

type messagePage struct {
	Value    []message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// MailSource mirrors one Outlook mail folder. Its cursor is a watermark: the
// time the last committed run started. Intermediate page cursors carry the
// run's watermark together with the Graph nextLink.
type MailSource struct {
	client  *Client
	account string
	folder  string
	now     func() time.Time

	mu       sync.Mutex
	folderID string
}

// NewMailSource returns a source for folder in account's mailbox. folder may
// name a nested folder as "Parent/Child".
func NewMailSource(client *Client, account, folder string) *MailSource {
	return &MailSource{client: client, account: account, folder: folder, now: time.Now}
}

func (s *MailSource) Kind() domain.SyncKind { return domain.SyncKindMailbox }

func (s *MailSource) ResumablePages() bool { return false }

// resolveFolder finds the configured folder by display name. A missing
// folder is a configuration error; no other folder is substituted.
func (s *MailSource) resolveFolder(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.folderID != "" {
		return s.folderID, nil
	}

	segments := strings.Split(strings.Trim(s.folder, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", domain.ErrSyncConfiguration.Wrap(errors.New("mail folder is not configured"))
	}

	listURL := s.client.userURL(s.account, "/mailFolders?$top=100")
	var id string
	for i, name := range segments {
		found, err := s.findFolder(ctx, listURL, name)
		if err != nil {
			if errors.Is(err, changesource.ErrNotFound) {
				return "", domain.ErrSyncConfiguration.Wrap(fmt.Errorf("mailbox %s not found: %w", s.account, err))
			}
			return "", err
		}
		if found == "" {
			return "", domain.ErrSyncConfiguration.Wrap(fmt.Errorf("mail folder %q not found in %s", strings.Join(segments[:i+1], "/"), s.account))
		}
		id = found
		listURL = s.client.userURL(s.account, "/mailFolders/"+url.PathEscape(id)+"/childFolders?$top=100")
	}

	s.folderID = id
	return id, nil
}

func (s *MailSource) findFolder(ctx context.Context, next, name string) (string, error) {
	for next != "" {
		var page mailFolderPage
		if err := s.client.getJSON(ctx, "mail folders", next, &page); err != nil {
			return "", err
		}
		for _, f := range page.Value {
			if strings.EqualFold(f.DisplayName, name) {
				return f.ID, nil
			}
		}
		next = page.NextLink
	}
	return "", nil
}

func (s *MailSource) messagesURL(folderID string, since time.Time) string {
	q := url.Values{}
	q.Set("$select", "id,subject,receivedDateTime")
	q.Set("$orderby", "receivedDateTime asc")
	q.Set("$top", fmt.Sprint(mailPageSize))
	if !since.IsZero() {
		q.Set("$filter", "receivedDateTime ge "+since.UTC().Format(time.RFC3339))
	}
	return s.client.userURL(s.account, "/mailFolders/"+url.PathEscape(folderID)+"/messages?"+q.Encode())
}

func (s *MailSource) ChangesSince(ctx context.Context, cursor string) (*changesource.Page, error) {
	folderID, err := s.resolveFolder(ctx)
	if err != nil {
		return nil, err
	}

	var (
		target    string
		watermark time.Time
	)
	if strings.HasPrefix(cursor, pageCursorPrefix) {
		wm, next, ok := strings.Cut(strings.TrimPrefix(cursor, pageCursorPrefix), "|")
		if !ok || !s.client.isOwnURL(next) {
			return nil, changesource.NewError(changesource.KindUnknown, "mail messages", errors.New("malformed page cursor"))
		}
		if watermark, err = time.Parse(time.RFC3339Nano, wm); err != nil {
			return nil, changesource.NewError(changesource.KindUnknown, "mail messages", fmt.Errorf("malformed page cursor: %w", err))
		}
		target = next
	} else {
		var since time.Time
		if cursor != "" {
			if since, err = time.Parse(time.RFC3339Nano, cursor); err != nil {
				return nil, changesource.NewError(changesource.KindUnknown, "mail messages", fmt.Errorf("malformed watermark: %w", err))
			}
		}
		watermark = s.now().UTC()
		target = s.messagesURL(folderID, since)
	}

	var page messagePage
	if err := s.client.getJSON(ctx, "mail messages", target, &page); err != nil {
		return nil, err
	}

	out := &changesource.Page{Records: make([]domain.ChangeRecord, 0, len(page.Value))}
	for _, m := range page.Value {
		out.Records = append(out.Records, s.toRecord(m))
	}
	if page.NextLink != "" {
		out.NextCursor = pageCursorPrefix + watermark.Format(time.RFC3339Nano) + "|" + page.NextLink
		out.HasMore = true
	} else {
		out.NextCursor = watermark.Format(time.RFC3339Nano)
	}
	return out, nil
}

// ListUnderPath lists every message in the configured folder. The mailbox
// source is always scoped to that folder, so path is informational.
func (s *MailSource) ListUnderPath(ctx context.Context, path string) ([]domain.ChangeRecord, error) {
	var out []domain.ChangeRecord
	cursor := ""
	for {
		page, err := s.ChangesSince(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if !page.HasMore {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func (s *MailSource) FetchObject(ctx context.Context, ref changesource.ObjectRef) ([]byte, error) {
	if ref.ID == "" {
		return nil, changesource.NewError(changesource.KindNotFound, "mail fetch", errors.New("message id required"))
	}
	target := s.client.userURL(s.account, "/messages/"+url.PathEscape(ref.ID)+"/$value")
	return s.client.get(ctx, "mail fetch "+ref.ID, target, "message/rfc822")
}

func (s *MailSource) LatestCursor(ctx context.Context) (string, error) {
	if _, err := s.resolveFolder(ctx); err != nil {
		return "", err
	}
	return s.now().UTC().Format(time.RFC3339Nano), nil
}

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N} ._-]+`)

func (s *MailSource) toRecord(m message) domain.ChangeRecord {
	subject := strings.TrimSpace(unsafeNameChars.ReplaceAllString(m.Subject, "_"))
	if subject == "" {
		subject = "no_subject"
	}
	if r := []rune(subject); len(r) > 80 {
		subject = string(r[:80])
	}
	short := m.ID
	if len(short) > 12 {
		short = short[len(short)-12:]
	}
	name := fmt.Sprintf("%s_%s.eml", subject, unsafeNameChars.ReplaceAllString(short, ""))

	return domain.ChangeRecord{
		Op:         domain.ChangeAdded,
		RemoteID:   m.ID,
		Name:       name,
		Path:       "/" + strings.Trim(s.folder, "/") + "/" + name,
		ItemKind:   domain.ItemFile,
		ModifiedAt: m.ReceivedDateTime,
		MediaType:  "message/rfc822",
	}
}
