package changesource

import (
	"context"
	"strings"
	"sync"

	"github.com/as775116191/ragflow/internal/domain"
)

// Memory is an in-process ChangeSource driven by a scripted feed. Pages are
// keyed by the cursor that requests them; an unknown cursor yields an empty
// terminal page that keeps the cursor unchanged.
type Memory struct {
	mu sync.Mutex

	kind      domain.SyncKind
	pages     map[string]Page
	objects   map[string][]byte
	fetchErrs map[string]error
	pageErrs  map[string]error
	listing   []domain.ChangeRecord
	listErr   error
	latest    string
	resumable bool

	fetches    map[string]int
	pageCalls  []string
	beforePage func(ctx context.Context, cursor string)
}

// NewMemory returns an empty scripted source of the given kind.
func NewMemory(kind domain.SyncKind) *Memory {
	return &Memory{
		kind:      kind,
		pages:     make(map[string]Page),
		objects:   make(map[string][]byte),
		fetchErrs: make(map[string]error),
		pageErrs:  make(map[string]error),
		fetches:   make(map[string]int),
	}
}

// AddPage registers the page returned for cursor.
func (m *Memory) AddPage(cursor string, p Page) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[cursor] = p
	return m
}

// PutObject registers fetchable bytes for a remote id.
func (m *Memory) PutObject(id string, data []byte) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = data
	return m
}

// FailFetch makes every fetch of id return err until cleared with nil.
func (m *Memory) FailFetch(id string, err error) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fetchErrs, id)
	} else {
		m.fetchErrs[id] = err
	}
	return m
}

// FailPage makes ChangesSince(cursor) return err until cleared with nil.
func (m *Memory) FailPage(cursor string, err error) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.pageErrs, cursor)
	} else {
		m.pageErrs[cursor] = err
	}
	return m
}

// SetListing sets the records returned by ListUnderPath and the baseline
// returned by LatestCursor.
func (m *Memory) SetListing(records []domain.ChangeRecord, latest string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listing = records
	m.latest = latest
	return m
}

// FailListing makes ListUnderPath return err.
func (m *Memory) FailListing(err error) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
	return m
}

// SetResumable controls ResumablePages.
func (m *Memory) SetResumable(v bool) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumable = v
	return m
}

// OnPage installs a hook invoked at the start of every ChangesSince call.
func (m *Memory) OnPage(fn func(ctx context.Context, cursor string)) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforePage = fn
	return m
}

// FetchCount reports how many times id was fetched.
func (m *Memory) FetchCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[id]
}

// PageCalls returns the cursors ChangesSince was called with, in order.
func (m *Memory) PageCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pageCalls...)
}

func (m *Memory) Kind() domain.SyncKind { return m.kind }

func (m *Memory) ResumablePages() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumable
}

func (m *Memory) ChangesSince(ctx context.Context, cursor string) (*Page, error) {
	m.mu.Lock()
	hook := m.beforePage
	m.pageCalls = append(m.pageCalls, cursor)
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, cursor)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindTransient, "changes", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.pageErrs[cursor]; ok {
		return nil, err
	}
	p, ok := m.pages[cursor]
	if !ok {
		return &Page{NextCursor: cursor}, nil
	}
	out := p
	out.Records = append([]domain.ChangeRecord(nil), p.Records...)
	return &out, nil
}

func (m *Memory) ListUnderPath(ctx context.Context, path string) ([]domain.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	var out []domain.ChangeRecord
	for _, r := range m.listing {
		if path == "" || path == "/" || strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) FetchObject(ctx context.Context, ref ObjectRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[ref.ID]++
	if err, ok := m.fetchErrs[ref.ID]; ok {
		return nil, err
	}
	data, ok := m.objects[ref.ID]
	if !ok {
		return nil, NewError(KindNotFound, "fetch "+ref.ID, nil)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) LatestCursor(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, nil
}
