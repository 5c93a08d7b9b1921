package kbsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/as775116191/ragflow/internal/changesource"
	"github.com/as775116191/ragflow/internal/domain"
)

type fakeKBs struct {
	mu  sync.Mutex
	kbs map[string]*domain.KnowledgeBase
}

func newFakeKBs(kbs ...*domain.KnowledgeBase) *fakeKBs {
	f := &fakeKBs{kbs: make(map[string]*domain.KnowledgeBase)}
	for _, kb := range kbs {
		f.kbs[kb.ID] = kb
	}
	return f
}

func (f *fakeKBs) GetByID(ctx context.Context, id string) (*domain.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return nil, domain.ErrKnowledgeBaseNotFound
	}
	cp := *kb
	return &cp, nil
}

func (f *fakeKBs) ListSyncEnabled(ctx context.Context) ([]*domain.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.KnowledgeBase
	for _, kb := range f.kbs {
		if kb.Sync.Enabled {
			cp := *kb
			out = append(out, &cp)
		}
	}
	return out, nil
}

type storedCursor struct {
	kind   domain.SyncKind
	cursor string
}

type fakeCursors struct {
	mu      sync.Mutex
	cursors map[string]storedCursor
	sets    int
}

func newFakeCursors() *fakeCursors {
	return &fakeCursors{cursors: make(map[string]storedCursor)}
}

func (f *fakeCursors) Get(ctx context.Context, kbID string, kind domain.SyncKind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cursors[kbID]
	if !ok || c.kind != kind {
		return "", nil
	}
	return c.cursor, nil
}

func (f *fakeCursors) Set(ctx context.Context, kbID string, kind domain.SyncKind, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[kbID] = storedCursor{kind: kind, cursor: cursor}
	f.sets++
	return nil
}

func (f *fakeCursors) Delete(ctx context.Context, kbID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cursors, kbID)
	return nil
}

func (f *fakeCursors) get(kbID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[kbID].cursor
}

func (f *fakeCursors) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

type fakeSources struct {
	sources map[string]changesource.ChangeSource
	err     error
}

func (f *fakeSources) ForKnowledgeBase(kb *domain.KnowledgeBase) (changesource.ChangeSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	src, ok := f.sources[kb.ID]
	if !ok {
		return nil, domain.ErrSyncConfiguration.Wrap(errors.New("no source"))
	}
	return src, nil
}

type fakeDocs struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	order   []string
	panicOn string
	failOn  map[string]error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[string]*domain.Document), failOn: make(map[string]error)}
}

func (f *fakeDocs) FindLiveByRemoteID(ctx context.Context, kbID, remoteID string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn != "" && remoteID == f.panicOn {
		panic("document store exploded")
	}
	for _, d := range f.docs {
		if d.KBID == kbID && d.RemoteID == remoteID && d.DeletedAt == nil {
			cp := *d
			return &cp, nil
		}
	}
	return nil, domain.ErrDocumentNotFound
}

func (f *fakeDocs) insertLocked(doc *domain.Document) error {
	if err, ok := f.failOn[doc.RemoteID]; ok {
		return err
	}
	for _, d := range f.docs {
		if d.KBID == doc.KBID && d.RemoteID == doc.RemoteID && d.DeletedAt == nil {
			return domain.ErrDocumentAlreadyExists
		}
	}
	cp := *doc
	f.docs[doc.ID] = &cp
	f.order = append(f.order, doc.ID)
	return nil
}

func (f *fakeDocs) Create(ctx context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(doc)
}

func (f *fakeDocs) Replace(ctx context.Context, old, fresh *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[fresh.RemoteID]; ok {
		return err
	}
	now := time.Now()
	f.docs[old.ID].DeletedAt = &now
	return f.insertLocked(fresh)
}

func (f *fakeDocs) Remove(ctx context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.docs[doc.ID].DeletedAt = &now
	return nil
}

func (f *fakeDocs) seed(doc *domain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[doc.ID] = &cp
	f.order = append(f.order, doc.ID)
}

func (f *fakeDocs) live(kbID string) []*domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Document
	for _, id := range f.order {
		d := f.docs[id]
		if d.KBID == kbID && d.DeletedAt == nil {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

func (f *fakeDocs) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut != nil {
		return f.failPut
	}
	f.objects[key] = append([]byte(nil), body...)
	return nil
}

func (f *fakeBlobs) DeleteObject(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	ids    []string
	err    error
	onCall func(documentID string)
}

func (f *fakeEnqueuer) EnqueueForParsing(ctx context.Context, documentID string) error {
	f.mu.Lock()
	f.ids = append(f.ids, documentID)
	hook, err := f.onCall, f.err
	f.mu.Unlock()
	if hook != nil {
		hook(documentID)
	}
	return err
}

func (f *fakeEnqueuer) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}
