package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/kbsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type documentHarness struct {
	docs   *MockDocumentRepository
	chunks *MockChunkRepository
	jobs   *MockIngestionJobRepository
	blobs  *MockBlobStorage
	tx     *testTxRunner
	svc    *DocumentService
}

func newDocumentHarness(uuids ...string) *documentHarness {
	h := &documentHarness{
		docs:   new(MockDocumentRepository),
		chunks: new(MockChunkRepository),
		jobs:   new(MockIngestionJobRepository),
		blobs:  new(MockBlobStorage),
	}
	h.tx = &testTxRunner{repos: &testTxRepos{documents: h.docs, chunks: h.chunks, ingestionJobs: h.jobs}}
	h.svc = NewDocumentServiceWithUUIDGen(h.docs, h.chunks, h.jobs, h.blobs, h.tx, NewMockUUIDGenerator(uuids...))
	return h
}

func liveDoc(id, kbID string) *domain.Document {
	now := time.Now().UTC()
	return &domain.Document{
		ID:         id,
		KBID:       kbID,
		Name:       "notes.txt",
		Kind:       "txt",
		StorageKey: domain.DocumentStorageKey(kbID, id, "notes.txt"),
		Source:     domain.DocumentSourceUpload,
		Status:     domain.DocumentStatusDone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestDocumentService_Upload(t *testing.T) {
	ctx := context.Background()
	kb := ownedKB(domain.PermissionOwnerOnly)
	data := []byte("hello world")

	t.Run("stores blob, creates document and queues parsing in one transaction", func(t *testing.T) {
		h := newDocumentHarness("doc-1", "job-1")
		key := domain.DocumentStorageKey("kb-1", "doc-1", "notes.txt")

		h.blobs.On("PutObject", mock.Anything, key, data, mock.Anything).Return(nil)
		h.docs.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
			return d.ID == "doc-1" && d.Kind == "txt" && d.Source == domain.DocumentSourceUpload &&
				d.ContentHash == kbsync.ContentHash(data) && d.Size == int64(len(data)) &&
				d.Status == domain.DocumentStatusUnstarted
		})).Return(nil)
		h.jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *domain.IngestionJob) bool {
			return j.ID == "job-1" && j.DocumentID == "doc-1" && j.Status == domain.IngestionJobStatusPending
		})).Return(nil)

		doc, err := h.svc.Upload(ctx, kb, UploadDocumentInput{Name: "dir/notes.txt", Data: data})

		require.NoError(t, err)
		assert.Equal(t, "notes.txt", doc.Name)
		assert.Equal(t, 1, h.tx.called)
		h.blobs.AssertExpectations(t)
		h.docs.AssertExpectations(t)
		h.jobs.AssertExpectations(t)
	})

	t.Run("deletes the blob when the insert fails", func(t *testing.T) {
		h := newDocumentHarness("doc-1", "job-1")
		key := domain.DocumentStorageKey("kb-1", "doc-1", "notes.txt")

		h.blobs.On("PutObject", mock.Anything, key, data, mock.Anything).Return(nil)
		h.docs.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))
		h.blobs.On("DeleteObject", mock.Anything, key).Return(nil)

		_, err := h.svc.Upload(ctx, kb, UploadDocumentInput{Name: "notes.txt", Data: data})

		require.Error(t, err)
		h.blobs.AssertCalled(t, "DeleteObject", mock.Anything, key)
	})

	t.Run("refused while the knowledge base syncs", func(t *testing.T) {
		h := newDocumentHarness()
		h.svc.SetSyncGuard(stubGuard{"kb-1": true})

		_, err := h.svc.Upload(ctx, kb, UploadDocumentInput{Name: "notes.txt", Data: data})

		assert.ErrorIs(t, err, domain.ErrSyncInProgress)
		h.blobs.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("requires blob storage", func(t *testing.T) {
		svc := NewDocumentService(new(MockDocumentRepository), nil, nil, nil, &testTxRunner{})

		_, err := svc.Upload(ctx, kb, UploadDocumentInput{Name: "notes.txt", Data: data})

		assert.ErrorIs(t, err, domain.ErrStorageNotConfigured)
	})

	t.Run("storage failure", func(t *testing.T) {
		h := newDocumentHarness("doc-1")
		h.blobs.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket gone"))

		_, err := h.svc.Upload(ctx, kb, UploadDocumentInput{Name: "notes.txt", Data: data})

		assert.ErrorIs(t, err, domain.ErrStorageOperationFail)
		assert.Equal(t, 0, h.tx.called)
	})

	t.Run("requires a name", func(t *testing.T) {
		h := newDocumentHarness("doc-1")

		_, err := h.svc.Upload(ctx, kb, UploadDocumentInput{Name: "  ", Data: data})

		require.Error(t, err)
	})
}

func TestDocumentService_Get_ChecksKnowledgeBase(t *testing.T) {
	h := newDocumentHarness()
	h.docs.On("GetByID", mock.Anything, "doc-1").Return(liveDoc("doc-1", "kb-other"), nil)

	_, err := h.svc.Get(context.Background(), "kb-1", "doc-1")

	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("tombstones, deindexes and deletes the blob", func(t *testing.T) {
		h := newDocumentHarness()
		doc := liveDoc("doc-1", "kb-1")
		h.docs.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
		h.docs.On("Tombstone", mock.Anything, "doc-1", mock.Anything).Return(nil)
		h.chunks.On("DeleteByDocument", mock.Anything, "doc-1").Return(nil)
		h.blobs.On("DeleteObject", mock.Anything, doc.StorageKey).Return(nil)

		require.NoError(t, h.svc.Delete(ctx, "kb-1", "doc-1"))

		h.docs.AssertExpectations(t)
		h.chunks.AssertExpectations(t)
		h.blobs.AssertExpectations(t)
	})

	t.Run("blob deletion failure does not fail the delete", func(t *testing.T) {
		h := newDocumentHarness()
		doc := liveDoc("doc-1", "kb-1")
		h.docs.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
		h.docs.On("Tombstone", mock.Anything, "doc-1", mock.Anything).Return(nil)
		h.chunks.On("DeleteByDocument", mock.Anything, "doc-1").Return(nil)
		h.blobs.On("DeleteObject", mock.Anything, doc.StorageKey).Return(errors.New("timeout"))

		assert.NoError(t, h.svc.Delete(ctx, "kb-1", "doc-1"))
	})

	t.Run("refused while syncing", func(t *testing.T) {
		h := newDocumentHarness()
		h.svc.SetSyncGuard(stubGuard{"kb-1": true})

		assert.ErrorIs(t, h.svc.Delete(ctx, "kb-1", "doc-1"), domain.ErrSyncInProgress)
	})
}

func TestDocumentService_Replace(t *testing.T) {
	ctx := context.Background()
	h := newDocumentHarness()

	old := liveDoc("doc-old", "kb-1")
	fresh := liveDoc("doc-new", "kb-1")
	fresh.RemoteID = "remote-1"

	var order []string
	h.docs.On("Tombstone", mock.Anything, "doc-old", fresh.CreatedAt).Run(func(mock.Arguments) { order = append(order, "tombstone") }).Return(nil)
	h.chunks.On("DeleteByDocument", mock.Anything, "doc-old").Run(func(mock.Arguments) { order = append(order, "deindex") }).Return(nil)
	h.docs.On("Create", mock.Anything, fresh).Run(func(mock.Arguments) { order = append(order, "create") }).Return(nil)

	require.NoError(t, h.svc.Replace(ctx, old, fresh))

	assert.Equal(t, []string{"tombstone", "deindex", "create"}, order)
	assert.Equal(t, 1, h.tx.called)
}

func TestDocumentService_Replace_InsertFailureReturnsError(t *testing.T) {
	h := newDocumentHarness()
	old := liveDoc("doc-old", "kb-1")
	fresh := liveDoc("doc-new", "kb-1")

	h.docs.On("Tombstone", mock.Anything, "doc-old", mock.Anything).Return(nil)
	h.chunks.On("DeleteByDocument", mock.Anything, "doc-old").Return(nil)
	h.docs.On("Create", mock.Anything, fresh).Return(domain.ErrDocumentAlreadyExists)

	err := h.svc.Replace(context.Background(), old, fresh)

	assert.ErrorIs(t, err, domain.ErrDocumentAlreadyExists)
}

func TestDocumentService_PurgeKnowledgeBase(t *testing.T) {
	h := newDocumentHarness()
	a, b := liveDoc("doc-a", "kb-1"), liveDoc("doc-b", "kb-1")
	h.docs.On("ListLiveByKB", mock.Anything, "kb-1").Return([]*domain.Document{a, b}, nil)
	h.docs.On("Tombstone", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.chunks.On("DeleteByDocument", mock.Anything, mock.Anything).Return(nil)
	h.blobs.On("DeleteObject", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, h.svc.PurgeKnowledgeBase(context.Background(), "kb-1"))

	h.docs.AssertNumberOfCalls(t, "Tombstone", 2)
	h.blobs.AssertNumberOfCalls(t, "DeleteObject", 2)
}

func TestDocumentService_EnqueueForParsing(t *testing.T) {
	h := newDocumentHarness("job-9")
	h.jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *domain.IngestionJob) bool {
		return j.ID == "job-9" && j.DocumentID == "doc-1"
	})).Return(nil)

	require.NoError(t, h.svc.EnqueueForParsing(context.Background(), "doc-1"))
	h.jobs.AssertExpectations(t)
}

func TestDocumentService_DownloadURL(t *testing.T) {
	h := newDocumentHarness()
	doc := liveDoc("doc-1", "kb-1")
	h.docs.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	h.blobs.On("GenerateDownloadURL", mock.Anything, doc.StorageKey).Return("https://blob/signed", nil)

	url, err := h.svc.DownloadURL(context.Background(), "kb-1", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, "https://blob/signed", url)
}

func TestDocumentService_SatisfiesSyncInterfaces(t *testing.T) {
	var _ kbsync.DocumentStore = (*DocumentService)(nil)
	var _ kbsync.Enqueuer = (*DocumentService)(nil)
}
