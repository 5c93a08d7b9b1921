//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRepository_LiveRemoteIDIsUnique(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "docs@example.com")
	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Mirror")
	repo := NewDocumentRepository(pool)

	first := newDocument(kb.ID, "report.pdf", "remote-1")
	require.NoError(t, repo.Create(ctx, first))

	dup := newDocument(kb.ID, "report.pdf", "remote-1")
	assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrDocumentAlreadyExists)

	found, err := repo.FindLiveByRemoteID(ctx, kb.ID, "remote-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, domain.DocumentSourceDrive, found.Source)
	assert.Equal(t, "/report.pdf", found.RemotePath)

	// A tombstone frees the remote id for the next version.
	require.NoError(t, repo.Tombstone(ctx, first.ID, testNow()))
	require.NoError(t, repo.Create(ctx, dup))

	found, err = repo.FindLiveByRemoteID(ctx, kb.ID, "remote-1")
	require.NoError(t, err)
	assert.Equal(t, dup.ID, found.ID)

	old, err := repo.GetByIDIncludingDeleted(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, old.IsDeleted())

	_, err = repo.GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.ErrorIs(t, repo.Tombstone(ctx, first.ID, testNow()), domain.ErrDocumentNotFound)
}

func TestDocumentRepository_ListSkipsTombstones(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "list@example.com")
	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Uploads")
	repo := NewDocumentRepository(pool)

	var docs []*domain.Document
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		doc := newDocument(kb.ID, name, "")
		doc.CreatedAt = doc.CreatedAt.Add(timeStep(i))
		require.NoError(t, repo.Create(ctx, doc))
		docs = append(docs, doc)
	}
	require.NoError(t, repo.Tombstone(ctx, docs[1].ID, testNow()))

	page, err := repo.ListByKBWithCursor(ctx, kb.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, docs[2].ID, page.Items[0].ID)
	assert.Equal(t, docs[0].ID, page.Items[1].ID)

	live, err := repo.ListLiveByKB(ctx, kb.ID)
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestDocumentRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "status@example.com")
	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Status")
	repo := NewDocumentRepository(pool)

	doc := newDocument(kb.ID, "notes.md", "")
	require.NoError(t, repo.Create(ctx, doc))
	require.NoError(t, repo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusDone, "3 chunks"))

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusDone, got.Status)
	assert.Equal(t, "3 chunks", got.StatusMsg)
}

func TestDocumentChunkRepository_ReplaceChunks(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(ctx, t)

	user, tenant := setupUser(ctx, t, pool, "chunks@example.com")
	kb := setupKB(ctx, t, pool, tenant.ID, user.ID, "Index")
	doc := newDocument(kb.ID, "notes.md", "")
	require.NoError(t, NewDocumentRepository(pool).Create(ctx, doc))

	chunks := NewDocumentChunkRepository(pool)
	embedding := make([]float32, 1536)
	embedding[0] = 1

	require.NoError(t, chunks.ReplaceChunks(ctx, doc.ID, []domain.DocumentChunk{
		{DocumentID: doc.ID, KBID: kb.ID, ChunkIndex: 0, Content: "first", Embedding: embedding},
		{DocumentID: doc.ID, KBID: kb.ID, ChunkIndex: 1, Content: "second"},
	}))
	n, err := chunks.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, chunks.ReplaceChunks(ctx, doc.ID, []domain.DocumentChunk{
		{DocumentID: doc.ID, KBID: kb.ID, ChunkIndex: 0, Content: "only"},
	}))
	n, err = chunks.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, chunks.DeleteByDocument(ctx, doc.ID))
	n, err = chunks.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
