package changesource

import (
	"context"
	"testing"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PagesByCursor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(domain.SyncKindDrive).
		AddPage("", Page{Records: []domain.ChangeRecord{{Op: domain.ChangeAdded, RemoteID: "a"}}, NextCursor: "p2", HasMore: true}).
		AddPage("p2", Page{Records: []domain.ChangeRecord{{Op: domain.ChangeAdded, RemoteID: "b"}}, NextCursor: "c1"})

	p1, err := m.ChangesSince(ctx, "")
	require.NoError(t, err)
	assert.True(t, p1.HasMore)
	assert.Equal(t, "p2", p1.NextCursor)

	p2, err := m.ChangesSince(ctx, p1.NextCursor)
	require.NoError(t, err)
	assert.False(t, p2.HasMore)
	assert.Equal(t, "c1", p2.NextCursor)

	idle, err := m.ChangesSince(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, idle.Records)
	assert.Equal(t, "c1", idle.NextCursor)

	assert.Equal(t, []string{"", "p2", "c1"}, m.PageCalls())
}

func TestMemory_FetchObject(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(domain.SyncKindDrive).PutObject("a", []byte("hello"))

	data, err := m.FetchObject(ctx, ObjectRef{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = m.FetchObject(ctx, ObjectRef{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	m.FailFetch("a", NewError(KindTransient, "fetch", nil))
	_, err = m.FetchObject(ctx, ObjectRef{ID: "a"})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 2, m.FetchCount("a"))
}

func TestMemory_ListUnderPath(t *testing.T) {
	m := NewMemory(domain.SyncKindDrive).SetListing([]domain.ChangeRecord{
		{RemoteID: "1", Path: "/Reports/q1.txt"},
		{RemoteID: "2", Path: "/ReportsArchive/q0.txt"},
		{RemoteID: "3", Path: "/Other/x.txt"},
	}, "latest")

	got, err := m.ListUnderPath(context.Background(), "/Reports")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].RemoteID)

	latest, err := m.LatestCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "latest", latest)
}
