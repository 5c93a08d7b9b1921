package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/as775116191/ragflow/internal/access"
	"github.com/as775116191/ragflow/internal/api/middleware"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

var (
	owner = access.Principal{UserID: "user-1", TenantIDs: []string{"team-1"}}
	guest = access.Principal{UserID: "user-2", TenantIDs: []string{"team-2"}}
)

func newTestKnowledgeBase() *domain.KnowledgeBase {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &domain.KnowledgeBase{
		ID:         "kb-1",
		TenantID:   "team-1",
		OwnerID:    "user-1",
		Name:       "Handbook",
		Permission: domain.PermissionTeam,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// newRequest builds a request authenticated as p with chi URL params given
// as key/value pairs.
func newRequest(method, url string, body io.Reader, p *access.Principal, params ...string) *http.Request {
	req := httptest.NewRequest(method, url, body)
	ctx := req.Context()
	if p != nil {
		ctx = context.WithValue(ctx, middleware.PrincipalKey, *p)
	}
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(params); i += 2 {
		rctx.URLParams.Add(params[i], params[i+1])
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func jsonBody(s string) io.Reader {
	return bytes.NewReader([]byte(s))
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}
