package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/as775116191/ragflow/internal/access"
	"github.com/as775116191/ragflow/internal/api"
	"github.com/as775116191/ragflow/internal/api/middleware"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/service"
	"github.com/go-chi/chi/v5"
)

type KnowledgeBaseService interface {
	Create(ctx context.Context, p access.Principal, input service.CreateKnowledgeBaseInput) (*domain.KnowledgeBase, error)
	Get(ctx context.Context, p access.Principal, id string) (*domain.KnowledgeBase, error)
	List(ctx context.Context, p access.Principal, input service.ListKnowledgeBasesInput) (*service.ListKnowledgeBasesOutput, error)
	Update(ctx context.Context, p access.Principal, id string, input service.UpdateKnowledgeBaseInput) (*domain.KnowledgeBase, error)
	UpdateSyncConfig(ctx context.Context, p access.Principal, id string, cfg domain.SyncConfig) (*domain.KnowledgeBase, error)
	Delete(ctx context.Context, p access.Principal, id string) error
}

type KnowledgeBaseHandler struct {
	svc KnowledgeBaseService
}

func NewKnowledgeBaseHandler(svc KnowledgeBaseService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{svc: svc}
}

type SyncConfigRequest struct {
	Enabled bool   `json:"enabled"`
	Kind    string `json:"kind"`
	Account string `json:"account"`
	Folder  string `json:"folder"`
}

func (r SyncConfigRequest) toDomain() domain.SyncConfig {
	return domain.SyncConfig{
		Enabled: r.Enabled,
		Kind:    domain.SyncKind(r.Kind),
		Account: r.Account,
		Folder:  r.Folder,
	}
}

type CreateKnowledgeBaseRequest struct {
	TenantID    string             `json:"tenant_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Permission  string             `json:"permission"`
	RoleIDs     []string           `json:"role_ids"`
	Sync        *SyncConfigRequest `json:"sync"`
}

type UpdateKnowledgeBaseRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Permission  *string  `json:"permission"`
	RoleIDs     []string `json:"role_ids"`
}

type SyncConfigResponse struct {
	Enabled bool   `json:"enabled"`
	Kind    string `json:"kind,omitempty"`
	Account string `json:"account,omitempty"`
	Folder  string `json:"folder,omitempty"`
}

type KnowledgeBaseResponse struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	OwnerID     string             `json:"owner_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Permission  string             `json:"permission"`
	RoleIDs     []string           `json:"role_ids"`
	Sync        SyncConfigResponse `json:"sync"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
}

type ListKnowledgeBasesResponse struct {
	Items   []*KnowledgeBaseResponse `json:"items"`
	Cursor  string                   `json:"cursor,omitempty"`
	HasMore bool                     `json:"has_more"`
}

func knowledgeBaseToResponse(kb *domain.KnowledgeBase) *KnowledgeBaseResponse {
	roleIDs := kb.RoleIDs
	if roleIDs == nil {
		roleIDs = []string{}
	}
	return &KnowledgeBaseResponse{
		ID:          kb.ID,
		TenantID:    kb.TenantID,
		OwnerID:     kb.OwnerID,
		Name:        kb.Name,
		Description: kb.Description,
		Permission:  string(kb.Permission),
		RoleIDs:     roleIDs,
		Sync: SyncConfigResponse{
			Enabled: kb.Sync.Enabled,
			Kind:    string(kb.Sync.Kind),
			Account: kb.Sync.Account,
			Folder:  kb.Sync.Folder,
		},
		CreatedAt: kb.CreatedAt.Format(time.RFC3339),
		UpdatedAt: kb.UpdatedAt.Format(time.RFC3339),
	}
}

// principal returns the authenticated caller or writes a 401.
func principal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok || p.UserID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return access.Principal{}, false
	}
	return p, true
}

func (h *KnowledgeBaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req CreateKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	input := service.CreateKnowledgeBaseInput{
		TenantID:    req.TenantID,
		Name:        req.Name,
		Description: req.Description,
		Permission:  domain.Permission(req.Permission),
		RoleIDs:     req.RoleIDs,
	}
	if req.Sync != nil {
		input.Sync = req.Sync.toDomain()
	}

	kb, err := h.svc.Create(r.Context(), p, input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, knowledgeBaseToResponse(kb))
}

func (h *KnowledgeBaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	kb, err := h.svc.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, knowledgeBaseToResponse(kb))
}

func (h *KnowledgeBaseHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	out, err := h.svc.List(r.Context(), p, service.ListKnowledgeBasesInput{
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := ListKnowledgeBasesResponse{
		Items:   make([]*KnowledgeBaseResponse, 0, len(out.Items)),
		Cursor:  out.Cursor,
		HasMore: out.HasMore,
	}
	for _, kb := range out.Items {
		resp.Items = append(resp.Items, knowledgeBaseToResponse(kb))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *KnowledgeBaseHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req UpdateKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := service.UpdateKnowledgeBaseInput{
		Name:        req.Name,
		Description: req.Description,
		RoleIDs:     req.RoleIDs,
	}
	if req.Permission != nil {
		perm := domain.Permission(*req.Permission)
		input.Permission = &perm
	}

	kb, err := h.svc.Update(r.Context(), p, chi.URLParam(r, "id"), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, knowledgeBaseToResponse(kb))
}

func (h *KnowledgeBaseHandler) UpdateSyncConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req SyncConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kb, err := h.svc.UpdateSyncConfig(r.Context(), p, chi.URLParam(r, "id"), req.toDomain())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, knowledgeBaseToResponse(kb))
}

func (h *KnowledgeBaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		api.Error(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return limit, true
}
