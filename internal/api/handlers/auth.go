package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/as775116191/ragflow/internal/api"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/go-chi/chi/v5"
)

type AuthService interface {
	CreateAPIKey(ctx context.Context, userID, name string) (string, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
}

// AuthHandler lets an authenticated user inspect itself and manage its own
// API keys. Users and tenants are provisioned through the admin CLI.
type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type MeResponse struct {
	UserID    string   `json:"user_id"`
	TenantIDs []string `json:"tenant_ids"`
	RoleIDs   []string `json:"role_ids"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

type APIKeyResponse struct {
	ID        string `json:"id,omitempty"`
	Token     string `json:"token,omitempty"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
	Revoked   bool   `json:"revoked"`
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	resp := MeResponse{UserID: p.UserID, TenantIDs: p.TenantIDs, RoleIDs: p.RoleIDs}
	if resp.TenantIDs == nil {
		resp.TenantIDs = []string{}
	}
	if resp.RoleIDs == nil {
		resp.RoleIDs = []string{}
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	token, err := h.svc.CreateAPIKey(r.Context(), p.UserID, req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, APIKeyResponse{
		Token: token,
		Name:  req.Name,
	})
}

func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	keys, err := h.svc.ListAPIKeys(r.Context(), p.UserID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, APIKeyResponse{
			ID:        k.ID,
			Name:      k.Name,
			CreatedAt: k.CreatedAt.Format(time.RFC3339),
			Revoked:   k.IsRevoked(),
		})
	}
	api.Success(w, http.StatusOK, resp)
}

// RevokeAPIKey revokes one of the caller's own keys.
func (h *AuthHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	keyID := chi.URLParam(r, "keyID")
	keys, err := h.svc.ListAPIKeys(r.Context(), p.UserID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	owned := false
	for _, k := range keys {
		if k.ID == keyID {
			owned = true
			break
		}
	}
	if !owned {
		api.HandleError(w, domain.ErrAPIKeyNotFound)
		return
	}

	if err := h.svc.RevokeAPIKey(r.Context(), keyID); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
