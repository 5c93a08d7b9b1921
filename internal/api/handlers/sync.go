package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/as775116191/ragflow/internal/access"
	"github.com/as775116191/ragflow/internal/api"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/kbsync"
	"github.com/go-chi/chi/v5"
)

// KnowledgeBaseAuthorizer resolves the {id} knowledge base for sync control.
// Reading status needs access, everything else needs ownership.
type KnowledgeBaseAuthorizer interface {
	Get(ctx context.Context, p access.Principal, id string) (*domain.KnowledgeBase, error)
	AuthorizeManage(ctx context.Context, p access.Principal, id string) (*domain.KnowledgeBase, error)
}

type SyncController interface {
	Start(ctx context.Context, kbID string, trigger domain.SyncTrigger) (*kbsync.Run, error)
	Cancel(ctx context.Context, kbID string, wait time.Duration) (*domain.SyncResult, error)
	Status(kbID string) domain.SyncStatus
	ListRunning() []domain.SyncStatus
	Reset(ctx context.Context, kbID string) error
}

type SyncHandler struct {
	kbs        KnowledgeBaseAuthorizer
	sync       SyncController
	cancelWait time.Duration
}

// NewSyncHandler creates a SyncHandler. A nil controller answers every
// request with 503, for deployments without blob storage.
func NewSyncHandler(kbs KnowledgeBaseAuthorizer, sync SyncController, cancelWait time.Duration) *SyncHandler {
	return &SyncHandler{kbs: kbs, sync: sync, cancelWait: cancelWait}
}

type SyncRunResponse struct {
	RunID     string `json:"run_id"`
	KBID      string `json:"kb_id"`
	Kind      string `json:"kind"`
	Trigger   string `json:"trigger"`
	StartedAt string `json:"started_at"`
}

type CancelSyncResponse struct {
	KBID string `json:"kb_id"`
	// Stopped is false when the run had not wound down within the wait.
	Stopped bool               `json:"stopped"`
	Result  *domain.SyncResult `json:"result,omitempty"`
}

func (h *SyncHandler) available(w http.ResponseWriter) bool {
	if h.sync == nil {
		api.HandleError(w, domain.ErrStorageNotConfigured)
		return false
	}
	return true
}

func (h *SyncHandler) managed(w http.ResponseWriter, r *http.Request) (*domain.KnowledgeBase, bool) {
	p, ok := principal(w, r)
	if !ok {
		return nil, false
	}
	if !h.available(w) {
		return nil, false
	}
	kb, err := h.kbs.AuthorizeManage(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return nil, false
	}
	return kb, true
}

// Start launches a sync in the background and answers 202 at once.
func (h *SyncHandler) Start(w http.ResponseWriter, r *http.Request) {
	kb, ok := h.managed(w, r)
	if !ok {
		return
	}

	// The run outlives the request.
	run, err := h.sync.Start(context.WithoutCancel(r.Context()), kb.ID, domain.SyncTriggerManual)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, SyncRunResponse{
		RunID:     run.ID,
		KBID:      run.KBID,
		Kind:      string(run.Kind),
		Trigger:   string(run.Trigger),
		StartedAt: run.StartedAt.Format(time.RFC3339),
	})
}

func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	kb, ok := h.managed(w, r)
	if !ok {
		return
	}

	result, err := h.sync.Cancel(r.Context(), kb.ID, h.cancelWait)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, CancelSyncResponse{
		KBID:    kb.ID,
		Stopped: result != nil,
		Result:  result,
	})
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !h.available(w) {
		return
	}
	kb, err := h.kbs.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, h.sync.Status(kb.ID))
}

// ResetCursor makes the next run enumerate the source from scratch.
func (h *SyncHandler) ResetCursor(w http.ResponseWriter, r *http.Request) {
	kb, ok := h.managed(w, r)
	if !ok {
		return
	}

	if err := h.sync.Reset(r.Context(), kb.ID); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRunning returns the active runs of knowledge bases the caller can see.
func (h *SyncHandler) ListRunning(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if !h.available(w) {
		return
	}

	statuses := make([]domain.SyncStatus, 0)
	for _, st := range h.sync.ListRunning() {
		if _, err := h.kbs.Get(r.Context(), p, st.KBID); err != nil {
			continue
		}
		statuses = append(statuses, st)
	}

	api.Success(w, http.StatusOK, statuses)
}
