package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/as775116191/ragflow/internal/access"
	"github.com/as775116191/ragflow/internal/api"
	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/service"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// KnowledgeBaseReader resolves a knowledge base the caller may access.
type KnowledgeBaseReader interface {
	Get(ctx context.Context, p access.Principal, id string) (*domain.KnowledgeBase, error)
}

type DocumentService interface {
	Upload(ctx context.Context, kb *domain.KnowledgeBase, input service.UploadDocumentInput) (*domain.Document, error)
	List(ctx context.Context, input service.ListDocumentsInput) (*service.ListDocumentsOutput, error)
	Delete(ctx context.Context, kbID, docID string) error
	DownloadURL(ctx context.Context, kbID, docID string) (string, error)
}

type DocumentHandler struct {
	kbs  KnowledgeBaseReader
	docs DocumentService
}

func NewDocumentHandler(kbs KnowledgeBaseReader, docs DocumentService) *DocumentHandler {
	return &DocumentHandler{kbs: kbs, docs: docs}
}

type DocumentResponse struct {
	ID          string `json:"id"`
	KBID        string `json:"kb_id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
	Source      string `json:"source"`
	RemoteID    string `json:"remote_id,omitempty"`
	RemotePath  string `json:"remote_path,omitempty"`
	Status      string `json:"status"`
	StatusMsg   string `json:"status_msg,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ListDocumentsResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

type DownloadURLResponse struct {
	DownloadURL string `json:"download_url"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:          d.ID,
		KBID:        d.KBID,
		Name:        d.Name,
		Kind:        d.Kind,
		Size:        d.Size,
		ContentHash: d.ContentHash,
		Source:      string(d.Source),
		RemoteID:    d.RemoteID,
		RemotePath:  d.RemotePath,
		Status:      string(d.Status),
		StatusMsg:   d.StatusMsg,
		CreatedAt:   d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   d.UpdatedAt.Format(time.RFC3339),
	}
}

// knowledgeBase loads the {id} knowledge base for the caller or writes the error.
func (h *DocumentHandler) knowledgeBase(w http.ResponseWriter, r *http.Request) (*domain.KnowledgeBase, bool) {
	p, ok := principal(w, r)
	if !ok {
		return nil, false
	}
	kb, err := h.kbs.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return nil, false
	}
	return kb, true
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	kb, ok := h.knowledgeBase(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	out, err := h.docs.List(r.Context(), service.ListDocumentsInput{
		KBID:   kb.ID,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := ListDocumentsResponse{
		Items:   make([]*DocumentResponse, 0, len(out.Items)),
		Cursor:  out.Cursor,
		HasMore: out.HasMore,
	}
	for _, d := range out.Items {
		resp.Items = append(resp.Items, documentToResponse(d))
	}
	api.Success(w, http.StatusOK, resp)
}

// Upload accepts a multipart form with the file in the "file" field.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	kb, ok := h.knowledgeBase(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "failed to read file")
		return
	}

	doc, err := h.docs.Upload(r.Context(), kb, service.UploadDocumentInput{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, documentToResponse(doc))
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	kb, ok := h.knowledgeBase(w, r)
	if !ok {
		return
	}

	if err := h.docs.Delete(r.Context(), kb.ID, chi.URLParam(r, "docID")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	kb, ok := h.knowledgeBase(w, r)
	if !ok {
		return
	}

	url, err := h.docs.DownloadURL(r.Context(), kb.ID, chi.URLParam(r, "docID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, DownloadURLResponse{DownloadURL: url})
}
