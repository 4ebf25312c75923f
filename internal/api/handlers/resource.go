package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/itzam-ai/itzam-sub000/internal/api"
	"github.com/itzam-ai/itzam-sub000/internal/domain"
	"github.com/itzam-ai/itzam-sub000/internal/service"
)

type ResourceService interface {
	Ingest(ctx context.Context, input service.IngestInput) (*service.IngestOutput, error)
	Rescrape(ctx context.Context, resourceID string) (*service.PipelineResult, error)
	GetByID(ctx context.Context, id string) (*domain.Resource, error)
	ListByKnowledge(ctx context.Context, knowledgeID string) ([]*domain.Resource, error)
	ListByContext(ctx context.Context, contextID string) ([]*domain.Resource, error)
	Delete(ctx context.Context, id string) error
}

// UploadService issues presigned blob URLs for FILE resources. Nil when blob
// storage is not configured.
type UploadService interface {
	InitUpload(ctx context.Context, input service.InitUploadInput) (*service.InitUploadResult, error)
	DownloadURL(ctx context.Context, storageKey string) (string, error)
}

type ResourceHandler struct {
	svc     ResourceService
	uploads UploadService
}

func NewResourceHandler(svc ResourceService, uploads UploadService) *ResourceHandler {
	return &ResourceHandler{svc: svc, uploads: uploads}
}

type ResourceRequest struct {
	ID              string `json:"id,omitempty"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	FileName        string `json:"fileName,omitempty"`
	MimeType        string `json:"mimeType,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
	ScrapeFrequency string `json:"scrapeFrequency,omitempty"`
}

type IngestRequest struct {
	Resources   []ResourceRequest `json:"resources"`
	KnowledgeID string            `json:"knowledgeId,omitempty"`
	ContextID   string            `json:"contextId,omitempty"`
	WorkflowID  string            `json:"workflowId"`
	UserID      string            `json:"userId,omitempty"`
}

type ResourceResponse struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	FileName        string `json:"fileName,omitempty"`
	MimeType        string `json:"mimeType,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
	Status          string `json:"status"`
	Title           string `json:"title"`
	KnowledgeID     string `json:"knowledgeId,omitempty"`
	ContextID       string `json:"contextId,omitempty"`
	WorkflowID      string `json:"workflowId"`
	ScrapeFrequency string `json:"scrapeFrequency,omitempty"`
	LastScrapedAt   string `json:"lastScrapedAt,omitempty"`
	DownloadURL     string `json:"downloadUrl,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

type PipelineResultResponse struct {
	ResourceID  string `json:"resourceId"`
	Title       string `json:"title,omitempty"`
	Status      string `json:"status"`
	ChunksCount int    `json:"chunksCount"`
	Error       string `json:"error,omitempty"`
}

type IngestSummaryResponse struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type IngestResponse struct {
	Success   bool                     `json:"success"`
	Resources []*ResourceResponse      `json:"resources"`
	Results   []PipelineResultResponse `json:"results"`
	Summary   IngestSummaryResponse    `json:"summary"`
}

func resourceToResponse(res *domain.Resource) *ResourceResponse {
	r := &ResourceResponse{
		ID:              res.ID,
		Type:            string(res.Type),
		URL:             res.URL,
		FileName:        res.FileName,
		MimeType:        res.MimeType,
		FileSize:        res.FileSize,
		Status:          string(res.Status),
		Title:           res.Title(),
		KnowledgeID:     res.KnowledgeID,
		ContextID:       res.ContextID,
		WorkflowID:      res.WorkflowID,
		ScrapeFrequency: string(res.ScrapeFrequency),
		CreatedAt:       res.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       res.UpdatedAt.Format(time.RFC3339),
	}
	if res.LastScrapedAt != nil {
		r.LastScrapedAt = res.LastScrapedAt.Format(time.RFC3339)
	}
	return r
}

func pipelineResultToResponse(result service.PipelineResult) PipelineResultResponse {
	resp := PipelineResultResponse{
		ResourceID:  result.ResourceID,
		Title:       result.Title,
		Status:      string(result.Status),
		ChunksCount: result.ChunksCount,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}

// Ingest registers a batch of resources and runs their ingestion pipelines.
// The response settles every resource: per-resource failures are reported in
// the results, never as a request-level error.
func (h *ResourceHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := service.IngestInput{
		KnowledgeID: req.KnowledgeID,
		ContextID:   req.ContextID,
		WorkflowID:  req.WorkflowID,
		UserID:      req.UserID,
	}
	for _, res := range req.Resources {
		input.Resources = append(input.Resources, service.ResourceInput{
			ID:              res.ID,
			Type:            domain.ResourceType(res.Type),
			URL:             res.URL,
			FileName:        res.FileName,
			MimeType:        res.MimeType,
			FileSize:        res.FileSize,
			ScrapeFrequency: domain.ScrapeFrequency(res.ScrapeFrequency),
		})
	}

	output, err := h.svc.Ingest(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resources := make([]*ResourceResponse, len(output.Resources))
	for i, res := range output.Resources {
		resources[i] = resourceToResponse(res)
	}
	results := make([]PipelineResultResponse, len(output.Results))
	for i, result := range output.Results {
		results[i] = pipelineResultToResponse(result)
	}

	api.Success(w, http.StatusCreated, IngestResponse{
		Success:   output.Success,
		Resources: resources,
		Results:   results,
		Summary: IngestSummaryResponse{
			Total:     output.Summary.Total,
			Processed: output.Summary.Processed,
			Failed:    output.Summary.Failed,
		},
	})
}

func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	res, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := resourceToResponse(res)
	if h.uploads != nil && res.Type == domain.ResourceTypeFile && service.IsStorageKey(res.URL) {
		// Best-effort: the resource is still returned without a download link
		// when presigning fails.
		if url, err := h.uploads.DownloadURL(r.Context(), strings.TrimPrefix(res.URL, "/")); err == nil {
			resp.DownloadURL = url
		}
	}

	api.Success(w, http.StatusOK, resp)
}

type InitUploadRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

type InitUploadResponse struct {
	StorageKey string `json:"storageKey"`
	UploadURL  string `json:"uploadUrl"`
}

// InitUpload returns a presigned PUT URL for a FILE resource blob. The client
// uploads directly to storage, then ingests a FILE resource whose url is the
// returned storage key.
func (h *ResourceHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		api.Error(w, http.StatusServiceUnavailable, "file uploads are not configured")
		return
	}

	var req InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileName == "" {
		api.Error(w, http.StatusBadRequest, "fileName is required")
		return
	}
	if req.MimeType == "" {
		api.Error(w, http.StatusBadRequest, "mimeType is required")
		return
	}

	result, err := h.uploads.InitUpload(r.Context(), service.InitUploadInput{
		FileName:    req.FileName,
		ContentType: req.MimeType,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, InitUploadResponse{
		StorageKey: result.StorageKey,
		UploadURL:  result.UploadURL,
	})
}

type ResourceListResponse struct {
	Items []*ResourceResponse `json:"items"`
	Total int                 `json:"total"`
}

// List returns the resources attached to a knowledge base or a context.
// Exactly one of knowledgeId/contextId must be given as a query parameter.
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	knowledgeID := r.URL.Query().Get("knowledgeId")
	contextID := r.URL.Query().Get("contextId")
	if (knowledgeID == "") == (contextID == "") {
		api.Error(w, http.StatusBadRequest, "exactly one of knowledgeId or contextId is required")
		return
	}

	var (
		resources []*domain.Resource
		err       error
	)
	if knowledgeID != "" {
		resources, err = h.svc.ListByKnowledge(r.Context(), knowledgeID)
	} else {
		resources, err = h.svc.ListByContext(r.Context(), contextID)
	}
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*ResourceResponse, len(resources))
	for i, res := range resources {
		items[i] = resourceToResponse(res)
	}

	api.Success(w, http.StatusOK, ResourceListResponse{Items: items, Total: len(items)})
}

// Rescrape re-runs ingestion for a LINK resource that already settled.
func (h *ResourceHandler) Rescrape(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	result, err := h.svc.Rescrape(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, pipelineResultToResponse(*result))
}

func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}
