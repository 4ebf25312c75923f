package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/itzam-ai/itzam-sub000/internal/domain"
)

// HTTPClient calls a remote chunk/embed service over HTTP. The call blocks
// until the service finishes the whole task (submit and await completion).
type HTTPClient struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPClient{client: client, baseURL: baseURL}
}

type httpResource struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

type httpRequest struct {
	Resource           httpResource `json:"resource"`
	GenerateEmbeddings bool         `json:"generateEmbeddings"`
	SaveToStore        bool         `json:"saveToStore"`
	WorkflowID         string       `json:"workflowId"`
}

type httpResponse struct {
	SavedToStore    *bool       `json:"savedToStore,omitempty"`
	ChunksSaved     int         `json:"chunksSaved,omitempty"`
	ChunkIDs        []string    `json:"chunkIds,omitempty"`
	SaveError       string      `json:"saveError,omitempty"`
	Chunks          []string    `json:"chunks,omitempty"`
	Embeddings      [][]float32 `json:"embeddings,omitempty"`
	EmbeddingsError string      `json:"embeddingsError,omitempty"`
}

func (c *HTTPClient) Process(ctx context.Context, req Request) (*Result, error) {
	if req.Resource == nil {
		return nil, fmt.Errorf("chunker request requires a resource")
	}

	body := httpRequest{
		Resource: httpResource{
			ID:       req.Resource.ID,
			Type:     string(req.Resource.Type),
			URL:      req.Resource.URL,
			FileName: req.Resource.FileName,
			MimeType: req.Resource.MimeType,
			FileSize: req.Resource.FileSize,
		},
		GenerateEmbeddings: req.GenerateEmbeddings,
		SaveToStore:        req.SaveToStore,
		WorkflowID:         req.WorkflowID,
	}

	resp, err := c.client.R().SetContext(ctx).SetBody(body).Post("/process")
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeService, "chunker service call failed", err)
	}
	if resp.IsError() {
		return nil, domain.NewDomainError(domain.ErrCodeService,
			fmt.Sprintf("chunker service returned status %d", resp.StatusCode()))
	}

	return parseResponse(resp.Body())
}

// parseResponse accepts the service's three response shapes, including the
// legacy bare string array of chunks.
func parseResponse(body []byte) (*Result, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var chunks []string
		if err := json.Unmarshal(body, &chunks); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeService, "malformed chunker response", err)
		}
		return &Result{Chunks: chunks}, nil
	}

	var decoded httpResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeService, "malformed chunker response", err)
	}

	result := &Result{
		ChunksSaved:     decoded.ChunksSaved,
		ChunkIDs:        decoded.ChunkIDs,
		SaveError:       decoded.SaveError,
		Chunks:          decoded.Chunks,
		Embeddings:      decoded.Embeddings,
		EmbeddingsError: decoded.EmbeddingsError,
	}
	if decoded.SavedToStore != nil {
		result.SavedToStore = *decoded.SavedToStore
	}
	return result, nil
}
