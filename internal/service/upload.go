package service

import (
	"context"
	"fmt"
	"net/url"
)

// StorageClientInterface defines the blob storage operations the services need
type StorageClientInterface interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error)
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (*ObjectMetadata, error)
}

type ObjectMetadata struct {
	ContentLength int64
	ContentType   string
	ETag          string
}

// UploadService issues presigned URLs for FILE resource blobs and resolves
// storage keys back to metadata. LINK resources never touch blob storage.
type UploadService struct {
	storageClient StorageClientInterface
	uuidGen       UUIDGenerator
}

func NewUploadService(storageClient StorageClientInterface) *UploadService {
	return &UploadService{
		storageClient: storageClient,
		uuidGen:       &DefaultUUIDGenerator{},
	}
}

func NewUploadServiceWithUUIDGen(storageClient StorageClientInterface, uuidGen UUIDGenerator) *UploadService {
	return &UploadService{
		storageClient: storageClient,
		uuidGen:       uuidGen,
	}
}

type InitUploadInput struct {
	FileName    string
	ContentType string
}

type InitUploadResult struct {
	StorageKey string
	UploadURL  string
}

// InitUpload reserves a storage key and returns a presigned PUT URL. The
// client uploads the blob directly, then registers a FILE resource whose url
// is the returned storage key.
func (s *UploadService) InitUpload(ctx context.Context, input InitUploadInput) (*InitUploadResult, error) {
	storageKey := buildStorageKey(s.uuidGen.NewString(), input.FileName)

	uploadURL, err := s.storageClient.GenerateUploadURL(ctx, storageKey, input.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload URL: %w", err)
	}

	return &InitUploadResult{
		StorageKey: storageKey,
		UploadURL:  uploadURL,
	}, nil
}

// Verify confirms the blob behind a storage key exists and returns its
// metadata.
func (s *UploadService) Verify(ctx context.Context, storageKey string) (*ObjectMetadata, error) {
	meta, err := s.storageClient.HeadObject(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to verify uploaded file: %w", err)
	}
	return meta, nil
}

// DownloadURL returns a presigned GET URL for a stored blob.
func (s *UploadService) DownloadURL(ctx context.Context, storageKey string) (string, error) {
	downloadURL, err := s.storageClient.GenerateDownloadURL(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("failed to generate download URL: %w", err)
	}
	return downloadURL, nil
}

// DeleteBlob removes a stored blob.
func (s *UploadService) DeleteBlob(ctx context.Context, storageKey string) error {
	if err := s.storageClient.DeleteObject(ctx, storageKey); err != nil {
		return fmt.Errorf("failed to delete from storage: %w", err)
	}
	return nil
}

func buildStorageKey(uploadID, fileName string) string {
	return fmt.Sprintf("uploads/%s/%s", uploadID, fileName)
}

// IsStorageKey reports whether a resource url references blob storage rather
// than the public web. FILE resources carry their storage key in the url
// column.
func IsStorageKey(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return parsed.Scheme != "http" && parsed.Scheme != "https"
}
