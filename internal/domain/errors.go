package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeExtraction       = "EXTRACTION_ERROR"
	ErrCodeService          = "SERVICE_ERROR"
	ErrCodePersistence      = "PERSISTENCE_ERROR"
	ErrCodeTimeout          = "TIMEOUT_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidResourceType    = NewDomainError(ErrCodeValidation, "invalid resource type")
	ErrInvalidResourceStatus  = NewDomainError(ErrCodeValidation, "invalid resource status")
	ErrInvalidScrapeFrequency = NewDomainError(ErrCodeValidation, "invalid scrape frequency")
	ErrEmptyResourceBatch     = NewDomainError(ErrCodeValidation, "resource batch cannot be empty")
)

// Not found errors
var (
	ErrResourceNotFound = NewDomainError(ErrCodeNotFound, "resource not found")
)

// Pipeline errors
var (
	ErrEmbeddingCountMismatch = NewDomainError(ErrCodeService, "embedding count does not match chunk count")
	ErrChunkerUnavailable     = NewDomainError(ErrCodeService, "chunker service unavailable")
	ErrPipelineTimeout        = NewDomainError(ErrCodeTimeout, "ingestion exceeded pipeline time budget")
)

// Operation errors
var (
	ErrRescrapeNotAllowed = NewDomainError(ErrCodeInvalidOperation, "only LINK resources in a terminal state can be rescraped")
	ErrIngestionInFlight  = NewDomainError(ErrCodeInvalidOperation, "resource is already being ingested")
)
