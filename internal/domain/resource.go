package domain

import (
	"fmt"
	"time"
)

// ResourceType represents the kind of resource being ingested
type ResourceType string

const (
	ResourceTypeFile ResourceType = "FILE"
	ResourceTypeLink ResourceType = "LINK"
)

// ResourceStatus represents the ingestion status of a resource
type ResourceStatus string

const (
	ResourceStatusPending   ResourceStatus = "PENDING"
	ResourceStatusProcessed ResourceStatus = "PROCESSED"
	ResourceStatusFailed    ResourceStatus = "FAILED"
)

// ScrapeFrequency controls how often a LINK resource is rescraped
type ScrapeFrequency string

const (
	ScrapeFrequencyNever  ScrapeFrequency = "NEVER"
	ScrapeFrequencyHourly ScrapeFrequency = "HOURLY"
	ScrapeFrequencyDaily  ScrapeFrequency = "DAILY"
	ScrapeFrequencyWeekly ScrapeFrequency = "WEEKLY"
)

// Resource represents a user-supplied file or link attached to a knowledge
// base or context. Exactly one of KnowledgeID/ContextID is set.
type Resource struct {
	ID              string
	Type            ResourceType
	URL             string
	FileName        string
	MimeType        string
	FileSize        int64
	Status          ResourceStatus
	KnowledgeID     string
	ContextID       string
	WorkflowID      string
	ScrapeFrequency ScrapeFrequency
	LastScrapedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Title returns the display title for a resource: the file name for FILE
// resources, the URL for LINK resources.
func (r *Resource) Title() string {
	if r.Type == ResourceTypeFile && r.FileName != "" {
		return r.FileName
	}
	return r.URL
}

// ParentID returns whichever of KnowledgeID/ContextID is set.
func (r *Resource) ParentID() string {
	if r.KnowledgeID != "" {
		return r.KnowledgeID
	}
	return r.ContextID
}

// IsTerminal reports whether a status ends an ingestion cycle.
func IsTerminal(s ResourceStatus) bool {
	return s == ResourceStatusProcessed || s == ResourceStatusFailed
}

// CanRescrape reports whether a resource may re-enter PENDING. Only LINK
// resources in a terminal state can start a new ingestion cycle; FILE
// resources are one-shot and must be deleted and recreated.
func (r *Resource) CanRescrape() bool {
	return r.Type == ResourceTypeLink && IsTerminal(r.Status)
}

// ValidateResource validates a Resource instance
func ValidateResource(r *Resource) error {
	if r == nil {
		return fmt.Errorf("resource cannot be nil")
	}

	if r.ID == "" {
		return fmt.Errorf("resource ID is required")
	}

	if r.URL == "" {
		return fmt.Errorf("resource URL is required")
	}

	if r.WorkflowID == "" {
		return fmt.Errorf("resource WorkflowID is required")
	}

	if !isValidResourceType(r.Type) {
		return fmt.Errorf("resource Type is invalid: %s", r.Type)
	}

	if !isValidResourceStatus(r.Status) {
		return fmt.Errorf("resource Status is invalid: %s", r.Status)
	}

	if r.ScrapeFrequency != "" && !isValidScrapeFrequency(r.ScrapeFrequency) {
		return fmt.Errorf("resource ScrapeFrequency is invalid: %s", r.ScrapeFrequency)
	}

	if (r.KnowledgeID == "") == (r.ContextID == "") {
		return fmt.Errorf("resource requires exactly one of KnowledgeID or ContextID")
	}

	if r.Type == ResourceTypeFile && r.FileName == "" {
		return fmt.Errorf("resource FileName is required for FILE resources")
	}

	return nil
}

// ValidateTransition checks a status transition against the resource state
// machine: PENDING -> PROCESSED|FAILED once per cycle, and for LINK only,
// PROCESSED|FAILED -> PENDING via rescrape.
func ValidateTransition(r *Resource, to ResourceStatus) error {
	switch {
	case r.Status == ResourceStatusPending && IsTerminal(to):
		return nil
	case IsTerminal(r.Status) && to == ResourceStatusPending:
		if r.Type != ResourceTypeLink {
			return ErrRescrapeNotAllowed
		}
		return nil
	}
	return fmt.Errorf("invalid resource status transition: %s -> %s", r.Status, to)
}

func isValidResourceType(t ResourceType) bool {
	switch t {
	case ResourceTypeFile, ResourceTypeLink:
		return true
	}
	return false
}

func isValidResourceStatus(s ResourceStatus) bool {
	switch s {
	case ResourceStatusPending, ResourceStatusProcessed, ResourceStatusFailed:
		return true
	}
	return false
}

func isValidScrapeFrequency(f ScrapeFrequency) bool {
	switch f {
	case ScrapeFrequencyNever, ScrapeFrequencyHourly, ScrapeFrequencyDaily, ScrapeFrequencyWeekly:
		return true
	}
	return false
}

// Interval returns the wall-clock interval between scheduled rescrapes, or
// zero for NEVER.
func (f ScrapeFrequency) Interval() time.Duration {
	switch f {
	case ScrapeFrequencyHourly:
		return time.Hour
	case ScrapeFrequencyDaily:
		return 24 * time.Hour
	case ScrapeFrequencyWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}
