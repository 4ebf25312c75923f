package domain

import (
	"fmt"
	"time"
)

// Chunk is a text slice of a resource paired with its embedding vector.
// Chunks are append-only: once inserted they are never mutated.
type Chunk struct {
	ID         string
	ResourceID string
	WorkflowID string
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}

	if c.ResourceID == "" {
		return fmt.Errorf("chunk ResourceID is required")
	}

	if c.WorkflowID == "" {
		return fmt.Errorf("chunk WorkflowID is required")
	}

	if c.Content == "" {
		return fmt.Errorf("chunk Content is required")
	}

	return nil
}
