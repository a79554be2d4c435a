package types

import "time"

// Memory is a unit of remembered conversation or note content owned by the
// memory collaborator. The context aggregator only reads memories.
type Memory struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Content    string    `json:"content"`           // Raw memory content
	Summary    string    `json:"summary,omitempty"` // Short insight text
	Tags       []string  `json:"tags,omitempty"`    // User-defined tags
	Importance float64   `json:"importance"`        // [0,1]
	CreatedAt  time.Time `json:"created_at"`        // When the memory was recorded
}

// MemoryInput is the caller-supplied part of a Memory.
type MemoryInput struct {
	OwnerID    string   `json:"owner_id"`
	Content    string   `json:"content"`
	Summary    string   `json:"summary,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance float64  `json:"importance"`
}
