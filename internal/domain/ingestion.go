package domain

import "time"

// IngestionInput is one observation handed to the pipeline.
type IngestionInput struct {
	AgentID   string            `json:"agent_id"`
	Content   string            `json:"content"`
	Source    string            `json:"source,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	DryRun    bool              `json:"dry_run,omitempty"`
}

type IngestionStatus string

const (
	StatusSuccess IngestionStatus = "SUCCESS"
	// StatusPartial means the memory was stored but belief analysis failed
	// or was cancelled.
	StatusPartial IngestionStatus = "PARTIAL"
	StatusDryRun  IngestionStatus = "DRY_RUN"
)

type IngestionResult struct {
	MemoryID            string              `json:"memory_id,omitempty"`
	AgentID             string              `json:"agent_id"`
	Category            CategoryLabel       `json:"category"`
	EncodedSuccessfully bool                `json:"encoded_successfully"`
	DryRun              bool                `json:"dry_run"`
	BeliefUpdateResult  *BeliefUpdateResult `json:"belief_update_result,omitempty"`
	ProcessingTimeMs    int64               `json:"processing_time_ms"`
	Status              IngestionStatus     `json:"status"`
	// Metadata surfaces non-fatal degradations (categorizer or embedding
	// failures) to the caller.
	Metadata map[string]string `json:"metadata,omitempty"`
}
