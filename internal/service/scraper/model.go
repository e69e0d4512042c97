package scraper

import (
	"scrapeflow/internal/engine"
)

// SubmitTaskDTO is the request body for task submission
type SubmitTaskDTO struct {
	Site       string            `json:"site" validate:"required"`
	URL        string            `json:"url" validate:"required,url"`
	Priority   string            `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	MaxRetries *int              `json:"max_retries" validate:"omitempty,gte=0,lte=10"`
	Parameters map[string]string `json:"parameters"`
}

// BulkSubmitDTO is the request body for bulk task submission
type BulkSubmitDTO struct {
	Tasks []SubmitTaskDTO `json:"tasks" validate:"required,min=1,max=100,dive"`
}

// SubmitResponse reports one accepted task
type SubmitResponse struct {
	TaskID   string        `json:"task_id"`
	Status   engine.Status `json:"status"`
	Priority string        `json:"priority"`
}

// BulkSubmitResponse reports the outcome of each submission in a bulk
// request, in request order
type BulkSubmitResponse struct {
	Accepted int                `json:"accepted"`
	Rejected int                `json:"rejected"`
	Results  []BulkSubmitResult `json:"results"`
}

// BulkSubmitResult is one entry of a bulk submission outcome
type BulkSubmitResult struct {
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TokenRequestDTO is the request body for token issuance
type TokenRequestDTO struct {
	Subject string `json:"subject" validate:"required"`
}

// TokenResponse carries an issued API token
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
