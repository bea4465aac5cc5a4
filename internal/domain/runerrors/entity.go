package runerrors

import "time"

// RunError is a persisted record of a failure the pipeline absorbed
// instead of propagating: a detector that failed open, or a best-effort
// persistence write that was skipped.
type RunError struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	JobID       string    `json:"job_id"`
	Detector    string    `json:"detector,omitempty"`
	Phase       string    `json:"phase,omitempty"` // detect | persist | other
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}
