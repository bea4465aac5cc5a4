package analysis

import (
	"time"
)

// JobID tipe untuk AnalysisJob
type JobID string

// Status enum
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IssueType enum
type IssueType string

const (
	IssueContrast      IssueType = "contrast"
	IssueSpacing       IssueType = "spacing"
	IssueAccessibility IssueType = "accessibility"
	IssueLayout        IssueType = "layout"
)

// Severity enum
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Aggregate Root: AnalysisJob
type Job struct {
	ID            JobID     `json:"id"`
	TenantID      string    `json:"tenant_id"`
	FileReference string    `json:"file_reference"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ImageMetadata value object, derived once per run
type ImageMetadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// Finding is one reported UX issue. Immutable once produced.
// Geometry invariant: 0 <= x, 0 <= y, width >= 1, height >= 1,
// x+width <= image width, y+height <= image height.
type Finding struct {
	IssueType   IssueType `json:"issue_type"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	X           int       `json:"x"`
	Y           int       `json:"y"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	RuleID      string    `json:"rule_id"`
}

// RunSummary value object, upserted per job
type RunSummary struct {
	ImageWidth         int   `json:"image_width"`
	ImageHeight        int   `json:"image_height"`
	TotalIssues        int   `json:"total_issues"`
	AnalysisDurationMS int64 `json:"analysis_duration_ms"`
}

// ValidIssueType reports whether s is one of the closed issue_type values.
func ValidIssueType(s string) bool {
	switch IssueType(s) {
	case IssueContrast, IssueSpacing, IssueAccessibility, IssueLayout:
		return true
	}
	return false
}

// ValidSeverity reports whether s is one of the closed severity values.
func ValidSeverity(s string) bool {
	switch Severity(s) {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}
