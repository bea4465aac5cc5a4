package analysis

import (
	"time"

	domain "github.com/DeMost777/UX-Audit/internal/domain/analysis"
)

// MergeFindings concatenates detector outputs in the order given,
// preserving each detector's internal ordering and provenance tags.
// No deduplication is performed across detectors: overlapping findings
// from different detectors are both kept, distinguishable by rule_id.
func MergeFindings(lists ...[]domain.Finding) []domain.Finding {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	merged := make([]domain.Finding, 0, total)
	for _, l := range lists {
		merged = append(merged, l...)
	}
	return merged
}

// BuildSummary computes the per-run aggregate stored alongside findings.
func BuildSummary(meta domain.ImageMetadata, totalIssues int, elapsed time.Duration) domain.RunSummary {
	return domain.RunSummary{
		ImageWidth:         meta.Width,
		ImageHeight:        meta.Height,
		TotalIssues:        totalIssues,
		AnalysisDurationMS: elapsed.Milliseconds(),
	}
}
