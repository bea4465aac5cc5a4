package analysis

import "fmt"

// FetchError indicates the source image could not be retrieved.
// Fatal to the run: the job is marked failed.
type FetchError struct {
	Reference string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Reference, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SchemaError indicates a detector produced output that violates its
// declared schema. Confined to the detector that raised it. Raw carries a
// truncated copy of the offending output for the audit trail.
type SchemaError struct {
	Detector string
	Reason   string
	Raw      string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: schema violation: %s", e.Detector, e.Reason)
}
