package runerrors

import (
	"context"
)

// Repository defines persistence for absorbed run errors
type Repository interface {
	Save(ctx context.Context, e *RunError) error
	ListByJob(ctx context.Context, tenant string, jobID string, limit int) ([]*RunError, error)
}
