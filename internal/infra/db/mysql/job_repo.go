package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	domain "github.com/DeMost777/UX-Audit/internal/domain/analysis"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Save insert/update job record
func (r *JobRepository) Save(ctx context.Context, j *domain.Job) error {
	const q = `
INSERT INTO ux_analysis_jobs
(id, tenant_id, file_reference, status, created_at, updated_at)
VALUES (?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 file_reference=VALUES(file_reference),
 status=VALUES(status),
 updated_at=VALUES(updated_at);
`
	tenant := stringOrDash(j.TenantID)
	status := stringOrDash(string(j.Status))
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	updated := j.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err := r.db.ExecContext(ctx, q, j.ID, tenant, j.FileReference, status, created, updated)
	return err
}

// Get by ID + Tenant
func (r *JobRepository) Get(ctx context.Context, tenant string, id domain.JobID) (*domain.Job, error) {
	const q = `
SELECT id, tenant_id, file_reference, status, created_at, updated_at
FROM ux_analysis_jobs
WHERE tenant_id=? AND id=? LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, tenant, id)

	var j domain.Job
	if err := row.Scan(&j.ID, &j.TenantID, &j.FileReference, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// Claim is the atomic conditional transition pending|failed -> processing.
// The precondition and the mutation are one UPDATE, so two concurrent
// callers can never both observe pending and both proceed: exactly one
// sees an affected row.
func (r *JobRepository) Claim(ctx context.Context, tenant string, id domain.JobID) (bool, error) {
	const q = `
UPDATE ux_analysis_jobs
SET status = ?, updated_at = ?
WHERE tenant_id = ? AND id = ? AND status IN (?, ?);
`
	res, err := r.db.ExecContext(ctx, q,
		domain.StatusProcessing, time.Now(),
		tenant, id,
		domain.StatusPending, domain.StatusFailed,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetStatus hanya update kolom status
func (r *JobRepository) SetStatus(ctx context.Context, tenant string, id domain.JobID, status domain.Status) error {
	const q = `
UPDATE ux_analysis_jobs
SET status = ?, updated_at = ?
WHERE tenant_id = ? AND id = ?;`
	_, err := r.db.ExecContext(ctx, q, status, time.Now(), tenant, id)
	return err
}

// SaveFindings replaces a job's findings in one transaction, keeping the
// merged detector order via the ordinal column. Re-running a job never
// appends duplicates.
func (r *JobRepository) SaveFindings(ctx context.Context, tenant string, id domain.JobID, findings []domain.Finding) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ux_findings WHERE tenant_id = ? AND job_id = ?;`, tenant, id); err != nil {
		return err
	}

	const q = `
INSERT INTO ux_findings
(tenant_id, job_id, ordinal, issue_type, severity, title, description, x, y, width, height, rule_id)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?);
`
	for i, f := range findings {
		if _, err := tx.ExecContext(ctx, q,
			tenant, id, i, f.IssueType, f.Severity, f.Title, f.Description,
			f.X, f.Y, f.Width, f.Height, f.RuleID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Findings returns a job's findings in stored (merged) order.
func (r *JobRepository) Findings(ctx context.Context, tenant string, id domain.JobID) ([]domain.Finding, error) {
	const q = `
SELECT issue_type, severity, title, description, x, y, width, height, rule_id
FROM ux_findings
WHERE tenant_id = ? AND job_id = ?
ORDER BY ordinal ASC;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Finding
	for rows.Next() {
		var f domain.Finding
		if err := rows.Scan(&f.IssueType, &f.Severity, &f.Title, &f.Description,
			&f.X, &f.Y, &f.Width, &f.Height, &f.RuleID); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertSummary idempotent replace keyed by job id
func (r *JobRepository) UpsertSummary(ctx context.Context, tenant string, id domain.JobID, sum domain.RunSummary) error {
	const q = `
INSERT INTO ux_run_summaries
(job_id, tenant_id, image_width, image_height, total_issues, analysis_duration_ms)
VALUES (?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 image_width=VALUES(image_width),
 image_height=VALUES(image_height),
 total_issues=VALUES(total_issues),
 analysis_duration_ms=VALUES(analysis_duration_ms);
`
	_, err := r.db.ExecContext(ctx, q, id, tenant,
		sum.ImageWidth, sum.ImageHeight, sum.TotalIssues, sum.AnalysisDurationMS)
	return err
}

// GetSummary by job id
func (r *JobRepository) GetSummary(ctx context.Context, tenant string, id domain.JobID) (*domain.RunSummary, error) {
	const q = `
SELECT image_width, image_height, total_issues, analysis_duration_ms
FROM ux_run_summaries
WHERE tenant_id = ? AND job_id = ? LIMIT 1;
`
	var s domain.RunSummary
	err := r.db.QueryRowContext(ctx, q, tenant, id).Scan(
		&s.ImageWidth, &s.ImageHeight, &s.TotalIssues, &s.AnalysisDurationMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Latest jobs per tenant
func (r *JobRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, file_reference, status, created_at, updated_at
FROM ux_analysis_jobs
WHERE tenant_id=? ORDER BY created_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.TenantID, &j.FileReference, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// Paginate with offset + limit (classic pagination)
func (r *JobRepository) Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := `
SELECT id, tenant_id, file_reference, status, created_at, updated_at
FROM ux_analysis_jobs
WHERE tenant_id=?`

	args := []interface{}{tenant}

	if filters != nil {
		if status, ok := filters["status"]; ok {
			query += " AND status = ?"
			args = append(args, status)
		}
	}

	query += "\n ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.TenantID, &j.FileReference, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return domain.PaginatedResult{}, fmt.Errorf("scanning row: %w", err)
		}
		jobs = append(jobs, &j)
	}
	if err = rows.Err(); err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("iterating rows: %w", err)
	}

	total, err := r.Count(ctx, tenant, filters)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("getting total count: %w", err)
	}

	return domain.PaginatedResult{
		Data:       jobs,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// Count returns the total number of jobs matching the given filters
func (r *JobRepository) Count(ctx context.Context, tenant string, filters map[string]interface{}) (int64, error) {
	query := "SELECT COUNT(*) FROM ux_analysis_jobs WHERE tenant_id = ?"
	args := []interface{}{tenant}

	if filters != nil {
		if status, ok := filters["status"]; ok {
			query += " AND status = ?"
			args = append(args, status)
		}
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Stats counts jobs and finding severities since N days
func (r *JobRepository) Stats(ctx context.Context, tenant string, sinceDays int) (domain.Stats, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays)

	const jobsQ = `
SELECT COUNT(*) AS total_jobs,
       COALESCE(SUM(status = 'completed'),0) AS completed,
       COALESCE(SUM(status = 'failed'),0)    AS failed
FROM ux_analysis_jobs
WHERE tenant_id=? AND created_at >= ?;
`
	var st domain.Stats
	if err := r.db.QueryRowContext(ctx, jobsQ, tenant, cut).Scan(&st.TotalJobs, &st.Completed, &st.Failed); err != nil {
		return domain.Stats{}, err
	}

	const sevQ = `
SELECT COALESCE(SUM(f.severity = 'error'),0)   AS errors,
       COALESCE(SUM(f.severity = 'warning'),0) AS warnings,
       COALESCE(SUM(f.severity = 'info'),0)    AS infos
FROM ux_findings f
JOIN ux_analysis_jobs j ON j.tenant_id = f.tenant_id AND j.id = f.job_id
WHERE f.tenant_id=? AND j.created_at >= ?;
`
	if err := r.db.QueryRowContext(ctx, sevQ, tenant, cut).Scan(&st.Errors, &st.Warnings, &st.Infos); err != nil {
		return domain.Stats{}, err
	}
	return st, nil
}
