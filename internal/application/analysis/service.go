package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/DeMost777/UX-Audit/internal/domain/analysis"
	"github.com/DeMost777/UX-Audit/internal/domain/runerrors"
)

// Service implements use-cases untuk analysis jobs.
// Service is designed to be used concurrently and is thread-safe: it holds
// no per-job state, and the repository's Claim is the only concurrency
// control between competing triggers of the same job.
type Service struct {
	Repo      domain.Repository
	Source    domain.ImageSource
	Metadata  domain.MetadataExtractor
	Detectors []domain.Detector
	RunErrors runerrors.Repository // optional; nil disables the audit trail
	Clock     Clock

	// FetchTimeout bounds the source-image fetch; zero means 30s.
	FetchTimeout time.Duration
}

const defaultFetchTimeout = 30 * time.Second

func (s *Service) fetchTimeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	return defaultFetchTimeout
}

// Clock abstraction supaya gampang ditest
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

//
// ==== USE CASES ====
//

// Command untuk create job
type CreateJobCommand struct {
	TenantID      string
	FileReference string
}

// RunResult is the outward contract of runAnalysis: downstream triggers
// invoke it and poll the same fields afterward.
type RunResult struct {
	ID          string        `json:"id"`
	Status      domain.Status `json:"status"`
	TotalIssues int           `json:"total_issues"`
	DurationMS  int64         `json:"duration_ms,omitempty"`

	// AlreadyHandled is true when the claim was lost: another caller is
	// processing (or has completed) this job. Not an error.
	AlreadyHandled bool `json:"already_handled,omitempty"`
}

// CreateJob registers a pending job for an uploaded image reference.
func (s *Service) CreateJob(ctx context.Context, cmd CreateJobCommand) (*domain.Job, error) {
	if cmd.FileReference == "" {
		return nil, fmt.Errorf("file_reference is required")
	}
	now := s.Clock.Now()
	job := &domain.Job{
		ID:            domain.JobID(uuid.New().String()),
		TenantID:      cmd.TenantID,
		FileReference: cmd.FileReference,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RunAnalysisUntilDone → jalanin analysis dengan context.Background()
// cocok dipanggil dari goroutine di router supaya gak kena context canceled
func (s *Service) RunAnalysisUntilDone(tenant string, id domain.JobID) (RunResult, error) {
	return s.RunAnalysis(context.Background(), tenant, id)
}

// RunAnalysis executes one full pipeline run for a job:
// claim → fetch → metadata → detectors → merge → persist → completed.
//
// Claim loss is reported as AlreadyHandled, not as an error. Fetch and
// metadata failures mark the job failed. Detector failures are absorbed
// (fail-open): the run continues with the remaining detectors' findings.
// Persistence failures after successful analysis are logged and recorded
// but do not prevent the completed transition.
func (s *Service) RunAnalysis(ctx context.Context, tenant string, id domain.JobID) (RunResult, error) {
	claimed, err := s.Repo.Claim(ctx, tenant, id)
	if err != nil {
		return RunResult{ID: string(id)}, err
	}
	if !claimed {
		job, err := s.Repo.Get(ctx, tenant, id)
		if err != nil {
			return RunResult{ID: string(id)}, err
		}
		total := 0
		if sum, err := s.Repo.GetSummary(ctx, tenant, id); err == nil && sum != nil {
			total = sum.TotalIssues
		}
		return RunResult{ID: string(id), Status: job.Status, TotalIssues: total, AlreadyHandled: true}, nil
	}

	job, err := s.Repo.Get(ctx, tenant, id)
	if err != nil {
		_ = s.Repo.SetStatus(context.Background(), tenant, id, domain.StatusFailed)
		return RunResult{ID: string(id), Status: domain.StatusFailed}, err
	}

	start := s.Clock.Now()

	// A stalled image host must not hold the job in processing forever:
	// nothing can reclaim a processing job, so the fetch gets a deadline
	// even when the caller supplied none.
	fetchCtx, cancelFetch := context.WithTimeout(ctx, s.fetchTimeout())
	data, _, err := s.Source.Fetch(fetchCtx, job.FileReference)
	cancelFetch()
	if err != nil {
		ferr := &domain.FetchError{Reference: job.FileReference, Err: err}
		s.recordError(tenant, id, "", "fetch", ferr)
		_ = s.Repo.SetStatus(context.Background(), tenant, id, domain.StatusFailed)
		return RunResult{ID: string(id), Status: domain.StatusFailed}, ferr
	}

	meta, err := s.Metadata.Extract(data)
	if err != nil {
		s.recordError(tenant, id, "", "metadata", err)
		_ = s.Repo.SetStatus(context.Background(), tenant, id, domain.StatusFailed)
		return RunResult{ID: string(id), Status: domain.StatusFailed}, fmt.Errorf("extract metadata: %w", err)
	}

	merged := s.runDetectors(ctx, tenant, id, data, meta)
	duration := s.Clock.Now().Sub(start)
	summary := BuildSummary(meta, len(merged), duration)

	// Best-effort writes: analytic work succeeded, so failures here are
	// recorded and the job still completes.
	if err := s.Repo.SaveFindings(ctx, tenant, id, merged); err != nil {
		log.Printf("save findings failed for job=%s: %v", id, err)
		s.recordError(tenant, id, "", "persist", err)
	}
	if err := s.Repo.UpsertSummary(ctx, tenant, id, summary); err != nil {
		log.Printf("upsert summary failed for job=%s: %v", id, err)
		s.recordError(tenant, id, "", "persist", err)
	}

	// Terminal transition is detached from the caller's context: a client
	// that disconnected mid-run must not strand the job in processing.
	if err := s.Repo.SetStatus(context.Background(), tenant, id, domain.StatusCompleted); err != nil {
		return RunResult{ID: string(id), Status: domain.StatusProcessing}, err
	}

	return RunResult{
		ID:          string(id),
		Status:      domain.StatusCompleted,
		TotalIssues: summary.TotalIssues,
		DurationMS:  summary.AnalysisDurationMS,
	}, nil
}

// runDetectors runs every detector concurrently and merges their outputs
// in registration order. A failing detector contributes zero findings.
func (s *Service) runDetectors(ctx context.Context, tenant string, id domain.JobID, data []byte, meta domain.ImageMetadata) []domain.Finding {
	results := make([][]domain.Finding, len(s.Detectors))

	var wg sync.WaitGroup
	for i, det := range s.Detectors {
		wg.Add(1)
		go func(i int, det domain.Detector) {
			defer wg.Done()
			findings, err := det.Detect(ctx, data, meta)
			if err != nil {
				log.Printf("detector %s failed open for job=%s: %v", det.Name(), id, err)
				s.recordError(tenant, id, det.Name(), "detect", err)
				return
			}
			results[i] = findings
		}(i, det)
	}
	wg.Wait()

	return MergeFindings(results...)
}

// recordError persists an absorbed failure to the audit trail.
func (s *Service) recordError(tenant string, id domain.JobID, detector, phase string, err error) {
	if s.RunErrors == nil {
		return
	}
	fields := map[string]string{"error": err.Error()}
	var serr *domain.SchemaError
	if errors.As(err, &serr) && serr.Raw != "" {
		fields["raw_response"] = serr.Raw
	}
	details, _ := json.Marshal(fields)
	e := &runerrors.RunError{
		TenantID:    tenant,
		JobID:       string(id),
		Detector:    detector,
		Phase:       phase,
		Message:     err.Error(),
		DetailsJSON: string(details),
		CreatedAt:   s.Clock.Now(),
	}
	if serr := s.RunErrors.Save(context.Background(), e); serr != nil {
		log.Printf("record run error failed for job=%s: %v", id, serr)
	}
}

//
// ==== QUERIES ====
//

// Get ambil 1 job by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.JobID) (*domain.Job, error) {
	return s.Repo.Get(ctx, tenant, id)
}

// Latest ambil N job terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Job, error) {
	return s.Repo.Latest(ctx, tenant, limit)
}

// Paginate lists jobs page by page with optional filters.
func (s *Service) Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	return s.Repo.Paginate(ctx, tenant, page, pageSize, filters)
}

// Findings returns the persisted findings of a job in stored order.
func (s *Service) Findings(ctx context.Context, tenant string, id domain.JobID) ([]domain.Finding, error) {
	return s.Repo.Findings(ctx, tenant, id)
}

// Summary returns the persisted run summary, or nil when none exists yet.
func (s *Service) Summary(ctx context.Context, tenant string, id domain.JobID) (*domain.RunSummary, error) {
	return s.Repo.GetSummary(ctx, tenant, id)
}

// Stats rekap hasil analysis N hari terakhir
func (s *Service) Stats(ctx context.Context, tenant string, sinceDays int) (domain.Stats, error) {
	return s.Repo.Stats(ctx, tenant, sinceDays)
}

// JobErrors lists the absorbed failures recorded for a job.
func (s *Service) JobErrors(ctx context.Context, tenant string, id domain.JobID, limit int) ([]*runerrors.RunError, error) {
	if s.RunErrors == nil {
		return nil, nil
	}
	return s.RunErrors.ListByJob(ctx, tenant, string(id), limit)
}
