package analysis

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/DeMost777/UX-Audit/internal/domain/analysis"
	"github.com/DeMost777/UX-Audit/internal/domain/runerrors"
)

//
// ==== FAKES ====
//

type fakeRepo struct {
	mu        sync.Mutex
	jobs      map[domain.JobID]*domain.Job
	findings  map[domain.JobID][]domain.Finding
	summaries map[domain.JobID]*domain.RunSummary

	failSaveFindings  bool
	failUpsertSummary bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:      make(map[domain.JobID]*domain.Job),
		findings:  make(map[domain.JobID][]domain.Finding),
		summaries: make(map[domain.JobID]*domain.RunSummary),
	}
}

func (r *fakeRepo) Save(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(_ context.Context, _ string, id domain.JobID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) Claim(_ context.Context, _ string, id domain.JobID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	if j.Status != domain.StatusPending && j.Status != domain.StatusFailed {
		return false, nil
	}
	j.Status = domain.StatusProcessing
	return true, nil
}

func (r *fakeRepo) SetStatus(ctx context.Context, _ string, id domain.JobID, status domain.Status) error {
	// like a real store, refuse work on a dead context
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = status
	}
	return nil
}

func (r *fakeRepo) SaveFindings(_ context.Context, _ string, id domain.JobID, findings []domain.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSaveFindings {
		return errors.New("findings write refused")
	}
	r.findings[id] = append([]domain.Finding(nil), findings...)
	return nil
}

func (r *fakeRepo) Findings(_ context.Context, _ string, id domain.JobID) ([]domain.Finding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Finding(nil), r.findings[id]...), nil
}

func (r *fakeRepo) UpsertSummary(_ context.Context, _ string, id domain.JobID, sum domain.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsertSummary {
		return errors.New("summary write refused")
	}
	r.summaries[id] = &sum
	return nil
}

func (r *fakeRepo) GetSummary(_ context.Context, _ string, id domain.JobID) (*domain.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.summaries[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeRepo) Latest(_ context.Context, _ string, _ int) ([]*domain.Job, error) {
	return nil, nil
}

func (r *fakeRepo) Paginate(_ context.Context, _ string, page, pageSize int, _ map[string]interface{}) (domain.PaginatedResult, error) {
	return domain.PaginatedResult{Page: page, PageSize: pageSize}, nil
}

func (r *fakeRepo) Stats(_ context.Context, _ string, _ int) (domain.Stats, error) {
	return domain.Stats{}, nil
}

func (r *fakeRepo) status(id domain.JobID) domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Status
}

type fakeSource struct {
	data     []byte
	fetchErr error
}

func (s *fakeSource) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	if s.fetchErr != nil {
		return nil, "", s.fetchErr
	}
	return s.data, "image/png", nil
}

func (s *fakeSource) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return key, nil
}

func (s *fakeSource) SignedURL(_ context.Context, reference string, _ int) (string, error) {
	return "https://signed.example/" + reference, nil
}

// stalledSource hangs until the fetch context is cancelled, like an image
// host that accepts the connection and never responds.
type stalledSource struct{}

func (stalledSource) Fetch(ctx context.Context, _ string) ([]byte, string, error) {
	<-ctx.Done()
	return nil, "", ctx.Err()
}

func (stalledSource) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return key, nil
}

func (stalledSource) SignedURL(_ context.Context, reference string, _ int) (string, error) {
	return reference, nil
}

type fakeExtractor struct {
	meta domain.ImageMetadata
	err  error
}

func (e fakeExtractor) Extract(_ []byte) (domain.ImageMetadata, error) {
	return e.meta, e.err
}

type fakeDetector struct {
	name     string
	findings []domain.Finding
	err      error
	delay    time.Duration
}

func (d *fakeDetector) Name() string { return d.name }

func (d *fakeDetector) Detect(_ context.Context, _ []byte, _ domain.ImageMetadata) ([]domain.Finding, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.findings, nil
}

type fakeErrorLog struct {
	mu      sync.Mutex
	records []*runerrors.RunError
}

func (l *fakeErrorLog) Save(_ context.Context, e *runerrors.RunError) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, e)
	return nil
}

func (l *fakeErrorLog) ListByJob(_ context.Context, _ string, jobID string, _ int) ([]*runerrors.RunError, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*runerrors.RunError
	for _, e := range l.records {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

// stepClock advances a fixed amount on every Now call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func finding(ruleID string) domain.Finding {
	return domain.Finding{
		IssueType:   domain.IssueLayout,
		Severity:    domain.SeverityInfo,
		Title:       "t",
		Description: "d",
		X:           0, Y: 0, Width: 10, Height: 10,
		RuleID: ruleID,
	}
}

func newTestService(repo *fakeRepo, src domain.ImageSource, detectors ...domain.Detector) (*Service, *fakeErrorLog) {
	errLog := &fakeErrorLog{}
	svc := &Service{
		Repo:      repo,
		Source:    src,
		Metadata:  fakeExtractor{meta: domain.ImageMetadata{Width: 1920, Height: 1080, Format: "png"}},
		Detectors: detectors,
		RunErrors: errLog,
		Clock:     &stepClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), step: 100 * time.Millisecond},
	}
	return svc, errLog
}

func seedJob(t *testing.T, svc *Service) *domain.Job {
	t.Helper()
	job, err := svc.CreateJob(context.Background(), CreateJobCommand{TenantID: "acme", FileReference: "acme/shot.png"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

//
// ==== TESTS ====
//

func TestCreateJob(t *testing.T) {
	svc, _ := newTestService(newFakeRepo(), &fakeSource{})
	job := seedJob(t, svc)

	if job.Status != domain.StatusPending {
		t.Fatalf("new job status = %q, want pending", job.Status)
	}
	if job.ID == "" {
		t.Fatalf("new job has empty id")
	}

	if _, err := svc.CreateJob(context.Background(), CreateJobCommand{TenantID: "acme"}); err == nil {
		t.Fatalf("expected error for empty file_reference")
	}
}

func TestRunAnalysisHappyPath(t *testing.T) {
	repo := newFakeRepo()
	rules := &fakeDetector{name: "rules", findings: []domain.Finding{finding("rules:contrast-1"), finding("rules:spacing-1")}}
	vision := &fakeDetector{name: "vision", findings: []domain.Finding{finding("vision:v1:0")}}
	svc, _ := newTestService(repo, &fakeSource{data: []byte("img")}, rules, vision)
	job := seedJob(t, svc)

	res, err := svc.RunAnalysis(context.Background(), "acme", job.ID)
	if err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}
	if res.Status != domain.StatusCompleted || res.AlreadyHandled {
		t.Fatalf("result = %+v, want completed and not already handled", res)
	}
	if res.TotalIssues != 3 {
		t.Fatalf("total issues = %d, want 3", res.TotalIssues)
	}
	if repo.status(job.ID) != domain.StatusCompleted {
		t.Fatalf("stored status = %q, want completed", repo.status(job.ID))
	}

	saved, _ := repo.Findings(context.Background(), "acme", job.ID)
	wantOrder := []string{"rules:contrast-1", "rules:spacing-1", "vision:v1:0"}
	if len(saved) != len(wantOrder) {
		t.Fatalf("saved %d findings, want %d", len(saved), len(wantOrder))
	}
	for i, f := range saved {
		if f.RuleID != wantOrder[i] {
			t.Fatalf("finding %d = %q, want %q (rule findings must precede vision findings)", i, f.RuleID, wantOrder[i])
		}
	}

	sum, _ := repo.GetSummary(context.Background(), "acme", job.ID)
	if sum == nil || sum.TotalIssues != 3 || sum.ImageWidth != 1920 || sum.ImageHeight != 1080 {
		t.Fatalf("summary = %+v, want 3 issues at 1920x1080", sum)
	}
	if sum.AnalysisDurationMS <= 0 {
		t.Fatalf("summary duration = %d, want > 0", sum.AnalysisDurationMS)
	}
}

func TestRunAnalysisClaimIsExclusive(t *testing.T) {
	repo := newFakeRepo()
	det := &fakeDetector{name: "rules", findings: []domain.Finding{finding("rules:contrast-1")}, delay: 10 * time.Millisecond}
	svc, _ := newTestService(repo, &fakeSource{data: []byte("img")}, det)
	job := seedJob(t, svc)

	const n = 8
	results := make([]RunResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.RunAnalysis(context.Background(), "acme", job.ID)
			if err != nil {
				t.Errorf("concurrent run %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if !r.AlreadyHandled {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("%d callers won the claim, want exactly 1", winners)
	}
	if repo.status(job.ID) != domain.StatusCompleted {
		t.Fatalf("stored status = %q, want completed", repo.status(job.ID))
	}
}

func TestRunAnalysisFetchFailure(t *testing.T) {
	repo := newFakeRepo()
	svc, errLog := newTestService(repo, &fakeSource{fetchErr: errors.New("object missing")},
		&fakeDetector{name: "rules"})
	job := seedJob(t, svc)

	res, err := svc.RunAnalysis(context.Background(), "acme", job.ID)
	if err == nil {
		t.Fatalf("expected fetch error")
	}
	var ferr *domain.FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *domain.FetchError, got %T: %v", err, err)
	}
	if res.Status != domain.StatusFailed || repo.status(job.ID) != domain.StatusFailed {
		t.Fatalf("job should be failed, result=%q stored=%q", res.Status, repo.status(job.ID))
	}

	recs, _ := errLog.ListByJob(context.Background(), "acme", string(job.ID), 10)
	if len(recs) != 1 || recs[0].Phase != "fetch" {
		t.Fatalf("expected one recorded fetch error, got %+v", recs)
	}
}

func TestRunAnalysisFetchTimeoutBoundsStalledHost(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, stalledSource{}, &fakeDetector{name: "rules"})
	svc.FetchTimeout = 20 * time.Millisecond
	job := seedJob(t, svc)

	start := time.Now()
	_, err := svc.RunAnalysis(context.Background(), "acme", job.ID)
	if err == nil {
		t.Fatalf("expected fetch timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("fetch blocked for %s despite configured timeout", elapsed)
	}
	if repo.status(job.ID) != domain.StatusFailed {
		t.Fatalf("stored status = %q, want failed", repo.status(job.ID))
	}
}

func TestRunAnalysisMetadataFailure(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, &fakeSource{data: []byte("img")}, &fakeDetector{name: "rules"})
	svc.Metadata = fakeExtractor{err: errors.New("not an image")}
	job := seedJob(t, svc)

	if _, err := svc.RunAnalysis(context.Background(), "acme", job.ID); err == nil {
		t.Fatalf("expected metadata error")
	}
	if repo.status(job.ID) != domain.StatusFailed {
		t.Fatalf("stored status = %q, want failed", repo.status(job.ID))
	}
}

func TestRunAnalysisDetectorFailsOpen(t *testing.T) {
	repo := newFakeRepo()
	rules := &fakeDetector{name: "rules", findings: []domain.Finding{finding("rules:contrast-1")}}
	vision := &fakeDetector{name: "vision", err: errors.New("model timeout")}
	svc, errLog := newTestService(repo, &fakeSource{data: []byte("img")}, rules, vision)
	job := seedJob(t, svc)

	res, err := svc.RunAnalysis(context.Background(), "acme", job.ID)
	if err != nil {
		t.Fatalf("detector failure must not fail the run: %v", err)
	}
	if res.Status != domain.StatusCompleted || res.TotalIssues != 1 {
		t.Fatalf("result = %+v, want completed with 1 issue", res)
	}

	recs, _ := errLog.ListByJob(context.Background(), "acme", string(job.ID), 10)
	if len(recs) != 1 || recs[0].Detector != "vision" || recs[0].Phase != "detect" {
		t.Fatalf("expected one recorded vision detect error, got %+v", recs)
	}
}

func TestRunAnalysisCompletesAfterCallerDisconnect(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, &fakeSource{data: []byte("img")},
		&fakeDetector{name: "rules", findings: []domain.Finding{finding("rules:contrast-1")}})
	job := seedJob(t, svc)

	// caller goes away mid-run; the terminal transition must still land
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.RunAnalysis(ctx, "acme", job.ID)
	if err != nil {
		t.Fatalf("cancelled caller context must not strand the job: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("result status = %q, want completed", res.Status)
	}
	if repo.status(job.ID) != domain.StatusCompleted {
		t.Fatalf("stored status = %q, want completed (job stranded in processing)", repo.status(job.ID))
	}
}

func TestRunAnalysisRecordsRejectedModelOutput(t *testing.T) {
	repo := newFakeRepo()
	rules := &fakeDetector{name: "rules", findings: []domain.Finding{finding("rules:contrast-1")}}
	vision := &fakeDetector{name: "vision", err: &domain.SchemaError{
		Detector: "vision",
		Reason:   "invalid JSON",
		Raw:      "sorry, I cannot analyze this image",
	}}
	svc, errLog := newTestService(repo, &fakeSource{data: []byte("img")}, rules, vision)
	job := seedJob(t, svc)

	if _, err := svc.RunAnalysis(context.Background(), "acme", job.ID); err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}

	recs, _ := errLog.ListByJob(context.Background(), "acme", string(job.ID), 10)
	if len(recs) != 1 {
		t.Fatalf("expected one recorded error, got %d", len(recs))
	}
	if !strings.Contains(recs[0].DetailsJSON, "sorry, I cannot analyze this image") {
		t.Fatalf("details should carry the rejected model output, got %q", recs[0].DetailsJSON)
	}
}

func TestRunAnalysisPersistenceFailureStillCompletes(t *testing.T) {
	repo := newFakeRepo()
	repo.failSaveFindings = true
	repo.failUpsertSummary = true
	svc, errLog := newTestService(repo, &fakeSource{data: []byte("img")},
		&fakeDetector{name: "rules", findings: []domain.Finding{finding("rules:contrast-1")}})
	job := seedJob(t, svc)

	res, err := svc.RunAnalysis(context.Background(), "acme", job.ID)
	if err != nil {
		t.Fatalf("persistence failure must not fail the run: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("result status = %q, want completed", res.Status)
	}
	if repo.status(job.ID) != domain.StatusCompleted {
		t.Fatalf("stored status = %q, want completed", repo.status(job.ID))
	}

	recs, _ := errLog.ListByJob(context.Background(), "acme", string(job.ID), 10)
	if len(recs) != 2 {
		t.Fatalf("expected two recorded persist errors, got %d", len(recs))
	}
	for _, r := range recs {
		if r.Phase != "persist" {
			t.Fatalf("recorded phase = %q, want persist", r.Phase)
		}
	}
}

func TestRunAnalysisFailedJobCanBeRetried(t *testing.T) {
	repo := newFakeRepo()
	src := &fakeSource{fetchErr: errors.New("transient")}
	svc, _ := newTestService(repo, src,
		&fakeDetector{name: "rules", findings: []domain.Finding{finding("rules:contrast-1")}})
	job := seedJob(t, svc)

	if _, err := svc.RunAnalysis(context.Background(), "acme", job.ID); err == nil {
		t.Fatalf("expected first run to fail")
	}
	if repo.status(job.ID) != domain.StatusFailed {
		t.Fatalf("stored status = %q, want failed", repo.status(job.ID))
	}

	src.fetchErr = nil
	src.data = []byte("img")
	res, err := svc.RunAnalysis(context.Background(), "acme", job.ID)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if res.AlreadyHandled || res.Status != domain.StatusCompleted {
		t.Fatalf("retry result = %+v, want a fresh completed run", res)
	}
}

func TestRunAnalysisCompletedJobIsNotRerun(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, &fakeSource{data: []byte("img")},
		&fakeDetector{name: "rules", findings: []domain.Finding{finding("rules:contrast-1")}})
	job := seedJob(t, svc)

	if _, err := svc.RunAnalysis(context.Background(), "acme", job.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}

	res, err := svc.RunAnalysis(context.Background(), "acme", job.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !res.AlreadyHandled {
		t.Fatalf("second run should lose the claim, got %+v", res)
	}
	if res.Status != domain.StatusCompleted || res.TotalIssues != 1 {
		t.Fatalf("second run should report the stored outcome, got %+v", res)
	}
}

func TestRunAnalysisUnknownJob(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, &fakeSource{data: []byte("img")})

	res, err := svc.RunAnalysis(context.Background(), "acme", "00000000-0000-0000-0000-000000000000")
	if err == nil {
		t.Fatalf("expected error for unknown job, got %+v", res)
	}
}

func TestMergeFindingsOrderAndNoDedup(t *testing.T) {
	a := []domain.Finding{finding("rules:contrast-1"), finding("rules:spacing-1")}
	dup := finding("rules:contrast-1")
	dup.RuleID = "vision:v1:0"
	b := []domain.Finding{dup}

	merged := MergeFindings(a, b)
	if len(merged) != 3 {
		t.Fatalf("merged %d findings, want 3 (no dedup)", len(merged))
	}
	want := []string{"rules:contrast-1", "rules:spacing-1", "vision:v1:0"}
	for i, f := range merged {
		if f.RuleID != want[i] {
			t.Fatalf("merged[%d] = %q, want %q", i, f.RuleID, want[i])
		}
	}

	if got := MergeFindings(nil, nil); len(got) != 0 {
		t.Fatalf("merging empty lists should give empty result, got %d", len(got))
	}
}

func TestBuildSummary(t *testing.T) {
	sum := BuildSummary(domain.ImageMetadata{Width: 800, Height: 600}, 4, 1500*time.Millisecond)
	if sum.ImageWidth != 800 || sum.ImageHeight != 600 || sum.TotalIssues != 4 || sum.AnalysisDurationMS != 1500 {
		t.Fatalf("summary = %+v", sum)
	}
}
