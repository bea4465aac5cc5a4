package analysis

import "context"

// Repository port (interface untuk persistence)
type Repository interface {
	Save(ctx context.Context, j *Job) error
	Get(ctx context.Context, tenant string, id JobID) (*Job, error)

	// Claim performs the single atomic conditional transition
	// pending|failed -> processing. Returns true only for the caller
	// that actually performed the transition.
	Claim(ctx context.Context, tenant string, id JobID) (bool, error)
	SetStatus(ctx context.Context, tenant string, id JobID, status Status) error

	SaveFindings(ctx context.Context, tenant string, id JobID, findings []Finding) error
	Findings(ctx context.Context, tenant string, id JobID) ([]Finding, error)
	UpsertSummary(ctx context.Context, tenant string, id JobID, sum RunSummary) error
	GetSummary(ctx context.Context, tenant string, id JobID) (*RunSummary, error)

	Latest(ctx context.Context, tenant string, limit int) ([]*Job, error)
	Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (PaginatedResult, error)
	Stats(ctx context.Context, tenant string, sinceDays int) (Stats, error)
}

// Detector port: an isolated failure domain producing findings.
// Implementations must never mutate image or meta.
type Detector interface {
	Name() string
	Detect(ctx context.Context, image []byte, meta ImageMetadata) ([]Finding, error)
}

// MetadataExtractor derives image dimensions and format from raw bytes.
type MetadataExtractor interface {
	Extract(data []byte) (ImageMetadata, error)
}

// ImageSource port (interface untuk penyimpanan gambar)
type ImageSource interface {
	Fetch(ctx context.Context, reference string) (data []byte, contentType string, err error)
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	SignedURL(ctx context.Context, reference string, expirySeconds int) (string, error)
}

// Stats is the dashboard aggregate over recent jobs.
type Stats struct {
	TotalJobs int `json:"total_jobs"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
	Warnings  int `json:"warnings"`
	Infos     int `json:"infos"`
}
