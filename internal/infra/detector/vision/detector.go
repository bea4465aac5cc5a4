package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	domai "github.com/DeMost777/UX-Audit/internal/domain/ai"
	"github.com/DeMost777/UX-Audit/internal/domain/analysis"
	"github.com/DeMost777/UX-Audit/internal/infra/ai/prompt"
	"github.com/DeMost777/UX-Audit/internal/infra/imaging"
)

// Name is the provenance namespace for model-produced findings,
// distinct from the rule detector's namespace.
const Name = "vision"

// Config bounds the external call and its payload.
type Config struct {
	MaxImageDim int           // downscale threshold, px
	MaxFindings int           // cap announced to the model and enforced on output
	Timeout     time.Duration // hard deadline for the model call
}

// DefaultConfig mirrors the documented defaults: 2048px, 15 findings, 30s.
func DefaultConfig() Config {
	return Config{MaxImageDim: 2048, MaxFindings: 15, Timeout: 30 * time.Second}
}

// Detector obtains a second opinion on a screenshot from an external
// vision-language model under strict output validation. Every error it
// returns is detector-level: the orchestrator absorbs it and continues
// with the other detector's findings.
type Detector struct {
	client domai.Client
	cfg    Config
}

func New(client domai.Client, cfg Config) *Detector {
	if cfg.MaxImageDim <= 0 {
		cfg.MaxImageDim = 2048
	}
	if cfg.MaxFindings <= 0 {
		cfg.MaxFindings = 15
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Detector{client: client, cfg: cfg}
}

func (d *Detector) Name() string { return Name }

func (d *Detector) Detect(ctx context.Context, image []byte, meta analysis.ImageMetadata) ([]analysis.Finding, error) {
	payload, mimeType, err := imaging.Preprocess(image, d.cfg.MaxImageDim)
	if err != nil {
		return nil, fmt.Errorf("%s: preprocess: %w", Name, err)
	}

	// Coordinates are requested in the original, untransformed space.
	instruction := prompt.GetUserPrompt(meta.Width, meta.Height, d.cfg.MaxFindings)

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	raw, err := d.client.Invoke(ctx, payload, mimeType, instruction)
	if err != nil {
		return nil, fmt.Errorf("%s: model call: %w", Name, err)
	}

	candidates, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	if len(candidates) > d.cfg.MaxFindings {
		candidates = candidates[:d.cfg.MaxFindings]
	}

	findings := make([]analysis.Finding, 0, len(candidates))
	for i, c := range candidates {
		f, ok := c.toFinding(i, meta)
		if !ok {
			continue
		}
		findings = append(findings, f)
	}
	return findings, nil
}

type rawFinding struct {
	IssueType   *string  `json:"issue_type"`
	Severity    *string  `json:"severity"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
	RuleID      string   `json:"rule_id"`
}

type rawResponse struct {
	Issues []rawFinding `json:"issues"`
}

// maxRawAudit caps how much of a rejected model reply is kept for the
// audit trail.
const maxRawAudit = 2048

// parseResponse extracts the JSON object from the model's text reply and
// validates it against the strict finding schema. Partial or malformed
// output is rejected wholesale, never silently accepted; the rejected
// reply travels with the error, truncated, for auditing.
func parseResponse(text string) ([]rawFinding, error) {
	jsonText := extractJSON(text)

	var resp rawResponse
	if err := json.Unmarshal([]byte(jsonText), &resp); err != nil {
		return nil, &analysis.SchemaError{Detector: Name, Reason: fmt.Sprintf("invalid JSON: %v", err), Raw: truncate(text, maxRawAudit)}
	}

	for i, f := range resp.Issues {
		if err := f.validate(); err != nil {
			return nil, &analysis.SchemaError{Detector: Name, Reason: fmt.Sprintf("issue %d: %v", i, err), Raw: truncate(text, maxRawAudit)}
		}
	}
	return resp.Issues, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (f rawFinding) validate() error {
	if f.IssueType == nil || f.Severity == nil || f.Title == nil || f.Description == nil {
		return fmt.Errorf("missing required field")
	}
	if f.X == nil || f.Y == nil || f.Width == nil || f.Height == nil {
		return fmt.Errorf("missing geometry field")
	}
	if !analysis.ValidIssueType(*f.IssueType) {
		return fmt.Errorf("unknown issue_type %q", *f.IssueType)
	}
	if !analysis.ValidSeverity(*f.Severity) {
		return fmt.Errorf("unknown severity %q", *f.Severity)
	}
	if *f.Title == "" || *f.Description == "" {
		return fmt.Errorf("empty title or description")
	}
	return nil
}

// toFinding clamps geometry into image bounds and tags provenance.
// Candidates that collapse to zero area are dropped.
func (f rawFinding) toFinding(index int, meta analysis.ImageMetadata) (analysis.Finding, bool) {
	x := clampInt(*f.X, 0, max(0, meta.Width-1))
	y := clampInt(*f.Y, 0, max(0, meta.Height-1))
	w := clampInt(*f.Width, 1, max(1, meta.Width-x))
	h := clampInt(*f.Height, 1, max(1, meta.Height-y))
	if w <= 0 || h <= 0 {
		return analysis.Finding{}, false
	}

	ruleID := f.RuleID
	if ruleID == "" {
		ruleID = fmt.Sprintf("v1:%d", index)
	}

	return analysis.Finding{
		IssueType:   analysis.IssueType(*f.IssueType),
		Severity:    analysis.Severity(*f.Severity),
		Title:       *f.Title,
		Description: *f.Description,
		X:           x,
		Y:           y,
		Width:       w,
		Height:      h,
		RuleID:      fmt.Sprintf("%s:%s", Name, ruleID),
	}, true
}

func clampInt(n float64, min, max int) int {
	v := int(math.Round(n))
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
