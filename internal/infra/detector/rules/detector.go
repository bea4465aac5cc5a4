package rules

import (
	"context"
	"fmt"

	"github.com/DeMost777/UX-Audit/internal/domain/analysis"
)

// Name is the provenance namespace for rule-based findings.
const Name = "rules"

// Severity thresholds per rule family:
//
//	contrast       ratio     error < 3.0, warning < 4.5
//	spacing        px gap    error < 4,   warning < 8
//	touch target   area px2  error < 44x44
//	text size      font px   error < 12,  warning < 16
//	alignment      offset px warning > 4, info > 2
const (
	contrastErrorRatio   = 3.0
	contrastWarningRatio = 4.5
	spacingErrorPx       = 4
	spacingWarningPx     = 8
	touchTargetMinSide   = 44
	textErrorPx          = 12
	textWarningPx        = 16
	alignmentWarningPx   = 4
	alignmentInfoPx      = 2
)

// Detector is the deterministic rule-based analysis engine. It is pure
// and stateless: findings are a function of image width and height only.
// The region tables are fixed heuristics standing in for real pixel
// measurement; a pixel-true engine can replace this behind the same port.
type Detector struct{}

func New() *Detector { return &Detector{} }

func (d *Detector) Name() string { return Name }

// Detect generates the full rule catalog for the given dimensions, then
// applies the seed-based inclusion filter: seed = width+height, candidate
// at index i is kept iff (seed+i) mod 3 != 0. Same dimensions always
// yield the same findings in the same order.
func (d *Detector) Detect(_ context.Context, _ []byte, meta analysis.ImageMetadata) ([]analysis.Finding, error) {
	candidates := catalog(meta.Width, meta.Height)

	seed := meta.Width + meta.Height
	kept := make([]analysis.Finding, 0, len(candidates))
	for i, f := range candidates {
		if (seed+i)%3 != 0 {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

func catalog(imageWidth, imageHeight int) []analysis.Finding {
	var out []analysis.Finding
	out = append(out, checkContrast(imageWidth, imageHeight)...)
	out = append(out, checkSpacing(imageWidth, imageHeight)...)
	out = append(out, checkAccessibility(imageWidth, imageHeight)...)
	out = append(out, checkLayout(imageWidth, imageHeight)...)
	return out
}

// inBounds reports whether a fixed catalog region fits the image. Regions
// outside a small image are not candidates at all, which keeps the
// geometry invariant without clamping fabricated boxes.
func inBounds(x, y, w, h, imageWidth, imageHeight int) bool {
	return x >= 0 && y >= 0 && w >= 1 && h >= 1 && x+w <= imageWidth && y+h <= imageHeight
}

// checkContrast simulates WCAG contrast checks over fixed regions.
// WCAG AA requires 4.5:1 for normal text and 3:1 for large text.
func checkContrast(imageWidth, imageHeight int) []analysis.Finding {
	regions := []struct {
		x, y, w, h int
		ratio      float64
	}{
		{50, 100, 300, 40, 2.8},
		{50, 200, 250, 30, 3.2},
		{400, 150, 200, 50, 4.1},
	}

	var out []analysis.Finding
	for i, r := range regions {
		if r.ratio >= contrastWarningRatio || !inBounds(r.x, r.y, r.w, r.h, imageWidth, imageHeight) {
			continue
		}
		sev := analysis.SeverityWarning
		if r.ratio < contrastErrorRatio {
			sev = analysis.SeverityError
		}
		out = append(out, analysis.Finding{
			IssueType: analysis.IssueContrast,
			Severity:  sev,
			Title:     fmt.Sprintf("Low contrast text (%.1f:1)", r.ratio),
			Description: fmt.Sprintf("Text in this area has a contrast ratio of %.1f:1, which is below WCAG AA standards (4.5:1 for normal text). "+
				"Consider increasing the contrast between text and background colors.", r.ratio),
			X: r.x, Y: r.y, Width: r.w, Height: r.h,
			RuleID: fmt.Sprintf("%s:contrast-%d", Name, i),
		})
	}
	return out
}

// checkSpacing simulates element-gap checks over fixed regions.
func checkSpacing(imageWidth, imageHeight int) []analysis.Finding {
	areas := []struct {
		x, y, w, h int
		spacing    int
	}{
		{100, 300, 400, 200, 4},
		{600, 400, 300, 150, 6},
	}

	var out []analysis.Finding
	for i, a := range areas {
		if a.spacing >= spacingWarningPx || !inBounds(a.x, a.y, a.w, a.h, imageWidth, imageHeight) {
			continue
		}
		sev := analysis.SeverityWarning
		if a.spacing < spacingErrorPx {
			sev = analysis.SeverityError
		}
		out = append(out, analysis.Finding{
			IssueType: analysis.IssueSpacing,
			Severity:  sev,
			Title:     fmt.Sprintf("Tight spacing (%dpx)", a.spacing),
			Description: fmt.Sprintf("Elements in this area have only %dpx of spacing between them. Recommended minimum is 8px for mobile and 16px for desktop. "+
				"Increase spacing to improve readability and visual hierarchy.", a.spacing),
			X: a.x, Y: a.y, Width: a.w, Height: a.h,
			RuleID: fmt.Sprintf("%s:spacing-%d", Name, i),
		})
	}
	return out
}

// checkAccessibility simulates touch-target and text-size checks.
// Touch targets should be at least 44x44px (iOS) or 48x48px (Material);
// body text should be at least 16px.
func checkAccessibility(imageWidth, imageHeight int) []analysis.Finding {
	targets := []struct {
		x, y, w, h int
	}{
		{50, 500, 30, 30},
		{200, 550, 35, 35},
	}

	var out []analysis.Finding
	for i, t := range targets {
		if t.w*t.h >= touchTargetMinSide*touchTargetMinSide || !inBounds(t.x, t.y, t.w, t.h, imageWidth, imageHeight) {
			continue
		}
		out = append(out, analysis.Finding{
			IssueType: analysis.IssueAccessibility,
			Severity:  analysis.SeverityError,
			Title:     fmt.Sprintf("Touch target too small (%dx%dpx)", t.w, t.h),
			Description: fmt.Sprintf("Interactive elements should have a minimum touch target of 44x44px (iOS) or 48x48px (Material Design). "+
				"This element is %dx%dpx, which may be difficult to tap on mobile devices.", t.w, t.h),
			X: t.x, Y: t.y, Width: t.w, Height: t.h,
			RuleID: fmt.Sprintf("%s:accessibility-touch-%d", Name, i),
		})
	}

	texts := []struct {
		x, y, w, h int
		size       int
	}{
		{400, 600, 200, 20, 12},
		{100, 650, 150, 18, 14},
	}

	for i, a := range texts {
		if a.size >= textWarningPx || !inBounds(a.x, a.y, a.w, a.h, imageWidth, imageHeight) {
			continue
		}
		sev := analysis.SeverityWarning
		if a.size < textErrorPx {
			sev = analysis.SeverityError
		}
		out = append(out, analysis.Finding{
			IssueType: analysis.IssueAccessibility,
			Severity:  sev,
			Title:     fmt.Sprintf("Text size too small (%dpx)", a.size),
			Description: fmt.Sprintf("Body text should be at least 16px for readability. This text appears to be %dpx, "+
				"which may be difficult to read, especially on mobile devices.", a.size),
			X: a.x, Y: a.y, Width: a.w, Height: a.h,
			RuleID: fmt.Sprintf("%s:accessibility-text-%d", Name, i),
		})
	}
	return out
}

// checkLayout simulates grid-alignment and spacing-rhythm checks.
func checkLayout(imageWidth, imageHeight int) []analysis.Finding {
	misaligned := []struct {
		x, y, w, h int
		offset     int
	}{
		{45, 100, 200, 100, 3},
		{253, 250, 150, 80, 5},
	}

	var out []analysis.Finding
	for i, a := range misaligned {
		if a.offset <= alignmentInfoPx || !inBounds(a.x, a.y, a.w, a.h, imageWidth, imageHeight) {
			continue
		}
		sev := analysis.SeverityInfo
		if a.offset > alignmentWarningPx {
			sev = analysis.SeverityWarning
		}
		out = append(out, analysis.Finding{
			IssueType: analysis.IssueLayout,
			Severity:  sev,
			Title:     fmt.Sprintf("Misaligned element (%dpx offset)", a.offset),
			Description: fmt.Sprintf("This element is misaligned by %dpx from the grid. "+
				"Aligning elements to a consistent grid improves visual consistency and professional appearance.", a.offset),
			X: a.x, Y: a.y, Width: a.w, Height: a.h,
			RuleID: fmt.Sprintf("%s:layout-alignment-%d", Name, i),
		})
	}

	rhythm := []struct {
		x, y, w, h int
	}{
		{100, 400, 300, 200},
	}

	for i, a := range rhythm {
		if !inBounds(a.x, a.y, a.w, a.h, imageWidth, imageHeight) {
			continue
		}
		out = append(out, analysis.Finding{
			IssueType: analysis.IssueLayout,
			Severity:  analysis.SeverityInfo,
			Title:     "Inconsistent spacing pattern",
			Description: "The spacing between elements in this area appears inconsistent. " +
				"Consider using a spacing scale (e.g., 4px, 8px, 16px, 24px) for better visual rhythm.",
			X: a.x, Y: a.y, Width: a.w, Height: a.h,
			RuleID: fmt.Sprintf("%s:layout-spacing-%d", Name, i),
		})
	}
	return out
}
