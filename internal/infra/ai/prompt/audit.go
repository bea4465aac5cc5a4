package prompt

import (
	"fmt"
	"strings"
)

// GetSystemPrompt provides strict directions for JSON-only output.
func GetSystemPrompt() string {
	return "You are a senior UX and accessibility auditor. " +
		"Analyze the UI screenshot and return ONLY valid JSON (no markdown, no commentary)."
}

// GetUserPrompt builds the audit instruction for one screenshot.
// Coordinates are declared in the ORIGINAL image coordinate space even
// when the attached image has been downscaled, so the model's boxes map
// directly onto the stored screenshot.
func GetUserPrompt(width, height, maxIssues int) string {
	return strings.Join([]string{
		"Output schema:",
		"{",
		`  "issues": [`,
		"    {",
		`      "issue_type": "contrast" | "spacing" | "accessibility" | "layout",`,
		`      "severity": "error" | "warning" | "info",`,
		`      "title": string,`,
		`      "description": string,`,
		`      "x": integer,`,
		`      "y": integer,`,
		`      "width": integer,`,
		`      "height": integer,`,
		`      "rule_id": string (optional)`,
		"    }",
		"  ]",
		"}",
		"",
		"Constraints:",
		"- Coordinates are in PIXELS in the original image coordinate space.",
		fmt.Sprintf("- Image size is width=%d, height=%d.", width, height),
		"- Use top-left origin (0,0).",
		fmt.Sprintf("- Ensure x,y >= 0; width,height > 0; x+width <= %d; y+height <= %d.", width, height),
		fmt.Sprintf("- Return at most %d issues.", maxIssues),
		"- Focus on actionable UX + accessibility findings (WCAG, hierarchy, layout consistency, tap targets, clarity).",
		"- Avoid nitpicks and purely aesthetic opinions.",
	}, "\n")
}
