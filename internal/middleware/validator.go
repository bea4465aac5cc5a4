package middleware

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var (
	tenantPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	jobIDPattern  = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
)

// allowedUploadTypes are the image content types accepted for analysis.
var allowedUploadTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
}

// ValidateTenantID validates tenant ID format
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("invalid tenant ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateJobID validates job ID format (UUID)
func ValidateJobID(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if !jobIDPattern.MatchString(strings.ToLower(jobID)) {
		return fmt.Errorf("invalid job ID format")
	}
	return nil
}

// ValidateUploadType checks the upload content type against the image whitelist
func ValidateUploadType(contentType string) error {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if !allowedUploadTypes[ct] {
		return fmt.Errorf("invalid file type: %s (allowed: image/png, image/jpeg)", contentType)
	}
	return nil
}

// ValidateReference validates a source-image reference: either an http(s)
// URL (with SSRF protection) or a plain object key in the image bucket.
func ValidateReference(reference string) error {
	if reference == "" {
		return fmt.Errorf("file_reference cannot be empty")
	}

	if strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://") {
		u, err := url.Parse(reference)
		if err != nil {
			return fmt.Errorf("invalid URL format: %w", err)
		}

		// Check for localhost/internal IPs (SSRF protection)
		host := strings.ToLower(u.Hostname())
		blocked := []string{"localhost", "127.0.0.1", "0.0.0.0", "[::]", "::1"}
		for _, b := range blocked {
			if strings.Contains(host, b) {
				return fmt.Errorf("localhost/internal IPs are not allowed")
			}
		}

		// Block private IP ranges (basic check)
		if strings.HasPrefix(host, "10.") ||
			strings.HasPrefix(host, "192.168.") ||
			strings.HasPrefix(host, "172.16.") ||
			strings.HasPrefix(host, "172.31.") {
			return fmt.Errorf("private IP ranges are not allowed")
		}
		return nil
	}

	// Object key: block traversal and shell metacharacters
	if strings.Contains(reference, "..") {
		return fmt.Errorf("path traversal detected")
	}
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "\x00"}
	for _, d := range dangerous {
		if strings.Contains(reference, d) {
			return fmt.Errorf("invalid characters in reference")
		}
	}
	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidateDays validates days parameter
func ValidateDays(days int) int {
	if days <= 0 {
		return 7 // default
	}
	if days > 365 {
		return 365 // max 1 year
	}
	return days
}
