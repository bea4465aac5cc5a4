package imaging

import "github.com/DeMost777/UX-Audit/internal/domain/analysis"

// Extractor adapts ExtractMetadata to the domain port.
type Extractor struct{}

func (Extractor) Extract(data []byte) (analysis.ImageMetadata, error) {
	return ExtractMetadata(data)
}
