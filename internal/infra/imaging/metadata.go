package imaging

import (
	"bytes"
	"fmt"
	"image"

	// registered decoders for metadata extraction and preprocessing
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/DeMost777/UX-Audit/internal/domain/analysis"
)

// ExtractMetadata derives width/height/format from raw image bytes
// without decoding the full pixel data.
func ExtractMetadata(data []byte) (analysis.ImageMetadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return analysis.ImageMetadata{}, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return analysis.ImageMetadata{}, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return analysis.ImageMetadata{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}, nil
}
