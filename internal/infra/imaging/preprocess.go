package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const jpegQuality = 82

// Preprocess bounds the payload sent to the vision model: if either
// dimension exceeds maxDim the image is downscaled to fit inside
// maxDim x maxDim preserving aspect ratio, and the result is re-encoded
// as JPEG. Images already within bounds are re-encoded only.
func Preprocess(data []byte, maxDim int) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		tw, th := fitInside(w, h, maxDim)
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// fitInside scales (w,h) down so both sides fit in maxDim, never up.
func fitInside(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		th := h * maxDim / w
		if th < 1 {
			th = 1
		}
		return maxDim, th
	}
	tw := w * maxDim / h
	if tw < 1 {
		tw = 1
	}
	return tw, maxDim
}
