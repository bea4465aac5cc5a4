package ai

import "context"

// Client invokes an external vision-capable model with one image and a
// textual instruction and returns the model's raw text response. Callers
// bound the call with a context deadline.
type Client interface {
	Invoke(ctx context.Context, image []byte, mimeType string, instruction string) (string, error)
}
