package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/DeMost777/UX-Audit/internal/domain/analysis"
)

type fakeClient struct {
	resp        string
	err         error
	instruction string
	mimeType    string
	ctxErr      error
}

func (f *fakeClient) Invoke(ctx context.Context, image []byte, mimeType, instruction string) (string, error) {
	f.instruction = instruction
	f.mimeType = mimeType
	if deadline, ok := ctx.Deadline(); !ok || deadline.IsZero() {
		f.ctxErr = errors.New("no deadline set on model call")
	}
	if f.err != nil {
		return "", f.err
	}
	return f.resp, nil
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

var meta = analysis.ImageMetadata{Width: 1920, Height: 1080, Format: "png"}

func TestDetectParsesAndTagsFindings(t *testing.T) {
	client := &fakeClient{resp: `{"issues":[
		{"issue_type":"contrast","severity":"warning","title":"Low contrast","description":"Hard to read",
		 "x":10,"y":20,"width":100,"height":50,"rule_id":"contrast-header"},
		{"issue_type":"layout","severity":"info","title":"Off grid","description":"Slightly off",
		 "x":5,"y":5,"width":30,"height":30}
	]}`}
	d := New(client, DefaultConfig())

	findings, err := d.Detect(context.Background(), testImage(t), meta)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if client.ctxErr != nil {
		t.Fatalf("%v", client.ctxErr)
	}
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(findings))
	}
	if findings[0].RuleID != "vision:contrast-header" {
		t.Fatalf("rule_id = %q, want vision:contrast-header", findings[0].RuleID)
	}
	if findings[1].RuleID != "vision:v1:1" {
		t.Fatalf("fallback rule_id = %q, want vision:v1:1", findings[1].RuleID)
	}
	if client.mimeType != "image/jpeg" {
		t.Fatalf("payload mime type = %q, want image/jpeg after preprocessing", client.mimeType)
	}
}

func TestDetectClampsGeometry(t *testing.T) {
	client := &fakeClient{resp: `{"issues":[
		{"issue_type":"spacing","severity":"warning","title":"t","description":"d",
		 "x":1900,"y":1070,"width":100,"height":50}
	]}`}
	d := New(client, DefaultConfig())

	findings, err := d.Detect(context.Background(), testImage(t), meta)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	f := findings[0]
	if f.X != 1900 || f.Y != 1070 || f.Width != 20 || f.Height != 10 {
		t.Fatalf("clamped geometry = (%d,%d,%d,%d), want (1900,1070,20,10)", f.X, f.Y, f.Width, f.Height)
	}
}

func TestDetectNegativeCoordinatesClampToOrigin(t *testing.T) {
	client := &fakeClient{resp: `{"issues":[
		{"issue_type":"layout","severity":"info","title":"t","description":"d",
		 "x":-50,"y":-10,"width":100,"height":40}
	]}`}
	d := New(client, DefaultConfig())

	findings, err := d.Detect(context.Background(), testImage(t), meta)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	f := findings[0]
	if f.X != 0 || f.Y != 0 || f.Width != 100 || f.Height != 40 {
		t.Fatalf("clamped geometry = (%d,%d,%d,%d), want (0,0,100,40)", f.X, f.Y, f.Width, f.Height)
	}
}

func TestDetectRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		resp string
	}{
		{"missing severity", `{"issues":[{"issue_type":"contrast","title":"t","description":"d","x":0,"y":0,"width":1,"height":1}]}`},
		{"missing geometry", `{"issues":[{"issue_type":"contrast","severity":"error","title":"t","description":"d","x":0,"y":0,"width":1}]}`},
		{"unknown issue_type", `{"issues":[{"issue_type":"typography","severity":"error","title":"t","description":"d","x":0,"y":0,"width":1,"height":1}]}`},
		{"unknown severity", `{"issues":[{"issue_type":"contrast","severity":"critical","title":"t","description":"d","x":0,"y":0,"width":1,"height":1}]}`},
		{"empty title", `{"issues":[{"issue_type":"contrast","severity":"error","title":"","description":"d","x":0,"y":0,"width":1,"height":1}]}`},
		{"not json", `sorry, I cannot analyze this image`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := New(&fakeClient{resp: tc.resp}, DefaultConfig())
			_, err := d.Detect(context.Background(), testImage(t), meta)
			if err == nil {
				t.Fatalf("expected schema error, got nil")
			}
			var serr *analysis.SchemaError
			if !errors.As(err, &serr) {
				t.Fatalf("expected *analysis.SchemaError, got %T: %v", err, err)
			}
			if serr.Raw == "" {
				t.Fatalf("schema error should carry the rejected model output")
			}
		})
	}
}

func TestSchemaErrorTruncatesRawOutput(t *testing.T) {
	d := New(&fakeClient{resp: strings.Repeat("x", 10000)}, DefaultConfig())

	_, err := d.Detect(context.Background(), testImage(t), meta)
	var serr *analysis.SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *analysis.SchemaError, got %T: %v", err, err)
	}
	if len(serr.Raw) != maxRawAudit {
		t.Fatalf("raw output length = %d, want truncated to %d", len(serr.Raw), maxRawAudit)
	}
}

func TestDetectEnforcesFindingCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"issues":[`)
	for i := 0; i < 20; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"issue_type":"layout","severity":"info","title":"t","description":"d","x":0,"y":0,"width":10,"height":10}`)
	}
	sb.WriteString(`]}`)

	cfg := Config{MaxFindings: 5, MaxImageDim: 2048, Timeout: time.Second}
	d := New(&fakeClient{resp: sb.String()}, cfg)

	findings, err := d.Detect(context.Background(), testImage(t), meta)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if len(findings) != 5 {
		t.Fatalf("got %d findings, want cap of 5", len(findings))
	}
}

// blockingClient waits for the context to expire, like a stalled model call.
type blockingClient struct{}

func (blockingClient) Invoke(ctx context.Context, _ []byte, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDetectTimesOutStalledModelCall(t *testing.T) {
	cfg := Config{MaxImageDim: 2048, MaxFindings: 15, Timeout: 10 * time.Millisecond}
	d := New(blockingClient{}, cfg)

	start := time.Now()
	_, err := d.Detect(context.Background(), testImage(t), meta)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %s, configured deadline not applied", elapsed)
	}
}

func TestDetectPropagatesModelError(t *testing.T) {
	want := errors.New("model unavailable")
	d := New(&fakeClient{err: want}, DefaultConfig())

	_, err := d.Detect(context.Background(), testImage(t), meta)
	if !errors.Is(err, want) {
		t.Fatalf("expected wrapped model error, got %v", err)
	}
}

func TestDetectPromptUsesOriginalDimensions(t *testing.T) {
	client := &fakeClient{resp: `{"issues":[]}`}
	d := New(client, DefaultConfig())

	if _, err := d.Detect(context.Background(), testImage(t), meta); err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if !strings.Contains(client.instruction, "width=1920, height=1080") {
		t.Fatalf("instruction does not declare original dimensions:\n%s", client.instruction)
	}
	if !strings.Contains(client.instruction, "at most 15 issues") {
		t.Fatalf("instruction does not declare the finding cap:\n%s", client.instruction)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"bare object", `{"issues":[]}`, `{"issues":[]}`},
		{"fenced json", "Here you go:\n```json\n{\"issues\":[]}\n```", `{"issues":[]}`},
		{"fenced no lang", "```\n{\"issues\":[]}\n```", `{"issues":[]}`},
		{"prose around object", `Sure! {"issues":[]} Hope that helps.`, `{"issues":[]}`},
		{"no json at all", "no findings", "no findings"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractJSON(tc.in); got != tc.want {
				t.Fatalf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
