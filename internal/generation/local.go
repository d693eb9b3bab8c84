package generation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"time"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/relay"
)

// LocalProvider is a deterministic in-process provider used for local
// development and integration environments without upstream AI services.
// It implements RenderGenerator, Agent, Composer, and Optimizer.
type LocalProvider struct{}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

var _ RenderGenerator = (*LocalProvider)(nil)
var _ Agent = (*LocalProvider)(nil)
var _ Composer = (*LocalProvider)(nil)
var _ Optimizer = (*LocalProvider)(nil)

// GenerateRender produces a small placeholder PNG whose color is derived
// from the prompt, reporting the generating stage at the midpoint.
func (p *LocalProvider) GenerateRender(ctx context.Context, prompt string, progress ProgressFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(relay.StageGenerating, 50)
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	fill := promptColor(prompt)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return buf.Bytes(), nil
}

// ProcessMessage echoes the message back. Messages mentioning handoff move
// the session to delivered so the full phase flow is exercisable locally.
func (p *LocalProvider) ProcessMessage(ctx context.Context, session *domain.Session, message string) (AgentReply, error) {
	if err := ctx.Err(); err != nil {
		return AgentReply{}, err
	}

	reply := AgentReply{Reply: "Noted: " + message}
	if strings.Contains(strings.ToLower(message), "deliver") {
		delivered := domain.PhaseDelivered
		reply.Phase = &delivered
	}
	return reply, nil
}

// ComposeDocument produces a markdown skeleton for the requested kind.
func (p *LocalProvider) ComposeDocument(ctx context.Context, session *domain.Session, kind domain.DocumentKind) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s — %s\n\n", strings.ReplaceAll(string(kind), "_", " "), session.Title)
	fmt.Fprintf(&buf, "Generated %s.\n", time.Now().UTC().Format(time.RFC3339))
	return buf.Bytes(), nil
}

// OptimizeVariant returns the original bytes unchanged. Real resizing
// belongs to an upstream media service.
func (p *LocalProvider) OptimizeVariant(ctx context.Context, original []byte, variant domain.AssetVariantType) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(original) == 0 {
		return nil, ErrInvalidResponse
	}
	return original, nil
}

func promptColor(prompt string) color.RGBA {
	var sum uint32
	for _, r := range prompt {
		sum = sum*31 + uint32(r)
	}
	return color.RGBA{
		R: uint8(sum),
		G: uint8(sum >> 8),
		B: uint8(sum >> 16),
		A: 255,
	}
}
