package tryon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/dedent"

	"flowerhub-tryon/internal/gemini"
	"flowerhub-tryon/internal/imagedata"
)

var (
	ErrInvalidPhoto   = errors.New("invalid user photo")
	ErrReferenceFetch = errors.New("reference image fetch failed")
	ErrGeneration     = errors.New("generation request failed")
	ErrNoImage        = errors.New("no image produced")
)

var Instruction = strings.TrimSpace(dedent.Dedent(`
	Take the floral garland from the second image and place it realistically around
	the neck of the person in the first image. Ensure the lighting, shadows, and
	perspective match the person's portrait. The output should be a single image of
	the person wearing the garland.
`))

type Generator interface {
	GenerateContent(ctx context.Context, model string, req gemini.Request) (gemini.Response, error)
}

type ReferenceFetcher interface {
	Fetch(ctx context.Context, url string) (imagedata.Payload, error)
}

type Options struct {
	Generator   Generator
	Fetcher     ReferenceFetcher
	Model       string
	Instruction string
	Logger      *slog.Logger
}

type Service struct {
	gen         Generator
	fetcher     ReferenceFetcher
	model       string
	instruction string
	logger      *slog.Logger
}

func New(opts Options) *Service {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = gemini.DefaultImageModel
	}

	instruction := strings.TrimSpace(opts.Instruction)
	if instruction == "" {
		instruction = Instruction
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Service{
		gen:         opts.Generator,
		fetcher:     opts.Fetcher,
		model:       model,
		instruction: instruction,
		logger:      logger,
	}
}

// Run composites the garland at referenceURL onto userPhoto (data URL or bare
// base64) and returns the result as a data URL. The photo is normalized, the
// reference fetched, then the model called, strictly in that order.
func (s *Service) Run(ctx context.Context, userPhoto, referenceURL string) (string, error) {
	photo, err := imagedata.Parse(userPhoto)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhoto, err)
	}

	reference, err := s.fetcher.Fetch(ctx, referenceURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReferenceFetch, err)
	}

	req := gemini.Request{
		Parts: []gemini.Part{
			gemini.InlinePart(photo.MimeType, photo.Data),
			gemini.InlinePart(reference.MimeType, reference.Data),
			gemini.TextPart(s.instruction),
		},
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	start := time.Now()
	resp, err := s.gen.GenerateContent(ctx, s.model, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	if !resp.HasParts() {
		return "", fmt.Errorf("%w: response has no content parts", ErrNoImage)
	}

	img, ok := resp.FirstImage()
	if !ok {
		s.logger.Warn("no image in response", "text", resp.Text())
		return "", ErrNoImage
	}

	s.logger.Info("try-on generated",
		"model", s.model,
		"mime", img.MimeType,
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return img.DataURL(), nil
}
