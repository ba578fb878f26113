package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

type SDKOptions struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// SDKClient is the genai-backed alternative to Client. Both satisfy the same
// GenerateContent contract.
type SDKClient struct {
	client *genai.Client
	logger *slog.Logger
}

func NewSDK(ctx context.Context, opts SDKOptions) (*SDKClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimSpace(opts.BaseURL),
			APIVersion: strings.TrimSpace(opts.APIVersion),
		},
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &SDKClient{client: client, logger: logger}, nil
}

func (c *SDKClient) GenerateContent(ctx context.Context, model string, req Request) (Response, error) {
	if strings.TrimSpace(model) == "" {
		model = DefaultImageModel
	}

	parts, err := toSDKParts(req.Parts)
	if err != nil {
		return Response{}, err
	}

	var config *genai.GenerateContentConfig
	if len(req.ResponseModalities) > 0 {
		config = &genai.GenerateContentConfig{ResponseModalities: req.ResponseModalities}
	}

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, model, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, config)
	if err != nil {
		return Response{}, fmt.Errorf("failed to generate content: %w", err)
	}

	resp := fromSDKResponse(result)
	c.logger.Info("gemini generateContent",
		"backend", "sdk",
		"model", model,
		"candidates", len(resp.Candidates),
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func toSDKParts(parts []Part) ([]*genai.Part, error) {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			out = append(out, genai.NewPartFromText(p.Text))
		case PartInlineData:
			raw, err := base64.StdEncoding.DecodeString(p.Blob.Data)
			if err != nil {
				return nil, fmt.Errorf("decode inline data: %w", err)
			}
			out = append(out, &genai.Part{
				InlineData: &genai.Blob{Data: raw, MIMEType: p.Blob.MimeType},
			})
		}
	}
	return out, nil
}

func fromSDKResponse(result *genai.GenerateContentResponse) Response {
	if result == nil {
		return Response{}
	}

	out := Response{Candidates: make([]Candidate, 0, len(result.Candidates))}
	for _, c := range result.Candidates {
		var cand Candidate
		if c != nil && c.Content != nil {
			for _, p := range c.Content.Parts {
				switch {
				case p == nil:
				case p.InlineData != nil && len(p.InlineData.Data) > 0:
					cand.Parts = append(cand.Parts, InlinePart(p.InlineData.MIMEType, base64.StdEncoding.EncodeToString(p.InlineData.Data)))
				case p.Text != "":
					cand.Parts = append(cand.Parts, TextPart(p.Text))
				}
			}
		}
		out.Candidates = append(out.Candidates, cand)
	}
	return out
}
