package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
	DefaultImageModel = "gemini-2.5-flash-image"
)

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the generateContent REST endpoint directly.
type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

func (c *Client) GenerateContent(ctx context.Context, model string, req Request) (Response, error) {
	if c.httpClient == nil {
		return Response{}, errors.New("http client is nil")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultImageModel
	}

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: toWireParts(req.Parts)}},
	}
	if len(req.ResponseModalities) > 0 {
		payload.GenerationConfig = &generationConfig{ResponseModalities: req.ResponseModalities}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("gemini API %s: %s", httpResp.Status, strings.TrimSpace(string(rawBody)))
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	resp := fromWireResponse(decoded)
	c.logger.Info("gemini generateContent",
		"model", model,
		"candidates", len(resp.Candidates),
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func toWireParts(parts []Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			out = append(out, part{Text: p.Text})
		case PartInlineData:
			out = append(out, part{InlineData: &blob{Data: p.Blob.Data, MimeType: p.Blob.MimeType}})
		}
	}
	return out
}

func fromWireResponse(resp generateContentResponse) Response {
	out := Response{Candidates: make([]Candidate, 0, len(resp.Candidates))}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			out.Candidates = append(out.Candidates, Candidate{})
			continue
		}
		cand := Candidate{Parts: make([]Part, 0, len(c.Content.Parts))}
		for _, p := range c.Content.Parts {
			switch {
			case p.InlineData != nil:
				cand.Parts = append(cand.Parts, InlinePart(p.InlineData.MimeType, p.InlineData.Data))
			case p.Text != "":
				cand.Parts = append(cand.Parts, TextPart(p.Text))
			}
		}
		out.Candidates = append(out.Candidates, cand)
	}
	return out
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content *content `json:"content"`
}
