package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"flowerhub-tryon/internal/config"
	"flowerhub-tryon/internal/gemini"
	"flowerhub-tryon/internal/httpclient"
	"flowerhub-tryon/internal/imagedata"
	"flowerhub-tryon/internal/tryon"
)

func NewLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

// NewTryOn builds the try-on adapter shared by both front ends: one outbound
// HTTP client, a reference fetcher and the configured Gemini backend.
func NewTryOn(ctx context.Context, cfg config.Config, logger *slog.Logger) (*tryon.Service, error) {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	fetcher := imagedata.NewFetcher(imagedata.FetcherOptions{
		HTTPClient: httpClient,
		CacheTTL:   cfg.ReferenceCacheTTL,
		Logger:     logger,
	})

	gen, err := NewGenerator(ctx, cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}

	return tryon.New(tryon.Options{
		Generator: gen,
		Fetcher:   fetcher,
		Model:     cfg.GeminiImageModel,
		Logger:    logger,
	}), nil
}

func NewGenerator(ctx context.Context, cfg config.Config, httpClient *http.Client, logger *slog.Logger) (tryon.Generator, error) {
	if cfg.GeminiBackend == config.BackendSDK {
		logger.Info("gemini backend", "backend", config.BackendSDK)
		sdk, err := gemini.NewSDK(ctx, gemini.SDKOptions{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			APIVersion: cfg.GeminiAPIVersion,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return sdk, nil
	}

	logger.Info("gemini backend", "backend", config.BackendREST)
	return gemini.New(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	}), nil
}
