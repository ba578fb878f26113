package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"flowerhub-tryon/internal/app"
	"flowerhub-tryon/internal/config"
	"flowerhub-tryon/internal/handlers"
	"flowerhub-tryon/internal/httpclient"
	"flowerhub-tryon/internal/mediagroup"
	"flowerhub-tryon/internal/session"
	"flowerhub-tryon/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	tg, err := telegram.New(telegram.Options{
		Token:         cfg.TelegramToken,
		HTTPClient:    httpClient,
		Logger:        logger,
		Debug:         cfg.Debug,
		MaxPhotoBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	svc, err := app.NewTryOn(ctx, cfg, logger)
	if err != nil {
		logger.Error("try-on init failed", "err", err)
		os.Exit(1)
	}

	sessions := session.NewStore(session.Options{
		IdleTTL: cfg.SessionIdleTTL,
	})
	go func() {
		_ = sessions.RunJanitor(ctx, time.Minute, func(removed int) {
			logger.Debug("idle sessions swept", "removed", removed, "live", sessions.Len())
		})
	}()

	handler := handlers.New(handlers.Options{
		Telegram: tg,
		Runner:   svc,
		Sessions: sessions,
		Logger:   logger,
	})

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onAlbum := func(album mediagroup.Album) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			handler.HandleAlbum(reqCtx, album)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		OnFlush: onAlbum,
	})
	defer aggregator.Stop()
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info("bot started", "username", tg.Username())

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}
