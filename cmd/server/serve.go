package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/nanostyle/internal/api"
	"github.com/ashureev/nanostyle/internal/catalog"
	"github.com/ashureev/nanostyle/internal/config"
	"github.com/ashureev/nanostyle/internal/generation"
	"github.com/ashureev/nanostyle/internal/identity"
	"github.com/ashureev/nanostyle/internal/middleware"
	"github.com/ashureev/nanostyle/internal/provider/imagegen"
	"github.com/ashureev/nanostyle/internal/provider/synthesis"
	"github.com/ashureev/nanostyle/internal/session"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

const (
	shutdownTimeout       = 10 * time.Second
	telemetryFlushTimeout = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Listen port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Store connected", "driver", cfg.Store.Driver)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	progress := telemetry.NewProgressHub()
	sink := telemetry.NewAsync(telemetry.Multi{
		telemetry.NewLogSink(logger),
		telemetry.NewMetrics(registry),
		progress,
	}, cfg.TelemetryQueueSize, logger)
	defer func() {
		if err := sink.Close(telemetryFlushTimeout); err != nil {
			slog.Warn("Telemetry not fully flushed", "error", err)
		}
		if dropped := sink.Dropped(); dropped > 0 {
			slog.Warn("Telemetry records dropped", "count", dropped)
		}
	}()

	cat := catalog.Default()
	sessions := session.NewService(repo, cat, session.WithSink(sink), session.WithLogger(logger))

	synth := synthesis.New(synthesis.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		PromptID:       cfg.OpenAI.PromptID,
		PromptVersion:  cfg.OpenAI.PromptVersion,
		Timeout:        cfg.OpenAI.Timeout,
		PromptMaxChars: cfg.OpenAI.PromptMaxChars,
	}, sink)
	if cfg.OpenAI.APIKey == "" {
		slog.Info("OPENAI_API_KEY not set, using the local prompt template")
	}

	images := imagegen.New(imagegen.Config{
		BaseURL:      cfg.NanoBanana.BaseURL,
		APIKey:       cfg.NanoBanana.APIKey,
		Timeout:      cfg.NanoBanana.Timeout,
		Attempts:     cfg.NanoBanana.Attempts,
		RetryWaitMin: cfg.NanoBanana.RetryWaitMin,
		RetryWaitMax: cfg.NanoBanana.RetryWaitMax,
	}, sink)
	if !images.Configured() {
		slog.Warn("NanoBanana is not configured, image generation will fail")
	}

	pipeline := generation.New(sessions, synth, images,
		generation.WithSink(sink),
		generation.WithLogger(logger),
		generation.WithTimeout(cfg.GenerateTimeout),
	)

	signer := identity.NewSigner(cfg.Session.Secret, !cfg.IsDevelopment())
	if !signer.Enabled() {
		slog.Warn("SESSION_SECRET not set, sessions cannot be started")
	}

	h := api.NewHandler(api.Deps{
		Sessions:       sessions,
		Catalog:        cat,
		Pipeline:       pipeline,
		Synthesizer:    synth,
		Signer:         signer,
		Progress:       progress,
		DB:             repo,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	router := api.NewRouter(h, api.RouterConfig{
		Gate: middleware.GateConfig{
			User:     cfg.Gate.User,
			Password: cfg.Gate.Password,
			Realm:    cfg.Gate.Realm,
		},
		RateLimiter: middleware.NewRateLimiter(ctx, cfg.RateLimit.Requests, cfg.RateLimit.Window),
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
		// Generate holds the request open for up to GENERATE_TIMEOUT.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	sweeper, err := session.StartSweeper(ctx, sessions, cfg.Session.SweepSchedule, cfg.Session.TTL)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
