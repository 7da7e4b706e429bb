package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spendlog/internal/auth"
	"spendlog/internal/backend"
	"spendlog/internal/cli"
	"spendlog/internal/config"
	apphttp "spendlog/internal/http"
	"spendlog/internal/insights"
	"spendlog/internal/log"
	"spendlog/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendConfig)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	var generator insights.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := insights.NewGemini(context.Background(), cfg.GeminiAPIKey, cfg.AIModel)
		if err != nil {
			logger.Warn("Failed to initialize Gemini client, insights will use fallbacks", log.FieldError, err)
		} else {
			generator = gemini
			logger.Info("AI insights enabled", "model", cfg.AIModel)
		}
	} else {
		logger.Info("GEMINI_API_KEY not set, insights will use fallbacks")
	}

	svc := services.New(services.Options{
		Store:            res.Store,
		Publisher:        res.Publisher,
		Generator:        generator,
		InsightsWindow:   cfg.InsightsWindow,
		InsightsCacheTTL: cfg.InsightsCacheTTL,
		Logger:           logger,
	})
	svc.Caches().StartCleanup(5 * time.Minute)

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		PublicKeyPEM: cfg.AuthJWTPublicKey,
		Secret:       cfg.AuthJWTSecret,
		Issuer:       cfg.AuthIssuer,
		Leeway:       30 * time.Second,
	})
	if err != nil {
		logger.Error("Failed to initialize token verifier", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		_ = svc.Close()
		os.Exit(1)
	}

	srv := apphttp.NewServer(svc, apphttp.Options{
		Addr:               ":" + cfg.Port,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		WebhookSecret:      cfg.IdentityWebhookSecret,
		Verifier:           verifier,
		Logger:             logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := svc.Close(); err != nil {
			logger.Error("Failed to release resources", log.FieldError, err)
		}
	})

	logger.Info("Starting spendlog server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp", res.Publisher != nil,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		_ = svc.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
