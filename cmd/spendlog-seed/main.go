package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"spendlog/internal/auth"
	"spendlog/internal/backend"
	"spendlog/internal/cli"
	"spendlog/internal/config"
	"spendlog/internal/log"
	"spendlog/internal/seed"
)

func main() {
	reset := flag.Bool("reset", false, "delete every user (and their records) before seeding")
	tokens := flag.Bool("tokens", false, "print a development session token for each sample user")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger("seed")

	var backendConfig backend.Config
	cfg := cli.LoadAndValidateConfig(logger, func(c *config.Config) error {
		var err error
		if backendConfig, err = backend.FromAppConfig(c); err != nil {
			return err
		}
		backendConfig.SeedSampleUsers = false
		// Seeding only writes users; nothing should be published.
		backendConfig.AMQPURL = ""
		return backendConfig.Validate()
	})

	ctx := context.Background()
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendConfig)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer res.Store.Close()

	users := seed.SampleUsers()
	created, err := seed.Run(ctx, res.Store, users, *reset)
	if err != nil {
		logger.Error("Seeding failed", log.FieldError, err, log.FieldErrorType, log.ErrorTypeDatabase)
		res.Store.Close()
		os.Exit(1)
	}
	logger.Info("Seeding complete",
		"backend", cfg.DataBackend,
		"created", len(created),
		"skipped", len(users)-len(created),
		"reset", *reset)

	if !*tokens {
		return
	}
	if cfg.AuthJWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set, cannot print development tokens")
		return
	}

	issuer := auth.NewTokenIssuer(cfg.AuthJWTSecret, cfg.AuthIssuer, *tokenTTL)
	for _, u := range users {
		token, err := issuer.Issue(u.ExternalID)
		if err != nil {
			logger.Error("Failed to sign token", log.FieldError, err, log.FieldUserID, u.ExternalID)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", u.ExternalID, u.Email, token)
	}
}
