// Package main is the entry point for the promptforge server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (config file + env vars)
// 2. Create dependencies (logger, LLM client, mail sender, Redis client)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// Each executable gets its own directory with its own main.go.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/promptforge/internal/config"
	"github.com/sakif/promptforge/internal/llm"
	"github.com/sakif/promptforge/internal/mailer"
	"github.com/sakif/promptforge/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "promptforge:", err)
		os.Exit(1)
	}
}

func run() error {
	// === 1. READ CONFIGURATION ===
	// -config (or CONFIG_PATH) points at an optional YAML file. Environment
	// variables override whatever the file says.
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// === 2. SET UP LOGGING ===
	// Log levels (from least to most severe): Debug → Info → Warn → Error
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// === 3. TOKEN SECRET ===
	// JWT_SECRET should be a long random string, for example:
	//   JWT_SECRET=$(openssl rand -hex 32)
	// Without one, tokens are signed with a per-process secret and every
	// restart logs everyone out.
	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		cfg.JWTSecret = secret
		logger.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}

	// === 4. COLLABORATORS ===
	gen, err := llm.New(context.Background(), llm.Config{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.Model,
		GeminiAPIKey:      cfg.LLM.GeminiAPIKey,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		OAuthTokenURL:     cfg.LLM.OAuthTokenURL,
		OAuthClientID:     cfg.LLM.OAuthClientID,
		OAuthClientSecret: cfg.LLM.OAuthClientSecret,
		OAuthScopes:       cfg.LLM.OAuthScopes,
	})
	if err != nil {
		return fmt.Errorf("creating LLM client: %w", err)
	}

	var mail mailer.Sender
	if cfg.SMTP.Host != "" {
		smtpSender, err := mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return fmt.Errorf("creating SMTP sender: %w", err)
		}
		mail = smtpSender
	} else {
		logger.Warn("SMTP_SERVER not set, verification codes will be written to the log")
		mail = mailer.NewLog(logger)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, server.Deps{Generator: gen, Mailer: mail, Redis: rdb}, logger)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return fmt.Errorf("creating server: %w", err)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	return srv.Start()
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
