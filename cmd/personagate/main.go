// Package main is the entry point for the personagate server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/config"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/metrics"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/persona"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/provider"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/secret"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/server"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "personagate",
		Short:         "Nickname-routing gateway for LLM persona studies",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("personagate exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	registry, closeRegistry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()

	// One adapter per provider family. Any family in persona.Providers can
	// be referenced by a persona, including ones added to Redis later.
	adapters := make(map[persona.Provider]provider.Adapter, len(persona.Providers))
	for _, p := range persona.Providers {
		a, err := provider.New(string(p), cfg.Providers[string(p)].BaseURL)
		if err != nil {
			return fmt.Errorf("creating %s adapter: %w", p, err)
		}
		adapters[p] = a
		logger.Debug("registered adapter", "provider", p)
	}

	srv := server.New(cfg, server.Deps{
		Personas: registry,
		Secrets:  secret.Env(),
		Adapters: adapters,
		Client:   &http.Client{},
		Metrics:  metrics.New(),
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("personagate listening", "port", cfg.Server.Port, "registry", cfg.Registry.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildRegistry returns the configured persona registry and a cleanup
// func for whatever connection it holds.
func buildRegistry(ctx context.Context, cfg *config.Config) (persona.Registry, func(), error) {
	switch cfg.Registry.Backend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.Registry.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing registry.redis_url: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return persona.NewRedis(client, cfg.Registry.KeyPrefix), func() { client.Close() }, nil

	default:
		reg, err := persona.NewStatic(cfg.PersonaMappings())
		if err != nil {
			return nil, nil, fmt.Errorf("building persona registry: %w", err)
		}
		return reg, func() {}, nil
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
