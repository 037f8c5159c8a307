// Package engine parses engine command flags and composes the server
// entrypoint.
package engine

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/louisbranch/tessera/internal/app"
	"github.com/louisbranch/tessera/internal/breaker"
	"github.com/louisbranch/tessera/internal/generative"
	entrypoint "github.com/louisbranch/tessera/internal/platform/cmd"
	"github.com/louisbranch/tessera/internal/storage/sqlite"
)

// Config holds engine command configuration.
type Config struct {
	HTTPAddr  string `env:"TESSERA_ENGINE_HTTP_ADDR" envDefault:":8090"`
	DBPath    string `env:"TESSERA_DB_PATH"          envDefault:"tessera.db"`
	JWTSecret string `env:"TESSERA_JWT_SECRET"`

	OpenAIAPIKey  string `env:"TESSERA_OPENAI_API_KEY"`
	OpenAIModel   string `env:"TESSERA_OPENAI_MODEL"`
	OpenAIBaseURL string `env:"TESSERA_OPENAI_BASE_URL"`

	MaxHistory            int     `env:"TESSERA_MAX_HISTORY"              envDefault:"30"`
	StagingTTLHours       int     `env:"TESSERA_STAGING_TTL_HOURS"        envDefault:"3"`
	StagingTemperature    float64 `env:"TESSERA_STAGING_TEMPERATURE"      envDefault:"0.3"`
	ApprovalMaxRetries    int     `env:"TESSERA_APPROVAL_MAX_RETRIES"     envDefault:"3"`
	ApprovalRetryDelayMS  int     `env:"TESSERA_APPROVAL_RETRY_DELAY_MS"  envDefault:"1000"`
	BreakerFailureLimit   uint    `env:"TESSERA_BREAKER_FAILURE_LIMIT"    envDefault:"5"`
	BreakerOpenSeconds    int     `env:"TESSERA_BREAKER_OPEN_SECONDS"     envDefault:"60"`
	BreakerHalfOpenProbes uint    `env:"TESSERA_BREAKER_HALF_OPEN_PROBES" envDefault:"1"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "engine HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "connection token signing secret (empty disables auth)")
	fs.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", cfg.OpenAIAPIKey, "OpenAI API key (empty disables generative proposals)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "OpenAI model name")
	fs.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", cfg.OpenAIBaseURL, "OpenAI-compatible API base URL")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the engine app and serves until the context is canceled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngine, func(context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() {
			_ = store.Close()
		}()

		var gen generative.Client
		if cfg.OpenAIAPIKey != "" {
			gen = generative.NewOpenAIClient(generative.OpenAIConfig{
				APIKey:  cfg.OpenAIAPIKey,
				Model:   cfg.OpenAIModel,
				BaseURL: cfg.OpenAIBaseURL,
			})
		}

		server := app.New(app.Options{
			HTTPAddr:           cfg.HTTPAddr,
			Store:              store,
			Gen:                gen,
			JWTSecret:          cfg.JWTSecret,
			MaxHistory:         cfg.MaxHistory,
			StagingTTLHours:    cfg.StagingTTLHours,
			StagingTemperature: cfg.StagingTemperature,
			ApprovalMaxRetries: cfg.ApprovalMaxRetries,
			ApprovalRetryDelay: time.Duration(cfg.ApprovalRetryDelayMS) * time.Millisecond,
			Breaker: breaker.Config{
				FailureThreshold:    uint32(cfg.BreakerFailureLimit),
				OpenDuration:        time.Duration(cfg.BreakerOpenSeconds) * time.Second,
				HalfOpenMaxRequests: uint32(cfg.BreakerHalfOpenProbes),
			},
		})
		if err := server.Run(ctx); err != nil {
			return fmt.Errorf("serve engine: %w", err)
		}
		return nil
	})
}
