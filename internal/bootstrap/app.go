// Package bootstrap wires configuration, storage, synthesis and the job
// manager into one App shared by the CLI and the MCP server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/apresai/voiceover/internal/assembly"
	"github.com/apresai/voiceover/internal/config"
	"github.com/apresai/voiceover/internal/jobs"
	"github.com/apresai/voiceover/internal/jobstore"
	"github.com/apresai/voiceover/internal/pipeline"
	"github.com/apresai/voiceover/internal/storage"
	"github.com/apresai/voiceover/internal/tts"
)

// Mode selects how much of the stack must be usable.
type Mode int

const (
	// ModeSynthesis requires synthesis credentials.
	ModeSynthesis Mode = iota
	// ModeReadOnly only needs the job store, for listing and deleting jobs.
	ModeReadOnly
)

// App holds the wired components.
type App struct {
	Config config.Config
	Log    *slog.Logger
	Store  jobstore.Store
	Jobs   *jobs.Manager
}

// New resolves secrets, validates the configuration and builds the job stack.
func New(ctx context.Context, cfg config.Config, mode Mode, logger *slog.Logger) (*App, error) {
	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	}

	if cfg.SecretPrefix != "" {
		cfg.LoadSecrets(ctx, secretsmanager.NewFromConfig(awsCfg), logger)
	}

	validate := cfg.Validate
	if mode == ModeReadOnly {
		validate = cfg.ValidateStore
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	store, err := openStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	provider := tts.NewElevenLabsProvider(tts.ElevenLabsOptions{
		APIKey:          cfg.ElevenLabs.APIKey,
		BaseURL:         cfg.ElevenLabs.BaseURL,
		ModelID:         cfg.ElevenLabs.ModelID,
		Stability:       cfg.ElevenLabs.Stability,
		SimilarityBoost: cfg.ElevenLabs.SimilarityBoost,
		Style:           cfg.ElevenLabs.Style,
		OutputFormat:    cfg.ElevenLabs.OutputFormat,
		Timeout:         cfg.ElevenLabs.Timeout,
		RateLimit:       cfg.ElevenLabs.RateLimit,
	})
	orchestrator := pipeline.NewOrchestrator(provider, assembly.NewWAVStitcher(), pipeline.Options{
		DefaultVoiceID: cfg.ElevenLabs.VoiceID,
		OutputDir:      cfg.OutputDir,
	}, logger)

	var mirror jobs.ArtifactMirror
	if cfg.Storage.S3Bucket != "" {
		mirror = storage.NewMirror(s3.NewFromConfig(awsCfg), cfg.Storage.S3Bucket, cfg.Storage.CDNBaseURL)
		logger.Info("Artifact mirror enabled", "bucket", cfg.Storage.S3Bucket)
	}

	return &App{
		Config: cfg,
		Log:    logger,
		Store:  store,
		Jobs:   jobs.NewManager(store, orchestrator, mirror, logger),
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, awsCfg aws.Config, logger *slog.Logger) (jobstore.Store, error) {
	switch cfg.Store.Backend {
	case "dynamodb":
		logger.Info("Using DynamoDB job store", "table", cfg.Store.TableName)
		return jobstore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Store.TableName), nil
	case "sqlite":
		logger.Info("Using SQLite job store", "path", cfg.Store.Path)
		return jobstore.OpenSQLite(ctx, cfg.Store.Path, logger)
	default:
		return nil, errors.New("unknown store backend " + cfg.Store.Backend)
	}
}

// Close releases the job store.
func (a *App) Close() error {
	return a.Store.Close()
}
