package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ElevenLabsConfig holds synthesis settings.
type ElevenLabsConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	VoiceID         string        `yaml:"voice_id"`
	ModelID         string        `yaml:"model_id"`
	Stability       float64       `yaml:"stability"`
	SimilarityBoost float64       `yaml:"similarity_boost"`
	Style           float64       `yaml:"style"`
	OutputFormat    string        `yaml:"output_format"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second, 0 disables
}

// StoreConfig selects and configures the job store backend.
type StoreConfig struct {
	Backend   string `yaml:"backend"` // sqlite or dynamodb
	Path      string `yaml:"path"`
	TableName string `yaml:"table_name"`
}

// StorageConfig configures the optional S3 artifact mirror.
type StorageConfig struct {
	S3Bucket   string `yaml:"s3_bucket"`
	CDNBaseURL string `yaml:"cdn_base_url"`
}

// ServerConfig configures the MCP transport.
type ServerConfig struct {
	Transport string `yaml:"transport"` // stdio or http
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json or text
}

// Config holds the full application configuration.
type Config struct {
	OutputDir    string           `yaml:"output_dir"`
	AWSRegion    string           `yaml:"aws_region"`
	SecretPrefix string           `yaml:"secret_prefix"` // e.g. "/voiceover/mcp/"
	ElevenLabs   ElevenLabsConfig `yaml:"elevenlabs"`
	Store        StoreConfig      `yaml:"store"`
	Storage      StorageConfig    `yaml:"storage"`
	Server       ServerConfig     `yaml:"server"`
	Log          LogConfig        `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputDir: "output",
		AWSRegion: "us-east-1",
		ElevenLabs: ElevenLabsConfig{
			BaseURL:         "https://api.elevenlabs.io/v1",
			VoiceID:         "dQn9HIMKSXWzKBGkbhfP",
			ModelID:         "eleven_flash_v2",
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Style:           0.1,
			OutputFormat:    "mp3_44100_128",
			Timeout:         120 * time.Second,
			RateLimit:       2,
		},
		Store: StoreConfig{
			Backend:   "sqlite",
			TableName: "voiceover-jobs",
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VOICEOVER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.OutputDir, "voiceover_history.db")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.OutputDir, "ELEVENLABS_OUTPUT_DIR")
	setString(&cfg.AWSRegion, "AWS_REGION")
	setString(&cfg.SecretPrefix, "SECRET_PREFIX")

	el := &cfg.ElevenLabs
	setString(&el.APIKey, "ELEVENLABS_API_KEY")
	setString(&el.BaseURL, "ELEVENLABS_BASE_URL")
	setString(&el.VoiceID, "ELEVENLABS_VOICE_ID")
	setString(&el.ModelID, "ELEVENLABS_MODEL_ID")
	setString(&el.OutputFormat, "ELEVENLABS_OUTPUT_FORMAT")

	var errs []error
	errs = append(errs,
		setFloat(&el.Stability, "ELEVENLABS_STABILITY"),
		setFloat(&el.SimilarityBoost, "ELEVENLABS_SIMILARITY_BOOST"),
		setFloat(&el.Style, "ELEVENLABS_STYLE"),
		setFloat(&el.RateLimit, "ELEVENLABS_RATE_LIMIT"),
		setDuration(&el.Timeout, "ELEVENLABS_TIMEOUT"),
	)

	setString(&cfg.Store.Backend, "VOICEOVER_STORE")
	setString(&cfg.Store.Path, "VOICEOVER_DB_PATH")
	setString(&cfg.Store.TableName, "DYNAMODB_TABLE")

	setString(&cfg.Storage.S3Bucket, "S3_BUCKET")
	setString(&cfg.Storage.CDNBaseURL, "CDN_BASE_URL")

	setString(&cfg.Server.Transport, "MCP_TRANSPORT")
	setString(&cfg.Server.AuthToken, "MCP_AUTH_TOKEN")
	errs = append(errs, setInt(&cfg.Server.Port, "PORT"))

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	return errors.Join(errs...)
}

// Validate checks the settings needed to serve synthesis requests.
func (c Config) Validate() error {
	var errs []error
	if c.ElevenLabs.APIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is required"))
	}
	if c.ElevenLabs.VoiceID == "" {
		errs = append(errs, errors.New("a default voice id is required"))
	}
	errs = append(errs, c.ValidateStore())
	return errors.Join(errs...)
}

// ValidateStore checks only what reading and deleting jobs needs.
func (c Config) ValidateStore() error {
	var errs []error
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("sqlite store path is required"))
		}
	case "dynamodb":
		if c.Store.TableName == "" {
			errs = append(errs, errors.New("DYNAMODB_TABLE is required for the dynamodb store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q: choose sqlite or dynamodb", c.Store.Backend))
	}
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q: choose stdio or http", c.Server.Transport))
	}
	return errors.Join(errs...)
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c Config) NeedsAWS() bool {
	return c.Store.Backend == "dynamodb" || c.Storage.S3Bucket != "" || c.SecretPrefix != ""
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
