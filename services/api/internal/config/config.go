package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendFS       = "fs"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds runtime configuration for the photodrop service.
type Config struct {
	Port           string `env:"PORT,default=10000"`
	UploadPassword string `env:"UPLOAD_PASSWORD,required"`
	InboxPassword  string `env:"INBOX_PASSWORD,required"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL"`

	StorageBackend string `env:"STORAGE_BACKEND,default=fs"`
	UploadDir      string `env:"UPLOAD_DIR,default=uploads"`
	S3Bucket       string `env:"S3_BUCKET"`
	S3Prefix       string `env:"S3_PREFIX"`
	DatabaseURL    string `env:"DATABASE_URL"`
	AgeIdentity    string `env:"ARTIFACT_AGE_IDENTITY"`

	ArchiveThreshold    int           `env:"ARCHIVE_THRESHOLD,default=5"`
	ArchiveDeflate      bool          `env:"ARCHIVE_DEFLATE,default=false"`
	ArtifactExpiry      time.Duration `env:"ARTIFACT_EXPIRY,default=24h"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL,default=1h"`
	TokenTTL            time.Duration `env:"TOKEN_TTL,default=72h"`
	DeleteAfterDownload bool          `env:"DELETE_AFTER_DOWNLOAD,default=false"`

	MaxUploadBytes     int64         `env:"MAX_UPLOAD_BYTES,default=268435456"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE,default=120"`
	AllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT,default=5m"`

	NATSURL      string `env:"NATS_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom populates a Config from the given lookuper and validates it.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.UploadPassword) == "" {
		errs = append(errs, errors.New("UPLOAD_PASSWORD must not be empty"))
	}
	if strings.TrimSpace(c.InboxPassword) == "" {
		errs = append(errs, errors.New("INBOX_PASSWORD must not be empty"))
	}
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a TCP port, got %q", c.Port))
	}

	switch c.StorageBackend {
	case BackendFS:
		if strings.TrimSpace(c.UploadDir) == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is required for the fs backend"))
		}
	case BackendS3:
		if strings.TrimSpace(c.S3Bucket) == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 backend"))
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be one of fs, s3, postgres, memory, got %q", c.StorageBackend))
	}

	if c.ArchiveThreshold < 0 {
		errs = append(errs, fmt.Errorf("ARCHIVE_THRESHOLD must not be negative, got %d", c.ArchiveThreshold))
	}
	if c.ArtifactExpiry <= 0 {
		errs = append(errs, fmt.Errorf("ARTIFACT_EXPIRY must be positive, got %s", c.ArtifactExpiry))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must not be negative, got %s", c.SweepInterval))
	}
	if c.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must not be negative, got %s", c.TokenTTL))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimitPerMinute))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	return errors.Join(errs...)
}

// Addr is the listen address derived from PORT.
func (c Config) Addr() string {
	return ":" + c.Port
}

// Level returns the parsed LOG_LEVEL, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
