package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
)

func baseEnv() map[string]string {
	return map[string]string{
		"UPLOAD_PASSWORD": "2409004",
		"INBOX_PASSWORD":  "admin123",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(baseEnv()))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Addr() != ":10000" {
		t.Fatalf("Addr() = %q, want :10000", cfg.Addr())
	}
	if cfg.StorageBackend != BackendFS || cfg.UploadDir != "uploads" {
		t.Fatalf("storage = %s at %q, want fs at uploads", cfg.StorageBackend, cfg.UploadDir)
	}
	if cfg.ArchiveThreshold != 5 {
		t.Fatalf("ArchiveThreshold = %d, want 5", cfg.ArchiveThreshold)
	}
	if cfg.ArtifactExpiry != 24*time.Hour {
		t.Fatalf("ArtifactExpiry = %s, want 24h", cfg.ArtifactExpiry)
	}
	if cfg.TokenTTL != 72*time.Hour {
		t.Fatalf("TokenTTL = %s, want 72h", cfg.TokenTTL)
	}
	if cfg.SweepInterval != time.Hour {
		t.Fatalf("SweepInterval = %s, want 1h", cfg.SweepInterval)
	}
	if cfg.MaxUploadBytes != 256<<20 {
		t.Fatalf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, 256<<20)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Fatalf("Level() = %s, want info", cfg.Level())
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "8080"
	env["STORAGE_BACKEND"] = "s3"
	env["S3_BUCKET"] = "photos"
	env["ARCHIVE_THRESHOLD"] = "0"
	env["TOKEN_TTL"] = "0"
	env["CORS_ALLOWED_ORIGINS"] = "https://a.example,https://b.example"
	env["LOG_LEVEL"] = "debug"

	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Addr() != ":8080" || cfg.S3Bucket != "photos" || cfg.ArchiveThreshold != 0 || cfg.TokenTTL != 0 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins = %v, want 2 entries", cfg.AllowedOrigins)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Fatalf("Level() = %s, want debug", cfg.Level())
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing upload password", env: map[string]string{"INBOX_PASSWORD": "x"}, wantErr: "UPLOAD_PASSWORD"},
		{name: "missing inbox password", env: map[string]string{"UPLOAD_PASSWORD": "x"}, wantErr: "INBOX_PASSWORD"},
		{name: "blank inbox password", env: map[string]string{"UPLOAD_PASSWORD": "x", "INBOX_PASSWORD": "  "}, wantErr: "INBOX_PASSWORD"},
		{name: "bad port", env: map[string]string{"PORT": "http"}, wantErr: "PORT"},
		{name: "unknown backend", env: map[string]string{"STORAGE_BACKEND": "ftp"}, wantErr: "STORAGE_BACKEND"},
		{name: "s3 without bucket", env: map[string]string{"STORAGE_BACKEND": "s3"}, wantErr: "S3_BUCKET"},
		{name: "postgres without dsn", env: map[string]string{"STORAGE_BACKEND": "postgres"}, wantErr: "DATABASE_URL"},
		{name: "negative threshold", env: map[string]string{"ARCHIVE_THRESHOLD": "-1"}, wantErr: "ARCHIVE_THRESHOLD"},
		{name: "zero expiry", env: map[string]string{"ARTIFACT_EXPIRY": "0s"}, wantErr: "ARTIFACT_EXPIRY"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}, wantErr: "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.env
			if _, ok := env["UPLOAD_PASSWORD"]; !ok && tt.wantErr != "UPLOAD_PASSWORD" {
				env["UPLOAD_PASSWORD"] = "x"
			}
			if _, ok := env["INBOX_PASSWORD"]; !ok && tt.wantErr != "INBOX_PASSWORD" {
				env["INBOX_PASSWORD"] = "x"
			}

			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(env))
			if err == nil {
				t.Fatal("LoadFrom() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("LoadFrom() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryBackendNeedsNothing(t *testing.T) {
	env := baseEnv()
	env["STORAGE_BACKEND"] = BackendMemory
	env["UPLOAD_DIR"] = ""
	if _, err := LoadFrom(context.Background(), envconfig.MapLookuper(env)); err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
}
