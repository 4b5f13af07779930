package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"photodrop/pkg/metrics"
	"photodrop/pkg/render"
	"photodrop/services/inbox"
	"photodrop/services/packager"
	"photodrop/services/tokens"
)

const (
	defaultMaxUploadBytes = 256 << 20
	defaultRequestTimeout = 5 * time.Minute
	// multipartMemory is how much of a multipart body is buffered in memory
	// before spilling file parts to temporary files.
	multipartMemory = 32 << 20
)

// Publisher receives upload events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Config controls runtime behaviour for the HTTP handlers.
type Config struct {
	// PublicBaseURL prefixes generated upload links. Empty yields a relative link.
	PublicBaseURL      string
	MaxUploadBytes     int64
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	AllowedOrigins     []string
}

// Deps holds the components the HTTP layer drives.
type Deps struct {
	Tokens   *tokens.Registry
	Packager *packager.Packager
	Inbox    *inbox.Inbox
	Renderer *render.Engine
	Metrics  *metrics.Metrics
	Events   Publisher
	Gatherer prometheus.Gatherer
	// Ready reports whether backing storage is reachable; nil means always ready.
	Ready  func(context.Context) error
	Logger zerolog.Logger
}

// API wires dependencies, template renderer, and configuration for HTTP handlers.
type API struct {
	deps   Deps
	config Config
}

// New initialises the API layer with defaults applied to the provided configuration.
func New(deps Deps, cfg Config) (*API, error) {
	if deps.Tokens == nil {
		return nil, errors.New("token registry is required")
	}
	if deps.Packager == nil {
		return nil, errors.New("packager is required")
	}
	if deps.Inbox == nil {
		return nil, errors.New("inbox is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")

	return &API{deps: deps, config: cfg}, nil
}
