package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"photodrop/pkg/bus"
	"photodrop/pkg/metrics"
	"photodrop/pkg/render"
	"photodrop/pkg/secret"
	"photodrop/pkg/telemetry"
	"photodrop/services/api"
	"photodrop/services/api/internal/config"
	"photodrop/services/inbox"
	"photodrop/services/packager"
	"photodrop/services/retention"
	"photodrop/services/tokens"
)

const serviceName = "photodrop"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "One-time photo upload links with a password-protected inbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSweepCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newImportCommand())
	return cmd
}

func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(cfg.Level()).
		With().Timestamp().Str("service", serviceName).Logger()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(ctx, cfg, newLogger(cfg))
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete artifacts older than ARTIFACT_EXPIRY once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg)

			st, err := openStorage(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.close()

			removed, err := retention.New(st.store, cfg.ArtifactExpiry, logger).Sweep(ctx, time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired artifacts\n", removed)
			return err
		},
	}
}

func newListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored artifacts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := openStorage(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer st.close()

			list, err := st.store.List(ctx)
			if err != nil {
				return fmt.Errorf("list artifacts: %w", err)
			}
			sort.Slice(list, func(i, j int) bool {
				if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
					return list[i].CreatedAt.After(list[j].CreatedAt)
				}
				return list[i].ID < list[j].ID
			})

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSHAPE\tFILES\tBYTES\tCREATED")
			for _, a := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", a.ID, a.Name, a.Shape, a.Files, a.Size, a.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print artifacts as JSON")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	shutdownTelemetry, middleware, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	uploadSecret, err := secret.New(cfg.UploadPassword)
	if err != nil {
		return fmt.Errorf("UPLOAD_PASSWORD: %w", err)
	}
	inboxSecret, err := secret.New(cfg.InboxPassword)
	if err != nil {
		return fmt.Errorf("INBOX_PASSWORD: %w", err)
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	registry := tokens.NewRegistry(tokens.WithTTL(cfg.TokenTTL))
	if err := m.RegisterLiveTokens(reg, registry.Len); err != nil {
		return fmt.Errorf("register token gauge: %w", err)
	}

	var events api.Publisher
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer b.Close()
		events = b
	}

	pkg, err := packager.New(registry, st.store, uploadSecret, packager.Config{
		Threshold: cfg.ArchiveThreshold,
		Deflate:   cfg.ArchiveDeflate,
	}, logger.With().Str("component", "packager").Logger())
	if err != nil {
		return fmt.Errorf("init packager: %w", err)
	}

	in, err := inbox.New(st.store, inboxSecret, inbox.Config{
		Window:              cfg.ArtifactExpiry,
		DeleteAfterDownload: cfg.DeleteAfterDownload,
		Metrics:             m,
		Events:              events,
	}, logger.With().Str("component", "inbox").Logger())
	if err != nil {
		return fmt.Errorf("init inbox: %w", err)
	}

	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}

	handlers, err := api.New(api.Deps{
		Tokens:   registry,
		Packager: pkg,
		Inbox:    in,
		Renderer: renderer,
		Metrics:  m,
		Events:   events,
		Gatherer: reg,
		Ready:    st.ready,
		Logger:   logger,
	}, api.Config{
		PublicBaseURL:      cfg.PublicBaseURL,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		RequestTimeout:     cfg.RequestTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		AllowedOrigins:     cfg.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}

	router, err := handlers.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	if cfg.SweepInterval > 0 {
		go in.Sweeper().Run(ctx, cfg.SweepInterval)
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           middleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().
		Str("addr", server.Addr).
		Str("storage", cfg.StorageBackend).
		Bool("sealed", cfg.AgeIdentity != "").
		Msg("listening")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
