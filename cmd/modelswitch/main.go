package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"modelswitch/internal/audit"
	"modelswitch/internal/config"
	"modelswitch/internal/httpapi"
	"modelswitch/internal/registry"
	"modelswitch/internal/store"
	minioStore "modelswitch/internal/store/minio"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath        string
		addr           string
		modelsDir      string
		defaultVersion string
		warmOnSwitch   bool
		preload        bool
		logLevel       string
		logFile        string
		auditDB        string
	)

	cmd := &cobra.Command{
		Use:           "modelswitch",
		Short:         "Serve versioned ML models with runtime version switching",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg config.Config
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Flags win over the config file when set explicitly.
			flags := cmd.Flags()
			if flags.Changed("addr") || cfg.Addr == "" {
				cfg.Addr = addr
			}
			if flags.Changed("models-dir") || cfg.ModelsDir == "" {
				cfg.ModelsDir = modelsDir
			}
			if flags.Changed("default-version") || cfg.DefaultVersion == "" {
				cfg.DefaultVersion = defaultVersion
			}
			if flags.Changed("warm-on-switch") {
				cfg.WarmOnSwitch = warmOnSwitch
			}
			if flags.Changed("preload") {
				cfg.PreloadDefault = preload
			}
			if flags.Changed("log-level") || cfg.LogLevel == "" {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-file") {
				cfg.LogFile = logFile
			}
			if flags.Changed("audit-db") {
				cfg.AuditDB = auditDB
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", envOr("MODELSWITCH_CONFIG", ""), "Path to config file (.yaml/.json/.toml)")
	cmd.Flags().StringVar(&addr, "addr", envOr("MODELSWITCH_ADDR", ":8080"), "HTTP listen address")
	cmd.Flags().StringVar(&modelsDir, "models-dir", envOr("MODELSWITCH_MODELS_DIR", "models"), "Directory with <version>/model.bin artifacts")
	cmd.Flags().StringVar(&defaultVersion, "default-version", envOr("MODELSWITCH_DEFAULT_VERSION", "v1"), "Active version at startup")
	cmd.Flags().BoolVar(&warmOnSwitch, "warm-on-switch", false, "Load the new active version in the background after a switch")
	cmd.Flags().BoolVar(&preload, "preload", false, "Load the default version at startup before reporting ready")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (trace..error)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log to a rotating file instead of stderr")
	cmd.Flags().StringVar(&auditDB, "audit-db", "", "Path to the sqlite admin audit journal (empty disables auditing)")

	return cmd
}

func newLogger(cfg config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func newStore(cfg config.Config) (store.Store, *store.DirStore, error) {
	if cfg.Minio.Endpoint != "" {
		st, err := minioStore.New(minioStore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("minio store: %w", err)
		}
		return st, nil, nil
	}
	ds, err := store.NewDirStore(cfg.ModelsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("models dir: %w", err)
	}
	return ds, ds, nil
}

func run(cfg config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	st, dirStore, err := newStore(cfg)
	if err != nil {
		return err
	}

	var journal *audit.Journal
	if cfg.AuditDB != "" {
		journal, err = audit.Open(cfg.AuditDB)
		if err != nil {
			return fmt.Errorf("open audit journal: %w", err)
		}
		defer journal.Close()
	}

	reg := registry.New(st, registry.Config{
		DefaultVersion:    cfg.DefaultVersion,
		WarmOnSwitch:      cfg.WarmOnSwitch,
		FallbackToDefault: cfg.FallbackToDefault,
		Observer:          &httpapi.MetricsObserver{},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refreshAvailable := func() {
		versions, err := reg.KnownVersions(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("list versions")
			return
		}
		httpapi.SetAvailableVersions(len(versions))
		logger.Info().Strs("versions", versions).Msg("storage scanned")
	}
	refreshAvailable()

	if dirStore != nil {
		go func() {
			if err := dirStore.Watch(ctx, refreshAvailable); err != nil {
				logger.Warn().Err(err).Msg("models dir watcher stopped")
			}
		}()
	}

	var ready atomic.Bool
	if cfg.PreloadDefault {
		go func() {
			if _, _, err := reg.Resolve(ctx, cfg.DefaultVersion); err != nil {
				// Expected when no artifacts exist yet; predictions will
				// load lazily once storage appears.
				logger.Warn().Err(err).Str("version", cfg.DefaultVersion).Msg("preload failed")
			}
			ready.Store(true)
		}()
	} else {
		ready.Store(true)
	}

	mux := httpapi.NewMux(reg, httpapi.Options{
		Logger:       logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
		AdminRate:    rate.Limit(cfg.AdminRate),
		AdminBurst:   2,
		Audit:        journal,
		Ready:        ready.Load,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("default_version", cfg.DefaultVersion).Msg("modelswitch listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
