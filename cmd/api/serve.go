package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"specsync/api/internal/app"
	"specsync/api/internal/archive"
	"specsync/api/internal/gitmirror"
	"specsync/api/internal/linkcode"
	"specsync/api/internal/metrics"
	"specsync/api/internal/ratelimit"
	"specsync/api/internal/search"
	"specsync/api/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  `Migrate the database, connect the optional backends and serve the sync API until interrupted.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(ctx, db, dialect); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewSQLStore(db, dialect)

	opts := app.Options{Metrics: metrics.New(), Logger: logger}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		linkCodes, err := linkcode.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer linkCodes.Close()
		opts.LinkCodes = linkCodes
		opts.Limiter = ratelimit.NewRedisLimiter(linkCodes.Client())
		logger.Info("redis enabled: link codes and rate limits")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	opts.Search = search.NewService(meili, search.NewSQL(dataStore), logger)

	if strings.TrimSpace(cfg.MirrorDir) != "" {
		opts.Mirror = gitmirror.New(cfg.MirrorDir)
		logger.Info("git mirror enabled", zap.String("dir", cfg.MirrorDir))
	}

	if cfg.S3.Enabled() {
		exporter, err := archive.NewMinio(ctx, archive.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			logger.Warn("snapshot export disabled", zap.Error(err))
		} else {
			opts.Archive = exporter
		}
	}

	service := app.New(cfg, dataStore, opts)
	go service.Reindex(ctx)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("specsync api listening", zap.String("addr", cfg.Addr), zap.String("dialect", string(dialect)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	logger.Info("specsync api stopped")
	return nil
}
