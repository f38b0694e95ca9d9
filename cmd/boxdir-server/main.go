// boxdir-server exposes one local directory tree over HTTP.
//
// Features:
// - Browse, download (with byte ranges), upload, create, rename, delete
// - Every path confined to the configured root
// - SSE change feed and optional WebDAV mount
// - Prometheus metrics, structured logging, audit trail
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/boxdir/internal/api"
	"github.com/fruitsalade/boxdir/internal/audit"
	"github.com/fruitsalade/boxdir/internal/config"
	"github.com/fruitsalade/boxdir/internal/events"
	"github.com/fruitsalade/boxdir/internal/logging"
	"github.com/fruitsalade/boxdir/internal/metrics"
	"github.com/fruitsalade/boxdir/internal/ratelimit"
	"github.com/fruitsalade/boxdir/internal/sandbox"
)

const shutdownTimeout = 15 * time.Second

type flags struct {
	configPath    string
	root          string
	createRoot    bool
	listen        string
	metricsAddr   string
	logLevel      string
	logFormat     string
	maxUploadSize int64
	rateLimit     float64
	webdav        bool
}

func main() {
	var f flags
	cmd := &cobra.Command{
		Use:          "boxdir-server",
		Short:        "Serve a directory tree over HTTP",
		Version:      api.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			return run(cfg, func() (*config.Config, error) { return loadConfig(cmd, &f) })
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fl.StringVar(&f.root, "root", "", "directory to serve")
	fl.BoolVar(&f.createRoot, "create-root", false, "create the root directory if it does not exist")
	fl.StringVar(&f.listen, "listen", "", "API listen address")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "metrics listen address (empty string disables)")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fl.StringVar(&f.logFormat, "log-format", "", "json or console")
	fl.Int64Var(&f.maxUploadSize, "max-upload-size", 0, "largest accepted upload in bytes")
	fl.Float64Var(&f.rateLimit, "rate-limit", 0, "requests per second per client (0 disables)")
	fl.BoolVar(&f.webdav, "webdav", false, "mount WebDAV at /webdav/")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers flags that were set explicitly over the file and
// environment configuration.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("root") {
		cfg.Root = f.root
	}
	if changed("create-root") {
		cfg.CreateRoot = f.createRoot
	}
	if changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("max-upload-size") {
		cfg.MaxUploadSize = f.maxUploadSize
	}
	if changed("rate-limit") {
		cfg.RateLimitRPS = f.rateLimit
	}
	if changed("webdav") {
		cfg.WebDAVEnabled = f.webdav
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// run serves until SIGINT or SIGTERM. SIGHUP calls reload and applies the
// new log level; other settings need a restart.
func run(cfg *config.Config, reload func() (*config.Config, error)) error {
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		return fmt.Errorf("logging init error: %w", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reloadOnHangup(ctx, reload)

	if cfg.CreateRoot {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return fmt.Errorf("creating root: %w", err)
		}
	}
	resolver, err := sandbox.NewResolver(cfg.Root)
	if err != nil {
		return err
	}
	logging.Info("boxdir server starting",
		zap.String("root", resolver.Root().Abs),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	recorders := audit.Multi{audit.NewLogRecorder(logging.L())}
	if cfg.AuditDatabaseURL != "" {
		logging.Info("connecting to audit database...")
		store, err := audit.NewPostgresRecorder(ctx, cfg.AuditDatabaseURL)
		if err != nil {
			return fmt.Errorf("audit database: %w", err)
		}
		defer store.Close()
		recorders = append(recorders, store)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
		go cleanupLimiter(ctx, limiter)
		logging.Info("rate limiting enabled",
			zap.Float64("rps", cfg.RateLimitRPS),
			zap.Int("burst", cfg.RateLimitBurst))
	}

	srv := api.NewServer(
		resolver,
		sandbox.NewLister(resolver),
		sandbox.NewTransfers(),
		sandbox.NewMutations(resolver, cfg.DefaultFolderName),
		events.NewBroadcaster(),
		recorders,
		limiter,
		cfg.MaxUploadSize,
	)
	if cfg.WebDAVEnabled {
		srv.EnableWebDAV()
		logging.Info("webdav mounted", zap.String("prefix", "/webdav/"))
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(srv.CloseStreams)
	if cfg.UseTLS() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.UseTLS() {
			logging.Info("server listening (TLS)",
				zap.String("addr", cfg.ListenAddr),
				zap.String("cert", cfg.TLSCertFile))
			errCh <- httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("graceful shutdown incomplete", zap.Error(err))
		httpServer.Close()
	}
	logging.Info("server stopped")
	return nil
}

func reloadOnHangup(ctx context.Context, reload func() (*config.Config, error)) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := reload()
			if err != nil {
				logging.Warn("config reload failed", zap.Error(err))
				continue
			}
			logging.SetLevel(cfg.LogLevel)
			logging.Info("log level reloaded", zap.String("level", cfg.LogLevel))
		}
	}
}

// cleanupLimiter evicts limiters of clients that have gone quiet.
func cleanupLimiter(ctx context.Context, l *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Cleanup(30 * time.Minute); n > 0 {
				logging.Debug("rate limiter cleanup", zap.Int("evicted", n))
			}
		}
	}
}
