// dropgate server
//
// Managed SFTP file-drop endpoints: external parties upload files into
// account-scoped sandbox directories, and every completed upload is
// persisted and announced to the account's webhook with a content digest.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dropgate/dropgate/internal/config"
	"github.com/dropgate/dropgate/internal/hostkey"
	"github.com/dropgate/dropgate/internal/logging"
	"github.com/dropgate/dropgate/internal/metadata/postgres"
	"github.com/dropgate/dropgate/internal/metrics"
	"github.com/dropgate/dropgate/internal/notify"
	"github.com/dropgate/dropgate/internal/sftp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("dropgate server starting...",
		zap.String("listen", cfg.ListenAddr()),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Host identity: no key, no identity, no listening.
	identity, err := hostkey.GetOrCreate(cfg.StorageRoot)
	if err != nil {
		logging.Fatal("host identity unavailable", zap.Error(err))
	}
	logging.Info("host identity ready",
		zap.String("host", cfg.AdvertisedHost()),
		zap.Int("port", cfg.Port),
		zap.String("fingerprint", identity.FingerprintSHA256),
		zap.String("public_key", identity.PublicKeyPath))

	// Connection document for operators to hand to external parties.
	onboarding, err := hostkey.WriteOnboarding(cfg.StorageRoot, cfg.AdvertisedHost(), cfg.Port, identity, cfg.IncludeClientKeypair)
	if err != nil {
		logging.Fatal("onboarding material failed", zap.Error(err))
	}
	logging.Info("onboarding material written", zap.String("path", onboarding.ConnectionInfoPath))

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	metaStore, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer metaStore.Close()

	// Run migrations
	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := metaStore.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Upload-completion pipeline and webhook dispatcher
	webhooks := notify.NewWebhookDispatcher(cfg.WebhookInsecureTLS, cfg.WebhookTimeout)
	pipeline := notify.NewPipeline(metaStore, metaStore, webhooks)
	if cfg.WebhookInsecureTLS {
		logging.Warn("outbound webhook TLS verification is disabled")
	}

	// SFTP server
	srv := sftp.NewServer(identity, metaStore, pipeline)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metaStore.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("sftp server listening", zap.String("addr", cfg.ListenAddr()))
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr()); err != nil {
		logging.Fatal("server error", zap.Error(err))
	}

	// Let in-flight webhook deliveries finish before exit.
	pipeline.Drain()
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
