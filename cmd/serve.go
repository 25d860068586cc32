package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/dispatch"
	wahttp "github.com/nextlevelbuilder/wagate/internal/http"
	"github.com/nextlevelbuilder/wagate/internal/media"
	"github.com/nextlevelbuilder/wagate/internal/session"
	"github.com/nextlevelbuilder/wagate/internal/transport/whatsapp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the session and the HTTP server (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := resolveConfigPath()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("wagate starting", "version", Version, "config", cfgPath, "addr", cfg.Addr())

	shutdownOTel := initOTelExporter(ctx, cfg)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownOTel(sctx)
	}()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()
	slog.Info("storage ready", "backend", st.backend, "device_store", st.dialect)

	resolver := media.NewResolver(mediaConfig(cfg))
	wa, err := whatsapp.New(ctx, whatsapp.Config{
		DB:      st.deviceDB,
		Dialect: st.dialect,
		Media:   resolver,
		Logger:  slog.Default(),
	})
	if err != nil {
		return err
	}

	mgr := session.New(session.Config{
		Transport: wa,
		Store:     st.creds,
		Policy:    reconnectPolicy(cfg),
		Branding:  cfg.Branding.ComposeBranding(),
		Dispatch:  dispatch.Config{QueueCap: cfg.Dispatch.QueueCap},
	})
	defer mgr.Stop()

	srv := wahttp.NewServer(mgr, wahttp.Options{
		Token:      cfg.Server.Token,
		TrustProxy: cfg.Server.TrustProxy,
		Limiter:    wahttp.NewRateLimiter(cfg.Server.RateLimitRPM, cfg.Server.RateBurst),
	})

	watcher := startConfigWatcher(cfgPath, mgr, srv)
	if watcher != nil {
		defer watcher.Stop()
	}

	if err := mgr.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("start session: %w", err)
	}

	err = srv.ListenAndServe(ctx, cfg.Addr())
	slog.Info("wagate stopped")
	return err
}

func mediaConfig(cfg *config.Config) media.Config {
	roots := make([]string, 0, len(cfg.Media.Roots))
	for _, r := range cfg.Media.Roots {
		roots = append(roots, config.ExpandHome(r))
	}
	return media.Config{
		MaxBytes:          cfg.Media.MaxBytes,
		Timeout:           cfg.Media.Timeout.Duration(),
		Roots:             roots,
		S3Region:          cfg.Media.S3Region,
		S3Endpoint:        cfg.Media.S3Endpoint,
		S3AccessKeyID:     cfg.Media.S3AccessKeyID,
		S3SecretAccessKey: cfg.Media.S3SecretAccessKey,
	}
}

func reconnectPolicy(cfg *config.Config) session.ReconnectPolicy {
	return session.ReconnectPolicy{
		BaseDelay:   cfg.Session.ReconnectBase.Duration(),
		MaxDelay:    cfg.Session.ReconnectMax.Duration(),
		MaxAttempts: cfg.Session.MaxAttempts,
		Jitter:      cfg.Session.Jitter,
	}
}

// startConfigWatcher hot-reloads branding, reconnect policy, the send token
// and rate limits. Storage and listen address changes need a restart.
func startConfigWatcher(path string, mgr *session.Manager, srv *wahttp.Server) *config.Watcher {
	if _, err := os.Stat(path); err != nil {
		slog.Debug("config watcher disabled", "path", path, "reason", "no config file")
		return nil
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return nil
	}
	w.OnChange(func(cfg *config.Config) {
		mgr.SetBranding(cfg.Branding.ComposeBranding())
		mgr.SetPolicy(reconnectPolicy(cfg))
		srv.SetToken(cfg.Server.Token)
		srv.SetLimiter(wahttp.NewRateLimiter(cfg.Server.RateLimitRPM, cfg.Server.RateBurst))
		slog.Info("config reloaded", "branding_disabled", cfg.Branding.Disabled)
	})
	if err := w.Start(); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return nil
	}
	return w
}
