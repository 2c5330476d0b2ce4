package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwarden/internal/analytics"
	"chatwarden/internal/audit"
	"chatwarden/internal/bot"
	"chatwarden/internal/commands"
	"chatwarden/internal/config"
	"chatwarden/internal/conn"
	"chatwarden/internal/dispatch"
	"chatwarden/internal/frequency"
	"chatwarden/internal/normalize"
	"chatwarden/internal/spam"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"
	"chatwarden/internal/transport/wmeow"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link, err := wmeow.New(ctx, cfg.SessionPath, logger)
	if err != nil {
		logger.Fatal("transport init failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger)
	analyticsEngine := analytics.New(store)
	tracker := frequency.NewTracker(time.Duration(cfg.Flood.WindowSeconds)*time.Second, cfg.Flood.Threshold)
	analyzer := spam.NewAnalyzer(cfg.Spam, tracker)
	if counts, err := store.LoadWarningCounts(ctx); err != nil {
		logger.Warn("warning restore failed", zap.Error(err))
	} else {
		analyzer.RestoreWarnings(counts)
	}

	manager := conn.NewManager(link.Connect, cfg.Reconnect.MaxRetries, time.Duration(cfg.Reconnect.DelayMs)*time.Millisecond, logger)

	deps := commands.Deps{
		Prefix:    cfg.CommandPrefix,
		Conn:      manager,
		Analyzer:  analyzer,
		Analytics: analyticsEngine,
	}
	var registry *dispatch.Registry
	deps.List = func() []dispatch.Descriptor { return registry.List() }
	registry = dispatch.NewRegistry(commands.All(deps)...)

	dispatcher := dispatch.NewDispatcher(registry, link, cfg.OwnerJID,
		time.Duration(cfg.Dispatch.CooldownMs)*time.Millisecond,
		time.Duration(cfg.Dispatch.ExecTimeoutSeconds)*time.Second,
		logger)

	normalizer := normalize.New(cfg.CommandPrefix, cfg.AllowSelfCommands)
	botSvc := bot.New(cfg, logger, link, manager, normalizer, tracker, analyzer, dispatcher, auditLogger, store)

	if cfg.OwnerJID != "" {
		manager.SetReadyHook(func(ctx context.Context) {
			if err := link.SendText(ctx, cfg.OwnerJID, "✅ chatwarden is online.", transport.SendOptions{}); err != nil {
				logger.Warn("ready notice failed", zap.Error(err))
			}
		})
	}
	manager.SetFatalHook(func(reason string) {
		logger.Error("connection unrecoverable", zap.String("reason", reason))
		cancel()
	})

	go botSvc.Run(ctx)
	manager.Start(ctx)
	logger.Info("bot started")

	if cfg.RetentionDays > 0 {
		go retentionLoop(ctx, store, cfg.RetentionDays, logger)
	}

	var server *http.Server
	if cfg.Health.Enabled {
		server = &http.Server{Addr: cfg.Health.Addr}
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(manager.Snapshot())
		})
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	manager.Stop()
	link.Disconnect()
	dispatcher.Wait()
}

func retentionLoop(ctx context.Context, store *storage.Store, retentionDays int, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.CleanupAuditLogs(ctx, retentionDays); err != nil {
				logger.Warn("retention cleanup failed", zap.Error(err))
			}
		}
	}
}
