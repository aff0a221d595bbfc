package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/x402_agent/internal/api"
	"github.com/dgnsrekt/x402_agent/internal/bridge"
	"github.com/dgnsrekt/x402_agent/internal/browser"
	"github.com/dgnsrekt/x402_agent/internal/capture"
	"github.com/dgnsrekt/x402_agent/internal/cdp"
	"github.com/dgnsrekt/x402_agent/internal/config"
	"github.com/dgnsrekt/x402_agent/internal/journal"
	"github.com/dgnsrekt/x402_agent/internal/netutil"
	"github.com/dgnsrekt/x402_agent/internal/notify"
	"github.com/dgnsrekt/x402_agent/internal/pipeline"
	"github.com/dgnsrekt/x402_agent/internal/relay"
	"github.com/dgnsrekt/x402_agent/internal/store"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		slog.Debug("log directory creation failed", "error", err)
	}

	logWriter := &lumberjack.Logger{
		Filename:   "logs/watcher.log",
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))

	slog.Info("Starting x402 payment watcher")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Configuration loaded",
		"cdp_address", cfg.CDPAddress,
		"cdp_port", cfg.CDPPort,
		"data_dir", cfg.DataDir,
		"tab_url_filter", cfg.TabURLFilter,
		"reload_on_attach", cfg.ReloadOnAttach,
		"merge_window", cfg.MergeWindow,
		"api_bind", cfg.APIBind,
		"journal_enabled", cfg.JournalEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to open store", "data_dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	broker := relay.NewBroker()
	notifier := notify.NewNotifier(nil, cfg.NotifyEndpoint)

	// The bridge is assigned below; the update hook closes over it so
	// superseded records can be pushed back into their originating tab.
	var pageBridge *bridge.Bridge

	hooks := pipeline.Hooks{
		OnNew: func(rec store.RequestRecord) {
			broker.Publish(relay.Event{Type: relay.EventNew, Record: rec})
			if notifier.Enabled() {
				go func() {
					nctx, ncancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer ncancel()
					if err := notifier.NotifyNewRequest(nctx, rec.URL, st.Count()); err != nil {
						slog.Warn("notification failed", "url", rec.URL, "error", err)
					}
				}()
			}
		},
		OnUpdated: func(rec store.RequestRecord) {
			broker.Publish(relay.Event{Type: relay.EventUpdated, Record: rec})
			// Fire-and-forget: tab evaluation must never back up the
			// reconciler queue behind a slow or dead tab.
			go func() {
				bctx, bcancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer bcancel()
				pageBridge.NotifyBasketUpdated(bctx, rec.ContextID, rec)
			}()
		},
	}

	opts := []pipeline.Option{pipeline.WithMergeWindow(cfg.MergeWindow)}
	if cfg.JournalEnabled {
		jw := journal.NewWriter(filepath.Join(cfg.DataDir, "journal"), 256, 25)
		defer func() {
			if err := jw.Close(); err != nil {
				slog.Warn("Journal close failed", "error", err)
			}
		}()
		opts = append(opts, pipeline.WithJournal(jw))
	}

	reconciler := pipeline.NewReconciler(st, hooks, opts...)
	reconciler.Start()
	defer reconciler.Close()

	pageBridge = bridge.New(reconciler)
	observer := capture.NewNetworkObserver(reconciler)
	defer observer.Close()
	scanner := capture.NewEmbeddedScanner(reconciler, cfg.ScanDelays)

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("Failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	tabRegistry := cdp.NewTabRegistry()
	cdpClient := cdp.NewClient(cfg, observer, scanner, pageBridge, tabRegistry)
	pageBridge.SetEvaluator(cdpClient)
	scanner.SetEvaluator(cdpClient)

	if err := cdpClient.Connect(ctx); err != nil {
		slog.Error("Failed to connect to browser", "error", err)
		slog.Info("Make sure Chromium is running with remote debugging enabled")
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Warn("CDP close failed", "error", err)
		}
	}()

	bindAddr, err := netutil.SelectBindAddr(cfg.APIBind, cfg.APIFallbackBinds, true)
	if err != nil {
		slog.Error("Failed to select API bind address", "preferred", cfg.APIBind, "error", err)
		os.Exit(1)
	}

	h := api.NewServer(api.Deps{
		Store:      st,
		Reconciler: reconciler,
		Broker:     broker,
		Tabs:       cdpClient,
	})
	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("API listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Watcher running", "tabs", cdpClient.TabCount(), "requests", st.Count())
	slog.Info("Press Ctrl+C to stop")

	<-sigCh
	slog.Info("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown failed", "error", err)
	}
	slog.Info("Watcher stopped")
}
