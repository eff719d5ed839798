package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/echoscope/echoscope/server/internal/alerts"
	"github.com/echoscope/echoscope/server/internal/analysis"
	"github.com/echoscope/echoscope/server/internal/api"
	"github.com/echoscope/echoscope/server/internal/auth"
	"github.com/echoscope/echoscope/server/internal/config"
	"github.com/echoscope/echoscope/server/internal/history"
	"github.com/echoscope/echoscope/server/internal/metrics"
	"github.com/echoscope/echoscope/server/internal/report"
	"github.com/echoscope/echoscope/server/internal/store"
	"github.com/echoscope/echoscope/server/internal/ws"
)

// retentionInterval is how often expired reports are pruned.
const retentionInterval = time.Hour

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional KEY=value file loaded before the config")
	uiDir := flag.String("ui-dir", "", "serve static UI files from this directory; leave empty to disable")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("echoscope-server starting", "config", *configPath)

	if err := config.LoadEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "err", err)
		os.Exit(1)
	}

	cfg, fromFile, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"reports_dir", sc.ReportsDir,
		"auth_mode", sc.Auth.Mode,
		"snapshot_ttl", sc.Snapshot.TTL,
		"storage", sc.Storage.Backend,
		"alert_rules", len(sc.Alerts.Rules),
	)
	if sc.Auth.Mode == "apikey" && sc.Auth.Key() == "" {
		slog.Warn("auth mode is apikey but the key is empty; mutating routes are open",
			"key_env", sc.Auth.KeyEnv)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	writer, err := report.NewWriter(sc.ReportsDir)
	if err != nil {
		slog.Error("failed to open reports dir", "err", err)
		os.Exit(1)
	}

	// Optional SQLite history index.
	var index *history.Index
	if sc.Storage.Enabled() {
		index, err = history.Open(ctx, sc.Storage.Path)
		if err != nil {
			slog.Error("failed to open history index", "path", sc.Storage.Path, "err", err)
			os.Exit(1)
		}
		defer index.Close()
		slog.Info("history index open", "path", sc.Storage.Path)
	}

	// Latest report per source with background TTL eviction.
	st := store.New(sc.Snapshot.TTL)
	go st.Run(ctx)

	reg := metrics.New()
	alertEngine := alerts.New(sc.Alerts)

	policy := sc.Scoring.Policy()
	svcOpts := analysis.Options{
		Writer:  writer,
		Store:   st,
		Alerts:  alertEngine,
		Metrics: reg,
		Policy:  &policy,
	}
	if index != nil {
		svcOpts.Index = index
	}
	svc, err := analysis.New(svcOpts)
	if err != nil {
		slog.Error("failed to build analysis service", "err", err)
		os.Exit(1)
	}

	// WebSocket hub: periodic snapshots plus a push per new report.
	hub := ws.New(st, sc.WS.Interval, svc.Policy)
	svc.SetNotifier(hub)
	go hub.Run(ctx)

	// Hot-reload the scoring policy when the config file changes.
	if fromFile {
		go func() {
			err := config.Watch(ctx, *configPath, func(c *config.Config) {
				if err := svc.SetPolicy(c.Server.Scoring.Policy()); err != nil {
					slog.Error("config: scoring policy rejected", "err", err)
					return
				}
				slog.Info("config: scoring policy updated")
			})
			if err != nil {
				slog.Error("config watch stopped", "err", err)
			}
		}()
	}

	if sc.Storage.Retention > 0 {
		go runRetention(ctx, sc.Storage.Retention, writer, index)
	}

	apiOpts := api.Options{
		Store:        st,
		Analyzer:     svc,
		Reports:      writer,
		Alerts:       alertEngine,
		MaxBodyBytes: sc.Upload.MaxBytes,
		Protect:      auth.APIKey(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key()),
	}
	if index != nil {
		apiOpts.History = index
	}

	// Combined HTTP server: REST API, WebSocket feed and metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(apiOpts))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", reg)

	// Optional static UI. Unknown paths fall back to index.html.
	if *uiDir != "" {
		files := http.FileServer(http.Dir(*uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			p := filepath.Join(*uiDir, filepath.Clean("/"+r.URL.Path))
			if _, err := os.Stat(p); os.IsNotExist(err) {
				http.ServeFile(w, r, filepath.Join(*uiDir, "index.html"))
				return
			}
			files.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("echoscope-server shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	alertEngine.Wait()
}

// loadConfig reads path, or falls back to defaults when the file does not
// exist. The bool reports whether a file was read.
func loadConfig(path string) (*config.Config, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), false, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// runRetention deletes reports older than retention from the report
// directory and the history index, once at start and then hourly.
func runRetention(ctx context.Context, retention time.Duration, w *report.Writer, index *history.Index) {
	prune := func() {
		cutoff := time.Now().Add(-retention)
		files, err := w.Prune(cutoff)
		if err != nil {
			slog.Error("retention: prune reports", "err", err)
		}
		var rows int
		if index != nil {
			if rows, err = index.Prune(ctx, cutoff); err != nil {
				slog.Error("retention: prune index", "err", err)
			}
		}
		if files > 0 || rows > 0 {
			slog.Info("retention: pruned", "files", files, "rows", rows, "cutoff", cutoff)
		}
	}

	prune()
	t := time.NewTicker(retentionInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}
