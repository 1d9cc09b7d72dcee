// Command plizard-host keeps the annotation popup's form state and drives
// the annotation page in Chrome over CDP. Clients talk to it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/13illydakid/p-lizard-ext/internal/automation"
	"github.com/13illydakid/p-lizard-ext/internal/automation/cdppage"
	"github.com/13illydakid/p-lizard-ext/internal/popup"
	"github.com/13illydakid/p-lizard-ext/internal/store"
	"github.com/13illydakid/p-lizard-ext/internal/tabexec"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := cfg.newLogger()
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		slog.Error("cannot create state dir", "dir", cfg.StateDir, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	surface, closeStore, err := openSurface(ctx, cfg)
	if err != nil {
		slog.Error("cannot open storage", "store", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if cfg.CDPURL != "" {
		slog.Info("connecting to Chrome", "url", cfg.CDPURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.CDPURL)
	} else {
		if err := os.MkdirAll(cfg.ProfileDir, 0755); err != nil {
			slog.Error("cannot create profile dir", "dir", cfg.ProfileDir, "err", err)
			os.Exit(1)
		}
		markCleanExit(cfg.ProfileDir)
		slog.Info("launching Chrome", "profile", cfg.ProfileDir, "headless", cfg.Headless)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserDataDir(cfg.ProfileDir),
			chromedp.Flag("disable-background-networking", false),
			chromedp.Flag("disable-default-apps", false),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("disable-popup-blocking", true),
		)
		if cfg.Headless {
			opts = append(opts, chromedp.Headless)
		} else {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()
	if err := chromedp.Run(browserCtx); err != nil {
		slog.Error("cannot start Chrome", "err", err)
		os.Exit(1)
	}

	executor := tabexec.New(browserCtx, tabexec.Options{
		PinnedTab: cfg.PinnedTab,
		Timeout:   cfg.ActionTimeout,
		Logger:    logger,
	})
	defer executor.Close()
	go executor.CleanStaleTabs(ctx, 30*time.Second)

	if cfg.CDPURL == "" && !cfg.NoRestore {
		restoreSession(ctx, executor, cfg.StateDir)
	}

	ctrl := popup.New(popup.Options{
		Store:     store.NewAdapter(surface),
		Tabs:      executor,
		Runner:    automation.New(cfg.Plan, logger),
		NewPage:   func() automation.Page { return cdppage.New("") },
		SaveDelay: cfg.SaveDelay,
		Logger:    logger,
	})
	if err := ctrl.Load(ctx); err != nil {
		slog.Error("cannot load form", "err", err)
		os.Exit(1)
	}

	var once sync.Once
	done := make(chan struct{})
	s := &Server{
		popup:         ctrl,
		tabs:          executor,
		cdpURL:        cfg.CDPURL,
		storeName:     cfg.StoreBackend,
		actionTimeout: cfg.ActionTimeout,
		history:       NewActionTracker(),
		shutdown:      func() { once.Do(func() { close(done) }) },
		log:           logger,
	}

	handler := corsMiddleware(authMiddleware(cfg.Token, loggingMiddleware(logger, s.routes())))
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := ctrl.Flush(sctx); err != nil {
			slog.Warn("flush pending save failed", "err", err)
		}
		if cfg.CDPURL == "" {
			saveSession(sctx, executor, cfg.StateDir)
		}
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
	}()

	slog.Info("plizard host running", "addr", "http://localhost:"+cfg.Port, "store", cfg.StoreBackend, "auth", cfg.Token != "")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// openSurface picks the storage backend named in the config.
func openSurface(ctx context.Context, cfg Config) (store.Surface, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := store.OpenPG(ctx, cfg.DatabaseURL, cfg.QuotaBytes)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case "memory":
		return store.NewMemorySurface(cfg.QuotaBytes), func() {}, nil
	default:
		path := filepath.Join(cfg.StateDir, "storage.json")
		return store.NewFileSurface(path, cfg.QuotaBytes), func() {}, nil
	}
}
