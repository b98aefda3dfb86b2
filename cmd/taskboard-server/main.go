package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/simonjohansson/taskboard/internal/server"
	"github.com/simonjohansson/taskboard/internal/store"
	"github.com/simonjohansson/taskboard/pkg/boardconfig"
)

const defaultListenAddr = "127.0.0.1:8080"

type runtimeDefaults struct {
	Addr      string
	Driver    string
	DSN       string
	BoardID   string
	BoardName string
}

func loadRuntimeDefaults(home string) (runtimeDefaults, error) {
	cfg, err := boardconfig.LoadOrInit(home)
	if err != nil {
		return runtimeDefaults{}, err
	}
	return runtimeDefaults{
		Addr:      addrFromServerURL(cfg.ServerURL),
		Driver:    cfg.Backend.Driver,
		DSN:       cfg.Backend.DSN,
		BoardID:   cfg.Backend.BoardID,
		BoardName: cfg.Backend.BoardName,
	}, nil
}

func addrFromServerURL(serverURL string) string {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil || u.Host == "" {
		return defaultListenAddr
	}
	if _, _, err := net.SplitHostPort(u.Host); err == nil {
		return u.Host
	}
	if u.Scheme == "https" {
		return net.JoinHostPort(u.Host, "443")
	}
	return net.JoinHostPort(u.Host, "80")
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("read .env failed", "error", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		logger.Error("resolve home dir failed", "error", err)
		os.Exit(1)
	}
	defaults, err := loadRuntimeDefaults(home)
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if dsn := strings.TrimSpace(os.Getenv("TASKBOARD_DSN")); dsn != "" {
		defaults.DSN = dsn
	}

	var opts runtimeDefaults
	flag.StringVar(&opts.Addr, "addr", defaults.Addr, "server listen address")
	flag.StringVar(&opts.Driver, "driver", defaults.Driver, "store driver: sqlite or pgx")
	flag.StringVar(&opts.DSN, "dsn", defaults.DSN, "sqlite file path or postgres connection string")
	flag.StringVar(&opts.BoardID, "board", defaults.BoardID, "board id")
	flag.StringVar(&opts.BoardName, "board-name", defaults.BoardName, "board name used when the board is first created")
	flag.Parse()

	if opts.Driver == "" || opts.Driver == store.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(opts.DSN), 0o755); err != nil {
			logger.Error("create sqlite parent dir failed", "error", err)
			os.Exit(1)
		}
	}

	app, err := server.New(context.Background(), server.Options{
		Driver:    opts.Driver,
		DSN:       opts.DSN,
		BoardID:   opts.BoardID,
		BoardName: opts.BoardName,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("init server failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("close server failed", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("starting taskboard server", "addr", opts.Addr, "driver", opts.Driver, "board", opts.BoardID)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	if err := httpServer.Close(); err != nil {
		logger.Error("http server close failed", "error", err)
	}
	logger.Info("server stopped")
}
