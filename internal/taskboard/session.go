package taskboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/simonjohansson/taskboard/internal/broadcast"
	"github.com/simonjohansson/taskboard/internal/engine"
	"github.com/simonjohansson/taskboard/internal/fallback"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/storeclient"
)

const sessionTimeout = 30 * time.Second

// session is one CLI invocation acting as a viewer: an engine backed by the
// HTTP store client, the local fallback cache and, when configured, the
// Redis channel shared with the viewer's other sessions.
type session struct {
	engine *engine.Engine
	client *storeclient.Client
	cache  *fallback.DB
	bus    *broadcast.RedisBus
	stderr io.Writer
	logger *slog.Logger
}

func newSessionLogger(stderr io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openSession(ctx context.Context, cfg Config, stderr io.Writer) (*session, error) {
	logger := newSessionLogger(stderr)
	viewer := model.Viewer{
		ID:          strings.TrimSpace(cfg.ViewerID),
		DisplayName: strings.TrimSpace(cfg.ViewerName),
		Role:        model.Role(strings.TrimSpace(cfg.Role)),
	}

	client, err := storeclient.NewClient(cfg.ServerURL, cfg.BoardID, storeclient.WithLogger(logger))
	if err != nil {
		return nil, &cliError{status: http.StatusBadRequest, message: err.Error()}
	}

	s := &session{client: client, stderr: stderr, logger: logger}
	if strings.TrimSpace(cfg.CachePath) != "" {
		if err := os.MkdirAll(cfg.CachePath, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir failed: %w", err)
		}
		s.cache, err = fallback.Open(cfg.CachePath, logger)
	} else {
		s.cache, err = fallback.OpenInMemory(logger)
	}
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		BoardID:           cfg.BoardID,
		Viewer:            viewer,
		Store:             client,
		Cache:             s.cache.For(cfg.BoardID, viewer.ID),
		ReconcileInterval: cfg.ReconcileInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
	}
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		bus, err := broadcast.NewRedisBus(url, broadcast.Name(cfg.BoardID, viewer.ID), logger)
		if err != nil {
			logger.Warn("cross-session channel disabled", "error", err)
		} else {
			s.bus = bus
			opts.Bus = bus
		}
	}

	s.engine, err = engine.New(opts)
	if err != nil {
		s.release()
		return nil, err
	}
	if err := s.engine.Start(ctx); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

// finish drains pending writes and shuts the session down. A session that
// ended degraded says so on stderr; its changes only reached the cache.
func (s *session) finish(ctx context.Context) error {
	flushErr := s.engine.Flush(ctx)
	if s.engine.State() == engine.StateDegraded {
		_, _ = fmt.Fprintln(s.stderr, "warning: server unreachable, changes kept in local cache")
	}
	s.release()
	return flushErr
}

func (s *session) release() {
	if s.engine != nil {
		_ = s.engine.Close()
	}
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("close fallback cache failed", "error", err)
		}
	}
}

// withSession runs fn inside a session and maps its failure to a cliError.
func withSession(cfg *Config, stderr io.Writer, fn func(ctx context.Context, eng *engine.Engine) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
	defer cancel()

	s, err := openSession(ctx, *cfg, stderr)
	if err != nil {
		return toCLIError(err)
	}
	runErr := fn(ctx, s.engine)
	finishErr := s.finish(ctx)
	return toCLIError(errors.Join(runErr, finishErr))
}
