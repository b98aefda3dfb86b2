package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/service"
	"github.com/simonjohansson/taskboard/internal/store"
)

const (
	DefaultBoardID   = "main"
	DefaultBoardName = "Board"
)

type Options struct {
	// Driver is "sqlite" (default) or "pgx".
	Driver    string
	DSN       string
	BoardID   string
	BoardName string
	// PresenceWindow bounds how old a heartbeat may be and still be listed.
	PresenceWindow time.Duration
	Logger         *slog.Logger
}

type Server struct {
	store   *store.SQLStore
	service *service.Service
	hub     *hub
	logger  *slog.Logger
	router  *chi.Mux
	api     huma.API
}

func New(ctx context.Context, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	boardID := strings.TrimSpace(opts.BoardID)
	if boardID == "" {
		boardID = DefaultBoardID
	}
	boardName := strings.TrimSpace(opts.BoardName)
	if boardName == "" {
		boardName = DefaultBoardName
	}

	sqlStore, err := store.Open(ctx, opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}
	if _, err := sqlStore.EnsureBoard(ctx, boardID, boardName); err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	h := newHub(logger)
	s := &Server{
		store: sqlStore,
		service: service.New(service.Options{
			Store:          sqlStore,
			Publisher:      h,
			Logger:         logger,
			PresenceWindow: opts.PresenceWindow,
		}),
		hub:    h,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.routes()
	s.hub.Publish(model.Event{Type: model.EventTypeBoardBootstrapped, Board: boardID, Timestamp: time.Now().UTC()})
	s.logger.Info("server initialized", "driver", opts.Driver, "board", boardID)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.api.OpenAPI()
}

func (s *Server) Close() error {
	s.hub.Close()
	return s.store.Close()
}

func (s *Server) routes() {
	s.router.Use(s.requestLoggingMiddleware)

	config := huma.DefaultConfig("Taskboard API", "1.0.0")
	config.OpenAPIPath = "/openapi"
	config.DocsPath = ""

	s.api = humachi.New(s.router, config)
	s.registerOperations()
	s.registerWebSocketOperationDocs()

	s.router.Get("/ws", s.hub.ServeWS)
}

func (s *Server) registerOperations() {
	huma.Get(s.api, "/health", s.health)

	s.registerBoardOperations()
	s.registerCardOperations()
	s.registerRecordOperations()
}

func (s *Server) registerWebSocketOperationDocs() {
	oapi := s.api.OpenAPI()
	if oapi.Paths == nil {
		oapi.Paths = map[string]*huma.PathItem{}
	}
	oapi.Paths["/ws"] = &huma.PathItem{
		Get: &huma.Operation{
			OperationID: "websocketEvents",
			Summary:     "Websocket event stream",
			Description: "Subscribe to board events. The optional board query param filters by board id.",
			Responses: map[string]*huma.Response{
				"101": {Description: "Switching protocols to websocket"},
			},
		},
	}
}

type healthOutput struct {
	Body struct {
		Ok bool `json:"ok"`
	}
}

func (s *Server) health(_ context.Context, _ *struct{}) (*healthOutput, error) {
	out := &healthOutput{}
	out.Body.Ok = true
	return out, nil
}
