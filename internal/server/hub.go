package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/simonjohansson/taskboard/internal/model"
)

type wsClient struct {
	conn  *websocket.Conn
	board string
	mu    sync.Mutex
}

type hub struct {
	upgrader   websocket.Upgrader
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan model.Event
	done       chan struct{}
	closeOnce  sync.Once
	clients    map[*wsClient]struct{}
	logger     *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	h := &hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan model.Event, 128),
		done:       make(chan struct{}),
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn, board: r.URL.Query().Get("board")}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- client:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := client.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish never blocks. When the queue is full the oldest event is dropped
// and a resync.required event takes its place so watchers refetch.
func (h *hub) Publish(event model.Event) {
	select {
	case h.broadcast <- event:
		return
	default:
	}
	select {
	case <-h.broadcast:
	default:
	}
	resync := model.Event{Type: model.EventTypeResyncRequired, Board: event.Board, Timestamp: event.Timestamp}
	select {
	case h.broadcast <- resync:
	default:
	}
}

func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.conn.Close()
			}
		case event := <-h.broadcast:
			for client := range h.clients {
				if client.board != "" && event.Board != "" && client.board != event.Board {
					continue
				}
				client.mu.Lock()
				_ = client.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				err := client.conn.WriteJSON(event)
				client.mu.Unlock()
				if err != nil {
					h.logger.Debug("websocket client dropped", "board", client.board, "error", err)
					delete(h.clients, client)
					_ = client.conn.Close()
				}
			}
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.Close()
			}
			return
		}
	}
}
