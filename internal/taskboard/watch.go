package taskboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func BuildWebsocketURL(serverURL string, board string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid server url")
	}

	wsScheme := "ws"
	switch parsed.Scheme {
	case "http":
	case "https":
		wsScheme = "wss"
	default:
		return "", fmt.Errorf("server url must start with http:// or https://")
	}

	wsURL := &url.URL{
		Scheme: wsScheme,
		Host:   parsed.Host,
		Path:   strings.TrimSuffix(parsed.Path, "/") + "/ws",
	}

	if value := strings.TrimSpace(board); value != "" {
		q := wsURL.Query()
		q.Set("board", value)
		wsURL.RawQuery = q.Encode()
	}

	return wsURL.String(), nil
}

func newWatchCommand(cfg *Config, stdout io.Writer) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"events"},
		Short:   "Stream board events over websocket.",
		Long:    "Connect to the server websocket and print board events until interrupted.",
		Example: strings.TrimSpace(`taskboard watch
taskboard watch --all
taskboard --output json watch`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			board := cfg.BoardID
			if all, _ := cmd.Flags().GetBool("all"); all {
				board = ""
			}
			wsURL, err := BuildWebsocketURL(cfg.ServerURL, board)
			if err != nil {
				return &cliError{status: http.StatusBadRequest, message: err.Error()}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchEvents(ctx, wsURL, cfg.Output, stdout)
		},
	}

	watchCmd.Flags().Bool("all", false, "Include events of every board")
	return watchCmd
}

func watchEvents(ctx context.Context, wsURL string, output Output, stdout io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &cliError{status: http.StatusBadGateway, message: err.Error()}
	}
	defer conn.Close()

	// ReadJSON does not observe ctx; closing the socket unblocks it.
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interrupt"),
			time.Now().Add(500*time.Millisecond),
		)
		_ = conn.Close()
	}()

	for {
		var event map[string]any
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &cliError{status: http.StatusBadGateway, message: err.Error()}
		}

		line, err := FormatWatchLine(output, event)
		if err != nil {
			return &cliError{status: http.StatusInternalServerError, message: err.Error()}
		}
		if _, err := fmt.Fprintln(stdout, line); err != nil {
			return &cliError{status: http.StatusInternalServerError, message: err.Error()}
		}
	}
}
