package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/simonjohansson/taskboard/internal/server"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newLoggedTestServer(t, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newLoggedTestServer(t *testing.T, logger *slog.Logger) *httptest.Server {
	t.Helper()
	app, err := server.New(context.Background(), server.Options{
		DSN:    filepath.Join(t.TempDir(), "board.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	httpServer := httptest.NewServer(app.Handler())
	t.Cleanup(httpServer.Close)
	return httpServer
}

func doJSON(t *testing.T, url, method string, payload any) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, reader io.Reader, out any) {
	t.Helper()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out), string(data))
}

func decodeMap(t *testing.T, reader io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	decodeInto(t, reader, &out)
	return out
}

func readBody(t *testing.T, reader io.Reader) []byte {
	t.Helper()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	return data
}

func createColumn(t *testing.T, baseURL, id, title, visibility string) {
	t.Helper()
	resp := doJSON(t, baseURL+"/boards/main/columns", http.MethodPost, map[string]any{
		"id":         id,
		"title":      title,
		"visibility": visibility,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(readBody(t, resp.Body)))
}

func createCard(t *testing.T, baseURL, id, columnID, title string) {
	t.Helper()
	resp := doJSON(t, baseURL+"/cards", http.MethodPost, map[string]any{
		"id":        id,
		"column_id": columnID,
		"title":     title,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(readBody(t, resp.Body)))
}
