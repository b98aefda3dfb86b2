package storeclient_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/server"
	"github.com/simonjohansson/taskboard/internal/storeclient"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *storeclient.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := server.New(context.Background(), server.Options{
		DSN:    filepath.Join(t.TempDir(), "board.db"),
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	httpServer := httptest.NewServer(app.Handler())
	t.Cleanup(httpServer.Close)

	client, err := storeclient.NewClient(httpServer.URL, "main", storeclient.WithLogger(logger))
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := storeclient.NewClient("", "main")
	require.Error(t, err)
	_, err = storeclient.NewClient("ftp://example.com", "main")
	require.Error(t, err)
	_, err = storeclient.NewClient("http://example.com", " ")
	require.Error(t, err)

	client, err := storeclient.NewClient("http://example.com/api", "main")
	require.NoError(t, err)
	require.Equal(t, "main", client.BoardID())
}

func TestClientBoardRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newClient(t)

	board, err := client.GetBoard(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, "main", board.ID)

	limit := 3
	_, err = client.CreateColumn(ctx, model.Column{ID: "todo", Title: "Todo", Visibility: model.VisibilityOpen, Position: -1, CardLimit: &limit})
	require.NoError(t, err)
	_, err = client.CreateColumn(ctx, model.Column{ID: "done", Title: "Done", Position: -1})
	require.NoError(t, err)

	due := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	card, err := client.CreateCard(ctx, model.Card{ID: "c1", ColumnID: "todo", Title: "First", Position: -1, DueAt: &due, Labels: []string{"x"}})
	require.NoError(t, err)
	require.Equal(t, "c1", card.ID)
	require.Equal(t, 0, card.Position)
	_, err = client.CreateCard(ctx, model.Card{ID: "c2", ColumnID: "todo", Title: "Second", Position: -1})
	require.NoError(t, err)

	title := "First!"
	updated, found, err := client.UpdateCard(ctx, "c1", model.CardPatch{Title: &title})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "First!", updated.Title)

	_, found, err = client.UpdateCard(ctx, "ghost", model.CardPatch{Title: &title})
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, client.BatchUpdateCardPositions(ctx, []model.CardPosition{
		{ID: "c2", Position: 0},
		{ID: "c1", ColumnID: "done", Position: 0},
	}))
	require.NoError(t, client.BatchUpdateColumnPositions(ctx, []model.ColumnPosition{
		{ID: "done", Position: 0},
		{ID: "todo", Position: 1},
	}))

	columns, err := client.ListColumns(ctx, "main")
	require.NoError(t, err)
	require.Len(t, columns, 2)
	require.Equal(t, "done", columns[0].ID)
	require.Equal(t, []string{"c1"}, columns[0].CardIDs())
	require.Equal(t, []string{"c2"}, columns[1].CardIDs())
	require.NotNil(t, columns[1].CardLimit)
	require.Equal(t, 3, *columns[1].CardLimit)
	require.True(t, due.Equal(*columns[0].Cards[0].DueAt))

	newTitle := "Finished"
	col, found, err := client.UpdateColumn(ctx, "done", model.ColumnPatch{Title: &newTitle})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Finished", col.Title)

	found, err = client.DeleteCard(ctx, "c2")
	require.NoError(t, err)
	require.True(t, found)
	found, err = client.DeleteCard(ctx, "c2")
	require.NoError(t, err)
	require.False(t, found)

	found, err = client.DeleteColumn(ctx, "done")
	require.NoError(t, err)
	require.True(t, found)
	found, err = client.DeleteColumn(ctx, "done")
	require.NoError(t, err)
	require.False(t, found)
}

func TestClientSurfacesStatusErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newClient(t)

	_, err := client.CreateCard(ctx, model.Card{ID: "c1", ColumnID: "missing", Title: "x", Position: -1})
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, storeclient.StatusOf(err))

	err = client.BatchUpdateCardPositions(ctx, []model.CardPosition{{ID: "ghost", Position: 0}})
	require.Equal(t, http.StatusNotFound, storeclient.StatusOf(err))

	_, err = client.CreateColumn(ctx, model.Column{ID: "todo", Title: "Todo", Position: -1})
	require.NoError(t, err)
	_, err = client.CreateColumn(ctx, model.Column{ID: "todo", Title: "Todo", Position: -1})
	require.Equal(t, http.StatusConflict, storeclient.StatusOf(err))
	require.Contains(t, err.Error(), "409")
}

func TestClientRecordsSettingsPresence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newClient(t)

	rec := model.ActionRecord{
		ID:        "01HZX0000000000000000000AA",
		CardID:    "c1",
		ActorID:   "u1",
		ActorName: "Ada",
		Kind:      model.ActionMoved,
		Detail:    json.RawMessage(`{"from_column_id":"todo","to_column_id":"done"}`),
		CreatedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	created, err := client.CreateActionRecord(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)
	created, err = client.CreateActionRecord(ctx, rec)
	require.NoError(t, err)
	require.False(t, created)

	records, err := client.ListActionRecords(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.JSONEq(t, string(rec.Detail), string(records[0].Detail))
	require.True(t, rec.CreatedAt.Equal(records[0].CreatedAt))

	_, found, err := client.GetSetting(ctx, "theme")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, client.SetSetting(ctx, "theme", "dark"))
	value, found, err := client.GetSetting(ctx, "theme")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "dark", value)

	require.NoError(t, client.Heartbeat(ctx, model.Presence{ViewerID: "u1", DisplayName: "Ada", Role: model.RoleModerator}))
	present, err := client.ListPresence(ctx, "main")
	require.NoError(t, err)
	require.Len(t, present, 1)
	require.Equal(t, model.RoleModerator, present[0].Role)

	require.NoError(t, client.Depart(ctx, "main", "u1"))
	present, err = client.ListPresence(ctx, "main")
	require.NoError(t, err)
	require.Empty(t, present)
}

func TestClientEscapesPathParams(t *testing.T) {
	t.Parallel()

	var gotPath string
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":"a b/c","value":"v"}`))
	}))
	t.Cleanup(httpServer.Close)

	client, err := storeclient.NewClient(httpServer.URL, "main")
	require.NoError(t, err)
	value, found, err := client.GetSetting(context.Background(), "a b/c")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", value)
	require.Equal(t, "/settings/a%20b%2Fc", gotPath)
}
