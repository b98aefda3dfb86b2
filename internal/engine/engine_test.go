package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/simonjohansson/taskboard/internal/broadcast"
	"github.com/simonjohansson/taskboard/internal/engine"
	"github.com/simonjohansson/taskboard/internal/fallback"
	"github.com/simonjohansson/taskboard/internal/ledger"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/store"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("dial tcp: connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	admin     = model.Viewer{ID: "u-admin", DisplayName: "Ada", Role: model.RoleAdmin}
	moderator = model.Viewer{ID: "u-mod", DisplayName: "Mo", Role: model.RoleModerator}
	visitor   = model.Viewer{ID: "u-visitor", DisplayName: "Vi", Role: model.RoleDefault}
)

// newSeededStore returns a sqlite store with columns todo (open, c1..c3),
// staff (restricted, s1) and done (open, empty).
func newSeededStore(t *testing.T) *store.SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "board.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.EnsureBoard(ctx, "main", "Main")
	require.NoError(t, err)

	for _, col := range []model.Column{
		{ID: "todo", Title: "To Do", Visibility: model.VisibilityOpen},
		{ID: "staff", Title: "Staff Planning", Visibility: model.VisibilityRestricted},
		{ID: "done", Title: "Done", Visibility: model.VisibilityOpen},
	} {
		col.BoardID = "main"
		col.Position = -1
		_, err := s.CreateColumn(ctx, col)
		require.NoError(t, err)
	}
	for _, card := range []model.Card{
		{ID: "c1", ColumnID: "todo", Title: "One"},
		{ID: "c2", ColumnID: "todo", Title: "Two"},
		{ID: "c3", ColumnID: "todo", Title: "Three"},
		{ID: "s1", ColumnID: "staff", Title: "Rota"},
	} {
		card.Position = -1
		_, err := s.CreateCard(ctx, card)
		require.NoError(t, err)
	}
	return s
}

func startEngine(t *testing.T, opts engine.Options) *engine.Engine {
	t.Helper()
	if opts.BoardID == "" {
		opts.BoardID = "main"
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.ReconcileInterval == 0 {
		opts.ReconcileInterval = time.Hour
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	e, err := engine.New(opts)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func flush(t *testing.T, e *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
}

func column(t *testing.T, snap model.Snapshot, id string) model.Column {
	t.Helper()
	idx := snap.ColumnIndex(id)
	require.GreaterOrEqual(t, idx, 0, "column %s not in snapshot", id)
	return snap.Columns[idx]
}

func cardPositions(col model.Column) []int {
	out := make([]int, len(col.Cards))
	for i, card := range col.Cards {
		out[i] = card.Position
	}
	return out
}

func storeColumn(t *testing.T, s *store.SQLStore, id string) model.Column {
	t.Helper()
	columns, err := s.ListColumns(context.Background(), "main")
	require.NoError(t, err)
	for _, col := range columns {
		if col.ID == id {
			return col
		}
	}
	t.Fatalf("column %s not in store", id)
	return model.Column{}
}

func TestNewRequiresBoard(t *testing.T) {
	t.Parallel()

	_, err := engine.New(engine.Options{})
	require.ErrorIs(t, err, engine.ErrInvalid)
}

func TestStartLoadsFromStore(t *testing.T) {
	t.Parallel()

	e := startEngine(t, engine.Options{Store: newSeededStore(t), Viewer: admin})
	require.Equal(t, engine.StateReady, e.State())

	snap := e.Snapshot()
	require.Equal(t, "Main", snap.Board.Name)
	require.Len(t, snap.Columns, 3)
	require.Equal(t, []string{"c1", "c2", "c3"}, column(t, snap, "todo").CardIDs())
}

func TestStartWithoutStoreOrCacheIsEmptyAndReady(t *testing.T) {
	t.Parallel()

	e := startEngine(t, engine.Options{Viewer: admin})
	require.Equal(t, engine.StateReady, e.State())
	snap := e.Snapshot()
	require.Equal(t, "main", snap.Board.ID)
	require.Empty(t, snap.Columns)
}

func TestStartFallsBackToCachedSnapshot(t *testing.T) {
	t.Parallel()

	db, err := fallback.OpenInMemory(discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cache := db.For("main", admin.ID)
	cached := model.Snapshot{
		Board:   model.Board{ID: "main", Name: "Cached"},
		Columns: []model.Column{{ID: "todo", BoardID: "main", Title: "To Do", Visibility: model.VisibilityOpen}},
	}
	require.NoError(t, cache.Save(context.Background(), cached))

	stub := &storeStub{
		getBoardFn: func(context.Context, string) (model.Board, error) {
			return model.Board{}, errUnreachable
		},
		heartbeatFn: func(context.Context, model.Presence) error { return errUnreachable },
	}
	e := startEngine(t, engine.Options{Store: stub, Cache: cache, Viewer: admin})

	require.Equal(t, engine.StateDegraded, e.State())
	require.Equal(t, "Cached", e.Snapshot().Board.Name)
	require.Len(t, e.Snapshot().Columns, 1)
}

func TestStartUnreachableWithoutCacheServesEmptyBoard(t *testing.T) {
	t.Parallel()

	stub := &storeStub{
		listColumnsFn: func(context.Context, string) ([]model.Column, error) {
			return nil, errUnreachable
		},
		heartbeatFn: func(context.Context, model.Presence) error { return errUnreachable },
	}
	e := startEngine(t, engine.Options{Store: stub, Viewer: admin})
	require.Equal(t, engine.StateDegraded, e.State())
	require.Empty(t, e.Snapshot().Columns)
}

func TestReorderWithinColumnRecordsNothing(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})

	require.NoError(t, e.MoveCard(context.Background(), "c3", "todo", 0))

	todo := column(t, e.Snapshot(), "todo")
	require.Equal(t, []string{"c3", "c1", "c2"}, todo.CardIDs())
	require.Equal(t, []int{0, 1, 2}, cardPositions(todo))

	flush(t, e)
	stored := storeColumn(t, s, "todo")
	require.Equal(t, []string{"c3", "c1", "c2"}, stored.CardIDs())
	require.Equal(t, []int{0, 1, 2}, cardPositions(stored))

	history, err := e.History(context.Background(), "c3")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestMoveToSameIndexIsNoop(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})
	before := e.Snapshot()

	var notified atomic.Int32
	cancel := e.Subscribe(func(model.Snapshot) { notified.Add(1) })
	defer cancel()

	require.NoError(t, e.MoveCard(context.Background(), "c2", "todo", 1))
	flush(t, e)

	require.Equal(t, before, e.Snapshot())
	require.Zero(t, notified.Load())
	history, err := e.History(context.Background(), "c2")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestCrossColumnMoveRecordsOneMovedAction(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})

	require.NoError(t, e.MoveCard(context.Background(), "c1", "done", 5))

	snap := e.Snapshot()
	require.Equal(t, []string{"c2", "c3"}, column(t, snap, "todo").CardIDs())
	require.Equal(t, []int{0, 1}, cardPositions(column(t, snap, "todo")))
	done := column(t, snap, "done")
	require.Equal(t, []string{"c1"}, done.CardIDs())
	require.Equal(t, 0, done.Cards[0].Position)
	require.Equal(t, "done", done.Cards[0].ColumnID)

	flush(t, e)
	require.Equal(t, []string{"c1"}, storeColumn(t, s, "done").CardIDs())

	records, err := s.ListActionRecords(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, model.ActionMoved, records[0].Kind)
	require.Equal(t, admin.ID, records[0].ActorID)
	entry := ledger.Decode(records[0])
	require.Equal(t, "todo", entry.Detail.FromColumnID)
	require.Equal(t, "Done", entry.Detail.ToColumnTitle)
}

func TestModeratorCannotMoveIntoOpenColumn(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	stub := &storeStub{
		listColumnsFn: func(context.Context, string) ([]model.Column, error) {
			return []model.Column{
				{ID: "staff", Title: "Staff Planning", Visibility: model.VisibilityRestricted, Position: 0,
					Cards: []model.Card{{ID: "s1", ColumnID: "staff", Title: "Rota"}}},
				{ID: "todo", Title: "To Do", Visibility: model.VisibilityOpen, Position: 1},
			}, nil
		},
		batchCardsFn: func(context.Context, []model.CardPosition) error {
			requests.Add(1)
			return nil
		},
		createRecordFn: func(context.Context, model.ActionRecord) (bool, error) {
			requests.Add(1)
			return true, nil
		},
	}
	e := startEngine(t, engine.Options{Store: stub, Viewer: moderator})
	before := e.Snapshot()

	err := e.MoveCard(context.Background(), "s1", "todo", 0)
	require.ErrorIs(t, err, engine.ErrDenied)
	flush(t, e)

	require.Equal(t, before, e.Snapshot())
	require.Zero(t, requests.Load())
}

func TestRolesGateMutations(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	ctx := context.Background()

	visitorSession := startEngine(t, engine.Options{Store: s, Viewer: visitor})
	snap := visitorSession.Snapshot()
	require.Len(t, snap.Columns, 2)
	require.Equal(t, -1, snap.ColumnIndex("staff"))
	_, err := visitorSession.CreateCard(ctx, "todo", "Nope")
	require.ErrorIs(t, err, engine.ErrDenied)
	require.ErrorIs(t, visitorSession.MoveCard(ctx, "c1", "todo", 2), engine.ErrDenied)
	_, err = visitorSession.CreateColumn(ctx, "Nope", model.VisibilityOpen, nil)
	require.ErrorIs(t, err, engine.ErrDenied)

	modSession := startEngine(t, engine.Options{Store: s, Viewer: moderator})
	_, err = modSession.CreateCard(ctx, "todo", "Into open")
	require.ErrorIs(t, err, engine.ErrDenied)
	_, err = modSession.CreateCard(ctx, "staff", "Into restricted")
	require.NoError(t, err)
	_, err = modSession.CreateColumn(ctx, "Secret", model.VisibilityAdminOnly, nil)
	require.ErrorIs(t, err, engine.ErrDenied)
	admins := model.VisibilityAdminOnly
	_, err = modSession.UpdateColumn(ctx, "staff", model.ColumnPatch{Visibility: &admins})
	require.ErrorIs(t, err, engine.ErrDenied)
	require.NoError(t, modSession.MoveCard(ctx, "c1", "staff", 0))
}

func TestUpdateTitleRecordsOneEditedAction(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})
	ctx := context.Background()

	title := "One, renamed"
	updated, err := e.UpdateCard(ctx, "c1", model.CardPatch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)

	// the same patch again changes nothing
	_, err = e.UpdateCard(ctx, "c1", model.CardPatch{Title: &title})
	require.NoError(t, err)
	flush(t, e)

	records, err := s.ListActionRecords(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, model.ActionEdited, records[0].Kind)
	var detail struct {
		Field string `json:"field"`
		Old   string `json:"old"`
		New   string `json:"new"`
	}
	require.NoError(t, json.Unmarshal(records[0].Detail, &detail))
	require.Equal(t, "title", detail.Field)
	require.Equal(t, "One", detail.Old)
	require.Equal(t, "One, renamed", detail.New)

	card, err := s.GetCard(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, title, card.Title)
}

func TestHistoryHidesColumnsTheViewerCannotSee(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	ctx := context.Background()
	adminSession := startEngine(t, engine.Options{Store: s, Viewer: admin})

	title := "Layoffs list"
	_, err := adminSession.UpdateCard(ctx, "s1", model.CardPatch{Title: &title})
	require.NoError(t, err)
	require.NoError(t, adminSession.MoveCard(ctx, "c1", "staff", 0))
	require.NoError(t, adminSession.MoveCard(ctx, "c1", "done", 0))
	flush(t, adminSession)

	visitorSession := startEngine(t, engine.Options{Store: s, Viewer: visitor})
	require.Equal(t, -1, visitorSession.Snapshot().ColumnIndex("staff"))

	entries, err := visitorSession.History(ctx, "s1")
	require.ErrorIs(t, err, engine.ErrNotFound)
	require.Empty(t, entries)

	entries, err = visitorSession.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, model.ActionMoved, entries[0].Record.Kind)
	require.Empty(t, entries[0].Detail.FromColumnID)
	require.Empty(t, entries[0].Detail.FromColumnTitle)
	require.Equal(t, "Done", entries[0].Detail.ToColumnTitle)
	require.Equal(t, "To Do", entries[1].Detail.FromColumnTitle)
	require.Empty(t, entries[1].Detail.ToColumnTitle)
	for _, entry := range entries {
		require.NotContains(t, string(entry.Record.Detail), "Staff Planning")
	}

	entries, err = adminSession.History(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Staff Planning", entries[0].Detail.FromColumnTitle)

	modSession := startEngine(t, engine.Options{Store: s, Viewer: moderator})
	entries, err = modSession.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Layoffs list", entries[0].Detail.New)
}

func TestCardDetailOperations(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})
	ctx := context.Background()

	require.NoError(t, e.AddMember(ctx, "c2", "grace"))
	require.NoError(t, e.AddMember(ctx, "c2", "grace"))
	require.NoError(t, e.AddAttachment(ctx, "c2", model.Attachment{ID: "a1", URL: "https://files.example/a1", Size: 12, MimeType: "text/plain"}))
	require.NoError(t, e.RemoveAttachment(ctx, "c2", "a1"))
	require.ErrorIs(t, e.RemoveAttachment(ctx, "c2", "a1"), engine.ErrNotFound)
	require.NoError(t, e.RemoveMember(ctx, "c2", "grace"))
	flush(t, e)

	history, err := e.History(ctx, "c2")
	require.NoError(t, err)
	kinds := make([]model.ActionKind, len(history))
	for i, entry := range history {
		kinds[i] = entry.Record.Kind
	}
	require.Equal(t, []model.ActionKind{
		model.ActionMemberRemoved,
		model.ActionAttachmentRemoved,
		model.ActionAttachmentAdded,
		model.ActionMemberAdded,
	}, kinds)

	card, err := s.GetCard(ctx, "c2")
	require.NoError(t, err)
	require.Empty(t, card.Members)
	require.Empty(t, card.Attachments)
}

func TestColumnOperations(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})
	ctx := context.Background()

	limit := 1
	col, err := e.CreateColumn(ctx, "Review", model.VisibilityRestricted, &limit)
	require.NoError(t, err)
	require.Equal(t, 3, col.Position)

	_, err = e.CreateCard(ctx, col.ID, "First")
	require.NoError(t, err)
	_, err = e.CreateCard(ctx, col.ID, "Second")
	require.ErrorIs(t, err, engine.ErrColumnFull)
	require.ErrorIs(t, e.MoveCard(ctx, "c1", col.ID, 0), engine.ErrColumnFull)

	require.NoError(t, e.ReorderColumn(ctx, col.ID, 0))
	title := "In review"
	_, err = e.UpdateColumn(ctx, col.ID, model.ColumnPatch{Title: &title, ClearLimit: true})
	require.NoError(t, err)
	require.NoError(t, e.DeleteColumn(ctx, "staff"))

	snap := e.Snapshot()
	ids := make([]string, len(snap.Columns))
	for i, c := range snap.Columns {
		ids[i] = c.ID
		require.Equal(t, i, c.Position)
	}
	require.Equal(t, []string{col.ID, "todo", "done"}, ids)

	flush(t, e)
	columns, err := s.ListColumns(ctx, "main")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	require.Equal(t, col.ID, columns[0].ID)
	require.Equal(t, "In review", columns[0].Title)
	require.Nil(t, columns[0].CardLimit)
	require.Len(t, columns[0].Cards, 1)
	_, err = s.GetCard(ctx, "s1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRandomMutationsKeepPositionsDense(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	columnIDs := []string{"todo", "staff", "done"}

	for i := 0; i < 60; i++ {
		snap := e.Snapshot()
		var cards []string
		for _, col := range snap.Columns {
			cards = append(cards, col.CardIDs()...)
		}
		switch op := rng.Intn(4); {
		case op == 0 || len(cards) == 0:
			_, err := e.CreateCard(ctx, columnIDs[rng.Intn(len(columnIDs))], fmt.Sprintf("card %d", i))
			require.NoError(t, err)
		case op == 1 && len(cards) > 3:
			require.NoError(t, e.DeleteCard(ctx, cards[rng.Intn(len(cards))]))
		default:
			require.NoError(t, e.MoveCard(ctx, cards[rng.Intn(len(cards))], columnIDs[rng.Intn(len(columnIDs))], rng.Intn(6)-1))
		}

		for _, col := range e.Snapshot().Columns {
			for j, card := range col.Cards {
				require.Equal(t, j, card.Position, "column %s after step %d", col.ID, i)
				require.Equal(t, col.ID, card.ColumnID)
			}
		}
	}

	flush(t, e)
	local := e.Snapshot()
	for _, col := range local.Columns {
		stored := storeColumn(t, s, col.ID)
		require.Equal(t, col.CardIDs(), stored.CardIDs(), "column %s", col.ID)
		require.Equal(t, cardPositions(col), cardPositions(stored))
	}
}

func TestStoreFailureDegradesAndCaches(t *testing.T) {
	t.Parallel()

	db, err := fallback.OpenInMemory(discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cache := db.For("main", admin.ID)

	var down atomic.Bool
	heartbeats := make(chan struct{}, 10)
	stub := &storeStub{
		getBoardFn: func(context.Context, string) (model.Board, error) {
			if down.Load() {
				return model.Board{}, errUnreachable
			}
			return model.Board{ID: "main", Name: "Main"}, nil
		},
		listColumnsFn: func(context.Context, string) ([]model.Column, error) {
			return []model.Column{{ID: "todo", BoardID: "main", Title: "To Do", Visibility: model.VisibilityOpen}}, nil
		},
		createCardFn: func(_ context.Context, card model.Card) (model.Card, error) {
			if down.Load() {
				return model.Card{}, errUnreachable
			}
			return card, nil
		},
		heartbeatFn: func(context.Context, model.Presence) error {
			heartbeats <- struct{}{}
			return nil
		},
	}
	e := startEngine(t, engine.Options{Store: stub, Cache: cache, Viewer: admin})
	<-heartbeats
	require.Equal(t, engine.StateReady, e.State())

	down.Store(true)
	card, err := e.CreateCard(context.Background(), "todo", "Offline work")
	require.NoError(t, err)
	require.Equal(t, []string{card.ID}, column(t, e.Snapshot(), "todo").CardIDs())

	flush(t, e)
	require.Equal(t, engine.StateDegraded, e.State())
	cached, ok, err := cache.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{card.ID}, column(t, cached, "todo").CardIDs())

	down.Store(false)
	changed, err := e.Reconcile(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, engine.StateReady, e.State())
	require.Empty(t, column(t, e.Snapshot(), "todo").Cards)
	_, ok, err = cache.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalSessionPersistsToCache(t *testing.T) {
	t.Parallel()

	db, err := fallback.OpenInMemory(discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cache := db.For("main", admin.ID)

	e := startEngine(t, engine.Options{Cache: cache, Viewer: admin})
	col, err := e.CreateColumn(context.Background(), "Inbox", "", nil)
	require.NoError(t, err)
	require.Equal(t, model.VisibilityOpen, col.Visibility)
	flush(t, e)

	restarted := startEngine(t, engine.Options{Cache: cache, Viewer: admin})
	require.Equal(t, engine.StateReady, restarted.State())
	require.Equal(t, "Inbox", column(t, restarted.Snapshot(), col.ID).Title)
}

func TestReconcilePicksUpRemoteChanges(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin, ReconcileInterval: 20 * time.Millisecond})

	var mu sync.Mutex
	var seen []model.Snapshot
	cancel := e.Subscribe(func(snap model.Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})
	defer cancel()

	_, err := s.CreateCard(context.Background(), model.Card{ID: "remote", ColumnID: "done", Title: "From elsewhere", Position: -1})
	require.NoError(t, err)
	require.NoError(t, s.BatchUpdateCardPositions(context.Background(), []model.CardPosition{{ID: "c1", Position: 2}, {ID: "c3", Position: 0}}))

	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return slices.Equal(cardIDsIn(snap, "done"), []string{"remote"}) &&
			slices.Equal(cardIDsIn(snap, "todo"), []string{"c3", "c2", "c1"})
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.NotEmpty(t, seen)
	mu.Unlock()

	changed, err := e.Reconcile(context.Background())
	require.NoError(t, err)
	require.False(t, changed)
}

func TestReconcileIgnoresStoreTimestamps(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})
	ctx := context.Background()

	_, err := e.CreateCard(ctx, "done", "Fresh")
	require.NoError(t, err)
	require.NoError(t, e.MoveCard(ctx, "c1", "done", 0))
	flush(t, e)

	var notified atomic.Int32
	cancel := e.Subscribe(func(model.Snapshot) { notified.Add(1) })
	defer cancel()

	changed, err := e.Reconcile(ctx)
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, notified.Load())
	require.Equal(t, "c1", column(t, e.Snapshot(), "done").Cards[0].ID)
}

func TestSessionsOfOneViewerShareChanges(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	bus := broadcast.NewLocalBus()
	t.Cleanup(func() { _ = bus.Close() })

	tabA := startEngine(t, engine.Options{Store: s, Bus: bus, Viewer: admin})
	countingB := &countingStore{Store: s}
	tabB := startEngine(t, engine.Options{Store: countingB, Bus: bus, Viewer: admin})

	require.NoError(t, tabA.MoveCard(context.Background(), "c2", "done", 0))

	snapB := tabB.Snapshot()
	require.Equal(t, []string{"c1", "c3"}, column(t, snapB, "todo").CardIDs())
	require.Equal(t, []string{"c2"}, column(t, snapB, "done").CardIDs())
	require.Equal(t, tabA.Snapshot(), snapB)

	flush(t, tabA)
	flush(t, tabB)
	require.Zero(t, countingB.writes.Load())
}

func TestStaleBroadcastIsIgnored(t *testing.T) {
	t.Parallel()

	bus := broadcast.NewLocalBus()
	t.Cleanup(func() { _ = bus.Close() })
	e := startEngine(t, engine.Options{Bus: bus, Viewer: admin})
	_, err := e.CreateColumn(context.Background(), "Inbox", model.VisibilityOpen, nil)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), broadcast.Message{
		Origin:    "another-tab",
		Timestamp: 1,
		Snapshot:  model.Snapshot{Board: model.Board{ID: "main"}},
	}))
	require.Len(t, e.Snapshot().Columns, 1)

	require.NoError(t, bus.Publish(context.Background(), broadcast.Message{
		Origin:    "another-tab",
		Timestamp: time.Now().Add(time.Hour).UnixNano(),
		Snapshot:  model.Snapshot{Board: model.Board{ID: "main"}},
	}))
	require.Empty(t, e.Snapshot().Columns)
}

func TestCloseSignalsDeparture(t *testing.T) {
	t.Parallel()

	departed := make(chan string, 1)
	stub := &storeStub{departFn: func(_ context.Context, boardID, viewerID string) error {
		departed <- boardID + "/" + viewerID
		return nil
	}}
	e, err := engine.New(engine.Options{BoardID: "main", Store: stub, Viewer: admin, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Close())

	select {
	case got := <-departed:
		require.Equal(t, "main/u-admin", got)
	case <-time.After(2 * time.Second):
		t.Fatal("departure not signalled")
	}

	_, err = e.CreateCard(context.Background(), "todo", "late")
	require.ErrorIs(t, err, engine.ErrClosed)
	require.NoError(t, e.Close())
}

func TestCloseDoesNotWaitForSlowStore(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	stub := &storeStub{
		listColumnsFn: func(context.Context, string) ([]model.Column, error) {
			return []model.Column{{ID: "todo", BoardID: "main", Title: "To Do", Visibility: model.VisibilityOpen}}, nil
		},
		createCardFn: func(ctx context.Context, _ model.Card) (model.Card, error) {
			close(started)
			<-ctx.Done()
			return model.Card{}, ctx.Err()
		},
	}
	e, err := engine.New(engine.Options{
		BoardID:           "main",
		Store:             stub,
		Viewer:            admin,
		Logger:            discardLogger(),
		RequestTimeout:    time.Minute,
		ReconcileInterval: time.Hour,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	_, err = e.CreateCard(context.Background(), "todo", "Slow")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("write never reached the store")
	}

	closed := make(chan error, 1)
	go func() { closed <- e.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close waited on the in-flight write")
	}
}

func TestMutationsBeforeStartFail(t *testing.T) {
	t.Parallel()

	e, err := engine.New(engine.Options{BoardID: "main", Viewer: admin, Logger: discardLogger()})
	require.NoError(t, err)
	require.Equal(t, engine.StateUninitialized, e.State())
	_, err = e.CreateColumn(context.Background(), "Inbox", model.VisibilityOpen, nil)
	require.ErrorIs(t, err, engine.ErrNotStarted)
	require.NoError(t, e.Close())
}

func TestSettingsPassThrough(t *testing.T) {
	t.Parallel()

	s := newSeededStore(t)
	e := startEngine(t, engine.Options{Store: s, Viewer: admin})
	ctx := context.Background()

	_, found, err := e.Setting(ctx, "theme")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, e.SetSetting(ctx, "theme", "dark"))
	value, found, err := e.Setting(ctx, "theme")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "dark", value)
	require.ErrorIs(t, e.SetSetting(ctx, "", "x"), engine.ErrInvalid)
}

func cardIDsIn(snap model.Snapshot, columnID string) []string {
	idx := snap.ColumnIndex(columnID)
	if idx < 0 {
		return nil
	}
	return snap.Columns[idx].CardIDs()
}
