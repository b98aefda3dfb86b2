// Package engine owns one viewer session's copy of a board.
//
// Mutations are authorized, applied to the in-memory snapshot and announced
// to subscribers before anything touches the network. Durable writes run on a
// single worker in invocation order. A periodic pull from the store replaces
// the local snapshot whenever the two differ, and every local change is
// published to the viewer's other sessions.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/simonjohansson/taskboard/internal/broadcast"
	"github.com/simonjohansson/taskboard/internal/ledger"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/ordering"
	"github.com/simonjohansson/taskboard/internal/permission"
)

var (
	ErrDenied     = errors.New("operation not permitted")
	ErrNotFound   = errors.New("not found")
	ErrColumnFull = errors.New("column is at its card limit")
	ErrInvalid    = errors.New("invalid request")
	ErrClosed     = errors.New("engine closed")
	ErrNotStarted = errors.New("engine not started")
)

const (
	DefaultReconcileInterval = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
)

// Store is the durable store boundary.
type Store interface {
	GetBoard(ctx context.Context, boardID string) (model.Board, error)
	ListColumns(ctx context.Context, boardID string) ([]model.Column, error)
	CreateCard(ctx context.Context, card model.Card) (model.Card, error)
	UpdateCard(ctx context.Context, id string, patch model.CardPatch) (model.Card, bool, error)
	DeleteCard(ctx context.Context, id string) (bool, error)
	BatchUpdateCardPositions(ctx context.Context, positions []model.CardPosition) error
	CreateColumn(ctx context.Context, col model.Column) (model.Column, error)
	UpdateColumn(ctx context.Context, id string, patch model.ColumnPatch) (model.Column, bool, error)
	DeleteColumn(ctx context.Context, id string) (bool, error)
	BatchUpdateColumnPositions(ctx context.Context, positions []model.ColumnPosition) error
	CreateActionRecord(ctx context.Context, record model.ActionRecord) (bool, error)
	ListActionRecords(ctx context.Context, cardID string) ([]model.ActionRecord, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	Heartbeat(ctx context.Context, p model.Presence) error
	Depart(ctx context.Context, boardID, viewerID string) error
}

// Cache holds the last snapshot while the store is unreachable.
type Cache interface {
	Save(ctx context.Context, snapshot model.Snapshot) error
	Load(ctx context.Context) (model.Snapshot, bool, error)
	Clear(ctx context.Context) error
}

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	BoardID string
	Viewer  model.Viewer
	// Store may be nil, in which case the session is local only.
	Store Store
	Cache Cache
	Bus   broadcast.Channel
	// Ledger defaults to one backed by Store.
	Ledger *ledger.Ledger

	ReconcileInterval time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

type job struct {
	name string
	run  func(ctx context.Context, store Store) error
}

type Engine struct {
	boardID string
	viewer  model.Viewer
	origin  string
	store   Store
	cache   Cache
	bus     broadcast.Channel
	ledger  *ledger.Ledger
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	reconcileInterval time.Duration
	heartbeatInterval time.Duration
	requestTimeout    time.Duration

	cacheMu sync.Mutex

	mu       sync.Mutex
	state    State
	snapshot model.Snapshot
	stamp    int64
	subs     map[int]func(model.Snapshot)
	nextSub  int
	closed   bool
	queue    []job
	busy     bool
	idle     *sync.Cond

	wake        chan struct{}
	stop        chan struct{}
	// runCtx parents background requests and is cancelled by Close.
	runCtx      context.Context
	cancelRun   context.CancelFunc
	loops       sync.WaitGroup
	unsubscribe func()
}

func New(opts Options) (*Engine, error) {
	if opts.BoardID == "" {
		return nil, fmt.Errorf("%w: board id is required", ErrInvalid)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	viewer := opts.Viewer
	viewer.Role = permission.NormalizeRole(string(viewer.Role))

	led := opts.Ledger
	if led == nil {
		var records ledger.RecordStore
		if opts.Store != nil {
			records = opts.Store
		}
		led = ledger.New(ledger.Options{Store: records, Logger: logger, Now: now})
	}

	e := &Engine{
		boardID:           opts.BoardID,
		viewer:            viewer,
		origin:            uuid.NewString(),
		store:             opts.Store,
		cache:             opts.Cache,
		bus:               opts.Bus,
		ledger:            led,
		logger:            logger.With("board", opts.BoardID, "viewer_id", viewer.ID),
		now:               now,
		newID:             newID,
		reconcileInterval: orDefault(opts.ReconcileInterval, DefaultReconcileInterval),
		heartbeatInterval: orDefault(opts.HeartbeatInterval, DefaultHeartbeatInterval),
		requestTimeout:    orDefault(opts.RequestTimeout, DefaultRequestTimeout),
		subs:              make(map[int]func(model.Snapshot)),
		wake:              make(chan struct{}, 1),
		stop:              make(chan struct{}),
	}
	e.idle = sync.NewCond(&e.mu)
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())
	e.snapshot = emptySnapshot(e.boardID)
	return e, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func emptySnapshot(boardID string) model.Snapshot {
	return model.Snapshot{Board: model.Board{ID: boardID}, Columns: []model.Column{}}
}

// Start loads the initial snapshot and starts the background loops. When the
// store cannot be reached the cached snapshot, or an empty board, is served
// in the degraded state.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case e.state != StateUninitialized:
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.state = StateLoading
	e.mu.Unlock()

	snap, state := e.load(ctx)

	e.mu.Lock()
	e.snapshot = snap
	e.state = state
	e.bumpStamp()
	view, subs := e.viewLocked(), e.subscribersLocked()
	e.mu.Unlock()
	e.logger.Info("session started", "state", state, "columns", len(snap.Columns))

	if e.bus != nil {
		cancel, err := e.bus.Subscribe(e.receive)
		if err != nil {
			e.logger.Warn("cross-session channel unavailable", "error", err)
		} else {
			e.unsubscribe = cancel
		}
	}

	e.loops.Add(2)
	go e.persistLoop()
	go e.syncLoop()

	notify(subs, view)
	return nil
}

// load picks the starting snapshot. A cached snapshot served because the
// store is unreachable starts the session Degraded, so the first successful
// request moves it to Ready and discards the cache.
func (e *Engine) load(ctx context.Context) (model.Snapshot, State) {
	var cached *model.Snapshot
	if e.cache != nil {
		snap, ok, err := e.cache.Load(ctx)
		if err != nil {
			e.logger.Warn("fallback cache load failed", "error", err)
		} else if ok {
			cached = &snap
		}
	}

	if e.store == nil {
		if cached != nil {
			return prepare(*cached), StateReady
		}
		return emptySnapshot(e.boardID), StateReady
	}

	pullCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()
	snap, err := e.pull(pullCtx)
	if err == nil {
		if cached != nil {
			e.clearCache()
		}
		return snap, StateReady
	}
	e.logger.Warn("initial load failed", "error", err, "cached", cached != nil)
	if cached != nil {
		return prepare(*cached), StateDegraded
	}
	return emptySnapshot(e.boardID), StateDegraded
}

func (e *Engine) pull(ctx context.Context) (model.Snapshot, error) {
	board, err := e.store.GetBoard(ctx, e.boardID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("get board: %w", err)
	}
	columns, err := e.store.ListColumns(ctx, e.boardID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("list columns: %w", err)
	}
	return prepare(model.Snapshot{Board: board, Columns: columns}), nil
}

// prepare canonicalises a snapshot and renumbers it densely.
func prepare(snap model.Snapshot) model.Snapshot {
	snap = snap.Normalize()
	snap.Columns = ordering.Normalize(snap.Columns)
	return snap
}

// Close stops the background loops and signals departure without waiting
// for the store to acknowledge it. Queued writes that have not started are
// dropped; call Flush first to drain them.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	started := e.state != StateUninitialized
	e.closed = true
	dropped := len(e.queue)
	e.queue = nil
	e.idle.Broadcast()
	e.mu.Unlock()

	close(e.stop)
	e.cancelRun()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.loops.Wait()
	if dropped > 0 {
		e.logger.Warn("pending writes dropped on close", "count", dropped)
	}

	if started && e.store != nil && e.viewer.ID != "" {
		store, boardID, viewerID, timeout, logger := e.store, e.boardID, e.viewer.ID, e.requestTimeout, e.logger
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := store.Depart(ctx, boardID, viewerID); err != nil {
				logger.Debug("departure signal failed", "error", err)
			}
		}()
	}
	return nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Viewer() model.Viewer {
	return e.viewer
}

// Snapshot returns a copy of the board as this viewer may see it.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Subscribe registers fn to receive every snapshot change. fn runs on the
// goroutine that caused the change and must not block.
func (e *Engine) Subscribe(fn func(model.Snapshot)) (cancel func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

// Flush waits until every queued durable write and ledger write has finished.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.mu.Lock()
		for (len(e.queue) > 0 || e.busy) && !e.closed {
			e.idle.Wait()
		}
		e.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.ledger.Flush(ctx)
}

// History returns the card's action records, newest first. Viewers limited
// to some visibilities get ErrNotFound for cards they cannot see, and moves
// through hidden columns come back without the hidden column.
func (e *Engine) History(ctx context.Context, cardID string) ([]ledger.Entry, error) {
	e.mu.Lock()
	limited := !permission.CanView(e.viewer.Role, model.VisibilityRestricted) ||
		!permission.CanView(e.viewer.Role, model.VisibilityAdminOnly)
	visible := make(map[string]bool, len(e.snapshot.Columns))
	for _, col := range e.snapshot.Columns {
		visible[col.ID] = permission.CanView(e.viewer.Role, col.Visibility)
	}
	ci, _ := e.snapshot.FindCard(cardID)
	hiddenCard := limited && (ci < 0 || !visible[e.snapshot.Columns[ci].ID])
	e.mu.Unlock()

	if hiddenCard {
		return nil, fmt.Errorf("%w: card %s", ErrNotFound, cardID)
	}
	records, err := e.ledger.History(ctx, cardID)
	entries := ledger.ForDisplay(records)
	if limited {
		hidden := func(columnID string) bool { return !visible[columnID] }
		for i := range entries {
			redactEntry(&entries[i], hidden)
		}
	}
	return entries, err
}

func redactEntry(entry *ledger.Entry, hidden func(columnID string) bool) {
	if entry.Unparseable {
		entry.Record.Detail = nil
		return
	}
	detail, changed := entry.Detail.HideColumns(hidden)
	if !changed {
		return
	}
	entry.Detail = detail
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = nil
	}
	entry.Record.Detail = raw
}

func (e *Engine) Setting(ctx context.Context, key string) (string, bool, error) {
	if e.store == nil {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()
	value, found, err := e.store.GetSetting(ctx, key)
	e.afterRequest("get setting", err)
	return value, found, err
}

func (e *Engine) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: setting key is required", ErrInvalid)
	}
	if e.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()
	err := e.store.SetSetting(ctx, key, value)
	e.afterRequest("set setting", err)
	return err
}

// viewLocked filters out columns the viewer may not observe.
func (e *Engine) viewLocked() model.Snapshot {
	out := model.Snapshot{Board: e.snapshot.Board, Columns: make([]model.Column, 0, len(e.snapshot.Columns))}
	for _, col := range e.snapshot.Columns {
		if permission.CanView(e.viewer.Role, col.Visibility) {
			out.Columns = append(out.Columns, col.Clone())
		}
	}
	return out
}

func (e *Engine) subscribersLocked() []func(model.Snapshot) {
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(model.Snapshot), len(ids))
	for i, id := range ids {
		out[i] = e.subs[id]
	}
	return out
}

// bumpStamp advances the broadcast timestamp monotonically.
func (e *Engine) bumpStamp() int64 {
	next := e.now().UnixNano()
	if next <= e.stamp {
		next = e.stamp + 1
	}
	e.stamp = next
	return next
}

func notify(subs []func(model.Snapshot), view model.Snapshot) {
	for _, fn := range subs {
		fn(view.Clone())
	}
}
