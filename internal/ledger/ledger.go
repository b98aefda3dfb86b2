// Package ledger keeps the append-only action history attached to cards.
//
// Records are buffered per card as soon as they are created and written to
// the durable store in the background. A failed write is logged and never
// reported to the mutation that produced the record.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/simonjohansson/taskboard/internal/model"
)

const defaultWriteTimeout = 5 * time.Second

type RecordStore interface {
	CreateActionRecord(ctx context.Context, record model.ActionRecord) (bool, error)
	ListActionRecords(ctx context.Context, cardID string) ([]model.ActionRecord, error)
}

type Options struct {
	Store        RecordStore
	Logger       *slog.Logger
	WriteTimeout time.Duration
	Now          func() time.Time
}

type Ledger struct {
	store        RecordStore
	logger       *slog.Logger
	writeTimeout time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	buffer  map[string][]model.ActionRecord
	writes  sync.WaitGroup
}

func New(opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Ledger{
		store:        opts.Store,
		logger:       logger,
		writeTimeout: timeout,
		now:          now,
		entropy:      ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		buffer:       make(map[string][]model.ActionRecord),
	}
}

// Record appends an action for cardID. It returns nil when the actor cannot
// be identified; nothing is attributed to an unknown identity.
func (l *Ledger) Record(ctx context.Context, actor model.Viewer, cardID string, kind model.ActionKind, detail any) *model.ActionRecord {
	if actor.ID == "" {
		l.logger.Warn("action not recorded: no actor", "card_id", cardID, "kind", kind)
		return nil
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		l.logger.Warn("action not recorded: encode detail", "card_id", cardID, "kind", kind, "error", err)
		return nil
	}

	now := l.now().UTC()
	l.mu.Lock()
	record := model.ActionRecord{
		ID:        ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		CardID:    cardID,
		ActorID:   actor.ID,
		ActorName: actor.DisplayName,
		Kind:      kind,
		Detail:    raw,
		CreatedAt: now,
	}
	l.buffer[cardID] = append(l.buffer[cardID], record)
	l.mu.Unlock()

	if l.store != nil {
		l.writes.Add(1)
		go l.write(context.WithoutCancel(ctx), record)
	}
	return &record
}

func (l *Ledger) write(ctx context.Context, record model.ActionRecord) {
	defer l.writes.Done()
	ctx, cancel := context.WithTimeout(ctx, l.writeTimeout)
	defer cancel()

	ok, err := l.store.CreateActionRecord(ctx, record)
	if err != nil {
		l.logger.Warn("ledger write failed", "card_id", record.CardID, "record_id", record.ID, "kind", record.Kind, "error", err)
		return
	}
	if !ok {
		l.logger.Warn("ledger write rejected", "card_id", record.CardID, "record_id", record.ID, "kind", record.Kind)
	}
}

// History returns the card's records in ascending time order, merging what
// the store holds with records that have not round-tripped yet. On a store
// error the buffered records are still returned alongside the error.
func (l *Ledger) History(ctx context.Context, cardID string) ([]model.ActionRecord, error) {
	var (
		stored   []model.ActionRecord
		storeErr error
	)
	if l.store != nil {
		stored, storeErr = l.store.ListActionRecords(ctx, cardID)
	}

	seen := make(map[string]struct{}, len(stored))
	merged := make([]model.ActionRecord, 0, len(stored))
	for _, rec := range stored {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		merged = append(merged, rec)
	}

	l.mu.Lock()
	pending := l.buffer[cardID][:0:0]
	for _, rec := range l.buffer[cardID] {
		if _, done := seen[rec.ID]; done {
			continue
		}
		pending = append(pending, rec)
		merged = append(merged, rec)
	}
	if storeErr == nil && l.store != nil {
		if len(pending) == 0 {
			delete(l.buffer, cardID)
		} else {
			l.buffer[cardID] = pending
		}
	}
	l.mu.Unlock()

	sortAscending(merged)
	return merged, storeErr
}

// Pending returns how many records for cardID have not been seen in the store.
func (l *Ledger) Pending(cardID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer[cardID])
}

// Forget drops buffered records of deleted cards.
func (l *Ledger) Forget(cardIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range cardIDs {
		delete(l.buffer, id)
	}
}

// Flush waits for in-flight store writes.
func (l *Ledger) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sortAscending(records []model.ActionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
