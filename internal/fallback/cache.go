// Package fallback keeps the last known board snapshot on local disk for
// sessions that cannot reach the durable store.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/simonjohansson/taskboard/internal/model"
)

const keyPrefix = "snapshot/"

// DB is a badger database holding one snapshot per board and viewer.
type DB struct {
	db     *badger.DB
	logger *slog.Logger
}

func Open(dir string, logger *slog.Logger) (*DB, error) {
	if dir == "" {
		return nil, errors.New("fallback cache path is required")
	}
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory is used by tests and by sessions started without a cache path.
func OpenInMemory(logger *slog.Logger) (*DB, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := badger.Open(opts.WithLogger(badgerLogger{logger: logger.With("component", "badger")}))
	if err != nil {
		return nil, fmt.Errorf("open fallback cache: %w", err)
	}
	return &DB{db: db, logger: logger}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// For returns the cache slot of one viewer's session on one board.
func (d *DB) For(boardID, viewerID string) *Cache {
	return &Cache{db: d, key: []byte(keyPrefix + boardID + "/" + viewerID)}
}

// Keys lists the keys of every cached snapshot.
func (d *DB) Keys() ([]string, error) {
	var keys []string
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

type entry struct {
	SavedAt  time.Time      `json:"saved_at"`
	Snapshot model.Snapshot `json:"snapshot"`
}

type Cache struct {
	db  *DB
	key []byte
}

func (c *Cache) Save(ctx context.Context, snapshot model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(entry{SavedAt: time.Now().UTC(), Snapshot: snapshot})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key, raw)
	}); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	c.db.logger.Debug("fallback snapshot saved", "key", string(c.key), "bytes", len(raw))
	return nil
}

// Load returns the cached snapshot, or ok=false when none is stored.
func (c *Cache) Load(ctx context.Context) (model.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, false, err
	}
	var raw []byte
	err := c.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return e.Snapshot, true, nil
}

func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.key)
	}); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
