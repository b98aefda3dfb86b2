// Package broadcast carries snapshots between sessions of the same viewer.
package broadcast

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/simonjohansson/taskboard/internal/model"
)

var ErrClosed = errors.New("broadcast channel closed")

// Message is one published snapshot. Timestamp is monotonic per origin.
type Message struct {
	Origin    string         `json:"origin"`
	Timestamp int64          `json:"timestamp"`
	Snapshot  model.Snapshot `json:"snapshot"`
}

type Channel interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(fn func(Message)) (cancel func(), err error)
	Close() error
}

// Name is the channel shared by every session of viewerID on boardID.
func Name(boardID, viewerID string) string {
	return "taskboard:board:" + boardID + ":viewer:" + viewerID
}

// LocalBus fans messages out to in-process subscribers synchronously.
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(Message)
	closed   bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(Message))}
}

func (b *LocalBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	handlers := make([]func(Message), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(Message{Origin: msg.Origin, Timestamp: msg.Timestamp, Snapshot: msg.Snapshot.Clone()})
	}
	return nil
}

func (b *LocalBus) Subscribe(fn func(Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.next
	b.next++
	b.handlers[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = map[int]func(Message){}
	return nil
}
