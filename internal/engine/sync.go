package engine

import (
	"context"
	"time"

	"github.com/simonjohansson/taskboard/internal/broadcast"
	"github.com/simonjohansson/taskboard/internal/model"
)

// enqueueLocked queues persist behind every earlier write. Without a store
// the snapshot is written to the fallback cache instead.
func (e *Engine) enqueueLocked(name string, persist func(ctx context.Context, store Store) error) {
	switch {
	case e.store != nil && persist != nil:
		e.queue = append(e.queue, job{name: name, run: persist})
	case e.store == nil && e.cache != nil:
		e.queue = append(e.queue, job{name: name, run: func(context.Context, Store) error {
			return e.saveCache()
		}})
	default:
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// persistLoop drains the write queue one job at a time, in order.
func (e *Engine) persistLoop() {
	defer e.loops.Done()
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			select {
			case <-e.wake:
				continue
			case <-e.stop:
				return
			}
		}
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.busy = true
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(e.runCtx, e.requestTimeout)
		err := next.run(ctx, e.store)
		cancel()
		if e.store != nil {
			e.afterRequest(next.name, err)
		} else if err != nil {
			e.logger.Warn("fallback cache write failed", "operation", next.name, "error", err)
		}

		e.mu.Lock()
		e.busy = false
		e.idle.Broadcast()
		e.mu.Unlock()
	}
}

// afterRequest moves between Ready and Degraded based on the outcome of a
// store request. Failures keep the fallback cache current; the first success
// after a failure discards it.
func (e *Engine) afterRequest(name string, err error) {
	if err != nil && e.runCtx.Err() != nil {
		// Cut short by Close. Keep the snapshot in the cache in case the
		// write never landed.
		e.logger.Debug("store request cancelled on close", "operation", name)
		if err := e.saveCache(); err != nil {
			e.logger.Warn("fallback cache write failed", "error", err)
		}
		return
	}
	e.mu.Lock()
	prev := e.state
	switch {
	case err != nil && prev == StateReady:
		e.state = StateDegraded
	case err == nil && prev == StateDegraded:
		e.state = StateReady
	}
	e.mu.Unlock()

	if err == nil {
		if prev == StateDegraded {
			e.logger.Info("store reachable again", "operation", name)
			e.clearCache()
		}
		return
	}
	if prev == StateReady {
		e.logger.Warn("store unreachable, continuing degraded", "operation", name, "error", err)
	} else {
		e.logger.Debug("store request failed", "operation", name, "error", err)
	}
	if err := e.saveCache(); err != nil {
		e.logger.Warn("fallback cache write failed", "error", err)
	}
}

// saveCache writes the current snapshot. Writes are serialised so the cache
// never ends up holding an older snapshot than the last write saw.
func (e *Engine) saveCache() error {
	if e.cache == nil {
		return nil
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.mu.Lock()
	snap := e.snapshot.Clone()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
	defer cancel()
	return e.cache.Save(ctx, snap)
}

func (e *Engine) clearCache() {
	if e.cache == nil {
		return
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
	defer cancel()
	if err := e.cache.Clear(ctx); err != nil {
		e.logger.Warn("fallback cache clear failed", "error", err)
	}
}

// syncLoop runs reconciliation and presence heartbeats until Close.
func (e *Engine) syncLoop() {
	defer e.loops.Done()
	if e.store == nil {
		<-e.stop
		return
	}

	reconcile := time.NewTicker(e.reconcileInterval)
	defer reconcile.Stop()
	heartbeat := time.NewTicker(e.heartbeatInterval)
	defer heartbeat.Stop()

	e.heartbeat()
	for {
		select {
		case <-e.stop:
			return
		case <-reconcile.C:
			ctx, cancel := context.WithTimeout(e.runCtx, e.requestTimeout)
			_, _ = e.Reconcile(ctx)
			cancel()
		case <-heartbeat.C:
			e.heartbeat()
		}
	}
}

func (e *Engine) heartbeat() {
	if e.viewer.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(e.runCtx, e.requestTimeout)
	defer cancel()
	err := e.store.Heartbeat(ctx, model.Presence{
		ViewerID:    e.viewer.ID,
		BoardID:     e.boardID,
		DisplayName: e.viewer.DisplayName,
		Role:        e.viewer.Role,
		LastSeen:    e.now().UTC(),
	})
	e.afterRequest("heartbeat", err)
}

// Reconcile pulls the board from the store and replaces the local snapshot
// wholesale when the two differ. It reports whether anything was replaced.
// Local writes still in the queue may be reverted until they land.
func (e *Engine) Reconcile(ctx context.Context) (bool, error) {
	if e.store == nil {
		return false, nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	if e.state == StateUninitialized || e.state == StateLoading {
		e.mu.Unlock()
		return false, ErrNotStarted
	}
	e.mu.Unlock()

	pulled, err := e.pull(ctx)
	e.afterRequest("reconcile", err)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, nil
	}
	if prepare(e.snapshot).Equivalent(pulled) {
		// Only store-side timestamps differ; adopt them without announcing.
		e.snapshot = pulled
		e.mu.Unlock()
		return false, nil
	}
	e.snapshot = pulled
	stamp := e.bumpStamp()
	view, subs, full := e.viewLocked(), e.subscribersLocked(), e.snapshot.Clone()
	e.mu.Unlock()

	e.logger.Debug("snapshot replaced from store", "columns", len(pulled.Columns))
	notify(subs, view)
	e.broadcast(ctx, stamp, full)
	return true, nil
}

func (e *Engine) broadcast(ctx context.Context, stamp int64, snap model.Snapshot) {
	if e.bus == nil {
		return
	}
	msg := broadcast.Message{Origin: e.origin, Timestamp: stamp, Snapshot: snap}
	if err := e.bus.Publish(context.WithoutCancel(ctx), msg); err != nil {
		e.logger.Warn("cross-session publish failed", "error", err)
	}
}

// receive applies a snapshot published by another session of this viewer.
// Stale or own messages are ignored and nothing is rebroadcast.
func (e *Engine) receive(msg broadcast.Message) {
	if msg.Origin == e.origin {
		return
	}
	e.mu.Lock()
	if e.closed || msg.Timestamp <= e.stamp {
		e.mu.Unlock()
		return
	}
	e.snapshot = prepare(msg.Snapshot)
	e.stamp = msg.Timestamp
	view, subs := e.viewLocked(), e.subscribersLocked()
	e.mu.Unlock()

	notify(subs, view)
}
