package engine_test

import (
	"context"
	"sync/atomic"

	"github.com/simonjohansson/taskboard/internal/engine"
	"github.com/simonjohansson/taskboard/internal/model"
)

// storeStub answers every call successfully unless the matching func is set.
type storeStub struct {
	getBoardFn     func(ctx context.Context, boardID string) (model.Board, error)
	listColumnsFn  func(ctx context.Context, boardID string) ([]model.Column, error)
	createCardFn   func(ctx context.Context, card model.Card) (model.Card, error)
	batchCardsFn   func(ctx context.Context, positions []model.CardPosition) error
	createRecordFn func(ctx context.Context, record model.ActionRecord) (bool, error)
	heartbeatFn    func(ctx context.Context, p model.Presence) error
	departFn       func(ctx context.Context, boardID, viewerID string) error
}

var _ engine.Store = (*storeStub)(nil)

func (s *storeStub) GetBoard(ctx context.Context, boardID string) (model.Board, error) {
	if s.getBoardFn != nil {
		return s.getBoardFn(ctx, boardID)
	}
	return model.Board{ID: boardID, Name: "Board"}, nil
}

func (s *storeStub) ListColumns(ctx context.Context, boardID string) ([]model.Column, error) {
	if s.listColumnsFn != nil {
		return s.listColumnsFn(ctx, boardID)
	}
	return nil, nil
}

func (s *storeStub) CreateCard(ctx context.Context, card model.Card) (model.Card, error) {
	if s.createCardFn != nil {
		return s.createCardFn(ctx, card)
	}
	return card, nil
}

func (s *storeStub) UpdateCard(context.Context, string, model.CardPatch) (model.Card, bool, error) {
	return model.Card{}, true, nil
}

func (s *storeStub) DeleteCard(context.Context, string) (bool, error) {
	return true, nil
}

func (s *storeStub) BatchUpdateCardPositions(ctx context.Context, positions []model.CardPosition) error {
	if s.batchCardsFn != nil {
		return s.batchCardsFn(ctx, positions)
	}
	return nil
}

func (s *storeStub) CreateColumn(_ context.Context, col model.Column) (model.Column, error) {
	return col, nil
}

func (s *storeStub) UpdateColumn(context.Context, string, model.ColumnPatch) (model.Column, bool, error) {
	return model.Column{}, true, nil
}

func (s *storeStub) DeleteColumn(context.Context, string) (bool, error) {
	return true, nil
}

func (s *storeStub) BatchUpdateColumnPositions(context.Context, []model.ColumnPosition) error {
	return nil
}

func (s *storeStub) CreateActionRecord(ctx context.Context, record model.ActionRecord) (bool, error) {
	if s.createRecordFn != nil {
		return s.createRecordFn(ctx, record)
	}
	return true, nil
}

func (s *storeStub) ListActionRecords(context.Context, string) ([]model.ActionRecord, error) {
	return nil, nil
}

func (s *storeStub) GetSetting(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (s *storeStub) SetSetting(context.Context, string, string) error {
	return nil
}

func (s *storeStub) Heartbeat(ctx context.Context, p model.Presence) error {
	if s.heartbeatFn != nil {
		return s.heartbeatFn(ctx, p)
	}
	return nil
}

func (s *storeStub) Depart(ctx context.Context, boardID, viewerID string) error {
	if s.departFn != nil {
		return s.departFn(ctx, boardID, viewerID)
	}
	return nil
}

// countingStore counts the writes a session sends to an otherwise real store.
type countingStore struct {
	engine.Store
	writes atomic.Int32
}

func (c *countingStore) CreateCard(ctx context.Context, card model.Card) (model.Card, error) {
	c.writes.Add(1)
	return c.Store.CreateCard(ctx, card)
}

func (c *countingStore) UpdateCard(ctx context.Context, id string, patch model.CardPatch) (model.Card, bool, error) {
	c.writes.Add(1)
	return c.Store.UpdateCard(ctx, id, patch)
}

func (c *countingStore) DeleteCard(ctx context.Context, id string) (bool, error) {
	c.writes.Add(1)
	return c.Store.DeleteCard(ctx, id)
}

func (c *countingStore) BatchUpdateCardPositions(ctx context.Context, positions []model.CardPosition) error {
	c.writes.Add(1)
	return c.Store.BatchUpdateCardPositions(ctx, positions)
}

func (c *countingStore) CreateActionRecord(ctx context.Context, record model.ActionRecord) (bool, error) {
	c.writes.Add(1)
	return c.Store.CreateActionRecord(ctx, record)
}
