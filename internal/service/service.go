package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/simonjohansson/taskboard/internal/model"
)

type Store interface {
	GetBoard(ctx context.Context, id string) (model.Board, error)
	ListColumns(ctx context.Context, boardID string) ([]model.Column, error)
	GetColumn(ctx context.Context, id string) (model.Column, error)
	GetCard(ctx context.Context, id string) (model.Card, error)
	CreateColumn(ctx context.Context, col model.Column) (model.Column, error)
	UpdateColumn(ctx context.Context, id string, patch model.ColumnPatch) (model.Column, bool, error)
	DeleteColumn(ctx context.Context, id string) (bool, error)
	BatchUpdateColumnPositions(ctx context.Context, positions []model.ColumnPosition) error
	CreateCard(ctx context.Context, card model.Card) (model.Card, error)
	UpdateCard(ctx context.Context, id string, patch model.CardPatch) (model.Card, bool, error)
	DeleteCard(ctx context.Context, id string) (bool, error)
	BatchUpdateCardPositions(ctx context.Context, positions []model.CardPosition) error
	CreateActionRecord(ctx context.Context, record model.ActionRecord) (bool, error)
	ListActionRecords(ctx context.Context, cardID string) ([]model.ActionRecord, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	Heartbeat(ctx context.Context, p model.Presence) error
	Depart(ctx context.Context, boardID, viewerID string) error
	ListPresence(ctx context.Context, boardID string, since time.Time) ([]model.Presence, error)
}

type Publisher interface {
	Publish(event model.Event)
}

type Options struct {
	Store     Store
	Publisher Publisher
	Logger    *slog.Logger
	// PresenceWindow is how long a heartbeat keeps a viewer listed.
	PresenceWindow time.Duration
	Now            func() time.Time
}

type Service struct {
	store          Store
	publisher      Publisher
	logger         *slog.Logger
	presenceWindow time.Duration
	now            func() time.Time
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := opts.PresenceWindow
	if window <= 0 {
		window = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:          opts.Store,
		publisher:      opts.Publisher,
		logger:         logger,
		presenceWindow: window,
		now:            now,
	}
}

func (s *Service) GetBoard(ctx context.Context, boardID string) (model.Board, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return model.Board{}, storeError(err, "get board failed")
	}
	return board, nil
}

func (s *Service) ListColumns(ctx context.Context, boardID string) ([]model.Column, error) {
	columns, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, storeError(err, "list columns failed")
	}
	return columns, nil
}

func (s *Service) CreateColumn(ctx context.Context, col model.Column) (model.Column, error) {
	if strings.TrimSpace(col.ID) == "" {
		return model.Column{}, newError(CodeValidation, "column id is required", nil)
	}
	created, err := s.store.CreateColumn(ctx, col)
	if err != nil {
		return model.Column{}, storeError(err, "create column failed")
	}
	s.logger.Info("column created", "board", created.BoardID, "column_id", created.ID, "visibility", created.Visibility)
	s.publish(model.EventTypeColumnCreated, created.BoardID, created.ID, "", "")
	return created, nil
}

func (s *Service) UpdateColumn(ctx context.Context, id string, patch model.ColumnPatch) (model.Column, error) {
	if patch.Empty() {
		return model.Column{}, newError(CodeValidation, "no column fields to update", nil)
	}
	col, found, err := s.store.UpdateColumn(ctx, id, patch)
	if err != nil {
		return model.Column{}, storeError(err, "update column failed")
	}
	if !found {
		return model.Column{}, newError(CodeNotFound, "column not found", nil)
	}
	s.logger.Info("column updated", "board", col.BoardID, "column_id", col.ID)
	s.publish(model.EventTypeColumnUpdated, col.BoardID, col.ID, "", "")
	return col, nil
}

func (s *Service) DeleteColumn(ctx context.Context, id string) error {
	col, err := s.store.GetColumn(ctx, id)
	if err != nil {
		return storeError(err, "get column failed")
	}
	found, err := s.store.DeleteColumn(ctx, id)
	if err != nil {
		return storeError(err, "delete column failed")
	}
	if !found {
		return newError(CodeNotFound, "column not found", nil)
	}
	s.logger.Info("column deleted", "board", col.BoardID, "column_id", id, "cards", len(col.Cards))
	s.publish(model.EventTypeColumnDeleted, col.BoardID, id, "", "")
	return nil
}

func (s *Service) ReorderColumns(ctx context.Context, boardID string, positions []model.ColumnPosition) error {
	if err := validatePositions(len(positions), func(i int) (string, int) { return positions[i].ID, positions[i].Position }); err != nil {
		return err
	}
	for _, p := range positions {
		col, err := s.store.GetColumn(ctx, p.ID)
		if err != nil {
			return storeError(err, "get column failed")
		}
		if col.BoardID != boardID {
			return newError(CodeValidation, "column "+p.ID+" belongs to another board", nil)
		}
	}
	if err := s.store.BatchUpdateColumnPositions(ctx, positions); err != nil {
		return storeError(err, "reorder columns failed")
	}
	s.logger.Info("columns reordered", "board", boardID, "columns", len(positions))
	s.publish(model.EventTypeColumnsReordered, boardID, "", "", "")
	return nil
}

func (s *Service) CreateCard(ctx context.Context, card model.Card) (model.Card, error) {
	if strings.TrimSpace(card.ID) == "" {
		return model.Card{}, newError(CodeValidation, "card id is required", nil)
	}
	created, err := s.store.CreateCard(ctx, card)
	if err != nil {
		return model.Card{}, storeError(err, "create card failed")
	}
	boardID := s.boardOf(ctx, created.ColumnID)
	s.logger.Info("card created", "board", boardID, "card_id", created.ID, "column_id", created.ColumnID)
	s.publish(model.EventTypeCardCreated, boardID, created.ColumnID, created.ID, "")
	return created, nil
}

func (s *Service) UpdateCard(ctx context.Context, id string, patch model.CardPatch) (model.Card, error) {
	if patch.Empty() {
		return model.Card{}, newError(CodeValidation, "no card fields to update", nil)
	}
	card, found, err := s.store.UpdateCard(ctx, id, patch)
	if err != nil {
		return model.Card{}, storeError(err, "update card failed")
	}
	if !found {
		return model.Card{}, newError(CodeNotFound, "card not found", nil)
	}
	boardID := s.boardOf(ctx, card.ColumnID)
	s.logger.Info("card updated", "board", boardID, "card_id", card.ID)
	s.publish(model.EventTypeCardUpdated, boardID, card.ColumnID, card.ID, "")
	return card, nil
}

func (s *Service) DeleteCard(ctx context.Context, id string) error {
	card, err := s.store.GetCard(ctx, id)
	if err != nil {
		return storeError(err, "get card failed")
	}
	boardID := s.boardOf(ctx, card.ColumnID)
	found, err := s.store.DeleteCard(ctx, id)
	if err != nil {
		return storeError(err, "delete card failed")
	}
	if !found {
		return newError(CodeNotFound, "card not found", nil)
	}
	s.logger.Info("card deleted", "board", boardID, "card_id", id, "column_id", card.ColumnID)
	s.publish(model.EventTypeCardDeleted, boardID, card.ColumnID, id, "")
	return nil
}

// RepositionCards applies a complete renumbering for one or two columns.
func (s *Service) RepositionCards(ctx context.Context, positions []model.CardPosition) error {
	if err := validatePositions(len(positions), func(i int) (string, int) { return positions[i].ID, positions[i].Position }); err != nil {
		return err
	}
	if err := s.store.BatchUpdateCardPositions(ctx, positions); err != nil {
		return storeError(err, "reposition cards failed")
	}
	boards := map[string]struct{}{}
	for _, p := range positions {
		columnID := p.ColumnID
		if columnID == "" {
			if card, err := s.store.GetCard(ctx, p.ID); err == nil {
				columnID = card.ColumnID
			}
		}
		boards[s.boardOf(ctx, columnID)] = struct{}{}
	}
	s.logger.Info("cards repositioned", "cards", len(positions))
	for boardID := range boards {
		s.publish(model.EventTypeCardsRepositioned, boardID, "", "", "")
	}
	return nil
}

func (s *Service) CreateActionRecord(ctx context.Context, record model.ActionRecord) (bool, error) {
	created, err := s.store.CreateActionRecord(ctx, record)
	if err != nil {
		return false, storeError(err, "create action record failed")
	}
	if created {
		s.logger.Info("action recorded", "card_id", record.CardID, "record_id", record.ID, "kind", record.Kind, "actor_id", record.ActorID)
		s.publish(model.EventTypeActionRecorded, "", "", record.CardID, record.ActorID)
	}
	return created, nil
}

func (s *Service) ListActionRecords(ctx context.Context, cardID string) ([]model.ActionRecord, error) {
	records, err := s.store.ListActionRecords(ctx, cardID)
	if err != nil {
		return nil, storeError(err, "list action records failed")
	}
	return records, nil
}

func (s *Service) GetSetting(ctx context.Context, key string) (string, error) {
	value, found, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", storeError(err, "get setting failed")
	}
	if !found {
		return "", newError(CodeNotFound, "setting not found", nil)
	}
	return value, nil
}

func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		return storeError(err, "set setting failed")
	}
	s.logger.Info("setting changed", "key", key)
	s.publish(model.EventTypeSettingChanged, "", "", "", "")
	return nil
}

func (s *Service) Heartbeat(ctx context.Context, p model.Presence) error {
	p.LastSeen = s.now().UTC()
	present, err := s.store.ListPresence(ctx, p.BoardID, p.LastSeen.Add(-s.presenceWindow))
	if err != nil {
		return storeError(err, "list presence failed")
	}
	if err := s.store.Heartbeat(ctx, p); err != nil {
		return storeError(err, "heartbeat failed")
	}
	for _, existing := range present {
		if existing.ViewerID == p.ViewerID {
			s.logger.Debug("presence heartbeat", "board", p.BoardID, "viewer_id", p.ViewerID)
			return nil
		}
	}
	s.logger.Info("viewer joined", "board", p.BoardID, "viewer_id", p.ViewerID, "role", p.Role)
	s.publish(model.EventTypePresenceJoined, p.BoardID, "", "", p.ViewerID)
	return nil
}

func (s *Service) Depart(ctx context.Context, boardID, viewerID string) error {
	if err := s.store.Depart(ctx, boardID, viewerID); err != nil {
		return storeError(err, "depart failed")
	}
	s.logger.Info("viewer departed", "board", boardID, "viewer_id", viewerID)
	s.publish(model.EventTypePresenceLeft, boardID, "", "", viewerID)
	return nil
}

// ListPresence returns viewers with a heartbeat inside the presence window.
func (s *Service) ListPresence(ctx context.Context, boardID string) ([]model.Presence, error) {
	present, err := s.store.ListPresence(ctx, boardID, s.now().Add(-s.presenceWindow))
	if err != nil {
		return nil, storeError(err, "list presence failed")
	}
	return present, nil
}

func (s *Service) boardOf(ctx context.Context, columnID string) string {
	if columnID == "" {
		return ""
	}
	col, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		s.logger.Warn("resolve board for column failed", "column_id", columnID, "error", err)
		return ""
	}
	return col.BoardID
}

func validatePositions(n int, at func(int) (string, int)) error {
	if n == 0 {
		return newError(CodeValidation, "positions must not be empty", nil)
	}
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, pos := at(i)
		if strings.TrimSpace(id) == "" {
			return newError(CodeValidation, "position entry without id", nil)
		}
		if pos < 0 {
			return newError(CodeValidation, "positions must not be negative", nil)
		}
		if _, dup := seen[id]; dup {
			return newError(CodeValidation, "duplicate id "+id+" in positions", nil)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (s *Service) publish(eventType model.EventType, boardID, columnID, cardID, viewerID string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(model.Event{
		Type:      eventType,
		Board:     strings.TrimSpace(boardID),
		ColumnID:  columnID,
		CardID:    cardID,
		ViewerID:  viewerID,
		Timestamp: s.now().UTC(),
	})
}
