package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/simonjohansson/taskboard/internal/model"
)

func (s *SQLStore) EnsureBoard(ctx context.Context, id, name string) (model.Board, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Board{}, fmt.Errorf("%w: board id is required", ErrInvalid)
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}
	now := s.stamp()
	if _, err := s.exec(ctx, s.db, `
INSERT INTO boards (id, name, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, id, name, now, now); err != nil {
		return model.Board{}, fmt.Errorf("ensure board %s: %w", id, err)
	}
	return s.GetBoard(ctx, id)
}

func (s *SQLStore) GetBoard(ctx context.Context, id string) (model.Board, error) {
	var (
		b                model.Board
		created, updated string
	)
	err := s.queryRow(ctx, s.db, `SELECT id, name, created_at, updated_at FROM boards WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Board{}, fmt.Errorf("board %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Board{}, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return model.Board{}, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Board{}, err
	}
	return b, nil
}

// ListColumns returns the board's columns with nested cards, both ordered by position.
func (s *SQLStore) ListColumns(ctx context.Context, boardID string) ([]model.Column, error) {
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.db, `
SELECT id, board_id, title, visibility, pos, card_limit, created_at, updated_at
FROM board_columns
WHERE board_id = ?
ORDER BY pos ASC, id ASC`, boardID)
	if err != nil {
		return nil, err
	}
	columns := make([]model.Column, 0)
	index := map[string]int{}
	for rows.Next() {
		col, err := scanColumn(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		index[col.ID] = len(columns)
		columns = append(columns, col)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cardRows, err := s.query(ctx, s.db, `
SELECT c.id, c.column_id, c.title, c.description, c.pos, c.due_at, c.labels, c.attachments, c.members, c.created_at, c.updated_at
FROM cards c
JOIN board_columns bc ON bc.id = c.column_id
WHERE bc.board_id = ?
ORDER BY c.column_id ASC, c.pos ASC, c.id ASC`, boardID)
	if err != nil {
		return nil, err
	}
	defer cardRows.Close()
	for cardRows.Next() {
		card, err := scanCard(cardRows)
		if err != nil {
			return nil, err
		}
		i, ok := index[card.ColumnID]
		if !ok {
			continue
		}
		columns[i].Cards = append(columns[i].Cards, card)
	}
	return columns, cardRows.Err()
}

func (s *SQLStore) GetColumn(ctx context.Context, id string) (model.Column, error) {
	return s.getColumn(ctx, s.db, id)
}

func (s *SQLStore) getColumn(ctx context.Context, q querier, id string) (model.Column, error) {
	row := s.queryRow(ctx, q, `
SELECT id, board_id, title, visibility, pos, card_limit, created_at, updated_at
FROM board_columns WHERE id = ?`, id)
	col, err := scanColumn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Column{}, fmt.Errorf("column %s: %w", id, ErrNotFound)
	}
	return col, err
}

func (s *SQLStore) GetCard(ctx context.Context, id string) (model.Card, error) {
	return s.getCard(ctx, s.db, id)
}

func (s *SQLStore) getCard(ctx context.Context, q querier, id string) (model.Card, error) {
	row := s.queryRow(ctx, q, `
SELECT id, column_id, title, description, pos, due_at, labels, attachments, members, created_at, updated_at
FROM cards WHERE id = ?`, id)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Card{}, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return card, err
}

// CreateColumn inserts col at col.Position, shifting later columns right.
func (s *SQLStore) CreateColumn(ctx context.Context, col model.Column) (model.Column, error) {
	col.Title = strings.TrimSpace(col.Title)
	if col.ID == "" || col.Title == "" {
		return model.Column{}, fmt.Errorf("%w: column id and title are required", ErrInvalid)
	}
	if col.Visibility == "" {
		col.Visibility = model.VisibilityOpen
	}
	if !col.Visibility.Valid() {
		return model.Column{}, fmt.Errorf("%w: unknown visibility %q", ErrInvalid, col.Visibility)
	}
	if col.CardLimit != nil && *col.CardLimit < 0 {
		return model.Column{}, fmt.Errorf("%w: card limit must not be negative", ErrInvalid)
	}
	if _, err := s.GetBoard(ctx, col.BoardID); err != nil {
		return model.Column{}, err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM board_columns WHERE id = ?`, col.ID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("column %s: %w", col.ID, ErrConflict)
		}
		var count int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM board_columns WHERE board_id = ?`, col.BoardID).Scan(&count); err != nil {
			return err
		}
		col.Position = clampPosition(col.Position, count)
		if _, err := s.exec(ctx, tx, `UPDATE board_columns SET pos = pos + 1 WHERE board_id = ? AND pos >= ?`, col.BoardID, col.Position); err != nil {
			return err
		}
		now := s.stamp()
		_, err := s.exec(ctx, tx, `
INSERT INTO board_columns (id, board_id, title, visibility, pos, card_limit, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			col.ID, col.BoardID, col.Title, string(col.Visibility), col.Position, nullableInt(col.CardLimit), now, now)
		return err
	})
	if err != nil {
		return model.Column{}, err
	}
	created, err := s.GetColumn(ctx, col.ID)
	if err != nil {
		return model.Column{}, err
	}
	created.Cards = []model.Card{}
	return created, nil
}

// UpdateColumn applies patch. found is false when the column does not exist.
func (s *SQLStore) UpdateColumn(ctx context.Context, id string, patch model.ColumnPatch) (model.Column, bool, error) {
	if patch.Visibility != nil && !patch.Visibility.Valid() {
		return model.Column{}, false, fmt.Errorf("%w: unknown visibility %q", ErrInvalid, *patch.Visibility)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return model.Column{}, false, fmt.Errorf("%w: title must not be empty", ErrInvalid)
	}
	col, err := s.GetColumn(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return model.Column{}, false, nil
	}
	if err != nil {
		return model.Column{}, false, err
	}
	updated := patch.Apply(col, s.now())
	if _, err := s.exec(ctx, s.db, `
UPDATE board_columns SET title = ?, visibility = ?, card_limit = ?, updated_at = ? WHERE id = ?`,
		updated.Title, string(updated.Visibility), nullableInt(updated.CardLimit), formatTime(updated.UpdatedAt), id); err != nil {
		return model.Column{}, false, err
	}
	updated, err = s.GetColumn(ctx, id)
	return updated, err == nil, err
}

// DeleteColumn removes the column, its cards and their action records, then
// renumbers the remaining columns of the board.
func (s *SQLStore) DeleteColumn(ctx context.Context, id string) (bool, error) {
	found := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		col, err := s.getColumn(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if _, err := s.exec(ctx, tx, `DELETE FROM action_records WHERE card_id IN (SELECT id FROM cards WHERE column_id = ?)`, id); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM cards WHERE column_id = ?`, id); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM board_columns WHERE id = ?`, id); err != nil {
			return err
		}
		return s.renumberColumns(ctx, tx, col.BoardID)
	})
	return found, err
}

func (s *SQLStore) BatchUpdateColumnPositions(ctx context.Context, positions []model.ColumnPosition) error {
	if len(positions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		for _, p := range positions {
			res, err := s.exec(ctx, tx, `UPDATE board_columns SET pos = ?, updated_at = ? WHERE id = ?`, p.Position, now, p.ID)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("column %s: %w", p.ID, ErrNotFound)
			}
		}
		return nil
	})
}

// CreateCard inserts card at card.Position within its column. The caller's id
// is kept.
func (s *SQLStore) CreateCard(ctx context.Context, card model.Card) (model.Card, error) {
	card.Title = strings.TrimSpace(card.Title)
	if card.ID == "" || card.Title == "" || card.ColumnID == "" {
		return model.Card{}, fmt.Errorf("%w: card id, column and title are required", ErrInvalid)
	}
	card = model.NormalizeCard(card)
	labels, attachments, members, err := encodeRefs(card)
	if err != nil {
		return model.Card{}, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		col, err := s.getColumn(ctx, tx, card.ColumnID)
		if err != nil {
			return err
		}
		var exists int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM cards WHERE id = ?`, card.ID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("card %s: %w", card.ID, ErrConflict)
		}
		var count int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM cards WHERE column_id = ?`, card.ColumnID).Scan(&count); err != nil {
			return err
		}
		if col.CardLimit != nil && count >= *col.CardLimit {
			return fmt.Errorf("column %s is full: %w", col.ID, ErrConflict)
		}
		card.Position = clampPosition(card.Position, count)
		if _, err := s.exec(ctx, tx, `UPDATE cards SET pos = pos + 1 WHERE column_id = ? AND pos >= ?`, card.ColumnID, card.Position); err != nil {
			return err
		}
		now := s.stamp()
		_, err = s.exec(ctx, tx, `
INSERT INTO cards (id, column_id, title, description, pos, due_at, labels, attachments, members, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			card.ID, card.ColumnID, card.Title, card.Description, card.Position, nullableTime(card.DueAt),
			labels, attachments, members, now, now)
		return err
	})
	if err != nil {
		return model.Card{}, err
	}
	return s.GetCard(ctx, card.ID)
}

// UpdateCard applies patch. found is false when the card does not exist.
func (s *SQLStore) UpdateCard(ctx context.Context, id string, patch model.CardPatch) (model.Card, bool, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return model.Card{}, false, fmt.Errorf("%w: title must not be empty", ErrInvalid)
	}
	card, err := s.GetCard(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return model.Card{}, false, nil
	}
	if err != nil {
		return model.Card{}, false, err
	}
	updated := patch.Apply(card, s.now())
	labels, attachments, members, err := encodeRefs(updated)
	if err != nil {
		return model.Card{}, false, err
	}
	if _, err := s.exec(ctx, s.db, `
UPDATE cards SET title = ?, description = ?, due_at = ?, labels = ?, attachments = ?, members = ?, updated_at = ?
WHERE id = ?`,
		updated.Title, updated.Description, nullableTime(updated.DueAt), labels, attachments, members,
		formatTime(updated.UpdatedAt), id); err != nil {
		return model.Card{}, false, err
	}
	updated, err = s.GetCard(ctx, id)
	return updated, err == nil, err
}

// DeleteCard removes the card and its action records, then renumbers the
// column it was in.
func (s *SQLStore) DeleteCard(ctx context.Context, id string) (bool, error) {
	found := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		card, err := s.getCard(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if _, err := s.exec(ctx, tx, `DELETE FROM action_records WHERE card_id = ?`, id); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM cards WHERE id = ?`, id); err != nil {
			return err
		}
		return s.renumberCards(ctx, tx, card.ColumnID)
	})
	return found, err
}

// BatchUpdateCardPositions applies a complete set of positions atomically.
// Entries with a ColumnID also move the card to that column.
func (s *SQLStore) BatchUpdateCardPositions(ctx context.Context, positions []model.CardPosition) error {
	if len(positions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		for _, p := range positions {
			var (
				res sql.Result
				err error
			)
			if p.ColumnID != "" {
				if _, err := s.getColumn(ctx, tx, p.ColumnID); err != nil {
					return err
				}
				res, err = s.exec(ctx, tx, `UPDATE cards SET column_id = ?, pos = ?, updated_at = ? WHERE id = ?`, p.ColumnID, p.Position, now, p.ID)
			} else {
				res, err = s.exec(ctx, tx, `UPDATE cards SET pos = ?, updated_at = ? WHERE id = ?`, p.Position, now, p.ID)
			}
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("card %s: %w", p.ID, ErrNotFound)
			}
		}
		return nil
	})
}

func (s *SQLStore) renumberCards(ctx context.Context, tx *sql.Tx, columnID string) error {
	return s.renumber(ctx, tx, `SELECT id FROM cards WHERE column_id = ? ORDER BY pos ASC, id ASC`, `UPDATE cards SET pos = ? WHERE id = ?`, columnID)
}

func (s *SQLStore) renumberColumns(ctx context.Context, tx *sql.Tx, boardID string) error {
	return s.renumber(ctx, tx, `SELECT id FROM board_columns WHERE board_id = ? ORDER BY pos ASC, id ASC`, `UPDATE board_columns SET pos = ? WHERE id = ?`, boardID)
}

func (s *SQLStore) renumber(ctx context.Context, tx *sql.Tx, selectQuery, updateQuery, parentID string) error {
	rows, err := s.query(ctx, tx, selectQuery, parentID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := s.exec(ctx, tx, updateQuery, i, id); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanColumn(row scanner) (model.Column, error) {
	var (
		col              model.Column
		visibility       string
		limit            sql.NullInt64
		created, updated string
	)
	if err := row.Scan(&col.ID, &col.BoardID, &col.Title, &visibility, &col.Position, &limit, &created, &updated); err != nil {
		return model.Column{}, err
	}
	col.Visibility = model.Visibility(visibility)
	if limit.Valid {
		v := int(limit.Int64)
		col.CardLimit = &v
	}
	var err error
	if col.CreatedAt, err = parseTime(created); err != nil {
		return model.Column{}, err
	}
	if col.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Column{}, err
	}
	col.Cards = []model.Card{}
	return col, nil
}

func scanCard(row scanner) (model.Card, error) {
	var (
		card                         model.Card
		due                          sql.NullString
		labels, attachments, members string
		created, updated             string
	)
	if err := row.Scan(&card.ID, &card.ColumnID, &card.Title, &card.Description, &card.Position, &due,
		&labels, &attachments, &members, &created, &updated); err != nil {
		return model.Card{}, err
	}
	if due.Valid && due.String != "" {
		t, err := parseTime(due.String)
		if err != nil {
			return model.Card{}, err
		}
		card.DueAt = &t
	}
	if err := json.Unmarshal([]byte(labels), &card.Labels); err != nil {
		return model.Card{}, fmt.Errorf("decode labels of %s: %w", card.ID, err)
	}
	if err := json.Unmarshal([]byte(attachments), &card.Attachments); err != nil {
		return model.Card{}, fmt.Errorf("decode attachments of %s: %w", card.ID, err)
	}
	if err := json.Unmarshal([]byte(members), &card.Members); err != nil {
		return model.Card{}, fmt.Errorf("decode members of %s: %w", card.ID, err)
	}
	var err error
	if card.CreatedAt, err = parseTime(created); err != nil {
		return model.Card{}, err
	}
	if card.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Card{}, err
	}
	return model.NormalizeCard(card), nil
}

func encodeRefs(card model.Card) (labels, attachments, members string, err error) {
	card = model.NormalizeCard(card)
	l, err := json.Marshal(card.Labels)
	if err != nil {
		return "", "", "", err
	}
	a, err := json.Marshal(card.Attachments)
	if err != nil {
		return "", "", "", err
	}
	m, err := json.Marshal(card.Members)
	if err != nil {
		return "", "", "", err
	}
	return string(l), string(a), string(m), nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatTime(*v)
}

func clampPosition(pos, count int) int {
	if pos < 0 || pos > count {
		return count
	}
	return pos
}
