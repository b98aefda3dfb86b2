package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/simonjohansson/taskboard/internal/model"
)

// CreateActionRecord stores record. It reports false when a record with the
// same id already exists; records are never overwritten.
func (s *SQLStore) CreateActionRecord(ctx context.Context, record model.ActionRecord) (bool, error) {
	if record.ID == "" || record.CardID == "" || record.ActorID == "" || record.Kind == "" {
		return false, fmt.Errorf("%w: record id, card, actor and kind are required", ErrInvalid)
	}
	detail := string(record.Detail)
	if detail == "" {
		detail = "null"
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	res, err := s.exec(ctx, s.db, `
INSERT INTO action_records (id, card_id, actor_id, actor_name, kind, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		record.ID, record.CardID, record.ActorID, record.ActorName, string(record.Kind), detail, formatTime(record.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert action record %s: %w", record.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) ListActionRecords(ctx context.Context, cardID string) ([]model.ActionRecord, error) {
	rows, err := s.query(ctx, s.db, `
SELECT id, card_id, actor_id, actor_name, kind, detail, created_at
FROM action_records
WHERE card_id = ?
ORDER BY created_at ASC, id ASC`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]model.ActionRecord, 0)
	for rows.Next() {
		var (
			rec     model.ActionRecord
			kind    string
			detail  string
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.CardID, &rec.ActorID, &rec.ActorName, &kind, &detail, &created); err != nil {
			return nil, err
		}
		rec.Kind = model.ActionKind(kind)
		rec.Detail = []byte(detail)
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.queryRow(ctx, s.db, `SELECT value FROM settings WHERE name = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLStore) SetSetting(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: setting key is required", ErrInvalid)
	}
	_, err := s.exec(ctx, s.db, `
INSERT INTO settings (name, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.stamp())
	return err
}

// Heartbeat records that a viewer is present on a board.
func (s *SQLStore) Heartbeat(ctx context.Context, p model.Presence) error {
	if p.BoardID == "" || p.ViewerID == "" {
		return fmt.Errorf("%w: board and viewer are required", ErrInvalid)
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = s.now()
	}
	_, err := s.exec(ctx, s.db, `
INSERT INTO presence (board_id, viewer_id, display_name, role, last_seen)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(board_id, viewer_id) DO UPDATE SET
  display_name = excluded.display_name,
  role = excluded.role,
  last_seen = excluded.last_seen`,
		p.BoardID, p.ViewerID, p.DisplayName, string(p.Role), formatTime(p.LastSeen))
	return err
}

func (s *SQLStore) Depart(ctx context.Context, boardID, viewerID string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM presence WHERE board_id = ? AND viewer_id = ?`, boardID, viewerID)
	return err
}

// ListPresence returns viewers seen on the board since the given time.
func (s *SQLStore) ListPresence(ctx context.Context, boardID string, since time.Time) ([]model.Presence, error) {
	rows, err := s.query(ctx, s.db, `
SELECT board_id, viewer_id, display_name, role, last_seen
FROM presence
WHERE board_id = ? AND last_seen >= ?
ORDER BY viewer_id ASC`, boardID, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Presence, 0)
	for rows.Next() {
		var (
			p        model.Presence
			role     string
			lastSeen string
		)
		if err := rows.Scan(&p.BoardID, &p.ViewerID, &p.DisplayName, &role, &lastSeen); err != nil {
			return nil, err
		}
		p.Role = model.Role(role)
		if p.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
