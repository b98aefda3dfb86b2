package storeclient

import (
	"context"
	"net/http"
	"time"

	"github.com/simonjohansson/taskboard/internal/model"
)

func (c *Client) GetBoard(ctx context.Context, boardID string) (model.Board, error) {
	path, err := c.path("/boards/%s", [2]string{"board", boardID})
	if err != nil {
		return model.Board{}, err
	}
	var board model.Board
	if _, err := c.do(ctx, http.MethodGet, path, nil, &board); err != nil {
		return model.Board{}, err
	}
	return board, nil
}

func (c *Client) ListColumns(ctx context.Context, boardID string) ([]model.Column, error) {
	path, err := c.path("/boards/%s/columns", [2]string{"board", boardID})
	if err != nil {
		return nil, err
	}
	var out struct {
		Columns []model.Column `json:"columns"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Columns, nil
}

type createColumnBody struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Visibility model.Visibility `json:"visibility,omitempty"`
	Position   *int             `json:"position,omitempty"`
	CardLimit  *int             `json:"card_limit,omitempty"`
}

func (c *Client) CreateColumn(ctx context.Context, col model.Column) (model.Column, error) {
	boardID := col.BoardID
	if boardID == "" {
		boardID = c.boardID
	}
	path, err := c.path("/boards/%s/columns", [2]string{"board", boardID})
	if err != nil {
		return model.Column{}, err
	}
	body := createColumnBody{ID: col.ID, Title: col.Title, Visibility: col.Visibility, CardLimit: col.CardLimit}
	if col.Position >= 0 {
		position := col.Position
		body.Position = &position
	}
	var created model.Column
	if _, err := c.do(ctx, http.MethodPost, path, body, &created); err != nil {
		return model.Column{}, err
	}
	return created, nil
}

// UpdateColumn reports found=false when the server has no such column.
func (c *Client) UpdateColumn(ctx context.Context, id string, patch model.ColumnPatch) (model.Column, bool, error) {
	path, err := c.path("/columns/%s", [2]string{"column", id})
	if err != nil {
		return model.Column{}, false, err
	}
	var col model.Column
	status, err := c.do(ctx, http.MethodPatch, path, patch, &col, http.StatusNotFound)
	if err != nil {
		return model.Column{}, false, err
	}
	if status == http.StatusNotFound {
		return model.Column{}, false, nil
	}
	return col, true, nil
}

func (c *Client) DeleteColumn(ctx context.Context, id string) (bool, error) {
	path, err := c.path("/columns/%s", [2]string{"column", id})
	if err != nil {
		return false, err
	}
	status, err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusNotFound)
	if err != nil {
		return false, err
	}
	return status != http.StatusNotFound, nil
}

func (c *Client) BatchUpdateColumnPositions(ctx context.Context, positions []model.ColumnPosition) error {
	path, err := c.path("/boards/%s/columns/positions", [2]string{"board", c.boardID})
	if err != nil {
		return err
	}
	body := struct {
		Positions []model.ColumnPosition `json:"positions"`
	}{Positions: positions}
	_, err = c.do(ctx, http.MethodPut, path, body, nil)
	return err
}

type createCardBody struct {
	ID          string             `json:"id"`
	ColumnID    string             `json:"column_id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Position    *int               `json:"position,omitempty"`
	DueAt       *time.Time         `json:"due_at,omitempty"`
	Labels      []string           `json:"labels,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	Members     []string           `json:"members,omitempty"`
}

func (c *Client) CreateCard(ctx context.Context, card model.Card) (model.Card, error) {
	body := createCardBody{
		ID:          card.ID,
		ColumnID:    card.ColumnID,
		Title:       card.Title,
		Description: card.Description,
		DueAt:       card.DueAt,
		Labels:      card.Labels,
		Attachments: card.Attachments,
		Members:     card.Members,
	}
	if card.Position >= 0 {
		position := card.Position
		body.Position = &position
	}
	var created model.Card
	if _, err := c.do(ctx, http.MethodPost, "/cards", body, &created); err != nil {
		return model.Card{}, err
	}
	return created, nil
}

// UpdateCard reports found=false when the server has no such card.
func (c *Client) UpdateCard(ctx context.Context, id string, patch model.CardPatch) (model.Card, bool, error) {
	path, err := c.path("/cards/%s", [2]string{"card", id})
	if err != nil {
		return model.Card{}, false, err
	}
	var card model.Card
	status, err := c.do(ctx, http.MethodPatch, path, patch, &card, http.StatusNotFound)
	if err != nil {
		return model.Card{}, false, err
	}
	if status == http.StatusNotFound {
		return model.Card{}, false, nil
	}
	return card, true, nil
}

func (c *Client) DeleteCard(ctx context.Context, id string) (bool, error) {
	path, err := c.path("/cards/%s", [2]string{"card", id})
	if err != nil {
		return false, err
	}
	status, err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusNotFound)
	if err != nil {
		return false, err
	}
	return status != http.StatusNotFound, nil
}

func (c *Client) BatchUpdateCardPositions(ctx context.Context, positions []model.CardPosition) error {
	body := struct {
		Positions []model.CardPosition `json:"positions"`
	}{Positions: positions}
	_, err := c.do(ctx, http.MethodPut, "/cards/positions", body, nil)
	return err
}

type createActionRecordBody struct {
	ID        string           `json:"id"`
	ActorID   string           `json:"actor_id"`
	ActorName string           `json:"actor_name,omitempty"`
	Kind      model.ActionKind `json:"kind"`
	Detail    any              `json:"detail,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func (c *Client) CreateActionRecord(ctx context.Context, record model.ActionRecord) (bool, error) {
	path, err := c.path("/cards/%s/actions", [2]string{"card", record.CardID})
	if err != nil {
		return false, err
	}
	body := createActionRecordBody{
		ID:        record.ID,
		ActorID:   record.ActorID,
		ActorName: record.ActorName,
		Kind:      record.Kind,
		CreatedAt: record.CreatedAt,
	}
	if len(record.Detail) > 0 {
		body.Detail = record.Detail
	}
	var out struct {
		Created bool `json:"created"`
	}
	if _, err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return false, err
	}
	return out.Created, nil
}

func (c *Client) ListActionRecords(ctx context.Context, cardID string) ([]model.ActionRecord, error) {
	path, err := c.path("/cards/%s/actions", [2]string{"card", cardID})
	if err != nil {
		return nil, err
	}
	var out struct {
		Records []model.ActionRecord `json:"records"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// GetSetting reports found=false when the key has never been set.
func (c *Client) GetSetting(ctx context.Context, key string) (string, bool, error) {
	path, err := c.path("/settings/%s", [2]string{"key", key})
	if err != nil {
		return "", false, err
	}
	var out struct {
		Value string `json:"value"`
	}
	status, err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusNotFound)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}
	return out.Value, true, nil
}

func (c *Client) SetSetting(ctx context.Context, key, value string) error {
	path, err := c.path("/settings/%s", [2]string{"key", key})
	if err != nil {
		return err
	}
	body := struct {
		Value string `json:"value"`
	}{Value: value}
	_, err = c.do(ctx, http.MethodPut, path, body, nil)
	return err
}

func (c *Client) Heartbeat(ctx context.Context, p model.Presence) error {
	boardID := p.BoardID
	if boardID == "" {
		boardID = c.boardID
	}
	path, err := c.path("/boards/%s/presence/%s", [2]string{"board", boardID}, [2]string{"viewer", p.ViewerID})
	if err != nil {
		return err
	}
	body := struct {
		DisplayName string     `json:"display_name,omitempty"`
		Role        model.Role `json:"role,omitempty"`
	}{DisplayName: p.DisplayName, Role: p.Role}
	_, err = c.do(ctx, http.MethodPut, path, body, nil)
	return err
}

func (c *Client) Depart(ctx context.Context, boardID, viewerID string) error {
	path, err := c.path("/boards/%s/presence/%s", [2]string{"board", boardID}, [2]string{"viewer", viewerID})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *Client) ListPresence(ctx context.Context, boardID string) ([]model.Presence, error) {
	path, err := c.path("/boards/%s/presence", [2]string{"board", boardID})
	if err != nil {
		return nil, err
	}
	var out struct {
		Viewers []model.Presence `json:"viewers"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Viewers, nil
}
