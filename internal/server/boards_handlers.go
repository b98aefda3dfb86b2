package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/simonjohansson/taskboard/internal/model"
)

func (s *Server) registerBoardOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getBoard",
		Method:      http.MethodGet,
		Path:        "/boards/{board}",
		Summary:     "Get board",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.getBoard)

	huma.Register(s.api, huma.Operation{
		OperationID: "listColumns",
		Method:      http.MethodGet,
		Path:        "/boards/{board}/columns",
		Summary:     "List columns with their cards",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.listColumns)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createColumn",
		Method:        http.MethodPost,
		Path:          "/boards/{board}/columns",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create column",
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, s.createColumn)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateColumn",
		Method:      http.MethodPatch,
		Path:        "/columns/{column}",
		Summary:     "Update column",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.updateColumn)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteColumn",
		Method:        http.MethodDelete,
		Path:          "/columns/{column}",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Delete column, its cards and their action records",
		Errors:        []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.deleteColumn)

	huma.Register(s.api, huma.Operation{
		OperationID:   "reorderColumns",
		Method:        http.MethodPut,
		Path:          "/boards/{board}/columns/positions",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Apply column positions atomically",
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.reorderColumns)
}

type boardPathInput struct {
	Board string `path:"board"`
}

type getBoardOutput struct {
	Body model.Board
}

func (s *Server) getBoard(ctx context.Context, input *boardPathInput) (*getBoardOutput, error) {
	board, err := s.service.GetBoard(ctx, input.Board)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &getBoardOutput{Body: board}, nil
}

type listColumnsOutput struct {
	Body struct {
		Columns []model.Column `json:"columns"`
	}
}

func (s *Server) listColumns(ctx context.Context, input *boardPathInput) (*listColumnsOutput, error) {
	columns, err := s.service.ListColumns(ctx, input.Board)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &listColumnsOutput{}
	out.Body.Columns = columns
	return out, nil
}

type createColumnRequest struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Visibility model.Visibility `json:"visibility,omitempty" enum:"open,restricted,admin-only"`
	Position   *int             `json:"position,omitempty" doc:"Index to insert at; appended when omitted"`
	CardLimit  *int             `json:"card_limit,omitempty" minimum:"0"`
}

type createColumnInput struct {
	Board string `path:"board"`
	Body  createColumnRequest
}

type columnOutput struct {
	Body model.Column
}

func (s *Server) createColumn(ctx context.Context, input *createColumnInput) (*columnOutput, error) {
	position := -1
	if input.Body.Position != nil {
		position = *input.Body.Position
	}
	col, err := s.service.CreateColumn(ctx, model.Column{
		ID:         input.Body.ID,
		BoardID:    input.Board,
		Title:      input.Body.Title,
		Visibility: input.Body.Visibility,
		Position:   position,
		CardLimit:  input.Body.CardLimit,
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	return &columnOutput{Body: col}, nil
}

type updateColumnInput struct {
	Column string `path:"column"`
	Body   model.ColumnPatch
}

func (s *Server) updateColumn(ctx context.Context, input *updateColumnInput) (*columnOutput, error) {
	col, err := s.service.UpdateColumn(ctx, input.Column, input.Body)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &columnOutput{Body: col}, nil
}

type columnPathInput struct {
	Column string `path:"column"`
}

func (s *Server) deleteColumn(ctx context.Context, input *columnPathInput) (*struct{}, error) {
	if err := s.service.DeleteColumn(ctx, input.Column); err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}

type reorderColumnsInput struct {
	Board string `path:"board"`
	Body  struct {
		Positions []model.ColumnPosition `json:"positions"`
	}
}

func (s *Server) reorderColumns(ctx context.Context, input *reorderColumnsInput) (*struct{}, error) {
	if err := s.service.ReorderColumns(ctx, input.Board, input.Body.Positions); err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}
