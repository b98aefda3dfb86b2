package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/simonjohansson/taskboard/internal/model"
)

func (s *Server) registerCardOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "createCard",
		Method:        http.MethodPost,
		Path:          "/cards",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create card",
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, s.createCard)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateCard",
		Method:      http.MethodPatch,
		Path:        "/cards/{card}",
		Summary:     "Update card fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.updateCard)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteCard",
		Method:        http.MethodDelete,
		Path:          "/cards/{card}",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Delete card and its action records",
		Errors:        []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.deleteCard)

	huma.Register(s.api, huma.Operation{
		OperationID:   "repositionCards",
		Method:        http.MethodPut,
		Path:          "/cards/positions",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Apply card positions atomically",
		Description:   "Entries carrying column_id also move the card to that column. Either every entry applies or none does.",
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.repositionCards)
}

type createCardRequest struct {
	ID          string             `json:"id" doc:"Client-generated id, kept end to end"`
	ColumnID    string             `json:"column_id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Position    *int               `json:"position,omitempty" doc:"Index to insert at; appended when omitted"`
	DueAt       *time.Time         `json:"due_at,omitempty"`
	Labels      []string           `json:"labels,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	Members     []string           `json:"members,omitempty"`
}

type createCardInput struct {
	Body createCardRequest
}

type cardOutput struct {
	Body model.Card
}

func (s *Server) createCard(ctx context.Context, input *createCardInput) (*cardOutput, error) {
	position := -1
	if input.Body.Position != nil {
		position = *input.Body.Position
	}
	card, err := s.service.CreateCard(ctx, model.Card{
		ID:          input.Body.ID,
		ColumnID:    input.Body.ColumnID,
		Title:       input.Body.Title,
		Description: input.Body.Description,
		Position:    position,
		DueAt:       input.Body.DueAt,
		Labels:      input.Body.Labels,
		Attachments: input.Body.Attachments,
		Members:     input.Body.Members,
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	return &cardOutput{Body: card}, nil
}

type updateCardInput struct {
	Card string `path:"card"`
	Body model.CardPatch
}

func (s *Server) updateCard(ctx context.Context, input *updateCardInput) (*cardOutput, error) {
	card, err := s.service.UpdateCard(ctx, input.Card, input.Body)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &cardOutput{Body: card}, nil
}

type cardPathInput struct {
	Card string `path:"card"`
}

func (s *Server) deleteCard(ctx context.Context, input *cardPathInput) (*struct{}, error) {
	if err := s.service.DeleteCard(ctx, input.Card); err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}

type repositionCardsInput struct {
	Body struct {
		Positions []model.CardPosition `json:"positions"`
	}
}

func (s *Server) repositionCards(ctx context.Context, input *repositionCardsInput) (*struct{}, error) {
	if err := s.service.RepositionCards(ctx, input.Body.Positions); err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}
