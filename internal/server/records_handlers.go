package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/simonjohansson/taskboard/internal/model"
)

func (s *Server) registerRecordOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "createActionRecord",
		Method:      http.MethodPost,
		Path:        "/cards/{card}/actions",
		Summary:     "Append an action record",
		Description: "Records are append-only. Posting an id that already exists leaves the stored record untouched and reports created=false.",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, s.createActionRecord)

	huma.Register(s.api, huma.Operation{
		OperationID: "listActionRecords",
		Method:      http.MethodGet,
		Path:        "/cards/{card}/actions",
		Summary:     "List action records of a card, oldest first",
		Errors:      []int{http.StatusInternalServerError},
	}, s.listActionRecords)

	huma.Register(s.api, huma.Operation{
		OperationID: "getSetting",
		Method:      http.MethodGet,
		Path:        "/settings/{key}",
		Summary:     "Get setting",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.getSetting)

	huma.Register(s.api, huma.Operation{
		OperationID: "setSetting",
		Method:      http.MethodPut,
		Path:        "/settings/{key}",
		Summary:     "Set setting",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, s.setSetting)

	huma.Register(s.api, huma.Operation{
		OperationID:   "heartbeat",
		Method:        http.MethodPut,
		Path:          "/boards/{board}/presence/{viewer}",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Record viewer presence",
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, s.heartbeat)

	huma.Register(s.api, huma.Operation{
		OperationID:   "depart",
		Method:        http.MethodDelete,
		Path:          "/boards/{board}/presence/{viewer}",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Remove viewer presence",
		Errors:        []int{http.StatusInternalServerError},
	}, s.depart)

	huma.Register(s.api, huma.Operation{
		OperationID: "listPresence",
		Method:      http.MethodGet,
		Path:        "/boards/{board}/presence",
		Summary:     "List viewers with a recent heartbeat",
		Errors:      []int{http.StatusInternalServerError},
	}, s.listPresence)
}

type createActionRecordRequest struct {
	ID        string           `json:"id"`
	ActorID   string           `json:"actor_id"`
	ActorName string           `json:"actor_name,omitempty"`
	Kind      model.ActionKind `json:"kind"`
	Detail    any              `json:"detail,omitempty"`
	CreatedAt time.Time        `json:"created_at,omitempty"`
}

type createActionRecordInput struct {
	Card string `path:"card"`
	Body createActionRecordRequest
}

type createActionRecordOutput struct {
	Body struct {
		Created bool `json:"created"`
	}
}

func (s *Server) createActionRecord(ctx context.Context, input *createActionRecordInput) (*createActionRecordOutput, error) {
	var detail json.RawMessage
	if input.Body.Detail != nil {
		raw, err := json.Marshal(input.Body.Detail)
		if err != nil {
			return nil, huma.Error400BadRequest("detail is not valid json")
		}
		detail = raw
	}
	created, err := s.service.CreateActionRecord(ctx, model.ActionRecord{
		ID:        input.Body.ID,
		CardID:    input.Card,
		ActorID:   input.Body.ActorID,
		ActorName: input.Body.ActorName,
		Kind:      input.Body.Kind,
		Detail:    detail,
		CreatedAt: input.Body.CreatedAt,
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &createActionRecordOutput{}
	out.Body.Created = created
	return out, nil
}

type listActionRecordsOutput struct {
	Body struct {
		Records []model.ActionRecord `json:"records"`
	}
}

func (s *Server) listActionRecords(ctx context.Context, input *cardPathInput) (*listActionRecordsOutput, error) {
	records, err := s.service.ListActionRecords(ctx, input.Card)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &listActionRecordsOutput{}
	out.Body.Records = records
	return out, nil
}

type settingPathInput struct {
	Key string `path:"key"`
}

type settingOutput struct {
	Body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
}

func (s *Server) getSetting(ctx context.Context, input *settingPathInput) (*settingOutput, error) {
	value, err := s.service.GetSetting(ctx, input.Key)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &settingOutput{}
	out.Body.Key = input.Key
	out.Body.Value = value
	return out, nil
}

type setSettingInput struct {
	Key  string `path:"key"`
	Body struct {
		Value string `json:"value"`
	}
}

func (s *Server) setSetting(ctx context.Context, input *setSettingInput) (*settingOutput, error) {
	if err := s.service.SetSetting(ctx, input.Key, input.Body.Value); err != nil {
		return nil, toHumaError(err)
	}
	out := &settingOutput{}
	out.Body.Key = input.Key
	out.Body.Value = input.Body.Value
	return out, nil
}

type heartbeatInput struct {
	Board  string `path:"board"`
	Viewer string `path:"viewer"`
	Body   struct {
		DisplayName string     `json:"display_name,omitempty"`
		Role        model.Role `json:"role,omitempty"`
	}
}

func (s *Server) heartbeat(ctx context.Context, input *heartbeatInput) (*struct{}, error) {
	err := s.service.Heartbeat(ctx, model.Presence{
		BoardID:     input.Board,
		ViewerID:    input.Viewer,
		DisplayName: input.Body.DisplayName,
		Role:        input.Body.Role,
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}

type presencePathInput struct {
	Board  string `path:"board"`
	Viewer string `path:"viewer"`
}

func (s *Server) depart(ctx context.Context, input *presencePathInput) (*struct{}, error) {
	if err := s.service.Depart(ctx, input.Board, input.Viewer); err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}

type listPresenceOutput struct {
	Body struct {
		Viewers []model.Presence `json:"viewers"`
	}
}

func (s *Server) listPresence(ctx context.Context, input *boardPathInput) (*listPresenceOutput, error) {
	viewers, err := s.service.ListPresence(ctx, input.Board)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &listPresenceOutput{}
	out.Body.Viewers = viewers
	return out, nil
}
