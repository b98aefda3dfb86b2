package model

import "time"

type EventType string

const (
	EventTypeBoardBootstrapped EventType = "board.bootstrapped"
	EventTypeColumnCreated     EventType = "column.created"
	EventTypeColumnUpdated     EventType = "column.updated"
	EventTypeColumnDeleted     EventType = "column.deleted"
	EventTypeColumnsReordered  EventType = "columns.reordered"
	EventTypeCardCreated       EventType = "card.created"
	EventTypeCardUpdated       EventType = "card.updated"
	EventTypeCardDeleted       EventType = "card.deleted"
	EventTypeCardsRepositioned EventType = "cards.repositioned"
	EventTypeActionRecorded    EventType = "action.recorded"
	EventTypeSettingChanged    EventType = "setting.changed"
	EventTypePresenceJoined    EventType = "presence.joined"
	EventTypePresenceLeft      EventType = "presence.left"
	EventTypeResyncRequired    EventType = "resync.required"
)

var websocketEventTypes = []EventType{
	EventTypeBoardBootstrapped,
	EventTypeColumnCreated,
	EventTypeColumnUpdated,
	EventTypeColumnDeleted,
	EventTypeColumnsReordered,
	EventTypeCardCreated,
	EventTypeCardUpdated,
	EventTypeCardDeleted,
	EventTypeCardsRepositioned,
	EventTypeActionRecorded,
	EventTypeSettingChanged,
	EventTypePresenceJoined,
	EventTypePresenceLeft,
	EventTypeResyncRequired,
}

func WebSocketEventTypes() []EventType {
	out := make([]EventType, len(websocketEventTypes))
	copy(out, websocketEventTypes)
	return out
}

// Event is what the server hub pushes to websocket watchers.
type Event struct {
	Type      EventType `json:"type"`
	Board     string    `json:"board"`
	ColumnID  string    `json:"column_id,omitempty"`
	CardID    string    `json:"card_id,omitempty"`
	ViewerID  string    `json:"viewer_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
