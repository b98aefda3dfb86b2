package model

import (
	"encoding/json"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"
)

type Visibility string

const (
	VisibilityOpen       Visibility = "open"
	VisibilityRestricted Visibility = "restricted"
	VisibilityAdminOnly  Visibility = "admin-only"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityOpen, VisibilityRestricted, VisibilityAdminOnly:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleDefault   Role = "default"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Viewer is the identity tuple supplied once per session. It is trusted verbatim.
type Viewer struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Role        Role   `json:"role" yaml:"role"`
}

type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

type Card struct {
	ID          string       `json:"id"`
	ColumnID    string       `json:"column_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Position    int          `json:"position"`
	DueAt       *time.Time   `json:"due_at,omitempty"`
	Labels      []string     `json:"labels"`
	Attachments []Attachment `json:"attachments"`
	Members     []string     `json:"members"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Column struct {
	ID         string     `json:"id"`
	BoardID    string     `json:"board_id"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	Position   int        `json:"position"`
	CardLimit  *int       `json:"card_limit,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Cards      []Card     `json:"cards"`
}

// CardPatch carries the fields of an updateCard request. Nil fields are left untouched.
type CardPatch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	DueAt       *time.Time    `json:"due_at,omitempty"`
	ClearDue    bool          `json:"clear_due,omitempty"`
	Labels      *[]string     `json:"labels,omitempty"`
	Members     *[]string     `json:"members,omitempty"`
	Attachments *[]Attachment `json:"attachments,omitempty"`
}

func (p CardPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueAt == nil && !p.ClearDue &&
		p.Labels == nil && p.Members == nil && p.Attachments == nil
}

// Apply returns card with the patch applied. Reference sets are normalised.
func (p CardPatch) Apply(card Card, now time.Time) Card {
	out := card.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.ClearDue {
		out.DueAt = nil
	} else if p.DueAt != nil {
		due := p.DueAt.UTC()
		out.DueAt = &due
	}
	if p.Labels != nil {
		out.Labels = NormalizeRefs(*p.Labels)
	}
	if p.Members != nil {
		out.Members = NormalizeRefs(*p.Members)
	}
	if p.Attachments != nil {
		out.Attachments = dedupeAttachments(*p.Attachments)
	}
	out.UpdatedAt = now.UTC()
	return NormalizeCard(out)
}

type ColumnPatch struct {
	Title      *string     `json:"title,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
	CardLimit  *int        `json:"card_limit,omitempty"`
	ClearLimit bool        `json:"clear_limit,omitempty"`
}

func (p ColumnPatch) Empty() bool {
	return p.Title == nil && p.Visibility == nil && p.CardLimit == nil && !p.ClearLimit
}

func (p ColumnPatch) Apply(col Column, now time.Time) Column {
	out := col.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Visibility != nil {
		out.Visibility = *p.Visibility
	}
	if p.ClearLimit {
		out.CardLimit = nil
	} else if p.CardLimit != nil {
		limit := *p.CardLimit
		out.CardLimit = &limit
	}
	out.UpdatedAt = now.UTC()
	return out
}

func dedupeAttachments(in []Attachment) []Attachment {
	out := make([]Attachment, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, att := range in {
		if _, ok := seen[att.ID]; ok || att.ID == "" {
			continue
		}
		seen[att.ID] = struct{}{}
		out = append(out, att)
	}
	return out
}

type CardPosition struct {
	ID       string `json:"id"`
	ColumnID string `json:"column_id,omitempty"`
	Position int    `json:"position"`
}

type ColumnPosition struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

type ActionKind string

const (
	ActionCreated           ActionKind = "created"
	ActionMoved             ActionKind = "moved"
	ActionEdited            ActionKind = "edited"
	ActionMemberAdded       ActionKind = "member_added"
	ActionMemberRemoved     ActionKind = "member_removed"
	ActionLabelChanged      ActionKind = "label_changed"
	ActionDueChanged        ActionKind = "due_changed"
	ActionAttachmentAdded   ActionKind = "attachment_added"
	ActionAttachmentRemoved ActionKind = "attachment_removed"
)

// ActionRecord is an immutable audit-trail entry for one semantic change to a card.
type ActionRecord struct {
	ID        string          `json:"id"`
	CardID    string          `json:"card_id"`
	ActorID   string          `json:"actor_id"`
	ActorName string          `json:"actor_name"`
	Kind      ActionKind      `json:"kind"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"created_at"`
}

type Presence struct {
	ViewerID    string    `json:"viewer_id"`
	BoardID     string    `json:"board_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	LastSeen    time.Time `json:"last_seen"`
}

type Snapshot struct {
	Board   Board    `json:"board"`
	Columns []Column `json:"columns"`
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Board: s.Board, Columns: make([]Column, len(s.Columns))}
	for i, col := range s.Columns {
		out.Columns[i] = col.Clone()
	}
	return out
}

func (c Column) Clone() Column {
	out := c
	if c.CardLimit != nil {
		limit := *c.CardLimit
		out.CardLimit = &limit
	}
	out.Cards = make([]Card, len(c.Cards))
	for i, card := range c.Cards {
		out.Cards[i] = card.Clone()
	}
	return out
}

func (c Card) Clone() Card {
	out := c
	if c.DueAt != nil {
		due := *c.DueAt
		out.DueAt = &due
	}
	out.Labels = slices.Clone(c.Labels)
	out.Members = slices.Clone(c.Members)
	out.Attachments = slices.Clone(c.Attachments)
	return out
}

// Normalize fills nil collections, sorts columns and cards by position and
// canonicalises timestamps so two snapshots with equal content compare equal.
func (s Snapshot) Normalize() Snapshot {
	out := s.Clone()
	if out.Columns == nil {
		out.Columns = []Column{}
	}
	out.Board.CreatedAt = out.Board.CreatedAt.UTC()
	out.Board.UpdatedAt = out.Board.UpdatedAt.UTC()
	sort.SliceStable(out.Columns, func(i, j int) bool {
		if out.Columns[i].Position == out.Columns[j].Position {
			return out.Columns[i].ID < out.Columns[j].ID
		}
		return out.Columns[i].Position < out.Columns[j].Position
	})
	for i := range out.Columns {
		col := &out.Columns[i]
		col.CreatedAt = col.CreatedAt.UTC()
		col.UpdatedAt = col.UpdatedAt.UTC()
		for j := range col.Cards {
			col.Cards[j] = NormalizeCard(col.Cards[j])
		}
		sort.SliceStable(col.Cards, func(a, b int) bool {
			if col.Cards[a].Position == col.Cards[b].Position {
				return col.Cards[a].ID < col.Cards[b].ID
			}
			return col.Cards[a].Position < col.Cards[b].Position
		})
	}
	return out
}

// Equivalent reports whether s and other hold the same board content. Created
// and updated timestamps are ignored since the store stamps its own.
func (s Snapshot) Equivalent(other Snapshot) bool {
	return reflect.DeepEqual(s.Normalize().withoutTimestamps(), other.Normalize().withoutTimestamps())
}

// withoutTimestamps zeroes the created/updated stamps in place. s must not
// share slices with a snapshot still in use.
func (s Snapshot) withoutTimestamps() Snapshot {
	s.Board.CreatedAt, s.Board.UpdatedAt = time.Time{}, time.Time{}
	for i := range s.Columns {
		col := &s.Columns[i]
		col.CreatedAt, col.UpdatedAt = time.Time{}, time.Time{}
		for j := range col.Cards {
			col.Cards[j].CreatedAt, col.Cards[j].UpdatedAt = time.Time{}, time.Time{}
		}
	}
	return s
}

func NormalizeCard(card Card) Card {
	if card.Labels == nil {
		card.Labels = []string{}
	}
	if card.Members == nil {
		card.Members = []string{}
	}
	if card.Attachments == nil {
		card.Attachments = []Attachment{}
	}
	card.CreatedAt = card.CreatedAt.UTC()
	card.UpdatedAt = card.UpdatedAt.UTC()
	if card.DueAt != nil {
		due := card.DueAt.UTC()
		card.DueAt = &due
	}
	return card
}

func (s Snapshot) ColumnIndex(columnID string) int {
	for i, col := range s.Columns {
		if col.ID == columnID {
			return i
		}
	}
	return -1
}

// FindCard returns the column index and card index of cardID, or -1, -1.
func (s Snapshot) FindCard(cardID string) (int, int) {
	for i, col := range s.Columns {
		for j, card := range col.Cards {
			if card.ID == cardID {
				return i, j
			}
		}
	}
	return -1, -1
}

func (c Column) CardIDs() []string {
	ids := make([]string, len(c.Cards))
	for i, card := range c.Cards {
		ids[i] = card.ID
	}
	return ids
}

func (c Column) Full() bool {
	return c.CardLimit != nil && len(c.Cards) >= *c.CardLimit
}

// NormalizeRefs trims, dedupes and sorts a set of references.
func NormalizeRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || slices.Contains(out, ref) {
			continue
		}
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}
