package ledger

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/simonjohansson/taskboard/internal/model"
)

type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Detail is the payload stored in ActionRecord.Detail.
type Detail struct {
	Field string `json:"field,omitempty"`
	Old   string `json:"old,omitempty"`
	New   string `json:"new,omitempty"`

	Changes []FieldChange `json:"changes,omitempty"`

	FromColumnID    string `json:"from_column_id,omitempty"`
	FromColumnTitle string `json:"from_column_title,omitempty"`
	ToColumnID      string `json:"to_column_id,omitempty"`
	ToColumnTitle   string `json:"to_column_title,omitempty"`

	Title      string            `json:"title,omitempty"`
	Member     string            `json:"member,omitempty"`
	Attachment *model.Attachment `json:"attachment,omitempty"`
}

// Entry is a decoded record ready for display.
type Entry struct {
	Record      model.ActionRecord
	Detail      Detail
	Unparseable bool
}

// Decode parses the record's detail blob. A malformed blob yields an entry
// marked Unparseable instead of an error.
func Decode(record model.ActionRecord) Entry {
	entry := Entry{Record: record}
	if len(record.Detail) == 0 {
		return entry
	}
	if err := json.Unmarshal(record.Detail, &entry.Detail); err != nil {
		entry.Unparseable = true
		entry.Detail = Detail{}
	}
	return entry
}

// ForDisplay decodes records newest first.
func ForDisplay(records []model.ActionRecord) []Entry {
	sorted := slices.Clone(records)
	sortAscending(sorted)
	out := make([]Entry, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		out = append(out, Decode(sorted[i]))
	}
	return out
}

func CreatedDetail(card model.Card, column model.Column) Detail {
	return Detail{Title: card.Title, ToColumnID: column.ID, ToColumnTitle: column.Title}
}

func MovedDetail(from, to model.Column) Detail {
	return Detail{
		FromColumnID:    from.ID,
		FromColumnTitle: from.Title,
		ToColumnID:      to.ID,
		ToColumnTitle:   to.Title,
	}
}

// HideColumns blanks the from/to column references that hidden reports true
// for. changed is false when d is returned as is.
func (d Detail) HideColumns(hidden func(columnID string) bool) (out Detail, changed bool) {
	out = d
	if (d.FromColumnID != "" || d.FromColumnTitle != "") && hidden(d.FromColumnID) {
		out.FromColumnID, out.FromColumnTitle = "", ""
		changed = true
	}
	if (d.ToColumnID != "" || d.ToColumnTitle != "") && hidden(d.ToColumnID) {
		out.ToColumnID, out.ToColumnTitle = "", ""
		changed = true
	}
	return out, changed
}

func MemberDetail(member string) Detail {
	return Detail{Field: "members", Member: member}
}

func AttachmentDetail(att model.Attachment) Detail {
	return Detail{Field: "attachments", Attachment: &att}
}

// DescribeUpdate returns the single record describing the difference between
// before and after. ok is false when nothing recordable changed. When several
// fields change, Field/Old/New hold the first of them (title first) and
// Changes lists all of them.
func DescribeUpdate(before, after model.Card) (kind model.ActionKind, detail Detail, ok bool) {
	changes := diffCard(before, after)
	switch len(changes) {
	case 0:
		return "", Detail{}, false
	case 1:
	default:
		first := changes[0]
		return model.ActionEdited, Detail{Field: first.Field, Old: first.Old, New: first.New, Changes: changes}, true
	}

	change := changes[0]
	detail = Detail{Field: change.Field, Old: change.Old, New: change.New}
	switch change.Field {
	case "due":
		return model.ActionDueChanged, detail, true
	case "labels":
		return model.ActionLabelChanged, detail, true
	case "members":
		return setChangeKind(before.Members, after.Members, model.ActionMemberAdded, model.ActionMemberRemoved), detail, true
	case "attachments":
		return setChangeKind(attachmentIDs(before.Attachments), attachmentIDs(after.Attachments), model.ActionAttachmentAdded, model.ActionAttachmentRemoved), detail, true
	default:
		return model.ActionEdited, detail, true
	}
}

func diffCard(before, after model.Card) []FieldChange {
	var changes []FieldChange
	add := func(field, was, now string) {
		if was != now {
			changes = append(changes, FieldChange{Field: field, Old: was, New: now})
		}
	}
	add("title", before.Title, after.Title)
	add("description", before.Description, after.Description)
	add("due", formatDue(before.DueAt), formatDue(after.DueAt))
	add("labels", joinSet(before.Labels), joinSet(after.Labels))
	add("members", joinSet(before.Members), joinSet(after.Members))
	add("attachments", joinSet(attachmentIDs(before.Attachments)), joinSet(attachmentIDs(after.Attachments)))
	return changes
}

// setChangeKind picks added or removed when the change is one-directional,
// and edited otherwise.
func setChangeKind(before, after []string, added, removed model.ActionKind) model.ActionKind {
	var grew, shrank bool
	for _, v := range after {
		if !slices.Contains(before, v) {
			grew = true
		}
	}
	for _, v := range before {
		if !slices.Contains(after, v) {
			shrank = true
		}
	}
	switch {
	case grew && !shrank:
		return added
	case shrank && !grew:
		return removed
	default:
		return model.ActionEdited
	}
}

func attachmentIDs(atts []model.Attachment) []string {
	out := make([]string, len(atts))
	for i, a := range atts {
		out[i] = a.ID
	}
	return out
}

func joinSet(values []string) string {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return strings.Join(sorted, ",")
}

func formatDue(due *time.Time) string {
	if due == nil {
		return ""
	}
	return due.UTC().Format(time.RFC3339)
}
