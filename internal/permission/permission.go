// Package permission decides whether a viewer role may perform an operation
// against columns of a given visibility.
package permission

import (
	"strings"

	"github.com/simonjohansson/taskboard/internal/model"
)

type Operation string

const (
	ViewColumn            Operation = "view_column"
	MoveCardAcrossColumns Operation = "move_card_across_columns"
	ReorderWithinColumn   Operation = "reorder_within_column"
	CreateColumn          Operation = "create_column"
	DeleteColumn          Operation = "delete_column"
	EditColumn            Operation = "edit_column"
	ReorderColumns        Operation = "reorder_columns"
	CreateCard            Operation = "create_card"
	EditCard              Operation = "edit_card"
	DeleteCard            Operation = "delete_card"
	AddMember             Operation = "add_member"
	RemoveMember          Operation = "remove_member"
)

// Context describes the columns an operation touches. Visibility is the column
// being viewed or edited; Source and Dest are used by card moves.
type Context struct {
	Visibility       model.Visibility
	SourceVisibility model.Visibility
	DestVisibility   model.Visibility
}

func Authorize(role model.Role, op Operation, ctx Context) bool {
	switch NormalizeRole(string(role)) {
	case model.RoleAdmin:
		return true
	case model.RoleModerator:
		return moderatorCan(op, ctx)
	default:
		return op == ViewColumn && ctx.Visibility == model.VisibilityOpen
	}
}

func moderatorCan(op Operation, ctx Context) bool {
	switch op {
	case ViewColumn:
		return true
	case MoveCardAcrossColumns:
		return ctx.DestVisibility != model.VisibilityOpen
	case CreateCard:
		return ctx.Visibility != model.VisibilityOpen
	case EditColumn, DeleteColumn, CreateColumn, ReorderColumns:
		return ctx.Visibility != model.VisibilityAdminOnly
	case ReorderWithinColumn, EditCard, DeleteCard, AddMember, RemoveMember:
		return true
	default:
		return false
	}
}

// NormalizeRole maps anything unrecognised to the least privileged role.
func NormalizeRole(role string) model.Role {
	switch r := model.Role(strings.ToLower(strings.TrimSpace(role))); r {
	case model.RoleDefault, model.RoleModerator, model.RoleAdmin:
		return r
	default:
		return model.RoleDefault
	}
}

// CanView reports whether role may observe a column of the given visibility.
func CanView(role model.Role, visibility model.Visibility) bool {
	return Authorize(role, ViewColumn, Context{Visibility: visibility})
}
