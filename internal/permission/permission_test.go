package permission

import (
	"testing"

	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/stretchr/testify/require"
)

var allVisibilities = []model.Visibility{
	model.VisibilityOpen,
	model.VisibilityRestricted,
	model.VisibilityAdminOnly,
}

var mutations = []Operation{
	MoveCardAcrossColumns,
	ReorderWithinColumn,
	CreateColumn,
	DeleteColumn,
	EditColumn,
	ReorderColumns,
	CreateCard,
	EditCard,
	DeleteCard,
	AddMember,
	RemoveMember,
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		role  model.Role
		op    Operation
		ctx   Context
		allow bool
	}{
		{name: "default views open", role: model.RoleDefault, op: ViewColumn, ctx: Context{Visibility: model.VisibilityOpen}, allow: true},
		{name: "default views restricted", role: model.RoleDefault, op: ViewColumn, ctx: Context{Visibility: model.VisibilityRestricted}, allow: false},
		{name: "default views admin-only", role: model.RoleDefault, op: ViewColumn, ctx: Context{Visibility: model.VisibilityAdminOnly}, allow: false},
		{name: "moderator views admin-only", role: model.RoleModerator, op: ViewColumn, ctx: Context{Visibility: model.VisibilityAdminOnly}, allow: true},
		{name: "moderator moves into restricted", role: model.RoleModerator, op: MoveCardAcrossColumns, ctx: Context{SourceVisibility: model.VisibilityOpen, DestVisibility: model.VisibilityRestricted}, allow: true},
		{name: "moderator moves into admin-only", role: model.RoleModerator, op: MoveCardAcrossColumns, ctx: Context{SourceVisibility: model.VisibilityRestricted, DestVisibility: model.VisibilityAdminOnly}, allow: true},
		{name: "moderator edits restricted column", role: model.RoleModerator, op: EditColumn, ctx: Context{Visibility: model.VisibilityRestricted}, allow: true},
		{name: "moderator edits admin-only column", role: model.RoleModerator, op: EditColumn, ctx: Context{Visibility: model.VisibilityAdminOnly}, allow: false},
		{name: "moderator deletes admin-only column", role: model.RoleModerator, op: DeleteColumn, ctx: Context{Visibility: model.VisibilityAdminOnly}, allow: false},
		{name: "moderator deletes open column", role: model.RoleModerator, op: DeleteColumn, ctx: Context{Visibility: model.VisibilityOpen}, allow: true},
		{name: "moderator creates admin-only column", role: model.RoleModerator, op: CreateColumn, ctx: Context{Visibility: model.VisibilityAdminOnly}, allow: false},
		{name: "moderator creates card in open column", role: model.RoleModerator, op: CreateCard, ctx: Context{Visibility: model.VisibilityOpen}, allow: false},
		{name: "moderator creates card in restricted column", role: model.RoleModerator, op: CreateCard, ctx: Context{Visibility: model.VisibilityRestricted}, allow: true},
		{name: "moderator edits card in open column", role: model.RoleModerator, op: EditCard, ctx: Context{Visibility: model.VisibilityOpen}, allow: true},
		{name: "moderator reorders within open column", role: model.RoleModerator, op: ReorderWithinColumn, ctx: Context{Visibility: model.VisibilityOpen}, allow: true},
		{name: "admin moves into open", role: model.RoleAdmin, op: MoveCardAcrossColumns, ctx: Context{SourceVisibility: model.VisibilityAdminOnly, DestVisibility: model.VisibilityOpen}, allow: true},
		{name: "admin edits admin-only column", role: model.RoleAdmin, op: EditColumn, ctx: Context{Visibility: model.VisibilityAdminOnly}, allow: true},
		{name: "unknown role views restricted", role: "owner", op: ViewColumn, ctx: Context{Visibility: model.VisibilityRestricted}, allow: false},
		{name: "unknown operation", role: model.RoleModerator, op: "archive", ctx: Context{}, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.allow, Authorize(tc.role, tc.op, tc.ctx))
		})
	}
}

func TestDefaultRoleIsDeniedEveryMutation(t *testing.T) {
	t.Parallel()

	for _, op := range mutations {
		for _, visibility := range allVisibilities {
			ctx := Context{Visibility: visibility, SourceVisibility: visibility, DestVisibility: visibility}
			require.Falsef(t, Authorize(model.RoleDefault, op, ctx), "default %s on %s", op, visibility)
		}
	}
}

func TestModeratorNeverMovesIntoOpenColumn(t *testing.T) {
	t.Parallel()

	for _, source := range allVisibilities {
		ctx := Context{SourceVisibility: source, DestVisibility: model.VisibilityOpen}
		require.Falsef(t, Authorize(model.RoleModerator, MoveCardAcrossColumns, ctx), "source %s", source)
	}
}

func TestAdminIsAllowedEverything(t *testing.T) {
	t.Parallel()

	for _, op := range append([]Operation{ViewColumn}, mutations...) {
		for _, visibility := range allVisibilities {
			ctx := Context{Visibility: visibility, SourceVisibility: visibility, DestVisibility: visibility}
			require.True(t, Authorize(model.RoleAdmin, op, ctx))
		}
	}
}

func TestNormalizeRole(t *testing.T) {
	t.Parallel()

	require.Equal(t, model.RoleAdmin, NormalizeRole(" Admin "))
	require.Equal(t, model.RoleModerator, NormalizeRole("moderator"))
	require.Equal(t, model.RoleDefault, NormalizeRole(""))
	require.Equal(t, model.RoleDefault, NormalizeRole("superuser"))
}
