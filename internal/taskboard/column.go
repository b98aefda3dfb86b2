package taskboard

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/simonjohansson/taskboard/internal/engine"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/spf13/cobra"
)

func newColumnCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "column",
		Aliases: []string{"columns", "col"},
		Short:   "Create, reorder, edit and delete columns.",
	}
	cmd.AddCommand(newColumnCreateCommand(cfg, stdout, stderr))
	cmd.AddCommand(newColumnMoveCommand(cfg, stdout, stderr))
	cmd.AddCommand(newColumnUpdateCommand(cfg, stdout, stderr))
	cmd.AddCommand(newColumnDeleteCommand(cfg, stdout, stderr))
	return cmd
}

func parseVisibility(raw string) (model.Visibility, error) {
	v := model.Visibility(strings.ToLower(strings.TrimSpace(raw)))
	if !v.Valid() {
		return "", &cliError{status: http.StatusBadRequest, message: fmt.Sprintf("invalid --visibility: %s (want open, restricted or admin-only)", raw)}
	}
	return v, nil
}

func newColumnCreateCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	var title, visibility string
	var limit int
	cmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"add"},
		Short:   "Append a column to the board.",
		Example: strings.TrimSpace(`taskboard --role admin column create --title "Todo"
taskboard --role admin column create --title "Staff" --visibility restricted --limit 5`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vis, err := parseVisibility(visibility)
			if err != nil {
				return err
			}
			var cardLimit *int
			if cmd.Flags().Changed("limit") {
				cardLimit = &limit
			}
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				col, err := eng.CreateColumn(ctx, strings.TrimSpace(title), vis, cardLimit)
				if err != nil {
					return err
				}
				return writeColumn(cfg.Output, stdout, col)
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Column title")
	cmd.Flags().StringVarP(&visibility, "visibility", "v", string(model.VisibilityOpen), "open, restricted or admin-only")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of cards")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newColumnMoveCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	var columnID string
	var index int
	cmd := &cobra.Command{
		Use:     "move",
		Short:   "Move a column to another position on the board.",
		Example: `taskboard --role admin column move --id <column-id> --index 0`,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				at := index
				if at < 0 {
					at = math.MaxInt
				}
				if err := eng.ReorderColumn(ctx, columnID, at); err != nil {
					return err
				}
				snap := eng.Snapshot()
				idx := snap.ColumnIndex(columnID)
				if idx < 0 {
					return writeResult(cfg.Output, stdout, map[string]any{"id": columnID}, func() string { return "ok" })
				}
				return writeColumn(cfg.Output, stdout, snap.Columns[idx])
			})
		},
	}
	cmd.Flags().StringVarP(&columnID, "id", "i", "", "Column id")
	cmd.Flags().IntVarP(&index, "index", "n", -1, "Destination index; negative moves to the end")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newColumnUpdateCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	var (
		columnID, title, visibility string
		limit                       int
		clearLimit                  bool
	)
	cmd := &cobra.Command{
		Use:     "update",
		Aliases: []string{"edit"},
		Short:   "Change the title, visibility or card limit of a column.",
		Example: strings.TrimSpace(`taskboard --role admin column update --id <column-id> --visibility admin-only
taskboard --role moderator column update --id <column-id> --clear-limit`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var patch model.ColumnPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("visibility") {
				vis, err := parseVisibility(visibility)
				if err != nil {
					return err
				}
				patch.Visibility = &vis
			}
			if flags.Changed("limit") {
				patch.CardLimit = &limit
			}
			patch.ClearLimit = clearLimit
			if patch.Empty() {
				return &cliError{status: http.StatusBadRequest, message: "nothing to update"}
			}

			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				col, err := eng.UpdateColumn(ctx, columnID, patch)
				if err != nil {
					return err
				}
				return writeColumn(cfg.Output, stdout, col)
			})
		},
	}
	cmd.Flags().StringVarP(&columnID, "id", "i", "", "Column id")
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&visibility, "visibility", "v", "", "open, restricted or admin-only")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of cards")
	cmd.Flags().BoolVar(&clearLimit, "clear-limit", false, "Remove the card limit")
	cmd.MarkFlagsMutuallyExclusive("limit", "clear-limit")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newColumnDeleteCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	var columnID string
	cmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm"},
		Short:   "Delete a column together with its cards.",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.DeleteColumn(ctx, columnID); err != nil {
					return err
				}
				return writeDeleted(cfg.Output, stdout, columnID)
			})
		},
	}
	cmd.Flags().StringVarP(&columnID, "id", "i", "", "Column id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func writeColumn(output Output, stdout io.Writer, col model.Column) error {
	return writeResult(output, stdout, col, func() string { return formatColumn(col) })
}
