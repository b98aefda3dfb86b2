package taskboard

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/simonjohansson/taskboard/internal/engine"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/spf13/cobra"
)

func newCardCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "card",
		Aliases: []string{"cards"},
		Short:   "Create, move, edit and delete cards.",
		Long: strings.TrimSpace(`Card commands run as the configured viewer. Whether a change is allowed
depends on the viewer's role and the visibility of the columns involved.`),
	}

	cmd.AddCommand(newCardCreateCommand(cfg, stdout, stderr))
	cmd.AddCommand(newCardMoveCommand(cfg, stdout, stderr))
	cmd.AddCommand(newCardUpdateCommand(cfg, stdout, stderr))
	cmd.AddCommand(newCardDeleteCommand(cfg, stdout, stderr))
	cmd.AddCommand(newCardMemberCommand(cfg, stdout, stderr))
	cmd.AddCommand(newCardAttachCommand(cfg, stdout, stderr))
	return cmd
}

func newCardCreateCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	var columnID, title string
	cmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"add"},
		Short:   "Append a new card to a column.",
		Example: `taskboard card create --column <column-id> --title "Write docs"`,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				card, err := eng.CreateCard(ctx, columnID, strings.TrimSpace(title))
				if err != nil {
					return err
				}
				return writeCard(cfg.Output, stdout, card)
			})
		},
	}
	cmd.Flags().StringVarP(&columnID, "column", "c", "", "Column id")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Card title")
	_ = cmd.MarkFlagRequired("column")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newCardMoveCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	var cardID, columnID string
	var index int
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a card within its column or into another column.",
		Example: strings.TrimSpace(`taskboard card move --id <card-id> --index 0
taskboard card move --id <card-id> --column <column-id>`),
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				dest := columnID
				if dest == "" {
					current, ok := findCard(eng.Snapshot(), cardID)
					if !ok {
						return fmt.Errorf("%w: card %s", engine.ErrNotFound, cardID)
					}
					dest = current.ColumnID
				}
				at := index
				if at < 0 {
					at = math.MaxInt
				}
				if err := eng.MoveCard(ctx, cardID, dest, at); err != nil {
					return err
				}
				card, _ := findCard(eng.Snapshot(), cardID)
				return writeCard(cfg.Output, stdout, card)
			})
		},
	}
	cmd.Flags().StringVarP(&cardID, "id", "i", "", "Card id")
	cmd.Flags().StringVarP(&columnID, "column", "c", "", "Destination column id (defaults to the current column)")
	cmd.Flags().IntVarP(&index, "index", "n", -1, "Destination index; negative appends")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCardUpdateCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	var (
		cardID, title, description, due string
		clearDue                        bool
		labels                          []string
	)
	cmd := &cobra.Command{
		Use:     "update",
		Aliases: []string{"edit"},
		Short:   "Change the title, description, due date or labels of a card.",
		Example: strings.TrimSpace(`taskboard card update --id <card-id> --title "New title"
taskboard card update --id <card-id> --due 2026-11-01T09:00:00Z --labels bug,urgent
taskboard card update --id <card-id> --clear-due`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var patch model.CardPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("due") {
				at, err := time.Parse(time.RFC3339, strings.TrimSpace(due))
				if err != nil {
					return &cliError{status: http.StatusBadRequest, message: fmt.Sprintf("invalid --due: %v", err)}
				}
				patch.DueAt = &at
			}
			patch.ClearDue = clearDue
			if flags.Changed("labels") {
				patch.Labels = &labels
			}
			if patch.Empty() {
				return &cliError{status: http.StatusBadRequest, message: "nothing to update"}
			}

			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				card, err := eng.UpdateCard(ctx, cardID, patch)
				if err != nil {
					return err
				}
				return writeCard(cfg.Output, stdout, card)
			})
		},
	}
	cmd.Flags().StringVarP(&cardID, "id", "i", "", "Card id")
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	cmd.Flags().StringVar(&due, "due", "", "Due date (RFC 3339)")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "Remove the due date")
	cmd.Flags().StringSliceVar(&labels, "labels", nil, "Replace the label set (comma separated)")
	cmd.MarkFlagsMutuallyExclusive("due", "clear-due")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCardDeleteCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	var cardID string
	cmd := &cobra.Command{
		Use:     "delete",
		Aliases: []string{"rm"},
		Short:   "Delete a card and its history.",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.DeleteCard(ctx, cardID); err != nil {
					return err
				}
				return writeDeleted(cfg.Output, stdout, cardID)
			})
		},
	}
	cmd.Flags().StringVarP(&cardID, "id", "i", "", "Card id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCardMemberCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Add or remove card members.",
	}
	for _, add := range []bool{true, false} {
		var cardID, member string
		use, short := "add", "Add a member to a card."
		if !add {
			use, short = "rm", "Remove a member from a card."
		}
		sub := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
					change := eng.RemoveMember
					if add {
						change = eng.AddMember
					}
					if err := change(ctx, cardID, strings.TrimSpace(member)); err != nil {
						return err
					}
					card, _ := findCard(eng.Snapshot(), cardID)
					return writeCard(cfg.Output, stdout, card)
				})
			},
		}
		sub.Flags().StringVarP(&cardID, "id", "i", "", "Card id")
		sub.Flags().StringVarP(&member, "member", "m", "", "Member reference")
		_ = sub.MarkFlagRequired("id")
		_ = sub.MarkFlagRequired("member")
		cmd.AddCommand(sub)
	}
	return cmd
}

func newCardAttachCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "attach",
		Aliases: []string{"attachment"},
		Short:   "Add or remove attachment references.",
		Long:    "Attachments are references only; nothing is uploaded.",
	}

	var cardID string
	var att model.Attachment
	add := &cobra.Command{
		Use:     "add",
		Short:   "Attach a reference to a card.",
		Example: `taskboard card attach add --id <card-id> --attachment brief-pdf --url https://files.example/brief.pdf --size 5120 --mime application/pdf`,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.AddAttachment(ctx, cardID, att); err != nil {
					return err
				}
				card, _ := findCard(eng.Snapshot(), cardID)
				return writeCard(cfg.Output, stdout, card)
			})
		},
	}
	add.Flags().StringVarP(&cardID, "id", "i", "", "Card id")
	add.Flags().StringVarP(&att.ID, "attachment", "a", "", "Attachment id")
	add.Flags().StringVar(&att.URL, "url", "", "Attachment URL")
	add.Flags().Int64Var(&att.Size, "size", 0, "Size in bytes")
	add.Flags().StringVar(&att.MimeType, "mime", "", "MIME type")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("attachment")

	var rmCardID, rmAttachment string
	rm := &cobra.Command{
		Use:   "rm",
		Short: "Remove an attachment reference from a card.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.RemoveAttachment(ctx, rmCardID, rmAttachment); err != nil {
					return err
				}
				card, _ := findCard(eng.Snapshot(), rmCardID)
				return writeCard(cfg.Output, stdout, card)
			})
		},
	}
	rm.Flags().StringVarP(&rmCardID, "id", "i", "", "Card id")
	rm.Flags().StringVarP(&rmAttachment, "attachment", "a", "", "Attachment id")
	_ = rm.MarkFlagRequired("id")
	_ = rm.MarkFlagRequired("attachment")

	cmd.AddCommand(add, rm)
	return cmd
}

func findCard(snap model.Snapshot, cardID string) (model.Card, bool) {
	col, idx := snap.FindCard(cardID)
	if col < 0 {
		return model.Card{}, false
	}
	return snap.Columns[col].Cards[idx], true
}

func writeCard(output Output, stdout io.Writer, card model.Card) error {
	return writeResult(output, stdout, card, func() string { return formatCard(card) })
}

func writeDeleted(output Output, stdout io.Writer, id string) error {
	return writeResult(output, stdout, map[string]any{"id": id, "deleted": true}, func() string {
		return "deleted " + id
	})
}
