package taskboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/simonjohansson/taskboard/internal/engine"
	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/storeclient"
	"github.com/spf13/cobra"
)

func newBoardCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Inspect the board.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "show",
		Aliases: []string{"get"},
		Short:   "Print the columns and cards this viewer can see.",
		Example: strings.TrimSpace(`taskboard board show
taskboard --role admin --output json board show`),
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(_ context.Context, eng *engine.Engine) error {
				snap := eng.Snapshot()
				return writeResult(cfg.Output, stdout, snap, func() string { return formatSnapshot(snap) })
			})
		},
	})

	var cardID string
	history := &cobra.Command{
		Use:   "history",
		Short: "Print the action history of a card, newest first.",
		Example: strings.TrimSpace(`taskboard board history --card <card-id>
taskboard --output json board history -c <card-id>`),
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				entries, err := eng.History(ctx, cardID)
				if err != nil {
					return err
				}
				lines := historyLines(entries)
				return writeResult(cfg.Output, stdout, map[string]any{"card_id": cardID, "history": lines}, func() string {
					return formatHistory(lines)
				})
			})
		},
	}
	history.Flags().StringVarP(&cardID, "card", "c", "", "Card id")
	_ = history.MarkFlagRequired("card")
	cmd.AddCommand(history)

	cmd.AddCommand(&cobra.Command{
		Use:   "presence",
		Short: "List the viewers currently on the board.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := storeclient.NewClient(cfg.ServerURL, cfg.BoardID, storeclient.WithLogger(newSessionLogger(stderr)))
			if err != nil {
				return &cliError{status: http.StatusBadRequest, message: err.Error()}
			}
			viewers, err := client.ListPresence(cmd.Context(), cfg.BoardID)
			if err != nil {
				return toCLIError(err)
			}
			return writeResult(cfg.Output, stdout, map[string]any{"viewers": viewers}, func() string {
				return formatPresence(viewers)
			})
		},
	})

	return cmd
}

func formatPresence(viewers []model.Presence) string {
	if len(viewers) == 0 {
		return "(nobody)"
	}
	rows := make([]string, 0, len(viewers))
	for _, v := range viewers {
		rows = append(rows, fmt.Sprintf("%s (%s) role=%s last_seen=%s", nonEmpty(v.DisplayName, v.ViewerID), v.ViewerID, v.Role, v.LastSeen.UTC().Format("15:04:05")))
	}
	return strings.Join(rows, "\n")
}
