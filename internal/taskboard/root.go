// Package taskboard implements the taskboard command line: the server
// process and the viewer-side commands that drive a sync engine session
// against it.
package taskboard

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/simonjohansson/taskboard/internal/model"
	"github.com/simonjohansson/taskboard/internal/permission"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	serverURL  string
	output     string
	board      string
	viewerID   string
	viewerName string
	role       string
}

func NewRootCommand(initial Config, stdout, stderr io.Writer) *cobra.Command {
	cfg := initial
	flags := globalFlags{
		serverURL:  initial.ServerURL,
		output:     string(initial.Output),
		board:      initial.BoardID,
		viewerID:   initial.ViewerID,
		viewerName: initial.ViewerName,
		role:       initial.Role,
	}

	root := &cobra.Command{
		Use:   "taskboard",
		Short: "Run the taskboard server and work on the board as a viewer.",
		Long: strings.TrimSpace(`taskboard is a unified binary for:
- starting the taskboard server
- changing the board as a viewer (cards, columns, settings)
- following board events over websocket

Viewer commands apply the change locally, then write it to the server.
When the server cannot be reached the change is kept in the local cache.

Identity comes from --viewer, --name and --role (or the config file) and
is trusted as given.`),
		Example: strings.TrimSpace(`taskboard serve
taskboard --role admin column create --title "Todo"
taskboard card create --column <column-id> --title "Write docs"
taskboard card move --id <card-id> --column <column-id> --index 0
taskboard --output json board show
taskboard board history --card <card-id>
taskboard watch`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return applyGlobalFlags(&cfg, flags)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.serverURL, "server-url", flags.serverURL, "Server API base URL (e.g. http://127.0.0.1:8080)")
	pf.StringVar(&flags.output, "output", flags.output, "Output format: text or json")
	pf.StringVar(&flags.board, "board", flags.board, "Board id")
	pf.StringVar(&flags.viewerID, "viewer", flags.viewerID, "Viewer id recorded as the actor of changes")
	pf.StringVar(&flags.viewerName, "name", flags.viewerName, "Viewer display name")
	pf.StringVar(&flags.role, "role", flags.role, "Viewer role: default, moderator or admin")

	root.AddCommand(newServeCommand(&cfg))
	root.AddCommand(newWatchCommand(&cfg, stdout))
	root.AddCommand(newBoardCommand(&cfg, stdout, stderr))
	root.AddCommand(newCardCommand(&cfg, stdout, stderr))
	root.AddCommand(newColumnCommand(&cfg, stdout, stderr))
	root.AddCommand(newSettingsCommand(&cfg, stdout, stderr))

	return root
}

func applyGlobalFlags(cfg *Config, flags globalFlags) error {
	output := strings.TrimSpace(flags.output)
	if !isValidOutput(output) {
		return &cliError{status: http.StatusBadRequest, message: fmt.Sprintf("invalid --output: %s", output)}
	}

	role := strings.TrimSpace(flags.role)
	if role != "" && permission.NormalizeRole(role) != model.Role(strings.ToLower(role)) {
		return &cliError{status: http.StatusBadRequest, message: fmt.Sprintf("invalid --role: %s", role)}
	}

	cfg.ServerURL = strings.TrimSpace(flags.serverURL)
	cfg.Output = Output(output)
	cfg.BoardID = strings.TrimSpace(flags.board)
	cfg.ViewerID = strings.TrimSpace(flags.viewerID)
	cfg.ViewerName = strings.TrimSpace(flags.viewerName)
	cfg.Role = role

	if cfg.ServerURL == "" {
		return &cliError{status: http.StatusBadRequest, message: "--server-url cannot be empty"}
	}
	if cfg.BoardID == "" {
		return &cliError{status: http.StatusBadRequest, message: "--board cannot be empty"}
	}

	return nil
}
