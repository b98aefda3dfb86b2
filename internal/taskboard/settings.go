package taskboard

import (
	"context"
	"io"
	"net/http"

	"github.com/simonjohansson/taskboard/internal/engine"
	"github.com/spf13/cobra"
)

func newSettingsCommand(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "settings",
		Aliases: []string{"setting"},
		Short:   "Read and write board-wide settings.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "get <key>",
		Short:   "Print a setting.",
		Example: `taskboard settings get theme`,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key := args[0]
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				value, found, err := eng.Setting(ctx, key)
				if err != nil {
					return err
				}
				if !found {
					return &cliError{status: http.StatusNotFound, message: "setting not found: " + key}
				}
				return writeResult(cfg.Output, stdout, map[string]string{"key": key, "value": value}, func() string { return value })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Store a setting.",
		Example: `taskboard settings set theme dark`,
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			return withSession(cfg, stderr, func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.SetSetting(ctx, key, value); err != nil {
					return err
				}
				return writeResult(cfg.Output, stdout, map[string]string{"key": key, "value": value}, func() string { return "ok" })
			})
		},
	})

	return cmd
}
