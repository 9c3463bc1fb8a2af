package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/session"
	"github.com/idilsaglam/quicklist/internal/tui"
	"github.com/idilsaglam/quicklist/internal/ui"
)

func newLsCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:         "ls",
		Short:       "Open the live list (interactive)",
		Args:        noArgs,
		Annotations: map[string]string{interactive: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			table, err := a.table(ctx)
			if err != nil {
				return err
			}
			defer table.Close()

			sess, err := session.Open(ctx, table, session.WithLogger(a.logger.Named("session")))
			if err != nil {
				return err
			}
			defer func() {
				if err := sess.Close(); err != nil {
					a.logger.Warn("close session", zap.Error(err))
				}
			}()

			if err := tui.Run(ctx, sess); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}
}

func newListCmd(a *App) *cobra.Command {
	var group bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the list once and exit",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			table, err := a.table(ctx)
			if err != nil {
				return err
			}
			defer table.Close()

			items, err := table.FetchAll(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("group") {
				group = a.cfg.UI.Group
			}
			lines := ui.ListLines(items, group)
			lines = append(lines, "", ui.Dim("Tip: quicklist ls opens the live view"))
			ui.Panel(lines)
			return nil
		},
	}
	cmd.Flags().BoolVar(&group, "group", false, "split pending and done items")
	return cmd
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usagef("%s takes no arguments", cmd.Name())
	}
	return nil
}
