package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/ui"
)

func newAddCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <task...>",
		Short: "Add a task (may be several words)",
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				return &usageError{msg: "add: empty task", hint: `quicklist add "Buy milk"`}
			}
			ctx := cmd.Context()
			table, err := a.table(ctx)
			if err != nil {
				return err
			}
			defer table.Close()

			if err := table.Insert(ctx, model.NewItem{Task: task}); err != nil {
				return err
			}
			ui.OK("added")
			return nil
		},
	}
}

func newDoneCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task complete",
		Args:  idArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := parseID(args[0])
			ctx := cmd.Context()
			table, err := a.table(ctx)
			if err != nil {
				return err
			}
			defer table.Close()

			if err := table.UpdateByID(ctx, id, model.CompletePatch()); err != nil {
				return err
			}
			ui.OK(fmt.Sprintf("completed #%d", id))
			return nil
		},
	}
}

func newRmCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task",
		Args:  idArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := parseID(args[0])
			ctx := cmd.Context()
			table, err := a.table(ctx)
			if err != nil {
				return err
			}
			defer table.Close()

			if err := table.DeleteByID(ctx, id); err != nil {
				return err
			}
			ui.OK(fmt.Sprintf("removed #%d", id))
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("not an id: %s", s)
	}
	return id, nil
}

// idArg accepts exactly one positive id, optionally written #N.
func idArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return &usageError{msg: fmt.Sprintf("usage: quicklist %s", cmd.Use)}
	}
	if _, err := parseID(args[0]); err != nil {
		return &usageError{
			msg:  fmt.Sprintf("%s: %v", cmd.Name(), err),
			hint: "run `quicklist list` to see ids",
		}
	}
	return nil
}
