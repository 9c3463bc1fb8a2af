package cli

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/quicklist/internal/model"
	"github.com/idilsaglam/quicklist/internal/remote"
	"github.com/idilsaglam/quicklist/internal/ui"
)

func newWatchCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print changes as they happen",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			table, err := a.table(ctx)
			if err != nil {
				return err
			}
			defer table.Close()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			sub, err := table.Subscribe(ctx, func(evt model.Event) {
				mu.Lock()
				defer mu.Unlock()
				printEvent(out, time.Now(), evt)
			})
			if err != nil {
				return err
			}
			defer sub.Release()
			ui.OK("watching for changes (ctrl+c to stop)")

			select {
			case <-ctx.Done():
				return nil
			case <-sub.Done():
				if err := sub.Err(); err != nil {
					return err
				}
				return remote.Disconnected(errors.New("stream closed"))
			}
		},
	}
}

func printEvent(w io.Writer, at time.Time, evt model.Event) {
	stamp := ui.Dim(at.Format("15:04:05"))
	switch evt.Kind {
	case model.EventDelete:
		fmt.Fprintf(w, "%s %-6s #%d\n", stamp, evt.Kind, evt.Item.ID)
	default:
		mark := "[ ]"
		if evt.Item.IsComplete {
			mark = "[x]"
		}
		fmt.Fprintf(w, "%s %-6s #%d %s %s\n", stamp, evt.Kind, evt.Item.ID, mark, evt.Item.Task)
	}
}
