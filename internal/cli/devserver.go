package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/quicklist/internal/devserver"
	"github.com/idilsaglam/quicklist/internal/ui"
)

func newDevServerCmd(a *App) *cobra.Command {
	var addr, db, key string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local emulator of the hosted table",
		Long: `devserver serves the REST and realtime endpoints quicklist uses,
backed by a local SQLite file. Point other terminals at it with:

  export QUICKLIST_REMOTE_URL=http://127.0.0.1:54321
  export QUICKLIST_REMOTE_KEY=dev-anon-key`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.DevServer
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("db") {
				cfg.DB = db
			}
			if flags.Changed("key") {
				cfg.Key = key
			}
			ui.OK(fmt.Sprintf("dev server on http://%s (key %q)", cfg.Addr, cfg.Key))
			return devserver.ListenAndServe(cmd.Context(), cfg, a.logger.Named("devserver"))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&db, "db", "", "SQLite file, or :memory:")
	cmd.Flags().StringVar(&key, "key", "", "API key clients must present")
	return cmd
}
