// Package cli wires the quicklist commands.
//
// Exit codes: 0 success, 1 runtime failure, 2 usage error.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/config"
	"github.com/idilsaglam/quicklist/internal/logger"
	"github.com/idilsaglam/quicklist/internal/remote"
	"github.com/idilsaglam/quicklist/internal/remote/backend"
	"github.com/idilsaglam/quicklist/internal/ui"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	// interactive marks commands that own the terminal; they log to a file.
	interactive = "interactive"
	// defaultLogFile is used by interactive commands when log.file is unset.
	defaultLogFile = "quicklist.log"
)

// usageError is a bad invocation rather than a failed operation.
type usageError struct {
	msg  string
	hint string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// hintError carries a follow-up suggestion printed under the failure.
type hintError struct {
	err  error
	hint string
}

func (e *hintError) Error() string { return e.err.Error() }
func (e *hintError) Unwrap() error { return e.err }

func withHint(err error, hint string) error {
	return &hintError{err: err, hint: hint}
}

// TableOpener builds the remote table from configuration.
type TableOpener func(ctx context.Context, cfg backend.Config, logger *zap.Logger) (remote.Table, error)

// App is the state shared by all commands of one invocation.
type App struct {
	dir     string
	theme   string
	noColor bool
	debug   bool

	cfg    *config.Config
	logger *zap.Logger

	openTable TableOpener
}

// NewApp returns an App that talks to the configured backend.
func NewApp() *App {
	return &App{openTable: backend.Open, logger: zap.NewNop()}
}

// NewRootCmd builds the command tree bound to a.
func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "quicklist",
		Short: "A shared todo list backed by a hosted table",
		Long: `quicklist keeps a todo list in a hosted database table and mirrors
every change made by any client in real time.

Examples:
  quicklist add "Buy milk"
  quicklist ls
  quicklist done 2
  quicklist rm 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown subcommand: %s", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return &usageError{msg: "missing subcommand"}
		},
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{msg: err.Error(), hint: fmt.Sprintf("run `%s --help`", cmd.CommandPath())}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.dir, "dir", ".", "directory holding quicklist.yaml and .env")
	pf.StringVar(&a.theme, "theme", "", "color theme: classic, neon or mono")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&a.debug, "debug", false, "log at debug level")

	root.AddCommand(
		newLsCmd(a),
		newListCmd(a),
		newAddCmd(a),
		newDoneCmd(a),
		newRmCmd(a),
		newWatchCmd(a),
		newAuthCmd(a),
		newDevServerCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger before any command runs.
func (a *App) setup(cmd *cobra.Command, args []string) error {
	ui.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.LoadConfig(a.dir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.theme != "" {
		cfg.UI.Theme = a.theme
	}
	if a.noColor {
		cfg.UI.Color = "never"
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	ui.Apply(cfg.UI)

	logCfg := cfg.Log
	if _, ok := cmd.Annotations[interactive]; ok && logCfg.File == "" {
		logCfg.File = defaultLogFile
	}
	l, err := logger.New(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.cfg = cfg
	a.logger = l.With(zap.String("command", cmd.Name()))
	return nil
}

// table opens the remote table, mapping configuration problems to a hint.
func (a *App) table(ctx context.Context) (remote.Table, error) {
	t, err := a.openTable(ctx, a.cfg.Remote, a.logger)
	if err != nil {
		if errors.Is(err, backend.ErrNotConfigured) {
			return nil, withHint(err, "run `quicklist auth login` or set QUICKLIST_REMOTE_URL and QUICKLIST_REMOTE_KEY")
		}
		return nil, err
	}
	return t, nil
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, a *App, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	ui.SetOutput(stdout, stderr)

	err := root.ExecuteContext(ctx)
	if err == nil || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		return exitOK
	}

	a.logger.Debug("command failed", zap.Error(err))
	ui.Fail(err.Error())

	var usage *usageError
	if errors.As(err, &usage) {
		if usage.hint != "" {
			ui.Hint(usage.hint)
		}
		return exitUsage
	}
	var hinted *hintError
	if errors.As(err, &hinted) {
		ui.Hint(hinted.hint)
	}
	return exitError
}

// Execute runs quicklist against the process streams.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, NewApp(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}
