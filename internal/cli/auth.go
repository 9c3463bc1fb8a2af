package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/quicklist/internal/auth"
	"github.com/idilsaglam/quicklist/internal/ui"
)

func newAuthCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored API key",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("usage: quicklist auth <login|logout|status|whoami>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return usagef("usage: quicklist auth <login|logout|status|whoami>")
		},
	}
	cmd.AddCommand(newLoginCmd(), newLogoutCmd(), newStatusCmd(), newWhoAmICmd())
	return cmd
}

func newLoginCmd() *cobra.Command {
	var key, url string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key (read from stdin unless --key is given)",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Paste your API key: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && strings.TrimSpace(line) == "" {
					return fmt.Errorf("read key: %w", err)
				}
				key = line
			}
			creds, err := auth.Save(key, url)
			if err != nil {
				return fmt.Errorf("save key: %w", err)
			}
			ui.OK("logged in")
			if creds.Expired(time.Now()) {
				ui.Warn("this key has already expired")
			}
			if creds.URL == "" {
				ui.Hint("set the project URL with --url or QUICKLIST_REMOTE_URL")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "API key to store")
	cmd.Flags().StringVar(&url, "url", "", "project URL to store with the key")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored API key",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, _ := auth.Load()
			if creds != nil && creds.Source == "env" {
				ui.OK(fmt.Sprintf("key is provided by %s env var (nothing to delete)", auth.EnvToken))
				return nil
			}
			if err := auth.Delete(); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			ui.OK("logged out")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the API key comes from",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			creds, err := auth.Load()
			if err != nil {
				return err
			}
			if creds == nil {
				fmt.Fprintln(out, ui.Dim("not logged in"))
				fmt.Fprintln(out, "Run: quicklist auth login")
				return nil
			}
			fmt.Fprintf(out, "source: %s\n", creds.Source)
			fmt.Fprintf(out, "key: %s\n", auth.Mask(creds.Key))
			if creds.URL != "" {
				fmt.Fprintf(out, "url: %s\n", creds.URL)
			}
			switch {
			case creds.ExpiresAt == nil:
				fmt.Fprintln(out, "expires: (unknown)")
			case creds.Expired(time.Now()):
				fmt.Fprintf(out, "expires: %s (expired)\n", creds.ExpiresAt.UTC().Format(time.RFC3339))
			default:
				fmt.Fprintf(out, "expires: %s\n", creds.ExpiresAt.UTC().Format(time.RFC3339))
			}
			fmt.Fprintf(out, "env override: %s\n", auth.EnvToken)
			return nil
		},
	}
}

func newWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Decode the stored key's claims locally",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			creds, err := auth.Load()
			if err != nil {
				return err
			}
			if creds == nil {
				return &usageError{msg: "not logged in", hint: "run `quicklist auth login`"}
			}
			claims, err := auth.Claims(creds.Key)
			if err != nil {
				fmt.Fprintln(out, "Opaque key (cannot introspect locally).")
				fmt.Fprintln(out, "source:", creds.Source)
				return nil
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, claims, "", "  "); err != nil {
				return errors.New("claims are not valid JSON")
			}
			fmt.Fprintln(out, "JWT payload:")
			fmt.Fprintln(out, pretty.String())
			return nil
		},
	}
}
