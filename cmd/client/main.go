package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"proxyhub/internal/client"
	"proxyhub/internal/config"
	"proxyhub/internal/constants"
)

const clientDesc = `
proxyhub is the operator CLI for a proxyhub server: list and kick sessions,
read stats, change runtime settings and watch lifecycle events live.
`

type rootCmd struct {
	server string
	token  string
}

// client builds an API client, falling back to the saved token.
func (r *rootCmd) client() (*client.Client, error) {
	token := r.token
	if token == "" {
		path, err := client.TokenPath()
		if err != nil {
			return nil, err
		}
		if token, err = client.LoadToken(path); err != nil {
			return nil, err
		}
	}
	return client.New(r.server, token), nil
}

func newRootCmd() *cobra.Command {
	r := &rootCmd{}
	cmd := &cobra.Command{
		Use:           "proxyhub",
		Short:         "operate a proxyhub server",
		Long:          clientDesc,
		Version:       constants.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringVarP(&r.server, "server", "s", config.GetEnv("PROXYHUB_SERVER", constants.DefaultServerURL), "Server URL")
	persistentFlags.StringVarP(&r.token, "token", "t", config.GetEnv("PROXYHUB_TOKEN", ""), "Operator token (defaults to the saved login)")

	cmd.AddCommand(
		newLoginCmd(r),
		newLogoutCmd(r),
		newSessionsCmd(r),
		newStatsCmd(r),
		newKickCmd(r),
		newConnectCmd(r),
		newDisconnectCmd(r),
		newConfigCmd(r),
		newWatchCmd(r),
	)
	return cmd
}

func newLoginCmd(r *rootCmd) *cobra.Command {
	var creds client.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "log in and save the operator token",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client.PrintBanner(out)
			creds, err := client.PromptCredentials(cmd.InOrStdin(), out, creds)
			if err != nil {
				return err
			}
			c := client.New(r.server, "")
			resp, err := c.Login(cmd.Context(), creds.Username, creds.Password)
			if err != nil {
				return err
			}
			path, err := client.TokenPath()
			if err != nil {
				return err
			}
			if err := client.SaveToken(path, resp.Token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			client.PrintField(out, "operator", resp.Username, client.ColorGreen)
			client.PrintField(out, "expires", resp.ExpiresAt.Local().Format(constants.TimeFormatShort), client.ColorReset)
			client.PrintField(out, "token", path, client.ColorDim)
			return nil
		},
	}
	cmd.Flags().StringVarP(&creds.Username, "username", "u", "", "Operator username")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "Operator password")
	return cmd
}

func newLogoutCmd(r *rootCmd) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "revoke the saved operator token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.client()
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			if path, err := client.TokenPath(); err == nil {
				os.Remove(path)
			}
			client.PrintHint(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newSessionsCmd(r *rootCmd) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions [id]",
		Short: "list active sessions, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				s, err := c.Session(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				client.PrintField(out, "session", s.SessionID, client.ColorBold)
				client.PrintField(out, "status", string(s.Status), client.ColorReset)
				client.PrintField(out, "proxy", s.ProxyHost+":"+strconv.Itoa(s.ProxyPort), client.ColorCyan)
				client.PrintField(out, "user", s.User(), client.ColorReset)
				client.PrintField(out, "started", s.StartedAt.Local().Format(time.RFC3339), client.ColorDim)
				if s.ExternalIP != "" {
					client.PrintField(out, "external ip", s.ExternalIP, client.ColorReset)
				}
				if s.Location != "" {
					client.PrintField(out, "location", s.Location, client.ColorReset)
				}
				return nil
			}
			sessions, err := c.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			client.PrintSessions(out, sessions, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum sessions to list")
	return cmd
}

func newStatsCmd(r *rootCmd) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "show aggregate session statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.client()
			if err != nil {
				return err
			}
			st, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			client.PrintStats(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func newKickCmd(r *rootCmd) *cobra.Command {
	return &cobra.Command{
		Use:   "kick <id>",
		Short: "force-disconnect a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.client()
			if err != nil {
				return err
			}
			wasActive, err := c.Kick(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if wasActive {
				client.PrintField(cmd.OutOrStdout(), "kicked", args[0], client.ColorRed)
			} else {
				client.PrintHint(cmd.OutOrStdout(), args[0]+" was already disconnected")
			}
			return nil
		},
	}
}

func newConnectCmd(r *rootCmd) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "connect <host> <port>",
		Short: "open a proxy session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%s: %q", constants.MsgInvalidPort, args[1])
			}
			c, err := r.client()
			if err != nil {
				return err
			}
			s, err := c.Connect(cmd.Context(), args[0], port, userID)
			if err != nil {
				return err
			}
			client.PrintField(cmd.OutOrStdout(), "connected", s.SessionID, client.ColorGreen)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User the session belongs to")
	return cmd
}

func newDisconnectCmd(r *rootCmd) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <id>",
		Short: "close a proxy session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.client()
			if err != nil {
				return err
			}
			wasActive, err := c.Disconnect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !wasActive {
				client.PrintHint(cmd.OutOrStdout(), args[0]+" was already disconnected")
			}
			return nil
		},
	}
}

func newConfigCmd(r *rootCmd) *cobra.Command {
	return &cobra.Command{
		Use:   "config [key value]",
		Short: "list runtime settings, or set one",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch len(args) {
			case 0:
				all, err := c.Settings(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range all {
					client.PrintField(out, s.Key, s.Value, client.ColorCyan)
				}
				return nil
			case 2:
				if err := c.SetSetting(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				client.PrintField(out, args[0], args[1], client.ColorGreen)
				return nil
			}
			return fmt.Errorf("config takes no arguments or a key and a value")
		},
	}
}

func newWatchCmd(r *rootCmd) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "stream lifecycle events as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			client.PrintBanner(out)
			client.PrintField(out, "server", c.BaseURL, client.ColorCyan)
			client.PrintSep(out)

			err = c.Watch(ctx, func(frame map[string]any) {
				fmt.Fprint(out, client.FormatEvent(frame, time.Now()))
			})
			fmt.Fprintf(out, "\n  %s● disconnected%s\n", client.ColorRed, client.ColorReset)
			return err
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "  %s✗%s %v\n", constants.ColorRed, constants.ColorReset, err)
		os.Exit(1)
	}
}
