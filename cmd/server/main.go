package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"proxyhub/internal/auth"
	"proxyhub/internal/config"
	"proxyhub/internal/constants"
	"proxyhub/internal/logger"
	"proxyhub/internal/server"
)

const serverDesc = `
proxyhub-server tracks proxy sessions, streams their lifecycle to dashboard
observers over a persistent websocket, and optionally mirrors it to a remote
aggregator.
`

type serverCmd struct {
	configPath string
	envFile    string
}

func (c *serverCmd) run(ctx context.Context) error {
	cfg, err := config.Load(c.configPath, c.envFile)
	if err != nil {
		return err
	}

	l, err := logger.New(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer l.Close()

	s, err := server.New(ctx, cfg, l.Logger)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

func newServerCmd() *cobra.Command {
	c := &serverCmd{}
	cmd := &cobra.Command{
		Use:           "proxyhub-server",
		Short:         "run the proxy session hub",
		Long:          serverDesc,
		Version:       constants.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.run(ctx)
		},
	}
	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	persistentFlags.StringVarP(&c.envFile, "env-file", "", ".env", "Path to a .env file")

	cmd.AddCommand(newHashPasswordCmd())
	return cmd
}

type hashPasswordCmd struct {
	cost int
}

func (c *hashPasswordCmd) validate() error {
	if c.cost < 4 || c.cost > 31 {
		return errors.New("cost must be between 4 and 31")
	}
	return nil
}

func newHashPasswordCmd() *cobra.Command {
	c := &hashPasswordCmd{}
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "print a bcrypt hash for an operator entry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.validate(); err != nil {
				return err
			}
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is empty")
			}
			hash, err := auth.HashPassword(password, c.cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&c.cost, "cost", constants.BcryptDefaultCost, "bcrypt cost")
	return cmd
}

func main() {
	if err := newServerCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "  %s✗%s %v\n", constants.ColorRed, constants.ColorReset, err)
		os.Exit(1)
	}
}
