// Package admin implements the modernapi-admin command line: schema
// migrations, token cleanup and account maintenance against the same store
// the server uses.
package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/server"
	"github.com/dmitrijs2005/modernapi/internal/server/config"
	"github.com/dmitrijs2005/modernapi/internal/server/services"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CoreLoader opens the service core for one command invocation. The command
// closes it when done.
type CoreLoader func(ctx context.Context, configFile, envFile string) (*server.Core, error)

// LoadCore reads configuration the same way the server does and builds a
// Core from it.
func LoadCore(ctx context.Context, configFile, envFile string) (*server.Core, error) {
	cfg, err := config.LoadConfigFiles(configFile, envFile)
	if err != nil {
		return nil, err
	}
	logger, err := server.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	return server.NewCore(ctx, cfg, logger)
}

type rootOptions struct {
	configFile string
	envFile    string
	load       CoreLoader
}

// NewRootCommand builds the command tree. load is called once per command.
func NewRootCommand(load CoreLoader) *cobra.Command {
	o := &rootOptions{load: load}

	root := &cobra.Command{
		Use:           "modernapi-admin",
		Short:         "Maintenance commands for the ModernAPI auth store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configFile, "config", "c", "", "path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&o.envFile, "env", "", "path to a .env file")

	root.AddCommand(
		newMigrateCommand(o),
		newSweepCommand(o),
		newCreateUserCommand(o),
		newShowUserCommand(o),
		newRevokeSessionsCommand(o),
		newDeactivateCommand(o),
		newReactivateCommand(o),
	)
	return root
}

func (o *rootOptions) withCore(cmd *cobra.Command, fn func(ctx context.Context, core *server.Core) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	core, err := o.load(ctx, o.configFile, o.envFile)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, core.Close()) }()
	return fn(ctx, core)
}

func newMigrateCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withCore(cmd, func(ctx context.Context, core *server.Core) error {
				if err := core.Store.Migrate(ctx); err != nil {
					return fmt.Errorf("migrations: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newSweepCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh tokens once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withCore(cmd, func(ctx context.Context, core *server.Core) error {
				n, err := core.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired refresh tokens\n", n)
				return nil
			})
		},
	}
}

func newCreateUserCommand(o *rootOptions) *cobra.Command {
	var (
		email, displayName, firstName, lastName string
		passwordStdin                           bool
	)

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Register an account",
		Long: "Register an account with the server's password policy. The password is\n" +
			"prompted for twice unless --password-stdin is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, confirm, err := readNewPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)
			defer common.WipeByteArray(confirm)

			req := services.RegisterRequest{
				Email:           email,
				Password:        string(pw),
				ConfirmPassword: string(confirm),
				DisplayName:     displayName,
				FirstName:       optional(firstName),
				LastName:        optional(lastName),
			}
			return o.withCore(cmd, func(ctx context.Context, core *server.Core) error {
				res, err := core.Auth.Register(ctx, req)
				if err != nil {
					return err
				}
				// The sign-in session is not handed to anyone.
				if _, err := core.Auth.RevokeSessions(ctx, res.User.ID, common.RevokeReasonAdmin); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", res.User.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("display-name")
	return cmd
}

func readNewPassword(cmd *cobra.Command, fromStdin bool) (pw, confirm []byte, err error) {
	if fromStdin {
		line, err := readLine(bufio.NewReader(cmd.InOrStdin()))
		if err != nil {
			return nil, nil, fmt.Errorf("read password: %w", err)
		}
		return []byte(line), []byte(line), nil
	}

	w := cmd.ErrOrStderr()
	pw, err = promptPassword(w, "Password: ")
	if err != nil {
		return nil, nil, fmt.Errorf("read password: %w", err)
	}
	confirm, err = promptPassword(w, "Repeat password: ")
	if err != nil {
		common.WipeByteArray(pw)
		return nil, nil, fmt.Errorf("read password: %w", err)
	}
	return pw, confirm, nil
}

func newShowUserCommand(o *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "show-user",
		Short: "Print a user's profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withCore(cmd, func(ctx context.Context, core *server.Core) error {
				p, err := core.Users.GetProfile(ctx, userID)
				if err != nil {
					return err
				}
				return writeYAML(cmd.OutOrStdout(), p)
			})
		},
	}
	userFlag(cmd, &userID)
	return cmd
}

func newRevokeSessionsCommand(o *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "revoke-sessions",
		Short: "Revoke every active refresh token of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withCore(cmd, func(ctx context.Context, core *server.Core) error {
				n, err := core.Auth.RevokeSessions(ctx, userID, common.RevokeReasonAdmin)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions\n", n)
				return nil
			})
		},
	}
	userFlag(cmd, &userID)
	return cmd
}

func newDeactivateCommand(o *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate an account and revoke its sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withCore(cmd, func(ctx context.Context, core *server.Core) error {
				if _, err := core.Users.Deactivate(ctx, userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated user %s\n", userID)
				return nil
			})
		},
	}
	userFlag(cmd, &userID)
	return cmd
}

func newReactivateCommand(o *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "reactivate",
		Short: "Reactivate a deactivated account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withCore(cmd, func(ctx context.Context, core *server.Core) error {
				if _, err := core.Users.Reactivate(ctx, userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reactivated user %s\n", userID)
				return nil
			})
		},
	}
	userFlag(cmd, &userID)
	return cmd
}

func userFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "user", "", "user ID")
	_ = cmd.MarkFlagRequired("user")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
