package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/courier/internal/models"
	"github.com/tOgg1/courier/internal/session"
)

// lookupUser resolves a user or linked customer by id.
func (a *app) lookupUser(ctx context.Context, id string) (models.User, error) {
	b, err := openBackend(ctx, a.cfg)
	if err != nil {
		return models.User{}, err
	}
	defer b.Close()
	user, err := b.Directory.Lookup(ctx, id)
	if err != nil {
		return models.User{}, fmt.Errorf("look up %s: %w", id, err)
	}
	return user, nil
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		as         string
		save       bool
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Issue an API token for a user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateServer(); err != nil {
				return err
			}
			if len(args) == 1 {
				as = args[0]
			}
			userID, err := a.actingUser(as)
			if err != nil {
				return err
			}
			user, err := a.lookupUser(cmd.Context(), userID)
			if err != nil {
				return err
			}

			issuer, err := session.NewTokenIssuer(a.cfg.Server.JWTSecret, a.cfg.Server.JWTIssuer, a.cfg.Server.TokenTTL)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(user.Identity())
			if err != nil {
				return err
			}

			if save {
				current, err := a.contexts.Load()
				if err != nil {
					return err
				}
				current.SetUser(user.ID, user.Name, string(user.Role))
				current.Token = token
				if err := a.contexts.Save(current); err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"user":      user.Identity(),
					"token":     token,
					"expiresAt": time.Now().Add(a.cfg.Server.TokenTTL).UTC(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "user to issue the token for (default: current user)")
	cmd.Flags().BoolVar(&save, "save", false, "remember the token and user in the CLI context")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func newUseCmd(a *app) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "use [user]",
		Short: "Select the user other commands act as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forget {
				if err := a.contexts.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "cleared")
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("user is required")
			}

			user, err := a.lookupUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			current, err := a.contexts.Load()
			if err != nil {
				return err
			}
			current.SetUser(user.ID, user.Name, string(user.Role))
			if err := a.contexts.Save(current); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), current.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&forget, "clear", false, "forget the selected user")
	return cmd
}

func newWhoamiCmd(a *app) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the selected user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, err := a.contexts.Load()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"user":     current.UserID,
					"name":     current.UserName,
					"role":     current.Role,
					"hasToken": current.Token != "",
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), current.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
