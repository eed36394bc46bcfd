package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		as         string
		to         string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "send --to <user> <message>",
		Short: "Send a message to a user",
		Long:  "Send a message, starting the conversation on first contact. Use - to read the message from stdin.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := resolveContent(cmd, args)
			if err != nil {
				return err
			}
			userID, err := a.actingUser(as)
			if err != nil {
				return err
			}
			if strings.TrimSpace(to) == "" {
				return fmt.Errorf("--to is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Messaging.WriteTimeout)
			defer cancel()
			e, err := a.startEngine(ctx, userID)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := e.session.Messaging
			if err := svc.SelectUser(ctx, to); err != nil {
				return err
			}
			msg, err := svc.SendMessage(ctx, content)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), msg)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "sending user (default: current user)")
	cmd.Flags().StringVar(&to, "to", "", "recipient user id")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func resolveContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}
