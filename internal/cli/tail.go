package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/courier/internal/messaging"
	"github.com/tOgg1/courier/internal/models"
)

func newTailCmd(a *app) *cobra.Command {
	var (
		as     string
		with   string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "tail --with <user>",
		Short: "Print the conversation with a user",
		Long:  "Print the conversation with a user. Opening it marks inbound messages read. With --follow, new messages are printed as they arrive.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.actingUser(as)
			if err != nil {
				return err
			}
			if strings.TrimSpace(with) == "" {
				return fmt.Errorf("--with is required")
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			e, err := a.startEngine(ctx, userID)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := e.session.Messaging
			if err := svc.SelectUser(ctx, with); err != nil {
				return err
			}
			// Wait for the read marks to land so a following inbox agrees.
			settleCtx, cancel := context.WithTimeout(ctx, a.cfg.Messaging.WriteTimeout)
			state, err := e.settle(settleCtx, func(s messaging.State) bool {
				for _, msg := range s.Messages {
					if msg.InboundUnread(userID) {
						return false
					}
				}
				return true
			})
			cancel()
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			out := cmd.OutOrStdout()
			printed := make(map[string]bool)
			printMessages(out, state.Messages, userID, printed)
			if !follow {
				return nil
			}

			states, unsubscribe := svc.Subscribe()
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-e.session.Done():
					return nil
				case notice := <-svc.Errors():
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %s: %s\n", notice.Op, notice.Message())
				case next, ok := <-states:
					if !ok {
						return errors.New("session ended")
					}
					printMessages(out, next.Messages, userID, printed)
				}
			}
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "acting user (default: current user)")
	cmd.Flags().StringVar(&with, "with", "", "other participant's user id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new messages")
	return cmd
}

// printMessages writes the messages not yet in printed, in stream order.
func printMessages(out io.Writer, list []models.Message, me string, printed map[string]bool) {
	for _, msg := range list {
		if printed[msg.ID] {
			continue
		}
		printed[msg.ID] = true
		fmt.Fprintln(out, formatMessage(msg, me))
	}
}

func formatMessage(msg models.Message, me string) string {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	if msg.SenderID == me {
		sender += " (you)"
	}
	return fmt.Sprintf("[%s] %s: %s", formatAgo(msg.Timestamp), sender, msg.Content)
}
