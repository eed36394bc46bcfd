package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tOgg1/courier/internal/messaging"
	"github.com/tOgg1/courier/internal/models"
)

func newInboxCmd(a *app) *cobra.Command {
	var (
		as         string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List conversations with unread counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.actingUser(as)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Messaging.WriteTimeout)
			defer cancel()
			e, err := a.startEngine(ctx, userID)
			if err != nil {
				return err
			}
			defer e.Close()

			state, err := e.settle(ctx, nil)
			if err != nil {
				return err
			}
			notifications := e.session.Notifications.Notifications()

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"conversations":       state.Conversations,
					"unreadTotal":         state.UnreadTotal,
					"notifications":       notifications,
					"unreadNotifications": e.session.Notifications.UnreadCount(),
				})
			}
			return writeInbox(cmd, state, userID)
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "acting user (default: current user)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func writeInbox(cmd *cobra.Command, state messaging.State, me string) error {
	out := cmd.OutOrStdout()
	if len(state.Conversations) == 0 {
		fmt.Fprintln(out, "No conversations")
		return nil
	}
	rows := make([][]string, 0, len(state.Conversations))
	for _, conv := range state.Conversations {
		rows = append(rows, []string{
			conversationTitle(conv, me),
			strconv.Itoa(conv.UnreadCount),
			formatAgo(conv.LastMessageTime),
			truncate(conv.LastMessage, previewWidth),
		})
	}
	if err := writeTable(out, []string{"WITH", "UNREAD", "LAST", "MESSAGE"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d unread\n", state.UnreadTotal)
	return nil
}

// conversationTitle names the other participant, falling back to their id.
func conversationTitle(conv models.Conversation, me string) string {
	other := conv.OtherParticipant(me)
	if name := conv.ParticipantNames[other]; name != "" {
		return name
	}
	if other == "" {
		return conv.ID
	}
	return other
}

func newUsersCmd(a *app) *cobra.Command {
	var (
		as         string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List the users you can message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := a.actingUser(as)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Messaging.WriteTimeout)
			defer cancel()
			e, err := a.startEngine(ctx, userID)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.session.Messaging.ShowDirectory(ctx); err != nil {
				return err
			}
			users := e.session.Messaging.State().Users

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), users)
			}
			return writeUsers(cmd, users)
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "acting user (default: current user)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func writeUsers(cmd *cobra.Command, users []models.User) error {
	out := cmd.OutOrStdout()
	if len(users) == 0 {
		fmt.Fprintln(out, "No users")
		return nil
	}
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{u.ID, u.Name, string(u.Role), formatYesNo(u.Online), formatAgo(u.LastSeen)})
	}
	return writeTable(out, []string{"ID", "NAME", "ROLE", "ONLINE", "LAST SEEN"}, rows)
}
