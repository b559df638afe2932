package cli

import (
	"context"
	"fmt"
	"time"

	"chatsync/pkg/client"
	"chatsync/pkg/models"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(historyCmd, conversationsCmd, createCmd)
	historyCmd.Flags().String("cursor", "", "page cursor returned by a previous call")
	historyCmd.Flags().Int("limit", 50, "page size")
	createCmd.Flags().String("kind", string(models.KindGroup), "direct, group or live")
	createCmd.Flags().String("title", "", "conversation title")
}

func restClient(cmd *cobra.Command) (*client.REST, error) {
	initLogging(cmd)
	cfg, err := requireConfig(cmd)
	if err != nil {
		return nil, err
	}
	return client.NewREST(cfg.Server, cfg.Token), nil
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Page backwards through a conversation on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := restClient(cmd)
		if err != nil {
			return err
		}
		cursor, _ := cmd.Flags().GetString("cursor")
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		page, err := r.Before(ctx, args[0], cursor, limit)
		if err != nil {
			return err
		}
		for _, m := range page.Messages {
			switch {
			case m.Deleted():
				fmt.Printf("#%d %s %s: (deleted)\n", m.Seq, m.ID, m.SenderID)
			default:
				fmt.Printf("#%d %s %s: %s\n", m.Seq, m.ID, m.SenderID, m.Content)
			}
		}
		if page.Pagination.HasMore {
			fmt.Printf("-- more: --cursor %s\n", page.Pagination.NextCursor)
		}
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := restClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		ids, err := r.Conversations(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <participant...>",
	Short: "Create a conversation with the given participants",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := restClient(cmd)
		if err != nil {
			return err
		}
		kind, _ := cmd.Flags().GetString("kind")
		title, _ := cmd.Flags().GetString("title")
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		conv, err := r.CreateConversation(ctx, models.ConversationKind(kind), title, args)
		if err != nil {
			return err
		}
		fmt.Println(conv.ID)
		return nil
	},
}
