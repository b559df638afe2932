package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatsync/pkg/client"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd, tailCmd, showCmd)
	syncCmd.Flags().Duration("timeout", 30*time.Second, "give up after this long")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes and catch up every watched conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		if err := flush(ctx, s, timeout); err != nil {
			return err
		}
		for _, conv := range s.engine.Watched() {
			cur, err := s.engine.Cursor(conv)
			if err != nil {
				return err
			}
			fmt.Printf("%s: synced to #%d\n", conv, cur.Seq)
		}
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail <conversation-id>",
	Short: "Follow a conversation until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		conv := args[0]
		if err := s.engine.Watch(conv); err != nil {
			return err
		}
		entries, err := s.engine.Messages(conv)
		if err != nil {
			return err
		}
		for i := range entries {
			printEntry(&entries[i])
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		updates, unsub := s.engine.Subscribe()
		defer unsub()
		done := s.run(ctx)
		for {
			select {
			case err := <-done:
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			case u := <-updates:
				printUpdate(conv, u)
			}
		}
	},
}

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print the cached copy of a conversation without connecting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		entries, err := s.engine.Messages(args[0])
		if err != nil {
			return err
		}
		for i := range entries {
			printEntry(&entries[i])
		}
		return reportPending(s)
	},
}

func printUpdate(conv string, u client.Update) {
	if u.ConversationID != "" && u.ConversationID != conv {
		return
	}
	switch u.Kind {
	case client.MessageUpserted:
		printEntry(u.Entry)
	case client.ActionFailed:
		fmt.Printf("! rejected %s: %v\n", u.Key, u.Err)
	case client.ReactionChanged:
		verb := "reacted"
		if u.ReactionRemoved {
			verb = "unreacted"
		}
		fmt.Printf("* %s %s %s on %s\n", u.Reaction.UserID, verb, u.Reaction.Emoji, u.Reaction.MessageID)
	case client.ReadChanged:
		fmt.Printf("* %s read up to #%d\n", u.Read.UserID, u.Read.Seq)
	case client.TypingChanged:
		if len(u.Typing) > 0 {
			fmt.Printf("* typing: %v\n", u.Typing)
		}
	case client.ParticipantChanged:
		fmt.Printf("* %s %s\n", u.Participant.UserID, u.Event)
	case client.ConnectionChanged:
		if u.Err != nil {
			fmt.Printf("~ %s (%v)\n", u.State, u.Err)
		} else {
			fmt.Printf("~ %s\n", u.State)
		}
	}
}
