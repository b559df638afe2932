package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatsync/pkg/client"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd, editCmd, deleteCmd, reactCmd, readCmd)
	for _, c := range []*cobra.Command{sendCmd, editCmd, deleteCmd, reactCmd, readCmd} {
		c.Flags().Duration("timeout", 10*time.Second, "how long to wait for the server before leaving the change queued")
	}
	sendCmd.Flags().String("media", "", "media reference to attach")
	reactCmd.Flags().Bool("remove", false, "remove the reaction instead of adding it")
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a message, queueing it if the server is unreachable",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		media, _ := cmd.Flags().GetString("media")
		return withFlush(cmd, args[0], func(s *session) error {
			ent, err := s.engine.Send(args[0], strings.Join(args[1:], " "), media)
			if err != nil {
				return err
			}
			fmt.Printf("queued %s\n", ent.TempID)
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <conversation-id> <message-id> <text...>",
	Short: "Edit one of your messages",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFlush(cmd, args[0], func(s *session) error {
			_, err := s.engine.Edit(args[0], args[1], strings.Join(args[2:], " "))
			return err
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id> <message-id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFlush(cmd, args[0], func(s *session) error {
			return s.engine.Delete(args[0], args[1])
		})
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <conversation-id> <message-id> <emoji>",
	Short: "Add or remove a reaction",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		remove, _ := cmd.Flags().GetBool("remove")
		return withFlush(cmd, args[0], func(s *session) error {
			if remove {
				return s.engine.Unreact(args[0], args[1], args[2])
			}
			return s.engine.React(args[0], args[1], args[2])
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id> <message-id>",
	Short: "Mark a message as read",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFlush(cmd, args[0], func(s *session) error {
			return s.engine.MarkRead(args[0], args[1])
		})
	},
}

// withFlush applies a local change, then keeps the engine connected until
// the outbox drains or the timeout passes. Undelivered changes stay in the
// cache for the next run.
func withFlush(cmd *cobra.Command, conv string, apply func(*session) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.engine.Watch(conv); err != nil {
		return err
	}
	if err := apply(s); err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	return flush(ctx, s, timeout)
}

// flush runs the engine until the outbox is empty.
func flush(ctx context.Context, s *session, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	updates, unsub := s.engine.Subscribe()
	defer unsub()
	done := s.run(ctx)

	var failed error
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return reportPending(s)
			}
			return err
		case u, ok := <-updates:
			if ok && u.Kind == client.ActionFailed {
				failed = u.Err
				fmt.Printf("rejected: %v\n", u.Err)
			}
		case <-tick.C:
			q, err := s.engine.Pending()
			if err != nil {
				return err
			}
			if len(q) == 0 && s.engine.State() == client.StateOnline {
				cancel()
				<-done
				return failed
			}
		}
	}
}

func reportPending(s *session) error {
	q, err := s.engine.Pending()
	if err != nil {
		return err
	}
	if len(q) > 0 {
		fmt.Printf("%d change(s) still queued; run `chatsync-cli sync` to deliver them\n", len(q))
	}
	return nil
}
