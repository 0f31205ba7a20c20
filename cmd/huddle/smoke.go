package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/huddle-server/internal/client"
	"github.com/vovakirdan/huddle-server/internal/proto"
)

func newSmokeCmd() *cobra.Command {
	var (
		addr    string
		user    string
		text    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Register, send one message and wait for its broadcast",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c, err := client.Dial(ctx, addr, client.Options{})
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			echoed := make(chan client.Message, 1)
			runErr := make(chan error, 1)
			go func() {
				runErr <- c.Run(ctx, client.Handlers{
					OnOnlineUsers: func(users []string) { fmt.Fprintf(out, "online: %v\n", users) },
					OnHistory:     func(added []client.Message) { fmt.Fprintf(out, "history: %d messages\n", len(added)) },
					OnMessage: func(msg client.Message) {
						if msg.Sender == user && msg.Content == text {
							echoed <- msg
						}
					},
					OnError: func(e proto.Error) { fmt.Fprintf(out, "error: %s: %s\n", e.Code, e.Msg) },
				})
			}()

			if err := c.Register(ctx, user, ""); err != nil {
				return err
			}
			if err := c.SendText(ctx, text); err != nil {
				return err
			}

			select {
			case msg := <-echoed:
				fmt.Fprintf(out, "ok: id=%s ts=%s\n", msg.ID, msg.Timestamp)
				return nil
			case err := <-runErr:
				return fmt.Errorf("connection closed before echo: %v", err)
			case <-ctx.Done():
				return fmt.Errorf("no echo within %s", timeout)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:5000/ws", "WebSocket address")
	cmd.Flags().StringVar(&user, "user", "tester", "identity to register")
	cmd.Flags().StringVar(&text, "text", "hello from smoke test", "message text to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "total timeout for the run")
	return cmd
}
