package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/huddle-server/internal/client"
	"github.com/vovakirdan/huddle-server/internal/config"
	"github.com/vovakirdan/huddle-server/internal/log"
	"github.com/vovakirdan/huddle-server/internal/peer"
	"github.com/vovakirdan/huddle-server/internal/peer/pion"
	"github.com/vovakirdan/huddle-server/internal/proto"
)

const chatHelp = `Commands:
  /who                 list online users
  /history             show the chat log with message ids
  /file PATH           send a file
  /delete ID           delete a message
  /call USER [video]   start a call
  /accept | /reject    answer the ringing call
  /hangup              end the current call
  /quit                exit
Anything else is sent as a chat message.`

type chatFlags struct {
	addr  string
	user  string
	token string
	ice   []string
}

func newChatCmd(root *rootFlags) *cobra.Command {
	flags := &chatFlags{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal client with chat and calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := root.logLevel
			if level == "" {
				level = "warn"
			}
			return runChat(cmd.Context(), flags, level, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "ws://localhost:5000/ws", "WebSocket address")
	cmd.Flags().StringVar(&flags.user, "user", "cli-user", "identity to register")
	cmd.Flags().StringVar(&flags.token, "token", "", "bearer token issued for the identity")
	cmd.Flags().StringSliceVar(&flags.ice, "ice", config.Default().ICEServers, "STUN/TURN urls for calls")
	return cmd
}

// chatSession holds the terminal state shared by the read and write loops.
type chatSession struct {
	out     io.Writer
	outMu   sync.Mutex
	c       *client.Client
	calls   *peer.Machine
	usersMu sync.Mutex
	users   []string
}

func (s *chatSession) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func runChat(parent context.Context, flags *chatFlags, level string, in io.Reader, out io.Writer) error {
	baseCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	logger := log.NewWithWriter(level, "console", os.Stderr)

	c, err := client.Dial(ctx, flags.addr, client.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer c.Close()

	s := &chatSession{out: out, c: c}
	s.calls = peer.New(peer.Config{
		Self:        flags.user,
		Signaler:    c,
		Media:       pion.SyntheticSource{},
		Negotiators: pion.NewFactory(flags.ice, logger),
		Logger:      logger,
	})
	s.calls.OnStateChange(func(_, to peer.State) {
		s.printf("* call %s", to)
	})

	go func() {
		defer cancel()
		if err := c.Run(ctx, s.handlers()); err != nil {
			s.printf("connection lost: %v", err)
		}
	}()

	if err := c.Register(ctx, flags.user, flags.token); err != nil {
		return err
	}
	s.printf("Connected to %s as %s. Type /help for commands, Ctrl+C to exit.", flags.addr, flags.user)

	s.writeLoop(ctx, in)
	s.calls.Hangup()
	return nil
}

func (s *chatSession) handlers() client.Handlers {
	return client.Handlers{
		OnOnlineUsers: func(users []string) {
			s.usersMu.Lock()
			s.users = users
			s.usersMu.Unlock()
			s.printf("* online: %s", strings.Join(users, ", "))
		},
		OnRegistered: func(ack proto.RegisteredData) {
			s.printf("* registered as %s (%s)", ack.User, ack.Role)
		},
		OnMessage: func(msg client.Message) {
			s.printf("%s", msg.Render())
		},
		OnHistory: func(added []client.Message) {
			for _, msg := range added {
				s.printf("%s", msg.Render())
			}
		},
		OnDeleted: func(id string) {
			s.printf("* message %s deleted", id)
		},
		OnIncoming: func(from string, video bool) {
			kind := "audio"
			if video {
				kind = "video"
			}
			s.printf("* incoming %s call from %s: /accept or /reject", kind, from)
		},
		OnUnavailable: func(target, action string) {
			s.printf("* %s is not online (%s)", target, action)
		},
		OnError: func(e proto.Error) {
			s.printf("! %s: %s", e.Code, e.Msg)
		},
		Calls: s.calls,
	}
}

func (s *chatSession) writeLoop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			quit, err := s.command(ctx, text)
			if err != nil {
				s.printf("! %v", err)
			}
			if quit {
				return
			}
		}
	}
}

func (s *chatSession) command(ctx context.Context, line string) (quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		return false, s.c.SendText(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		s.printf("%s", chatHelp)
	case "/who":
		s.usersMu.Lock()
		users := strings.Join(s.users, ", ")
		s.usersMu.Unlock()
		s.printf("* online: %s", users)
	case "/history":
		for _, msg := range s.c.History().Messages() {
			s.printf("[%s] %s", msg.ID, msg.Render())
		}
	case "/file":
		if len(fields) < 2 {
			return false, errors.New("usage: /file PATH")
		}
		return false, s.c.SendFile(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/file")))
	case "/delete":
		if len(fields) != 2 {
			return false, errors.New("usage: /delete ID")
		}
		return false, s.c.Delete(ctx, fields[1])
	case "/call":
		if len(fields) < 2 {
			return false, errors.New("usage: /call USER [video]")
		}
		video := len(fields) > 2 && fields[2] == "video"
		return false, s.calls.Dial(ctx, fields[1], peer.ModeFor(video))
	case "/accept":
		return false, s.calls.Accept(ctx)
	case "/reject":
		return false, s.calls.Reject()
	case "/hangup":
		s.calls.Hangup()
	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}
