// Package client is a websocket client for the huddle server. It decodes
// the event stream into chat history and presence updates, and feeds call
// signaling to a peer.Machine.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/peer"
	"github.com/vovakirdan/huddle-server/internal/proto"
)

// CallHandler receives inbound call signaling. *peer.Machine implements it.
type CallHandler interface {
	HandleIncoming(from string, offer peer.SessionDescription, video bool)
	HandleAnswer(from string, answer peer.SessionDescription)
	HandleCandidate(from string, c peer.Candidate)
	HandleRejected(from string)
	HandleEnd(from string)
	HandleUnavailable(target string)
}

// Handlers are optional callbacks for the events a UI cares about. They run
// on the goroutine calling Run.
type Handlers struct {
	OnOnlineUsers func(users []string)
	OnRegistered  func(ack proto.RegisteredData)
	OnMessage     func(msg Message)
	OnHistory     func(added []Message)
	OnDeleted     func(id string)
	OnIncoming    func(from string, video bool)
	OnUnavailable func(target, action string)
	OnError       func(err proto.Error)

	Calls CallHandler
}

// Options configure Dial.
type Options struct {
	Header http.Header
	// ReadLimit caps inbound frames. Zero means no limit.
	ReadLimit int64
	Logger    *zerolog.Logger
}

// Client is one websocket session.
type Client struct {
	conn    *websocket.Conn
	log     *zerolog.Logger
	history *History
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// Dial connects to the websocket endpoint at addr (ws://host/ws).
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	conn, _, err := websocket.Dial(ctx, addr, &websocket.DialOptions{HTTPHeader: opts.Header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// History replays arrive as one frame whose size grows with the stored
	// log, so frames are unbounded unless the caller sets a limit.
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = -1
	}
	conn.SetReadLimit(limit)
	return &Client{conn: conn, log: logger, history: NewHistory()}, nil
}

// History returns the deduplicated chat log received so far.
func (c *Client) History() *History { return c.history }

// Register announces the session identity. token may be empty.
func (c *Client) Register(ctx context.Context, user, token string) error {
	return c.Signal(ctx, proto.EventRegisterUser, proto.RegisterData{
		User:     user,
		Token:    token,
		Protocol: proto.ProtocolVersion,
	})
}

// SendText submits a text message.
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.Signal(ctx, proto.EventChatMessage, proto.ChatData{Content: text})
}

// SendFile reads path and submits it as a file message.
func (c *Client) SendFile(ctx context.Context, path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return c.SendFileBytes(ctx, filepath.Base(path), payload)
}

// SendFileBytes submits payload as a file message named name.
func (c *Client) SendFileBytes(ctx context.Context, name string, payload []byte) error {
	content, err := fileDescriptor(name, payload).Encode()
	if err != nil {
		return err
	}
	return c.Signal(ctx, proto.EventChatFile, proto.ChatData{Content: content, Type: "file"})
}

// Delete asks the server to delete a message.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.Signal(ctx, proto.EventDeleteMessage, proto.DeleteData{ID: id})
}

// Signal sends a named event. It implements peer.Signaler.
func (c *Client) Signal(ctx context.Context, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if err := wsjson.Write(ctx, c.conn, proto.Inbound{Type: event, Data: raw}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Close closes the connection normally.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// Run reads events until ctx is done or the connection closes. A normal
// close returns nil.
func (c *Client) Run(ctx context.Context, h Handlers) error {
	for {
		var f frame
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		if err := c.dispatch(f, h); err != nil {
			c.log.Warn().Err(err).Str("event", f.Event).Msg("bad event ignored")
		}
	}
}

func (c *Client) dispatch(f frame, h Handlers) error {
	if f.Type == proto.OutboundTypeError {
		if f.Error != nil && h.OnError != nil {
			h.OnError(*f.Error)
		}
		return nil
	}

	switch f.Event {
	case proto.EventOnlineUsers:
		var users []string
		if err := json.Unmarshal(f.Data, &users); err != nil {
			return err
		}
		if h.OnOnlineUsers != nil {
			h.OnOnlineUsers(users)
		}
	case proto.EventRegistered:
		var ack proto.RegisteredData
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			return err
		}
		if h.OnRegistered != nil {
			h.OnRegistered(ack)
		}
	case proto.EventChatMessage, proto.EventChatFile:
		var wire proto.ChatMessage
		if err := json.Unmarshal(f.Data, &wire); err != nil {
			return err
		}
		msg := decodeMessage(wire)
		if c.history.Add(msg) && h.OnMessage != nil {
			h.OnMessage(msg)
		}
	case proto.EventLoadMessages:
		var wire []proto.ChatMessage
		if err := json.Unmarshal(f.Data, &wire); err != nil {
			return err
		}
		msgs := make([]Message, 0, len(wire))
		for _, w := range wire {
			msgs = append(msgs, decodeMessage(w))
		}
		added := c.history.Merge(msgs)
		if h.OnHistory != nil {
			h.OnHistory(added)
		}
	case proto.EventDeleteMessage:
		var del proto.DeleteData
		if err := json.Unmarshal(f.Data, &del); err != nil {
			return err
		}
		if c.history.Remove(del.ID) && h.OnDeleted != nil {
			h.OnDeleted(del.ID)
		}
	case proto.EventUserUnavailable:
		var data proto.UserUnavailableData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return err
		}
		if h.Calls != nil {
			h.Calls.HandleUnavailable(data.TargetID)
		}
		if h.OnUnavailable != nil {
			h.OnUnavailable(data.TargetID, data.Action)
		}
	default:
		return c.dispatchCall(f, h)
	}
	return nil
}

func (c *Client) dispatchCall(f frame, h Handlers) error {
	switch f.Event {
	case proto.EventIncomingCall:
		var data proto.IncomingCallData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return err
		}
		var offer peer.SessionDescription
		if err := json.Unmarshal(data.Offer, &offer); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		if h.Calls != nil {
			h.Calls.HandleIncoming(data.From, offer, data.IsVideo)
		}
		if h.OnIncoming != nil {
			h.OnIncoming(data.From, data.IsVideo)
		}
	case proto.EventCallAnswered:
		var data proto.CallAnsweredData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return err
		}
		var answer peer.SessionDescription
		if err := json.Unmarshal(data.Answer, &answer); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		if h.Calls != nil {
			h.Calls.HandleAnswer(data.From, answer)
		}
	case proto.EventICECandidate:
		var data proto.ICECandidateEvent
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return err
		}
		var cand peer.Candidate
		if err := json.Unmarshal(data.Candidate, &cand); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		if h.Calls != nil {
			h.Calls.HandleCandidate(data.From, cand)
		}
	case proto.EventCallRejected, proto.EventEndCall:
		var data proto.PeerData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			return err
		}
		if h.Calls == nil {
			return nil
		}
		if f.Event == proto.EventCallRejected {
			h.Calls.HandleRejected(data.From)
		} else {
			h.Calls.HandleEnd(data.From)
		}
	default:
		c.log.Debug().Str("event", f.Event).Msg("unhandled event")
	}
	return nil
}
