package core

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/metrics"
	"github.com/vovakirdan/huddle-server/internal/store"
)

// Hub coordinates sessions, presence, the message relay and call signaling.
type Hub interface {
	Run(ctx context.Context)
	RegisterClient(c *Client)
	UnregisterClient(c *Client)

	// OnlineUsers returns the identities currently registered.
	OnlineUsers() []string
	// History returns the stored messages in creation order.
	History(ctx context.Context) ([]ChatMessage, error)
	// DeleteMessage removes a message on behalf of requester and broadcasts the deletion.
	DeleteMessage(ctx context.Context, id, requester string, role Role) error
}

// PresenceMirror receives the online list after every directory change.
// Publish is called on the hub goroutine and must not block.
type PresenceMirror interface {
	Publish(users []string)
}

type options struct {
	mirror              PresenceMirror
	maxContentBytes     int
	requireRegistration bool
	storeTimeout        time.Duration
}

// Option customizes a hub.
type Option func(*options)

// WithPresenceMirror publishes directory snapshots to m.
func WithPresenceMirror(m PresenceMirror) Option {
	return func(o *options) { o.mirror = m }
}

// WithMaxContentBytes rejects chat content larger than n bytes.
func WithMaxContentBytes(n int) Option {
	return func(o *options) { o.maxContentBytes = n }
}

// WithRequireRegistration refuses chat from sessions that have not registered.
func WithRequireRegistration(v bool) Option {
	return func(o *options) { o.requireRegistration = v }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

type inbound struct {
	client *Client
	cmd    *Command
}

type hub struct {
	log       *zerolog.Logger
	mirror    PresenceMirror
	directory *Directory
	relay     *Relay
	signals   *Coordinator

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbox      chan inbound
	tasks      chan func()
	done       chan struct{}
}

// NewHub creates a hub backed by st. A nil logger disables logging.
func NewHub(st store.MessageStore, logger *zerolog.Logger, opts ...Option) Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	o := options{storeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	h := &hub{
		log:        logger,
		mirror:     o.mirror,
		directory:  NewDirectory(),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbox:      make(chan inbound, 256),
		tasks:      make(chan func(), 256),
		done:       make(chan struct{}),
	}
	h.relay = newRelay(st, h, logger, o)
	h.signals = NewCoordinator(h.directory, h.send, logger)
	return h
}

// Run processes hub events until ctx is cancelled. Every mutation of the
// directory and of session state happens here, one event at a time.
func (h *hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case in := <-h.inbox:
			h.handleCommand(in.client, in.cmd)
		case task := <-h.tasks:
			task()
		case <-ctx.Done():
			return
		}
	}
}

// RegisterClient attaches a new session. Its history replay is queued immediately.
func (h *hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.Events)
	}
}

// UnregisterClient ends the session. Commands already sent are processed
// first; the directory is purged exactly once afterwards.
func (h *hub) UnregisterClient(c *Client) {
	c.closeCommands()
}

func (h *hub) OnlineUsers() []string {
	return h.directory.List()
}

func (h *hub) History(ctx context.Context) ([]ChatMessage, error) {
	return h.relay.History(ctx)
}

func (h *hub) DeleteMessage(ctx context.Context, id, requester string, role Role) error {
	return h.relay.DeleteAs(ctx, id, requester, role)
}

func (h *hub) addClient(c *Client) {
	h.clients[c] = struct{}{}
	c.queue = newSerialQueue()
	metrics.SessionsActive.Inc()
	h.log.Debug().Str("client_id", c.ID).Msg("session connected")

	go h.pump(c)

	// Newcomers learn who is online without waiting for the next change.
	h.send(c, &Event{Kind: EventOnlineUsers, Users: h.directory.List()})
	h.relay.Replay(c)
}

// pump forwards a session's commands into the hub inbox, then its unregister.
func (h *hub) pump(c *Client) {
	for cmd := range c.Commands {
		select {
		case h.inbox <- inbound{client: c, cmd: cmd}:
		case <-h.done:
			return
		}
	}
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.queue.close()
	h.closeEvents(c)
	metrics.SessionsActive.Dec()

	removed := h.directory.UnregisterByHandle(c)
	h.log.Debug().Str("client_id", c.ID).Strs("users", removed).Msg("session disconnected")
	if len(removed) > 0 {
		h.broadcastPresence()
	}
}

func (h *hub) handleCommand(c *Client, cmd *Command) {
	if cmd == nil {
		return
	}
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch cmd.Kind {
	case CommandRegister:
		h.handleRegister(c, cmd)
	case CommandSubmitMessage:
		h.relay.Submit(c, cmd.Message)
	case CommandDeleteMessage:
		h.relay.Delete(c, cmd.MessageID)
	case CommandSignal:
		h.signals.Route(c, cmd.Signal)
	default:
		h.send(c, errorEvent(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *hub) handleRegister(c *Client, cmd *Command) {
	identity := strings.TrimSpace(cmd.Identity)
	if identity == "" {
		h.send(c, errorEvent(ErrCodeBadRequest, "identity is required"))
		return
	}

	c.identity = identity
	c.role = cmd.Role
	if c.role == "" {
		c.role = RoleMember
	}

	if prev := h.directory.Register(identity, c); prev != nil && prev != c {
		h.log.Info().Str("user", identity).Str("client_id", c.ID).Str("previous_client_id", prev.ID).Msg("identity re-registered, routing to new session")
	} else {
		h.log.Info().Str("user", identity).Str("client_id", c.ID).Msg("user registered")
	}

	h.send(c, &Event{Kind: EventRegistered, User: identity, Role: c.role})
	h.broadcastPresence()
}

func (h *hub) broadcastPresence() {
	users := h.directory.List()
	metrics.OnlineUsers.Set(float64(len(users)))
	if h.mirror != nil {
		h.mirror.Publish(users)
	}
	h.broadcast(&Event{Kind: EventOnlineUsers, Users: users})
}

func (h *hub) broadcast(ev *Event) {
	for c := range h.clients {
		h.send(c, ev)
	}
}

// send delivers ev without blocking. A session that cannot keep up is
// evicted; it recovers through history replay when it reconnects.
func (h *hub) send(c *Client, ev *Event) {
	if c.closed {
		return
	}
	select {
	case c.Events <- ev:
	default:
		metrics.SessionsEvictedTotal.Inc()
		h.log.Warn().Str("client_id", c.ID).Str("user", c.identity).Msg("outbound buffer full, evicting session")
		h.closeEvents(c)
	}
}

func (h *hub) post(task func()) {
	select {
	case h.tasks <- task:
	case <-h.done:
	}
}

func (h *hub) closeEvents(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Events)
}

func (h *hub) shutdown() {
	close(h.done)
	for c := range h.clients {
		c.queue.close()
		h.closeEvents(c)
	}
	h.clients = make(map[*Client]struct{})
}
