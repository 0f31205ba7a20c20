package core

import (
	"strings"
	"sync"
)

// Role is the authorization tag issued alongside an identity.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ParseRole maps an issued role string to a Role, defaulting to member.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleMember
}

// DefaultClientBuffer is the event buffer used when NewClient gets a non-positive size.
const DefaultClientBuffer = 64

// Client is one transport session as seen by the core layer. It doubles as
// the connection handle stored in the presence directory.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	// Owned by the hub goroutine.
	identity string
	role     Role
	closed   bool
	queue    *serialQueue

	commandsOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, buffer),
	}
}

// closeCommands ends the session's command stream; safe to call more than once.
func (c *Client) closeCommands() {
	c.commandsOnce.Do(func() { close(c.Commands) })
}
