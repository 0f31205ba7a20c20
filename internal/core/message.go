package core

import "time"

// Kind tags the content of a chat message.
type Kind string

const (
	KindText   Kind = "text"
	KindFile   Kind = "file"
	KindSystem Kind = "system"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindFile, KindSystem:
		return true
	default:
		return false
	}
}

// ChatMessage is the domain model for a chat message. For KindFile the
// content is a serialized file descriptor that the core never inspects.
type ChatMessage struct {
	ID        string
	Sender    string
	Kind      Kind
	Content   string
	CreatedAt time.Time
}
