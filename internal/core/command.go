package core

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandRegister binds an identity to the session.
	CommandRegister CommandKind = iota
	// CommandSubmitMessage persists and fans out a chat message.
	CommandSubmitMessage
	// CommandDeleteMessage removes a message and fans out the deletion.
	CommandDeleteMessage
	// CommandSignal forwards a call-control message to its target.
	CommandSignal
)

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind

	// CommandRegister
	Identity string
	Role     Role

	// CommandSubmitMessage. Message.Sender is only honored for unregistered sessions.
	Message ChatMessage

	// CommandDeleteMessage
	MessageID string

	// CommandSignal
	Signal *Signal
}

// SignalAction names a call-control action.
type SignalAction string

const (
	SignalCallUser     SignalAction = "call-user"
	SignalAnswerCall   SignalAction = "answer-call"
	SignalICECandidate SignalAction = "ice-candidate"
	SignalRejectCall   SignalAction = "reject-call"
	SignalEndCall      SignalAction = "end-call"
)

// Valid reports whether a is one of the five routed actions.
func (a SignalAction) Valid() bool {
	switch a {
	case SignalCallUser, SignalAnswerCall, SignalICECandidate, SignalRejectCall, SignalEndCall:
		return true
	default:
		return false
	}
}

// Signal is a call-control message. Payload carries the offer, answer or
// candidate untouched.
type Signal struct {
	Action  SignalAction
	Target  string
	From    string
	Payload json.RawMessage
	Video   bool
}
