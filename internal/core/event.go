package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventOnlineUsers carries the full list of registered identities.
	EventOnlineUsers EventKind = iota
	// EventRegistered acknowledges a registration to the registering session.
	EventRegistered
	// EventChatMessage carries a persisted message (text or file).
	EventChatMessage
	// EventMessageDeleted carries the id of a removed message.
	EventMessageDeleted
	// EventHistory delivers the stored history to a newly connected session.
	EventHistory
	// EventError notifies a client about a domain error.
	EventError

	// Call signaling
	EventIncomingCall
	EventCallAnswered
	EventICECandidate
	EventCallRejected
	EventCallEnded
	// EventUserUnavailable tells an initiator its signaling target is offline.
	EventUserUnavailable
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	User      string
	Role      Role
	Users     []string
	Message   ChatMessage
	Messages  []ChatMessage
	MessageID string
	Signal    *Signal
	Error     *CoreError
}

func errorEvent(code, msg string) *Event {
	return &Event{Kind: EventError, Error: coreError(code, msg)}
}

var signalEvents = map[SignalAction]EventKind{
	SignalCallUser:     EventIncomingCall,
	SignalAnswerCall:   EventCallAnswered,
	SignalICECandidate: EventICECandidate,
	SignalRejectCall:   EventCallRejected,
	SignalEndCall:      EventCallEnded,
}
