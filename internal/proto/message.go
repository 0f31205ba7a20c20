package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	EventRegisterUser  = "register-user"
	EventOnlineUsers   = "online-users"
	EventRegistered    = "registered"
	EventChatMessage   = "chatMessage"
	EventChatFile      = "chatFile"
	EventDeleteMessage = "deleteMessage"
	EventLoadMessages  = "loadMessages"

	EventCallUser        = "call-user"
	EventIncomingCall    = "incoming-call"
	EventAnswerCall      = "answer-call"
	EventCallAnswered    = "call-answered"
	EventICECandidate    = "ice-candidate"
	EventRejectCall      = "reject-call"
	EventCallRejected    = "call-rejected"
	EventEndCall         = "end-call"
	EventUserUnavailable = "user-unavailable"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// RegisterData identifies the session. Older clients send a bare JSON string.
type RegisterData struct {
	User     string `json:"user"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

func (r *RegisterData) UnmarshalJSON(data []byte) error {
	if s, ok, err := bareString(data); ok {
		if err != nil {
			return err
		}
		*r = RegisterData{User: s}
		return nil
	}
	type plain RegisterData
	return json.Unmarshal(data, (*plain)(r))
}

// RegisteredData acknowledges a registration.
type RegisteredData struct {
	User     string `json:"user"`
	Role     string `json:"role"`
	Protocol int    `json:"protocol"`
}

// ChatData is a text or file submission. Content for files is a serialized FileDescriptor.
type ChatData struct {
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// DeleteData names the message to delete. A bare JSON string is accepted too.
type DeleteData struct {
	ID string `json:"id"`
}

func (d *DeleteData) UnmarshalJSON(data []byte) error {
	if s, ok, err := bareString(data); ok {
		if err != nil {
			return err
		}
		d.ID = s
		return nil
	}
	type plain DeleteData
	return json.Unmarshal(data, (*plain)(d))
}

// ChatMessage is a persisted message as seen on the wire.
type ChatMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// CallUserData starts a call.
type CallUserData struct {
	TargetID string          `json:"targetId"`
	Offer    json.RawMessage `json:"offer"`
	Caller   string          `json:"caller,omitempty"`
	IsVideo  any             `json:"isVideo,omitempty"`
}

// AnswerCallData answers an incoming call.
type AnswerCallData struct {
	TargetID string          `json:"targetId"`
	Answer   json.RawMessage `json:"answer"`
}

// ICECandidateData carries one connectivity candidate.
type ICECandidateData struct {
	TargetID  string          `json:"targetId"`
	Candidate json.RawMessage `json:"candidate"`
}

// TargetData is the payload of reject-call and end-call.
type TargetData struct {
	TargetID string `json:"targetId"`
}

// IncomingCallData is delivered to the callee.
type IncomingCallData struct {
	From    string          `json:"from"`
	Offer   json.RawMessage `json:"offer"`
	Caller  string          `json:"caller"`
	IsVideo bool            `json:"isVideo"`
}

// CallAnsweredData is delivered to the caller.
type CallAnsweredData struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer"`
}

// ICECandidateEvent is a forwarded candidate.
type ICECandidateEvent struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// PeerData names the peer behind call-rejected and end-call.
type PeerData struct {
	From string `json:"from"`
}

// UserUnavailableData tells an initiator its target is offline.
type UserUnavailableData struct {
	TargetID string `json:"targetId"`
	Action   string `json:"action"`
}

// Truthy coerces loosely typed JSON flags the way browser clients send them.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "0"
	default:
		return true
	}
}

func bareString(data []byte) (string, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", true, fmt.Errorf("decode string payload: %w", err)
	}
	return s, true, nil
}
