package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/proto"
)

const (
	errCodeInvalidMessage      = "invalid_message"
	errCodeUnsupportedProtocol = "unsupported_protocol"
)

func inboundToCommand(verifier *auth.Verifier, inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.EventRegisterUser:
		var reg proto.RegisterData
		if err := decode(inbound.Data, &reg); err != nil {
			return nil, err
		}
		if reg.Protocol != 0 && reg.Protocol != proto.ProtocolVersion {
			return nil, &proto.Error{
				Code: errCodeUnsupportedProtocol,
				Msg:  fmt.Sprintf("protocol %d not supported, server speaks %d", reg.Protocol, proto.ProtocolVersion),
			}
		}
		identity, err := verifier.Resolve(reg.User, reg.Token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenRequired) {
				return nil, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "token required"}
			}
			return nil, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "invalid token"}
		}
		if identity.Name == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "user is required"}
		}
		return &core.Command{
			Kind:     core.CommandRegister,
			Identity: identity.Name,
			Role:     core.ParseRole(identity.Role),
		}, nil
	case proto.EventChatMessage, proto.EventChatFile:
		var msg proto.ChatData
		if err := decode(inbound.Data, &msg); err != nil {
			return nil, err
		}
		kind := core.KindText
		if inbound.Type == proto.EventChatFile {
			kind = core.KindFile
		}
		return &core.Command{
			Kind: core.CommandSubmitMessage,
			Message: core.ChatMessage{
				// ID and CreatedAt are assigned by the relay.
				Sender:  msg.Sender,
				Kind:    kind,
				Content: msg.Content,
			},
		}, nil
	case proto.EventDeleteMessage:
		var del proto.DeleteData
		if err := decode(inbound.Data, &del); err != nil {
			return nil, err
		}
		if del.ID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "message id is required"}
		}
		return &core.Command{Kind: core.CommandDeleteMessage, MessageID: del.ID}, nil
	case proto.EventCallUser:
		var call proto.CallUserData
		if err := decode(inbound.Data, &call); err != nil {
			return nil, err
		}
		if missing(call.Offer) {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "offer is required"}
		}
		return signalCommand(core.SignalCallUser, call.TargetID, call.Offer, proto.Truthy(call.IsVideo))
	case proto.EventAnswerCall:
		var answer proto.AnswerCallData
		if err := decode(inbound.Data, &answer); err != nil {
			return nil, err
		}
		if missing(answer.Answer) {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "answer is required"}
		}
		return signalCommand(core.SignalAnswerCall, answer.TargetID, answer.Answer, false)
	case proto.EventICECandidate:
		var cand proto.ICECandidateData
		if err := decode(inbound.Data, &cand); err != nil {
			return nil, err
		}
		if missing(cand.Candidate) {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "candidate is required"}
		}
		return signalCommand(core.SignalICECandidate, cand.TargetID, cand.Candidate, false)
	case proto.EventRejectCall, proto.EventEndCall:
		var target proto.TargetData
		if err := decode(inbound.Data, &target); err != nil {
			return nil, err
		}
		return signalCommand(core.SignalAction(inbound.Type), target.TargetID, nil, false)
	default:
		return nil, &proto.Error{Code: errCodeInvalidMessage, Msg: "unknown message type"}
	}
}

func signalCommand(action core.SignalAction, target string, payload json.RawMessage, video bool) (*core.Command, *proto.Error) {
	if target == "" {
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "targetId is required"}
	}
	return &core.Command{
		Kind: core.CommandSignal,
		Signal: &core.Signal{
			Action:  action,
			Target:  target,
			Payload: payload,
			Video:   video,
		},
	}, nil
}

func decode(data json.RawMessage, v any) *proto.Error {
	if missing(data) {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "data is required"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "malformed data"}
	}
	return nil
}

func missing(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventOnlineUsers:
		users := event.Users
		if users == nil {
			users = []string{}
		}
		return eventOut(proto.EventOnlineUsers, users)
	case core.EventRegistered:
		return eventOut(proto.EventRegistered, proto.RegisteredData{
			User:     event.User,
			Role:     string(event.Role),
			Protocol: proto.ProtocolVersion,
		})
	case core.EventChatMessage:
		name := proto.EventChatMessage
		if event.Message.Kind == core.KindFile {
			name = proto.EventChatFile
		}
		return eventOut(name, wireMessage(event.Message))
	case core.EventMessageDeleted:
		return eventOut(proto.EventDeleteMessage, event.MessageID)
	case core.EventHistory:
		return eventOut(proto.EventLoadMessages, wireMessages(event.Messages))
	case core.EventIncomingCall:
		return eventOut(proto.EventIncomingCall, proto.IncomingCallData{
			From:    event.Signal.From,
			Offer:   event.Signal.Payload,
			Caller:  event.Signal.From,
			IsVideo: event.Signal.Video,
		})
	case core.EventCallAnswered:
		return eventOut(proto.EventCallAnswered, proto.CallAnsweredData{From: event.Signal.From, Answer: event.Signal.Payload})
	case core.EventICECandidate:
		return eventOut(proto.EventICECandidate, proto.ICECandidateEvent{From: event.Signal.From, Candidate: event.Signal.Payload})
	case core.EventCallRejected:
		return eventOut(proto.EventCallRejected, proto.PeerData{From: event.Signal.From})
	case core.EventCallEnded:
		return eventOut(proto.EventEndCall, proto.PeerData{From: event.Signal.From})
	case core.EventUserUnavailable:
		return eventOut(proto.EventUserUnavailable, proto.UserUnavailableData{
			TargetID: event.Signal.Target,
			Action:   string(event.Signal.Action),
		})
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return errorOut(&proto.Error{Code: event.Error.Code, Msg: event.Error.Message})
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func eventOut(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func errorOut(err *proto.Error) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: err}
}

func wireMessage(msg core.ChatMessage) proto.ChatMessage {
	return proto.ChatMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Type:      string(msg.Kind),
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func wireMessages(msgs []core.ChatMessage) []proto.ChatMessage {
	out := make([]proto.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, wireMessage(msg))
	}
	return out
}
