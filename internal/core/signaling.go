package core

import (
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/metrics"
)

// Coordinator routes call-control messages between two identities. It keeps
// no per-call state: every message is resolved against the directory at the
// moment it arrives and forwarded at most once.
type Coordinator struct {
	dir     *Directory
	deliver func(*Client, *Event)
	log     *zerolog.Logger
}

// NewCoordinator builds a coordinator that hands events to deliver.
func NewCoordinator(dir *Directory, deliver func(*Client, *Event), logger *zerolog.Logger) *Coordinator {
	return &Coordinator{dir: dir, deliver: deliver, log: logger}
}

// Route forwards sig from the session from to the session registered under
// sig.Target, stamping the sender's registered identity as From.
func (c *Coordinator) Route(from *Client, sig *Signal) {
	if sig == nil || !sig.Action.Valid() {
		c.deliver(from, errorEvent(ErrCodeBadRequest, "unknown call action"))
		return
	}
	if from.identity == "" {
		c.deliver(from, errorEvent(ErrCodeNotRegistered, "register before calling"))
		return
	}
	if sig.Target == "" {
		c.deliver(from, errorEvent(ErrCodeBadRequest, "targetId is required"))
		return
	}
	if sig.Target == from.identity {
		c.deliver(from, errorEvent(ErrCodeBadRequest, "cannot signal yourself"))
		return
	}

	target, ok := c.dir.Lookup(sig.Target)
	if !ok {
		metrics.SignalsUnroutedTotal.WithLabelValues(string(sig.Action)).Inc()
		c.log.Debug().
			Str("action", string(sig.Action)).
			Str("user", from.identity).
			Str("target", sig.Target).
			Msg("signal target offline")
		// Only the two actions that leave the initiator waiting get a notice.
		if sig.Action == SignalCallUser || sig.Action == SignalAnswerCall {
			c.deliver(from, &Event{
				Kind:   EventUserUnavailable,
				Signal: &Signal{Action: sig.Action, Target: sig.Target},
			})
		}
		return
	}

	metrics.SignalsForwardedTotal.WithLabelValues(string(sig.Action)).Inc()
	c.deliver(target, &Event{
		Kind: signalEvents[sig.Action],
		Signal: &Signal{
			Action:  sig.Action,
			Target:  sig.Target,
			From:    from.identity,
			Payload: sig.Payload,
			Video:   sig.Video,
		},
	})
}
