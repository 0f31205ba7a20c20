// Package peer drives one client's side of a peer-to-peer call: media
// acquisition, offer/answer exchange, candidate queuing and teardown.
// Signaling and media are reached through small interfaces so the machine
// runs the same against pion or against test doubles.
package peer

import (
	"context"
	"errors"
)

// State is the lifecycle position of the current call.
type State string

const (
	StateIdle        State = "idle"
	StateDialing     State = "dialing"
	StateRinging     State = "ringing"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateEnded       State = "ended"
)

// Mode selects which local tracks a call needs.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

// ModeFor maps the isVideo flag of the wire protocol to a Mode.
func ModeFor(video bool) Mode {
	if video {
		return ModeVideo
	}
	return ModeAudio
}

// Video reports whether the mode carries a video track.
func (m Mode) Video() bool { return m == ModeVideo }

// ConnectionState is the transport state reported by a Negotiator.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// SessionDescription is an SDP offer or answer in the browser JSON shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is an ICE candidate in the browser JSON shape.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

var (
	// ErrCallEnded is returned when the call went away while an operation was in flight.
	ErrCallEnded = errors.New("peer: call ended")
	// ErrNoIncomingCall is returned by Accept and Reject when nothing is ringing.
	ErrNoIncomingCall = errors.New("peer: no incoming call")
)

// Track is a local or remote media track.
type Track interface {
	ID() string
	Kind() string
	Stop() error
}

// Stream groups the local tracks acquired for one call.
type Stream struct {
	Tracks []Track
}

// Stop stops every track. It is safe on a nil stream.
func (s *Stream) Stop() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, t := range s.Tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MediaSource acquires local media. On failure it may return the tracks it
// managed to open alongside the error; the caller releases them.
type MediaSource interface {
	Acquire(ctx context.Context, mode Mode) (*Stream, error)
}

// Handlers receive asynchronous notifications from a Negotiator.
type Handlers struct {
	OnCandidate       func(Candidate)
	OnConnectionState func(ConnectionState)
	OnTrack           func(Track)
}

// Negotiator is one peer connection.
type Negotiator interface {
	AddTrack(t Track) error
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	AddICECandidate(Candidate) error
	Close() error
}

// NegotiatorFactory creates negotiators wired to h.
type NegotiatorFactory interface {
	NewNegotiator(h Handlers) (Negotiator, error)
}

// Signaler sends a named signaling event with its payload through the server.
type Signaler interface {
	Signal(ctx context.Context, event string, data any) error
}
