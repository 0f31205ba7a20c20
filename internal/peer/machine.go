package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/proto"
)

// Config wires a Machine to its collaborators.
type Config struct {
	// Self is the local identity, sent as the caller name.
	Self        string
	Signaler    Signaler
	Media       MediaSource
	Negotiators NegotiatorFactory
	Logger      *zerolog.Logger
	// SendTimeout bounds signaling sent from callbacks and teardown.
	SendTimeout time.Duration
}

// session is one call, outgoing or incoming.
type session struct {
	peer string
	mode Mode

	offer      *SessionDescription
	negotiator Negotiator
	local      *Stream
	remote     []Track

	pending   []Candidate
	remoteSet bool
	// announced is set once the peer knows about the call.
	announced bool
	outgoing  bool
	closed    bool
}

type change struct{ from, to State }

// Machine is the client-side call state machine. All methods are safe for
// concurrent use; each mutation runs under one lock and is re-validated
// against the current state, so late or duplicate signals are ignored.
type Machine struct {
	self        string
	signaler    Signaler
	media       MediaSource
	negotiators NegotiatorFactory
	log         *zerolog.Logger
	timeout     time.Duration

	mu    sync.Mutex
	state State
	// call is the session that owns (or is about to own) the negotiator.
	call *session
	// ring is an incoming call waiting for Accept or Reject. It never has
	// the same peer as call, so signals from a peer reach one exchange.
	ring *session

	observers []func(from, to State)
	changes   []change
	deferred  []func()
}

// New creates a machine in the idle state.
func New(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Machine{
		self:        cfg.Self,
		signaler:    cfg.Signaler,
		media:       cfg.Media,
		negotiators: cfg.Negotiators,
		log:         logger,
		timeout:     timeout,
		state:       StateIdle,
	}
}

// OnStateChange registers fn to run after every transition.
func (m *Machine) OnStateChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Peer returns the identity on the other side of the active call.
func (m *Machine) Peer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.call == nil {
		return ""
	}
	return m.call.peer
}

// Incoming reports the caller waiting for an answer, if any.
func (m *Machine) Incoming() (from string, mode Mode, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring == nil {
		return "", "", false
	}
	return m.ring.peer, m.ring.mode, true
}

// Dial starts an outgoing call to target. Any current call is torn down
// first.
func (m *Machine) Dial(ctx context.Context, target string, mode Mode) error {
	if target == "" {
		return errors.New("peer: target is required")
	}

	m.mu.Lock()
	m.teardown(m.call, true)
	m.teardown(m.ring, true)
	s := &session{peer: target, mode: mode, outgoing: true}
	m.call = s
	m.unlock()

	stream, err := m.media.Acquire(ctx, mode)

	m.mu.Lock()
	defer m.unlock()
	if err != nil {
		m.discard(s, stream)
		return fmt.Errorf("acquire media: %w", err)
	}
	if m.call != s {
		m.discard(s, stream)
		return ErrCallEnded
	}
	s.local = stream

	if err := m.startNegotiator(s); err != nil {
		m.teardown(s, false)
		return err
	}
	offer, err := s.negotiator.CreateOffer()
	if err != nil {
		m.teardown(s, false)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.negotiator.SetLocalDescription(offer); err != nil {
		m.teardown(s, false)
		return fmt.Errorf("set local offer: %w", err)
	}

	m.transition(StateDialing)
	if err := m.signal(ctx, proto.EventCallUser, proto.CallUserData{
		TargetID: target,
		Offer:    mustJSON(offer),
		Caller:   m.self,
		IsVideo:  mode.Video(),
	}); err != nil {
		m.teardown(s, false)
		return fmt.Errorf("send call-user: %w", err)
	}
	s.announced = true
	m.log.Info().Str("peer", target).Str("mode", string(mode)).Msg("calling")
	return nil
}

// HandleIncoming records an offer from a remote caller. A new offer from
// the peer of the current call replaces that call: the peer has redialed
// after a reconnect, or both sides dialed at once.
func (m *Machine) HandleIncoming(from string, offer SessionDescription, video bool) {
	m.mu.Lock()
	defer m.unlock()

	if m.call != nil && m.call.peer == from {
		m.log.Info().Str("peer", from).Msg("peer placed a new call, dropping the current one")
		m.teardown(m.call, false)
	}

	if m.ring != nil {
		if m.ring.peer == from {
			m.ring.offer = &offer
			m.ring.mode = ModeFor(video)
			m.log.Debug().Str("peer", from).Msg("caller re-offered")
			return
		}
		m.log.Info().Str("peer", from).Str("ringing", m.ring.peer).Msg("busy, rejecting caller")
		m.later(func() {
			m.signalTimeout(proto.EventRejectCall, proto.TargetData{TargetID: from})
		})
		return
	}

	m.ring = &session{peer: from, mode: ModeFor(video), offer: &offer, announced: true}
	if m.call == nil {
		m.transition(StateRinging)
	}
	m.log.Info().Str("peer", from).Bool("video", video).Msg("incoming call")
}

// Accept answers the ringing call. An active call is torn down first.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	s := m.ring
	if s == nil {
		m.unlock()
		return ErrNoIncomingCall
	}
	m.ring = nil
	m.teardown(m.call, true)
	m.call = s
	if m.state != StateRinging {
		m.transition(StateRinging)
	}
	m.unlock()

	stream, err := m.media.Acquire(ctx, s.mode)

	m.mu.Lock()
	defer m.unlock()
	if m.call != s {
		// The caller hung up while media was being acquired.
		m.releaseLater(stream, nil)
		return ErrCallEnded
	}
	if err != nil {
		m.releaseLater(stream, nil)
		m.teardown(s, true)
		return fmt.Errorf("acquire media: %w", err)
	}
	s.local = stream

	if err := m.startNegotiator(s); err != nil {
		m.teardown(s, true)
		return err
	}
	if err := m.applyRemote(s, *s.offer); err != nil {
		m.teardown(s, true)
		return err
	}
	answer, err := s.negotiator.CreateAnswer()
	if err != nil {
		m.teardown(s, true)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.negotiator.SetLocalDescription(answer); err != nil {
		m.teardown(s, true)
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := m.signal(ctx, proto.EventAnswerCall, proto.AnswerCallData{
		TargetID: s.peer,
		Answer:   mustJSON(answer),
	}); err != nil {
		m.teardown(s, false)
		return fmt.Errorf("send answer-call: %w", err)
	}
	s.offer = nil
	m.transition(StateNegotiating)
	m.log.Info().Str("peer", s.peer).Msg("call accepted")
	return nil
}

// Reject declines the ringing call without acquiring media.
func (m *Machine) Reject() error {
	m.mu.Lock()
	defer m.unlock()

	s := m.ring
	if s == nil {
		return ErrNoIncomingCall
	}
	m.ring = nil
	s.closed = true
	if m.call == nil {
		m.transition(StateEnded)
	}
	m.later(func() {
		m.signalTimeout(proto.EventRejectCall, proto.TargetData{TargetID: s.peer})
	})
	m.log.Info().Str("peer", s.peer).Msg("call rejected")
	return nil
}

// HandleAnswer applies the callee's answer to an outgoing call.
func (m *Machine) HandleAnswer(from string, answer SessionDescription) {
	m.mu.Lock()
	defer m.unlock()

	s := m.call
	if s == nil || s.peer != from || m.state != StateDialing {
		m.log.Warn().Str("peer", from).Str("state", string(m.state)).Msg("unexpected answer ignored")
		return
	}
	if err := m.applyRemote(s, answer); err != nil {
		m.log.Warn().Err(err).Str("peer", from).Msg("apply answer")
		m.teardown(s, true)
		return
	}
	m.transition(StateNegotiating)
}

// HandleCandidate applies a remote candidate, or queues it until the remote
// description is in place.
func (m *Machine) HandleCandidate(from string, c Candidate) {
	m.mu.Lock()
	defer m.unlock()

	s := m.sessionWith(from)
	if s == nil {
		m.log.Debug().Str("peer", from).Msg("candidate for unknown call discarded")
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		return
	}
	if err := s.negotiator.AddICECandidate(c); err != nil {
		m.log.Warn().Err(err).Str("peer", from).Msg("add candidate")
	}
}

// HandleRejected ends an outgoing call the callee declined. A rejection
// never applies to an incoming call from the same peer.
func (m *Machine) HandleRejected(from string) {
	m.mu.Lock()
	defer m.unlock()

	s := m.call
	if s == nil || s.peer != from || !s.outgoing {
		m.log.Debug().Str("peer", from).Msg("rejection for unknown call ignored")
		return
	}
	m.log.Info().Str("peer", from).Msg("call rejected by peer")
	m.teardown(s, false)
}

// HandleEnd ends the call with from, or drops its ringing offer.
func (m *Machine) HandleEnd(from string) {
	m.remoteEnd(from, "call ended by peer")
}

// HandleUnavailable ends a call whose peer is no longer registered.
func (m *Machine) HandleUnavailable(target string) {
	m.remoteEnd(target, "peer unavailable")
}

// Hangup ends the current call and tells the peer. A ringing call is
// rejected instead. Calling it with no call is a no-op.
func (m *Machine) Hangup() {
	m.mu.Lock()
	if m.call == nil && m.ring != nil {
		m.unlock()
		_ = m.Reject()
		return
	}
	m.teardown(m.call, true)
	m.unlock()
}

func (m *Machine) remoteEnd(from, reason string) {
	m.mu.Lock()
	defer m.unlock()

	switch {
	case m.call != nil && m.call.peer == from:
		m.log.Info().Str("peer", from).Msg(reason)
		// The peer already knows; no end-call echo.
		m.teardown(m.call, false)
	case m.ring != nil && m.ring.peer == from:
		m.log.Info().Str("peer", from).Msg(reason)
		m.ring.closed = true
		m.ring = nil
		if m.call == nil {
			m.transition(StateEnded)
		}
	default:
		m.log.Debug().Str("peer", from).Msg(reason + " for unknown call ignored")
	}
}

// sessionWith returns the live session whose peer is from.
func (m *Machine) sessionWith(from string) *session {
	if m.call != nil && m.call.peer == from {
		return m.call
	}
	if m.ring != nil && m.ring.peer == from {
		return m.ring
	}
	return nil
}

func (m *Machine) startNegotiator(s *session) error {
	n, err := m.negotiators.NewNegotiator(Handlers{
		OnCandidate:       func(c Candidate) { m.localCandidate(s, c) },
		OnConnectionState: func(cs ConnectionState) { m.connectionState(s, cs) },
		OnTrack:           func(t Track) { m.remoteTrack(s, t) },
	})
	if err != nil {
		return fmt.Errorf("create negotiator: %w", err)
	}
	s.negotiator = n
	if s.local == nil {
		return nil
	}
	for _, t := range s.local.Tracks {
		if err := n.AddTrack(t); err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}
	return nil
}

// applyRemote sets the remote description, then drains the candidate queue
// in arrival order.
func (m *Machine) applyRemote(s *session, desc SessionDescription) error {
	if err := s.negotiator.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	s.remoteSet = true
	for _, c := range s.pending {
		if err := s.negotiator.AddICECandidate(c); err != nil {
			m.log.Warn().Err(err).Str("peer", s.peer).Msg("add queued candidate")
		}
	}
	s.pending = nil
	return nil
}

func (m *Machine) localCandidate(s *session, c Candidate) {
	m.mu.Lock()
	defer m.unlock()
	if m.call != s || s.closed {
		return
	}
	data := proto.ICECandidateData{TargetID: s.peer, Candidate: mustJSON(c)}
	m.later(func() { m.signalTimeout(proto.EventICECandidate, data) })
}

func (m *Machine) connectionState(s *session, cs ConnectionState) {
	m.mu.Lock()
	defer m.unlock()
	if m.call != s || s.closed {
		return
	}
	m.log.Debug().Str("peer", s.peer).Str("connection", string(cs)).Msg("transport state")
	switch cs {
	case ConnectionConnected:
		if m.state == StateNegotiating {
			m.transition(StateConnected)
		}
	case ConnectionFailed, ConnectionDisconnected:
		m.log.Warn().Str("peer", s.peer).Str("connection", string(cs)).Msg("transport lost, ending call")
		m.teardown(s, true)
	}
}

func (m *Machine) remoteTrack(s *session, t Track) {
	m.mu.Lock()
	defer m.unlock()
	if m.call != s || s.closed {
		m.later(func() { _ = t.Stop() })
		return
	}
	s.remote = append(s.remote, t)
}

// teardown ends s. Under the lock it forgets the session; after unlock the
// tracks are stopped, the negotiator closed and end-call sent, in that order.
// Calling it again for the same session does nothing.
func (m *Machine) teardown(s *session, notify bool) {
	if s == nil || s.closed {
		return
	}
	s.closed = true

	local, remote, n := s.local, s.remote, s.negotiator
	peer := ""
	if notify && s.announced {
		peer = s.peer
	}
	s.pending = nil
	s.local, s.remote, s.negotiator, s.offer = nil, nil, nil, nil

	if m.ring == s {
		m.ring = nil
		if m.call == nil {
			m.transition(StateEnded)
		}
	}
	if m.call == s {
		m.call = nil
		m.transition(StateEnded)
		if m.ring != nil {
			m.transition(StateRinging)
		}
	}

	m.releaseLater(local, remote)
	m.later(func() {
		if n != nil {
			if err := n.Close(); err != nil {
				m.log.Warn().Err(err).Msg("close negotiator")
			}
		}
		if peer != "" {
			m.signalTimeout(proto.EventEndCall, proto.TargetData{TargetID: peer})
		}
	})
}

// discard drops a session that never got a negotiator.
func (m *Machine) discard(s *session, stream *Stream) {
	m.releaseLater(stream, nil)
	if m.call == s {
		s.closed = true
		m.call = nil
		m.transition(StateEnded)
	}
}

func (m *Machine) releaseLater(local *Stream, remote []Track) {
	if local == nil && len(remote) == 0 {
		return
	}
	m.later(func() {
		if err := local.Stop(); err != nil {
			m.log.Warn().Err(err).Msg("stop local tracks")
		}
		for _, t := range remote {
			_ = t.Stop()
		}
	})
}

// transition moves to next if the edge is valid.
func (m *Machine) transition(next State) bool {
	if !validEdge(m.state, next) {
		if m.state != next {
			m.log.Warn().Str("from", string(m.state)).Str("to", string(next)).Msg("invalid transition ignored")
		}
		return false
	}
	m.changes = append(m.changes, change{from: m.state, to: next})
	m.state = next
	return true
}

func validEdge(from, to State) bool {
	switch to {
	case StateDialing, StateRinging:
		return from == StateIdle || from == StateEnded
	case StateNegotiating:
		return from == StateDialing || from == StateRinging
	case StateConnected:
		return from == StateNegotiating
	case StateEnded:
		return from != StateEnded
	}
	return false
}

func (m *Machine) later(fn func()) {
	m.deferred = append(m.deferred, fn)
}

// unlock releases the lock, then runs deferred work and notifies observers.
func (m *Machine) unlock() {
	deferred, changes, observers := m.deferred, m.changes, m.observers
	m.deferred, m.changes = nil, nil
	m.mu.Unlock()

	for _, fn := range deferred {
		fn()
	}
	for _, c := range changes {
		for _, fn := range observers {
			fn(c.from, c.to)
		}
	}
}

func (m *Machine) signal(ctx context.Context, event string, data any) error {
	return m.signaler.Signal(ctx, event, data)
}

func (m *Machine) signalTimeout(event string, data any) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.signaler.Signal(ctx, event, data); err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("send signal")
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("peer: marshal %T: %v", v, err))
	}
	return data
}
