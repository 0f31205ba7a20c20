package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/huddle-server/internal/proto"
)

type harness struct {
	m       *Machine
	signals *fakeSignaler
	media   *fakeMedia
	factory *fakeFactory

	mu      sync.Mutex
	changes []State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		signals: &fakeSignaler{},
		media:   &fakeMedia{},
		factory: &fakeFactory{},
	}
	h.m = New(Config{
		Self:        "alice",
		Signaler:    h.signals,
		Media:       h.media,
		Negotiators: h.factory,
	})
	h.m.OnStateChange(func(_, to State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.changes = append(h.changes, to)
	})
	return h
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.changes...)
}

func offer(sdp string) SessionDescription {
	return SessionDescription{Type: "offer", SDP: sdp}
}

func answer(sdp string) SessionDescription {
	return SessionDescription{Type: "answer", SDP: sdp}
}

func cand(s string) Candidate { return Candidate{Candidate: s} }

// connectedCall dials bob and drives the call to connected.
func (h *harness) connectedCall(t *testing.T, peer string) *fakeNegotiator {
	t.Helper()
	require.NoError(t, h.m.Dial(context.Background(), peer, ModeAudio))
	h.m.HandleAnswer(peer, answer("remote-answer"))
	n := h.factory.lastNegotiator()
	n.handlers.OnConnectionState(ConnectionConnected)
	require.Equal(t, StateConnected, h.m.State())
	return n
}

func TestDialSendsCallUser(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.m.Dial(context.Background(), "bob", ModeVideo))

	assert.Equal(t, StateDialing, h.m.State())
	assert.Equal(t, "bob", h.m.Peer())

	data, ok := h.signals.last(proto.EventCallUser).(proto.CallUserData)
	require.True(t, ok)
	assert.Equal(t, "bob", data.TargetID)
	assert.Equal(t, "alice", data.Caller)
	assert.Equal(t, true, data.IsVideo)
	assert.Equal(t, offer("local-offer"), rawDescription(data.Offer))

	n := h.factory.lastNegotiator()
	assert.Equal(t, []string{"track:audio", "track:video", "create-offer", "local:offer"}, n.operations())
}

func TestCalleeQueuesCandidatesUntilAccept(t *testing.T) {
	h := newHarness(t)

	h.m.HandleIncoming("bob", offer("bob-offer"), false)
	require.Equal(t, StateRinging, h.m.State())

	h.m.HandleCandidate("bob", cand("c1"))
	h.m.HandleCandidate("bob", cand("c2"))
	assert.Empty(t, h.factory.negotiators(), "no negotiator before accept")

	require.NoError(t, h.m.Accept(context.Background()))
	h.m.HandleCandidate("bob", cand("c3"))

	n := h.factory.lastNegotiator()
	assert.Equal(t, []string{
		"track:audio",
		"remote:offer:bob-offer",
		"candidate:c1",
		"candidate:c2",
		"create-answer",
		"local:answer",
		"candidate:c3",
	}, n.operations())
	assert.Equal(t, StateNegotiating, h.m.State())

	data, ok := h.signals.last(proto.EventAnswerCall).(proto.AnswerCallData)
	require.True(t, ok)
	assert.Equal(t, "bob", data.TargetID)
	assert.Equal(t, answer("local-answer"), rawDescription(data.Answer))
}

func TestCallerQueuesCandidatesUntilAnswer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Dial(context.Background(), "bob", ModeAudio))

	h.m.HandleCandidate("bob", cand("early"))
	n := h.factory.lastNegotiator()
	assert.NotContains(t, n.operations(), "candidate:early")

	h.m.HandleAnswer("bob", answer("bob-answer"))
	ops := n.operations()
	assert.Equal(t, []string{"remote:answer:bob-answer", "candidate:early"}, ops[len(ops)-2:])
	assert.Equal(t, StateNegotiating, h.m.State())

	n.handlers.OnConnectionState(ConnectionConnected)
	assert.Equal(t, StateConnected, h.m.State())
	assert.Equal(t, []State{StateDialing, StateNegotiating, StateConnected}, h.states())
}

func TestLocalCandidatesAreForwarded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Dial(context.Background(), "bob", ModeAudio))

	h.factory.lastNegotiator().handlers.OnCandidate(cand("local-1"))

	data, ok := h.signals.last(proto.EventICECandidate).(proto.ICECandidateData)
	require.True(t, ok)
	assert.Equal(t, "bob", data.TargetID)
	assert.JSONEq(t, `{"candidate":"local-1"}`, string(data.Candidate))
	assert.Equal(t, []string{proto.EventCallUser, proto.EventICECandidate}, h.signals.events())
}

func TestTeardownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	n := h.connectedCall(t, "bob")
	remote := &fakeTrack{id: "r1", kind: "audio"}
	n.handlers.OnTrack(remote)

	h.m.Hangup()
	h.m.HandleEnd("bob")
	h.m.Hangup()

	assert.Equal(t, StateEnded, h.m.State())
	assert.Equal(t, 1, h.signals.count(proto.EventEndCall))
	assert.Equal(t, 1, n.closeCount())
	assert.Equal(t, 1, remote.stopCount())
	for _, track := range h.media.streams()[0].Tracks {
		assert.Equal(t, 1, track.(*fakeTrack).stopCount())
	}
	assert.Empty(t, h.m.Peer())
}

func TestRemoteEndDoesNotEcho(t *testing.T) {
	h := newHarness(t)
	n := h.connectedCall(t, "bob")

	h.m.HandleEnd("bob")

	assert.Equal(t, StateEnded, h.m.State())
	assert.Zero(t, h.signals.count(proto.EventEndCall))
	assert.Equal(t, 1, n.closeCount())
}

func TestRejectAcquiresNoMedia(t *testing.T) {
	h := newHarness(t)
	h.m.HandleIncoming("bob", offer("o"), true)

	require.NoError(t, h.m.Reject())

	assert.Equal(t, StateEnded, h.m.State())
	assert.Empty(t, h.media.streams())
	assert.Empty(t, h.factory.negotiators())
	data, ok := h.signals.last(proto.EventRejectCall).(proto.TargetData)
	require.True(t, ok)
	assert.Equal(t, "bob", data.TargetID)

	assert.ErrorIs(t, h.m.Reject(), ErrNoIncomingCall)
	assert.ErrorIs(t, h.m.Accept(context.Background()), ErrNoIncomingCall)
}

func TestCallerHandlesRejection(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Dial(context.Background(), "bob", ModeAudio))

	h.m.HandleRejected("bob")

	assert.Equal(t, StateEnded, h.m.State())
	assert.Zero(t, h.signals.count(proto.EventEndCall))
	assert.Equal(t, 1, h.factory.lastNegotiator().closeCount())
}

func TestDialTearsDownActiveCallFirst(t *testing.T) {
	h := newHarness(t)
	first := h.connectedCall(t, "bob")

	require.NoError(t, h.m.Dial(context.Background(), "carol", ModeAudio))

	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 1, h.factory.maxLive, "never two live negotiators")
	data, ok := h.signals.last(proto.EventEndCall).(proto.TargetData)
	require.True(t, ok)
	assert.Equal(t, "bob", data.TargetID)
	assert.Equal(t, "carol", h.m.Peer())
	assert.Equal(t, StateDialing, h.m.State())
}

func TestSecondCallerWhileRingingIsBusy(t *testing.T) {
	h := newHarness(t)
	h.m.HandleIncoming("bob", offer("first"), false)
	h.m.HandleIncoming("carol", offer("other"), false)

	data, ok := h.signals.last(proto.EventRejectCall).(proto.TargetData)
	require.True(t, ok)
	assert.Equal(t, "carol", data.TargetID)

	from, _, ok := h.m.Incoming()
	require.True(t, ok)
	assert.Equal(t, "bob", from)

	// A re-offer from the same caller replaces the stored one.
	h.m.HandleIncoming("bob", offer("second"), true)
	_, mode, _ := h.m.Incoming()
	assert.Equal(t, ModeVideo, mode)

	require.NoError(t, h.m.Accept(context.Background()))
	assert.Contains(t, h.factory.lastNegotiator().operations(), "remote:offer:second")
}

func TestIncomingDuringActiveCallIsParked(t *testing.T) {
	h := newHarness(t)
	first := h.connectedCall(t, "bob")

	h.m.HandleIncoming("carol", offer("carol-offer"), false)
	assert.Equal(t, StateConnected, h.m.State())
	from, _, ok := h.m.Incoming()
	require.True(t, ok)
	assert.Equal(t, "carol", from)

	require.NoError(t, h.m.Accept(context.Background()))

	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 1, h.factory.maxLive)
	assert.Equal(t, "carol", h.m.Peer())
	assert.Equal(t, StateNegotiating, h.m.State())
	ended, ok := h.signals.last(proto.EventEndCall).(proto.TargetData)
	require.True(t, ok)
	assert.Equal(t, "bob", ended.TargetID)
}

func TestRedialFromSamePeerReplacesCall(t *testing.T) {
	h := newHarness(t)
	stale := h.connectedCall(t, "bob")

	h.m.HandleIncoming("bob", offer("bob-new-offer"), false)
	assert.Equal(t, StateRinging, h.m.State())
	assert.Equal(t, 1, stale.closeCount())

	h.m.HandleCandidate("bob", cand("new1"))
	h.m.HandleCandidate("bob", cand("new2"))
	// The closed transport reporting failure late must not end the new call.
	stale.handlers.OnConnectionState(ConnectionFailed)

	require.NoError(t, h.m.Accept(context.Background()))

	assert.NotContains(t, stale.operations(), "candidate:new1")
	assert.Equal(t, []string{
		"track:audio",
		"remote:offer:bob-new-offer",
		"candidate:new1",
		"candidate:new2",
		"create-answer",
		"local:answer",
	}, h.factory.lastNegotiator().operations())
	assert.Equal(t, []string{proto.EventCallUser, proto.EventAnswerCall}, h.signals.events())
	assert.Equal(t, StateNegotiating, h.m.State())
	assert.Equal(t, 1, h.factory.maxLive)
}

func TestCrossedDialsRingTheIncomingOffer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Dial(context.Background(), "bob", ModeAudio))
	dial := h.factory.lastNegotiator()

	h.m.HandleIncoming("bob", offer("bob-offer"), false)
	h.m.HandleCandidate("bob", cand("bob-c1"))
	// bob declining our crossed offer leaves his own call ringing.
	h.m.HandleRejected("bob")

	from, _, ok := h.m.Incoming()
	require.True(t, ok)
	assert.Equal(t, "bob", from)

	require.NoError(t, h.m.Accept(context.Background()))

	assert.Equal(t, 1, dial.closeCount())
	assert.NotContains(t, dial.operations(), "candidate:bob-c1")
	assert.Contains(t, h.factory.lastNegotiator().operations(), "candidate:bob-c1")
	assert.Zero(t, h.signals.count(proto.EventEndCall))
	assert.Equal(t, StateNegotiating, h.m.State())
}

func TestRejectionIgnoredWhileRinging(t *testing.T) {
	h := newHarness(t)
	h.m.HandleIncoming("bob", offer("o"), false)

	h.m.HandleRejected("bob")

	assert.Equal(t, StateRinging, h.m.State())
	_, _, ok := h.m.Incoming()
	assert.True(t, ok)
}

func TestParkedCallRingsAfterActiveEnds(t *testing.T) {
	h := newHarness(t)
	h.connectedCall(t, "bob")
	h.m.HandleIncoming("carol", offer("o"), false)

	h.m.HandleEnd("bob")

	assert.Equal(t, StateRinging, h.m.State())
}

func TestCandidateAfterEndIsDiscarded(t *testing.T) {
	h := newHarness(t)
	n := h.connectedCall(t, "bob")
	h.m.Hangup()
	before := n.operations()

	h.m.HandleCandidate("bob", cand("late"))
	h.m.HandleCandidate("nobody", cand("stray"))

	assert.Equal(t, before, n.operations())
}

func TestUnexpectedAnswerIgnored(t *testing.T) {
	h := newHarness(t)

	h.m.HandleAnswer("bob", answer("a"))
	assert.Equal(t, StateIdle, h.m.State())

	require.NoError(t, h.m.Dial(context.Background(), "bob", ModeAudio))
	h.m.HandleAnswer("mallory", answer("a"))
	assert.Equal(t, StateDialing, h.m.State())

	h.m.HandleAnswer("bob", answer("a"))
	h.m.HandleAnswer("bob", answer("again"))
	assert.Equal(t, StateNegotiating, h.m.State())
	assert.NotContains(t, h.factory.lastNegotiator().operations(), "remote:answer:again")
}

func TestInvalidAnswerTearsDown(t *testing.T) {
	h := newHarness(t)
	h.factory.remoteErr = errors.New("bad sdp")
	require.NoError(t, h.m.Dial(context.Background(), "bob", ModeAudio))

	h.m.HandleAnswer("bob", answer("garbage"))

	assert.Equal(t, StateEnded, h.m.State())
	assert.Equal(t, 1, h.signals.count(proto.EventEndCall))
}

func TestDialMediaFailureReleasesPartialTracks(t *testing.T) {
	h := newHarness(t)
	h.media.err = errNoCamera
	h.media.partial = true

	err := h.m.Dial(context.Background(), "bob", ModeVideo)
	require.ErrorIs(t, err, errNoCamera)

	assert.Equal(t, StateEnded, h.m.State())
	assert.Empty(t, h.factory.negotiators())
	assert.Empty(t, h.signals.events())
	streams := h.media.streams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].Tracks[0].(*fakeTrack).stopCount())
}

func TestRemoteEndDuringAccept(t *testing.T) {
	h := newHarness(t)
	h.media.entered = make(chan struct{})
	h.media.release = make(chan struct{})
	h.m.HandleIncoming("bob", offer("o"), false)

	errCh := make(chan error, 1)
	go func() { errCh <- h.m.Accept(context.Background()) }()

	select {
	case <-h.media.entered:
	case <-time.After(time.Second):
		t.Fatal("accept never reached media acquisition")
	}
	h.m.HandleEnd("bob")
	close(h.media.release)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCallEnded)
	case <-time.After(time.Second):
		t.Fatal("accept did not return")
	}

	assert.Equal(t, StateEnded, h.m.State())
	assert.Empty(t, h.factory.negotiators())
	assert.Zero(t, h.signals.count(proto.EventAnswerCall))
	streams := h.media.streams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].Tracks[0].(*fakeTrack).stopCount())
}

func TestTransportFailureEndsCall(t *testing.T) {
	h := newHarness(t)
	n := h.connectedCall(t, "bob")

	n.handlers.OnConnectionState(ConnectionFailed)

	assert.Equal(t, StateEnded, h.m.State())
	assert.Equal(t, 1, h.signals.count(proto.EventEndCall))

	// Late callbacks from the closed negotiator are ignored.
	n.handlers.OnConnectionState(ConnectionConnected)
	n.handlers.OnCandidate(cand("late"))
	assert.Equal(t, StateEnded, h.m.State())
	assert.Zero(t, h.signals.count(proto.EventICECandidate))
}

func TestUnavailablePeerEndsDial(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Dial(context.Background(), "ghost", ModeAudio))

	h.m.HandleUnavailable("ghost")

	assert.Equal(t, StateEnded, h.m.State())
	assert.Zero(t, h.signals.count(proto.EventEndCall))
}

func TestCallerCancelWhileRinging(t *testing.T) {
	h := newHarness(t)
	h.m.HandleIncoming("bob", offer("o"), false)

	h.m.HandleEnd("bob")

	assert.Equal(t, StateEnded, h.m.State())
	_, _, ok := h.m.Incoming()
	assert.False(t, ok)
}

func TestSignalFailureAbortsDial(t *testing.T) {
	h := newHarness(t)
	h.signals.err = errors.New("socket closed")

	err := h.m.Dial(context.Background(), "bob", ModeAudio)
	require.Error(t, err)

	assert.Equal(t, StateEnded, h.m.State())
	assert.Equal(t, 1, h.factory.lastNegotiator().closeCount())
}

func TestValidEdges(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateDialing, true},
		{StateIdle, StateRinging, true},
		{StateEnded, StateDialing, true},
		{StateRinging, StateNegotiating, true},
		{StateDialing, StateNegotiating, true},
		{StateNegotiating, StateConnected, true},
		{StateConnected, StateEnded, true},
		{StateIdle, StateConnected, false},
		{StateDialing, StateConnected, false},
		{StateConnected, StateDialing, false},
		{StateEnded, StateEnded, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validEdge(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
