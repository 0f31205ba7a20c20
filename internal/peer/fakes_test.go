package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

type sentSignal struct {
	event string
	data  any
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
	err  error
}

func (f *fakeSignaler) Signal(_ context.Context, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentSignal{event: event, data: data})
	return nil
}

func (f *fakeSignaler) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.event)
	}
	return out
}

func (f *fakeSignaler) count(event string) int {
	n := 0
	for _, e := range f.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (f *fakeSignaler) last(event string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].event == event {
			return f.sent[i].data
		}
	}
	return nil
}

type fakeTrack struct {
	id, kind string

	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeMedia struct {
	mu       sync.Mutex
	acquired []*Stream
	err      error
	// partial makes a failing Acquire still hand back an audio track.
	partial bool
	// entered and release let a test hold Acquire mid-flight.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeMedia) Acquire(ctx context.Context, mode Mode) (*Stream, error) {
	if f.entered != nil {
		close(f.entered)
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.acquired)
	stream := &Stream{Tracks: []Track{&fakeTrack{id: fmt.Sprintf("audio-%d", n), kind: "audio"}}}
	if f.err != nil {
		if !f.partial {
			return nil, f.err
		}
		f.acquired = append(f.acquired, stream)
		return stream, f.err
	}
	if mode.Video() {
		stream.Tracks = append(stream.Tracks, &fakeTrack{id: fmt.Sprintf("video-%d", n), kind: "video"})
	}
	f.acquired = append(f.acquired, stream)
	return stream, nil
}

func (f *fakeMedia) streams() []*Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Stream(nil), f.acquired...)
}

type fakeNegotiator struct {
	factory  *fakeFactory
	handlers Handlers

	mu        sync.Mutex
	ops       []string
	closes    int
	remoteErr error
}

func (n *fakeNegotiator) record(op string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, op)
}

func (n *fakeNegotiator) operations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ops...)
}

func (n *fakeNegotiator) closeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closes
}

func (n *fakeNegotiator) AddTrack(t Track) error {
	n.record("track:" + t.Kind())
	return nil
}

func (n *fakeNegotiator) CreateOffer() (SessionDescription, error) {
	n.record("create-offer")
	return SessionDescription{Type: "offer", SDP: "local-offer"}, nil
}

func (n *fakeNegotiator) CreateAnswer() (SessionDescription, error) {
	n.record("create-answer")
	return SessionDescription{Type: "answer", SDP: "local-answer"}, nil
}

func (n *fakeNegotiator) SetLocalDescription(d SessionDescription) error {
	n.record("local:" + d.Type)
	return nil
}

func (n *fakeNegotiator) SetRemoteDescription(d SessionDescription) error {
	if n.remoteErr != nil {
		return n.remoteErr
	}
	n.record("remote:" + d.Type + ":" + d.SDP)
	return nil
}

func (n *fakeNegotiator) AddICECandidate(c Candidate) error {
	n.record("candidate:" + c.Candidate)
	return nil
}

func (n *fakeNegotiator) Close() error {
	n.mu.Lock()
	n.closes++
	n.mu.Unlock()
	n.factory.closed(n)
	return nil
}

type fakeFactory struct {
	mu        sync.Mutex
	created   []*fakeNegotiator
	live      int
	maxLive   int
	remoteErr error
}

func (f *fakeFactory) NewNegotiator(h Handlers) (Negotiator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := &fakeNegotiator{factory: f, handlers: h, remoteErr: f.remoteErr}
	f.created = append(f.created, n)
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return n, nil
}

func (f *fakeFactory) closed(*fakeNegotiator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live--
}

func (f *fakeFactory) negotiators() []*fakeNegotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeNegotiator(nil), f.created...)
}

func (f *fakeFactory) lastNegotiator() *fakeNegotiator {
	all := f.negotiators()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

var errNoCamera = errors.New("no camera")

func rawDescription(v any) SessionDescription {
	var d SessionDescription
	if raw, ok := v.(json.RawMessage); ok {
		_ = json.Unmarshal(raw, &d)
	}
	return d
}
