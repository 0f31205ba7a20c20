// Package pion implements the peer interfaces on top of pion/webrtc.
package pion

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/peer"
)

// Factory creates pion peer connections with the default codecs and
// interceptors.
type Factory struct {
	config webrtc.Configuration
	log    *zerolog.Logger
}

// NewFactory builds a factory using the given STUN/TURN urls.
func NewFactory(iceServers []string, logger *zerolog.Logger) *Factory {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Factory{config: cfg, log: logger}
}

// NewNegotiator implements peer.NegotiatorFactory.
func (f *Factory) NewNegotiator(h peer.Handlers) (peer.Negotiator, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || h.OnCandidate == nil {
			return
		}
		h.OnCandidate(fromICE(c.ToJSON()))
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		f.log.Debug().Str("state", s.String()).Msg("peer connection state")
		if h.OnConnectionState != nil {
			h.OnConnectionState(peer.ConnectionState(s.String()))
		}
	})
	pc.OnTrack(func(t *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
		remote := newRemoteTrack(t, r)
		if h.OnTrack != nil {
			h.OnTrack(remote)
		}
	})

	return &Negotiator{pc: pc}, nil
}

// Negotiator adapts a webrtc.PeerConnection to peer.Negotiator.
type Negotiator struct {
	pc *webrtc.PeerConnection
}

// localTrack is implemented by tracks this package can send.
type localTrack interface {
	Local() webrtc.TrackLocal
}

func (n *Negotiator) AddTrack(t peer.Track) error {
	lt, ok := t.(localTrack)
	if !ok {
		return fmt.Errorf("track %s is not a pion local track", t.ID())
	}
	sender, err := n.pc.AddTrack(lt.Local())
	if err != nil {
		return err
	}
	// RTCP must be read for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (n *Negotiator) CreateOffer() (peer.SessionDescription, error) {
	desc, err := n.pc.CreateOffer(nil)
	if err != nil {
		return peer.SessionDescription{}, err
	}
	return fromSDP(desc), nil
}

func (n *Negotiator) CreateAnswer() (peer.SessionDescription, error) {
	desc, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return peer.SessionDescription{}, err
	}
	return fromSDP(desc), nil
}

func (n *Negotiator) SetLocalDescription(d peer.SessionDescription) error {
	return n.pc.SetLocalDescription(toSDP(d))
}

func (n *Negotiator) SetRemoteDescription(d peer.SessionDescription) error {
	if d.SDP == "" {
		return errors.New("empty session description")
	}
	return n.pc.SetRemoteDescription(toSDP(d))
}

func (n *Negotiator) AddICECandidate(c peer.Candidate) error {
	return n.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (n *Negotiator) Close() error {
	return n.pc.Close()
}

func fromSDP(d webrtc.SessionDescription) peer.SessionDescription {
	return peer.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toSDP(d peer.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromICE(c webrtc.ICECandidateInit) peer.Candidate {
	return peer.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
