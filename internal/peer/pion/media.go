package pion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/vovakirdan/huddle-server/internal/peer"
)

// opusSilence is a single 20ms opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// SyntheticSource produces sample tracks for terminals without capture
// devices. Audio carries opus silence; video is negotiated but idle.
type SyntheticSource struct{}

// Acquire implements peer.MediaSource.
func (SyntheticSource) Acquire(ctx context.Context, mode peer.Mode) (*peer.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := "huddle-" + uuid.NewString()

	audio, err := newSampleTrack(webrtc.MimeTypeOpus, "audio", streamID)
	if err != nil {
		return nil, err
	}
	audio.startSilence()
	stream := &peer.Stream{Tracks: []peer.Track{audio}}

	if mode.Video() {
		video, err := newSampleTrack(webrtc.MimeTypeVP8, "video", streamID)
		if err != nil {
			return stream, err
		}
		stream.Tracks = append(stream.Tracks, video)
	}
	return stream, nil
}

// SampleTrack is a local track fed with media samples.
type SampleTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  string

	stopOnce sync.Once
	done     chan struct{}
}

func newSampleTrack(mimeType, kind, streamID string) (*SampleTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, kind, streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	return &SampleTrack{track: track, kind: kind, done: make(chan struct{})}, nil
}

func (t *SampleTrack) ID() string               { return t.track.ID() }
func (t *SampleTrack) Kind() string             { return t.kind }
func (t *SampleTrack) Local() webrtc.TrackLocal { return t.track }

// WriteSample sends one media sample on the track.
func (t *SampleTrack) WriteSample(data []byte, d time.Duration) error {
	return t.track.WriteSample(media.Sample{Data: data, Duration: d})
}

// Stop ends sample generation. Further calls do nothing.
func (t *SampleTrack) Stop() error {
	t.stopOnce.Do(func() { close(t.done) })
	return nil
}

func (t *SampleTrack) startSilence() {
	go func() {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				_ = t.WriteSample(opusSilence, frameDuration)
			}
		}
	}()
}

// remoteTrack wraps an inbound track; it drains RTP until stopped.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	stopOnce sync.Once
}

func newRemoteTrack(t *webrtc.TrackRemote, r *webrtc.RTPReceiver) *remoteTrack {
	rt := &remoteTrack{track: t, receiver: r}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := t.Read(buf); err != nil {
				return
			}
		}
	}()
	return rt
}

func (t *remoteTrack) ID() string   { return t.track.ID() }
func (t *remoteTrack) Kind() string { return t.track.Kind().String() }

func (t *remoteTrack) Stop() error {
	var err error
	t.stopOnce.Do(func() { err = t.receiver.Stop() })
	return err
}
