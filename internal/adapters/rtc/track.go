package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wavelink/connect/internal/core"
)

// localTrack wraps a pion sample track. Enabled is a soft gate: feeders
// must check it before writing samples, the track stays published.
type localTrack struct {
	sample *webrtc.TrackLocalStaticSample
	kind   core.TrackKind

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func newLocalTrack(sample *webrtc.TrackLocalStaticSample, kind core.TrackKind) *localTrack {
	return &localTrack{sample: sample, kind: kind, enabled: true}
}

func (t *localTrack) ID() string           { return t.sample.ID() }
func (t *localTrack) Kind() core.TrackKind { return t.kind }

func (t *localTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	return nil
}

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.closed
}

func (t *localTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// remoteTrack is a read-only handle over a pion remote track.
type remoteTrack struct {
	track *webrtc.TrackRemote
	kind  core.TrackKind
}

func (t *remoteTrack) ID() string            { return t.track.ID() }
func (t *remoteTrack) Kind() core.TrackKind  { return t.kind }
func (t *remoteTrack) SetEnabled(bool) error { return nil }
func (t *remoteTrack) Close()                {}
