// Package rtc implements the media provider capability set over a pion
// PeerConnection, negotiating through whatever signal sender the caller
// supplies (the chat relay's raw frame path in practice).
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/wavelink/connect/internal/core"
	"github.com/wavelink/connect/internal/domain"
)

var (
	ErrNotJoined     = errors.New("provider not joined")
	ErrNotSubscribed = errors.New("no such remote track")
	ErrNotPublished  = errors.New("track not published")
)

// SignalSender carries negotiation frames to the remote side.
type SignalSender func(v any)

type Config struct {
	ICEServers []string
}

func DefaultConfig() Config {
	return Config{ICEServers: []string{"stun:stun.l.google.com:19302"}}
}

type remoteKey struct {
	participant string
	kind        core.TrackKind
}

// Provider is a mesh-style core.MediaProvider over pion.
type Provider struct {
	cfg  Config
	send SignalSender

	onPublished   func(string, core.TrackKind)
	onUnpublished func(string, core.TrackKind)
	onLeft        func(string)

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	identity string
	senders  map[string]*webrtc.RTPSender
	remote   map[remoteKey]*remoteTrack
	cancel   context.CancelFunc
	closed   bool
}

func New(cfg Config, send SignalSender) *Provider {
	return &Provider{
		cfg:     cfg,
		send:    send,
		senders: make(map[string]*webrtc.RTPSender),
		remote:  make(map[remoteKey]*remoteTrack),
	}
}

func (p *Provider) OnParticipantPublished(fn func(string, core.TrackKind))   { p.onPublished = fn }
func (p *Provider) OnParticipantUnpublished(fn func(string, core.TrackKind)) { p.onUnpublished = fn }
func (p *Provider) OnParticipantLeft(fn func(string))                        { p.onLeft = fn }

func (p *Provider) webrtcConfig() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(p.cfg.ICEServers))
	for _, u := range p.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// Join builds the peer connection and starts trickle negotiation. The
// appID and token are accepted for interface parity; a mesh peer has no
// use for them.
func (p *Provider) Join(ctx context.Context, _ string, room domain.RoomID, _ string, identity string) error {
	pc, err := webrtc.NewPeerConnection(p.webrtcConfig())
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.pc = pc
	p.identity = identity
	p.cancel = cancel
	p.closed = false
	p.mu.Unlock()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		frame := struct {
			Type          string `json:"type"`
			From          string `json:"from"`
			Candidate     string `json:"candidate"`
			SDPMid        string `json:"sdpMid,omitempty"`
			SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
		}{Type: "candidate", From: identity, Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			frame.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			frame.SDPMLineIndex = *ci.SDPMLineIndex
		}
		p.send(frame)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := remoteKind(track)
		participant := track.StreamID()
		log.Info().Str("module", "rtc").Str("participant", participant).
			Str("kind", string(kind)).Str("track_id", track.ID()).Msg("remote track")
		p.mu.Lock()
		p.remote[remoteKey{participant, kind}] = &remoteTrack{track: track, kind: kind}
		p.mu.Unlock()
		if fn := p.onPublished; fn != nil {
			fn(participant, kind)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			p.dropRemotes()
			cancel()
		}
	})

	pc.OnNegotiationNeeded(func() {
		if err := p.negotiate(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("negotiation failed")
		}
	})

	log.Info().Str("module", "rtc").Str("room", string(room)).
		Str("identity", identity).Msg("joined")
	return nil
}

func (p *Provider) negotiate() error {
	p.mu.Lock()
	pc := p.pc
	identity := p.identity
	p.mu.Unlock()
	if pc == nil {
		return ErrNotJoined
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	p.send(map[string]string{"type": "offer", "sdp": offer.SDP, "from": identity})
	return nil
}

// HandleSignal feeds one inbound negotiation frame (offer, answer or
// candidate) into the peer connection. The relay echoes every frame to
// the whole room, sender included, so frames tagged with our own
// identity are dropped, as are frames targeted at another peer.
func (p *Provider) HandleSignal(data []byte) {
	p.mu.Lock()
	pc := p.pc
	identity := p.identity
	p.mu.Unlock()
	if pc == nil {
		return
	}

	var env struct {
		Type string `json:"type"`
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("bad signal frame")
		return
	}
	if env.From == identity {
		return
	}
	if env.To != "" && env.To != identity {
		return
	}

	switch env.Type {
	case "offer":
		var f struct {
			SDP string `json:"sdp"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad offer payload")
			return
		}
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.SDP}
		if err := pc.SetRemoteDescription(offer); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("apply offer")
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("create answer")
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("set local description")
			return
		}
		p.send(map[string]string{"type": "answer", "sdp": answer.SDP, "from": identity, "to": env.From})

	case "answer":
		if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
			log.Debug().Str("module", "rtc").Str("from", env.From).
				Msg("answer with no pending offer ignored")
			return
		}
		var f struct {
			SDP string `json:"sdp"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad answer payload")
			return
		}
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: f.SDP}
		if err := pc.SetRemoteDescription(desc); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("apply answer")
		}

	case "candidate":
		var f struct {
			Candidate     string `json:"candidate"`
			SDPMid        string `json:"sdpMid"`
			SDPMLineIndex uint16 `json:"sdpMLineIndex"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad candidate payload")
			return
		}
		ci := webrtc.ICECandidateInit{Candidate: f.Candidate}
		if f.SDPMid != "" {
			ci.SDPMid = &f.SDPMid
		}
		ci.SDPMLineIndex = &f.SDPMLineIndex
		if err := pc.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("add ice candidate")
		}
	}
}

func (p *Provider) Leave() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pc := p.pc
	cancel := p.cancel
	p.pc = nil
	p.senders = make(map[string]*webrtc.RTPSender)
	p.remote = make(map[remoteKey]*remoteTrack)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			return fmt.Errorf("close peer connection: %w", err)
		}
	}
	log.Info().Str("module", "rtc").Msg("left")
	return nil
}

func (p *Provider) CreateMicrophoneTrack() (core.Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	return p.newSampleTrack(codec, "mic", core.TrackKindAudio)
}

func (p *Provider) CreateCameraTrack() (core.Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	return p.newSampleTrack(codec, "camera", core.TrackKindVideo)
}

func (p *Provider) CreateScreenTrack(_ core.ScreenOptions) (core.Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	return p.newSampleTrack(codec, "screen", core.TrackKindScreen)
}

func (p *Provider) newSampleTrack(codec webrtc.RTPCodecCapability, prefix string, kind core.TrackKind) (core.Track, error) {
	p.mu.Lock()
	identity := p.identity
	p.mu.Unlock()
	if identity == "" {
		return nil, ErrNotJoined
	}
	sample, err := webrtc.NewTrackLocalStaticSample(
		codec,
		prefix+"-"+uuid.NewString(),
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", prefix, err)
	}
	return newLocalTrack(sample, kind), nil
}

func (p *Provider) Publish(tracks ...core.Track) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		return ErrNotJoined
	}
	for _, t := range tracks {
		lt, ok := t.(*localTrack)
		if !ok {
			return fmt.Errorf("publish %s: foreign track", t.ID())
		}
		sender, err := pc.AddTrack(lt.sample)
		if err != nil {
			return fmt.Errorf("publish %s: %w", t.ID(), err)
		}
		p.mu.Lock()
		p.senders[t.ID()] = sender
		p.mu.Unlock()
	}
	return nil
}

func (p *Provider) Unpublish(tracks ...core.Track) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	if pc == nil {
		return ErrNotJoined
	}
	for _, t := range tracks {
		p.mu.Lock()
		sender, ok := p.senders[t.ID()]
		delete(p.senders, t.ID())
		p.mu.Unlock()
		if !ok {
			return fmt.Errorf("unpublish %s: %w", t.ID(), ErrNotPublished)
		}
		if err := pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("unpublish %s: %w", t.ID(), err)
		}
	}
	return nil
}

func (p *Provider) Subscribe(participantID string, kind core.TrackKind) (core.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.remote[remoteKey{participantID, kind}]
	if !ok {
		return nil, fmt.Errorf("subscribe %s/%s: %w", participantID, kind, ErrNotSubscribed)
	}
	return t, nil
}

func (p *Provider) dropRemotes() {
	p.mu.Lock()
	gone := make(map[string]struct{})
	for k := range p.remote {
		gone[k.participant] = struct{}{}
	}
	p.remote = make(map[remoteKey]*remoteTrack)
	p.mu.Unlock()
	if fn := p.onLeft; fn != nil {
		for id := range gone {
			fn(id)
		}
	}
}

func remoteKind(track *webrtc.TrackRemote) core.TrackKind {
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		return core.TrackKindAudio
	}
	if strings.HasPrefix(track.ID(), "screen-") {
		return core.TrackKindScreen
	}
	return core.TrackKindVideo
}
