// Package media wraps the external media transport provider: local track
// lifecycle on one side, remote participant discovery on the other.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wavelink/connect/internal/core"
	"github.com/wavelink/connect/internal/domain"
)

var (
	ErrNotStarted     = errors.New("media session not started")
	ErrAlreadySharing = errors.New("screen share already active")
	ErrNotSharing     = errors.New("screen share not active")
	ErrNoCamera       = errors.New("no camera track")
)

type Config struct {
	AppID string
	Token string
	// AudioOnly skips the camera track entirely (voice rooms).
	AudioOnly bool
	Screen    core.ScreenOptions
}

// Session owns every track handle, local and remote. Exactly one of
// {camera, screen} is published at a time.
type Session struct {
	provider core.MediaProvider
	cfg      Config

	onEvent func(core.TrackEvent)
	onError func(op string, err error)

	mu      sync.Mutex
	started bool
	audio   core.Track
	camera  core.Track
	screen  core.Track
	known   map[string]struct{}
}

func NewSession(provider core.MediaProvider, cfg Config) *Session {
	return &Session{
		provider: provider,
		cfg:      cfg,
		known:    make(map[string]struct{}),
	}
}

// OnEvent registers the remote track notification sink. Set before Start.
func (s *Session) OnEvent(fn func(core.TrackEvent)) { s.onEvent = fn }

// OnError registers the non-fatal provider failure sink. Set before Start.
func (s *Session) OnError(fn func(op string, err error)) { s.onError = fn }

// Start joins the room and publishes the initial local tracks. It does not
// return ready until the publish has settled.
func (s *Session) Start(ctx context.Context, room domain.RoomID, identity string) error {
	s.provider.OnParticipantPublished(s.handlePublished)
	s.provider.OnParticipantUnpublished(s.handleUnpublished)
	s.provider.OnParticipantLeft(s.handleLeft)

	if err := s.provider.Join(ctx, s.cfg.AppID, room, s.cfg.Token, identity); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	audio, err := s.provider.CreateMicrophoneTrack()
	if err != nil {
		_ = s.provider.Leave()
		return fmt.Errorf("create microphone track: %w", err)
	}
	initial := []core.Track{audio}

	var camera core.Track
	if !s.cfg.AudioOnly {
		camera, err = s.provider.CreateCameraTrack()
		if err != nil {
			audio.Close()
			_ = s.provider.Leave()
			return fmt.Errorf("create camera track: %w", err)
		}
		initial = append(initial, camera)
	}

	if err := s.provider.Publish(initial...); err != nil {
		audio.Close()
		if camera != nil {
			camera.Close()
		}
		_ = s.provider.Leave()
		return fmt.Errorf("publish: %w", err)
	}

	s.mu.Lock()
	s.started = true
	s.audio = audio
	s.camera = camera
	s.mu.Unlock()

	log.Info().Str("module", "media").Str("room", string(room)).
		Bool("audio_only", s.cfg.AudioOnly).Msg("session started")
	return nil
}

// Stop releases every local track and leaves the provider. Best effort,
// the session always ends up stopped.
func (s *Session) Stop() error {
	s.mu.Lock()
	audio, camera, screen := s.audio, s.camera, s.screen
	s.audio, s.camera, s.screen = nil, nil, nil
	s.started = false
	s.known = make(map[string]struct{})
	s.mu.Unlock()

	for _, t := range []core.Track{audio, camera, screen} {
		if t != nil {
			t.Close()
		}
	}
	if err := s.provider.Leave(); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	return nil
}

// SetMicEnabled flips the microphone. The caller updates its flag only
// when this returns nil.
func (s *Session) SetMicEnabled(enabled bool) error {
	s.mu.Lock()
	audio := s.audio
	s.mu.Unlock()
	if audio == nil {
		return ErrNotStarted
	}
	if err := audio.SetEnabled(enabled); err != nil {
		return fmt.Errorf("set mic enabled: %w", err)
	}
	return nil
}

// DisableCamera unpublishes and closes the camera track.
func (s *Session) DisableCamera() error {
	s.mu.Lock()
	camera := s.camera
	s.mu.Unlock()
	if camera == nil {
		return ErrNoCamera
	}
	if err := s.provider.Unpublish(camera); err != nil {
		return fmt.Errorf("unpublish camera: %w", err)
	}
	camera.Close()
	s.mu.Lock()
	s.camera = nil
	s.mu.Unlock()
	return nil
}

// EnableCamera creates a fresh camera track and publishes it.
func (s *Session) EnableCamera() error {
	camera, err := s.provider.CreateCameraTrack()
	if err != nil {
		return fmt.Errorf("create camera track: %w", err)
	}
	if err := s.provider.Publish(camera); err != nil {
		camera.Close()
		return fmt.Errorf("publish camera: %w", err)
	}
	s.mu.Lock()
	s.camera = camera
	s.mu.Unlock()
	return nil
}

// StartScreenShare swaps the camera for a screen track. If the swap fails
// after the camera was unpublished, the camera is published again so local
// video never disappears entirely.
func (s *Session) StartScreenShare() error {
	s.mu.Lock()
	if s.screen != nil {
		s.mu.Unlock()
		return ErrAlreadySharing
	}
	camera := s.camera
	s.mu.Unlock()

	screen, err := s.provider.CreateScreenTrack(s.cfg.Screen)
	if err != nil {
		return fmt.Errorf("create screen track: %w", err)
	}
	if camera != nil {
		if err := s.provider.Unpublish(camera); err != nil {
			screen.Close()
			return fmt.Errorf("unpublish camera: %w", err)
		}
	}
	if err := s.provider.Publish(screen); err != nil {
		screen.Close()
		if camera != nil {
			// Fall back to the prior track rather than leave local
			// video unpublished.
			if pubErr := s.provider.Publish(camera); pubErr != nil {
				log.Error().Err(pubErr).Str("module", "media").Msg("camera fallback publish failed")
			}
		}
		return fmt.Errorf("publish screen: %w", err)
	}

	s.mu.Lock()
	s.screen = screen
	s.mu.Unlock()
	return nil
}

// StopScreenShare swaps the screen track back for the camera.
func (s *Session) StopScreenShare() error {
	s.mu.Lock()
	screen, camera := s.screen, s.camera
	s.mu.Unlock()
	if screen == nil {
		return ErrNotSharing
	}
	if err := s.provider.Unpublish(screen); err != nil {
		return fmt.Errorf("unpublish screen: %w", err)
	}
	if camera != nil {
		if err := s.provider.Publish(camera); err != nil {
			screen.Close()
			s.mu.Lock()
			s.screen = nil
			s.mu.Unlock()
			return fmt.Errorf("publish camera: %w", err)
		}
	}
	screen.Close()
	s.mu.Lock()
	s.screen = nil
	s.mu.Unlock()
	return nil
}

// LocalAudio returns the microphone track, nil before Start.
func (s *Session) LocalAudio() core.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// LocalVideo returns whichever local video track is currently published.
func (s *Session) LocalVideo() core.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screen != nil {
		return s.screen
	}
	return s.camera
}

func (s *Session) handlePublished(id string, kind core.TrackKind) {
	track, err := s.provider.Subscribe(id, kind)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Str("participant", id).
			Str("kind", string(kind)).Msg("subscribe failed")
		s.fail("subscribe", err)
		return
	}
	s.mu.Lock()
	s.known[id] = struct{}{}
	s.mu.Unlock()
	s.emit(core.TrackEvent{Type: core.TrackAdded, ParticipantID: id, Kind: kind, Track: track})
}

func (s *Session) handleUnpublished(id string, kind core.TrackKind) {
	s.mu.Lock()
	_, ok := s.known[id]
	s.mu.Unlock()
	if !ok {
		// Unpublish after the participant already left. Not an error.
		log.Debug().Str("module", "media").Str("participant", id).Msg("unpublish for absent participant ignored")
		return
	}
	s.emit(core.TrackEvent{Type: core.TrackRemoved, ParticipantID: id, Kind: kind})
}

func (s *Session) handleLeft(id string) {
	s.mu.Lock()
	_, ok := s.known[id]
	delete(s.known, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.emit(core.TrackEvent{Type: core.ParticipantGone, ParticipantID: id})
}

func (s *Session) emit(ev core.TrackEvent) {
	if fn := s.onEvent; fn != nil {
		fn(ev)
	}
}

func (s *Session) fail(op string, err error) {
	if fn := s.onError; fn != nil {
		fn(op, err)
	}
}
