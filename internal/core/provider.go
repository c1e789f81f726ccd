package core

import (
	"context"

	"github.com/wavelink/connect/internal/domain"
)

type ScreenOptions struct {
	// OptimizeForDetail prefers resolution over frame rate.
	OptimizeForDetail bool
}

// MediaProvider is the capability set an external media transport must
// implement. The rest of the system treats it as an opaque, possibly
// unreliable remote service and depends on nothing beyond this contract.
type MediaProvider interface {
	Join(ctx context.Context, appID string, room domain.RoomID, token string, identity string) error
	Leave() error

	CreateMicrophoneTrack() (Track, error)
	CreateCameraTrack() (Track, error)
	CreateScreenTrack(opts ScreenOptions) (Track, error)

	Publish(tracks ...Track) error
	Unpublish(tracks ...Track) error
	Subscribe(participantID string, kind TrackKind) (Track, error)

	// Event callbacks are set once, before Join.
	OnParticipantPublished(fn func(participantID string, kind TrackKind))
	OnParticipantUnpublished(fn func(participantID string, kind TrackKind))
	OnParticipantLeft(fn func(participantID string))
}
