package core

// TrackKind distinguishes media stream flavors. Screen capture is a video
// stream on the wire but keeps its own kind so the session can tell the
// camera and the share apart.
type TrackKind string

const (
	TrackKindAudio  TrackKind = "audio"
	TrackKindVideo  TrackKind = "video"
	TrackKindScreen TrackKind = "screen"
)

// Track is an opaque handle to a local or remote media stream.
// Owned by the media session; other components hold references only
// and must never Close() one themselves.
type Track interface {
	ID() string
	Kind() TrackKind
	// SetEnabled pauses or resumes the source without unpublishing.
	SetEnabled(enabled bool) error
	Close()
}
