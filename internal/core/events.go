package core

type TrackEventType int

const (
	// TrackAdded carries a freshly subscribed remote track.
	TrackAdded TrackEventType = iota
	// TrackRemoved clears one kind on an existing participant.
	TrackRemoved
	// ParticipantGone removes the participant entirely.
	ParticipantGone
)

func (t TrackEventType) String() string {
	switch t {
	case TrackAdded:
		return "track_added"
	case TrackRemoved:
		return "track_removed"
	case ParticipantGone:
		return "participant_gone"
	}
	return "unknown"
}

// TrackEvent is the notification contract between the media session and
// the room coordinator. The session emits; only the coordinator mutates
// membership in response.
type TrackEvent struct {
	Type          TrackEventType
	ParticipantID string
	Kind          TrackKind
	Track         Track // set for TrackAdded only
}

// Participant is a remote room member as observed through published
// tracks. A participant with neither track is still a valid member.
type Participant struct {
	ID    string
	Audio Track
	Video Track
}
