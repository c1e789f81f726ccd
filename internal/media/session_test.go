package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelink/connect/internal/core"
	"github.com/wavelink/connect/internal/domain"
)

type fakeTrack struct {
	id      string
	kind    core.TrackKind
	enabled bool
	closed  bool
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() core.TrackKind { return t.kind }
func (t *fakeTrack) SetEnabled(enabled bool) error {
	t.enabled = enabled
	return nil
}
func (t *fakeTrack) Close() { t.closed = true }

type fakeProvider struct {
	mu        sync.Mutex
	joined    bool
	left      bool
	nextID    int
	published map[string]core.Track

	joinErr      error
	createErr    map[core.TrackKind]error
	publishErr   map[core.TrackKind]error
	unpublishErr map[core.TrackKind]error
	subscribeErr error

	onPublished   func(string, core.TrackKind)
	onUnpublished func(string, core.TrackKind)
	onLeft        func(string)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		published:    make(map[string]core.Track),
		createErr:    make(map[core.TrackKind]error),
		publishErr:   make(map[core.TrackKind]error),
		unpublishErr: make(map[core.TrackKind]error),
	}
}

func (f *fakeProvider) Join(_ context.Context, _ string, _ domain.RoomID, _ string, _ string) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.mu.Lock()
	f.joined = true
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) Leave() error {
	f.mu.Lock()
	f.left = true
	f.joined = false
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) newTrack(kind core.TrackKind) (core.Track, error) {
	if err := f.createErr[kind]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("%s-%d", kind, f.nextID)
	f.mu.Unlock()
	return &fakeTrack{id: id, kind: kind, enabled: true}, nil
}

func (f *fakeProvider) CreateMicrophoneTrack() (core.Track, error) {
	return f.newTrack(core.TrackKindAudio)
}
func (f *fakeProvider) CreateCameraTrack() (core.Track, error) {
	return f.newTrack(core.TrackKindVideo)
}
func (f *fakeProvider) CreateScreenTrack(core.ScreenOptions) (core.Track, error) {
	return f.newTrack(core.TrackKindScreen)
}

func (f *fakeProvider) Publish(tracks ...core.Track) error {
	for _, t := range tracks {
		if err := f.publishErr[t.Kind()]; err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tracks {
		f.published[t.ID()] = t
	}
	return nil
}

func (f *fakeProvider) Unpublish(tracks ...core.Track) error {
	for _, t := range tracks {
		if err := f.unpublishErr[t.Kind()]; err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tracks {
		delete(f.published, t.ID())
	}
	return nil
}

func (f *fakeProvider) Subscribe(participantID string, kind core.TrackKind) (core.Track, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return &fakeTrack{id: participantID + "/" + string(kind), kind: kind}, nil
}

func (f *fakeProvider) OnParticipantPublished(fn func(string, core.TrackKind)) { f.onPublished = fn }
func (f *fakeProvider) OnParticipantUnpublished(fn func(string, core.TrackKind)) {
	f.onUnpublished = fn
}
func (f *fakeProvider) OnParticipantLeft(fn func(string)) { f.onLeft = fn }

func (f *fakeProvider) publishedKinds() []core.TrackKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.TrackKind, 0, len(f.published))
	for _, t := range f.published {
		out = append(out, t.Kind())
	}
	return out
}

func startedSession(t *testing.T, f *fakeProvider, cfg Config) *Session {
	t.Helper()
	s := NewSession(f, cfg)
	require.NoError(t, s.Start(context.Background(), "R1", "Alice"))
	return s
}

func TestStartPublishesInitialTracks(t *testing.T) {
	f := newFakeProvider()
	s := startedSession(t, f, Config{})

	assert.ElementsMatch(t, []core.TrackKind{core.TrackKindAudio, core.TrackKindVideo}, f.publishedKinds())
	assert.NotNil(t, s.LocalAudio())
	assert.NotNil(t, s.LocalVideo())
}

func TestStartAudioOnly(t *testing.T) {
	f := newFakeProvider()
	s := startedSession(t, f, Config{AudioOnly: true})

	assert.ElementsMatch(t, []core.TrackKind{core.TrackKindAudio}, f.publishedKinds())
	assert.Nil(t, s.LocalVideo())
}

func TestStartJoinFailure(t *testing.T) {
	f := newFakeProvider()
	f.joinErr = errors.New("rejected")
	s := NewSession(f, Config{})

	err := s.Start(context.Background(), "R1", "Alice")
	require.Error(t, err)
	assert.ErrorContains(t, err, "join")
}

func TestStartPublishFailureLeavesProvider(t *testing.T) {
	f := newFakeProvider()
	f.publishErr[core.TrackKindAudio] = errors.New("no permission")
	s := NewSession(f, Config{})

	require.Error(t, s.Start(context.Background(), "R1", "Alice"))
	assert.True(t, f.left)
	assert.Empty(t, f.publishedKinds())
}

func TestScreenShareSwap(t *testing.T) {
	f := newFakeProvider()
	s := startedSession(t, f, Config{})

	require.NoError(t, s.StartScreenShare())
	assert.ElementsMatch(t, []core.TrackKind{core.TrackKindAudio, core.TrackKindScreen}, f.publishedKinds())
	assert.Equal(t, core.TrackKindScreen, s.LocalVideo().Kind())

	require.NoError(t, s.StopScreenShare())
	assert.ElementsMatch(t, []core.TrackKind{core.TrackKindAudio, core.TrackKindVideo}, f.publishedKinds())
	assert.Equal(t, core.TrackKindVideo, s.LocalVideo().Kind())
}

func TestScreenSharePublishFailureFallsBackToCamera(t *testing.T) {
	f := newFakeProvider()
	s := startedSession(t, f, Config{})
	f.publishErr[core.TrackKindScreen] = errors.New("rejected")

	err := s.StartScreenShare()
	require.Error(t, err)

	// The camera was republished: local video never disappears.
	assert.ElementsMatch(t, []core.TrackKind{core.TrackKindAudio, core.TrackKindVideo}, f.publishedKinds())
	assert.Equal(t, core.TrackKindVideo, s.LocalVideo().Kind())
}

func TestDoubleScreenShareRejected(t *testing.T) {
	f := newFakeProvider()
	s := startedSession(t, f, Config{})

	require.NoError(t, s.StartScreenShare())
	require.ErrorIs(t, s.StartScreenShare(), ErrAlreadySharing)

	// Still exactly one screen track, and a local video track exists.
	assert.ElementsMatch(t, []core.TrackKind{core.TrackKindAudio, core.TrackKindScreen}, f.publishedKinds())
}

func TestCameraToggle(t *testing.T) {
	f := newFakeProvider()
	s := startedSession(t, f, Config{})

	require.NoError(t, s.DisableCamera())
	assert.ElementsMatch(t, []core.TrackKind{core.TrackKindAudio}, f.publishedKinds())

	require.NoError(t, s.EnableCamera())
	assert.ElementsMatch(t, []core.TrackKind{core.TrackKindAudio, core.TrackKindVideo}, f.publishedKinds())
}

func TestSetMicEnabledBeforeStart(t *testing.T) {
	s := NewSession(newFakeProvider(), Config{})
	require.ErrorIs(t, s.SetMicEnabled(false), ErrNotStarted)
}

func TestRemoteEventStream(t *testing.T) {
	f := newFakeProvider()
	s := NewSession(f, Config{})
	var mu sync.Mutex
	var events []core.TrackEvent
	s.OnEvent(func(ev core.TrackEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	require.NoError(t, s.Start(context.Background(), "R1", "Alice"))

	f.onPublished("bob", core.TrackKindVideo)
	f.onUnpublished("bob", core.TrackKindVideo)
	f.onLeft("bob")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, core.TrackAdded, events[0].Type)
	assert.NotNil(t, events[0].Track)
	assert.Equal(t, core.TrackRemoved, events[1].Type)
	assert.Equal(t, core.ParticipantGone, events[2].Type)
}

func TestUnpublishForAbsentParticipantIgnored(t *testing.T) {
	f := newFakeProvider()
	s := NewSession(f, Config{})
	var events []core.TrackEvent
	s.OnEvent(func(ev core.TrackEvent) { events = append(events, ev) })
	require.NoError(t, s.Start(context.Background(), "R1", "Alice"))

	// Unpublish and left for a participant we never saw publish.
	f.onUnpublished("ghost", core.TrackKindAudio)
	f.onLeft("ghost")
	assert.Empty(t, events)
}

func TestLeftClearsKnownSoLateUnpublishIgnored(t *testing.T) {
	f := newFakeProvider()
	s := NewSession(f, Config{})
	var events []core.TrackEvent
	s.OnEvent(func(ev core.TrackEvent) { events = append(events, ev) })
	require.NoError(t, s.Start(context.Background(), "R1", "Alice"))

	f.onPublished("bob", core.TrackKindAudio)
	f.onLeft("bob")
	f.onUnpublished("bob", core.TrackKindAudio) // arrives out of order
	require.Len(t, events, 2)
	assert.Equal(t, core.ParticipantGone, events[1].Type)
}

func TestSubscribeFailureSurfacedNotEmitted(t *testing.T) {
	f := newFakeProvider()
	f.subscribeErr = errors.New("denied")
	s := NewSession(f, Config{})
	var events []core.TrackEvent
	var failedOp string
	s.OnEvent(func(ev core.TrackEvent) { events = append(events, ev) })
	s.OnError(func(op string, _ error) { failedOp = op })
	require.NoError(t, s.Start(context.Background(), "R1", "Alice"))

	f.onPublished("bob", core.TrackKindAudio)
	assert.Empty(t, events)
	assert.Equal(t, "subscribe", failedOp)
}

func TestStopClosesLocalTracks(t *testing.T) {
	f := newFakeProvider()
	s := startedSession(t, f, Config{})
	audio := s.LocalAudio().(*fakeTrack)
	video := s.LocalVideo().(*fakeTrack)

	require.NoError(t, s.Stop())
	assert.True(t, audio.closed)
	assert.True(t, video.closed)
	assert.True(t, f.left)
	assert.Nil(t, s.LocalAudio())
}
