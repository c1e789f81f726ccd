// Package room composes the signaling channel and the media session into
// one room-scoped session. The coordinator is the single state-mutation
// authority: sub-components notify, only the coordinator applies.
package room

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wavelink/connect/internal/core"
	"github.com/wavelink/connect/internal/domain"
	"github.com/wavelink/connect/internal/signaling"
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateLeaving
	StateLeft
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateLeft:
		return "left"
	case StateError:
		return "error"
	}
	return "unknown"
}

var (
	ErrNotJoined       = errors.New("room not joined")
	ErrAlreadyJoined   = errors.New("room already joined")
	ErrShareInProgress = errors.New("screen share transition in progress")
	ErrShareActive     = errors.New("camera toggle rejected while screen sharing")
)

// Signal is what the coordinator needs from the signaling channel.
// Implemented by *signaling.Channel.
type Signal interface {
	OnState(fn func(signaling.State))
	OnMessage(fn func(domain.ChatMessage))
	Connect()
	Send(msg domain.ChatMessage)
	Close()
}

// Media is what the coordinator needs from the media session.
// Implemented by *media.Session.
type Media interface {
	OnEvent(fn func(core.TrackEvent))
	OnError(fn func(op string, err error))
	Start(ctx context.Context, room domain.RoomID, identity string) error
	Stop() error
	SetMicEnabled(enabled bool) error
	EnableCamera() error
	DisableCamera() error
	StartScreenShare() error
	StopScreenShare() error
}

type Options struct {
	// DeduplicateSelfEchoes drops the relay's echo of our own messages,
	// matching each optimistic local append by sender+timestamp.
	DeduplicateSelfEchoes bool
}

// SelfView is the local participant's control flags.
type SelfView struct {
	MicMuted      bool
	CameraOff     bool
	ScreenSharing bool
}

// Coordinator drives one room session from join to leave.
type Coordinator struct {
	media  Media
	signal Signal
	opts   Options

	onState      func(State)
	onConnection func(signaling.State)
	onMembership func([]core.Participant)
	onChat       func(domain.ChatMessage)
	onError      func(op string, err error)

	mu         sync.Mutex
	state      State
	user       *domain.User
	room       domain.RoomID
	members    map[string]*core.Participant
	order      []string
	transcript []domain.ChatMessage
	sentKeys   map[string]struct{}
	self       SelfView
	shareBusy  bool
}

func NewCoordinator(media Media, signal Signal, opts Options) *Coordinator {
	return &Coordinator{
		media:    media,
		signal:   signal,
		opts:     opts,
		state:    StateIdle,
		members:  make(map[string]*core.Participant),
		sentKeys: make(map[string]struct{}),
	}
}

// OnState registers the lifecycle state callback.
func (c *Coordinator) OnState(fn func(State)) { c.onState = fn }

// OnConnection registers the signaling connection state callback.
func (c *Coordinator) OnConnection(fn func(signaling.State)) { c.onConnection = fn }

// OnMembership registers the membership snapshot callback.
func (c *Coordinator) OnMembership(fn func([]core.Participant)) { c.onMembership = fn }

// OnChat registers the transcript append callback.
func (c *Coordinator) OnChat(fn func(domain.ChatMessage)) { c.onChat = fn }

// OnError registers the non-fatal failure callback.
func (c *Coordinator) OnError(fn func(op string, err error)) { c.onError = fn }

// Join enters the room. The signaling connect proceeds in the background;
// Join blocks only on the media session becoming ready. Chat degrades
// gracefully while the channel is still connecting.
func (c *Coordinator) Join(ctx context.Context, roomID domain.RoomID, displayName string) error {
	user, err := domain.NewUser(displayName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.state = StateJoining
	c.user = user
	c.room = roomID
	c.mu.Unlock()
	c.emitState(StateJoining)

	c.media.OnEvent(c.applyTrackEvent)
	c.media.OnError(c.forwardError)
	c.signal.OnState(c.handleConnState)
	c.signal.OnMessage(c.handleInbound)
	c.signal.Connect()

	err = c.media.Start(ctx, roomID, displayName)

	c.mu.Lock()
	if c.state != StateJoining {
		// Leave won the race while the media join was in flight.
		c.mu.Unlock()
		log.Warn().Str("module", "room").Str("room", string(roomID)).Msg("torn down during join")
		if err == nil {
			if stopErr := c.media.Stop(); stopErr != nil {
				log.Warn().Err(stopErr).Str("module", "room").Msg("media teardown error")
			}
		}
		return ErrNotJoined
	}
	if err != nil {
		c.state = StateError
		c.mu.Unlock()
		c.emitState(StateError)
		c.signal.Close()
		log.Error().Err(err).Str("module", "room").Str("room", string(roomID)).Msg("join failed")
		return err
	}
	c.state = StateJoined
	c.mu.Unlock()
	c.emitState(StateJoined)
	log.Info().Str("module", "room").Str("room", string(roomID)).
		Str("user", displayName).Msg("joined")
	return nil
}

// Leave tears both sub-components down concurrently. Best effort: the
// coordinator always reaches Left, even when a teardown call errors.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	if c.state == StateLeaving || c.state == StateLeft {
		c.mu.Unlock()
		return
	}
	c.state = StateLeaving
	c.mu.Unlock()
	c.emitState(StateLeaving)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.media.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "room").Msg("media teardown error")
		}
	}()
	go func() {
		defer wg.Done()
		c.signal.Close()
	}()
	wg.Wait()

	c.mu.Lock()
	c.state = StateLeft
	c.mu.Unlock()
	c.emitState(StateLeft)
	log.Info().Str("module", "room").Str("room", string(c.room)).Msg("left")
}

// ToggleMic flips microphone enablement. The flag changes only after the
// provider call resolves.
func (c *Coordinator) ToggleMic() error {
	c.mu.Lock()
	if c.state != StateJoined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	muted := c.self.MicMuted
	c.mu.Unlock()

	if err := c.media.SetMicEnabled(muted); err != nil {
		c.forwardError("toggle_mic", err)
		return err
	}
	c.mu.Lock()
	c.self.MicMuted = !muted
	c.mu.Unlock()
	return nil
}

// ToggleCamera turns the camera off (unpublish+close) or on (fresh track).
func (c *Coordinator) ToggleCamera() error {
	c.mu.Lock()
	if c.state != StateJoined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if c.self.ScreenSharing || c.shareBusy {
		c.mu.Unlock()
		log.Warn().Str("module", "room").Msg("camera toggle rejected during screen share")
		return ErrShareActive
	}
	off := c.self.CameraOff
	c.mu.Unlock()

	var err error
	if off {
		err = c.media.EnableCamera()
	} else {
		err = c.media.DisableCamera()
	}
	if err != nil {
		c.forwardError("toggle_camera", err)
		return err
	}
	c.mu.Lock()
	c.self.CameraOff = !off
	c.mu.Unlock()
	return nil
}

// ToggleScreenShare starts or stops the share. A second call while the
// publish/unpublish swap is still in flight is a logged no-op.
func (c *Coordinator) ToggleScreenShare() error {
	c.mu.Lock()
	if c.state != StateJoined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if c.shareBusy {
		c.mu.Unlock()
		log.Warn().Str("module", "room").Msg("screen share toggle ignored, swap in flight")
		return ErrShareInProgress
	}
	c.shareBusy = true
	sharing := c.self.ScreenSharing
	c.mu.Unlock()

	var err error
	if sharing {
		err = c.media.StopScreenShare()
	} else {
		err = c.media.StartScreenShare()
	}

	c.mu.Lock()
	c.shareBusy = false
	if err == nil {
		c.self.ScreenSharing = !sharing
	}
	c.mu.Unlock()

	if err != nil {
		c.forwardError("toggle_screen_share", err)
		return err
	}
	return nil
}

// SendChat appends the message locally first, then transmits. A failed
// send leaves the provisional entry in place (no reconciliation).
func (c *Coordinator) SendChat(text string) error {
	c.mu.Lock()
	if c.state != StateJoined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	msg := domain.NewChatMessage(text, c.user.DisplayName, c.room)
	c.transcript = append(c.transcript, msg)
	if c.opts.DeduplicateSelfEchoes {
		c.sentKeys[msg.EchoKey()] = struct{}{}
	}
	c.mu.Unlock()

	c.emitChat(msg)
	c.signal.Send(msg)
	return nil
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Self returns the local control flags.
func (c *Coordinator) Self() SelfView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Members returns the membership snapshot in arrival order.
func (c *Coordinator) Members() []core.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membersLocked()
}

// Transcript returns a copy of the chat history for this session.
func (c *Coordinator) Transcript() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatMessage, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *Coordinator) membersLocked() []core.Participant {
	out := make([]core.Participant, 0, len(c.order))
	for _, id := range c.order {
		if p, ok := c.members[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// applyTrackEvent folds one media session notification into membership,
// in arrival order. Events after teardown began are dropped.
func (c *Coordinator) applyTrackEvent(ev core.TrackEvent) {
	c.mu.Lock()
	if c.state != StateJoining && c.state != StateJoined {
		c.mu.Unlock()
		log.Debug().Str("module", "room").Str("event", ev.Type.String()).Msg("event after teardown dropped")
		return
	}
	switch ev.Type {
	case core.TrackAdded:
		p, ok := c.members[ev.ParticipantID]
		if !ok {
			p = &core.Participant{ID: ev.ParticipantID}
			c.members[ev.ParticipantID] = p
			c.order = append(c.order, ev.ParticipantID)
		}
		if ev.Kind == core.TrackKindAudio {
			p.Audio = ev.Track
		} else {
			// Remote screen shares render in the video slot.
			p.Video = ev.Track
		}
	case core.TrackRemoved:
		if p, ok := c.members[ev.ParticipantID]; ok {
			if ev.Kind == core.TrackKindAudio {
				p.Audio = nil
			} else {
				p.Video = nil
			}
		}
	case core.ParticipantGone:
		if _, ok := c.members[ev.ParticipantID]; ok {
			delete(c.members, ev.ParticipantID)
			for i, id := range c.order {
				if id == ev.ParticipantID {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		}
	}
	snapshot := c.membersLocked()
	fn := c.onMembership
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (c *Coordinator) handleInbound(msg domain.ChatMessage) {
	c.mu.Lock()
	if c.state == StateLeaving || c.state == StateLeft {
		c.mu.Unlock()
		return
	}
	if c.opts.DeduplicateSelfEchoes && c.user != nil && msg.Sender == c.user.DisplayName {
		if _, ok := c.sentKeys[msg.EchoKey()]; ok {
			delete(c.sentKeys, msg.EchoKey())
			c.mu.Unlock()
			log.Debug().Str("module", "room").Msg("self echo dropped")
			return
		}
	}
	c.transcript = append(c.transcript, msg)
	c.mu.Unlock()
	c.emitChat(msg)
}

func (c *Coordinator) handleConnState(s signaling.State) {
	if fn := c.onConnection; fn != nil {
		fn(s)
	}
}

func (c *Coordinator) forwardError(op string, err error) {
	log.Warn().Err(err).Str("module", "room").Str("op", op).Msg("provider failure")
	if fn := c.onError; fn != nil {
		fn(op, err)
	}
}

func (c *Coordinator) emitState(s State) {
	if fn := c.onState; fn != nil {
		fn(s)
	}
}

func (c *Coordinator) emitChat(msg domain.ChatMessage) {
	if fn := c.onChat; fn != nil {
		fn(msg)
	}
}
