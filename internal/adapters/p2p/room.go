package p2p

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/telemetry"
)

// Room adapts one CallObject to core.Room. The call object is created on Join
// and destroyed on Leave, so each Join starts from fresh native state.
type Room struct {
	emitter core.Emitter
	cfg     Config
	newCall CallFactory

	// opMu serialises Join, Leave and the media toggles.
	opMu sync.Mutex

	mu      sync.RWMutex
	call    CallObject
	live    bool
	state   domain.RoomState
	err     error
	name    domain.RoomName
	local   *domain.Participant
	remotes map[domain.ParticipantID]domain.Participant
	// epoch counts Join and Leave calls; joinCancel aborts the join started at that epoch.
	epoch      uint64
	joinCancel context.CancelFunc
}

var _ core.Room = (*Room)(nil)

func newRoom(cfg Config, newCall CallFactory) *Room {
	return &Room{
		cfg:     cfg,
		newCall: newCall,
		state:   domain.StateDisconnected,
		remotes: make(map[domain.ParticipantID]domain.Participant),
	}
}

func (r *Room) Provider() domain.ProviderName { return domain.ProviderWebRTC }

func (r *Room) Name() domain.RoomName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

func (r *Room) State() domain.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Room) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Room) LocalParticipant() *domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.local == nil {
		return nil
	}
	p := *r.local
	return &p
}

func (r *Room) RemoteParticipants() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return core.SortedParticipants(r.remotes)
}

func (r *Room) On(t core.EventType, h core.Handler) *core.Listener { return r.emitter.On(t, h) }

func (r *Room) Off(l *core.Listener) { r.emitter.Off(l) }

// Join connects to opts.URL. A later Join or Leave cancels a Join still in
// progress, which then returns ErrJoinSuperseded.
func (r *Room) Join(ctx context.Context, token string, opts domain.JoinOptions) error {
	epoch := r.supersede()
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if opts.URL == "" {
		return r.fail("join", domain.ErrMissingRoomURL)
	}

	r.mu.RLock()
	busy := r.call != nil || r.state.IsActive()
	r.mu.RUnlock()
	if busy {
		r.leaveLocked(ctx)
	}

	joinCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return r.superseded()
	}
	r.joinCancel = cancel
	r.state = domain.StateConnecting
	r.err = nil
	r.mu.Unlock()
	defer r.clearJoin(epoch)
	log.Info().Str("module", "p2p.room").Str("url", opts.URL).Msg("joining")

	name := opts.Name
	if name == "" {
		name = r.cfg.DisplayName
	}
	call, err := r.newCall(CallConfig{
		URL:        opts.URL,
		Token:      token,
		UserName:   domain.DisplayName(name),
		ICEServers: r.cfg.ICEServers,
		PingPeriod: r.cfg.PingPeriod,
	})
	if err != nil {
		return r.fail("join", err)
	}
	call.OnEvent(func(ev CallEvent) { r.handleCallEvent(call, ev) })

	r.mu.Lock()
	r.call = call
	r.mu.Unlock()

	if err := call.Join(joinCtx); err != nil {
		r.mu.Lock()
		r.call = nil
		stale := r.epoch != epoch
		r.mu.Unlock()
		if derr := call.Destroy(); derr != nil {
			log.Warn().Err(derr).Str("module", "p2p.room").Msg("destroy after failed join")
		}
		if stale && ctx.Err() == nil {
			return r.superseded()
		}
		return r.fail("join", err)
	}

	roomName := call.RoomName()
	if roomName == "" {
		roomName = opts.URL
	}
	local, remotes := mapRoster(call.Participants())

	r.mu.Lock()
	r.state = domain.StateConnected
	r.live = true
	r.name = domain.RoomName(roomName)
	r.local = local
	r.remotes = remotes
	r.mu.Unlock()

	telemetry.RoomJoined(domain.ProviderWebRTC)
	log.Info().Str("module", "p2p.room").Str("room", roomName).Int("remotes", len(remotes)).Msg("connected")
	r.emitter.Emit(core.Event{Type: core.EventConnected, Room: domain.RoomName(roomName), Participant: local})
	return nil
}

func (r *Room) Leave(ctx context.Context) error {
	r.supersede()
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.leaveLocked(ctx)
	return nil
}

// supersede cancels a Join in progress and returns the epoch of the caller.
func (r *Room) supersede() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	if r.joinCancel != nil {
		r.joinCancel()
		r.joinCancel = nil
	}
	return r.epoch
}

func (r *Room) clearJoin(epoch uint64) {
	r.mu.Lock()
	if r.epoch == epoch {
		r.joinCancel = nil
	}
	r.mu.Unlock()
}

// superseded leaves state as it is; the superseding call owns the next transition.
func (r *Room) superseded() error {
	log.Info().Str("module", "p2p.room").Msg("join superseded")
	return domain.NewError(domain.ProviderWebRTC, "join", domain.ErrJoinSuperseded)
}

// leaveCall leaves only if call is still the room's current call object.
func (r *Room) leaveCall(call CallObject) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.RLock()
	current := r.call == call
	r.mu.RUnlock()
	if current {
		r.leaveLocked(context.Background())
	}
}

func (r *Room) leaveLocked(ctx context.Context) {
	r.mu.Lock()
	call, prev, live, name := r.call, r.state, r.live, r.name
	if call == nil && prev == domain.StateDisconnected {
		r.mu.Unlock()
		return
	}
	r.call = nil
	r.live = false
	r.name = ""
	r.state = domain.StateDisconnected
	r.err = nil
	r.local = nil
	r.remotes = make(map[domain.ParticipantID]domain.Participant)
	r.mu.Unlock()

	if call != nil {
		if err := call.Leave(ctx); err != nil {
			log.Warn().Err(err).Str("module", "p2p.room").Str("room", string(name)).Msg("leave")
		}
		if err := call.Destroy(); err != nil {
			log.Warn().Err(err).Str("module", "p2p.room").Str("room", string(name)).Msg("destroy")
		}
	}
	if live {
		telemetry.RoomLeft(domain.ProviderWebRTC)
	}

	log.Info().Str("module", "p2p.room").Str("room", string(name)).Msg("disconnected")
	r.emitter.Emit(core.Event{Type: core.EventDisconnected, Room: name})
}

func (r *Room) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return r.setMedia(ctx, "setMicrophoneEnabled", func(c CallObject) error { return c.SetLocalAudio(ctx, enabled) })
}

func (r *Room) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return r.setMedia(ctx, "setCameraEnabled", func(c CallObject) error { return c.SetLocalVideo(ctx, enabled) })
}

func (r *Room) setMedia(_ context.Context, op string, apply func(CallObject) error) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	call, state := r.call, r.state
	r.mu.RUnlock()
	if call == nil || state != domain.StateConnected {
		return nil
	}
	if err := apply(call); err != nil {
		return domain.NewError(domain.ProviderWebRTC, op, err)
	}
	r.sync(call)
	return nil
}

func (r *Room) handleCallEvent(call CallObject, ev CallEvent) {
	r.mu.RLock()
	current, state := r.call == call, r.state
	r.mu.RUnlock()
	if !current {
		return
	}

	switch ev.Type {
	case CallParticipantJoined, CallParticipantUpdated, CallParticipantLeft:
		if state == domain.StateConnected {
			r.sync(call)
		}
	case CallTrackStarted, CallTrackStopped:
		if state != domain.StateConnected {
			return
		}
		r.sync(call)
		r.emitTrack(ev)
	case CallError:
		r.nativeError(call, ev.ErrorMsg)
	case CallLeftMeeting:
		if state == domain.StateConnected {
			// Leave takes opMu and destroys the call, which waits for the goroutine delivering this event.
			go r.leaveCall(call)
		}
	case CallJoinedMeeting:
	}
}

func (r *Room) emitTrack(ev CallEvent) {
	kind := domain.TrackKind(ev.TrackKind)
	if !kind.Valid() {
		return
	}
	out := core.Event{Type: core.EventTrackSubscribed, Room: r.Name()}
	if ev.Type == CallTrackStopped {
		out.Type = core.EventTrackUnsubscribed
	}
	if ev.Participant != nil {
		p := MapParticipant(*ev.Participant)
		out.Participant = &p
	}
	out.Track = domain.NewMediaTrack(ev.TrackID, kind, ev.Type == CallTrackStarted)
	r.emitter.Emit(out)
}

func (r *Room) nativeError(call CallObject, msg string) {
	if msg == "" {
		msg = "call object error"
	}
	err := domain.NewError(domain.ProviderWebRTC, "call", errors.New(msg))

	r.mu.Lock()
	if r.call != call {
		r.mu.Unlock()
		return
	}
	r.state = domain.StateError
	r.err = err
	name := r.name
	r.mu.Unlock()

	log.Error().Err(err).Str("module", "p2p.room").Str("room", string(name)).Msg("call error")
	r.emitter.Emit(core.Event{Type: core.EventError, Room: name, Err: err})
}

// sync re-derives the whole roster from the call object's current snapshot
// and emits participant events for ids that appeared or disappeared.
func (r *Room) sync(call CallObject) {
	local, remotes := mapRoster(call.Participants())

	r.mu.Lock()
	if r.call != call {
		r.mu.Unlock()
		return
	}
	joined, left := core.RosterDiff(r.remotes, remotes)
	r.local = local
	r.remotes = remotes
	name := r.name
	r.mu.Unlock()

	telemetry.RosterSynced(domain.ProviderWebRTC)
	log.Debug().Str("module", "p2p.room").Str("room", string(name)).Int("remotes", len(remotes)).Msg("roster synced")

	for i := range joined {
		r.emitter.Emit(core.Event{Type: core.EventParticipantConnected, Room: name, Participant: &joined[i]})
	}
	for i := range left {
		r.emitter.Emit(core.Event{Type: core.EventParticipantDisconnected, Room: name, Participant: &left[i]})
	}
}

// fail records err as the room error, emits it and returns the same value.
func (r *Room) fail(op string, err error) error {
	derr := domain.NewError(domain.ProviderWebRTC, op, err)

	r.mu.Lock()
	r.state = domain.StateError
	r.err = derr
	r.local = nil
	r.remotes = make(map[domain.ParticipantID]domain.Participant)
	name := r.name
	r.mu.Unlock()

	telemetry.RoomJoinFailed(domain.ProviderWebRTC)
	log.Error().Err(derr).Str("module", "p2p.room").Msg("join failed")
	r.emitter.Emit(core.Event{Type: core.EventError, Room: name, Err: derr})
	return derr
}
