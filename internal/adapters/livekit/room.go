package livekit

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/telemetry"
)

// Room adapts a NativeRoom to core.Room. Every native notification funnels
// into the same full roster rebuild.
type Room struct {
	emitter   core.Emitter
	cfg       Config
	newNative NativeFactory

	opMu sync.Mutex

	mu      sync.RWMutex
	native  NativeRoom
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

func newRoom(cfg Config, newNative NativeFactory) *Room {
	return &Room{
		cfg:       cfg,
		newNative: newNative,
		state:     domain.StateDisconnected,
		remotes:   make(map[domain.ParticipantID]domain.Participant),
	}
}

func (r *Room) Provider() domain.ProviderName { return domain.ProviderLiveKit }

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

// Join connects with a LiveKit access token. The display name comes from the token.
// A later Join or Leave cancels a Join still in progress, which then returns ErrJoinSuperseded.
func (r *Room) Join(ctx context.Context, token string, opts domain.JoinOptions) error {
	epoch := r.supersede()
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if opts.URL == "" {
		return r.fail(domain.ErrMissingRoomURL)
	}

	r.mu.RLock()
	busy := r.native != nil || r.state.IsActive()
	r.mu.RUnlock()
	if busy {
		r.leaveLocked()
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

	native := r.newNative(r.cfg)
	native.OnEvent(func(ev NativeEvent) { r.handleNativeEvent(native, ev) })
	r.mu.Lock()
	r.native = native
	r.mu.Unlock()
	log.Info().Str("module", "livekit.room").Str("url", opts.URL).Msg("joining")

	if err := native.Join(joinCtx, opts.URL, token); err != nil {
		r.mu.Lock()
		r.native = nil
		stale := r.epoch != epoch
		r.mu.Unlock()
		native.Disconnect()
		if stale && ctx.Err() == nil {
			return r.superseded()
		}
		return r.fail(err)
	}

	roomName := native.Name()
	if roomName == "" {
		roomName = opts.URL
	}
	local, remotes := snapshot(native)

	r.mu.Lock()
	r.state = domain.StateConnected
	r.live = true
	r.name = domain.RoomName(roomName)
	r.local = local
	r.remotes = remotes
	r.mu.Unlock()

	telemetry.RoomJoined(domain.ProviderLiveKit)
	log.Info().Str("module", "livekit.room").Str("room", roomName).Int("remotes", len(remotes)).Msg("connected")
	r.emitter.Emit(core.Event{Type: core.EventConnected, Room: domain.RoomName(roomName), Participant: local})
	return nil
}

func (r *Room) Leave(_ context.Context) error {
	r.supersede()
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.leaveLocked()
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

func (r *Room) superseded() error {
	log.Info().Str("module", "livekit.room").Msg("join superseded")
	return domain.NewError(domain.ProviderLiveKit, "join", domain.ErrJoinSuperseded)
}

func (r *Room) leaveNative(native NativeRoom) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.mu.RLock()
	current := r.native == native
	r.mu.RUnlock()
	if current {
		r.leaveLocked()
	}
}

func (r *Room) leaveLocked() {
	r.mu.Lock()
	native, prev, live, name := r.native, r.state, r.live, r.name
	if native == nil && prev == domain.StateDisconnected {
		r.mu.Unlock()
		return
	}
	r.native = nil
	r.live = false
	r.name = ""
	r.state = domain.StateDisconnected
	r.err = nil
	r.local = nil
	r.remotes = make(map[domain.ParticipantID]domain.Participant)
	r.mu.Unlock()

	if native != nil {
		native.Disconnect()
	}
	if live {
		telemetry.RoomLeft(domain.ProviderLiveKit)
	}

	log.Info().Str("module", "livekit.room").Str("room", string(name)).Msg("disconnected")
	r.emitter.Emit(core.Event{Type: core.EventDisconnected, Room: name})
}

func (r *Room) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return r.setMedia(ctx, domain.TrackKindAudio, enabled)
}

func (r *Room) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return r.setMedia(ctx, domain.TrackKindVideo, enabled)
}

// setMedia re-syncs after every change: the local publication only shows up
// in the SDK's participant once the publish has been acknowledged.
func (r *Room) setMedia(ctx context.Context, kind domain.TrackKind, enabled bool) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	native, state := r.native, r.state
	r.mu.RUnlock()
	if native == nil || state != domain.StateConnected {
		return nil
	}
	if err := native.SetMediaEnabled(ctx, kind, enabled); err != nil {
		return domain.NewError(domain.ProviderLiveKit, "set "+string(kind)+" enabled", err)
	}
	r.sync(native)
	return nil
}

func (r *Room) handleNativeEvent(native NativeRoom, ev NativeEvent) {
	r.mu.RLock()
	current, state := r.native == native, r.state
	r.mu.RUnlock()
	if !current {
		return
	}

	switch ev.Type {
	case NativeDisconnected:
		if state != domain.StateConnecting {
			go r.leaveNative(native)
		}
	case NativeReconnecting:
		r.setState(native, domain.StateConnected, domain.StateReconnecting)
	case NativeReconnected:
		if r.setState(native, domain.StateReconnecting, domain.StateConnected) {
			r.sync(native)
		}
	default:
		if state != domain.StateConnected && state != domain.StateReconnecting {
			return
		}
		r.sync(native)
		r.emitTrack(ev)
	}
}

func (r *Room) setState(native NativeRoom, from, to domain.RoomState) bool {
	r.mu.Lock()
	if r.native != native || r.state != from {
		r.mu.Unlock()
		return false
	}
	r.state = to
	name := r.name
	r.mu.Unlock()
	log.Info().Str("module", "livekit.room").Str("room", string(name)).Str("state", to.String()).Msg("state changed")
	return true
}

func (r *Room) emitTrack(ev NativeEvent) {
	var t core.EventType
	switch ev.Type {
	case NativeTrackSubscribed:
		t = core.EventTrackSubscribed
	case NativeTrackUnsubscribed:
		t = core.EventTrackUnsubscribed
	default:
		return
	}
	out := core.Event{Type: t, Room: r.Name()}
	if ev.Track != nil {
		out.Track = &domain.MediaTrack{ID: ev.Track.SID, Kind: ev.Track.Kind, IsMuted: ev.Track.Muted, IsEnabled: !ev.Track.Muted}
	}
	r.mu.RLock()
	if p, ok := r.remotes[domain.ParticipantID(ev.Participant)]; ok {
		out.Participant = &p
	}
	r.mu.RUnlock()
	r.emitter.Emit(out)
}

func (r *Room) sync(native NativeRoom) {
	local, remotes := snapshot(native)

	r.mu.Lock()
	if r.native != native {
		r.mu.Unlock()
		return
	}
	joined, left := core.RosterDiff(r.remotes, remotes)
	r.local = local
	r.remotes = remotes
	name := r.name
	r.mu.Unlock()

	telemetry.RosterSynced(domain.ProviderLiveKit)
	log.Debug().Str("module", "livekit.room").Str("room", string(name)).Int("remotes", len(remotes)).Msg("roster synced")

	for i := range joined {
		r.emitter.Emit(core.Event{Type: core.EventParticipantConnected, Room: name, Participant: &joined[i]})
	}
	for i := range left {
		r.emitter.Emit(core.Event{Type: core.EventParticipantDisconnected, Room: name, Participant: &left[i]})
	}
}

// snapshot rebuilds local and remote participants from the native room.
func snapshot(native NativeRoom) (*domain.Participant, map[domain.ParticipantID]domain.Participant) {
	var local *domain.Participant
	if info, ok := native.LocalParticipant(); ok {
		info.Local = true
		p := MapParticipant(info)
		local = &p
	}
	infos := native.RemoteParticipants()
	remotes := make(map[domain.ParticipantID]domain.Participant, len(infos))
	for _, info := range infos {
		info.Local = false
		p := MapParticipant(info)
		remotes[p.ID] = p
	}
	return local, remotes
}

func (r *Room) fail(err error) error {
	derr := domain.NewError(domain.ProviderLiveKit, "join", err)

	r.mu.Lock()
	r.state = domain.StateError
	r.err = derr
	r.local = nil
	r.remotes = make(map[domain.ParticipantID]domain.Participant)
	name := r.name
	r.mu.Unlock()

	telemetry.RoomJoinFailed(domain.ProviderLiveKit)
	log.Error().Err(derr).Str("module", "livekit.room").Msg("join failed")
	r.emitter.Emit(core.Event{Type: core.EventError, Room: name, Err: derr})
	return derr
}
