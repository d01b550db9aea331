package livekit

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

type fakeNative struct {
	mu           sync.Mutex
	cfg          Config
	joinErr      error
	block        bool
	joinedURL    string
	joinedToken  string
	name         string
	local        ParticipantInfo
	remotes      []ParticipantInfo
	handler      func(NativeEvent)
	disconnected int
}

func (f *fakeNative) Join(ctx context.Context, url, token string) error {
	f.mu.Lock()
	f.joinedURL, f.joinedToken = url, token
	block, err := f.block, f.joinErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeNative) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
}

func (f *fakeNative) Name() string { return f.name }

func (f *fakeNative) LocalParticipant() (ParticipantInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local, f.local.Identity != ""
}

func (f *fakeNative) RemoteParticipants() []ParticipantInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.remotes)
}

func (f *fakeNative) SetMediaEnabled(_ context.Context, kind domain.TrackKind, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tracks := slices.Clone(f.local.Tracks)
	for i := range tracks {
		if tracks[i].Kind == kind {
			tracks[i].Muted = !enabled
			f.local.Tracks = tracks
			return nil
		}
	}
	if enabled {
		f.local.Tracks = append(tracks, TrackInfo{SID: "TR_local_" + string(kind), Kind: kind})
	}
	return nil
}

func (f *fakeNative) OnEvent(fn func(NativeEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeNative) fire(ev NativeEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

func (f *fakeNative) setRemotes(infos ...ParticipantInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes = infos
}

func (f *fakeNative) disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

type nativeFactory struct {
	mu      sync.Mutex
	rooms   []*fakeNative
	joinErr error
	block   bool
	remotes []ParticipantInfo
}

func (nf *nativeFactory) New(cfg Config) NativeRoom {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	f := &fakeNative{
		cfg:     cfg,
		joinErr: nf.joinErr,
		block:   nf.block,
		name:    "therapy-42",
		local:   ParticipantInfo{Identity: "me", Name: "Me"},
		remotes: slices.Clone(nf.remotes),
	}
	nf.rooms = append(nf.rooms, f)
	return f
}

func (nf *nativeFactory) setBlock(block bool) {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	nf.block = block
}

func (nf *nativeFactory) len() int {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	return len(nf.rooms)
}

func (nf *nativeFactory) last() *fakeNative {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	return nf.rooms[len(nf.rooms)-1]
}

func newTestRoom(t *testing.T, remotes ...ParticipantInfo) (core.Room, *nativeFactory) {
	t.Helper()
	nf := &nativeFactory{remotes: remotes}
	return NewProvider(DefaultConfig(), WithNativeFactory(nf.New)).NewRoom(), nf
}

func countEvents(room core.Room, t core.EventType) func() int {
	var mu sync.Mutex
	n := 0
	room.On(t, func(core.Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
}

var joinOpts = domain.JoinOptions{URL: "wss://media.example.com"}

func TestNewRoomStartsDisconnected(t *testing.T) {
	p := NewProvider(DefaultConfig())
	room := p.NewRoom()

	assert.Equal(t, domain.ProviderLiveKit, p.Name())
	assert.Equal(t, domain.ProviderLiveKit, room.Provider())
	assert.Equal(t, domain.StateDisconnected, room.State())
	assert.Nil(t, room.LocalParticipant())
}

func TestJoinWithoutURL(t *testing.T) {
	room, nf := newTestRoom(t)
	errCount := countEvents(room, core.EventError)

	err := room.Join(context.Background(), "tok", domain.JoinOptions{})

	assert.ErrorIs(t, err, domain.ErrMissingRoomURL)
	assert.Equal(t, domain.StateError, room.State())
	assert.Equal(t, 1, errCount())
	assert.Empty(t, nf.rooms)
}

func TestJoinMapsRosterAndMetadata(t *testing.T) {
	room, nf := newTestRoom(t,
		ParticipantInfo{Identity: "coach", Name: "Coach", Metadata: `{"role":"provider"}`,
			Tracks: []TrackInfo{{SID: "TR_a", Kind: domain.TrackKindAudio}, {SID: "TR_v", Kind: domain.TrackKindVideo, Muted: true}}},
		ParticipantInfo{Identity: "broken", Metadata: `{"role":`},
	)
	connected := countEvents(room, core.EventConnected)

	require.NoError(t, room.Join(context.Background(), "tok", joinOpts))

	native := nf.last()
	assert.Equal(t, "wss://media.example.com", native.joinedURL)
	assert.Equal(t, "tok", native.joinedToken)
	assert.True(t, native.cfg.AutoSubscribe)

	assert.Equal(t, domain.StateConnected, room.State())
	assert.Equal(t, domain.RoomName("therapy-42"), room.Name())
	assert.Equal(t, 1, connected())

	local := room.LocalParticipant()
	require.NotNil(t, local)
	assert.True(t, local.IsLocal)
	assert.Nil(t, local.AudioTrack)

	remotes := room.RemoteParticipants()
	require.Len(t, remotes, 2)
	broken, coach := remotes[0], remotes[1]
	assert.Equal(t, domain.DefaultDisplayName, broken.Name)
	assert.Nil(t, broken.Metadata)
	assert.Equal(t, map[string]any{"role": "provider"}, coach.Metadata)
	assert.True(t, coach.HasAudio)
	assert.False(t, coach.HasVideo)
	assert.True(t, coach.VideoTrack.IsMuted)
}

func TestJoinFailure(t *testing.T) {
	room, nf := newTestRoom(t)
	nf.joinErr = errors.New("could not establish signal connection")

	err := room.Join(context.Background(), "expired", joinOpts)

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ProviderLiveKit, derr.Provider)
	assert.Equal(t, domain.StateError, room.State())
	assert.Equal(t, err, room.Err())
	assert.Equal(t, 1, nf.last().disconnects())
}

func TestLocalTracksAppearAfterPublish(t *testing.T) {
	room, _ := newTestRoom(t)
	ctx := context.Background()

	require.NoError(t, room.SetMicrophoneEnabled(ctx, true))

	require.NoError(t, room.Join(ctx, "tok", joinOpts))
	assert.Nil(t, room.LocalParticipant().AudioTrack)

	require.NoError(t, room.SetMicrophoneEnabled(ctx, true))
	local := room.LocalParticipant()
	require.NotNil(t, local.AudioTrack)
	assert.True(t, local.HasAudio)

	require.NoError(t, room.SetMicrophoneEnabled(ctx, false))
	local = room.LocalParticipant()
	require.NotNil(t, local.AudioTrack)
	assert.False(t, local.AudioTrack.IsEnabled)
	assert.False(t, local.HasAudio)

	require.NoError(t, room.SetCameraEnabled(ctx, true))
	assert.True(t, room.LocalParticipant().HasVideo)
}

func TestLeaveTwice(t *testing.T) {
	room, nf := newTestRoom(t, ParticipantInfo{Identity: "coach"})
	disconnected := countEvents(room, core.EventDisconnected)
	ctx := context.Background()

	require.NoError(t, room.Join(ctx, "tok", joinOpts))
	require.NoError(t, room.Leave(ctx))
	require.NoError(t, room.Leave(ctx))

	assert.Equal(t, 1, disconnected())
	assert.Equal(t, 1, nf.last().disconnects())
	assert.Empty(t, room.RemoteParticipants())
	assert.Nil(t, room.LocalParticipant())
	assert.Equal(t, domain.StateDisconnected, room.State())
}

func TestParticipantEventsRebuildRoster(t *testing.T) {
	room, nf := newTestRoom(t)
	joined := countEvents(room, core.EventParticipantConnected)
	left := countEvents(room, core.EventParticipantDisconnected)
	require.NoError(t, room.Join(context.Background(), "tok", joinOpts))
	native := nf.last()

	native.setRemotes(ParticipantInfo{Identity: "p1"})
	native.fire(NativeEvent{Type: NativeParticipantJoined, Participant: "p1"})
	assert.Equal(t, 1, joined())
	require.Len(t, room.RemoteParticipants(), 1)
	assert.Equal(t, domain.DefaultDisplayName, room.RemoteParticipants()[0].Name)

	before := room.RemoteParticipants()
	native.fire(NativeEvent{Type: NativeMetadataChanged, Participant: "p1"})
	assert.Equal(t, before, room.RemoteParticipants())
	assert.Equal(t, 1, joined())

	native.setRemotes()
	native.fire(NativeEvent{Type: NativeParticipantLeft, Participant: "p1"})
	assert.Equal(t, 1, left())
	assert.Empty(t, room.RemoteParticipants())
}

func TestTrackSubscribedEvent(t *testing.T) {
	room, nf := newTestRoom(t)
	var got core.Event
	room.On(core.EventTrackSubscribed, func(ev core.Event) { got = ev })
	require.NoError(t, room.Join(context.Background(), "tok", joinOpts))
	native := nf.last()

	track := TrackInfo{SID: "TR_x", Kind: domain.TrackKindVideo}
	native.setRemotes(ParticipantInfo{Identity: "p1", Name: "Pat", Tracks: []TrackInfo{track}})
	native.fire(NativeEvent{Type: NativeTrackSubscribed, Participant: "p1", Track: &track})

	require.NotNil(t, got.Track)
	assert.Equal(t, "TR_x", got.Track.ID)
	assert.True(t, got.Track.IsEnabled)
	require.NotNil(t, got.Participant)
	assert.Equal(t, "Pat", got.Participant.Name)
	assert.True(t, got.Participant.HasVideo)
}

func TestReconnectingStates(t *testing.T) {
	room, nf := newTestRoom(t)
	require.NoError(t, room.Join(context.Background(), "tok", joinOpts))
	native := nf.last()

	native.fire(NativeEvent{Type: NativeReconnecting})
	assert.Equal(t, domain.StateReconnecting, room.State())

	native.fire(NativeEvent{Type: NativeReconnected})
	assert.Equal(t, domain.StateConnected, room.State())
}

func TestServerDisconnectLeavesRoom(t *testing.T) {
	room, nf := newTestRoom(t)
	disconnected := countEvents(room, core.EventDisconnected)
	require.NoError(t, room.Join(context.Background(), "tok", joinOpts))

	nf.last().fire(NativeEvent{Type: NativeDisconnected})

	assert.Eventually(t, func() bool { return disconnected() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StateDisconnected, room.State())
	assert.Equal(t, 1, nf.last().disconnects())
}

func TestLeaveSupersedesPendingJoin(t *testing.T) {
	room, nf := newTestRoom(t)
	nf.setBlock(true)
	errCount := countEvents(room, core.EventError)
	disconnects := countEvents(room, core.EventDisconnected)

	joined := make(chan error, 1)
	go func() { joined <- room.Join(context.Background(), "tok", joinOpts) }()
	require.Eventually(t, func() bool {
		return nf.len() == 1 && room.State() == domain.StateConnecting
	}, time.Second, time.Millisecond)

	left := make(chan error, 1)
	go func() { left <- room.Leave(context.Background()) }()
	select {
	case err := <-left:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Leave waited on the pending Join")
	}

	assert.ErrorIs(t, <-joined, domain.ErrJoinSuperseded)
	assert.Equal(t, domain.StateDisconnected, room.State())
	assert.Equal(t, 1, nf.last().disconnects())
	assert.Equal(t, 1, disconnects())
	assert.Zero(t, errCount())
}

func TestJoinSupersedesPendingJoin(t *testing.T) {
	room, nf := newTestRoom(t)
	nf.setBlock(true)
	connects := countEvents(room, core.EventConnected)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- room.Join(ctx, "tok-1", joinOpts) }()
	require.Eventually(t, func() bool { return nf.len() == 1 }, time.Second, time.Millisecond)

	nf.setBlock(false)
	require.NoError(t, room.Join(ctx, "tok-2", joinOpts))

	assert.ErrorIs(t, <-first, domain.ErrJoinSuperseded)
	assert.Equal(t, domain.StateConnected, room.State())
	assert.Equal(t, 1, connects())
	assert.Equal(t, "tok-2", nf.last().joinedToken)
}
