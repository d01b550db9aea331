package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/core/coremock"
	"github.com/dkeye/videoroom/internal/domain"
)

// fakeRoom follows the Room state machine without any SDK behind it.
type fakeRoom struct {
	core.Emitter
	provider domain.ProviderName
	joinErr  error
	block    bool
	// gate, when set, holds Join in the connecting state until closed.
	gate  chan struct{}
	trace func(string)

	mu         sync.Mutex
	state      domain.RoomState
	err        error
	lastOpts   domain.JoinOptions
	cancelJoin context.CancelFunc
}

var _ core.Room = (*fakeRoom)(nil)

func newFakeRoom(provider domain.ProviderName, trace func(string)) *fakeRoom {
	if trace == nil {
		trace = func(string) {}
	}
	return &fakeRoom{provider: provider, trace: trace, state: domain.StateDisconnected}
}

func (f *fakeRoom) Provider() domain.ProviderName { return f.provider }
func (f *fakeRoom) Name() domain.RoomName { return "fake" }

func (f *fakeRoom) State() domain.RoomState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRoom) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeRoom) Join(ctx context.Context, _ string, opts domain.JoinOptions) error {
	if f.State().IsActive() {
		_ = f.Leave(ctx)
	}

	f.trace(string(f.provider) + ":join")
	joinCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.mu.Lock()
	f.state = domain.StateConnecting
	f.lastOpts = opts
	f.cancelJoin = cancel
	f.mu.Unlock()

	var cause error
	switch {
	case f.block:
		<-joinCtx.Done()
		cause = joinCtx.Err()
	case f.gate != nil:
		select {
		case <-f.gate:
		case <-joinCtx.Done():
			cause = joinCtx.Err()
		}
	case f.joinErr != nil:
		cause = f.joinErr
	}
	if cause != nil && ctx.Err() == nil && joinCtx.Err() != nil {
		return domain.NewError(f.provider, "join", domain.ErrJoinSuperseded)
	}
	if cause != nil {
		err := domain.NewError(f.provider, "join", cause)
		f.mu.Lock()
		f.state, f.err = domain.StateError, err
		f.mu.Unlock()
		f.Emit(core.Event{Type: core.EventError, Err: err})
		return err
	}

	f.mu.Lock()
	f.state = domain.StateConnected
	f.mu.Unlock()
	f.Emit(core.Event{Type: core.EventConnected})
	return nil
}

func (f *fakeRoom) Leave(context.Context) error {
	f.mu.Lock()
	if f.cancelJoin != nil {
		f.cancelJoin()
		f.cancelJoin = nil
	}
	if f.state == domain.StateDisconnected {
		f.mu.Unlock()
		return nil
	}
	f.state, f.err = domain.StateDisconnected, nil
	f.mu.Unlock()
	f.trace(string(f.provider) + ":disconnected")
	f.Emit(core.Event{Type: core.EventDisconnected})
	return nil
}

func (f *fakeRoom) SetMicrophoneEnabled(context.Context, bool) error { return nil }
func (f *fakeRoom) SetCameraEnabled(context.Context, bool) error { return nil }
func (f *fakeRoom) LocalParticipant() *domain.Participant {
	if f.State() != domain.StateConnected {
		return nil
	}
	p := domain.NewParticipant("me", "", true, nil, nil)
	return &p
}
func (f *fakeRoom) RemoteParticipants() []domain.Participant { return nil }

func mockProvider(ctrl *gomock.Controller, room *fakeRoom) *coremock.MockProvider {
	p := coremock.NewMockProvider(ctrl)
	p.EXPECT().Name().Return(room.provider).AnyTimes()
	p.EXPECT().NewRoom().Return(room).Times(1)
	return p
}

func TestConnectWithoutProvider(t *testing.T) {
	c := NewSessionController(nil, ControllerOptions{})
	var got error
	c.Subscribe(func(ev core.Event) { got = ev.Err })

	err := c.Connect(context.Background(), "tok", domain.JoinOptions{URL: "ws://x"})

	assert.ErrorIs(t, err, domain.ErrNoRoom)
	assert.ErrorIs(t, c.Err(), domain.ErrNoRoom)
	assert.ErrorIs(t, got, domain.ErrNoRoom)
	assert.False(t, c.IsConnecting())
	assert.Equal(t, domain.StateDisconnected, c.Snapshot().State)
	assert.NoError(t, c.Disconnect(context.Background()))
	assert.ErrorIs(t, c.SetMicrophoneEnabled(context.Background(), true), domain.ErrNoRoom)
}

func TestConnectAndDisconnect(t *testing.T) {
	ctrl := gomock.NewController(t)
	room := newFakeRoom(domain.ProviderWebRTC, nil)
	c := NewSessionController(mockProvider(ctrl, room), ControllerOptions{DisplayName: "Dana"})
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "tok", domain.JoinOptions{URL: "ws://x"}))
	assert.True(t, c.IsConnected())
	assert.False(t, c.IsConnecting())
	assert.Equal(t, "Dana", room.lastOpts.Name)

	snap := c.Snapshot()
	assert.Equal(t, domain.ProviderWebRTC, snap.Provider)
	assert.Equal(t, domain.StateConnected, snap.State)
	require.NotNil(t, snap.Local)
	assert.NotNil(t, snap.Remotes)

	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Disconnect(ctx))
	assert.False(t, c.IsConnected())
	assert.Equal(t, domain.StateDisconnected, c.Snapshot().State)
}

func TestConnectFailureConvergesOnOneError(t *testing.T) {
	ctrl := gomock.NewController(t)
	room := newFakeRoom(domain.ProviderLiveKit, nil)
	room.joinErr = errors.New("invalid token")
	c := NewSessionController(mockProvider(ctrl, room), ControllerOptions{})

	var events []error
	c.Subscribe(func(ev core.Event) {
		if ev.Type == core.EventError {
			events = append(events, ev.Err)
		}
	})

	err := c.Connect(context.Background(), "bad", domain.JoinOptions{URL: "wss://x"})

	require.Error(t, err)
	require.Len(t, events, 1)
	assert.Same(t, events[0], err)
	assert.Same(t, err, c.Err())
	assert.False(t, c.IsConnected())
	assert.False(t, c.IsConnecting())
	assert.Equal(t, "livekit join: invalid token", c.Snapshot().Error)
}

func TestConnectTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	room := newFakeRoom(domain.ProviderWebRTC, nil)
	room.block = true
	c := NewSessionController(mockProvider(ctrl, room), ControllerOptions{JoinTimeout: 20 * time.Millisecond})

	err := c.Connect(context.Background(), "tok", domain.JoinOptions{URL: "ws://x"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StateError, c.Snapshot().State)
	assert.False(t, c.IsConnecting())
}

func TestSwapProviderLeavesOldRoomFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	var trace []string
	rec := func(s string) { trace = append(trace, s) }

	oldRoom := newFakeRoom(domain.ProviderWebRTC, rec)
	newRoom := newFakeRoom(domain.ProviderLiveKit, rec)
	c := NewSessionController(mockProvider(ctrl, oldRoom), ControllerOptions{})

	var seen []core.EventType
	c.Subscribe(func(ev core.Event) { seen = append(seen, ev.Type) })

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "tok", domain.JoinOptions{URL: "ws://x"}))
	require.NoError(t, c.SetProvider(ctx, mockProvider(ctrl, newRoom)))
	require.NoError(t, c.Connect(ctx, "tok", domain.JoinOptions{URL: "wss://y"}))

	assert.Equal(t, []string{"webrtc:join", "webrtc:disconnected", "livekit:join"}, trace)
	assert.Equal(t, []core.EventType{core.EventConnected, core.EventDisconnected, core.EventConnected}, seen)
	assert.Zero(t, oldRoom.Count(core.EventConnected), "old room listeners are detached")
	assert.Equal(t, 1, newRoom.Count(core.EventConnected))
	assert.Equal(t, domain.ProviderLiveKit, c.Snapshot().Provider)
	assert.True(t, c.IsConnected())

	oldRoom.Emit(core.Event{Type: core.EventError, Err: errors.New("stale")})
	assert.NoError(t, c.Err())
}

func TestSubscribeCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	room := newFakeRoom(domain.ProviderWebRTC, nil)
	c := NewSessionController(mockProvider(ctrl, room), ControllerOptions{})

	n := 0
	cancel := c.Subscribe(func(core.Event) { n++ })
	cancel()
	cancel()

	require.NoError(t, c.Connect(context.Background(), "tok", domain.JoinOptions{URL: "ws://x"}))
	assert.Zero(t, n)
}

func TestDisconnectSupersedesPendingConnect(t *testing.T) {
	ctrl := gomock.NewController(t)
	room := newFakeRoom(domain.ProviderWebRTC, nil)
	room.block = true
	c := NewSessionController(mockProvider(ctrl, room), ControllerOptions{})

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background(), "tok", domain.JoinOptions{URL: "ws://x"}) }()
	require.Eventually(t, func() bool { return room.State() == domain.StateConnecting }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- c.Disconnect(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect waited on the pending Connect")
	}

	select {
	case err := <-result:
		assert.ErrorIs(t, err, domain.ErrJoinSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
	snap := c.Snapshot()
	assert.Equal(t, domain.StateDisconnected, snap.State)
	assert.False(t, snap.IsConnecting)
	assert.False(t, snap.IsConnected)
	assert.Empty(t, snap.Error)
}

func TestSwapProviderSupersedesPendingConnect(t *testing.T) {
	ctrl := gomock.NewController(t)
	oldRoom := newFakeRoom(domain.ProviderWebRTC, nil)
	oldRoom.block = true
	newRoom := newFakeRoom(domain.ProviderLiveKit, nil)
	c := NewSessionController(mockProvider(ctrl, oldRoom), ControllerOptions{})

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background(), "tok", domain.JoinOptions{URL: "ws://x"}) }()
	require.Eventually(t, func() bool { return oldRoom.State() == domain.StateConnecting }, time.Second, time.Millisecond)

	require.NoError(t, c.SetProvider(context.Background(), mockProvider(ctrl, newRoom)))
	assert.ErrorIs(t, <-result, domain.ErrJoinSuperseded)
	assert.Equal(t, domain.StateDisconnected, oldRoom.State())

	snap := c.Snapshot()
	assert.Equal(t, domain.ProviderLiveKit, snap.Provider)
	assert.False(t, snap.IsConnecting)
	assert.Empty(t, snap.Error)
}

func TestRejoinKeepsConnectingWhileBusyRoomLeaves(t *testing.T) {
	ctrl := gomock.NewController(t)
	room := newFakeRoom(domain.ProviderWebRTC, nil)
	c := NewSessionController(mockProvider(ctrl, room), ControllerOptions{})
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "tok", domain.JoinOptions{URL: "ws://x"}))

	var mu sync.Mutex
	var connectingOnLeave []bool
	c.Subscribe(func(ev core.Event) {
		if ev.Type == core.EventDisconnected {
			mu.Lock()
			connectingOnLeave = append(connectingOnLeave, c.IsConnecting())
			mu.Unlock()
		}
	})

	room.gate = make(chan struct{})
	result := make(chan error, 1)
	go func() { result <- c.Connect(ctx, "tok", domain.JoinOptions{URL: "ws://y"}) }()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(connectingOnLeave) == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return room.State() == domain.StateConnecting }, time.Second, time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, domain.StateConnecting, snap.State)
	assert.True(t, snap.IsConnecting)
	mu.Lock()
	assert.Equal(t, []bool{true}, connectingOnLeave)
	mu.Unlock()

	close(room.gate)
	require.NoError(t, <-result)
	assert.True(t, c.IsConnected())
	assert.False(t, c.IsConnecting())
}
