package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

type staticProvider struct{ room *fakeRoom }

func (p staticProvider) Name() domain.ProviderName { return p.room.provider }
func (p staticProvider) NewRoom() core.Room { return p.room }

func TestRegistryGetOrCreateIsStable(t *testing.T) {
	created := 0
	reg := NewRegistry(func(ClientID) *SessionController {
		created++
		return NewSessionController(nil, ControllerOptions{})
	})

	a := reg.GetOrCreate("c1")
	b := reg.GetOrCreate("c1")
	reg.GetOrCreate("c2")

	assert.Same(t, a, b)
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, reg.Len())

	got, ok := reg.Get("c1")
	assert.True(t, ok)
	assert.Same(t, a, got)
	_, ok = reg.Get("nobody")
	assert.False(t, ok)
}

func TestRegistryRemoveLeavesRoom(t *testing.T) {
	room := newFakeRoom(domain.ProviderWebRTC, nil)
	reg := NewRegistry(func(ClientID) *SessionController {
		return NewSessionController(staticProvider{room: room}, ControllerOptions{})
	})
	ctx := context.Background()

	c := reg.GetOrCreate("c1")
	require.NoError(t, c.Connect(ctx, "tok", domain.JoinOptions{URL: "ws://x"}))

	assert.True(t, reg.Remove(ctx, "c1"))
	assert.False(t, reg.Remove(ctx, "c1"))
	assert.Equal(t, domain.StateDisconnected, room.State())
	assert.Zero(t, reg.Len())
}

func TestRegistryCloseAll(t *testing.T) {
	rooms := []*fakeRoom{newFakeRoom(domain.ProviderWebRTC, nil), newFakeRoom(domain.ProviderWebRTC, nil)}
	i := 0
	reg := NewRegistry(func(ClientID) *SessionController {
		r := rooms[i]
		i++
		return NewSessionController(staticProvider{room: r}, ControllerOptions{})
	})
	ctx := context.Background()
	require.NoError(t, reg.GetOrCreate("a").Connect(ctx, "t", domain.JoinOptions{URL: "ws://x"}))
	require.NoError(t, reg.GetOrCreate("b").Connect(ctx, "t", domain.JoinOptions{URL: "ws://x"}))

	reg.CloseAll(ctx)

	for _, r := range rooms {
		assert.Equal(t, domain.StateDisconnected, r.State())
	}
	assert.Zero(t, reg.Len())
}

func TestRegistryReapsIdleClients(t *testing.T) {
	rooms := map[ClientID]*fakeRoom{}
	limiter := NewConnectRateLimiter(1, time.Hour)
	reg := NewRegistry(func(id ClientID) *SessionController {
		r := newFakeRoom(domain.ProviderWebRTC, nil)
		rooms[id] = r
		return NewSessionController(staticProvider{room: r}, ControllerOptions{})
	}, WithOnRemove(limiter.Forget))
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, reg.GetOrCreate("idle").Connect(ctx, "t", domain.JoinOptions{URL: "ws://x"}))
	require.True(t, limiter.Allow("idle"))
	watching := reg.GetOrCreate("watching")
	unsubscribe := watching.Subscribe(func(core.Event) {})
	assert.Equal(t, 1, watching.Subscribers())

	now = now.Add(9 * time.Minute)
	reg.GetOrCreate("recent")
	assert.Zero(t, reg.Reap(ctx, 10*time.Minute))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Reap(ctx, 10*time.Minute))
	assert.Equal(t, domain.StateDisconnected, rooms["idle"].State())
	_, ok := reg.Get("idle")
	assert.False(t, ok)
	assert.True(t, limiter.Allow("idle"), "limiter history is dropped with the controller")
	assert.Equal(t, 2, reg.Len())

	unsubscribe()
	assert.Zero(t, watching.Subscribers())
	reg.Touch("watching")
	now = now.Add(5 * time.Minute)
	assert.Zero(t, reg.Reap(ctx, 10*time.Minute))

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 2, reg.Reap(ctx, 10*time.Minute))
	assert.Zero(t, reg.Len())
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	reg := NewRegistry(func(ClientID) *SessionController {
		return NewSessionController(nil, ControllerOptions{})
	})
	reg.GetOrCreate("c1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, time.Nanosecond, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConnectRateLimiter(t *testing.T) {
	rl := NewConnectRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("c"))
	assert.True(t, rl.Allow("c"))
	assert.False(t, rl.Allow("c"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("c"))

	rl.Forget("c")
	assert.True(t, rl.Allow("c"))

	assert.True(t, NewConnectRateLimiter(0, time.Minute).Allow("c"))
}

func TestSimplePolicy(t *testing.T) {
	p := SimplePolicy{MaxDropped: 3}
	assert.Equal(t, DropEvent, p.OnBackPressure("c", 1))
	assert.Equal(t, CloseStream, p.OnBackPressure("c", 3))
	assert.Equal(t, DropEvent, SimplePolicy{}.OnBackPressure("c", 100))
}
