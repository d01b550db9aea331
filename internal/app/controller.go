package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

type ControllerOptions struct {
	// JoinTimeout bounds Room.Join. Zero leaves the join unbounded.
	JoinTimeout time.Duration
	// DisplayName is used when Connect is called without a name.
	DisplayName string
}

// Snapshot is the read model the UI layer renders from.
type Snapshot struct {
	Provider     domain.ProviderName  `json:"provider,omitempty"`
	Room         domain.RoomName      `json:"room,omitempty"`
	State        domain.RoomState     `json:"state"`
	IsConnected  bool                 `json:"is_connected"`
	IsConnecting bool                 `json:"is_connecting"`
	Error        string               `json:"error,omitempty"`
	Local        *domain.Participant  `json:"local,omitempty"`
	Remotes      []domain.Participant `json:"remotes"`
}

// SessionController owns the active provider and the single Room it produced.
// Room events are mirrored into the controller flags and re-emitted to subscribers,
// whose registrations survive provider swaps.
type SessionController struct {
	opts ControllerOptions
	subs core.Emitter

	// opMu serialises provider swaps with the operations that drive the room.
	opMu sync.Mutex

	mu         sync.RWMutex
	provider   core.Provider
	room       core.Room
	listeners  []*core.Listener
	connected  bool
	connecting bool
	err        error
	// joining is the room of the Connect identified by joinSeq, nil when none is in progress.
	joining core.Room
	joinSeq uint64
}

func NewSessionController(p core.Provider, opts ControllerOptions) *SessionController {
	c := &SessionController{opts: opts}
	c.install(p)
	return c
}

// SetProvider leaves the current room, if any, before the new provider's room is installed.
func (c *SessionController) SetProvider(ctx context.Context, p core.Provider) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	old := c.room
	c.mu.RUnlock()

	var leaveErr error
	if old != nil {
		if old.State() != domain.StateDisconnected {
			leaveErr = old.Leave(ctx)
		}
		c.detach()
	}
	c.install(p)

	name := domain.ProviderName("")
	if p != nil {
		name = p.Name()
	}
	log.Info().Str("module", "app.controller").Str("provider", string(name)).Msg("provider installed")
	return leaveErr
}

func (c *SessionController) install(p core.Provider) {
	var room core.Room
	if p != nil {
		room = p.NewRoom()
	}

	c.mu.Lock()
	c.provider = p
	c.room = room
	c.connected, c.connecting, c.err = false, false, nil
	c.mu.Unlock()

	if room == nil {
		return
	}
	listeners := make([]*core.Listener, 0, len(core.EventTypes))
	for _, t := range core.EventTypes {
		listeners = append(listeners, room.On(t, func(ev core.Event) { c.onRoomEvent(room, ev) }))
	}
	c.mu.Lock()
	c.listeners = listeners
	c.mu.Unlock()
}

func (c *SessionController) detach() {
	c.mu.Lock()
	room, listeners := c.room, c.listeners
	c.room, c.listeners = nil, nil
	c.mu.Unlock()

	for _, l := range listeners {
		room.Off(l)
	}
}

func (c *SessionController) onRoomEvent(room core.Room, ev core.Event) {
	c.mu.Lock()
	if c.room != room {
		c.mu.Unlock()
		return
	}
	switch ev.Type {
	case core.EventConnected:
		c.connected, c.connecting, c.err = true, false, nil
	case core.EventDisconnected:
		c.connected = false
		// A join on a busy room leaves it first; that Connect is still in progress.
		if c.joining != room {
			c.connecting = false
		}
	case core.EventError:
		c.connected, c.connecting, c.err = false, false, ev.Err
	}
	c.mu.Unlock()

	c.subs.Emit(ev)
}

// Connect joins the current room. Failures are recorded in the controller
// state and returned; they are also delivered to subscribers as an error event.
// The join runs outside opMu so Disconnect and SetProvider can supersede it.
func (c *SessionController) Connect(ctx context.Context, token string, opts domain.JoinOptions) error {
	c.opMu.Lock()
	c.mu.Lock()
	room := c.room
	if room == nil {
		c.err = domain.ErrNoRoom
		c.connected, c.connecting = false, false
		c.mu.Unlock()
		c.opMu.Unlock()
		log.Warn().Str("module", "app.controller").Msg("connect without a provider")
		c.subs.Emit(core.Event{Type: core.EventError, Err: domain.ErrNoRoom})
		return domain.ErrNoRoom
	}
	c.joinSeq++
	seq := c.joinSeq
	c.joining = room
	c.connecting, c.err = true, nil
	c.mu.Unlock()
	c.opMu.Unlock()

	if opts.Name == "" {
		opts.Name = c.opts.DisplayName
	}
	joinCtx := ctx
	if c.opts.JoinTimeout > 0 {
		var cancel context.CancelFunc
		joinCtx, cancel = context.WithTimeout(ctx, c.opts.JoinTimeout)
		defer cancel()
	}

	err := room.Join(joinCtx, token, opts)
	superseded := errors.Is(err, domain.ErrJoinSuperseded)
	switch {
	case superseded:
		log.Info().Str("module", "app.controller").Msg("join superseded")
	case err != nil && errors.Is(err, context.DeadlineExceeded) && c.opts.JoinTimeout > 0:
		log.Warn().Str("module", "app.controller").Dur("timeout", c.opts.JoinTimeout).Msg("join timed out")
	}

	c.mu.Lock()
	if c.joinSeq == seq {
		c.joining = nil
		if c.room == room {
			c.connecting = false
			switch {
			case superseded:
			case err != nil:
				c.connected = false
				c.err = err
			default:
				c.connected = room.State() == domain.StateConnected
			}
		}
	}
	c.mu.Unlock()

	return err
}

// Disconnect leaves the current room. It is safe to call when not connected.
func (c *SessionController) Disconnect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	room := c.room
	c.mu.RUnlock()
	if room == nil {
		return nil
	}
	return room.Leave(ctx)
}

func (c *SessionController) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return c.withRoom(func(room core.Room) error { return room.SetMicrophoneEnabled(ctx, enabled) })
}

func (c *SessionController) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return c.withRoom(func(room core.Room) error { return room.SetCameraEnabled(ctx, enabled) })
}

func (c *SessionController) withRoom(fn func(core.Room) error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	room := c.room
	c.mu.RUnlock()
	if room == nil {
		return domain.ErrNoRoom
	}
	return fn(room)
}

// Close leaves the room and detaches from it. The controller keeps its provider.
func (c *SessionController) Close(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	room := c.room
	c.mu.RUnlock()
	if room == nil {
		return nil
	}
	err := room.Leave(ctx)
	c.detach()
	return err
}

func (c *SessionController) Provider() core.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider
}

func (c *SessionController) Room() core.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *SessionController) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *SessionController) IsConnecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connecting
}

func (c *SessionController) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *SessionController) Snapshot() Snapshot {
	c.mu.RLock()
	p, room := c.provider, c.room
	s := Snapshot{
		State:        domain.StateDisconnected,
		IsConnected:  c.connected,
		IsConnecting: c.connecting,
		Remotes:      []domain.Participant{},
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	c.mu.RUnlock()

	if p != nil {
		s.Provider = p.Name()
	}
	if room != nil {
		s.State = room.State()
		s.Room = room.Name()
		s.Local = room.LocalParticipant()
		if remotes := room.RemoteParticipants(); remotes != nil {
			s.Remotes = remotes
		}
	}
	return s
}

// Subscribers reports how many Subscribe registrations are live.
func (c *SessionController) Subscribers() int {
	return c.subs.Count(core.EventConnected)
}

// Subscribe registers h for every room event. The returned func unsubscribes.
func (c *SessionController) Subscribe(h core.Handler) (cancel func()) {
	listeners := make([]*core.Listener, 0, len(core.EventTypes))
	for _, t := range core.EventTypes {
		listeners = append(listeners, c.subs.On(t, h))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, l := range listeners {
				c.subs.Off(l)
			}
		})
	}
}
