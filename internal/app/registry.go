package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientID identifies one browser client (the session cookie token).
type ClientID string

// ControllerFactory builds the controller for a client seen for the first time.
type ControllerFactory func(id ClientID) *SessionController

type RegistryOption func(*Registry)

// WithOnRemove registers fn to run after a client's controller is removed.
func WithOnRemove(fn func(ClientID)) RegistryOption {
	return func(r *Registry) { r.onRemove = fn }
}

type entry struct {
	ctrl     *SessionController
	lastSeen time.Time
}

// Registry keeps one SessionController per client. Clients without an event
// stream that stay idle past the TTL are reaped and their rooms left.
type Registry struct {
	mu       sync.Mutex
	entries  map[ClientID]*entry
	newCtrl  ControllerFactory
	onRemove func(ClientID)
	now      func() time.Time
}

func NewRegistry(newCtrl ControllerFactory, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[ClientID]*entry),
		newCtrl: newCtrl,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the client's controller without creating one.
func (r *Registry) Get(id ClientID) (*SessionController, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.ctrl, true
}

func (r *Registry) GetOrCreate(id ClientID) *SessionController {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.lastSeen = r.now()
		return e.ctrl
	}
	c := r.newCtrl(id)
	r.entries[id] = &entry{ctrl: c, lastSeen: r.now()}
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("created controller")
	return c
}

// Touch marks the client as active now.
func (r *Registry) Touch(id ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.lastSeen = r.now()
	}
}

// Remove leaves the client's room and forgets the controller.
func (r *Registry) Remove(ctx context.Context, id ClientID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.release(ctx, id, e.ctrl)
	return true
}

// Reap removes every controller that has no subscribers and was last seen
// at least ttl ago. It returns the number removed.
func (r *Registry) Reap(ctx context.Context, ttl time.Duration) int {
	now := r.now()
	idle := make(map[ClientID]*SessionController)

	r.mu.Lock()
	for id, e := range r.entries {
		if e.ctrl.Subscribers() == 0 && now.Sub(e.lastSeen) >= ttl {
			idle[id] = e.ctrl
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for id, c := range idle {
		r.release(ctx, id, c)
	}
	if len(idle) > 0 {
		log.Info().Str("module", "app.registry").Int("reaped", len(idle)).Msg("idle controllers removed")
	}
	return len(idle)
}

// Run reaps idle controllers every interval until ctx is done. A ttl <= 0 disables reaping.
func (r *Registry) Run(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(ctx, ttl)
		}
	}
}

func (r *Registry) release(ctx context.Context, id ClientID, c *SessionController) {
	if err := c.Close(ctx); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("client", string(id)).Msg("close controller")
	}
	if r.onRemove != nil {
		r.onRemove(id)
	}
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("removed controller")
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll leaves every room. Used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := r.entries
	r.entries = make(map[ClientID]*entry)
	r.mu.Unlock()

	for id, e := range all {
		if err := e.ctrl.Close(ctx); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("client", string(id)).Msg("close controller")
		}
	}
}
