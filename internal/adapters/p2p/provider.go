package p2p

import (
	"time"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

type Config struct {
	ICEServers  []string
	PingPeriod  time.Duration
	DisplayName string
}

type Option func(*Provider)

// WithCallFactory replaces the websocket call object, mainly for tests.
func WithCallFactory(f CallFactory) Option {
	return func(p *Provider) { p.newCall = f }
}

// Provider manufactures peer-to-peer Rooms.
type Provider struct {
	cfg     Config
	newCall CallFactory
}

var _ core.Provider = (*Provider)(nil)

func NewProvider(cfg Config, opts ...Option) *Provider {
	p := &Provider{cfg: cfg, newCall: NewCall}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Name() domain.ProviderName { return domain.ProviderWebRTC }

func (p *Provider) NewRoom() core.Room {
	return newRoom(p.cfg, p.newCall)
}
