package livekit

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

// Config holds the SDK room options. AdaptiveStream and Dynacast are kept
// for parity with browser clients; the Go SDK subscribes at full quality.
type Config struct {
	AutoSubscribe  bool
	AdaptiveStream bool
	Dynacast       bool
}

func DefaultConfig() Config {
	return Config{AutoSubscribe: true, AdaptiveStream: true, Dynacast: true}
}

type Option func(*Provider)

// WithNativeFactory replaces the SDK binding, mainly for tests.
func WithNativeFactory(f NativeFactory) Option {
	return func(p *Provider) { p.newNative = f }
}

type Provider struct {
	cfg       Config
	newNative NativeFactory
}

var _ core.Provider = (*Provider)(nil)

func NewProvider(cfg Config, opts ...Option) *Provider {
	p := &Provider{cfg: cfg, newNative: NewNativeRoom}
	for _, o := range opts {
		o(p)
	}
	log.Debug().
		Str("module", "livekit.provider").
		Bool("auto_subscribe", cfg.AutoSubscribe).
		Bool("adaptive_stream", cfg.AdaptiveStream).
		Bool("dynacast", cfg.Dynacast).
		Msg("provider configured")
	return p
}

func (p *Provider) Name() domain.ProviderName { return domain.ProviderLiveKit }

func (p *Provider) NewRoom() core.Room {
	return newRoom(p.cfg, p.newNative)
}
