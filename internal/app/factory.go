package app

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/adapters/livekit"
	"github.com/dkeye/videoroom/internal/adapters/p2p"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/telemetry"
)

// ProviderConfig carries the per-adapter settings the factory needs.
type ProviderConfig struct {
	WebRTC         p2p.Config
	LiveKit        livekit.Config
	WebRTCOptions  []p2p.Option
	LiveKitOptions []livekit.Option
}

// NewProvider returns a fresh adapter for name. Nothing is cached between calls.
func NewProvider(name domain.ProviderName, cfg ProviderConfig) (core.Provider, error) {
	switch name {
	case domain.ProviderWebRTC:
		return p2p.NewProvider(cfg.WebRTC, cfg.WebRTCOptions...), nil
	case domain.ProviderLiveKit:
		return livekit.NewProvider(cfg.LiveKit, cfg.LiveKitOptions...), nil
	default:
		return nil, fmt.Errorf("%w %q, expected one of: %s", domain.ErrUnknownProvider, name, supportedNames())
	}
}

// ResolveProviderName maps a configured value onto a known provider.
// Unrecognised values fall back to domain.DefaultProvider with a warning.
func ResolveProviderName(raw string) domain.ProviderName {
	if name, ok := domain.ParseProviderName(raw); ok {
		return name
	}
	if strings.TrimSpace(raw) != "" {
		log.Warn().
			Str("module", "app.factory").
			Str("requested", raw).
			Str("provider", string(domain.DefaultProvider)).
			Msg("unknown video provider, using default")
		telemetry.ProviderFallback()
	}
	return domain.DefaultProvider
}

func supportedNames() string {
	names := make([]string, 0, len(domain.ProviderNames))
	for _, n := range domain.ProviderNames {
		names = append(names, string(n))
	}
	return strings.Join(names, ", ")
}
