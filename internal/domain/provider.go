package domain

import "strings"

type ProviderName string

const (
	ProviderWebRTC  ProviderName = "webrtc"
	ProviderLiveKit ProviderName = "livekit"

	DefaultProvider = ProviderWebRTC
)

// ProviderNames is the closed set of supported adapters.
var ProviderNames = []ProviderName{ProviderWebRTC, ProviderLiveKit}

// ParseProviderName matches case-insensitively against ProviderNames.
func ParseProviderName(s string) (ProviderName, bool) {
	name := ProviderName(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ProviderNames {
		if name == known {
			return known, true
		}
	}
	return "", false
}
