package livekit

import (
	"context"

	"github.com/dkeye/videoroom/internal/domain"
)

// TrackInfo is one track publication as reported by the SDK.
type TrackInfo struct {
	SID   string
	Kind  domain.TrackKind
	Muted bool
}

// ParticipantInfo is a point-in-time copy of an SDK participant.
type ParticipantInfo struct {
	Identity string
	Name     string
	Metadata string
	Local    bool
	Tracks   []TrackInfo
}

type NativeEventType string

const (
	NativeDisconnected      NativeEventType = "disconnected"
	NativeReconnecting      NativeEventType = "reconnecting"
	NativeReconnected       NativeEventType = "reconnected"
	NativeParticipantJoined NativeEventType = "participantConnected"
	NativeParticipantLeft   NativeEventType = "participantDisconnected"
	NativeTrackSubscribed   NativeEventType = "trackSubscribed"
	NativeTrackUnsubscribed NativeEventType = "trackUnsubscribed"
	NativeTrackPublished    NativeEventType = "trackPublished"
	NativeTrackUnpublished  NativeEventType = "trackUnpublished"
	NativeLocalTrackChanged NativeEventType = "localTrackPublished"
	NativeTrackMuteChanged  NativeEventType = "trackMuted"
	NativeMetadataChanged   NativeEventType = "metadataChanged"
)

type NativeEvent struct {
	Type        NativeEventType
	Participant string
	Track       *TrackInfo
}

// NativeRoom is the slice of the media-server SDK the Room adapter uses.
// Implementations deliver events from a goroutine that holds no SDK lock.
type NativeRoom interface {
	Join(ctx context.Context, url, token string) error
	Disconnect()
	Name() string
	LocalParticipant() (ParticipantInfo, bool)
	RemoteParticipants() []ParticipantInfo
	// SetMediaEnabled publishes the local track of kind on first enable and
	// toggles its muted flag afterwards. It returns once the SDK acknowledged the publish.
	SetMediaEnabled(ctx context.Context, kind domain.TrackKind, enabled bool) error
	OnEvent(func(NativeEvent))
}

type NativeFactory func(cfg Config) NativeRoom
