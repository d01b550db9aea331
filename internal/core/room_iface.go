// Package core defines the provider-agnostic video room contract: the Room
// and Provider interfaces, the typed room events and the listener registry
// that adapters use to emit them.
package core

//go:generate mockgen -destination=coremock/mock_core.go -package=coremock . Provider,TokenSource

import (
	"context"

	"github.com/dkeye/videoroom/internal/domain"
)

// Room is a provider-agnostic handle on one live session.
// A Room exclusively owns one underlying SDK connection; Leave must release it.
type Room interface {
	Provider() domain.ProviderName
	Name() domain.RoomName
	State() domain.RoomState
	// Err is non-nil only while State() is StateError.
	Err() error

	// Join connects with an opaque access token. A Join on a connecting or connected
	// room first leaves it. On failure the room enters StateError, emits EventError
	// and returns the same error.
	Join(ctx context.Context, token string, opts domain.JoinOptions) error
	// Leave is idempotent and releases every SDK resource held by the room.
	Leave(ctx context.Context) error
	// SetMicrophoneEnabled and SetCameraEnabled are no-ops before the room is connected.
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetCameraEnabled(ctx context.Context, enabled bool) error

	// LocalParticipant is nil until connected.
	LocalParticipant() *domain.Participant
	// RemoteParticipants is rebuilt on every roster change, ordered by ID.
	RemoteParticipants() []domain.Participant

	On(t EventType, h Handler) *Listener
	Off(l *Listener)
}

// Provider manufactures Rooms for one SDK. It holds no connection itself.
type Provider interface {
	Name() domain.ProviderName
	NewRoom() Room
}

// TokenSource resolves an access token for a session. credential is the caller's
// bearer credential and may be empty for sources that do not need it.
type TokenSource interface {
	Token(ctx context.Context, credential, sessionID string) (string, error)
}
