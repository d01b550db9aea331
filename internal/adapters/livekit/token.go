package livekit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"

	"github.com/dkeye/videoroom/internal/core"
)

const defaultTokenTTL = time.Hour

var ErrMissingAPIKey = errors.New("livekit api key and secret are required")

// TokenMinter issues room-join tokens locally from an API key pair.
// It stands in for the token backend in development setups.
type TokenMinter struct {
	apiKey    string
	apiSecret string
	identity  string
	ttl       time.Duration
}

var _ core.TokenSource = (*TokenMinter)(nil)

func NewTokenMinter(apiKey, apiSecret, identity string) *TokenMinter {
	return &TokenMinter{apiKey: apiKey, apiSecret: apiSecret, identity: identity, ttl: defaultTokenTTL}
}

// Token grants RoomJoin on the room named after sessionID. An empty
// configured identity yields a fresh random identity per token.
func (m *TokenMinter) Token(_ context.Context, _ string, sessionID string) (string, error) {
	if m.apiKey == "" || m.apiSecret == "" {
		return "", ErrMissingAPIKey
	}
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	identity := m.identity
	if identity == "" {
		identity = uuid.NewString()
	}

	at := auth.NewAccessToken(m.apiKey, m.apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: sessionID}).
		SetIdentity(identity).
		SetValidFor(m.ttl)
	return at.ToJWT()
}
