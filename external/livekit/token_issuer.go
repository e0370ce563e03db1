package livekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/circles/internal/token"
	"github.com/livekit/protocol/auth"
)

type participantMetadata struct {
	Role string `json:"role"`
}

// TokenIssuer mints LiveKit access tokens. Room names are circle ids.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewTokenIssuer(apiKey, apiSecret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

func (t *TokenIssuer) Mint(_ context.Context, in token.MintInput) (string, error) {
	if in.UserID == "" || in.RoomID == "" {
		return "", errors.New("token requires both a user and a room")
	}
	meta, err := json.Marshal(participantMetadata{Role: in.Role})
	if err != nil {
		return "", err
	}

	grant := &auth.VideoGrant{
		RoomJoin:  true,
		Room:      in.RoomID,
		RoomAdmin: in.RoomAdmin,
	}
	grant.SetCanPublish(in.CanPublish)
	grant.SetCanSubscribe(in.CanSubscribe)

	at := auth.NewAccessToken(t.apiKey, t.apiSecret).
		SetIdentity(in.UserID).
		SetMetadata(string(meta)).
		SetValidFor(t.ttl).
		SetVideoGrant(grant)
	if in.DisplayName != "" {
		at.SetName(in.DisplayName)
	}

	jwt, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to sign access token for %s: %w", in.UserID, err)
	}
	return jwt, nil
}
