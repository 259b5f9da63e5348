package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth signs and verifies room join tokens.
type Auth interface {
	Sign(peerID, roomID, username string) (string, error)
	Verify(tokenString string) (*Payload, error)
}

// Payload is what a join token grants: one peer id in one room.
type Payload struct {
	PeerID   string `json:"peerId"`
	RoomID   string `json:"roomId"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

const defaultTTL = 24 * time.Hour
