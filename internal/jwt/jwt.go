package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/imtaco/audio-rooms/internal/errors"
)

// NewAuth creates an HS256 authenticator whose tokens expire after a day.
func NewAuth(secret string) Auth {
	return NewAuthWithAlgorithm(secret, jwt.SigningMethodHS256, defaultTTL)
}

// NewAuthWithAlgorithm accepts HS256, HS384 or HS512. A zero ttl signs tokens without expiry.
func NewAuthWithAlgorithm(secret string, method jwt.SigningMethod, ttl time.Duration) Auth {
	return &jwtAuthImpl{
		secret:        []byte(secret),
		signingMethod: method,
		ttl:           ttl,
		now:           time.Now,
	}
}

type jwtAuthImpl struct {
	secret        []byte
	signingMethod jwt.SigningMethod
	ttl           time.Duration
	now           func() time.Time
}

func (j *jwtAuthImpl) Sign(peerID, roomID, username string) (string, error) {
	if peerID == "" || roomID == "" {
		return "", errors.New(ErrInvalidRequest, "peerID and roomID are required")
	}

	claims := &Payload{
		PeerID:   peerID,
		RoomID:   roomID,
		Username: username,
	}
	now := j.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if j.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(j.ttl))
	}

	return jwt.NewWithClaims(j.signingMethod, claims).SignedString(j.secret)
}

func (j *jwtAuthImpl) Verify(tokenString string) (*Payload, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Payload{},
		func(*jwt.Token) (any, error) { return j.secret, nil },
		jwt.WithValidMethods([]string{j.signingMethod.Alg()}),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err, "parse token")
	}

	claims, ok := token.Claims.(*Payload)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.PeerID == "" || claims.RoomID == "" {
		return nil, errors.New(ErrInvalidToken, "missing required fields in token")
	}
	return claims, nil
}
