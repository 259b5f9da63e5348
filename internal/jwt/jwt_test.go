package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
)

type JWTTestSuite struct {
	suite.Suite
	auth   Auth
	secret string
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}

func (s *JWTTestSuite) SetupTest() {
	s.secret = "test-secret"
	s.auth = NewAuth(s.secret)
}

func (s *JWTTestSuite) TestSignAndVerify() {
	token, err := s.auth.Sign("alice", "r1", "Alice")
	s.Require().NoError(err)
	s.True(strings.HasPrefix(token, "eyJ"))

	claims, err := s.auth.Verify(token)
	s.Require().NoError(err)
	s.Equal("alice", claims.PeerID)
	s.Equal("r1", claims.RoomID)
	s.Equal("Alice", claims.Username)
	s.NotNil(claims.ExpiresAt)
}

func (s *JWTTestSuite) TestSignRequiresIDs() {
	for _, tc := range []struct{ peer, room string }{{"", "r1"}, {"alice", ""}, {"", ""}} {
		token, err := s.auth.Sign(tc.peer, tc.room, "")
		s.Require().ErrorIs(err, ErrInvalidRequest)
		s.Empty(token)
	}
}

func (s *JWTTestSuite) TestVerifyRejects() {
	other, err := NewAuth("wrong-secret").Sign("alice", "r1", "")
	s.Require().NoError(err)
	hs384, err := NewAuthWithAlgorithm(s.secret, jwt.SigningMethodHS384, time.Hour).Sign("alice", "r1", "")
	s.Require().NoError(err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrNoToken},
		{"garbage", "invalid-token", ErrInvalidToken},
		{"malformed", "eyJ.invalid.token", ErrInvalidToken},
		{"wrong secret", other, ErrInvalidToken},
		{"algorithm mismatch", hs384, ErrInvalidToken},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			claims, err := s.auth.Verify(tt.token)
			s.Require().ErrorIs(err, tt.want)
			s.Nil(claims)
		})
	}
}

func (s *JWTTestSuite) TestVerifyExpired() {
	impl := NewAuthWithAlgorithm(s.secret, jwt.SigningMethodHS256, time.Minute).(*jwtAuthImpl)
	token, err := impl.Sign("alice", "r1", "")
	s.Require().NoError(err)

	impl.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = impl.Verify(token)
	s.Require().ErrorIs(err, ErrInvalidToken)
}

func (s *JWTTestSuite) TestVerifyMissingFields() {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Payload{RoomID: "r1"}).
		SignedString([]byte(s.secret))
	s.Require().NoError(err)

	claims, err := s.auth.Verify(token)
	s.Require().ErrorIs(err, ErrInvalidToken)
	s.Nil(claims)
	s.Contains(err.Error(), "missing required fields")
}
