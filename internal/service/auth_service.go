package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that do not identify a candidate.
var ErrInvalidToken = errors.New("invalid token")

// TokenTypeCandidate marks tokens issued to exam candidates.
const TokenTypeCandidate = "candidate"

// Claims extends JWT standard claims. The candidate id is the subject.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
}

// CandidateID returns the identity the token was issued to.
func (c *Claims) CandidateID() string {
	return c.Subject
}

// AuthService validates candidate tokens. Issuing them belongs to the
// identity provider; GenerateCandidateToken exists for tooling and tests.
type AuthService struct {
	secret []byte
	expiry time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret string, expiry time.Duration) *AuthService {
	return &AuthService{secret: []byte(secret), expiry: expiry}
}

// GenerateCandidateToken signs an HS256 token for candidateID.
func (s *AuthService) GenerateCandidateToken(candidateID string) (string, error) {
	if candidateID == "" {
		return "", errors.New("candidate id is required")
	}
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   candidateID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		TokenType: TokenTypeCandidate,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != TokenTypeCandidate || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
