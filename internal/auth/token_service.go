package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/steveterryp/copov3/internal/models"
)

const (
	// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL defines the fallback validity period for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenConfig bundles the configuration required to build a TokenService.
// Access and refresh tokens are signed with distinct secrets.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Clock         func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	UserID string      `json:"uid"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenPayload holds the identity encoded into a signed token.
type TokenPayload struct {
	UserID string
	Email  string
	Role   models.Role
}

// TokenService issues and validates the access and refresh JWT pair.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenService constructs a TokenService when provided with both signing secrets.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.AccessSecret == "" {
		return nil, errors.New("token: access secret must be provided")
	}
	if cfg.RefreshSecret == "" {
		return nil, errors.New("token: refresh secret must be provided")
	}

	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           now,
	}, nil
}

// AccessTTL exposes the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL exposes the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// SignAccessToken issues a signed short-lived access token for the payload.
func (s *TokenService) SignAccessToken(payload TokenPayload) (string, error) {
	return s.sign(payload, s.accessSecret, s.accessTTL)
}

// SignRefreshToken issues a signed long-lived refresh token for the payload.
func (s *TokenService) SignRefreshToken(payload TokenPayload) (string, error) {
	return s.sign(payload, s.refreshSecret, s.refreshTTL)
}

func (s *TokenService) sign(payload TokenPayload, secret []byte, ttl time.Duration) (string, error) {
	if payload.UserID == "" {
		return "", errors.New("token: user id is required")
	}
	if payload.Email == "" {
		return "", errors.New("token: email is required")
	}
	if !payload.Role.Valid() {
		return "", fmt.Errorf("token: unknown role %q", payload.Role)
	}

	now := s.now()
	claims := &Claims{
		UserID: payload.UserID,
		Email:  payload.Email,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}

	return signed, nil
}

// VerifyAccessToken parses and validates an access token, returning its claims.
func (s *TokenService) VerifyAccessToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.accessSecret)
}

// VerifyRefreshToken parses and validates a refresh token, returning its claims.
func (s *TokenService) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.refreshSecret)
}

func (s *TokenService) verify(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token: parse: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("token: invalid issuer")
	}
	if claims.UserID == "" {
		return nil, errors.New("token: missing user id claim")
	}
	if claims.Email == "" {
		return nil, errors.New("token: missing email claim")
	}
	if !claims.Role.Valid() {
		return nil, errors.New("token: missing role claim")
	}

	return &claims, nil
}

// DecodeToken decodes a token without verifying its signature. Intended for
// logging and debugging only; returns nil on any parse failure.
func (s *TokenService) DecodeToken(tokenString string) *Claims {
	if tokenString == "" {
		return nil
	}

	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil
	}
	return &claims
}

// IsExpired reports whether a verification failure was caused by token expiry.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
