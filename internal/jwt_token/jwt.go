// Package jwttoken mints and verifies the HS256 access tokens whose subject
// becomes the quota identifier for authenticated callers.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "nova/pkg/domain-errors"
	authmw "nova/pkg/platform/middleware/auth"
)

// Config names the shared secret plus the iss/aud values a token must carry.
// Empty Issuer or Audience disables that check.
type Config struct {
	SigningKey string
	Issuer     string
	Audience   string
}

type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs tokens and checks them on the way back in. It satisfies the
// auth middleware's TokenValidator.
type Issuer struct {
	cfg    Config
	parser *jwt.Parser
}

func NewIssuer(cfg Config) *Issuer {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Issuer{cfg: cfg, parser: jwt.NewParser(opts...)}
}

// Mint issues a token for userID valid for ttl. Production tokens come from
// the identity provider; this serves the `token` command and tests.
func (i *Issuer) Mint(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	registered := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    i.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if i.cfg.Audience != "" {
		registered.Audience = jwt.ClaimStrings{i.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: userID, RegisteredClaims: registered}).
		SignedString([]byte(i.cfg.SigningKey))
}

// Parse verifies raw and returns its claims. UserID falls back to sub.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := i.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(i.cfg.SigningKey), nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token has expired")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return claims, nil
}

func (i *Issuer) ValidateToken(raw string) (*authmw.Principal, error) {
	claims, err := i.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &authmw.Principal{UserID: claims.UserID, TokenID: claims.ID}, nil
}
