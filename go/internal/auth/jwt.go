package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// IdentityResolver turns a bearer token into a user id.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (string, error)
}

// RevocationChecker answers whether the session behind a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Claims are the access-token claims. ID carries the refresh-token id the access token
// was minted from.
type Claims struct {
	jwt.RegisteredClaims
}

// Config holds verifier settings.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	TTL       time.Duration
}

// JWTVerifier validates HS256 access tokens.
type JWTVerifier struct {
	secret      []byte
	issuer      string
	audience    string
	clockSkew   time.Duration
	ttl         time.Duration
	revocations RevocationChecker
	clock       clockwork.Clock
}

// NewJWTVerifier creates a verifier. A nil revocation checker skips the revocation lookup.
func NewJWTVerifier(cfg Config, revocations RevocationChecker, clock clockwork.Clock) *JWTVerifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JWTVerifier{
		secret:      []byte(cfg.Secret),
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		clockSkew:   cfg.ClockSkew,
		ttl:         cfg.TTL,
		revocations: revocations,
		clock:       clock,
	}
}

// ResolveIdentity implements IdentityResolver. Every failure wraps ErrUnauthenticated.
func (v *JWTVerifier) ResolveIdentity(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}

	if v.revocations != nil && claims.ID != "" {
		revoked, err := v.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			log.Error().Err(err).Str("user_id", claims.Subject).Msg("revocation lookup failed")
			return "", fmt.Errorf("%w: revocation lookup failed", ErrUnauthenticated)
		}
		if revoked {
			return "", fmt.Errorf("%w: %w", ErrUnauthenticated, ErrTokenRevoked)
		}
	}
	return claims.Subject, nil
}

// Sign mints an access token for userID bound to the session tokenID. Credential
// issuance lives elsewhere; this serves local tooling and tests.
func (v *JWTVerifier) Sign(userID, tokenID string) (string, error) {
	if userID == "" {
		return "", errors.New("empty user id")
	}
	now := v.clock.Now()
	ttl := v.ttl
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID,
			Issuer:    v.issuer,
			Audience:  jwt.ClaimStrings{v.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
