package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bip47-showcase/auth47/core"
)

const AudienceSession = "auth47:session"

// ErrMissingSecret is returned when the tokenizer is built without a signing secret.
var ErrMissingSecret = errors.New("jwt secret is not configured")

// Option configures a JWTTokenizer
type Option func(*JWTTokenizer)

// WithClock replaces the wall clock, mostly for tests
func WithClock(c clock.Clock) Option {
	return func(j *JWTTokenizer) {
		j.clock = c
	}
}

// JWTTokenizer implements the Tokenizer interface with HS256 JWTs
type JWTTokenizer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewJWTTokenizer creates a new JWT tokenizer. Changing the secret
// invalidates every token issued with the previous one.
func NewJWTTokenizer(secret string, ttl time.Duration, opts ...Option) (*JWTTokenizer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = core.DefaultSessionTTL
	}

	j := &JWTTokenizer{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// IssueSession mints a session credential for a verified identity
func (j *JWTTokenizer) IssueSession(identity, username string) (string, *core.Session, error) {
	now := j.clock.Now().Truncate(time.Second)
	session := &core.Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: now.Add(j.ttl),
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Identity,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceSession},
		},
		Username: session.Username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return signedToken, session, nil
}

// ValidateSession parses a session token and returns the session it carries
func (j *JWTTokenizer) ValidateSession(tokenStr string) (*core.Session, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AudienceSession),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.clock.Now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %v", core.ErrCredentialExpired, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCredentialInvalid, err)
	}
	if !token.Valid {
		return nil, core.ErrCredentialInvalid
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" {
		return nil, core.ErrCredentialInvalid
	}

	session := &core.Session{
		ID:        claims.ID,
		Identity:  claims.Subject,
		Username:  claims.Username,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	return session, nil
}
