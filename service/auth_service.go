package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/bip47-showcase/auth47/core"
	"github.com/bip47-showcase/auth47/names"
	"github.com/bip47-showcase/auth47/observability"
	"github.com/bip47-showcase/auth47/ports"
	"github.com/bip47-showcase/auth47/protocol"
)

// DefaultCallbackURL is used when no callback is configured
const DefaultCallbackURL = "http://localhost:3001/api/auth/authenticate"

// Option configures an AuthService
type Option func(*AuthService)

// WithCallbackURL sets the URL wallets post their proofs to
func WithCallbackURL(u string) Option {
	return func(s *AuthService) { s.callbackURL = u }
}

// WithClock replaces the wall clock
func WithClock(c clock.Clock) Option {
	return func(s *AuthService) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *AuthService) { s.logger = l }
}

// WithMetrics enables metric recording
func WithMetrics(m *observability.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

// WithUserDirectory records every successful login in d
func WithUserDirectory(d ports.UserDirectory) Option {
	return func(s *AuthService) { s.users = d }
}

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.ChallengeStore
	verifier  ports.SignatureVerifier
	eventPub  ports.EventPublisher
	users     ports.UserDirectory

	callbackURL string
	clock       clock.Clock
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	store ports.ChallengeStore,
	verifier ports.SignatureVerifier,
	eventPub ports.EventPublisher,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		tokenizer:   tokenizer,
		store:       store,
		verifier:    verifier,
		eventPub:    eventPub,
		callbackURL: DefaultCallbackURL,
		clock:       clock.New(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssuedChallenge is a stored challenge together with the URI the wallet signs
type IssuedChallenge struct {
	*core.Challenge
	URI string
}

// LoginResult is returned by a successful Login
type LoginResult struct {
	Token   string
	Session *core.Session
}

// CreateChallenge generates a new authentication challenge
func (s *AuthService) CreateChallenge(ctx context.Context) (*IssuedChallenge, error) {
	ch, err := s.store.Issue(ctx, s.callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}

	s.metrics.ChallengeIssued()
	s.logger.Debug("challenge issued",
		zap.String("nonce", ch.Nonce),
		zap.Time("expires_at", ch.ExpiresAt),
	)

	return &IssuedChallenge{Challenge: ch, URI: protocol.EncodeURI(ch)}, nil
}

// ChallengeURI returns the URI of a stored challenge
func (s *AuthService) ChallengeURI(ctx context.Context, nonce string) (string, error) {
	ch, err := s.store.Lookup(ctx, nonce)
	if err != nil {
		return "", err
	}
	return protocol.EncodeURI(ch), nil
}

// Authenticate checks a proof and consumes its challenge, returning the
// verified identity. The signature is checked before the challenge is
// consumed, so a bad proof never burns a nonce.
func (s *AuthService) Authenticate(ctx context.Context, proof core.Proof) (string, error) {
	identity, _, err := s.authenticate(ctx, proof)
	return identity, err
}

// Login authenticates a proof and issues a session for the identity
func (s *AuthService) Login(ctx context.Context, proof core.Proof) (*LoginResult, error) {
	identity, nonce, err := s.authenticate(ctx, proof)
	if err != nil {
		return nil, err
	}

	username := names.Username(identity)
	token, session, err := s.tokenizer.IssueSession(identity, username)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	// The challenge is already consumed; bookkeeping failures must not void the login.
	if s.users != nil {
		if err := s.users.Remember(ctx, identity, username); err != nil {
			s.logger.Warn("failed to record user", zap.String("identity", identity), zap.Error(err))
		}
	}
	if s.eventPub != nil {
		if err := s.eventPub.PublishLogin(ctx, identity, nonce); err != nil {
			s.logger.Warn("failed to publish login event", zap.String("identity", identity), zap.Error(err))
		}
	}

	s.logger.Info("login succeeded",
		zap.String("identity", identity),
		zap.String("username", username),
		zap.String("session_id", session.ID),
	)
	return &LoginResult{Token: token, Session: session}, nil
}

// ValidateSession checks a session token
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*core.Session, error) {
	session, err := s.tokenizer.ValidateSession(token)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *AuthService) authenticate(ctx context.Context, proof core.Proof) (string, string, error) {
	start := s.clock.Now()
	identity, nonce, err := s.verify(ctx, proof)
	kind := core.Kind(err)
	s.metrics.Authentication(kind, s.clock.Since(start))

	if err != nil {
		s.logger.Info("authentication rejected",
			zap.String("kind", kind),
			zap.String("nonce", nonce),
			zap.Error(err),
		)
		return "", nonce, err
	}
	return identity, nonce, nil
}

func (s *AuthService) verify(ctx context.Context, proof core.Proof) (string, string, error) {
	if !proof.Complete() {
		return "", "", core.ErrMissingFields
	}

	nonce, err := protocol.ParseNonce(proof.Challenge)
	if err != nil {
		return "", "", err
	}

	identity, err := s.verifier.Verify(proof.Challenge, proof.Nym, proof.Signature)
	if err != nil {
		return "", nonce, err
	}

	if err := s.store.Consume(ctx, nonce); err != nil {
		if errors.Is(err, core.ErrUnknownChallenge) && s.pastExpiry(proof.Challenge) {
			return "", nonce, core.ErrChallengeExpired
		}
		return "", nonce, err
	}

	return identity, nonce, nil
}

// pastExpiry reports whether the signed URI carries an expiry that has passed.
// Stores drop expired challenges, which would otherwise read as unknown.
func (s *AuthService) pastExpiry(message string) bool {
	uri, err := protocol.ParseURI(message)
	if err != nil || uri.ExpiresAt.IsZero() {
		return false
	}
	return s.clock.Now().After(uri.ExpiresAt)
}
