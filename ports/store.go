package ports

import (
	"context"

	"github.com/bip47-showcase/auth47/core"
)

// ChallengeStore keeps issued challenges until they expire
type ChallengeStore interface {
	// Issue creates and records a challenge with a fresh nonce
	Issue(ctx context.Context, callbackURL string) (*core.Challenge, error)

	// Lookup returns a copy of the stored challenge or core.ErrUnknownChallenge
	Lookup(ctx context.Context, nonce string) (*core.Challenge, error)

	// Consume atomically marks the challenge used. It fails with
	// core.ErrUnknownChallenge, core.ErrChallengeExpired or
	// core.ErrReplayedChallenge; at most one call per nonce succeeds.
	Consume(ctx context.Context, nonce string) error
}

// UserDirectory records identities that completed a login
type UserDirectory interface {
	Remember(ctx context.Context, identity, username string) error
	Lookup(ctx context.Context, identity string) (*core.User, error)
}
