package store

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bip47-showcase/auth47/core"
)

const (
	// DefaultGrace is how long an expired challenge lingers before removal.
	DefaultGrace = 30 * time.Second

	maxIssueAttempts = 3
)

// ErrNonceCollision is returned when no unused nonce could be generated.
var ErrNonceCollision = errors.New("could not allocate an unused nonce")

// Options configure every challenge store backend
type Options struct {
	TTL   time.Duration // Challenge lifetime
	Grace time.Duration // Extra retention after expiry
	Clock clock.Clock   // Time source; the wall clock when nil
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = core.DefaultChallengeTTL
	}
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// retention is how long a challenge stays stored from now.
func (o Options) retention(ch *core.Challenge) time.Duration {
	d := ch.ExpiresAt.Add(o.Grace).Sub(o.Clock.Now())
	if d < time.Second {
		d = time.Second
	}
	return d
}

func checkConsumable(ch *core.Challenge, now time.Time) error {
	if ch.Expired(now) {
		return core.ErrChallengeExpired
	}
	if ch.Consumed {
		return core.ErrReplayedChallenge
	}
	return nil
}
