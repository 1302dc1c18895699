package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bip47-showcase/auth47/core"
)

// issueScript refuses to overwrite an existing nonce.
var issueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'callback', ARGV[1], 'issued_at', ARGV[2], 'expires_at', ARGV[3], 'consumed', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// consumeScript is the check-and-set; Redis runs it without interleaving.
var consumeScript = redis.NewScript(`
local expires_at = redis.call('HGET', KEYS[1], 'expires_at')
if not expires_at then
	return 0
end
if tonumber(ARGV[1]) > tonumber(expires_at) then
	return 2
end
if redis.call('HGET', KEYS[1], 'consumed') == '1' then
	return 3
end
redis.call('HSET', KEYS[1], 'consumed', '1')
return 1
`)

const (
	consumeUnknown  = 0
	consumeOK       = 1
	consumeExpired  = 2
	consumeReplayed = 3
)

// RedisStore is a Redis implementation of ports.ChallengeStore
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client, opts Options) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "auth47:challenge:",
		opts:   opts.withDefaults(),
	}
}

// Issue records a new challenge under a key that expires after the grace period
func (s *RedisStore) Issue(ctx context.Context, callbackURL string) (*core.Challenge, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		ch, err := core.NewChallenge(callbackURL, s.opts.Clock.Now(), s.opts.TTL)
		if err != nil {
			return nil, err
		}

		created, err := issueScript.Run(ctx, s.client, []string{s.prefix + ch.Nonce},
			ch.CallbackURL,
			ch.IssuedAt.UnixMilli(),
			ch.ExpiresAt.UnixMilli(),
			s.opts.retention(ch).Milliseconds(),
		).Int()
		if err != nil {
			return nil, fmt.Errorf("failed to store challenge: %w", err)
		}
		if created == 1 {
			return ch, nil
		}
	}
	return nil, ErrNonceCollision
}

// Lookup reads a challenge back from its hash
func (s *RedisStore) Lookup(ctx context.Context, nonce string) (*core.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+nonce).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrUnknownChallenge
	}

	issuedAt, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt issued_at for %s: %w", nonce, err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt expires_at for %s: %w", nonce, err)
	}

	return &core.Challenge{
		Nonce:       nonce,
		CallbackURL: fields["callback"],
		IssuedAt:    time.UnixMilli(issuedAt),
		ExpiresAt:   time.UnixMilli(expiresAt),
		Consumed:    fields["consumed"] == "1",
	}, nil
}

// Consume marks a challenge as used
func (s *RedisStore) Consume(ctx context.Context, nonce string) error {
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + nonce},
		s.opts.Clock.Now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}

	switch res {
	case consumeOK:
		return nil
	case consumeExpired:
		return core.ErrChallengeExpired
	case consumeReplayed:
		return core.ErrReplayedChallenge
	default:
		return core.ErrUnknownChallenge
	}
}
