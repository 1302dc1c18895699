package store

import (
	"context"
	"sync"
	"time"

	"github.com/bip47-showcase/auth47/core"
)

// MemoryStore is an in-memory implementation of ports.ChallengeStore
type MemoryStore struct {
	challenges map[string]*core.Challenge
	mu         sync.Mutex
	opts       Options
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]*core.Challenge),
		opts:       opts.withDefaults(),
	}
}

// Issue records a new challenge
func (s *MemoryStore) Issue(ctx context.Context, callbackURL string) (*core.Challenge, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		ch, err := core.NewChallenge(callbackURL, s.opts.Clock.Now(), s.opts.TTL)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		_, exists := s.challenges[ch.Nonce]
		if !exists {
			s.challenges[ch.Nonce] = ch
		}
		s.mu.Unlock()

		if !exists {
			issued := *ch
			return &issued, nil
		}
	}
	return nil, ErrNonceCollision
}

// Lookup returns a copy of a stored challenge
func (s *MemoryStore) Lookup(ctx context.Context, nonce string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[nonce]
	if !ok {
		return nil, core.ErrUnknownChallenge
	}
	found := *ch
	return &found, nil
}

// Consume marks a challenge as used; check and write happen under one lock
func (s *MemoryStore) Consume(ctx context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[nonce]
	if !ok {
		return core.ErrUnknownChallenge
	}
	if err := checkConsumable(ch, s.opts.Clock.Now()); err != nil {
		return err
	}

	ch.Consumed = true
	return nil
}

// Sweep removes challenges whose grace period has passed and reports how many
func (s *MemoryStore) Sweep() int {
	cutoff := s.opts.Clock.Now().Add(-s.opts.Grace)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for nonce, ch := range s.challenges {
		if ch.ExpiresAt.Before(cutoff) {
			delete(s.challenges, nonce)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := s.opts.Clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len returns the number of stored challenges
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.challenges)
}
