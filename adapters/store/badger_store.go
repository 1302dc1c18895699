package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bip47-showcase/auth47/core"
)

const maxConsumeAttempts = 10

type challengeRecord struct {
	Nonce       string    `json:"nonce"`
	CallbackURL string    `json:"callback_url"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Consumed    bool      `json:"consumed"`
}

// BadgerStore is an embedded, disk-backed implementation of ports.ChallengeStore
type BadgerStore struct {
	db   *badger.DB
	opts Options
}

// OpenBadgerStore opens a database in dir, or an in-memory one when dir is empty
func OpenBadgerStore(dir string, opts Options) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return NewBadgerStore(db, opts), nil
}

// NewBadgerStore wraps an already open database
func NewBadgerStore(db *badger.DB, opts Options) *BadgerStore {
	return &BadgerStore{db: db, opts: opts.withDefaults()}
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Issue records a new challenge as a TTL entry
func (s *BadgerStore) Issue(ctx context.Context, callbackURL string) (*core.Challenge, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		ch, err := core.NewChallenge(callbackURL, s.opts.Clock.Now(), s.opts.TTL)
		if err != nil {
			return nil, err
		}

		err = s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key(ch.Nonce))
			if err == nil {
				return ErrNonceCollision
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return s.put(txn, ch)
		})
		if errors.Is(err, ErrNonceCollision) || errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store challenge: %w", err)
		}
		return ch, nil
	}
	return nil, ErrNonceCollision
}

// Lookup reads a challenge in a read-only transaction
func (s *BadgerStore) Lookup(ctx context.Context, nonce string) (*core.Challenge, error) {
	var ch *core.Challenge
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ch, err = s.get(txn, nonce)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Consume marks a challenge as used. Concurrent consumers of one nonce
// conflict at commit; the loser retries and then sees the consumed flag.
func (s *BadgerStore) Consume(ctx context.Context, nonce string) error {
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			ch, err := s.get(txn, nonce)
			if err != nil {
				return err
			}
			if err := checkConsumable(ch, s.opts.Clock.Now()); err != nil {
				return err
			}
			ch.Consumed = true
			return s.put(txn, ch)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("consume %s: %w", nonce, badger.ErrConflict)
}

func (s *BadgerStore) get(txn *badger.Txn, nonce string) (*core.Challenge, error) {
	item, err := txn.Get(key(nonce))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.ErrUnknownChallenge
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	var rec challengeRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("corrupt challenge %s: %w", nonce, err)
	}

	return &core.Challenge{
		Nonce:       rec.Nonce,
		CallbackURL: rec.CallbackURL,
		IssuedAt:    rec.IssuedAt,
		ExpiresAt:   rec.ExpiresAt,
		Consumed:    rec.Consumed,
	}, nil
}

func (s *BadgerStore) put(txn *badger.Txn, ch *core.Challenge) error {
	val, err := json.Marshal(challengeRecord{
		Nonce:       ch.Nonce,
		CallbackURL: ch.CallbackURL,
		IssuedAt:    ch.IssuedAt,
		ExpiresAt:   ch.ExpiresAt,
		Consumed:    ch.Consumed,
	})
	if err != nil {
		return err
	}
	return txn.SetEntry(badger.NewEntry(key(ch.Nonce), val).WithTTL(s.opts.retention(ch)))
}

func key(nonce string) []byte {
	return []byte("challenge/" + nonce)
}
