package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// NonceSize is the number of random bytes in a challenge nonce (96 bits).
	NonceSize = 12

	// DefaultChallengeTTL is how long an issued challenge may be answered.
	DefaultChallengeTTL = 300 * time.Second

	// DefaultSessionTTL is the lifetime of a session credential.
	DefaultSessionTTL = 24 * time.Hour
)

// Challenge represents an authentication challenge
type Challenge struct {
	Nonce       string    // Random hex token identifying the challenge
	CallbackURL string    // Where the wallet posts its proof
	IssuedAt    time.Time // When the challenge was created
	ExpiresAt   time.Time // Last instant the challenge may be consumed
	Consumed    bool      // Set once by a successful authentication
}

// Expired reports whether the challenge can no longer be consumed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Proof is what a wallet submits in answer to a challenge
type Proof struct {
	Response  string // auth47 protocol version the wallet answers with
	Challenge string // The exact challenge URI that was signed
	Nym       string // Claimed identity: public key or address
	Signature string // Base64 (or hex) encoded signature
}

// Complete reports whether every proof field is present.
func (p Proof) Complete() bool {
	return p.Response != "" && p.Challenge != "" && p.Nym != "" && p.Signature != ""
}

// Session represents an authenticated user session
type Session struct {
	ID        string    // Unique session identifier
	Identity  string    // Verified public key or address
	Username  string    // Display name derived from the identity
	IssuedAt  time.Time // When the session was created
	ExpiresAt time.Time // When the credential stops being accepted
}

// User is the durable record of an identity that has logged in at least once
type User struct {
	PublicKey   string
	Username    string
	CreatedAt   time.Time
	LastLoginAt time.Time
}

// GenerateNonce returns NonceSize random bytes as lowercase hex.
func GenerateNonce() (string, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewChallenge builds an unconsumed challenge with a fresh nonce. ExpiresAt is
// truncated to whole seconds because it is rendered as unix seconds in the URI.
func NewChallenge(callbackURL string, now time.Time, ttl time.Duration) (*Challenge, error) {
	if ttl < time.Second {
		return nil, fmt.Errorf("challenge ttl must be at least one second, got %s", ttl)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	return &Challenge{
		Nonce:       nonce,
		CallbackURL: callbackURL,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl).Truncate(time.Second),
	}, nil
}
