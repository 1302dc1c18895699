package core

import "errors"

var (
	ErrMissingFields            = errors.New("missing required fields")
	ErrMalformedChallenge       = errors.New("malformed challenge")
	ErrInvalidSignatureEncoding = errors.New("invalid signature encoding")
	ErrSignatureMismatch        = errors.New("signature mismatch")
	ErrUnknownChallenge         = errors.New("unknown challenge")
	ErrChallengeExpired         = errors.New("challenge expired")
	ErrReplayedChallenge        = errors.New("challenge already used")
	ErrCredentialInvalid        = errors.New("invalid credential")
	ErrCredentialExpired        = errors.New("credential expired")
)

// Kind labels used in responses and metrics.
const (
	KindOK                       = "ok"
	KindMissingFields            = "missing_fields"
	KindMalformedChallenge       = "malformed_challenge"
	KindInvalidSignatureEncoding = "invalid_signature_encoding"
	KindSignatureMismatch        = "signature_mismatch"
	KindUnknownChallenge         = "unknown_challenge"
	KindChallengeExpired         = "challenge_expired"
	KindReplayedChallenge        = "replayed_challenge"
	KindCredentialInvalid        = "credential_invalid"
	KindCredentialExpired        = "credential_expired"
	KindInternal                 = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrMissingFields, KindMissingFields},
	{ErrMalformedChallenge, KindMalformedChallenge},
	{ErrInvalidSignatureEncoding, KindInvalidSignatureEncoding},
	{ErrSignatureMismatch, KindSignatureMismatch},
	{ErrUnknownChallenge, KindUnknownChallenge},
	{ErrChallengeExpired, KindChallengeExpired},
	{ErrReplayedChallenge, KindReplayedChallenge},
	{ErrCredentialInvalid, KindCredentialInvalid},
	{ErrCredentialExpired, KindCredentialExpired},
}

// Kind returns the category label of err. It never exposes wrapped detail, so
// the result is safe to hand to an end user.
func Kind(err error) string {
	if err == nil {
		return KindOK
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
