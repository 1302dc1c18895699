// Package bsm verifies Bitcoin Signed Messages.
//
// A message is signed over DoubleSHA256(varstr(MagicPrefix) || varstr(message)),
// the convention wallets use so that a signed message can never be mistaken
// for a signed transaction.
//
// Accepted signature encodings (base64 or hex):
//
//   - 65-byte compact signatures (BIP137): a header byte followed by r||s.
//     Headers 27-30 mark an uncompressed key, 31-34 a compressed key and
//     39-42 a native segwit (P2WPKH) key. The public key is recovered and
//     compared with the claimed identity. Headers 35-38 (P2SH-wrapped segwit)
//     are rejected.
//   - DER or raw 64-byte r||s signatures, verified directly against a claimed
//     public key. These cannot be checked against an address.
package bsm

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bip47-showcase/auth47/core"
)

const (
	// MagicPrefix is prepended to every signed message.
	MagicPrefix = "Bitcoin Signed Message:\n"

	// CompactSignatureSize is the size of a recoverable signature.
	CompactSignatureSize = 65

	headerMin           = 27
	headerCompressed    = 31
	headerSegwitWrapped = 35
	headerSegwitNative  = 39
	headerMax           = 42
)

// Digest returns the double SHA-256 of the magic-prefixed message.
func Digest(message string) []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = wire.WriteVarString(&buf, 0, MagicPrefix)
	_ = wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// Verify checks that signature was produced over message by the key behind
// nym. On success it returns the canonical form of nym. Every failure wraps
// either core.ErrInvalidSignatureEncoding or core.ErrSignatureMismatch.
func Verify(message, nym, signature string) (string, error) {
	id, err := ParseIdentity(nym)
	if err != nil {
		return "", err
	}

	raw, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}

	hash := Digest(message)

	if len(raw) == CompactSignatureSize && raw[0] >= headerMin && raw[0] <= headerMax {
		if err := verifyCompact(hash, raw, id); err != nil {
			return "", err
		}
		return id.String(), nil
	}

	if id.pubKey == nil {
		return "", fmt.Errorf("non-recoverable signature needs a public key nym: %w", core.ErrInvalidSignatureEncoding)
	}
	if err := verifyRaw(hash, raw, id.pubKey); err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid is Verify reduced to a yes/no answer.
func Valid(message, nym, signature string) bool {
	_, err := Verify(message, nym, signature)
	return err == nil
}

// Verifier adapts Verify to ports.SignatureVerifier.
type Verifier struct{}

// NewVerifier creates a Bitcoin Signed Message verifier
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify implements ports.SignatureVerifier
func (Verifier) Verify(message, nym, signature string) (string, error) {
	return Verify(message, nym, signature)
}

// Sign produces a base64 compact signature of message, the format wallets emit.
func Sign(message string, key *btcec.PrivateKey, compressed bool) (string, error) {
	sig, err := ecdsa.SignCompact(key, Digest(message), compressed)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func verifyCompact(hash, raw []byte, id Identity) error {
	header := raw[0]
	recID := (header - headerMin) & 3
	compressed := header >= headerCompressed
	segwit := header >= headerSegwitWrapped

	if segwit && header < headerSegwitNative {
		return fmt.Errorf("p2sh-segwit signature header %d: %w", header, core.ErrInvalidSignatureEncoding)
	}
	if segwit != (id.kind == kindWitnessPubKeyHash) {
		return fmt.Errorf("signature header %d does not fit nym type: %w", header, core.ErrSignatureMismatch)
	}

	// RecoverCompact only understands the 27-34 range.
	normalized := make([]byte, CompactSignatureSize)
	copy(normalized, raw)
	normalized[0] = headerMin + recID
	if compressed {
		normalized[0] += 4
	}

	pub, _, err := ecdsa.RecoverCompact(normalized, hash)
	if err != nil {
		return fmt.Errorf("public key recovery failed: %w", core.ErrSignatureMismatch)
	}

	if !id.matches(pub, compressed) {
		return core.ErrSignatureMismatch
	}
	return nil
}

func verifyRaw(hash, raw []byte, pub *btcec.PublicKey) error {
	var sig *ecdsa.Signature
	if len(raw) == 64 {
		var r, s btcec.ModNScalar
		if r.SetByteSlice(raw[:32]) || s.SetByteSlice(raw[32:]) || r.IsZero() || s.IsZero() {
			return fmt.Errorf("r or s out of range: %w", core.ErrInvalidSignatureEncoding)
		}
		sig = ecdsa.NewSignature(&r, &s)
	} else {
		parsed, err := ecdsa.ParseDERSignature(raw)
		if err != nil {
			return fmt.Errorf("signature is neither compact, raw nor DER: %w", core.ErrInvalidSignatureEncoding)
		}
		sig = parsed
	}

	if !sig.Verify(hash, pub) {
		return core.ErrSignatureMismatch
	}
	return nil
}

// decodeSignature accepts hex first, then standard base64. Base64 stays case
// sensitive; a base64 signature of the accepted sizes is never all hex digits
// in practice because of its padding or length.
func decodeSignature(signature string) ([]byte, error) {
	if b, err := hex.DecodeString(signature); err == nil && len(b) > 0 {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("signature is neither hex nor base64: %w", core.ErrInvalidSignatureEncoding)
	}
	return b, nil
}

func hash160Equal(pub *btcec.PublicKey, compressed bool, want []byte) bool {
	var ser []byte
	if compressed {
		ser = pub.SerializeCompressed()
	} else {
		ser = pub.SerializeUncompressed()
	}
	return subtle.ConstantTimeCompare(btcutil.Hash160(ser), want) == 1
}
