package bsm

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bip47-showcase/auth47/core"
)

type identityKind int

const (
	compressedPubKeySize   = 33
	uncompressedPubKeySize = 65
)

const (
	kindPubKey identityKind = iota
	kindPubKeyHash
	kindWitnessPubKeyHash
)

// Identity is a parsed nym: a secp256k1 public key or a P2PKH / P2WPKH address.
type Identity struct {
	kind       identityKind
	pubKey     *btcec.PublicKey
	compressed bool
	hash160    []byte
	canonical  string
}

// ParseIdentity accepts a public key as hex (any case) or base64, a P2PKH
// address or a mainnet P2WPKH address.
func ParseIdentity(nym string) (Identity, error) {
	nym = strings.TrimSpace(nym)
	if nym == "" {
		return Identity{}, fmt.Errorf("empty nym: %w", core.ErrInvalidSignatureEncoding)
	}

	if b, err := hex.DecodeString(nym); err == nil && isPubKeySize(len(b)) {
		return parsePubKey(b)
	}
	if b, err := base64.StdEncoding.DecodeString(nym); err == nil && isPubKeySize(len(b)) {
		return parsePubKey(b)
	}

	addr, err := btcutil.DecodeAddress(nym, &chaincfg.MainNetParams)
	if err != nil {
		return Identity{}, fmt.Errorf("nym is neither a public key nor an address: %w", core.ErrInvalidSignatureEncoding)
	}

	switch a := addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return Identity{kind: kindPubKeyHash, hash160: a.ScriptAddress(), canonical: a.EncodeAddress()}, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return Identity{kind: kindWitnessPubKeyHash, hash160: a.ScriptAddress(), canonical: a.EncodeAddress()}, nil
	default:
		return Identity{}, fmt.Errorf("unsupported address type %T: %w", addr, core.ErrInvalidSignatureEncoding)
	}
}

// String returns lowercase hex for keys and the encoded address otherwise.
func (id Identity) String() string {
	return id.canonical
}

// PublicKey returns the parsed key, or nil when the identity is an address.
func (id Identity) PublicKey() *btcec.PublicKey {
	return id.pubKey
}

func (id Identity) matches(pub *btcec.PublicKey, compressed bool) bool {
	switch id.kind {
	case kindPubKey:
		// The flag must agree with the nym's serialization, otherwise the
		// header byte could be altered without invalidating the proof.
		return compressed == id.compressed && pub.IsEqual(id.pubKey)
	case kindWitnessPubKeyHash:
		return compressed && hash160Equal(pub, true, id.hash160)
	default:
		return hash160Equal(pub, compressed, id.hash160)
	}
}

func parsePubKey(b []byte) (Identity, error) {
	if !isPubKeySize(len(b)) {
		return Identity{}, fmt.Errorf("public key must be 33 or 65 bytes, got %d: %w", len(b), core.ErrInvalidSignatureEncoding)
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid public key: %w", core.ErrInvalidSignatureEncoding)
	}
	return Identity{
		kind:       kindPubKey,
		pubKey:     pub,
		compressed: len(b) == compressedPubKeySize,
		canonical:  hex.EncodeToString(b),
	}, nil
}

func isPubKeySize(n int) bool {
	return n == compressedPubKeySize || n == uncompressedPubKeySize
}
