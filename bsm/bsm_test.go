package bsm

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bip47-showcase/auth47/core"
)

const challengeURI = "auth47://3f2a9c0d1e5b7a8c4d6e0f12?c=https://example.com/api/auth/authenticate&e=1700000300"

func testKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x11}, 32))
	return key
}

func compressedNym(key *btcec.PrivateKey) string {
	return hex.EncodeToString(key.PubKey().SerializeCompressed())
}

func decode(t *testing.T, sig string) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	return raw
}

func TestDigest(t *testing.T) {
	d := Digest(challengeURI)
	assert.Len(t, d, 32)
	assert.Equal(t, d, Digest(challengeURI))
	assert.NotEqual(t, d, Digest(challengeURI+" "))
	assert.Len(t, Digest(""), 32)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	key := testKey(t)

	messages := []string{
		"",
		challengeURI,
		"héllo wörld",
		strings.Repeat("a", 300), // length prefix needs more than one byte
	}

	for _, msg := range messages {
		for _, compressed := range []bool{true, false} {
			sig, err := Sign(msg, key, compressed)
			require.NoError(t, err)

			nym := compressedNym(key)
			if !compressed {
				nym = hex.EncodeToString(key.PubKey().SerializeUncompressed())
			}

			id, err := Verify(msg, nym, sig)
			require.NoError(t, err, "message %q compressed=%v", msg, compressed)
			assert.Equal(t, nym, id)
			assert.True(t, Valid(msg, nym, sig))
		}
	}
}

func TestVerify_IdentityEncodings(t *testing.T) {
	key := testKey(t)
	sig, err := Sign(challengeURI, key, true)
	require.NoError(t, err)
	nym := compressedNym(key)

	t.Run("uppercase hex nym", func(t *testing.T) {
		id, err := Verify(challengeURI, strings.ToUpper(nym), sig)
		require.NoError(t, err)
		assert.Equal(t, nym, id)
	})

	t.Run("base64 nym", func(t *testing.T) {
		b64 := base64.StdEncoding.EncodeToString(key.PubKey().SerializeCompressed())
		id, err := Verify(challengeURI, b64, sig)
		require.NoError(t, err)
		assert.Equal(t, nym, id)
	})

	t.Run("hex signature", func(t *testing.T) {
		_, err := Verify(challengeURI, nym, hex.EncodeToString(decode(t, sig)))
		assert.NoError(t, err)
	})

	t.Run("compressed p2pkh address", func(t *testing.T) {
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), &chaincfg.MainNetParams)
		require.NoError(t, err)

		id, err := Verify(challengeURI, addr.EncodeAddress(), sig)
		require.NoError(t, err)
		assert.Equal(t, addr.EncodeAddress(), id)
	})

	t.Run("uncompressed p2pkh address", func(t *testing.T) {
		uncompressedSig, err := Sign(challengeURI, key, false)
		require.NoError(t, err)
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.PubKey().SerializeUncompressed()), &chaincfg.MainNetParams)
		require.NoError(t, err)

		_, err = Verify(challengeURI, addr.EncodeAddress(), uncompressedSig)
		assert.NoError(t, err)

		// Same key, but the compressed flag points at a different address.
		_, err = Verify(challengeURI, addr.EncodeAddress(), sig)
		assert.ErrorIs(t, err, core.ErrSignatureMismatch)
	})

	t.Run("p2wpkh address", func(t *testing.T) {
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), &chaincfg.MainNetParams)
		require.NoError(t, err)

		raw := decode(t, sig)
		raw[0] += headerSegwitNative - headerCompressed
		segwitSig := base64.StdEncoding.EncodeToString(raw)

		_, err = Verify(challengeURI, addr.EncodeAddress(), segwitSig)
		assert.NoError(t, err)

		_, err = Verify(challengeURI, addr.EncodeAddress(), sig)
		assert.ErrorIs(t, err, core.ErrSignatureMismatch)

		_, err = Verify(challengeURI, nym, segwitSig)
		assert.ErrorIs(t, err, core.ErrSignatureMismatch)
	})
}

func TestVerify_NonRecoverableSignatures(t *testing.T) {
	key := testKey(t)
	nym := compressedNym(key)
	hash := Digest(challengeURI)

	t.Run("der", func(t *testing.T) {
		der := ecdsa.Sign(key, hash).Serialize()
		_, err := Verify(challengeURI, nym, base64.StdEncoding.EncodeToString(der))
		assert.NoError(t, err)

		_, err = Verify("other", nym, base64.StdEncoding.EncodeToString(der))
		assert.ErrorIs(t, err, core.ErrSignatureMismatch)
	})

	t.Run("raw r||s", func(t *testing.T) {
		compact, err := Sign(challengeURI, key, true)
		require.NoError(t, err)
		rs := decode(t, compact)[1:]

		_, err = Verify(challengeURI, nym, base64.StdEncoding.EncodeToString(rs))
		assert.NoError(t, err)
	})

	t.Run("address nym needs recoverable signature", func(t *testing.T) {
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), &chaincfg.MainNetParams)
		require.NoError(t, err)
		der := ecdsa.Sign(key, hash).Serialize()

		_, err = Verify(challengeURI, addr.EncodeAddress(), base64.StdEncoding.EncodeToString(der))
		assert.ErrorIs(t, err, core.ErrInvalidSignatureEncoding)
	})
}

func TestVerify_SingleByteMutationFails(t *testing.T) {
	key := testKey(t)
	nym := compressedNym(key)
	sig, err := Sign(challengeURI, key, true)
	require.NoError(t, err)
	raw := decode(t, sig)

	for i := range raw {
		for _, flip := range []byte{0x01, 0x04, 0x80, 0xff} {
			mutated := append([]byte(nil), raw...)
			mutated[i] ^= flip

			_, err := Verify(challengeURI, nym, base64.StdEncoding.EncodeToString(mutated))
			assert.Error(t, err, "byte %d xor %#x verified", i, flip)
		}
	}
}

func TestVerify_Mismatch(t *testing.T) {
	key := testKey(t)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sig, err := Sign(challengeURI, key, true)
	require.NoError(t, err)

	_, err = Verify(challengeURI+"x", compressedNym(key), sig)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	_, err = Verify(challengeURI, compressedNym(other), sig)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	// A compressed nym never matches a signature flagged uncompressed.
	uncompressedSig, err := Sign(challengeURI, key, false)
	require.NoError(t, err)
	_, err = Verify(challengeURI, compressedNym(key), uncompressedSig)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)
}

func TestVerify_MalformedInput(t *testing.T) {
	key := testKey(t)
	nym := compressedNym(key)
	sig, err := Sign(challengeURI, key, true)
	require.NoError(t, err)

	p2shHeader := decode(t, sig)
	p2shHeader[0] = headerSegwitWrapped

	tests := []struct {
		name string
		nym  string
		sig  string
	}{
		{"empty nym", "", sig},
		{"non-hex nym", "zz-not-a-key", sig},
		{"short key", "02abcd", sig},
		{"point not on curve", "02" + strings.Repeat("ff", 32), sig},
		{"empty signature", nym, ""},
		{"garbage signature", nym, "!!!not base64!!!"},
		{"short signature", nym, base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4, 5})},
		{"p2sh-segwit header", nym, base64.StdEncoding.EncodeToString(p2shHeader)},
		{"zero r||s", nym, base64.StdEncoding.EncodeToString(make([]byte, 64))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := Verify(challengeURI, tt.nym, tt.sig)
				assert.ErrorIs(t, err, core.ErrInvalidSignatureEncoding)
			})
		})
	}
}

func TestVerifier(t *testing.T) {
	key := testKey(t)
	sig, err := Sign(challengeURI, key, true)
	require.NoError(t, err)

	id, err := NewVerifier().Verify(challengeURI, compressedNym(key), sig)
	require.NoError(t, err)
	assert.Equal(t, compressedNym(key), id)
}
