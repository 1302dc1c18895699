// Package names derives stable display names from wallet identities.
package names

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var prefixes = []string{
	"cypher", "crypto", "stealth", "node", "anon", "priv", "zero", "null",
	"dark", "shadow", "ghost", "matrix", "terminal", "binary", "hex", "quantum",
}

var suffixes = []string{
	"punk", "coder", "node", "agent", "runner", "ghost", "walker", "operator",
	"miner", "hacker", "dev", "tech", "wiz", "master", "ninja", "samurai",
}

const seedLen = 8

// Username maps a nym to "<prefix><suffix><nnn>". The seed is the first eight
// characters after a leading "PM8T"; when those are not hex, the seed comes
// from the SHA-256 of the nym instead, so the result is always stable.
func Username(nym string) string {
	seed := strings.TrimPrefix(nym, "PM8T")
	if len(seed) >= seedLen {
		seed = seed[:seedLen]
	}
	if name, ok := fromSeed(seed); ok {
		return name
	}

	digest := hex.EncodeToString(chainhash.HashB([]byte(nym)))
	name, _ := fromSeed(digest[:seedLen])
	return name
}

func fromSeed(seed string) (string, bool) {
	if len(seed) != seedLen {
		return "", false
	}

	p, err := strconv.ParseUint(seed[0:2], 16, 8)
	if err != nil {
		return "", false
	}
	s, err := strconv.ParseUint(seed[2:4], 16, 8)
	if err != nil {
		return "", false
	}
	n, err := strconv.ParseUint(seed[4:8], 16, 16)
	if err != nil {
		return "", false
	}

	return fmt.Sprintf("%s%s%03d", prefixes[int(p)%len(prefixes)], suffixes[int(s)%len(suffixes)], n%9999), true
}
