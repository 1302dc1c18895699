// Package protocol encodes challenges as auth47 URIs and reads them back out
// of signed messages.
package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bip47-showcase/auth47/core"
)

const (
	// Scheme is the URI scheme wallets recognise.
	Scheme = "auth47"

	// Version is the auth47_response value this server speaks.
	Version = "1.0.0"

	prefix = Scheme + "://"
)

var noncePattern = regexp.MustCompile(`^auth47://([0-9a-f]+)(?:\?|$)`)

// URI is the decoded form of a challenge URI.
type URI struct {
	Nonce       string
	CallbackURL string
	ExpiresAt   time.Time // zero when the e parameter is absent
}

// EncodeURI renders ch as auth47://<nonce>?c=<callback>&e=<unix seconds>.
// The callback is written verbatim; wallets sign the string byte for byte.
func EncodeURI(ch *core.Challenge) string {
	return fmt.Sprintf("%s%s?c=%s&e=%d", prefix, ch.Nonce, ch.CallbackURL, ch.ExpiresAt.Unix())
}

// ParseNonce extracts the nonce from a signed challenge URI.
func ParseNonce(message string) (string, error) {
	m := noncePattern.FindStringSubmatch(message)
	if m == nil {
		return "", fmt.Errorf("no %s nonce in signed message: %w", Scheme, core.ErrMalformedChallenge)
	}
	return m[1], nil
}

// ParseURI decodes every field of a challenge URI. The callback may itself
// contain query parameters, so c runs up to the last &e=.
func ParseURI(message string) (URI, error) {
	nonce, err := ParseNonce(message)
	if err != nil {
		return URI{}, err
	}

	u := URI{Nonce: nonce}
	query := strings.TrimPrefix(message, prefix+nonce)
	if query == "" {
		return u, nil
	}
	query = strings.TrimPrefix(query, "?")

	if i := strings.LastIndex(query, "&e="); i >= 0 {
		secs, err := strconv.ParseInt(query[i+len("&e="):], 10, 64)
		if err != nil {
			return URI{}, fmt.Errorf("bad expiry %q: %w", query[i+len("&e="):], core.ErrMalformedChallenge)
		}
		u.ExpiresAt = time.Unix(secs, 0)
		query = query[:i]
	}
	u.CallbackURL = strings.TrimPrefix(query, "c=")

	return u, nil
}
