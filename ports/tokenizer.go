package ports

import "github.com/bip47-showcase/auth47/core"

// Tokenizer converts between sessions and signed credentials
type Tokenizer interface {
	IssueSession(identity, username string) (string, *core.Session, error)
	ValidateSession(token string) (*core.Session, error)
}

// SignatureVerifier checks a signed message against a claimed identity and
// returns the identity in canonical form
type SignatureVerifier interface {
	Verify(message, nym, signature string) (string, error)
}
