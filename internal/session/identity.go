package session

import (
	"crypto/sha256"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
)

// DeriveIdentity turns a verified JWT's issuer and subject claims into
// the Identity a connecting client authenticates as. sha256 is a
// convenient fit here independent of its cryptographic properties: it
// happens to produce exactly the 32 bytes Identity's underlying u256
// needs, so no truncation or padding step is required.
func DeriveIdentity(issuer, subject string) algebraic.Identity {
	return algebraic.Identity(sha256.Sum256([]byte(issuer + "|" + subject)))
}
