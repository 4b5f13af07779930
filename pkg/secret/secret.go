package secret

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmpty is returned when a shared secret is configured as an empty string.
var ErrEmpty = errors.New("secret must not be empty")

// Verifier compares candidate passwords against one configured shared secret.
// The secret may be given in plain text or as a bcrypt hash.
type Verifier struct {
	plain []byte
	hash  []byte
}

// New builds a Verifier for the configured value. Values carrying a bcrypt
// prefix ($2a$, $2b$, $2y$) are treated as hashes.
func New(configured string) (*Verifier, error) {
	if strings.TrimSpace(configured) == "" {
		return nil, ErrEmpty
	}
	if isBcrypt(configured) {
		if _, err := bcrypt.Cost([]byte(configured)); err != nil {
			return nil, err
		}
		return &Verifier{hash: []byte(configured)}, nil
	}
	return &Verifier{plain: []byte(configured)}, nil
}

// Match reports whether candidate equals the configured secret.
func (v *Verifier) Match(candidate string) bool {
	if v == nil {
		return false
	}
	if v.hash != nil {
		return bcrypt.CompareHashAndPassword(v.hash, []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare(v.plain, []byte(candidate)) == 1
}

func isBcrypt(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
