// Package secrets generates service credentials, persists them in the
// owner-only credentials file and renders the broker's hashed password file.
package secrets

import (
	"crypto/rand"
	"math/big"

	cerr "github.com/cockroachdb/errors"
)

// DefaultPasswordLength is used when a credential is generated.
const DefaultPasswordLength = 32

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratePassword returns an n character alphanumeric password drawn from
// crypto/rand without modulo bias.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		return "", cerr.Newf("password length must be positive, got %d", n)
	}
	max := big.NewInt(int64(len(alphanumeric)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", cerr.Wrap(err, "failed to generate random bytes")
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}
