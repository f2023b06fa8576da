// pkg/secrets/bcrypt.go

package secrets

import (
	"context"
	"encoding/base64"

	cerr "github.com/cockroachdb/errors"
	"golang.org/x/crypto/bcrypt"
)

// EnsureBcrypt returns a bcrypt hash of password, reusing the one stored
// under key while it still matches. Stored hashes are base64 encoded so the
// credentials file never holds a bare '$'.
func (s *Store) EnsureBcrypt(ctx context.Context, key, password string) (string, error) {
	encoded, err := s.EnsureValue(ctx, key,
		func(v string) bool {
			hash, err := base64.StdEncoding.DecodeString(v)
			return err == nil && bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
		},
		func() (string, error) {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return "", cerr.Wrap(err, "failed to hash password")
			}
			return base64.StdEncoding.EncodeToString(hash), nil
		})
	if err != nil {
		return "", err
	}
	hash, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", cerr.Wrapf(err, "corrupt hash stored under %s", key)
	}
	return string(hash), nil
}
