// pkg/secrets/store.go

package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/fileops"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	// ErrCredentialNotFound indicates the credentials file has no entry for a service.
	ErrCredentialNotFound = errors.New("credential not found")
)

// Policy decides what Ensure does with a credential that already exists.
type Policy string

const (
	// PolicyPreserve keeps existing credentials so reruns do not lock out
	// clients already configured against the broker.
	PolicyPreserve Policy = "preserve"
	// PolicyRotate always generates a fresh password.
	PolicyRotate Policy = "rotate"
)

// PolicyFor maps the rotate flag onto a Policy.
func PolicyFor(rotate bool) Policy {
	if rotate {
		return PolicyRotate
	}
	return PolicyPreserve
}

// Credential is one service login.
type Credential struct {
	Service  string
	Username string
	Password string
}

// Store is the single key=value credentials file.
type Store struct {
	Path string

	mu sync.Mutex
}

// NewStore returns a store over path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

func userKey(service string) string {
	return strings.ToUpper(service) + "_USERNAME"
}

func passwordKey(service string) string {
	return strings.ToUpper(service) + "_PASSWORD"
}

// Load reads every entry. A missing file is an empty store.
func (s *Store) Load() (map[string]string, error) {
	values, err := godotenv.Read(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, cerr.Wrapf(err, "failed to read credentials file %s", s.Path)
	}
	return values, nil
}

// Save replaces the file atomically with owner-only permissions.
func (s *Store) Save(ctx context.Context, values map[string]string) error {
	content, err := godotenv.Marshal(values)
	if err != nil {
		return cerr.Wrap(err, "failed to encode credentials")
	}
	if _, err := fileops.WriteIfChanged(ctx, s.Path, []byte(content+"\n"), shared.FilePermOwnerReadWrite); err != nil {
		return hearth_err.NewConfigWriteError(s.Path, err)
	}
	return nil
}

// Lookup returns the stored credential for service.
func (s *Store) Lookup(service string) (*Credential, error) {
	values, err := s.Load()
	if err != nil {
		return nil, err
	}
	user, pass := values[userKey(service)], values[passwordKey(service)]
	if user == "" || pass == "" {
		return nil, cerr.Wrapf(ErrCredentialNotFound, "service %s", service)
	}
	return &Credential{Service: service, Username: user, Password: pass}, nil
}

// EnsureValue returns the value stored under key while keep accepts it, and
// otherwise stores and returns a fresh one from generate. A nil keep accepts
// any non-empty value. Used for derived material such as password hashes
// whose salt would otherwise change on every run.
func (s *Store) EnsureValue(ctx context.Context, key string, keep func(string) bool, generate func() (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.Load()
	if err != nil {
		return "", hearth_err.NewConfigWriteError(s.Path, err)
	}
	if v := values[key]; v != "" && (keep == nil || keep(v)) {
		return v, nil
	}

	v, err := generate()
	if err != nil {
		return "", err
	}
	values[key] = v
	if err := s.Save(ctx, values); err != nil {
		return "", err
	}
	otelzap.Ctx(ctx).Debug("Stored generated value", zap.String("key", key))
	return v, nil
}

// Ensure returns the credential for service, generating and persisting one
// when absent or when policy is PolicyRotate. The boolean reports whether a
// new password was written. The file is left at mode 0600 either way.
func (s *Store) Ensure(rc *hearth_io.RuntimeContext, service, username string, policy Policy) (*Credential, bool, error) {
	logger := otelzap.Ctx(rc.Ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.Load()
	if err != nil {
		return nil, false, hearth_err.NewConfigWriteError(s.Path, err)
	}

	if policy != PolicyRotate {
		if user, pass := values[userKey(service)], values[passwordKey(service)]; user == username && pass != "" {
			logger.Debug("Reusing existing credential", zap.String("service", service), zap.String("username", username))
			if err := os.Chmod(s.Path, shared.FilePermOwnerReadWrite); err != nil {
				return nil, false, hearth_err.NewConfigWriteError(s.Path, err)
			}
			return &Credential{Service: service, Username: user, Password: pass}, false, nil
		}
	}

	password, err := GeneratePassword(DefaultPasswordLength)
	if err != nil {
		return nil, false, err
	}
	values[userKey(service)] = username
	values[passwordKey(service)] = password

	if err := s.Save(rc.Ctx, values); err != nil {
		return nil, false, err
	}
	logger.Info("Generated credential",
		zap.String("service", service),
		zap.String("username", username),
		zap.String("policy", string(policy)),
		zap.String("file", s.Path))
	return &Credential{Service: service, Username: username, Password: password}, true, nil
}
